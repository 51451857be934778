package timeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ldi/sprintboard/pkg/models"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func created(at time.Time) models.HistoryEvent {
	return models.HistoryEvent{Action: models.ActionCreated, CreatedAt: at}
}

func moved(from, to string, at time.Time) models.HistoryEvent {
	return models.HistoryEvent{
		Action:    models.ActionStatusChanged,
		OldValue:  strPtr(from),
		NewValue:  strPtr(to),
		CreatedAt: at,
	}
}

func TestReconstructNilTask(t *testing.T) {
	if tl := Reconstruct(nil, []models.HistoryEvent{created(t0)}, t0); tl != nil {
		t.Errorf("expected nil timeline for nil task, got %+v", tl)
	}
}

func TestReconstructEmptyHistory(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusTodo, CreatedAt: t0}
	now := t0.Add(90 * time.Minute)

	tl := Reconstruct(task, nil, now)

	want := map[models.TaskStatus]time.Duration{models.TaskStatusTodo: 90 * time.Minute}
	if diff := cmp.Diff(want, tl.StatusDurations); diff != "" {
		t.Errorf("status durations mismatch (-want +got):\n%s", diff)
	}
	if tl.CurrentStep != tl.TotalElapsed {
		t.Errorf("expected current step %v to equal total %v", tl.CurrentStep, tl.TotalElapsed)
	}
	if !tl.LastStatusChange.Equal(t0) {
		t.Errorf("expected last status change %v, got %v", t0, tl.LastStatusChange)
	}
}

func TestReconstructIgnoresUnrelatedActions(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusTodo, CreatedAt: t0}
	now := t0.Add(time.Hour)
	events := []models.HistoryEvent{
		{Action: models.ActionAssigned, NewValue: strPtr("u1"), CreatedAt: t0.Add(time.Minute)},
		{Action: models.ActionCommentAdded, CreatedAt: t0.Add(2 * time.Minute)},
		{Action: models.ActionPriorityChanged, OldValue: strPtr("low"), NewValue: strPtr("high"), CreatedAt: t0.Add(3 * time.Minute)},
	}

	tl := Reconstruct(task, events, now)

	if got := tl.StatusDurations[models.TaskStatusTodo]; got != time.Hour {
		t.Errorf("expected todo 1h, got %v", got)
	}
	if len(tl.StatusDurations) != 1 {
		t.Errorf("expected only todo in map, got %v", tl.StatusDurations)
	}
}

func TestReconstructTransitions(t *testing.T) {
	t1 := t0.Add(2 * time.Hour)
	t2 := t1.Add(5 * time.Hour)
	t3 := t2.Add(30 * time.Minute)

	task := &models.Task{ID: "t1", Status: models.TaskStatusReview, CreatedAt: t0}
	events := []models.HistoryEvent{
		created(t0),
		moved("todo", "in_progress", t1),
		moved("in_progress", "review", t2),
	}

	tl := Reconstruct(task, events, t3)

	want := map[models.TaskStatus]time.Duration{
		models.TaskStatusTodo:       t1.Sub(t0),
		models.TaskStatusInProgress: t2.Sub(t1),
		models.TaskStatusReview:     t3.Sub(t2),
	}
	if diff := cmp.Diff(want, tl.StatusDurations); diff != "" {
		t.Errorf("status durations mismatch (-want +got):\n%s", diff)
	}
	if tl.CurrentStep != t3.Sub(t2) {
		t.Errorf("expected current step %v, got %v", t3.Sub(t2), tl.CurrentStep)
	}
	if !tl.LastStatusChange.Equal(t2) {
		t.Errorf("expected last status change %v, got %v", t2, tl.LastStatusChange)
	}
	if tl.TotalElapsed != t3.Sub(t0) {
		t.Errorf("expected total %v, got %v", t3.Sub(t0), tl.TotalElapsed)
	}
	if tl.Sum() != tl.TotalElapsed {
		t.Errorf("expected sum %v to equal total %v", tl.Sum(), tl.TotalElapsed)
	}
}

func TestReconstructRevisitedStatusAccumulates(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusInProgress, CreatedAt: t0}
	events := []models.HistoryEvent{
		created(t0),
		moved("todo", "in_progress", t0.Add(time.Hour)),
		moved("in_progress", "review", t0.Add(3*time.Hour)),
		moved("review", "in_progress", t0.Add(4*time.Hour)),
	}

	tl := Reconstruct(task, events, t0.Add(6*time.Hour))

	if got := tl.StatusDurations[models.TaskStatusInProgress]; got != 4*time.Hour {
		t.Errorf("expected in_progress 4h across two visits, got %v", got)
	}
	if got := tl.StatusDurations[models.TaskStatusReview]; got != time.Hour {
		t.Errorf("expected review 1h, got %v", got)
	}
}

func TestReconstructOnlyCreatedEvent(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusTodo, CreatedAt: t0}
	createdAt := t0.Add(time.Second)

	tl := Reconstruct(task, []models.HistoryEvent{created(createdAt)}, t0.Add(time.Hour))

	if !tl.LastStatusChange.Equal(t0) {
		t.Errorf("expected fallback to task creation %v, got %v", t0, tl.LastStatusChange)
	}
	if tl.CurrentStep != time.Hour-time.Second {
		t.Errorf("expected current step measured from created event, got %v", tl.CurrentStep)
	}
}

func TestReconstructMissingNewValueFallsBackToTodo(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusInProgress, CreatedAt: t0}
	events := []models.HistoryEvent{
		created(t0),
		{Action: models.ActionStatusChanged, OldValue: strPtr("todo"), CreatedAt: t0.Add(time.Hour)},
		moved("todo", "review", t0.Add(2*time.Hour)),
	}

	tl := Reconstruct(task, events, t0.Add(3*time.Hour))

	if got := tl.StatusDurations[models.TaskStatusTodo]; got != 2*time.Hour {
		t.Errorf("expected todo 2h including fallback interval, got %v", got)
	}
	if tl.MissingNewValues != 1 {
		t.Errorf("expected 1 missing new value, got %d", tl.MissingNewValues)
	}
	if tl.CurrentStatus != models.TaskStatusInProgress {
		t.Errorf("expected live status in_progress, got %s", tl.CurrentStatus)
	}
}

func TestReconstructClampsNegativeIntervals(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusInProgress, CreatedAt: t0}
	// An event stamped after "now" produces a negative final interval.
	events := []models.HistoryEvent{
		created(t0),
		moved("todo", "in_progress", t0.Add(2*time.Hour)),
	}

	tl := Reconstruct(task, events, t0.Add(time.Hour))

	if got := tl.StatusDurations[models.TaskStatusInProgress]; got != 0 {
		t.Errorf("expected clamped in_progress duration 0, got %v", got)
	}
	if got := tl.StatusDurations[models.TaskStatusTodo]; got != 2*time.Hour {
		t.Errorf("expected todo 2h, got %v", got)
	}
}

func TestReconstructStableTies(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusReview, CreatedAt: t0}
	tie := t0.Add(time.Hour)
	events := []models.HistoryEvent{
		created(t0),
		moved("todo", "in_progress", tie),
		moved("in_progress", "review", tie),
	}

	tl := Reconstruct(task, events, t0.Add(2*time.Hour))

	if got := tl.StatusDurations[models.TaskStatusInProgress]; got != 0 {
		t.Errorf("expected zero-length in_progress interval, got %v", got)
	}
	if got := tl.StatusDurations[models.TaskStatusReview]; got != time.Hour {
		t.Errorf("expected review 1h as the later tied event, got %v", got)
	}
}

func TestReconstructDoesNotMutateInput(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusReview, CreatedAt: t0}
	events := []models.HistoryEvent{
		moved("in_progress", "review", t0.Add(2*time.Hour)),
		created(t0),
	}
	before := append([]models.HistoryEvent(nil), events...)

	Reconstruct(task, events, t0.Add(3*time.Hour))

	if diff := cmp.Diff(before, events); diff != "" {
		t.Errorf("input events were reordered (-before +after):\n%s", diff)
	}
}

func TestShare(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusInProgress, CreatedAt: t0}
	events := []models.HistoryEvent{
		created(t0),
		moved("todo", "in_progress", t0.Add(time.Hour)),
	}

	tl := Reconstruct(task, events, t0.Add(4*time.Hour))

	if got := tl.Share(models.TaskStatusInProgress); got != 0.75 {
		t.Errorf("expected in_progress share 0.75, got %v", got)
	}
	if got := tl.Share(models.TaskStatusCompleted); got != 0 {
		t.Errorf("expected completed share 0, got %v", got)
	}
}

func TestTimelineMarshalJSON(t *testing.T) {
	task := &models.Task{ID: "t1", Status: models.TaskStatusInProgress, CreatedAt: t0}
	events := []models.HistoryEvent{
		created(t0),
		moved("todo", "in_progress", t0.Add(1500*time.Millisecond)),
	}

	tl := Reconstruct(task, events, t0.Add(4*time.Second))
	data, err := json.Marshal(tl)
	if err != nil {
		t.Fatalf("failed to marshal timeline: %v", err)
	}

	var got struct {
		TaskID            string           `json:"task_id"`
		TotalElapsedMS    int64            `json:"total_elapsed_ms"`
		CurrentStepMS     int64            `json:"current_step_ms"`
		StatusDurationsMS map[string]int64 `json:"status_durations_ms"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal timeline: %v", err)
	}

	if got.TotalElapsedMS != 4000 || got.CurrentStepMS != 2500 {
		t.Errorf("unexpected millisecond fields: %+v", got)
	}
	want := map[string]int64{"todo": 1500, "in_progress": 2500}
	if diff := cmp.Diff(want, got.StatusDurationsMS); diff != "" {
		t.Errorf("status_durations_ms mismatch (-want +got):\n%s", diff)
	}
}

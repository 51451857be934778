// Package metrics derives sprint and flow metrics from tasks and their
// history. Every function is pure; callers load the inputs.
package metrics

import (
	"slices"
	"time"

	"github.com/ldi/sprintboard/internal/timeline"
	"github.com/ldi/sprintboard/pkg/models"
)

const day = 24 * time.Hour

// statusAt returns the task's status at t according to its history, and
// false when the task did not exist yet. Tasks without status history fall
// back to their completion timestamp.
func statusAt(task *models.Task, events []models.HistoryEvent, t time.Time) (models.TaskStatus, bool) {
	if task.CreatedAt.After(t) {
		return "", false
	}

	status := models.TaskStatus("")
	for _, e := range sortedStatusEvents(events) {
		if e.CreatedAt.After(t) {
			break
		}
		status = eventStatus(e)
	}
	if status != "" {
		return status, true
	}

	if task.CompletedAt != nil && !task.CompletedAt.After(t) {
		return models.TaskStatusCompleted, true
	}
	if task.Status == models.TaskStatusCompleted && task.CompletedAt == nil {
		return models.TaskStatusCompleted, true
	}
	return models.TaskStatusTodo, true
}

func sortedStatusEvents(events []models.HistoryEvent) []models.HistoryEvent {
	out := make([]models.HistoryEvent, 0, len(events))
	for _, e := range events {
		if e.Action == models.ActionCreated || e.Action == models.ActionStatusChanged {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b models.HistoryEvent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

func eventStatus(e models.HistoryEvent) models.TaskStatus {
	if e.NewValue == nil || *e.NewValue == "" {
		return models.TaskStatusTodo
	}
	return models.TaskStatus(*e.NewValue)
}

func groupByTask(events []models.HistoryEvent) map[string][]models.HistoryEvent {
	grouped := make(map[string][]models.HistoryEvent)
	for _, e := range events {
		grouped[e.TaskID] = append(grouped[e.TaskID], e)
	}
	return grouped
}

// StatusBreakdown counts tasks per status. Every status is present.
func StatusBreakdown(tasks []*models.Task) map[models.TaskStatus]int {
	counts := make(map[models.TaskStatus]int, len(models.TaskStatuses))
	for _, s := range models.TaskStatuses {
		counts[s] = 0
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}

func median(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func mean(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

// averageTimeInStatus averages each status's share of the reconstructed
// timelines over all tasks.
func averageTimeInStatus(tasks []*models.Task, byTask map[string][]models.HistoryEvent, now time.Time) (map[models.TaskStatus]time.Duration, int) {
	totals := make(map[models.TaskStatus]time.Duration)
	missing := 0
	if len(tasks) == 0 {
		return totals, 0
	}
	for _, t := range tasks {
		tl := timeline.Reconstruct(t, byTask[t.ID], now)
		for status, d := range tl.StatusDurations {
			totals[status] += d
		}
		missing += tl.MissingNewValues
	}
	for status, d := range totals {
		totals[status] = d / time.Duration(len(tasks))
	}
	return totals, missing
}

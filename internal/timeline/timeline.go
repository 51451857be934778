// Package timeline reconstructs how long a task spent in each status from
// its append-only history log.
package timeline

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/ldi/sprintboard/pkg/models"
)

// Timeline is the derived timing state of a single task as of a moment.
// It is never persisted; callers recompute it from the full history.
type Timeline struct {
	TaskID        string
	CurrentStatus models.TaskStatus

	// TotalElapsed is now minus the task's creation time.
	TotalElapsed time.Duration
	// CurrentStep is the time since the latest status-affecting event.
	CurrentStep time.Duration
	// StatusDurations accumulates time attributed to each status.
	StatusDurations map[models.TaskStatus]time.Duration
	// LastStatusChange is the latest status transition, or the creation
	// time when the task never changed status.
	LastStatusChange time.Time

	// MissingNewValues counts status_changed events with no recorded new
	// value. Their intervals are attributed to todo.
	MissingNewValues int
}

// Reconstruct derives a task's timeline from its history. Events other than
// created and status_changed are ignored, and events need not be sorted.
// A nil task yields a nil timeline.
func Reconstruct(task *models.Task, events []models.HistoryEvent, now time.Time) *Timeline {
	if task == nil {
		return nil
	}

	tl := &Timeline{
		TaskID:          task.ID,
		CurrentStatus:   task.Status,
		TotalElapsed:    now.Sub(task.CreatedAt),
		StatusDurations: make(map[models.TaskStatus]time.Duration),
	}

	relevant := make([]models.HistoryEvent, 0, len(events))
	for _, e := range events {
		if e.Action == models.ActionCreated || e.Action == models.ActionStatusChanged {
			relevant = append(relevant, e)
		}
	}

	if len(relevant) == 0 {
		tl.CurrentStep = tl.TotalElapsed
		tl.StatusDurations[models.TaskStatusTodo] = tl.TotalElapsed
		tl.LastStatusChange = task.CreatedAt
		return tl
	}

	// Ties keep input order; there is no sequence number to break them.
	slices.SortStableFunc(relevant, func(a, b models.HistoryEvent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	for i, e := range relevant {
		end := now
		if i+1 < len(relevant) {
			end = relevant[i+1].CreatedAt
		}

		status := tl.statusOf(e)
		d := end.Sub(e.CreatedAt)
		if d < 0 {
			d = 0
		}
		tl.StatusDurations[status] += d
	}

	last := relevant[len(relevant)-1]
	tl.CurrentStep = now.Sub(last.CreatedAt)
	if last.Action == models.ActionStatusChanged {
		tl.LastStatusChange = last.CreatedAt
	} else {
		tl.LastStatusChange = task.CreatedAt
	}

	return tl
}

func (tl *Timeline) statusOf(e models.HistoryEvent) models.TaskStatus {
	if e.Action == models.ActionCreated {
		return models.TaskStatusTodo
	}
	if e.NewValue == nil || *e.NewValue == "" {
		tl.MissingNewValues++
		return models.TaskStatusTodo
	}
	return models.TaskStatus(*e.NewValue)
}

// Sum returns the total of all status durations.
func (tl *Timeline) Sum() time.Duration {
	var total time.Duration
	for _, d := range tl.StatusDurations {
		total += d
	}
	return total
}

// Share returns the fraction of the accumulated time spent in status.
func (tl *Timeline) Share(status models.TaskStatus) float64 {
	sum := tl.Sum()
	if sum <= 0 {
		return 0
	}
	return float64(tl.StatusDurations[status]) / float64(sum)
}

type timelineJSON struct {
	TaskID            string                      `json:"task_id"`
	CurrentStatus     models.TaskStatus           `json:"current_status"`
	TotalElapsedMS    int64                       `json:"total_elapsed_ms"`
	CurrentStepMS     int64                       `json:"current_step_ms"`
	StatusDurationsMS map[models.TaskStatus]int64 `json:"status_durations_ms"`
	LastStatusChange  time.Time                   `json:"last_status_change"`
	MissingNewValues  int                         `json:"missing_new_values,omitempty"`
}

// MarshalJSON encodes durations as integer milliseconds.
func (tl *Timeline) MarshalJSON() ([]byte, error) {
	durations := make(map[models.TaskStatus]int64, len(tl.StatusDurations))
	for status, d := range tl.StatusDurations {
		durations[status] = d.Milliseconds()
	}
	return json.Marshal(timelineJSON{
		TaskID:            tl.TaskID,
		CurrentStatus:     tl.CurrentStatus,
		TotalElapsedMS:    tl.TotalElapsed.Milliseconds(),
		CurrentStepMS:     tl.CurrentStep.Milliseconds(),
		StatusDurationsMS: durations,
		LastStatusChange:  tl.LastStatusChange,
		MissingNewValues:  tl.MissingNewValues,
	})
}

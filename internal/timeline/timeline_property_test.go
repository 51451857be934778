package timeline

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ldi/sprintboard/pkg/models"
	"pgregory.net/rapid"
)

// genHistory draws a created event at the task's creation time followed by
// status transitions at non-decreasing offsets, and returns the moment
// "now" that lies at or after the last event.
func genHistory(rt *rapid.T) (*models.Task, []models.HistoryEvent, time.Time) {
	statuses := []string{"todo", "in_progress", "review", "completed"}
	task := &models.Task{ID: "task", Status: models.TaskStatusTodo, CreatedAt: t0}

	events := []models.HistoryEvent{created(t0)}
	at := t0
	prev := "todo"
	n := rapid.IntRange(0, 12).Draw(rt, "transitions")
	for i := 0; i < n; i++ {
		at = at.Add(time.Duration(rapid.IntRange(0, 72*60).Draw(rt, fmt.Sprintf("gap_%d", i))) * time.Minute)
		next := rapid.SampledFrom(statuses).Draw(rt, fmt.Sprintf("status_%d", i))
		events = append(events, moved(prev, next, at))
		prev = next
	}
	task.Status = models.TaskStatus(prev)

	now := at.Add(time.Duration(rapid.IntRange(0, 10_000).Draw(rt, "tail")) * time.Second)
	return task, events, now
}

func TestPropertyDurationsSumToTotal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task, events, now := genHistory(rt)

		tl := Reconstruct(task, events, now)

		if tl.Sum() != tl.TotalElapsed {
			rt.Errorf("sum %v != total %v", tl.Sum(), tl.TotalElapsed)
		}
	})
}

func TestPropertyOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task, events, now := genHistory(rt)

		// Distinct timestamps only: equal timestamps are resolved by input
		// order, so shuffling them is allowed to change the result.
		seen := make(map[time.Time]bool)
		for _, e := range events {
			if seen[e.CreatedAt] {
				return
			}
			seen[e.CreatedAt] = true
		}

		shuffled := slices.Clone(events)
		perm := rapid.Permutation(shuffled).Draw(rt, "perm")

		sorted := Reconstruct(task, events, now)
		unsorted := Reconstruct(task, perm, now)

		if diff := cmp.Diff(sorted, unsorted); diff != "" {
			rt.Errorf("shuffled history changed result (-sorted +shuffled):\n%s", diff)
		}
	})
}

func TestPropertyCurrentStepBoundedByTotal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		task, events, now := genHistory(rt)

		tl := Reconstruct(task, events, now)

		if tl.CurrentStep < 0 || tl.CurrentStep > tl.TotalElapsed {
			rt.Errorf("current step %v outside [0, %v]", tl.CurrentStep, tl.TotalElapsed)
		}
		if tl.LastStatusChange.Before(task.CreatedAt) {
			rt.Errorf("last status change %v before creation %v", tl.LastStatusChange, task.CreatedAt)
		}
	})
}

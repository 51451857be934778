package metrics

import (
	"slices"

	"github.com/ldi/sprintboard/pkg/models"
)

// RollingWindow is the number of sprints averaged by Velocity.
const RollingWindow = 3

type SprintVelocity struct {
	SprintID       string  `json:"sprint_id"`
	Name           string  `json:"name"`
	Committed      int     `json:"committed"`
	Completed      int     `json:"completed"`
	RollingAverage float64 `json:"rolling_average"`
}

type VelocityReport struct {
	Sprints []SprintVelocity `json:"sprints"`
	Average float64          `json:"average"`
}

// Velocity reports committed and completed points for each completed sprint
// in start order. A task counts as completed when it was completed at the
// sprint's end.
func Velocity(sprints []*models.Sprint, tasks []*models.Task, history []models.HistoryEvent) VelocityReport {
	done := make([]*models.Sprint, 0, len(sprints))
	for _, s := range sprints {
		if s.Status == models.SprintStatusCompleted {
			done = append(done, s)
		}
	}
	slices.SortStableFunc(done, func(a, b *models.Sprint) int {
		return a.StartDate.Compare(b.StartDate)
	})

	bySprint := make(map[string][]*models.Task)
	for _, t := range tasks {
		if t.SprintID != nil {
			bySprint[*t.SprintID] = append(bySprint[*t.SprintID], t)
		}
	}
	byTask := groupByTask(history)

	report := VelocityReport{Sprints: []SprintVelocity{}}
	sum := 0
	for i, s := range done {
		v := SprintVelocity{SprintID: s.ID, Name: s.Name}
		for _, t := range bySprint[s.ID] {
			v.Committed += t.Points()
			if status, ok := statusAt(t, byTask[t.ID], s.EndDate); ok && status == models.TaskStatusCompleted {
				v.Completed += t.Points()
			}
		}

		from := max(0, i+1-RollingWindow)
		window := 0
		for _, prev := range report.Sprints[from:] {
			window += prev.Completed
		}
		window += v.Completed
		v.RollingAverage = float64(window) / float64(i+1-from)

		sum += v.Completed
		report.Sprints = append(report.Sprints, v)
	}
	if len(done) > 0 {
		report.Average = float64(sum) / float64(len(done))
	}
	return report
}

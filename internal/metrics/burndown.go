package metrics

import (
	"time"

	"github.com/ldi/sprintboard/pkg/models"
)

// BurndownPoint is the state of a sprint at the end of one calendar day.
type BurndownPoint struct {
	Date      time.Time `json:"date"`
	Remaining int       `json:"remaining"`
	Ideal     float64   `json:"ideal"`
}

// Burndown returns one point per UTC calendar day from the sprint's start
// to the earlier of its end and now. Remaining counts the story points of
// sprint tasks that existed and were not completed at the end of that day;
// unestimated tasks count 1. Ideal falls linearly from the sprint's total
// to zero on the last day.
func Burndown(sprint *models.Sprint, tasks []*models.Task, history []models.HistoryEvent, now time.Time) []BurndownPoint {
	if sprint == nil {
		return nil
	}

	var scoped []*models.Task
	total := 0
	for _, t := range tasks {
		if t.SprintID != nil && *t.SprintID == sprint.ID {
			scoped = append(scoped, t)
			total += t.Points()
		}
	}
	byTask := groupByTask(history)

	first := truncateDay(sprint.StartDate)
	last := truncateDay(sprint.EndDate)
	span := int(last.Sub(first)/day) + 1
	stop := last
	if today := truncateDay(now); today.Before(stop) {
		stop = today
	}

	var points []BurndownPoint
	for i, d := 0, first; !d.After(stop); i, d = i+1, d.Add(day) {
		endOfDay := d.Add(day - time.Nanosecond)
		if endOfDay.After(now) {
			endOfDay = now
		}

		remaining := 0
		for _, t := range scoped {
			status, exists := statusAt(t, byTask[t.ID], endOfDay)
			if exists && status != models.TaskStatusCompleted {
				remaining += t.Points()
			}
		}

		ideal := 0.0
		if span > 1 {
			ideal = float64(total) * (1 - float64(i)/float64(span-1))
		}
		points = append(points, BurndownPoint{Date: d, Remaining: remaining, Ideal: ideal})
	}
	return points
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

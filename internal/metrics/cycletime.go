package metrics

import (
	"encoding/json"
	"time"

	"github.com/ldi/sprintboard/pkg/models"
)

// TaskCycle is the flow timing of one completed task.
type TaskCycle struct {
	TaskID string
	// Cycle runs from the first move into in_progress to the last move into
	// completed. It is zero when the task never entered in_progress.
	Cycle    time.Duration
	HasCycle bool
	// Lead runs from creation to the last move into completed.
	Lead time.Duration
}

type CycleReport struct {
	Tasks           []TaskCycle
	AverageCycle    time.Duration
	MedianCycle     time.Duration
	AverageLead     time.Duration
	MedianLead      time.Duration
	AvgTimeInStatus map[models.TaskStatus]time.Duration
	// MissingNewValues is the number of status events attributed to todo
	// because they had no recorded new value.
	MissingNewValues int
}

// CycleTime measures completed tasks and averages the time every task spent
// in each status.
func CycleTime(tasks []*models.Task, history []models.HistoryEvent, now time.Time) CycleReport {
	byTask := groupByTask(history)
	report := CycleReport{Tasks: []TaskCycle{}}

	var cycles, leads []time.Duration
	for _, t := range tasks {
		if t.Status != models.TaskStatusCompleted {
			continue
		}

		var started, completed time.Time
		for _, e := range sortedStatusEvents(byTask[t.ID]) {
			if e.Action != models.ActionStatusChanged {
				continue
			}
			switch eventStatus(e) {
			case models.TaskStatusInProgress:
				if started.IsZero() {
					started = e.CreatedAt
				}
			case models.TaskStatusCompleted:
				completed = e.CreatedAt
			}
		}
		if completed.IsZero() {
			if t.CompletedAt == nil {
				continue
			}
			completed = *t.CompletedAt
		}

		tc := TaskCycle{TaskID: t.ID, Lead: max(0, completed.Sub(t.CreatedAt))}
		leads = append(leads, tc.Lead)
		if !started.IsZero() && !started.After(completed) {
			tc.Cycle = completed.Sub(started)
			tc.HasCycle = true
			cycles = append(cycles, tc.Cycle)
		}
		report.Tasks = append(report.Tasks, tc)
	}

	report.AverageCycle = mean(cycles)
	report.MedianCycle = median(cycles)
	report.AverageLead = mean(leads)
	report.MedianLead = median(leads)
	report.AvgTimeInStatus, report.MissingNewValues = averageTimeInStatus(tasks, byTask, now)
	return report
}

type taskCycleJSON struct {
	TaskID  string `json:"task_id"`
	CycleMS *int64 `json:"cycle_ms"`
	LeadMS  int64  `json:"lead_ms"`
}

type cycleReportJSON struct {
	Tasks             []taskCycleJSON             `json:"tasks"`
	AverageCycleMS    int64                       `json:"average_cycle_ms"`
	MedianCycleMS     int64                       `json:"median_cycle_ms"`
	AverageLeadMS     int64                       `json:"average_lead_ms"`
	MedianLeadMS      int64                       `json:"median_lead_ms"`
	AvgTimeInStatusMS map[models.TaskStatus]int64 `json:"avg_time_in_status_ms"`
	MissingNewValues  int                         `json:"missing_new_values,omitempty"`
}

// MarshalJSON encodes durations as integer milliseconds.
func (r CycleReport) MarshalJSON() ([]byte, error) {
	out := cycleReportJSON{
		Tasks:             make([]taskCycleJSON, 0, len(r.Tasks)),
		AverageCycleMS:    r.AverageCycle.Milliseconds(),
		MedianCycleMS:     r.MedianCycle.Milliseconds(),
		AverageLeadMS:     r.AverageLead.Milliseconds(),
		MedianLeadMS:      r.MedianLead.Milliseconds(),
		AvgTimeInStatusMS: make(map[models.TaskStatus]int64, len(r.AvgTimeInStatus)),
		MissingNewValues:  r.MissingNewValues,
	}
	for _, tc := range r.Tasks {
		j := taskCycleJSON{TaskID: tc.TaskID, LeadMS: tc.Lead.Milliseconds()}
		if tc.HasCycle {
			ms := tc.Cycle.Milliseconds()
			j.CycleMS = &ms
		}
		out.Tasks = append(out.Tasks, j)
	}
	for status, d := range r.AvgTimeInStatus {
		out.AvgTimeInStatusMS[status] = d.Milliseconds()
	}
	return json.Marshal(out)
}

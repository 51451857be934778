package tracker

import (
	"context"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/metrics"
	"github.com/ldi/sprintboard/internal/timeline"
	"github.com/ldi/sprintboard/pkg/models"
)

// Timeline reconstructs how long a task has spent in each status.
func (tr *Tracker) Timeline(ctx context.Context, actorID, taskID string) (*timeline.Timeline, error) {
	task, _, err := tr.authorizeTask(ctx, actorID, taskID, access.ActionView)
	if err != nil {
		return nil, err
	}
	events, err := tr.db.ListTaskHistory(ctx, taskID)
	if err != nil {
		return nil, err
	}

	tl := timeline.Reconstruct(task, events, tr.now())
	if tl.MissingNewValues > 0 {
		tr.logger.Warn("status change without new value attributed to todo",
			"task", taskID, "events", tl.MissingNewValues)
	}
	return tl, nil
}

func (tr *Tracker) Burndown(ctx context.Context, actorID, sprintID string) ([]metrics.BurndownPoint, error) {
	sprint, _, err := tr.authorizeSprint(ctx, actorID, sprintID, access.ActionView)
	if err != nil {
		return nil, err
	}
	tasks, err := tr.db.ListTasks(ctx, db.TaskFilter{SprintID: &sprintID})
	if err != nil {
		return nil, err
	}
	history, err := tr.db.ListProjectHistory(ctx, sprint.ProjectID, models.ActionCreated, models.ActionStatusChanged)
	if err != nil {
		return nil, err
	}
	return metrics.Burndown(sprint, tasks, history, tr.now()), nil
}

func (tr *Tracker) Velocity(ctx context.Context, actorID, projectID string) (metrics.VelocityReport, error) {
	if _, err := tr.authorizeProject(ctx, actorID, projectID, access.ActionView); err != nil {
		return metrics.VelocityReport{}, err
	}
	sprints, err := tr.db.ListSprints(ctx, projectID)
	if err != nil {
		return metrics.VelocityReport{}, err
	}
	tasks, history, err := tr.projectData(ctx, projectID)
	if err != nil {
		return metrics.VelocityReport{}, err
	}
	return metrics.Velocity(sprints, tasks, history), nil
}

func (tr *Tracker) CycleTime(ctx context.Context, actorID, projectID string) (metrics.CycleReport, error) {
	if _, err := tr.authorizeProject(ctx, actorID, projectID, access.ActionView); err != nil {
		return metrics.CycleReport{}, err
	}
	tasks, history, err := tr.projectData(ctx, projectID)
	if err != nil {
		return metrics.CycleReport{}, err
	}

	report := metrics.CycleTime(tasks, history, tr.now())
	if report.MissingNewValues > 0 {
		tr.logger.Warn("status change without new value attributed to todo",
			"project", projectID, "events", report.MissingNewValues)
	}
	return report, nil
}

func (tr *Tracker) projectData(ctx context.Context, projectID string) ([]*models.Task, []models.HistoryEvent, error) {
	tasks, err := tr.db.ListTasks(ctx, db.TaskFilter{ProjectID: &projectID})
	if err != nil {
		return nil, nil, err
	}
	history, err := tr.db.ListProjectHistory(ctx, projectID, models.ActionCreated, models.ActionStatusChanged)
	if err != nil {
		return nil, nil, err
	}
	return tasks, history, nil
}

// Board is a project's board: the active sprint's tasks laid out by status,
// or every task in the project when no sprint is running.
type Board struct {
	Project *models.Project `json:"project"`
	Sprint  *models.Sprint  `json:"sprint,omitempty"`
	Columns []BoardColumn   `json:"columns"`
}

type BoardColumn struct {
	db.ColumnLoad
	Tasks []*models.Task `json:"tasks"`
}

func (tr *Tracker) Board(ctx context.Context, actorID, projectID string) (*Board, error) {
	p, err := tr.authorizeProject(ctx, actorID, projectID, access.ActionView)
	if err != nil {
		return nil, err
	}
	sprint, err := tr.db.GetActiveSprint(ctx, projectID)
	if err != nil {
		return nil, err
	}

	f := db.TaskFilter{ProjectID: &projectID}
	var sprintID *string
	if sprint != nil {
		sprintID = &sprint.ID
		f.SprintID = sprintID
	}
	tasks, err := tr.db.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	loads, err := tr.db.BoardLoad(ctx, projectID, sprintID)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[models.TaskStatus][]*models.Task)
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	board := &Board{Project: p, Sprint: sprint}
	for _, l := range loads {
		column := byStatus[l.Status]
		if column == nil {
			column = []*models.Task{}
		}
		board.Columns = append(board.Columns, BoardColumn{ColumnLoad: l, Tasks: column})
	}
	return board, nil
}

// Summary counts tasks per status across the projects the actor can see.
type Summary struct {
	Projects int                       `json:"projects"`
	Tasks    int                       `json:"tasks"`
	ByStatus map[models.TaskStatus]int `json:"by_status"`
	Unread   int                       `json:"unread_notifications"`
}

func (tr *Tracker) Summary(ctx context.Context, actorID string) (*Summary, error) {
	projects, err := tr.ListProjects(ctx, actorID, nil)
	if err != nil {
		return nil, err
	}
	tasks, err := tr.ListTasks(ctx, actorID, db.TaskFilter{})
	if err != nil {
		return nil, err
	}
	unread, err := tr.db.ListNotifications(ctx, actorID, true)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Projects: len(projects),
		Tasks:    len(tasks),
		ByStatus: metrics.StatusBreakdown(tasks),
		Unread:   len(unread),
	}, nil
}

package tracker

import (
	"context"
	"fmt"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/pkg/models"
)

// WIPWarning reports a board column holding more tasks than its limit.
type WIPWarning struct {
	Status models.TaskStatus `json:"status"`
	Count  int               `json:"count"`
	Limit  int               `json:"limit"`
}

func (w *WIPWarning) String() string {
	return fmt.Sprintf("%s column holds %d tasks, over its WIP limit of %d", w.Status, w.Count, w.Limit)
}

// StatusChange is the outcome of ChangeStatus.
type StatusChange struct {
	Task    *models.Task      `json:"task"`
	From    models.TaskStatus `json:"from"`
	Changed bool              `json:"changed"`
	Warning *WIPWarning       `json:"warning,omitempty"`
}

func (tr *Tracker) GetTask(ctx context.Context, actorID, id string) (*models.Task, error) {
	t, _, err := tr.authorizeTask(ctx, actorID, id, access.ActionView)
	return t, err
}

// ListTasks lists tasks matching f. Without a project filter the result
// covers every project the actor can see.
func (tr *Tracker) ListTasks(ctx context.Context, actorID string, f db.TaskFilter) ([]*models.Task, error) {
	if f.ProjectID != nil {
		if _, err := tr.authorizeProject(ctx, actorID, *f.ProjectID, access.ActionView); err != nil {
			return nil, err
		}
		return tr.db.ListTasks(ctx, f)
	}

	projects, err := tr.ListProjects(ctx, actorID, nil)
	if err != nil {
		return nil, err
	}
	var tasks []*models.Task
	for _, p := range projects {
		f.ProjectID = &p.ID
		ts, err := tr.db.ListTasks(ctx, f)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, ts...)
	}
	return tasks, nil
}

// CreateTask records a new task reported by the actor.
func (tr *Tracker) CreateTask(ctx context.Context, actorID string, t *models.Task) error {
	p, err := tr.authorizeProject(ctx, actorID, t.ProjectID, access.ActionEditTask)
	if err != nil {
		return err
	}
	if t.AssigneeID != nil {
		if err := tr.checkAssignee(ctx, p.WorkspaceID, *t.AssigneeID); err != nil {
			return err
		}
	}

	t.ReporterID = actorID
	if err := tr.db.CreateTask(ctx, t); err != nil {
		return err
	}
	t.ProjectKey = p.Key

	if t.AssigneeID != nil {
		tr.notify.TaskAssigned(ctx, t, actorID)
	}
	return nil
}

// UpdateTask saves the editable fields of t. Status, assignee and sprint
// have their own operations.
func (tr *Tracker) UpdateTask(ctx context.Context, actorID string, t *models.Task) error {
	if _, _, err := tr.authorizeTask(ctx, actorID, t.ID, access.ActionEditTask); err != nil {
		return err
	}
	return tr.db.UpdateTask(ctx, actorID, t)
}

// ChangeStatus moves a task to a new status. Moving a task into a column
// already at its WIP limit succeeds with a warning.
func (tr *Tracker) ChangeStatus(ctx context.Context, actorID, id string, status models.TaskStatus) (*StatusChange, error) {
	if _, _, err := tr.authorizeTask(ctx, actorID, id, access.ActionEditTask); err != nil {
		return nil, err
	}

	from, err := tr.db.UpdateTaskStatus(ctx, actorID, id, status)
	if err != nil {
		return nil, err
	}
	task, err := tr.db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &StatusChange{Task: task, From: from, Changed: from != status}
	if !res.Changed {
		return res, nil
	}

	tr.notify.StatusChanged(ctx, task, actorID, from, status)

	loads, err := tr.db.BoardLoad(ctx, task.ProjectID, task.SprintID)
	if err != nil {
		tr.logger.Warn("wip check skipped", "task", id, "error", err)
		return res, nil
	}
	for _, l := range loads {
		if l.Status == status && l.Exceeded {
			res.Warning = &WIPWarning{Status: status, Count: l.Count, Limit: l.WIPLimit}
			tr.logger.Info("wip limit exceeded", "project", task.ProjectID, "status", status, "count", l.Count, "limit", l.WIPLimit)
		}
	}
	return res, nil
}

// Assign sets or clears a task's assignee.
func (tr *Tracker) Assign(ctx context.Context, actorID, id string, assigneeID *string) (*models.Task, error) {
	_, p, err := tr.authorizeTask(ctx, actorID, id, access.ActionEditTask)
	if err != nil {
		return nil, err
	}
	if assigneeID != nil {
		if err := tr.checkAssignee(ctx, p.WorkspaceID, *assigneeID); err != nil {
			return nil, err
		}
	}

	prev, err := tr.db.AssignTask(ctx, actorID, id, assigneeID)
	if err != nil {
		return nil, err
	}
	task, err := tr.db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if assigneeID != nil && (prev == nil || *prev != *assigneeID) {
		tr.notify.TaskAssigned(ctx, task, actorID)
	}
	return task, nil
}

func (tr *Tracker) checkAssignee(ctx context.Context, workspaceID, userID string) error {
	m, err := tr.db.GetMember(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s is not a workspace member", ErrInvalidAssignee, userID)
	}
	return nil
}

// MoveToSprint plans a task into a sprint, or back to the backlog when
// sprintID is nil.
func (tr *Tracker) MoveToSprint(ctx context.Context, actorID, id string, sprintID *string) error {
	if _, _, err := tr.authorizeTask(ctx, actorID, id, access.ActionManageSprint); err != nil {
		return err
	}
	return tr.db.MoveTaskToSprint(ctx, id, sprintID)
}

func (tr *Tracker) DeleteTask(ctx context.Context, actorID, id string) error {
	if _, _, err := tr.authorizeTask(ctx, actorID, id, access.ActionEditTask); err != nil {
		return err
	}
	return tr.db.DeleteTask(ctx, actorID, id)
}

// AddComment stores a comment by the actor and notifies mentioned users and
// the assignee.
func (tr *Tracker) AddComment(ctx context.Context, actorID, taskID, body string) (*models.Comment, []*models.Notification, error) {
	task, p, err := tr.authorizeTask(ctx, actorID, taskID, access.ActionComment)
	if err != nil {
		return nil, nil, err
	}

	c := &models.Comment{TaskID: taskID, AuthorID: actorID, Body: body}
	if err := tr.db.AddComment(ctx, c); err != nil {
		return nil, nil, err
	}
	task.ProjectKey = p.Key
	return c, tr.notify.CommentAdded(ctx, task, c), nil
}

func (tr *Tracker) Comments(ctx context.Context, actorID, taskID string) ([]*models.Comment, error) {
	if _, _, err := tr.authorizeTask(ctx, actorID, taskID, access.ActionView); err != nil {
		return nil, err
	}
	return tr.db.ListComments(ctx, taskID)
}

func (tr *Tracker) History(ctx context.Context, actorID, taskID string) ([]models.HistoryEvent, error) {
	if _, _, err := tr.authorizeTask(ctx, actorID, taskID, access.ActionView); err != nil {
		return nil, err
	}
	return tr.db.ListTaskHistory(ctx, taskID)
}

// Block records that taskID waits on blockedByID. Both tasks must live in
// the same project.
func (tr *Tracker) Block(ctx context.Context, actorID, taskID, blockedByID string) error {
	task, _, err := tr.authorizeTask(ctx, actorID, taskID, access.ActionEditTask)
	if err != nil {
		return err
	}
	other, err := tr.db.GetTask(ctx, blockedByID)
	if err != nil {
		return err
	}
	if other == nil || other.ProjectID != task.ProjectID {
		return fmt.Errorf("blocking task %s: %w", blockedByID, db.ErrNotFound)
	}
	return tr.db.CreateBlocker(ctx, taskID, blockedByID)
}

func (tr *Tracker) Unblock(ctx context.Context, actorID, taskID, blockedByID string) error {
	if _, _, err := tr.authorizeTask(ctx, actorID, taskID, access.ActionEditTask); err != nil {
		return err
	}
	return tr.db.DeleteBlocker(ctx, taskID, blockedByID)
}

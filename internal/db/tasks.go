package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

// TaskFilter narrows ListTasks. Nil fields are not filtered on.
type TaskFilter struct {
	ProjectID  *string
	SprintID   *string
	Backlog    bool
	Status     *models.TaskStatus
	AssigneeID *string
}

const taskColumns = `
	t.id, t.project_id, t.sprint_id, t.title, t.description, t.status, t.priority,
	t.assignee_id, t.reporter_id, t.story_points, t.due_date, t.position,
	t.created_at, t.updated_at, t.completed_at, p.key
`

const taskFrom = `
	FROM tasks t
	JOIN projects p ON p.id = t.project_id
`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.SprintID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.AssigneeID, &t.ReporterID, &t.StoryPoints, &t.DueDate, &t.Position,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.ProjectKey,
	)
	return t, err
}

// CreateTask inserts a new task and records its created event.
// If t.ID is empty, a new UUID is generated.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return db.createTask(ctx, tx, t)
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "tasks", t.ID)
	return nil
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusTodo
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w status: %s", ErrInvalid, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w priority: %s", ErrInvalid, t.Priority)
	}

	now := db.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.CompletedAt = nil
	if t.Status == models.TaskStatusCompleted {
		t.CompletedAt = &now
	}

	query := `
		INSERT INTO tasks (
			id, project_id, sprint_id, title, description, status, priority,
			assignee_id, reporter_id, story_points, due_date, position,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := exec.ExecContext(ctx, query,
		t.ID, t.ProjectID, t.SprintID, t.Title, t.Description, t.Status, t.Priority,
		t.AssigneeID, t.ReporterID, t.StoryPoints, utcPtr(t.DueDate), t.Position,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	status := string(t.Status)
	if err := db.appendHistory(ctx, exec, t.ID, t.ReporterID, models.ActionCreated, nil, &status); err != nil {
		return err
	}
	if t.AssigneeID != nil {
		if err := db.appendHistory(ctx, exec, t.ID, t.ReporterID, models.ActionAssigned, nil, t.AssigneeID); err != nil {
			return err
		}
	}
	return nil
}

// GetTask retrieves a task by its ID. It returns nil when there is no such task.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return db.getTask(ctx, db.DB, id)
}

func (db *DB) getTask(ctx context.Context, exec executor, id string) (*models.Task, error) {
	t, err := scanTask(exec.QueryRowContext(ctx, `SELECT `+taskColumns+taskFrom+` WHERE t.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks matching the filter ordered by board position.
func (db *DB) ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + taskFrom + ` WHERE 1=1`
	args := []any{}

	if f.ProjectID != nil {
		query += " AND t.project_id = ?"
		args = append(args, *f.ProjectID)
	}
	if f.SprintID != nil {
		query += " AND t.sprint_id = ?"
		args = append(args, *f.SprintID)
	}
	if f.Backlog {
		query += " AND t.sprint_id IS NULL"
	}
	if f.Status != nil {
		query += " AND t.status = ?"
		args = append(args, *f.Status)
	}
	if f.AssigneeID != nil {
		query += " AND t.assignee_id = ?"
		args = append(args, *f.AssigneeID)
	}

	query += " ORDER BY t.position ASC, t.created_at ASC"

	return db.queryTasks(ctx, query, args...)
}

// queryTasks is a helper to execute a query that returns a list of tasks.
func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// UpdateTask saves the editable fields of a task and records a history event
// for every field that changed. Status and assignee have their own methods
// and are not written here.
func (db *DB) UpdateTask(ctx context.Context, actorID string, t *models.Task) error {
	if !t.Priority.Valid() {
		return fmt.Errorf("%w priority: %s", ErrInvalid, t.Priority)
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := db.getTask(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
		}

		t.UpdatedAt = db.now()
		query := `
			UPDATE tasks
			SET title = ?, description = ?, priority = ?, story_points = ?, due_date = ?, position = ?, updated_at = ?
			WHERE id = ?
		`
		_, err = tx.ExecContext(ctx, query,
			t.Title, t.Description, t.Priority, t.StoryPoints, utcPtr(t.DueDate), t.Position, t.UpdatedAt, t.ID)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		if current.Title != t.Title {
			if err := db.appendHistory(ctx, tx, t.ID, actorID, models.ActionTitleChanged, &current.Title, &t.Title); err != nil {
				return err
			}
		}
		if current.Description != t.Description {
			if err := db.appendHistory(ctx, tx, t.ID, actorID, models.ActionDescriptionChanged, &current.Description, &t.Description); err != nil {
				return err
			}
		}
		if current.Priority != t.Priority {
			from, to := string(current.Priority), string(t.Priority)
			if err := db.appendHistory(ctx, tx, t.ID, actorID, models.ActionPriorityChanged, &from, &to); err != nil {
				return err
			}
		}
		if !sameTime(current.DueDate, t.DueDate) {
			if err := db.appendHistory(ctx, tx, t.ID, actorID, models.ActionDueDateChanged, formatTime(current.DueDate), formatTime(t.DueDate)); err != nil {
				return err
			}
		}

		t.Status = current.Status
		t.AssigneeID = current.AssigneeID
		t.SprintID = current.SprintID
		t.CreatedAt = current.CreatedAt
		t.CompletedAt = current.CompletedAt
		return nil
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "tasks", t.ID)
	return nil
}

// UpdateTaskStatus moves a task to a new status and returns the previous one.
// Moving to the current status is a no-op and records nothing. A task cannot
// be completed while one of its blockers is unfinished.
func (db *DB) UpdateTaskStatus(ctx context.Context, actorID, id string, status models.TaskStatus) (models.TaskStatus, error) {
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	var from models.TaskStatus
	changed := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := db.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		from = current.Status
		if from == status {
			return nil
		}

		if status == models.TaskStatusCompleted {
			open, err := db.countOpenBlockers(ctx, tx, id)
			if err != nil {
				return err
			}
			if open > 0 {
				return fmt.Errorf("%w: task is blocked by %d unfinished task(s)", ErrInvalidTransition, open)
			}
		}

		now := db.now()
		var completedAt *time.Time
		if status == models.TaskStatusCompleted {
			completedAt = &now
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			status, completedAt, now, id)
		if err != nil {
			return fmt.Errorf("failed to update task status: %w", err)
		}

		old, next := string(from), string(status)
		if err := db.appendHistory(ctx, tx, id, actorID, models.ActionStatusChanged, &old, &next); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return "", err
	}

	if changed {
		db.triggerChange(ctx, "tasks", id)
	}
	return from, nil
}

// AssignTask sets or clears a task's assignee and returns the previous one.
func (db *DB) AssignTask(ctx context.Context, actorID, id string, assigneeID *string) (*string, error) {
	var previous *string
	changed := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := db.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		previous = current.AssigneeID
		if sameString(previous, assigneeID) {
			return nil
		}

		_, err = tx.ExecContext(ctx, `UPDATE tasks SET assignee_id = ?, updated_at = ? WHERE id = ?`, assigneeID, db.now(), id)
		if err != nil {
			return fmt.Errorf("failed to assign task: %w", err)
		}

		if assigneeID == nil {
			err = db.appendHistory(ctx, tx, id, actorID, models.ActionUnassigned, previous, nil)
		} else {
			err = db.appendHistory(ctx, tx, id, actorID, models.ActionAssigned, previous, assigneeID)
		}
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		db.triggerChange(ctx, "tasks", id)
	}
	return previous, nil
}

// MoveTaskToSprint plans a task into a sprint, or back to the backlog when
// sprintID is nil.
func (db *DB) MoveTaskToSprint(ctx context.Context, id string, sprintID *string) error {
	if err := db.moveTaskToSprint(ctx, db.DB, id, sprintID); err != nil {
		return err
	}
	db.triggerChange(ctx, "tasks", id)
	return nil
}

func (db *DB) moveTaskToSprint(ctx context.Context, exec executor, id string, sprintID *string) error {
	if sprintID != nil {
		var sameProject int
		err := exec.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM tasks t JOIN sprints s ON s.project_id = t.project_id
			WHERE t.id = ? AND s.id = ?
		`, id, *sprintID).Scan(&sameProject)
		if err != nil {
			return fmt.Errorf("failed to check sprint project: %w", err)
		}
		if sameProject == 0 {
			return fmt.Errorf("task %s and sprint %s are not in the same project: %w", id, *sprintID, ErrNotFound)
		}
	}

	res, err := exec.ExecContext(ctx, `UPDATE tasks SET sprint_id = ?, updated_at = ? WHERE id = ?`, sprintID, db.now(), id)
	if err != nil {
		return fmt.Errorf("failed to move task: %w", err)
	}
	return expectRows(res, "task", id)
}

// DeleteTask deletes a task. The deleted event stays in the history log.
func (db *DB) DeleteTask(ctx context.Context, actorID, id string) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var title string
		err := tx.QueryRowContext(ctx, `SELECT title FROM tasks WHERE id = ?`, id).Scan(&title)
		if err == sql.ErrNoRows {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get task: %w", err)
		}

		if err := db.appendHistory(ctx, tx, id, actorID, models.ActionDeleted, &title, nil); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "tasks", id)
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

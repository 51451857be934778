package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// appendHistory writes one history event. History is never updated or
// deleted; the schema enforces that with triggers.
func (db *DB) appendHistory(ctx context.Context, exec executor, taskID, actorID string, action models.HistoryAction, oldValue, newValue *string) error {
	query := `
		INSERT INTO task_history (id, task_id, actor_id, action, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := exec.ExecContext(ctx, query,
		uuid.New().String(), taskID, nullable(actorID), action, oldValue, newValue, db.now())
	if err != nil {
		return fmt.Errorf("failed to append %s history: %w", action, err)
	}
	return nil
}

const historyColumns = `h.id, h.task_id, h.actor_id, h.action, h.old_value, h.new_value, h.created_at`

// ListTaskHistory returns a task's events oldest first. Rows written in the
// same instant keep insertion order.
func (db *DB) ListTaskHistory(ctx context.Context, taskID string) ([]models.HistoryEvent, error) {
	query := `SELECT ` + historyColumns + ` FROM task_history h WHERE h.task_id = ? ORDER BY h.created_at ASC, h.rowid ASC`
	return db.queryHistory(ctx, query, taskID)
}

// ListProjectHistory returns the events of all live tasks in a project,
// optionally restricted to the given actions.
func (db *DB) ListProjectHistory(ctx context.Context, projectID string, actions ...models.HistoryAction) ([]models.HistoryEvent, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM task_history h
		JOIN tasks t ON t.id = h.task_id
		WHERE t.project_id = ?
	`
	args := []any{projectID}
	if len(actions) > 0 {
		query += " AND h.action IN (?" + strings.Repeat(", ?", len(actions)-1) + ")"
		for _, a := range actions {
			args = append(args, a)
		}
	}
	query += " ORDER BY h.created_at ASC, h.rowid ASC"
	return db.queryHistory(ctx, query, args...)
}

func (db *DB) queryHistory(ctx context.Context, query string, args ...any) ([]models.HistoryEvent, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var events []models.HistoryEvent
	for rows.Next() {
		var e models.HistoryEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.ActorID, &e.Action, &e.OldValue, &e.NewValue, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

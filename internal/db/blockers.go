package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldi/sprintboard/pkg/models"
)

// ErrBlockerCycle is returned when a new blocker would make a task wait on itself.
var ErrBlockerCycle = errors.New("blocker would create a cycle")

func (db *DB) CreateBlocker(ctx context.Context, taskID, blockedByTaskID string) error {
	if err := db.createBlocker(ctx, db.DB, taskID, blockedByTaskID); err != nil {
		return err
	}
	db.triggerChange(ctx, "blockers", taskID)
	return nil
}

func (db *DB) createBlocker(ctx context.Context, exec executor, taskID, blockedByTaskID string) error {
	if taskID == blockedByTaskID {
		return ErrBlockerCycle
	}

	// blockedBy must not already (transitively) wait on taskID.
	var cycles int
	err := exec.QueryRowContext(ctx, `
		WITH RECURSIVE chain(id) AS (
			SELECT blocked_by_task_id FROM blockers WHERE task_id = ?
			UNION
			SELECT b.blocked_by_task_id FROM blockers b JOIN chain c ON b.task_id = c.id
		)
		SELECT COUNT(*) FROM chain WHERE id = ?
	`, blockedByTaskID, taskID).Scan(&cycles)
	if err != nil {
		return fmt.Errorf("failed to check blocker cycle: %w", err)
	}
	if cycles > 0 {
		return ErrBlockerCycle
	}

	query := `INSERT INTO blockers (task_id, blocked_by_task_id) VALUES (?, ?)`
	if _, err := exec.ExecContext(ctx, query, taskID, blockedByTaskID); err != nil {
		return fmt.Errorf("failed to create blocker: %w", err)
	}
	return nil
}

func (db *DB) DeleteBlocker(ctx context.Context, taskID, blockedByTaskID string) error {
	query := `DELETE FROM blockers WHERE task_id = ? AND blocked_by_task_id = ?`
	res, err := db.ExecContext(ctx, query, taskID, blockedByTaskID)
	if err != nil {
		return fmt.Errorf("failed to delete blocker: %w", err)
	}
	if err := expectRows(res, "blocker", taskID+" -> "+blockedByTaskID); err != nil {
		return err
	}

	db.triggerChange(ctx, "blockers", taskID)
	return nil
}

// GetBlockers returns the tasks that taskID is waiting on.
func (db *DB) GetBlockers(ctx context.Context, taskID string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + taskFrom + `
		JOIN blockers b ON t.id = b.blocked_by_task_id
		WHERE b.task_id = ?
		ORDER BY t.position ASC, t.created_at ASC
	`
	return db.queryTasks(ctx, query, taskID)
}

// GetBlocked returns the tasks waiting on taskID.
func (db *DB) GetBlocked(ctx context.Context, taskID string) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + taskFrom + `
		JOIN blockers b ON t.id = b.task_id
		WHERE b.blocked_by_task_id = ?
		ORDER BY t.position ASC, t.created_at ASC
	`
	return db.queryTasks(ctx, query, taskID)
}

func (db *DB) ListBlockers(ctx context.Context) ([]models.Blocker, error) {
	rows, err := db.QueryContext(ctx, `SELECT task_id, blocked_by_task_id FROM blockers ORDER BY task_id, blocked_by_task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blockers: %w", err)
	}
	defer rows.Close()

	var blockers []models.Blocker
	for rows.Next() {
		var b models.Blocker
		if err := rows.Scan(&b.TaskID, &b.BlockedByTaskID); err != nil {
			return nil, fmt.Errorf("failed to scan blocker: %w", err)
		}
		blockers = append(blockers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return blockers, nil
}

func (db *DB) countOpenBlockers(ctx context.Context, exec executor, taskID string) (int, error) {
	var n int
	err := exec.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM blockers b
		JOIN tasks t ON t.id = b.blocked_by_task_id
		WHERE b.task_id = ? AND t.status != 'completed'
	`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count blockers: %w", err)
	}
	return n, nil
}

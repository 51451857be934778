package db

import (
	"context"
	"fmt"

	"github.com/ldi/sprintboard/pkg/models"
)

// ColumnLoad is a board column with the number of tasks currently in it.
type ColumnLoad struct {
	models.BoardColumn
	Count    int  `json:"count"`
	Exceeded bool `json:"exceeded"`
}

func (db *DB) ListBoardColumns(ctx context.Context, projectID string) ([]*models.BoardColumn, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT project_id, status, position, wip_limit
		FROM board_columns
		WHERE project_id = ?
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list board columns: %w", err)
	}
	defer rows.Close()

	var columns []*models.BoardColumn
	for rows.Next() {
		c := &models.BoardColumn{}
		if err := rows.Scan(&c.ProjectID, &c.Status, &c.Position, &c.WIPLimit); err != nil {
			return nil, fmt.Errorf("failed to scan board column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return columns, nil
}

// GetWIPLimit returns the WIP limit of a status lane; 0 means unlimited.
func (db *DB) GetWIPLimit(ctx context.Context, projectID string, status models.TaskStatus) (int, error) {
	var limit int
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT wip_limit FROM board_columns WHERE project_id = ? AND status = ?), 0)`,
		projectID, status).Scan(&limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get wip limit: %w", err)
	}
	return limit, nil
}

func (db *DB) SetWIPLimit(ctx context.Context, projectID string, status models.TaskStatus, limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w wip limit: must not be negative", ErrInvalid)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE board_columns SET wip_limit = ? WHERE project_id = ? AND status = ?`, limit, projectID, status)
	if err != nil {
		return fmt.Errorf("failed to set wip limit: %w", err)
	}
	if err := expectRows(res, "board column", string(status)); err != nil {
		return err
	}
	db.triggerChange(ctx, "board_columns", projectID)
	return nil
}

// BoardLoad reports each column's task count against its WIP limit. When
// sprintID is set only that sprint's tasks are counted.
func (db *DB) BoardLoad(ctx context.Context, projectID string, sprintID *string) ([]ColumnLoad, error) {
	columns, err := db.ListBoardColumns(ctx, projectID)
	if err != nil {
		return nil, err
	}

	query := `SELECT status, COUNT(*) FROM tasks WHERE project_id = ?`
	args := []any{projectID}
	if sprintID != nil {
		query += " AND sprint_id = ?"
		args = append(args, *sprintID)
	}
	query += " GROUP BY status"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	loads := make([]ColumnLoad, 0, len(columns))
	for _, c := range columns {
		n := counts[c.Status]
		loads = append(loads, ColumnLoad{
			BoardColumn: *c,
			Count:       n,
			Exceeded:    c.WIPLimit > 0 && n > c.WIPLimit,
		})
	}
	return loads, nil
}

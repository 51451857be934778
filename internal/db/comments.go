package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

// AddComment stores a comment and records a comment_added event on the task.
func (db *DB) AddComment(ctx context.Context, c *models.Comment) error {
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w comment: body is required", ErrInvalid)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := db.now()
	c.CreatedAt, c.UpdatedAt = now, now

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO comments (id, task_id, author_id, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query, c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("failed to add comment: %w", err)
		}
		return db.appendHistory(ctx, tx, c.TaskID, c.AuthorID, models.ActionCommentAdded, nil, &c.ID)
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "comments", c.ID)
	return nil
}

// ListComments returns a task's comments oldest first with author names filled in.
func (db *DB) ListComments(ctx context.Context, taskID string) ([]*models.Comment, error) {
	query := `
		SELECT c.id, c.task_id, c.author_id, c.body, c.created_at, c.updated_at, u.full_name
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.task_id = ?
		ORDER BY c.created_at ASC, c.rowid ASC
	`
	rows, err := db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt, &c.AuthorName); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return comments, nil
}

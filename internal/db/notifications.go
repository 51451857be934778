package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = db.now()

	query := `
		INSERT INTO notifications (id, user_id, actor_id, type, task_id, comment_id, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		n.ID, n.UserID, n.ActorID, n.Type, n.TaskID, n.CommentID, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	db.triggerChange(ctx, "notifications", n.ID)
	return nil
}

// ListNotifications returns a user's notifications newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]*models.Notification, error) {
	query := `
		SELECT id, user_id, actor_id, type, task_id, comment_id, message, read, created_at
		FROM notifications
		WHERE user_id = ?
	`
	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.ActorID, &n.Type, &n.TaskID, &n.CommentID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks one of userID's notifications as read.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if err := expectRows(res, "notification", id); err != nil {
		return err
	}
	db.triggerChange(ctx, "notifications", id)
	return nil
}

// MarkAllNotificationsRead returns how many notifications were updated.
func (db *DB) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		db.triggerChange(ctx, "notifications", userID)
	}
	return n, nil
}

package models

import "time"

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// AuthorName is a helper field for joined queries
	AuthorName string `json:"author_name,omitempty"`
}

type NotificationType string

const (
	NotificationMention      NotificationType = "mention"
	NotificationAssignment   NotificationType = "assignment"
	NotificationComment      NotificationType = "comment"
	NotificationInvitation   NotificationType = "invitation"
	NotificationStatusChange NotificationType = "status_change"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	ActorID   *string          `json:"actor_id"`
	Type      NotificationType `json:"type"`
	TaskID    *string          `json:"task_id"`
	CommentID *string          `json:"comment_id"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

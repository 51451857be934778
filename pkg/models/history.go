package models

import "time"

type HistoryAction string

const (
	ActionCreated            HistoryAction = "created"
	ActionStatusChanged      HistoryAction = "status_changed"
	ActionAssigned           HistoryAction = "assigned"
	ActionUnassigned         HistoryAction = "unassigned"
	ActionPriorityChanged    HistoryAction = "priority_changed"
	ActionDueDateChanged     HistoryAction = "due_date_changed"
	ActionTitleChanged       HistoryAction = "title_changed"
	ActionDescriptionChanged HistoryAction = "description_changed"
	ActionCommentAdded       HistoryAction = "comment_added"
	ActionDeleted            HistoryAction = "deleted"
)

// HistoryEvent is one append-only record of an action taken on a task.
type HistoryEvent struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	ActorID   *string       `json:"actor_id"`
	Action    HistoryAction `json:"action"`
	OldValue  *string       `json:"old_value"`
	NewValue  *string       `json:"new_value"`
	CreatedAt time.Time     `json:"created_at"`
}

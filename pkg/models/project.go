package models

import "time"

type Project struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SprintStatus string

const (
	SprintStatusPlanned   SprintStatus = "planned"
	SprintStatusActive    SprintStatus = "active"
	SprintStatusCompleted SprintStatus = "completed"
)

type Sprint struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	Name      string       `json:"name"`
	Goal      string       `json:"goal"`
	Status    SprintStatus `json:"status"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	CreatedAt time.Time    `json:"created_at"`
}

// BoardColumn is a status lane on a project board. A zero WIPLimit means
// the lane is unlimited.
type BoardColumn struct {
	ProjectID string     `json:"project_id"`
	Status    TaskStatus `json:"status"`
	Position  int        `json:"position"`
	WIPLimit  int        `json:"wip_limit"`
}

// Blocker links a task to another task that must finish first.
type Blocker struct {
	TaskID          string `json:"task_id"`
	BlockedByTaskID string `json:"blocked_by_task_id"`
}

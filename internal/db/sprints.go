package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

func (db *DB) CreateSprint(ctx context.Context, s *models.Sprint) error {
	if err := db.createSprint(ctx, db.DB, s); err != nil {
		return err
	}
	db.triggerChange(ctx, "sprints", s.ID)
	return nil
}

func (db *DB) createSprint(ctx context.Context, exec executor, s *models.Sprint) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = models.SprintStatusPlanned
	}
	if s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("%w sprint %s: ends before it starts", ErrInvalid, s.Name)
	}
	s.CreatedAt = db.now()

	query := `
		INSERT INTO sprints (id, project_id, name, goal, status, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := exec.ExecContext(ctx, query,
		s.ID, s.ProjectID, s.Name, s.Goal, s.Status, s.StartDate.UTC(), s.EndDate.UTC(), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sprint: %w", err)
	}
	return nil
}

const sprintColumns = `id, project_id, name, goal, status, start_date, end_date, created_at`

func scanSprint(row interface{ Scan(...any) error }) (*models.Sprint, error) {
	s := &models.Sprint{}
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Goal, &s.Status, &s.StartDate, &s.EndDate, &s.CreatedAt)
	return s, err
}

func (db *DB) GetSprint(ctx context.Context, id string) (*models.Sprint, error) {
	s, err := scanSprint(db.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sprint: %w", err)
	}
	return s, nil
}

// ListSprints returns a project's sprints ordered by start date.
func (db *DB) ListSprints(ctx context.Context, projectID string) ([]*models.Sprint, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE project_id = ? ORDER BY start_date ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sprints: %w", err)
	}
	defer rows.Close()

	var sprints []*models.Sprint
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sprint: %w", err)
		}
		sprints = append(sprints, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return sprints, nil
}

// GetActiveSprint returns the project's active sprint, or nil.
func (db *DB) GetActiveSprint(ctx context.Context, projectID string) (*models.Sprint, error) {
	query := `SELECT ` + sprintColumns + ` FROM sprints WHERE project_id = ? AND status = 'active' LIMIT 1`
	s, err := scanSprint(db.QueryRowContext(ctx, query, projectID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active sprint: %w", err)
	}
	return s, nil
}

// StartSprint activates a planned sprint. A project has at most one active sprint.
func (db *DB) StartSprint(ctx context.Context, id string) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var projectID string
		var status models.SprintStatus
		err := tx.QueryRowContext(ctx, `SELECT project_id, status FROM sprints WHERE id = ?`, id).Scan(&projectID, &status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("sprint %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get sprint: %w", err)
		}
		if status != models.SprintStatusPlanned {
			return fmt.Errorf("%w: sprint %s is %s, not planned", ErrInvalidTransition, id, status)
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sprints WHERE project_id = ? AND status = 'active'`, projectID).Scan(&active); err != nil {
			return fmt.Errorf("failed to count active sprints: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("%w: project already has an active sprint", ErrInvalidTransition)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE sprints SET status = 'active' WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to start sprint: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.triggerChange(ctx, "sprints", id)
	return nil
}

// CompleteSprint closes an active sprint and returns its unfinished tasks to
// the backlog.
func (db *DB) CompleteSprint(ctx context.Context, id string) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sprints SET status = 'completed' WHERE id = ? AND status = 'active'`, id)
		if err != nil {
			return fmt.Errorf("failed to complete sprint: %w", err)
		}
		if err := expectRows(res, "active sprint", id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET sprint_id = NULL, updated_at = ? WHERE sprint_id = ? AND status != 'completed'`,
			db.now(), id)
		if err != nil {
			return fmt.Errorf("failed to return unfinished tasks to backlog: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	db.triggerChange(ctx, "sprints", id)
	return nil
}

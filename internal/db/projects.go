package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

// CreateProject inserts a project and its default board columns.
func (db *DB) CreateProject(ctx context.Context, p *models.Project) error {
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		return db.createProject(ctx, tx, p)
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "projects", p.ID)
	return nil
}

func (db *DB) createProject(ctx context.Context, exec executor, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Key = strings.ToUpper(strings.TrimSpace(p.Key))
	now := db.now()
	p.CreatedAt, p.UpdatedAt = now, now

	query := `
		INSERT INTO projects (id, workspace_id, key, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := exec.ExecContext(ctx, query, p.ID, p.WorkspaceID, p.Key, p.Name, p.Description, now, now); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	for i, status := range models.TaskStatuses {
		_, err := exec.ExecContext(ctx,
			`INSERT INTO board_columns (project_id, status, position, wip_limit) VALUES (?, ?, ?, 0)`,
			p.ID, status, i)
		if err != nil {
			return fmt.Errorf("failed to create board column %s: %w", status, err)
		}
	}
	return nil
}

const projectColumns = `id, workspace_id, key, name, description, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Key, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (db *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetProjectByKey retrieves a project by its key within a workspace.
func (db *DB) GetProjectByKey(ctx context.Context, workspaceID, key string) (*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE workspace_id = ? AND key = ?`
	p, err := scanProject(db.QueryRowContext(ctx, query, workspaceID, strings.ToUpper(key)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project by key: %w", err)
	}
	return p, nil
}

// ListProjects returns projects, optionally restricted to one workspace.
func (db *DB) ListProjects(ctx context.Context, workspaceID *string) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE 1=1`
	args := []any{}
	if workspaceID != nil {
		query += " AND workspace_id = ?"
		args = append(args, *workspaceID)
	}
	query += " ORDER BY key ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return projects, nil
}

func (db *DB) UpdateProject(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = db.now()
	res, err := db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if err := expectRows(res, "project", p.ID); err != nil {
		return err
	}
	db.triggerChange(ctx, "projects", p.ID)
	return nil
}

// DeleteProject deletes a project with its sprints, tasks and board.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if err := expectRows(res, "project", id); err != nil {
		return err
	}
	db.triggerChange(ctx, "projects", id)
	return nil
}

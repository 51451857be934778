package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

// CreateUser inserts a user. If u.ID is empty, a new UUID is generated.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	if err := db.createUser(ctx, db.DB, u); err != nil {
		return err
	}
	db.triggerChange(ctx, "users", u.ID)
	return nil
}

func (db *DB) createUser(ctx context.Context, exec executor, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.CreatedAt = db.now()

	query := `INSERT INTO users (id, email, full_name, created_at) VALUES (?, ?, ?, ?)`
	if _, err := exec.ExecContext(ctx, query, u.ID, u.Email, u.FullName, u.CreatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	return db.getUser(ctx, `WHERE id = ?`, id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, `WHERE email = ? COLLATE NOCASE`, email)
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	u := &models.User{}
	err := db.QueryRowContext(ctx, `SELECT id, email, full_name, created_at FROM users `+where, arg).
		Scan(&u.ID, &u.Email, &u.FullName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// CreateWorkspace inserts a workspace and makes its owner an owner member.
func (db *DB) CreateWorkspace(ctx context.Context, w *models.Workspace) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := db.now()
	w.CreatedAt, w.UpdatedAt = now, now

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO workspaces (id, name, slug, owner_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query, w.ID, w.Name, w.Slug, w.OwnerID, now, now); err != nil {
			return fmt.Errorf("failed to create workspace: %w", err)
		}
		return db.addMember(ctx, tx, w.ID, w.OwnerID, models.RoleOwner)
	})
	if err != nil {
		return err
	}

	db.triggerChange(ctx, "workspaces", w.ID)
	return nil
}

const workspaceColumns = `id, name, slug, owner_id, created_at, updated_at`

func scanWorkspace(row interface{ Scan(...any) error }) (*models.Workspace, error) {
	w := &models.Workspace{}
	err := row.Scan(&w.ID, &w.Name, &w.Slug, &w.OwnerID, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (db *DB) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	w, err := scanWorkspace(db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return w, nil
}

func (db *DB) GetWorkspaceBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	w, err := scanWorkspace(db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE slug = ?`, slug))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace by slug: %w", err)
	}
	return w, nil
}

// ListWorkspacesForUser returns the workspaces the user is a member of.
func (db *DB) ListWorkspacesForUser(ctx context.Context, userID string) ([]*models.Workspace, error) {
	query := `
		SELECT w.id, w.name, w.slug, w.owner_id, w.created_at, w.updated_at
		FROM workspaces w
		JOIN members m ON m.workspace_id = w.id
		WHERE m.user_id = ?
		ORDER BY w.name ASC
	`
	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*models.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return workspaces, nil
}

func (db *DB) addMember(ctx context.Context, exec executor, workspaceID, userID string, role models.Role) error {
	query := `
		INSERT INTO members (workspace_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role
	`
	if _, err := exec.ExecContext(ctx, query, workspaceID, userID, role, db.now()); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// AddMember adds a user to a workspace, or updates the role of an existing member.
func (db *DB) AddMember(ctx context.Context, workspaceID, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w role: %s", ErrInvalid, role)
	}
	if err := db.addMember(ctx, db.DB, workspaceID, userID, role); err != nil {
		return err
	}
	db.triggerChange(ctx, "members", userID)
	return nil
}

func (db *DB) UpdateMemberRole(ctx context.Context, workspaceID, userID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w role: %s", ErrInvalid, role)
	}
	res, err := db.ExecContext(ctx, `UPDATE members SET role = ? WHERE workspace_id = ? AND user_id = ?`, role, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if err := expectRows(res, "member", userID); err != nil {
		return err
	}
	db.triggerChange(ctx, "members", userID)
	return nil
}

func (db *DB) RemoveMember(ctx context.Context, workspaceID, userID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM members WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if err := expectRows(res, "member", userID); err != nil {
		return err
	}
	db.triggerChange(ctx, "members", userID)
	return nil
}

const memberQuery = `
	SELECT m.workspace_id, m.user_id, m.role, m.joined_at, u.full_name, u.email
	FROM members m
	JOIN users u ON u.id = m.user_id
`

// GetMember returns the membership of a user in a workspace, or nil.
func (db *DB) GetMember(ctx context.Context, workspaceID, userID string) (*models.Member, error) {
	m := &models.Member{}
	err := db.QueryRowContext(ctx, memberQuery+` WHERE m.workspace_id = ? AND m.user_id = ?`, workspaceID, userID).
		Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt, &m.FullName, &m.Email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

func (db *DB) ListMembers(ctx context.Context, workspaceID string) ([]*models.Member, error) {
	rows, err := db.QueryContext(ctx, memberQuery+` WHERE m.workspace_id = ? ORDER BY u.full_name ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m := &models.Member{}
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt, &m.FullName, &m.Email); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return members, nil
}

// ListMemberUsers returns the users of a workspace, for mention matching.
func (db *DB) ListMemberUsers(ctx context.Context, workspaceID string) ([]models.User, error) {
	members, err := db.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(members))
	for _, m := range members {
		users = append(users, m.User())
	}
	return users, nil
}

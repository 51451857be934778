package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ldi/sprintboard/pkg/models"
)

// DefaultInvitationTTL is how long an invitation stays acceptable.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// CreateInvitation records a pending invitation. The token and expiry are
// generated when empty.
func (db *DB) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	if inv.Role == models.RoleOwner || !inv.Role.Valid() {
		return fmt.Errorf("%w invitation role: %s", ErrInvalid, inv.Role)
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Token == "" {
		inv.Token = uuid.New().String()
	}
	now := db.now()
	if inv.ExpiresAt.IsZero() {
		inv.ExpiresAt = now.Add(DefaultInvitationTTL)
	}
	inv.Email = strings.ToLower(strings.TrimSpace(inv.Email))
	inv.Status = models.InvitationPending
	inv.CreatedAt = now

	query := `
		INSERT INTO invitations (id, workspace_id, email, role, token, status, invited_by, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		inv.ID, inv.WorkspaceID, inv.Email, inv.Role, inv.Token, inv.Status, inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	db.triggerChange(ctx, "invitations", inv.ID)
	return nil
}

const invitationColumns = `id, workspace_id, email, role, token, status, invited_by, expires_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (*models.Invitation, error) {
	inv := &models.Invitation{}
	err := row.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.Role, &inv.Token, &inv.Status,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt)
	return inv, err
}

func (db *DB) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := scanInvitation(db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token = ?`, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns a workspace's invitations, optionally filtered by status.
func (db *DB) ListInvitations(ctx context.Context, workspaceID string, status *models.InvitationStatus) ([]*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE workspace_id = ?`
	args := []any{workspaceID}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return invitations, nil
}

// AcceptInvitation adds the user to the invitation's workspace. The user's
// email must match the invitation.
func (db *DB) AcceptInvitation(ctx context.Context, token, userID string) (*models.Invitation, error) {
	var inv *models.Invitation
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		inv, err = scanInvitation(tx.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token = ?`, token))
		if err == sql.ErrNoRows {
			return fmt.Errorf("invitation: %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}
		if inv.Status != models.InvitationPending {
			return ErrInvitationClosed
		}

		now := db.now()
		if now.After(inv.ExpiresAt) {
			if _, err := tx.ExecContext(ctx, `UPDATE invitations SET status = 'expired' WHERE id = ?`, inv.ID); err != nil {
				return fmt.Errorf("failed to expire invitation: %w", err)
			}
			inv.Status = models.InvitationExpired
			// The expiry must persist even though the caller gets an error.
			return nil
		}

		var email string
		if err := tx.QueryRowContext(ctx, `SELECT email FROM users WHERE id = ?`, userID).Scan(&email); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("user %s: %w", userID, ErrNotFound)
			}
			return fmt.Errorf("failed to get user: %w", err)
		}
		if !strings.EqualFold(email, inv.Email) {
			return fmt.Errorf("%w: invitation was sent to %s", ErrInvalid, inv.Email)
		}

		if err := db.addMember(ctx, tx, inv.WorkspaceID, userID, inv.Role); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE invitations SET status = 'accepted' WHERE id = ?`, inv.ID); err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		inv.Status = models.InvitationAccepted
		return nil
	})
	if err != nil {
		return nil, err
	}

	db.triggerChange(ctx, "invitations", inv.ID)
	if inv.Status == models.InvitationExpired {
		return inv, ErrInvitationExpired
	}
	return inv, nil
}

// DeclineInvitation marks a pending invitation declined.
func (db *DB) DeclineInvitation(ctx context.Context, token string) error {
	return db.closeInvitation(ctx, `token = ?`, token, models.InvitationDeclined)
}

// RevokeInvitation marks a pending invitation revoked.
func (db *DB) RevokeInvitation(ctx context.Context, id string) error {
	return db.closeInvitation(ctx, `id = ?`, id, models.InvitationRevoked)
}

func (db *DB) closeInvitation(ctx context.Context, where string, arg string, status models.InvitationStatus) error {
	res, err := db.ExecContext(ctx, `UPDATE invitations SET status = ? WHERE status = 'pending' AND `+where, status, arg)
	if err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	if err := expectRows(res, "pending invitation", arg); err != nil {
		return err
	}
	db.triggerChange(ctx, "invitations", arg)
	return nil
}

package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/pkg/models"
)

// CreateWorkspace creates a workspace owned by the actor.
func (tr *Tracker) CreateWorkspace(ctx context.Context, actorID string, ws *models.Workspace) error {
	ws.OwnerID = actorID
	return tr.db.CreateWorkspace(ctx, ws)
}

func (tr *Tracker) ListWorkspaces(ctx context.Context, actorID string) ([]*models.Workspace, error) {
	return tr.db.ListWorkspacesForUser(ctx, actorID)
}

func (tr *Tracker) Members(ctx context.Context, actorID, workspaceID string) ([]*models.Member, error) {
	if err := tr.authorizeWorkspace(ctx, actorID, workspaceID, access.ActionView); err != nil {
		return nil, err
	}
	return tr.db.ListMembers(ctx, workspaceID)
}

// ChangeRole moves a member to a new role. Only the owner may grant or
// remove ownership.
func (tr *Tracker) ChangeRole(ctx context.Context, actorID, workspaceID, userID string, role models.Role) error {
	actor, err := tr.role(ctx, workspaceID, actorID)
	if err != nil {
		return err
	}
	current, err := tr.role(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if current == "" {
		return fmt.Errorf("member %s: %w", userID, db.ErrNotFound)
	}
	if !access.CanChangeRole(actor, current, role) {
		return fmt.Errorf("%w: %s cannot change %s to %s", access.ErrForbidden, actor, current, role)
	}
	return tr.db.UpdateMemberRole(ctx, workspaceID, userID, role)
}

// RemoveMember removes a user from a workspace. Members may always leave;
// removing someone else needs manage_members and a higher rank.
func (tr *Tracker) RemoveMember(ctx context.Context, actorID, workspaceID, userID string) error {
	if actorID != userID {
		actor, err := tr.role(ctx, workspaceID, actorID)
		if err != nil {
			return err
		}
		target, err := tr.role(ctx, workspaceID, userID)
		if err != nil {
			return err
		}
		if err := access.Check(actor, access.ActionManageMembers); err != nil {
			return err
		}
		if access.Rank(target) >= access.Rank(actor) {
			return fmt.Errorf("%w: %s cannot remove %s", access.ErrForbidden, actor, target)
		}
	}
	return tr.db.RemoveMember(ctx, workspaceID, userID)
}

// Invite creates an invitation and emails it.
func (tr *Tracker) Invite(ctx context.Context, actorID, workspaceID, email string, role models.Role) (*models.Invitation, error) {
	if err := tr.authorizeWorkspace(ctx, actorID, workspaceID, access.ActionInvite); err != nil {
		return nil, err
	}
	ws, err := tr.db.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, db.ErrNotFound)
	}

	inv := &models.Invitation{WorkspaceID: workspaceID, Email: email, Role: role, InvitedBy: actorID}
	if err := tr.db.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	tr.notify.InvitationCreated(ctx, inv, ws)
	return inv, nil
}

func (tr *Tracker) AcceptInvitation(ctx context.Context, actorID, token string) (*models.Invitation, error) {
	return tr.db.AcceptInvitation(ctx, token, actorID)
}

// DeclineInvitation closes a pending invitation addressed to the actor.
func (tr *Tracker) DeclineInvitation(ctx context.Context, actorID, token string) error {
	inv, err := tr.db.GetInvitationByToken(ctx, token)
	if err != nil {
		return err
	}
	if inv == nil {
		return fmt.Errorf("invitation: %w", db.ErrNotFound)
	}
	u, err := tr.db.GetUser(ctx, actorID)
	if err != nil {
		return err
	}
	if u == nil || !strings.EqualFold(u.Email, inv.Email) {
		return fmt.Errorf("%w: invitation was sent to %s", db.ErrInvalid, inv.Email)
	}
	return tr.db.DeclineInvitation(ctx, token)
}

func (tr *Tracker) Invitations(ctx context.Context, actorID, workspaceID string) ([]*models.Invitation, error) {
	if err := tr.authorizeWorkspace(ctx, actorID, workspaceID, access.ActionInvite); err != nil {
		return nil, err
	}
	return tr.db.ListInvitations(ctx, workspaceID, nil)
}

func (tr *Tracker) RevokeInvitation(ctx context.Context, actorID, workspaceID, invitationID string) error {
	invs, err := tr.Invitations(ctx, actorID, workspaceID)
	if err != nil {
		return err
	}
	for _, inv := range invs {
		if inv.ID == invitationID {
			return tr.db.RevokeInvitation(ctx, invitationID)
		}
	}
	return fmt.Errorf("invitation %s: %w", invitationID, db.ErrNotFound)
}

// ListProjects returns the projects the actor can see, optionally limited
// to one workspace.
func (tr *Tracker) ListProjects(ctx context.Context, actorID string, workspaceID *string) ([]*models.Project, error) {
	roles, err := tr.memberships(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if workspaceID != nil {
		if err := access.Check(roles[*workspaceID], access.ActionView); err != nil {
			return nil, err
		}
	}
	projects, err := tr.db.ListProjects(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return access.VisibleProjects(projects, roles), nil
}

func (tr *Tracker) GetProject(ctx context.Context, actorID, id string) (*models.Project, error) {
	return tr.authorizeProject(ctx, actorID, id, access.ActionView)
}

// ProjectByKey resolves a project key inside one of the actor's workspaces.
func (tr *Tracker) ProjectByKey(ctx context.Context, actorID, key string) (*models.Project, error) {
	projects, err := tr.ListProjects(ctx, actorID, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if strings.EqualFold(p.Key, key) || p.ID == key {
			return p, nil
		}
	}
	return nil, fmt.Errorf("project %s: %w", key, db.ErrNotFound)
}

func (tr *Tracker) CreateProject(ctx context.Context, actorID string, p *models.Project) error {
	if err := tr.authorizeWorkspace(ctx, actorID, p.WorkspaceID, access.ActionManageProject); err != nil {
		return err
	}
	return tr.db.CreateProject(ctx, p)
}

func (tr *Tracker) UpdateProject(ctx context.Context, actorID string, p *models.Project) error {
	if _, err := tr.authorizeProject(ctx, actorID, p.ID, access.ActionManageProject); err != nil {
		return err
	}
	return tr.db.UpdateProject(ctx, p)
}

func (tr *Tracker) DeleteProject(ctx context.Context, actorID, id string) error {
	if _, err := tr.authorizeProject(ctx, actorID, id, access.ActionManageProject); err != nil {
		return err
	}
	return tr.db.DeleteProject(ctx, id)
}

func (tr *Tracker) SetWIPLimit(ctx context.Context, actorID, projectID string, status models.TaskStatus, limit int) error {
	if _, err := tr.authorizeProject(ctx, actorID, projectID, access.ActionManageProject); err != nil {
		return err
	}
	if limit < 0 {
		return fmt.Errorf("%w wip limit: must not be negative, got %d", db.ErrInvalid, limit)
	}
	return tr.db.SetWIPLimit(ctx, projectID, status, limit)
}

func (tr *Tracker) ListSprints(ctx context.Context, actorID, projectID string) ([]*models.Sprint, error) {
	if _, err := tr.authorizeProject(ctx, actorID, projectID, access.ActionView); err != nil {
		return nil, err
	}
	return tr.db.ListSprints(ctx, projectID)
}

func (tr *Tracker) CreateSprint(ctx context.Context, actorID string, s *models.Sprint) error {
	if _, err := tr.authorizeProject(ctx, actorID, s.ProjectID, access.ActionManageSprint); err != nil {
		return err
	}
	return tr.db.CreateSprint(ctx, s)
}

func (tr *Tracker) StartSprint(ctx context.Context, actorID, id string) error {
	if _, _, err := tr.authorizeSprint(ctx, actorID, id, access.ActionManageSprint); err != nil {
		return err
	}
	return tr.db.StartSprint(ctx, id)
}

func (tr *Tracker) CompleteSprint(ctx context.Context, actorID, id string) error {
	if _, _, err := tr.authorizeSprint(ctx, actorID, id, access.ActionManageSprint); err != nil {
		return err
	}
	return tr.db.CompleteSprint(ctx, id)
}

// CommitPlan checks the actor may plan sprints in every project the staged
// plan touches, then commits it.
func (tr *Tracker) CommitPlan(ctx context.Context, actorID, sessionID string) (*db.StagedPlan, error) {
	plan := tr.db.Staging.Peek(sessionID)
	projects := make(map[string]bool)
	for _, s := range plan.Sprints {
		projects[s.ProjectID] = true
	}
	for _, st := range plan.Tasks {
		projects[st.Task.ProjectID] = true
	}
	for _, m := range plan.Moves {
		t, err := tr.db.GetTask(ctx, m.TaskID)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, fmt.Errorf("task %s: %w", m.TaskID, db.ErrNotFound)
		}
		projects[t.ProjectID] = true
	}
	for id := range projects {
		if _, err := tr.authorizeProject(ctx, actorID, id, access.ActionManageSprint); err != nil {
			return nil, err
		}
	}

	for _, st := range plan.Tasks {
		if st.Task.ReporterID == "" {
			st.Task.ReporterID = actorID
		}
	}
	return tr.db.CommitPlan(ctx, sessionID)
}

func (tr *Tracker) Notifications(ctx context.Context, actorID string, unreadOnly bool) ([]*models.Notification, error) {
	return tr.db.ListNotifications(ctx, actorID, unreadOnly)
}

func (tr *Tracker) MarkRead(ctx context.Context, actorID, id string) error {
	return tr.db.MarkNotificationRead(ctx, actorID, id)
}

func (tr *Tracker) MarkAllRead(ctx context.Context, actorID string) (int64, error) {
	return tr.db.MarkAllNotificationsRead(ctx, actorID)
}

// Package tracker is the domain service behind every sprintboard surface.
// It checks the actor's role, performs the write and fans the result out to
// notifications. The HTTP API, MCP tools and CLI all go through it.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/logging"
	"github.com/ldi/sprintboard/internal/notify"
	"github.com/ldi/sprintboard/pkg/models"
)

// ErrInvalidAssignee is returned when a task is assigned to someone outside
// its workspace.
var ErrInvalidAssignee = errors.New("invalid assignee")

type Tracker struct {
	db     *db.DB
	notify *notify.Dispatcher
	logger *slog.Logger

	// Now is the clock used for derived reports. It defaults to the
	// database clock.
	Now func() time.Time
}

func New(database *db.DB, dispatcher *notify.Dispatcher, logger *slog.Logger) *Tracker {
	logger = logging.OrDiscard(logger)
	if dispatcher == nil {
		dispatcher = notify.NewDispatcher(database, notify.NopMailer{}, logger)
	}
	return &Tracker{db: database, notify: dispatcher, logger: logger}
}

// DB exposes the underlying store for read paths that need no role check.
func (tr *Tracker) DB() *db.DB {
	return tr.db
}

func (tr *Tracker) now() time.Time {
	switch {
	case tr.Now != nil:
		return tr.Now().UTC()
	case tr.db.Now != nil:
		return tr.db.Now().UTC()
	}
	return time.Now().UTC()
}

// role returns the actor's role in a workspace, empty for non-members.
func (tr *Tracker) role(ctx context.Context, workspaceID, actorID string) (models.Role, error) {
	m, err := tr.db.GetMember(ctx, workspaceID, actorID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return "", nil
	}
	return m.Role, nil
}

func (tr *Tracker) authorizeWorkspace(ctx context.Context, actorID, workspaceID string, action access.Action) error {
	role, err := tr.role(ctx, workspaceID, actorID)
	if err != nil {
		return err
	}
	return access.Check(role, action)
}

// authorizeProject loads a project and checks the actor may act on it.
func (tr *Tracker) authorizeProject(ctx context.Context, actorID, projectID string, action access.Action) (*models.Project, error) {
	p, err := tr.db.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", projectID, db.ErrNotFound)
	}
	if err := tr.authorizeWorkspace(ctx, actorID, p.WorkspaceID, action); err != nil {
		return nil, err
	}
	return p, nil
}

// authorizeTask loads a task and checks the actor may act on its project.
func (tr *Tracker) authorizeTask(ctx context.Context, actorID, taskID string, action access.Action) (*models.Task, *models.Project, error) {
	t, err := tr.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if t == nil {
		return nil, nil, fmt.Errorf("task %s: %w", taskID, db.ErrNotFound)
	}
	p, err := tr.authorizeProject(ctx, actorID, t.ProjectID, action)
	if err != nil {
		return nil, nil, err
	}
	return t, p, nil
}

func (tr *Tracker) authorizeSprint(ctx context.Context, actorID, sprintID string, action access.Action) (*models.Sprint, *models.Project, error) {
	s, err := tr.db.GetSprint(ctx, sprintID)
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, fmt.Errorf("sprint %s: %w", sprintID, db.ErrNotFound)
	}
	p, err := tr.authorizeProject(ctx, actorID, s.ProjectID, action)
	if err != nil {
		return nil, nil, err
	}
	return s, p, nil
}

// memberships maps every workspace the actor belongs to onto their role.
func (tr *Tracker) memberships(ctx context.Context, actorID string) (map[string]models.Role, error) {
	workspaces, err := tr.db.ListWorkspacesForUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	roles := make(map[string]models.Role, len(workspaces))
	for _, ws := range workspaces {
		role, err := tr.role(ctx, ws.ID, actorID)
		if err != nil {
			return nil, err
		}
		roles[ws.ID] = role
	}
	return roles, nil
}

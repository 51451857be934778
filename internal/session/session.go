// Package session holds the acting user and current workspace for one
// client, replacing process-wide globals with an explicit value.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/pkg/models"
)

// Store is the lookup a session needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	GetMember(ctx context.Context, workspaceID, userID string) (*models.Member, error)
}

// Session is safe for concurrent use. Work tied to the current workspace
// should run under Context and register cleanup with OnClose; both end when
// the workspace is switched or the session is closed.
type Session struct {
	store  Store
	parent context.Context

	mu        sync.RWMutex
	user      *models.User
	workspace *models.Workspace
	role      models.Role
	ctx       context.Context
	cancel    context.CancelFunc
	closers   []func()
	closed    bool
}

// Start opens a session for userID in workspaceID. The user must be a member.
func Start(ctx context.Context, store Store, userID, workspaceID string) (*Session, error) {
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, db.ErrNotFound)
	}

	ws, role, err := resolve(ctx, store, user, workspaceID)
	if err != nil {
		return nil, err
	}
	s := &Session{store: store, parent: ctx, user: user, workspace: ws, role: role}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s, nil
}

// resolve loads the workspace and the user's role in it.
func resolve(ctx context.Context, store Store, user *models.User, workspaceID string) (*models.Workspace, models.Role, error) {
	ws, err := store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, "", err
	}
	if ws == nil {
		return nil, "", fmt.Errorf("workspace %s: %w", workspaceID, db.ErrNotFound)
	}
	m, err := store.GetMember(ctx, workspaceID, user.ID)
	if err != nil {
		return nil, "", err
	}
	if m == nil {
		return nil, "", fmt.Errorf("%w: %s is not a member of %s", access.ErrForbidden, user.Email, ws.Slug)
	}
	return ws, m.Role, nil
}

var errClosed = errors.New("session is closed")

// SwitchWorkspace moves the session to another workspace. Cleanup
// registered for the old workspace runs after the switch, without the
// session lock held. On error the session keeps its previous workspace.
func (s *Session) SwitchWorkspace(ctx context.Context, workspaceID string) error {
	if s.Closed() {
		return errClosed
	}
	ws, role, err := resolve(ctx, s.store, s.User(), workspaceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	oldCancel, oldClosers := s.cancel, s.closers
	s.workspace, s.role, s.closers = ws, role, nil
	s.ctx, s.cancel = context.WithCancel(s.parent)
	s.mu.Unlock()

	runClosers(oldCancel, oldClosers)
	return nil
}

// Require fails with access.ErrForbidden when the role cannot do action.
func (s *Session) Require(action access.Action) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return access.Check(s.role, action)
}

// OnClose registers fn to run when the workspace changes or the session
// closes. Functions run in reverse registration order. If the session is
// already closed fn runs immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, closers := s.cancel, s.closers
	s.closers = nil
	s.mu.Unlock()

	runClosers(cancel, closers)
}

func runClosers(cancel context.CancelFunc, closers []func()) {
	for _, fn := range slices.Backward(closers) {
		fn()
	}
	if cancel != nil {
		cancel()
	}
}

// Context is cancelled when the workspace changes or the session closes.
func (s *Session) Context() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) UserID() string {
	return s.User().ID
}

func (s *Session) Workspace() *models.Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workspace
}

func (s *Session) Role() models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Package access decides what a workspace role may do.
package access

import (
	"errors"
	"fmt"

	"github.com/ldi/sprintboard/pkg/models"
)

// ErrForbidden is returned when a role lacks the rank an action needs.
var ErrForbidden = errors.New("forbidden")

type Action string

const (
	ActionView            Action = "view"
	ActionEditTask        Action = "edit_task"
	ActionComment         Action = "comment"
	ActionManageSprint    Action = "manage_sprint"
	ActionManageProject   Action = "manage_project"
	ActionInvite          Action = "invite"
	ActionManageMembers   Action = "manage_members"
	ActionDeleteWorkspace Action = "delete_workspace"
)

var rank = map[models.Role]int{
	models.RoleViewer: 1,
	models.RoleMember: 2,
	models.RoleAdmin:  3,
	models.RoleOwner:  4,
}

// required is the lowest role allowed to perform each action.
var required = map[Action]models.Role{
	ActionView:            models.RoleViewer,
	ActionEditTask:        models.RoleMember,
	ActionComment:         models.RoleMember,
	ActionManageSprint:    models.RoleMember,
	ActionManageProject:   models.RoleAdmin,
	ActionInvite:          models.RoleAdmin,
	ActionManageMembers:   models.RoleAdmin,
	ActionDeleteWorkspace: models.RoleOwner,
}

// Rank orders roles; unknown roles rank 0.
func Rank(r models.Role) int {
	return rank[r]
}

// Can reports whether role may perform action. Unknown actions are denied.
func Can(role models.Role, action Action) bool {
	least, ok := required[action]
	if !ok {
		return false
	}
	return Rank(role) > 0 && Rank(role) >= Rank(least)
}

// Check is Can as an error wrapping ErrForbidden.
func Check(role models.Role, action Action) error {
	if Can(role, action) {
		return nil
	}
	return fmt.Errorf("%w: %s cannot %s", ErrForbidden, roleName(role), action)
}

// CanChangeRole reports whether actor may move a member from current to
// next. Admins manage members below themselves; only the owner may grant
// or take away ownership.
func CanChangeRole(actor, current, next models.Role) bool {
	if !next.Valid() || !Can(actor, ActionManageMembers) {
		return false
	}
	if current == models.RoleOwner || next == models.RoleOwner {
		return actor == models.RoleOwner
	}
	if actor == models.RoleOwner {
		return true
	}
	return Rank(current) < Rank(actor) && Rank(next) < Rank(actor)
}

// VisibleProjects keeps the projects whose workspace the user belongs to.
// memberships maps workspace id to the user's role there.
func VisibleProjects(projects []*models.Project, memberships map[string]models.Role) []*models.Project {
	visible := make([]*models.Project, 0, len(projects))
	for _, p := range projects {
		if Can(memberships[p.WorkspaceID], ActionView) {
			visible = append(visible, p)
		}
	}
	return visible
}

func roleName(r models.Role) string {
	if r == "" {
		return "non-member"
	}
	return string(r)
}

// Package notify turns task activity into in-app notifications and emails.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ldi/sprintboard/internal/mention"
	"github.com/ldi/sprintboard/pkg/models"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListMemberUsers(ctx context.Context, workspaceID string) ([]models.User, error)
}

// Dispatcher fans activity out to the users who should hear about it.
// Failures are logged and never returned: a notification must not undo the
// write that caused it.
type Dispatcher struct {
	store  Store
	mailer Mailer
	logger *slog.Logger
}

func NewDispatcher(store Store, mailer Mailer, logger *slog.Logger) *Dispatcher {
	if mailer == nil {
		mailer = NopMailer{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{store: store, mailer: mailer, logger: logger}
}

// CommentAdded notifies users mentioned in the comment, then the assignee if
// they were not already mentioned. The author is never notified.
func (d *Dispatcher) CommentAdded(ctx context.Context, task *models.Task, c *models.Comment) []*models.Notification {
	project, err := d.store.GetProject(ctx, task.ProjectID)
	if err != nil || project == nil {
		d.logger.Warn("comment notification skipped: project lookup failed", "task", task.ID, "error", err)
		return nil
	}
	users, err := d.store.ListMemberUsers(ctx, project.WorkspaceID)
	if err != nil {
		d.logger.Warn("comment notification skipped: member lookup failed", "task", task.ID, "error", err)
		return nil
	}

	author := nameOf(users, c.AuthorID)
	ref := taskRef(task)
	var sent []*models.Notification
	notified := make(map[string]bool)

	for _, u := range mention.Recipients(c.Body, users, c.AuthorID) {
		n := d.deliver(ctx, u, &models.Notification{
			ActorID:   &c.AuthorID,
			Type:      models.NotificationMention,
			TaskID:    &task.ID,
			CommentID: &c.ID,
			Message:   fmt.Sprintf("%s mentioned you on %s", author, ref),
		})
		if n != nil {
			sent = append(sent, n)
		}
		notified[u.ID] = true
	}

	if task.AssigneeID != nil && *task.AssigneeID != c.AuthorID && !notified[*task.AssigneeID] {
		if u := userByID(users, *task.AssigneeID); u != nil {
			n := d.deliver(ctx, *u, &models.Notification{
				ActorID:   &c.AuthorID,
				Type:      models.NotificationComment,
				TaskID:    &task.ID,
				CommentID: &c.ID,
				Message:   fmt.Sprintf("%s commented on %s", author, ref),
			})
			if n != nil {
				sent = append(sent, n)
			}
		}
	}
	return sent
}

// TaskAssigned notifies the new assignee unless they assigned themselves.
func (d *Dispatcher) TaskAssigned(ctx context.Context, task *models.Task, actorID string) *models.Notification {
	if task.AssigneeID == nil || *task.AssigneeID == actorID {
		return nil
	}
	assignee, err := d.store.GetUser(ctx, *task.AssigneeID)
	if err != nil || assignee == nil {
		d.logger.Warn("assignment notification skipped: user lookup failed", "user", *task.AssigneeID, "error", err)
		return nil
	}

	return d.deliver(ctx, *assignee, &models.Notification{
		ActorID: nullable(actorID),
		Type:    models.NotificationAssignment,
		TaskID:  &task.ID,
		Message: fmt.Sprintf("%s assigned %s to you", d.actorName(ctx, actorID), taskRef(task)),
	})
}

// StatusChanged notifies the reporter and the assignee, excluding the actor.
func (d *Dispatcher) StatusChanged(ctx context.Context, task *models.Task, actorID string, from, to models.TaskStatus) []*models.Notification {
	recipients := []string{task.ReporterID}
	if task.AssigneeID != nil && *task.AssigneeID != task.ReporterID {
		recipients = append(recipients, *task.AssigneeID)
	}

	actor := d.actorName(ctx, actorID)
	var sent []*models.Notification
	for _, id := range recipients {
		if id == "" || id == actorID {
			continue
		}
		u, err := d.store.GetUser(ctx, id)
		if err != nil || u == nil {
			d.logger.Warn("status notification skipped: user lookup failed", "user", id, "error", err)
			continue
		}
		n := d.deliver(ctx, *u, &models.Notification{
			ActorID: nullable(actorID),
			Type:    models.NotificationStatusChange,
			TaskID:  &task.ID,
			Message: fmt.Sprintf("%s moved %s from %s to %s", actor, taskRef(task), from, to),
		})
		if n != nil {
			sent = append(sent, n)
		}
	}
	return sent
}

// InvitationCreated emails the invitee. Invitees who already have an
// account also get an in-app notification.
func (d *Dispatcher) InvitationCreated(ctx context.Context, inv *models.Invitation, ws *models.Workspace) {
	subject := fmt.Sprintf("You have been invited to %s", ws.Name)
	text := fmt.Sprintf("You have been invited to join %s as %s. Use token %s to accept before %s.",
		ws.Name, inv.Role, inv.Token, inv.ExpiresAt.Format("2006-01-02"))

	u, err := d.store.GetUserByEmail(ctx, inv.Email)
	if err != nil {
		d.logger.Warn("invitation lookup failed", "email", inv.Email, "error", err)
	}
	if u != nil {
		n := &models.Notification{
			UserID:  u.ID,
			ActorID: nullable(inv.InvitedBy),
			Type:    models.NotificationInvitation,
			Message: subject,
		}
		if err := d.store.CreateNotification(ctx, n); err != nil {
			d.logger.Warn("failed to store invitation notification", "user", u.ID, "error", err)
		}
	}

	d.send(ctx, Email{To: inv.Email, Subject: subject, Text: text, Kind: string(models.NotificationInvitation)})
}

// deliver stores n for u and emails them when they have an address.
func (d *Dispatcher) deliver(ctx context.Context, u models.User, n *models.Notification) *models.Notification {
	n.UserID = u.ID
	if err := d.store.CreateNotification(ctx, n); err != nil {
		d.logger.Warn("failed to store notification", "user", u.ID, "type", n.Type, "error", err)
		return nil
	}
	if u.Email != "" {
		d.send(ctx, Email{To: u.Email, Subject: n.Message, Text: n.Message, Kind: string(n.Type)})
	}
	return n
}

func (d *Dispatcher) send(ctx context.Context, e Email) {
	if err := d.mailer.Send(ctx, e); err != nil {
		d.logger.Warn("failed to send email", "to", e.To, "kind", e.Kind, "error", err)
	}
}

func (d *Dispatcher) actorName(ctx context.Context, id string) string {
	if id == "" {
		return "Someone"
	}
	u, err := d.store.GetUser(ctx, id)
	if err != nil || u == nil {
		return "Someone"
	}
	return u.FullName
}

func taskRef(t *models.Task) string {
	if t.ProjectKey != "" {
		return fmt.Sprintf("%s %q", t.ProjectKey, t.Title)
	}
	return fmt.Sprintf("%q", t.Title)
}

func userByID(users []models.User, id string) *models.User {
	for i := range users {
		if users[i].ID == id {
			return &users[i]
		}
	}
	return nil
}

func nameOf(users []models.User, id string) string {
	if u := userByID(users, id); u != nil {
		return u.FullName
	}
	return "Someone"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ldi/sprintboard/pkg/models"
)

type fakeStore struct {
	project       *models.Project
	users         []models.User
	notifications []*models.Notification
	failCreate    bool
}

func (s *fakeStore) CreateNotification(_ context.Context, n *models.Notification) error {
	if s.failCreate {
		return errors.New("disk full")
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *fakeStore) GetProject(context.Context, string) (*models.Project, error) {
	return s.project, nil
}

func (s *fakeStore) GetUser(_ context.Context, id string) (*models.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListMemberUsers(context.Context, string) ([]models.User, error) {
	return s.users, nil
}

type recordingMailer struct {
	sent []Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, e Email) error {
	m.sent = append(m.sent, e)
	return m.err
}

func newStore() *fakeStore {
	return &fakeStore{
		project: &models.Project{ID: "p1", WorkspaceID: "w1", Key: "WEB"},
		users: []models.User{
			{ID: "u-john", FullName: "John Smith", Email: "john@example.com"},
			{ID: "u-jane", FullName: "Jane Doe", Email: "jane@example.com"},
			{ID: "u-max", FullName: "Max Power"},
		},
	}
}

func recipients(ns []*models.Notification) []string {
	var ids []string
	for _, n := range ns {
		ids = append(ids, n.UserID+":"+string(n.Type))
	}
	return ids
}

func TestCommentAdded(t *testing.T) {
	store := newStore()
	mailer := &recordingMailer{}
	d := NewDispatcher(store, mailer, nil)

	assignee := "u-max"
	task := &models.Task{ID: "t1", ProjectID: "p1", Title: "Checkout", AssigneeID: &assignee, ProjectKey: "WEB"}
	c := &models.Comment{ID: "c1", TaskID: "t1", AuthorID: "u-john", Body: `ping @John and @"Jane Doe" please`}

	sent := d.CommentAdded(context.Background(), task, c)

	want := []string{"u-jane:mention", "u-max:comment"}
	if diff := cmp.Diff(want, recipients(sent)); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
	if sent[0].Message != `John Smith mentioned you on WEB "Checkout"` {
		t.Errorf("unexpected message: %s", sent[0].Message)
	}
	if *sent[0].CommentID != "c1" {
		t.Errorf("expected comment id on mention notification")
	}

	// Max has no email address.
	if len(mailer.sent) != 1 || mailer.sent[0].To != "jane@example.com" || mailer.sent[0].Kind != "mention" {
		t.Errorf("unexpected emails: %+v", mailer.sent)
	}
}

func TestCommentAddedAssigneeMentioned(t *testing.T) {
	store := newStore()
	d := NewDispatcher(store, nil, nil)

	assignee := "u-jane"
	task := &models.Task{ID: "t1", ProjectID: "p1", Title: "Checkout", AssigneeID: &assignee}
	c := &models.Comment{ID: "c1", AuthorID: "u-john", Body: "@jane can you look?"}

	sent := d.CommentAdded(context.Background(), task, c)
	if diff := cmp.Diff([]string{"u-jane:mention"}, recipients(sent)); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskAssigned(t *testing.T) {
	store := newStore()
	d := NewDispatcher(store, nil, nil)
	ctx := context.Background()

	self := "u-john"
	if n := d.TaskAssigned(ctx, &models.Task{ID: "t1", AssigneeID: &self}, "u-john"); n != nil {
		t.Errorf("expected no notification for self-assignment, got %+v", n)
	}
	if n := d.TaskAssigned(ctx, &models.Task{ID: "t1"}, "u-john"); n != nil {
		t.Errorf("expected no notification when unassigned, got %+v", n)
	}

	other := "u-jane"
	n := d.TaskAssigned(ctx, &models.Task{ID: "t1", Title: "Search", AssigneeID: &other}, "u-john")
	if n == nil || n.UserID != "u-jane" || n.Type != models.NotificationAssignment {
		t.Fatalf("expected assignment notification for Jane, got %+v", n)
	}
	if n.Message != `John Smith assigned "Search" to you` {
		t.Errorf("unexpected message: %s", n.Message)
	}
}

func TestStatusChanged(t *testing.T) {
	store := newStore()
	d := NewDispatcher(store, nil, nil)

	assignee := "u-jane"
	task := &models.Task{ID: "t1", Title: "Search", ReporterID: "u-john", AssigneeID: &assignee}

	sent := d.StatusChanged(context.Background(), task, "u-jane", models.TaskStatusTodo, models.TaskStatusReview)
	if diff := cmp.Diff([]string{"u-john:status_change"}, recipients(sent)); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
	if sent[0].Message != `Jane Doe moved "Search" from todo to review` {
		t.Errorf("unexpected message: %s", sent[0].Message)
	}
}

func TestFailuresAreSwallowed(t *testing.T) {
	store := newStore()
	store.failCreate = true
	mailer := &recordingMailer{err: errors.New("smtp down")}
	d := NewDispatcher(store, mailer, nil)

	other := "u-jane"
	if n := d.TaskAssigned(context.Background(), &models.Task{ID: "t1", AssigneeID: &other}, "u-john"); n != nil {
		t.Errorf("expected nil when the store fails, got %+v", n)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("expected no email for an unstored notification")
	}

	store.failCreate = false
	if n := d.TaskAssigned(context.Background(), &models.Task{ID: "t1", AssigneeID: &other}, "u-john"); n == nil {
		t.Errorf("expected notification despite mailer failure")
	}
}

func TestInvitationCreated(t *testing.T) {
	store := newStore()
	mailer := &recordingMailer{}
	d := NewDispatcher(store, mailer, nil)

	inv := &models.Invitation{Email: "jane@example.com", Role: models.RoleMember, Token: "tok", InvitedBy: "u-john"}
	d.InvitationCreated(context.Background(), inv, &models.Workspace{Name: "Acme"})

	if len(mailer.sent) != 1 || mailer.sent[0].Kind != "invitation" || mailer.sent[0].To != "jane@example.com" {
		t.Fatalf("unexpected emails: %+v", mailer.sent)
	}
	if len(store.notifications) != 1 || store.notifications[0].UserID != "u-jane" {
		t.Errorf("expected in-app notification for existing user, got %+v", store.notifications)
	}

	d.InvitationCreated(context.Background(), &models.Invitation{Email: "new@example.com", Token: "t2"}, &models.Workspace{Name: "Acme"})
	if len(store.notifications) != 1 {
		t.Errorf("expected no in-app notification for unknown invitee")
	}
	if len(mailer.sent) != 2 {
		t.Errorf("expected email to unknown invitee")
	}
}

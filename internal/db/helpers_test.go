package db

import (
	"context"
	"testing"
	"time"

	"github.com/ldi/sprintboard/pkg/models"
)

var epoch = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	return db
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(step)
		return now
	}
}

type fixture struct {
	db      *DB
	owner   *models.User
	dev     *models.User
	ws      *models.Workspace
	project *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := newTestDB(t)
	db.Now = stepClock(epoch, time.Minute)

	f := &fixture{db: db}
	f.owner = &models.User{Email: "ada@example.com", FullName: "Ada Lovelace"}
	f.dev = &models.User{Email: "grace@example.com", FullName: "Grace Hopper"}
	for _, u := range []*models.User{f.owner, f.dev} {
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}

	f.ws = &models.Workspace{Name: "Acme", Slug: "acme", OwnerID: f.owner.ID}
	if err := db.CreateWorkspace(ctx, f.ws); err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	if err := db.AddMember(ctx, f.ws.ID, f.dev.ID, models.RoleMember); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}

	f.project = &models.Project{WorkspaceID: f.ws.ID, Key: "web", Name: "Website"}
	if err := db.CreateProject(ctx, f.project); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	return f
}

func (f *fixture) task(t *testing.T, title string) *models.Task {
	t.Helper()
	task := &models.Task{ProjectID: f.project.ID, Title: title, ReporterID: f.owner.ID}
	if err := f.db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("Failed to create task %s: %v", title, err)
	}
	return task
}

func actions(events []models.HistoryEvent) []models.HistoryAction {
	var out []models.HistoryAction
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

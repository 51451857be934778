package tracker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/logging"
	"github.com/ldi/sprintboard/internal/notify"
	"github.com/ldi/sprintboard/pkg/models"
)

var epoch = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	tr      *Tracker
	clock   *clock
	logs    *bytes.Buffer
	owner   *models.User
	dev     *models.User
	viewer  *models.User
	outside *models.User
	ws      *models.Workspace
	project *models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(ctx); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}

	f := &fixture{clock: &clock{t: epoch}, logs: &bytes.Buffer{}}
	database.Now = f.clock.Now

	logger, err := logging.New("info", "text", f.logs)
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	f.tr = New(database, notify.NewDispatcher(database, notify.NopMailer{}, logger), logger)

	f.owner = &models.User{Email: "ada@example.com", FullName: "Ada Lovelace"}
	f.dev = &models.User{Email: "grace@example.com", FullName: "Grace Hopper"}
	f.viewer = &models.User{Email: "alan@example.com", FullName: "Alan Turing"}
	f.outside = &models.User{Email: "eve@example.com", FullName: "Eve"}
	for _, u := range []*models.User{f.owner, f.dev, f.viewer, f.outside} {
		if err := database.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}

	f.ws = &models.Workspace{Name: "Acme", Slug: "acme"}
	if err := f.tr.CreateWorkspace(ctx, f.owner.ID, f.ws); err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	if err := database.AddMember(ctx, f.ws.ID, f.dev.ID, models.RoleMember); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}
	if err := database.AddMember(ctx, f.ws.ID, f.viewer.ID, models.RoleViewer); err != nil {
		t.Fatalf("Failed to add member: %v", err)
	}

	f.project = &models.Project{WorkspaceID: f.ws.ID, Key: "web", Name: "Website"}
	if err := f.tr.CreateProject(ctx, f.owner.ID, f.project); err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	return f
}

func (f *fixture) task(t *testing.T, actor *models.User, title string) *models.Task {
	t.Helper()
	task := &models.Task{ProjectID: f.project.ID, Title: title}
	if err := f.tr.CreateTask(context.Background(), actor.ID, task); err != nil {
		t.Fatalf("Failed to create task %s: %v", title, err)
	}
	return task
}

func (f *fixture) notifications(t *testing.T, u *models.User) []*models.Notification {
	t.Helper()
	ns, err := f.tr.Notifications(context.Background(), u.ID, false)
	if err != nil {
		t.Fatalf("Failed to list notifications: %v", err)
	}
	return ns
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := f.task(t, f.dev, "Landing page")
	if task.ReporterID != f.dev.ID {
		t.Errorf("expected reporter %s, got %s", f.dev.ID, task.ReporterID)
	}
	if task.ProjectKey != "WEB" {
		t.Errorf("expected project key WEB, got %q", task.ProjectKey)
	}

	for _, u := range []*models.User{f.viewer, f.outside} {
		err := f.tr.CreateTask(ctx, u.ID, &models.Task{ProjectID: f.project.ID, Title: "nope"})
		if !errors.Is(err, access.ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", u.FullName, err)
		}
	}

	err := f.tr.CreateTask(ctx, f.owner.ID, &models.Task{ProjectID: "missing", Title: "x"})
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing project, got %v", err)
	}

	err = f.tr.CreateTask(ctx, f.owner.ID, &models.Task{ProjectID: f.project.ID, Title: "x", AssigneeID: &f.outside.ID})
	if !errors.Is(err, ErrInvalidAssignee) {
		t.Errorf("expected ErrInvalidAssignee, got %v", err)
	}
}

func TestCreateTaskNotifiesAssignee(t *testing.T) {
	f := newFixture(t)

	task := &models.Task{ProjectID: f.project.ID, Title: "Pricing", AssigneeID: &f.dev.ID}
	if err := f.tr.CreateTask(context.Background(), f.owner.ID, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	ns := f.notifications(t, f.dev)
	if len(ns) != 1 || ns[0].Type != models.NotificationAssignment {
		t.Fatalf("expected one assignment notification, got %+v", ns)
	}
	if want := `Ada Lovelace assigned WEB "Pricing" to you`; ns[0].Message != want {
		t.Errorf("expected message %q, got %q", want, ns[0].Message)
	}
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task := &models.Task{ProjectID: f.project.ID, Title: "Checkout", AssigneeID: &f.dev.ID}
	if err := f.tr.CreateTask(ctx, f.owner.ID, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	other := f.task(t, f.owner, "Cart")

	if err := f.tr.SetWIPLimit(ctx, f.owner.ID, f.project.ID, models.TaskStatusInProgress, 1); err != nil {
		t.Fatalf("SetWIPLimit failed: %v", err)
	}

	res, err := f.tr.ChangeStatus(ctx, f.dev.ID, task.ID, models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if !res.Changed || res.From != models.TaskStatusTodo || res.Warning != nil {
		t.Errorf("unexpected first change: %+v", res)
	}

	res, err = f.tr.ChangeStatus(ctx, f.owner.ID, other.ID, models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if res.Warning == nil || res.Warning.Count != 2 || res.Warning.Limit != 1 {
		t.Fatalf("expected WIP warning 2/1, got %+v", res.Warning)
	}
	if !strings.Contains(f.logs.String(), "wip limit exceeded") {
		t.Errorf("expected wip log line, got %q", f.logs.String())
	}

	res, err = f.tr.ChangeStatus(ctx, f.dev.ID, task.ID, models.TaskStatusInProgress)
	if err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	if res.Changed {
		t.Errorf("same-status move should not change anything")
	}

	// The reporter hears about the dev's move; the dev does not hear about their own.
	var changes int
	for _, n := range f.notifications(t, f.owner) {
		if n.Type == models.NotificationStatusChange {
			changes++
		}
	}
	if changes != 1 {
		t.Errorf("expected 1 status notification for reporter, got %d", changes)
	}
	for _, n := range f.notifications(t, f.dev) {
		if n.Type == models.NotificationStatusChange {
			t.Errorf("actor should not be notified: %+v", n)
		}
	}

	if _, err := f.tr.ChangeStatus(ctx, f.viewer.ID, task.ID, models.TaskStatusReview); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("expected ErrForbidden for viewer, got %v", err)
	}
	if _, err := f.tr.ChangeStatus(ctx, f.dev.ID, task.ID, "done"); !errors.Is(err, db.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, f.owner, "Search")

	got, err := f.tr.Assign(ctx, f.owner.ID, task.ID, &f.dev.ID)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if got.AssigneeID == nil || *got.AssigneeID != f.dev.ID {
		t.Fatalf("expected assignee %s, got %v", f.dev.ID, got.AssigneeID)
	}

	// Re-assigning the same person does not notify again.
	if _, err := f.tr.Assign(ctx, f.owner.ID, task.ID, &f.dev.ID); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if ns := f.notifications(t, f.dev); len(ns) != 1 {
		t.Errorf("expected 1 notification, got %d", len(ns))
	}

	got, err = f.tr.Assign(ctx, f.owner.ID, task.ID, nil)
	if err != nil {
		t.Fatalf("unassign failed: %v", err)
	}
	if got.AssigneeID != nil {
		t.Errorf("expected no assignee, got %v", *got.AssigneeID)
	}

	if _, err := f.tr.Assign(ctx, f.owner.ID, task.ID, &f.outside.ID); !errors.Is(err, ErrInvalidAssignee) {
		t.Errorf("expected ErrInvalidAssignee, got %v", err)
	}
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, f.owner, "Footer")

	c, sent, err := f.tr.AddComment(ctx, f.owner.ID, task.ID, `@"Grace Hopper" and @Alan, thoughts?`)
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if c.ID == "" || c.AuthorID != f.owner.ID {
		t.Errorf("unexpected comment: %+v", c)
	}
	if len(sent) != 2 {
		t.Fatalf("expected 2 mention notifications, got %d", len(sent))
	}
	for _, n := range sent {
		if n.Type != models.NotificationMention || n.UserID == f.owner.ID {
			t.Errorf("unexpected notification: %+v", n)
		}
	}

	if _, _, err := f.tr.AddComment(ctx, f.viewer.ID, task.ID, "hi"); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("expected viewer comment to be forbidden, got %v", err)
	}

	comments, err := f.tr.Comments(ctx, f.viewer.ID, task.ID)
	if err != nil {
		t.Fatalf("Comments failed: %v", err)
	}
	if len(comments) != 1 || comments[0].AuthorName != "Ada Lovelace" {
		t.Errorf("unexpected comments: %+v", comments)
	}
}

func TestTimeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, f.dev, "Onboarding")

	f.clock.Advance(time.Hour)
	if _, err := f.tr.ChangeStatus(ctx, f.dev.ID, task.ID, models.TaskStatusInProgress); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if _, err := f.tr.ChangeStatus(ctx, f.dev.ID, task.ID, models.TaskStatusReview); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	f.clock.Advance(30 * time.Minute)

	tl, err := f.tr.Timeline(ctx, f.viewer.ID, task.ID)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	want := map[models.TaskStatus]time.Duration{
		models.TaskStatusTodo:       time.Hour,
		models.TaskStatusInProgress: 2 * time.Hour,
		models.TaskStatusReview:     30 * time.Minute,
	}
	for status, d := range want {
		if tl.StatusDurations[status] != d {
			t.Errorf("%s: expected %s, got %s", status, d, tl.StatusDurations[status])
		}
	}
	if tl.CurrentStep != 30*time.Minute || tl.TotalElapsed != 3*time.Hour+30*time.Minute {
		t.Errorf("unexpected current step %s or total %s", tl.CurrentStep, tl.TotalElapsed)
	}
	if strings.Contains(f.logs.String(), "attributed to todo") {
		t.Errorf("no fallback expected")
	}

	if _, err := f.tr.Timeline(ctx, f.outside.ID, task.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("expected ErrForbidden for outsider, got %v", err)
	}
}

func TestTimelineLogsMissingNewValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, f.dev, "Legacy import")

	f.clock.Advance(time.Hour)
	_, err := f.tr.DB().ExecContext(ctx, `
		INSERT INTO task_history (id, task_id, actor_id, action, old_value, new_value, created_at)
		VALUES ('legacy-1', ?, NULL, 'status_changed', 'todo', NULL, ?)
	`, task.ID, f.clock.Now())
	if err != nil {
		t.Fatalf("Failed to insert legacy event: %v", err)
	}
	f.clock.Advance(time.Hour)

	tl, err := f.tr.Timeline(ctx, f.dev.ID, task.ID)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if tl.MissingNewValues != 1 {
		t.Errorf("expected 1 missing new value, got %d", tl.MissingNewValues)
	}
	if tl.StatusDurations[models.TaskStatusTodo] != 2*time.Hour {
		t.Errorf("expected the gap attributed to todo, got %v", tl.StatusDurations)
	}
	if !strings.Contains(f.logs.String(), "attributed to todo") {
		t.Errorf("expected a warning, got %q", f.logs.String())
	}
}

func TestSprintReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sprint := &models.Sprint{
		ProjectID: f.project.ID,
		Name:      "Sprint 1",
		StartDate: epoch,
		EndDate:   epoch.Add(3 * 24 * time.Hour),
	}
	if err := f.tr.CreateSprint(ctx, f.dev.ID, sprint); err != nil {
		t.Fatalf("CreateSprint failed: %v", err)
	}

	points := func(n int) *int { return &n }
	a := &models.Task{ProjectID: f.project.ID, SprintID: &sprint.ID, Title: "A", StoryPoints: points(3)}
	b := &models.Task{ProjectID: f.project.ID, SprintID: &sprint.ID, Title: "B", StoryPoints: points(5)}
	for _, task := range []*models.Task{a, b} {
		if err := f.tr.CreateTask(ctx, f.dev.ID, task); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}
	if err := f.tr.StartSprint(ctx, f.dev.ID, sprint.ID); err != nil {
		t.Fatalf("StartSprint failed: %v", err)
	}

	f.clock.Advance(26 * time.Hour)
	if _, err := f.tr.ChangeStatus(ctx, f.dev.ID, a.ID, models.TaskStatusCompleted); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}
	f.clock.Advance(time.Hour)

	burndown, err := f.tr.Burndown(ctx, f.viewer.ID, sprint.ID)
	if err != nil {
		t.Fatalf("Burndown failed: %v", err)
	}
	if len(burndown) != 2 || burndown[0].Remaining != 8 || burndown[1].Remaining != 5 {
		t.Errorf("unexpected burndown: %+v", burndown)
	}

	board, err := f.tr.Board(ctx, f.viewer.ID, f.project.ID)
	if err != nil {
		t.Fatalf("Board failed: %v", err)
	}
	if board.Sprint == nil || board.Sprint.ID != sprint.ID || len(board.Columns) != 4 {
		t.Fatalf("unexpected board: %+v", board)
	}
	if board.Columns[0].Count != 1 || len(board.Columns[3].Tasks) != 1 || board.Columns[3].Tasks[0].ID != a.ID {
		t.Errorf("unexpected columns: %+v", board.Columns)
	}

	if err := f.tr.CompleteSprint(ctx, f.dev.ID, sprint.ID); err != nil {
		t.Fatalf("CompleteSprint failed: %v", err)
	}
	velocity, err := f.tr.Velocity(ctx, f.viewer.ID, f.project.ID)
	if err != nil {
		t.Fatalf("Velocity failed: %v", err)
	}
	if len(velocity.Sprints) != 1 || velocity.Sprints[0].Completed != 3 {
		t.Errorf("unexpected velocity: %+v", velocity)
	}

	cycle, err := f.tr.CycleTime(ctx, f.viewer.ID, f.project.ID)
	if err != nil {
		t.Fatalf("CycleTime failed: %v", err)
	}
	if len(cycle.Tasks) != 1 || cycle.Tasks[0].Lead != 26*time.Hour {
		t.Errorf("unexpected cycle report: %+v", cycle.Tasks)
	}

	if _, err := f.tr.Burndown(ctx, f.dev.ID, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProjectsAndMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	projects, err := f.tr.ListProjects(ctx, f.viewer.ID, nil)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("expected 1 visible project, got %d", len(projects))
	}
	projects, err = f.tr.ListProjects(ctx, f.outside.ID, nil)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("outsider should see no projects, got %d", len(projects))
	}
	if _, err := f.tr.ListProjects(ctx, f.outside.ID, &f.ws.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	p, err := f.tr.ProjectByKey(ctx, f.dev.ID, "WEB")
	if err != nil || p.ID != f.project.ID {
		t.Errorf("ProjectByKey: %v, %v", p, err)
	}

	if err := f.tr.CreateProject(ctx, f.dev.ID, &models.Project{WorkspaceID: f.ws.ID, Key: "api"}); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("members cannot create projects, got %v", err)
	}

	if err := f.tr.ChangeRole(ctx, f.dev.ID, f.ws.ID, f.viewer.ID, models.RoleMember); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("member cannot change roles, got %v", err)
	}
	if err := f.tr.ChangeRole(ctx, f.owner.ID, f.ws.ID, f.dev.ID, models.RoleAdmin); err != nil {
		t.Fatalf("ChangeRole failed: %v", err)
	}
	if err := f.tr.ChangeRole(ctx, f.dev.ID, f.ws.ID, f.viewer.ID, models.RoleOwner); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("admin cannot grant ownership, got %v", err)
	}
	if err := f.tr.RemoveMember(ctx, f.dev.ID, f.ws.ID, f.owner.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("admin cannot remove owner, got %v", err)
	}
	if err := f.tr.RemoveMember(ctx, f.viewer.ID, f.ws.ID, f.viewer.ID); err != nil {
		t.Errorf("members may leave: %v", err)
	}

	members, err := f.tr.Members(ctx, f.owner.ID, f.ws.ID)
	if err != nil {
		t.Fatalf("Members failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}
}

func TestInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.tr.Invite(ctx, f.dev.ID, f.ws.ID, f.outside.Email, models.RoleMember); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("members cannot invite, got %v", err)
	}

	inv, err := f.tr.Invite(ctx, f.owner.ID, f.ws.ID, f.outside.Email, models.RoleMember)
	if err != nil {
		t.Fatalf("Invite failed: %v", err)
	}
	ns := f.notifications(t, f.outside)
	if len(ns) != 1 || ns[0].Type != models.NotificationInvitation {
		t.Errorf("expected invitation notification, got %+v", ns)
	}

	if _, err := f.tr.AcceptInvitation(ctx, f.outside.ID, inv.Token); err != nil {
		t.Fatalf("AcceptInvitation failed: %v", err)
	}
	if _, err := f.tr.GetProject(ctx, f.outside.ID, f.project.ID); err != nil {
		t.Errorf("new member should see the project: %v", err)
	}
}

func TestCommitPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staging := f.tr.DB().Staging

	staging.AddSprint("s1", &models.Sprint{ProjectID: f.project.ID, Name: "Sprint 9", StartDate: epoch, EndDate: epoch.Add(14 * 24 * time.Hour)})
	staging.AddTask("s1", &models.Task{ProjectID: f.project.ID, Title: "Planned"}, "Sprint 9")

	if _, err := f.tr.CommitPlan(ctx, f.viewer.ID, "s1"); !errors.Is(err, access.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if staging.Peek("s1").Empty() {
		t.Fatalf("a refused plan should stay staged")
	}

	plan, err := f.tr.CommitPlan(ctx, f.dev.ID, "s1")
	if err != nil {
		t.Fatalf("CommitPlan failed: %v", err)
	}
	if len(plan.Tasks) != 1 || plan.Tasks[0].Task.ReporterID != f.dev.ID || plan.Tasks[0].Task.SprintID == nil {
		t.Errorf("unexpected committed task: %+v", plan.Tasks[0].Task)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.task(t, f.owner, "One")
	two := f.task(t, f.owner, "Two")
	if _, err := f.tr.ChangeStatus(ctx, f.owner.ID, two.ID, models.TaskStatusReview); err != nil {
		t.Fatalf("ChangeStatus failed: %v", err)
	}

	s, err := f.tr.Summary(ctx, f.viewer.ID)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if s.Projects != 1 || s.Tasks != 2 || s.ByStatus[models.TaskStatusTodo] != 1 || s.ByStatus[models.TaskStatusReview] != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Init(context.Background()))
	return database
}

func TestLoad(t *testing.T) {
	f, err := Load("testdata/demo.yaml")
	require.NoError(t, err)

	require.Len(t, f.Users, 3)
	require.Len(t, f.Workspaces, 1)
	ws := f.Workspaces[0]
	assert.Equal(t, "acme", ws.Slug)
	require.Len(t, ws.Projects, 1)

	p := ws.Projects[0]
	assert.Equal(t, 2, p.WIPLimits[models.TaskStatusInProgress])
	require.Len(t, p.Tasks, 3)
	require.NotNil(t, p.Tasks[0].Points)
	assert.Equal(t, 5, *p.Tasks[0].Points)
	assert.Equal(t, []string{"Landing page"}, p.Tasks[1].BlockedBy)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("users:\n  - email: a@b.c\n    nickname: a\n"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Workspaces)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	var changes int
	database.SetOnChange(func(context.Context, models.Change) { changes++ })

	f, err := Load("testdata/demo.yaml")
	require.NoError(t, err)

	res, err := Apply(ctx, database, f)
	require.NoError(t, err)
	assert.Equal(t, &Result{Users: 3, Workspaces: 1, Projects: 1, Sprints: 1, Tasks: 3, Comments: 1}, res)
	assert.Zero(t, changes, "seeding should not fire change hooks")

	ws, err := database.GetWorkspaceBySlug(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, ws)
	members, err := database.ListMembers(ctx, ws.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	project, err := database.GetProjectByKey(ctx, ws.ID, "web")
	require.NoError(t, err)
	require.NotNil(t, project)

	limit, err := database.GetWIPLimit(ctx, project.ID, models.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, 2, limit)

	sprint, err := database.GetActiveSprint(ctx, project.ID)
	require.NoError(t, err)
	require.NotNil(t, sprint)
	assert.Equal(t, "Sprint 1", sprint.Name)

	tasks, err := database.ListTasks(ctx, db.TaskFilter{ProjectID: &project.ID})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	byTitle := make(map[string]*models.Task)
	for _, task := range tasks {
		byTitle[task.Title] = task
	}
	landing := byTitle["Landing page"]
	assert.Equal(t, models.TaskStatusInProgress, landing.Status)
	require.NotNil(t, landing.AssigneeID)
	assert.Equal(t, models.PriorityMedium, byTitle["Pricing table"].Priority)
	assert.True(t, byTitle["Blog"].InBacklog())
	require.NotNil(t, byTitle["Blog"].DueDate)

	blockers, err := database.GetBlockers(ctx, byTitle["Pricing table"].ID)
	require.NoError(t, err)
	require.Len(t, blockers, 1)
	assert.Equal(t, landing.ID, blockers[0].ID)

	comments, err := database.ListComments(ctx, byTitle["Pricing table"].ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Ada Lovelace", comments[0].AuthorName)
}

func TestApplyReusesExisting(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	f, err := Load("testdata/demo.yaml")
	require.NoError(t, err)
	_, err = Apply(ctx, database, f)
	require.NoError(t, err)

	// A second pass only adds tasks; users, the workspace and the project
	// are found by email, slug and key. Sprint names must not clash with an
	// active sprint, so drop them.
	p := &f.Workspaces[0].Projects[0]
	p.Sprints = nil
	for i := range p.Tasks {
		p.Tasks[i].Sprint = ""
	}

	res, err := Apply(ctx, database, f)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Users)
	assert.Equal(t, 0, res.Workspaces)
	assert.Equal(t, 0, res.Projects)
	assert.Equal(t, 3, res.Tasks)
}

func TestApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown sprint",
			yaml: `
workspaces:
  - {name: A, slug: a, owner: a@x.io, projects: [{key: P, name: P, tasks: [{title: T, sprint: Nope}]}]}
`,
			want: `unknown sprint "Nope"`,
		},
		{
			name: "unknown blocker",
			yaml: `
workspaces:
  - {name: A, slug: a, owner: a@x.io, projects: [{key: P, name: P, tasks: [{title: T, blocked_by: [Ghost]}]}]}
`,
			want: `unknown blocker "Ghost"`,
		},
		{
			name: "bad date",
			yaml: `
workspaces:
  - {name: A, slug: a, owner: a@x.io, projects: [{key: P, name: P, sprints: [{name: S, start: tomorrow, end: 2025-01-02}]}]}
`,
			want: "invalid start date",
		},
		{
			name: "missing owner",
			yaml: `
workspaces:
  - {name: A, slug: a}
`,
			want: "user email is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(strings.NewReader(tt.yaml))
			require.NoError(t, err)
			_, err = Apply(context.Background(), newTestDB(t), f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	f, err := Load("testdata/demo.yaml")
	require.NoError(t, err)

	data, err := Marshal(f)
	require.NoError(t, err)

	back, err := Parse(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, f, back)
}

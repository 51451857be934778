// Package seed loads demo or fixture data from a YAML file into the
// database. Users, workspaces and projects that already exist are reused,
// so a seed file can be applied on top of an imported snapshot.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/pkg/models"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

type File struct {
	Users      []User      `yaml:"users"`
	Workspaces []Workspace `yaml:"workspaces"`
}

type User struct {
	Email    string `yaml:"email"`
	FullName string `yaml:"full_name"`
}

type Workspace struct {
	Name     string    `yaml:"name"`
	Slug     string    `yaml:"slug"`
	Owner    string    `yaml:"owner"`
	Members  []Member  `yaml:"members,omitempty"`
	Projects []Project `yaml:"projects,omitempty"`
}

type Member struct {
	Email string      `yaml:"email"`
	Role  models.Role `yaml:"role"`
}

type Project struct {
	Key         string                    `yaml:"key"`
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description,omitempty"`
	WIPLimits   map[models.TaskStatus]int `yaml:"wip_limits,omitempty"`
	Sprints     []Sprint                  `yaml:"sprints,omitempty"`
	Tasks       []Task                    `yaml:"tasks,omitempty"`
}

type Sprint struct {
	Name   string              `yaml:"name"`
	Goal   string              `yaml:"goal,omitempty"`
	Start  string              `yaml:"start"`
	End    string              `yaml:"end"`
	Status models.SprintStatus `yaml:"status,omitempty"`
}

type Task struct {
	Title       string            `yaml:"title"`
	Description string            `yaml:"description,omitempty"`
	Status      models.TaskStatus `yaml:"status,omitempty"`
	Priority    models.Priority   `yaml:"priority,omitempty"`
	Reporter    string            `yaml:"reporter,omitempty"`
	Assignee    string            `yaml:"assignee,omitempty"`
	Points      *int              `yaml:"points,omitempty"`
	Due         string            `yaml:"due,omitempty"`
	Sprint      string            `yaml:"sprint,omitempty"`
	BlockedBy   []string          `yaml:"blocked_by,omitempty"`
	Comments    []Comment         `yaml:"comments,omitempty"`
}

type Comment struct {
	Author string `yaml:"author"`
	Body   string `yaml:"body"`
}

// Result counts what Apply created.
type Result struct {
	Users      int
	Workspaces int
	Projects   int
	Sprints    int
	Tasks      int
	Comments   int
}

func (r *Result) String() string {
	return fmt.Sprintf("%d users, %d workspaces, %d projects, %d sprints, %d tasks, %d comments",
		r.Users, r.Workspaces, r.Projects, r.Sprints, r.Tasks, r.Comments)
}

// Parse decodes a seed file. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Marshal renders f back to YAML.
func Marshal(f *File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode seed file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode seed file: %w", err)
	}
	return buf.Bytes(), nil
}

type applier struct {
	db     *db.DB
	users  map[string]*models.User
	result Result
}

// Apply writes f into the database. Change notifications are suspended
// while seeding. On error the result counts what was written before it.
func Apply(ctx context.Context, database *db.DB, f *File) (*Result, error) {
	a := &applier{db: database, users: make(map[string]*models.User)}

	database.DisableOnChange()
	defer database.EnableOnChange()
	err := a.apply(ctx, f)
	return &a.result, err
}

func (a *applier) apply(ctx context.Context, f *File) error {
	for _, u := range f.Users {
		if _, err := a.user(ctx, u.Email, u.FullName); err != nil {
			return err
		}
	}
	for _, w := range f.Workspaces {
		if err := a.workspace(ctx, w); err != nil {
			return fmt.Errorf("workspace %s: %w", w.Slug, err)
		}
	}
	return nil
}

// user returns the user with email, creating it when unknown.
func (a *applier) user(ctx context.Context, email, fullName string) (*models.User, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return nil, fmt.Errorf("user email is required")
	}
	if u, ok := a.users[key]; ok {
		return u, nil
	}

	u, err := a.db.GetUserByEmail(ctx, key)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if fullName == "" {
			fullName, _, _ = strings.Cut(key, "@")
		}
		u = &models.User{Email: key, FullName: fullName}
		if err := a.db.CreateUser(ctx, u); err != nil {
			return nil, err
		}
		a.result.Users++
	}
	a.users[key] = u
	return u, nil
}

func (a *applier) workspace(ctx context.Context, w Workspace) error {
	owner, err := a.user(ctx, w.Owner, "")
	if err != nil {
		return err
	}

	ws, err := a.db.GetWorkspaceBySlug(ctx, w.Slug)
	if err != nil {
		return err
	}
	if ws == nil {
		ws = &models.Workspace{Name: w.Name, Slug: w.Slug, OwnerID: owner.ID}
		if err := a.db.CreateWorkspace(ctx, ws); err != nil {
			return err
		}
		a.result.Workspaces++
	}

	for _, m := range w.Members {
		u, err := a.user(ctx, m.Email, "")
		if err != nil {
			return err
		}
		role := m.Role
		if role == "" {
			role = models.RoleMember
		}
		if err := a.db.AddMember(ctx, ws.ID, u.ID, role); err != nil {
			return err
		}
	}

	for _, p := range w.Projects {
		if err := a.project(ctx, ws, owner, p); err != nil {
			return fmt.Errorf("project %s: %w", p.Key, err)
		}
	}
	return nil
}

func (a *applier) project(ctx context.Context, ws *models.Workspace, owner *models.User, p Project) error {
	project, err := a.db.GetProjectByKey(ctx, ws.ID, p.Key)
	if err != nil {
		return err
	}
	if project == nil {
		project = &models.Project{WorkspaceID: ws.ID, Key: p.Key, Name: p.Name, Description: p.Description}
		if err := a.db.CreateProject(ctx, project); err != nil {
			return err
		}
		a.result.Projects++
	}

	for status, limit := range p.WIPLimits {
		if err := a.db.SetWIPLimit(ctx, project.ID, status, limit); err != nil {
			return err
		}
	}

	sprints := make(map[string]string)
	for _, s := range p.Sprints {
		id, err := a.sprint(ctx, project, s)
		if err != nil {
			return fmt.Errorf("sprint %s: %w", s.Name, err)
		}
		sprints[s.Name] = id
	}

	titles := make(map[string]string)
	for _, t := range p.Tasks {
		id, err := a.task(ctx, project, owner, sprints, t)
		if err != nil {
			return fmt.Errorf("task %q: %w", t.Title, err)
		}
		titles[t.Title] = id
	}

	for _, t := range p.Tasks {
		for _, title := range t.BlockedBy {
			other, ok := titles[title]
			if !ok {
				return fmt.Errorf("task %q: unknown blocker %q", t.Title, title)
			}
			if err := a.db.CreateBlocker(ctx, titles[t.Title], other); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *applier) sprint(ctx context.Context, project *models.Project, s Sprint) (string, error) {
	start, err := time.Parse(dateLayout, s.Start)
	if err != nil {
		return "", fmt.Errorf("invalid start date: %w", err)
	}
	end, err := time.Parse(dateLayout, s.End)
	if err != nil {
		return "", fmt.Errorf("invalid end date: %w", err)
	}

	sprint := &models.Sprint{ProjectID: project.ID, Name: s.Name, Goal: s.Goal, StartDate: start, EndDate: end}
	if err := a.db.CreateSprint(ctx, sprint); err != nil {
		return "", err
	}
	a.result.Sprints++

	switch s.Status {
	case "", models.SprintStatusPlanned:
	case models.SprintStatusActive:
		err = a.db.StartSprint(ctx, sprint.ID)
	case models.SprintStatusCompleted:
		if err = a.db.StartSprint(ctx, sprint.ID); err == nil {
			err = a.db.CompleteSprint(ctx, sprint.ID)
		}
	default:
		err = fmt.Errorf("invalid sprint status: %s", s.Status)
	}
	return sprint.ID, err
}

func (a *applier) task(ctx context.Context, project *models.Project, owner *models.User, sprints map[string]string, t Task) (string, error) {
	reporter := owner
	if t.Reporter != "" {
		u, err := a.user(ctx, t.Reporter, "")
		if err != nil {
			return "", err
		}
		reporter = u
	}

	task := &models.Task{
		ProjectID:   project.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		ReporterID:  reporter.ID,
		StoryPoints: t.Points,
	}
	if t.Assignee != "" {
		u, err := a.user(ctx, t.Assignee, "")
		if err != nil {
			return "", err
		}
		task.AssigneeID = &u.ID
	}
	if t.Sprint != "" {
		id, ok := sprints[t.Sprint]
		if !ok {
			return "", fmt.Errorf("unknown sprint %q", t.Sprint)
		}
		task.SprintID = &id
	}
	if t.Due != "" {
		due, err := time.Parse(dateLayout, t.Due)
		if err != nil {
			return "", fmt.Errorf("invalid due date: %w", err)
		}
		task.DueDate = &due
	}

	if err := a.db.CreateTask(ctx, task); err != nil {
		return "", err
	}
	a.result.Tasks++

	for _, c := range t.Comments {
		author, err := a.user(ctx, c.Author, "")
		if err != nil {
			return "", err
		}
		if err := a.db.AddComment(ctx, &models.Comment{TaskID: task.ID, AuthorID: author.ID, Body: c.Body}); err != nil {
			return "", err
		}
		a.result.Comments++
	}
	return task.ID, nil
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/tracker"
	"github.com/ldi/sprintboard/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const defaultSession = "default"

// NewServer creates an MCP server whose tools act as actorID.
func NewServer(tr *tracker.Tracker, actorID, version string) *server.MCPServer {
	s := server.NewMCPServer("Sprintboard", version)
	h := &handlers{tracker: tr, actor: actorID}

	// Projects and tasks
	s.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List the projects you can see."),
	), h.listProjects)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with optional filters."),
		mcp.WithString("project", mcp.Description("Project key or id")),
		mcp.WithString("status", mcp.Description("Filter by status (todo|in_progress|review|completed)")),
		mcp.WithString("assignee_id", mcp.Description("Filter by assignee user id")),
		mcp.WithBoolean("backlog", mcp.Description("Only tasks outside any sprint")),
	), h.listTasks)

	s.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a task in a project."),
		mcp.WithString("project", mcp.Description("Project key or id"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("Priority (low|medium|high|urgent)")),
		mcp.WithNumber("story_points", mcp.Description("Story point estimate")),
		mcp.WithString("assignee_id", mcp.Description("Assignee user id")),
	), h.createTask)

	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Move a task to another board column."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status (todo|in_progress|review|completed)"), mcp.Required()),
	), h.updateTaskStatus)

	s.AddTool(mcp.NewTool("assign_task",
		mcp.WithDescription("Assign a task to a workspace member. Omit assignee_id to unassign."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("assignee_id", mcp.Description("Assignee user id")),
	), h.assignTask)

	s.AddTool(mcp.NewTool("add_comment",
		mcp.WithDescription("Comment on a task. @Name or @\"Full Name\" notifies workspace members."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("body", mcp.Description("Comment text"), mcp.Required()),
	), h.addComment)

	// Reports
	s.AddTool(mcp.NewTool("get_task_timeline",
		mcp.WithDescription("Get how long a task has spent in each status."),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
	), h.taskTimeline)

	s.AddTool(mcp.NewTool("get_sprint_burndown",
		mcp.WithDescription("Get the daily burndown of a sprint."),
		mcp.WithString("sprint_id", mcp.Description("Sprint id"), mcp.Required()),
	), h.sprintBurndown)

	s.AddTool(mcp.NewTool("list_notifications",
		mcp.WithDescription("List your notifications."),
		mcp.WithBoolean("unread", mcp.Description("Only unread notifications")),
	), h.listNotifications)

	// Sprint planning
	s.AddTool(mcp.NewTool("stage_sprint_task",
		mcp.WithDescription("Propose a task for a sprint. Give task_id to plan an existing task, or title to stage a new one. Changes are staged and must be committed to take effect."),
		mcp.WithString("project", mcp.Description("Project key or id"), mcp.Required()),
		mcp.WithString("sprint", mcp.Description("Sprint name; a sprint that does not exist yet is staged too"), mcp.Required()),
		mcp.WithString("task_id", mcp.Description("Existing task to move into the sprint")),
		mcp.WithString("title", mcp.Description("Title of a new task")),
		mcp.WithString("description", mcp.Description("Description of a new task")),
		mcp.WithNumber("story_points", mcp.Description("Story points of a new task")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging changes (defaults to 'default').")),
	), h.stageSprintTask)

	s.AddTool(mcp.NewTool("list_staged_plan",
		mcp.WithDescription("List the staged sprint plan for a session. Use this to review a plan before committing."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), h.listStagedPlan)

	s.AddTool(mcp.NewTool("commit_sprint_plan",
		mcp.WithDescription("Commit the staged sprint plan for a session in one transaction."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), h.commitSprintPlan)

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type handlers struct {
	tracker *tracker.Tracker
	actor   string
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.Params.Arguments.(map[string]any)
	return args
}

// optionalString returns nil when the argument is absent or empty.
func optionalString(request mcp.CallToolRequest, key string) *string {
	v, ok := arguments(request)[key].(string)
	if !ok || v == "" {
		return nil
	}
	return &v
}

func optionalInt(request mcp.CallToolRequest, key string) *int {
	if _, ok := arguments(request)[key]; !ok {
		return nil
	}
	v := mcp.ParseInt(request, key, 0)
	return &v
}

func (h *handlers) listProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := h.tracker.ListProjects(ctx, h.actor, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(projects)
}

func (h *handlers) listTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var f db.TaskFilter
	if key := mcp.ParseString(request, "project", ""); key != "" {
		p, err := h.tracker.ProjectByKey(ctx, h.actor, key)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f.ProjectID = &p.ID
	}
	if v := mcp.ParseString(request, "status", ""); v != "" {
		status := models.TaskStatus(v)
		if !status.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", v)), nil
		}
		f.Status = &status
	}
	f.AssigneeID = optionalString(request, "assignee_id")
	f.Backlog = mcp.ParseBoolean(request, "backlog", false)

	tasks, err := h.tracker.ListTasks(ctx, h.actor, f)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tasks)
}

func (h *handlers) createTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := h.tracker.ProjectByKey(ctx, h.actor, mcp.ParseString(request, "project", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	t := &models.Task{
		ProjectID:   p.ID,
		Title:       mcp.ParseString(request, "title", ""),
		Description: mcp.ParseString(request, "description", ""),
		Priority:    models.Priority(mcp.ParseString(request, "priority", "")),
		StoryPoints: optionalInt(request, "story_points"),
		AssigneeID:  optionalString(request, "assignee_id"),
	}
	if t.Title == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	if err := h.tracker.CreateTask(ctx, h.actor, t); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (h *handlers) updateTaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "task_id", "")
	status := models.TaskStatus(mcp.ParseString(request, "status", ""))

	res, err := h.tracker.ChangeStatus(ctx, h.actor, id, status)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Changed {
		return mcp.NewToolResultText(fmt.Sprintf("Task is already %s", status)), nil
	}
	msg := fmt.Sprintf("Task moved from %s to %s", res.From, status)
	if res.Warning != nil {
		msg += ". Warning: " + res.Warning.String()
	}
	return mcp.NewToolResultText(msg), nil
}

func (h *handlers) assignTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t, err := h.tracker.Assign(ctx, h.actor, mcp.ParseString(request, "task_id", ""), optionalString(request, "assignee_id"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (h *handlers) addComment(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, sent, err := h.tracker.AddComment(ctx, h.actor, mcp.ParseString(request, "task_id", ""), mcp.ParseString(request, "body", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Comment %s added, %d notification(s) sent", c.ID, len(sent))), nil
}

func (h *handlers) taskTimeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tl, err := h.tracker.Timeline(ctx, h.actor, mcp.ParseString(request, "task_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tl)
}

func (h *handlers) sprintBurndown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	points, err := h.tracker.Burndown(ctx, h.actor, mcp.ParseString(request, "sprint_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(points)
}

func (h *handlers) listNotifications(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ns, err := h.tracker.Notifications(ctx, h.actor, mcp.ParseBoolean(request, "unread", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ns)
}

// stageSprintTask stages a new task or a move into a named sprint. When the
// sprint does not exist and is not staged yet, a two-week sprint starting
// today is staged with it.
func (h *handlers) stageSprintTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(request, "session_id", defaultSession)
	sprintName := mcp.ParseString(request, "sprint", "")
	taskID := mcp.ParseString(request, "task_id", "")
	title := mcp.ParseString(request, "title", "")
	if sprintName == "" {
		return mcp.NewToolResultError("sprint is required"), nil
	}
	if (taskID == "") == (title == "") {
		return mcp.NewToolResultError("exactly one of task_id and title is required"), nil
	}

	p, err := h.tracker.ProjectByKey(ctx, h.actor, mcp.ParseString(request, "project", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := h.ensureSprint(ctx, sessionID, p.ID, sprintName); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	staging := h.tracker.DB().Staging
	if taskID != "" {
		t, err := h.tracker.GetTask(ctx, h.actor, taskID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if t.ProjectID != p.ID {
			return mcp.NewToolResultError(fmt.Sprintf("task %s is not in project %s", taskID, p.Key)), nil
		}
		staging.AddMove(sessionID, &db.StagedMove{TaskID: taskID, SprintName: sprintName})
		return mcp.NewToolResultText(fmt.Sprintf("Move of '%s' into '%s' staged for session '%s'. Stage more or call 'commit_sprint_plan' to apply.", t.Title, sprintName, sessionID)), nil
	}

	staging.AddTask(sessionID, &models.Task{
		ProjectID:   p.ID,
		Title:       title,
		Description: mcp.ParseString(request, "description", ""),
		StoryPoints: optionalInt(request, "story_points"),
		ReporterID:  h.actor,
	}, sprintName)
	return mcp.NewToolResultText(fmt.Sprintf("Task '%s' staged into '%s' for session '%s'. Stage more or call 'commit_sprint_plan' to apply.", title, sprintName, sessionID)), nil
}

func (h *handlers) ensureSprint(ctx context.Context, sessionID, projectID, name string) error {
	for _, s := range h.tracker.DB().Staging.Peek(sessionID).Sprints {
		if s.ProjectID == projectID && s.Name == name {
			return nil
		}
	}
	sprints, err := h.tracker.ListSprints(ctx, h.actor, projectID)
	if err != nil {
		return err
	}
	for _, s := range sprints {
		if s.Name == name {
			return nil
		}
	}

	start := h.tracker.DB().Now
	if start == nil {
		start = time.Now
	}
	today := start().UTC().Truncate(24 * time.Hour)
	h.tracker.DB().Staging.AddSprint(sessionID, &models.Sprint{
		ProjectID: projectID,
		Name:      name,
		StartDate: today,
		EndDate:   today.Add(13 * 24 * time.Hour),
	})
	return nil
}

func (h *handlers) listStagedPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.tracker.DB().Staging.Peek(mcp.ParseString(request, "session_id", defaultSession)))
}

func (h *handlers) commitSprintPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := mcp.ParseString(request, "session_id", defaultSession)
	plan, err := h.tracker.CommitPlan(ctx, h.actor, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if plan.Empty() {
		return mcp.NewToolResultText(fmt.Sprintf("Nothing staged for session '%s'", sessionID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sprint plan for session '%s' committed: %d sprint(s), %d new task(s), %d move(s)",
		sessionID, len(plan.Sprints), len(plan.Tasks), len(plan.Moves))), nil
}

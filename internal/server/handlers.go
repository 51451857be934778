package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/pkg/models"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.tracker.DB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMe(c *gin.Context) {
	u, err := s.tracker.DB().GetUser(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.tracker.Summary(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// Workspaces

func (s *Server) handleListWorkspaces(c *gin.Context) {
	workspaces, err := s.tracker.ListWorkspaces(c.Request.Context(), actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(workspaces))
}

type workspaceRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req workspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ws := &models.Workspace{Name: req.Name, Slug: req.Slug}
	if err := s.tracker.CreateWorkspace(c.Request.Context(), actor(c), ws); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, ws)
}

func (s *Server) handleListMembers(c *gin.Context) {
	members, err := s.tracker.Members(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(members))
}

type roleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

func (s *Server) handleChangeRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.tracker.ChangeRole(c.Request.Context(), actor(c), c.Param("id"), c.Param("userID"), req.Role); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"user_id": c.Param("userID"), "role": req.Role})
}

func (s *Server) handleRemoveMember(c *gin.Context) {
	if err := s.tracker.RemoveMember(c.Request.Context(), actor(c), c.Param("id"), c.Param("userID")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

type inviteRequest struct {
	Email string      `json:"email" binding:"required"`
	Role  models.Role `json:"role"`
}

func (s *Server) handleInvite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}
	inv, err := s.tracker.Invite(c.Request.Context(), actor(c), c.Param("id"), req.Email, req.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, inv)
}

func (s *Server) handleAcceptInvitation(c *gin.Context) {
	inv, err := s.tracker.AcceptInvitation(c.Request.Context(), actor(c), c.Param("token"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, inv)
}

func (s *Server) handleDeclineInvitation(c *gin.Context) {
	if err := s.tracker.DeclineInvitation(c.Request.Context(), actor(c), c.Param("token")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) handleListInvitations(c *gin.Context) {
	invs, err := s.tracker.Invitations(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, invs)
}

func (s *Server) handleRevokeInvitation(c *gin.Context) {
	if err := s.tracker.RevokeInvitation(c.Request.Context(), actor(c), c.Param("id"), c.Param("invitationID")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

// Projects

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.tracker.ListProjects(c.Request.Context(), actor(c), nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(projects))
}

func (s *Server) handleListWorkspaceProjects(c *gin.Context) {
	id := c.Param("id")
	projects, err := s.tracker.ListProjects(c.Request.Context(), actor(c), &id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(projects))
}

type projectRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Key         string `json:"key"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (s *Server) handleCreateProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.WorkspaceID == "" || req.Key == "" {
		badRequest(c, fmt.Errorf("workspace_id and key are required"))
		return
	}
	p := &models.Project{WorkspaceID: req.WorkspaceID, Key: req.Key, Name: req.Name, Description: req.Description}
	if err := s.tracker.CreateProject(c.Request.Context(), actor(c), p); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, p)
}

func (s *Server) handleGetProject(c *gin.Context) {
	p, err := s.tracker.GetProject(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) handleUpdateProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	p, err := s.tracker.GetProject(ctx, actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	p.Name, p.Description = req.Name, req.Description
	if err := s.tracker.UpdateProject(ctx, actor(c), p); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(c *gin.Context) {
	if err := s.tracker.DeleteProject(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) handleBoard(c *gin.Context) {
	board, err := s.tracker.Board(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, board)
}

type wipRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleSetWIPLimit(c *gin.Context) {
	var req wipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status := models.TaskStatus(c.Param("status"))
	if err := s.tracker.SetWIPLimit(c.Request.Context(), actor(c), c.Param("id"), status, req.Limit); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"status": status, "wip_limit": req.Limit})
}

func (s *Server) handleVelocity(c *gin.Context) {
	report, err := s.tracker.Velocity(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

func (s *Server) handleCycleTime(c *gin.Context) {
	report, err := s.tracker.CycleTime(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, report)
}

// Sprints

func (s *Server) handleListSprints(c *gin.Context) {
	sprints, err := s.tracker.ListSprints(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(sprints))
}

type sprintRequest struct {
	Name      string    `json:"name" binding:"required"`
	Goal      string    `json:"goal"`
	StartDate time.Time `json:"start_date" binding:"required"`
	EndDate   time.Time `json:"end_date" binding:"required"`
}

func (s *Server) handleCreateSprint(c *gin.Context) {
	var req sprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sprint := &models.Sprint{
		ProjectID: c.Param("id"),
		Name:      req.Name,
		Goal:      req.Goal,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	}
	if err := s.tracker.CreateSprint(c.Request.Context(), actor(c), sprint); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, sprint)
}

func (s *Server) handleStartSprint(c *gin.Context) {
	if err := s.tracker.StartSprint(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) handleCompleteSprint(c *gin.Context) {
	if err := s.tracker.CompleteSprint(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) handleBurndown(c *gin.Context) {
	points, err := s.tracker.Burndown(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(points))
}

// Tasks

func (s *Server) handleListTasks(c *gin.Context) {
	var f db.TaskFilter
	if v := c.Query("project_id"); v != "" {
		f.ProjectID = &v
	}
	if v := c.Query("sprint_id"); v != "" {
		f.SprintID = &v
	}
	if v := c.Query("assignee_id"); v != "" {
		f.AssigneeID = &v
	}
	if v := c.Query("status"); v != "" {
		status := models.TaskStatus(v)
		if !status.Valid() {
			badRequest(c, fmt.Errorf("invalid status: %s", v))
			return
		}
		f.Status = &status
	}
	if v := c.Query("backlog"); v != "" {
		backlog, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid backlog flag: %w", err))
			return
		}
		f.Backlog = backlog
	}

	tasks, err := s.tracker.ListTasks(c.Request.Context(), actor(c), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(tasks))
}

type taskRequest struct {
	ProjectID   string            `json:"project_id"`
	SprintID    *string           `json:"sprint_id"`
	Title       string            `json:"title" binding:"required"`
	Description string            `json:"description"`
	Status      models.TaskStatus `json:"status"`
	Priority    models.Priority   `json:"priority"`
	AssigneeID  *string           `json:"assignee_id"`
	StoryPoints *int              `json:"story_points"`
	DueDate     *time.Time        `json:"due_date"`
	Position    int               `json:"position"`
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.ProjectID == "" {
		badRequest(c, fmt.Errorf("project_id is required"))
		return
	}
	t := &models.Task{
		ProjectID:   req.ProjectID,
		SprintID:    req.SprintID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		StoryPoints: req.StoryPoints,
		DueDate:     req.DueDate,
		Position:    req.Position,
	}
	if err := s.tracker.CreateTask(c.Request.Context(), actor(c), t); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, t)
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.tracker.GetTask(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// handleUpdateTask replaces the editable fields of a task.
func (s *Server) handleUpdateTask(c *gin.Context) {
	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	t, err := s.tracker.GetTask(ctx, actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	t.Title = req.Title
	t.Description = req.Description
	if req.Priority != "" {
		t.Priority = req.Priority
	}
	t.StoryPoints = req.StoryPoints
	t.DueDate = req.DueDate
	t.Position = req.Position

	if err := s.tracker.UpdateTask(ctx, actor(c), t); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.tracker.DeleteTask(c.Request.Context(), actor(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

type statusRequest struct {
	Status models.TaskStatus `json:"status" binding:"required"`
}

func (s *Server) handleChangeStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.tracker.ChangeStatus(c.Request.Context(), actor(c), c.Param("id"), req.Status)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

type assigneeRequest struct {
	AssigneeID *string `json:"assignee_id"`
}

func (s *Server) handleAssign(c *gin.Context) {
	var req assigneeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := s.tracker.Assign(c.Request.Context(), actor(c), c.Param("id"), req.AssigneeID)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

type sprintMoveRequest struct {
	SprintID *string `json:"sprint_id"`
}

func (s *Server) handleMoveToSprint(c *gin.Context) {
	var req sprintMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.tracker.MoveToSprint(c.Request.Context(), actor(c), c.Param("id"), req.SprintID); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"task_id": c.Param("id"), "sprint_id": req.SprintID})
}

type blockRequest struct {
	BlockedBy string `json:"blocked_by" binding:"required"`
}

func (s *Server) handleBlock(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.tracker.Block(c.Request.Context(), actor(c), c.Param("id"), req.BlockedBy); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, models.Blocker{TaskID: c.Param("id"), BlockedByTaskID: req.BlockedBy})
}

func (s *Server) handleUnblock(c *gin.Context) {
	if err := s.tracker.Unblock(c.Request.Context(), actor(c), c.Param("id"), c.Param("blockerID")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) handleHistory(c *gin.Context) {
	events, err := s.tracker.History(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(events))
}

func (s *Server) handleTimeline(c *gin.Context) {
	tl, err := s.tracker.Timeline(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, tl)
}

func (s *Server) handleListComments(c *gin.Context) {
	comments, err := s.tracker.Comments(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(comments))
}

type commentRequest struct {
	Body string `json:"body" binding:"required"`
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	comment, sent, err := s.tracker.AddComment(c.Request.Context(), actor(c), c.Param("id"), req.Body)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"comment": comment, "notified": len(sent)})
}

// Notifications

func (s *Server) handleListNotifications(c *gin.Context) {
	unread := c.Query("unread") == "true"
	ns, err := s.tracker.Notifications(c.Request.Context(), actor(c), unread)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orEmpty(ns))
}

// handleMarkRead marks one notification read, or all of them when the id
// is "all".
func (s *Server) handleMarkRead(c *gin.Context) {
	ctx := c.Request.Context()
	if id := c.Param("id"); id != "all" {
		if err := s.tracker.MarkRead(ctx, actor(c), id); err != nil {
			s.fail(c, err)
			return
		}
		ok(c, http.StatusOK, gin.H{"marked": 1})
		return
	}
	n, err := s.tracker.MarkAllRead(ctx, actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"marked": n})
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

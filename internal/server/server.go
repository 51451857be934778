// Package server exposes the tracker as a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ldi/sprintboard/internal/logging"
	"github.com/ldi/sprintboard/internal/tracker"
)

// ActorHeader carries the id of the acting user. Authentication happens in
// front of sprintboard; the header is trusted.
const ActorHeader = "X-User-ID"

const actorKey = "actor"

type Server struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
	router  *gin.Engine
	server  *http.Server
}

func NewServer(tr *tracker.Tracker, logger *slog.Logger) *Server {
	router := gin.New()
	s := &Server{
		tracker: tr,
		logger:  logging.OrDiscard(logger),
		router:  router,
	}

	router.Use(gin.Recovery(), s.logRequests)
	router.GET("/api/health", s.handleHealth)

	api := router.Group("/api", s.requireActor)
	{
		api.GET("/me", s.handleMe)
		api.GET("/summary", s.handleSummary)

		api.GET("/workspaces", s.handleListWorkspaces)
		api.POST("/workspaces", s.handleCreateWorkspace)
		api.GET("/workspaces/:id/members", s.handleListMembers)
		api.PUT("/workspaces/:id/members/:userID", s.handleChangeRole)
		api.DELETE("/workspaces/:id/members/:userID", s.handleRemoveMember)
		api.GET("/workspaces/:id/projects", s.handleListWorkspaceProjects)
		api.POST("/workspaces/:id/invitations", s.handleInvite)
		api.GET("/workspaces/:id/invitations", s.handleListInvitations)
		api.DELETE("/workspaces/:id/invitations/:invitationID", s.handleRevokeInvitation)
		api.POST("/invitations/:token/accept", s.handleAcceptInvitation)
		api.POST("/invitations/:token/decline", s.handleDeclineInvitation)

		api.GET("/projects", s.handleListProjects)
		api.POST("/projects", s.handleCreateProject)
		api.GET("/projects/:id", s.handleGetProject)
		api.PUT("/projects/:id", s.handleUpdateProject)
		api.DELETE("/projects/:id", s.handleDeleteProject)
		api.GET("/projects/:id/board", s.handleBoard)
		api.PUT("/projects/:id/board/:status", s.handleSetWIPLimit)
		api.GET("/projects/:id/velocity", s.handleVelocity)
		api.GET("/projects/:id/cycle-time", s.handleCycleTime)
		api.GET("/projects/:id/sprints", s.handleListSprints)
		api.POST("/projects/:id/sprints", s.handleCreateSprint)

		api.POST("/sprints/:id/start", s.handleStartSprint)
		api.POST("/sprints/:id/complete", s.handleCompleteSprint)
		api.GET("/sprints/:id/burndown", s.handleBurndown)

		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.GET("/tasks/:id", s.handleGetTask)
		api.PUT("/tasks/:id", s.handleUpdateTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)
		api.PATCH("/tasks/:id/status", s.handleChangeStatus)
		api.PATCH("/tasks/:id/assignee", s.handleAssign)
		api.PATCH("/tasks/:id/sprint", s.handleMoveToSprint)
		api.POST("/tasks/:id/blockers", s.handleBlock)
		api.DELETE("/tasks/:id/blockers/:blockerID", s.handleUnblock)
		api.GET("/tasks/:id/history", s.handleHistory)
		api.GET("/tasks/:id/timeline", s.handleTimeline)
		api.GET("/tasks/:id/comments", s.handleListComments)
		api.POST("/tasks/:id/comments", s.handleAddComment)

		api.GET("/notifications", s.handleListNotifications)
		api.POST("/notifications/:id/read", s.handleMarkRead)
	}

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http server listening", "addr", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}

// requireActor resolves the acting user from ActorHeader.
func (s *Server) requireActor(c *gin.Context) {
	id := c.GetHeader(ActorHeader)
	if id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   ActorHeader + " header required",
		})
		return
	}
	u, err := s.tracker.DB().GetUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		c.Abort()
		return
	}
	if u == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "unknown user",
		})
		return
	}
	c.Set(actorKey, id)
	c.Next()
}

func actor(c *gin.Context) string {
	return c.GetString(actorKey)
}

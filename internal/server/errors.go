package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ldi/sprintboard/internal/access"
	"github.com/ldi/sprintboard/internal/db"
	"github.com/ldi/sprintboard/internal/tracker"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, db.ErrInvalidTransition),
		errors.Is(err, db.ErrBlockerCycle),
		errors.Is(err, db.ErrInvitationExpired),
		errors.Is(err, db.ErrInvitationClosed):
		return http.StatusConflict
	case errors.Is(err, db.ErrInvalid),
		errors.Is(err, tracker.ErrInvalidAssignee):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

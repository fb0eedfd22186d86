package handlers

import (
	"errors"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0MATRIX0/agent-connect/internal/model"
	"github.com/0MATRIX0/agent-connect/internal/recording"
	"github.com/0MATRIX0/agent-connect/internal/session"
)

// defaultOutputLines is how many lines GET /sessions/:id/output returns.
const defaultOutputLines = 5

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	sessionManager *session.Manager
	recordDir      string
}

// NewSessionHandler creates a new SessionHandler. recordDir is where
// session casts are found; empty disables the recording route.
func NewSessionHandler(sessionManager *session.Manager, recordDir string) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
		recordDir:      recordDir,
	}
}

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	ProjectID string `json:"projectId" binding:"required"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	model.Session
	Duration string `json:"duration"`
}

// OutputResponse is the tail of a session's output.
type OutputResponse struct {
	SessionID string   `json:"sessionId"`
	Status    string   `json:"status"`
	Lines     []string `json:"lines"`
}

// toSessionResponse converts a model.Session to SessionResponse.
func toSessionResponse(s model.Session) SessionResponse {
	return SessionResponse{
		Session:  s,
		Duration: formatDuration(s.Duration()),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// Create handles POST /api/sessions - starts the agent in a project.
func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	sess, err := h.sessionManager.CreateForProject(c.Request.Context(), req.ProjectID)
	if err != nil {
		sendModelError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// List handles GET /api/sessions - lists sessions, newest first, optionally
// filtered by ?projectId=.
func (h *SessionHandler) List(c *gin.Context) {
	sessions := h.sessionManager.List(c.Query("projectId"))
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	response := make([]SessionResponse, len(sessions))
	for i, sess := range sessions {
		response[i] = toSessionResponse(sess)
	}

	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:id - gets a specific session.
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.sessionManager.Get(c.Param("id"))
	if err != nil {
		sendModelError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Stop handles DELETE /api/sessions/:id - stops a session. The session stays
// queryable.
func (h *SessionHandler) Stop(c *gin.Context) {
	sess, err := h.sessionManager.Stop(c.Param("id"))
	if err != nil {
		sendModelError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// Output handles GET /api/sessions/:id/output?lines=N - the last visible
// lines of the session.
func (h *SessionHandler) Output(c *gin.Context) {
	lines := defaultOutputLines
	if v := c.Query("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lines must be a positive integer")
			return
		}
		lines = n
	}

	sessionID := c.Param("id")
	sess, err := h.sessionManager.Get(sessionID)
	if err != nil {
		sendModelError(c, err)
		return
	}
	out, err := h.sessionManager.Output(sessionID, lines)
	if err != nil {
		sendModelError(c, err)
		return
	}
	if out == nil {
		out = []string{}
	}

	c.JSON(http.StatusOK, OutputResponse{
		SessionID: sessionID,
		Status:    string(sess.Status),
		Lines:     out,
	})
}

// GetRecording handles GET /api/sessions/:id/recording - downloads the
// session's asciicast.
func (h *SessionHandler) GetRecording(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.sessionManager.Get(sessionID); err != nil {
		sendModelError(c, err)
		return
	}

	if h.recordDir == "" {
		sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording is disabled")
		return
	}
	path := recording.Path(h.recordDir, sessionID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sendError(c, http.StatusNotFound, "RECORDING_NOT_FOUND", "Recording not found for session "+sessionID)
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// Set headers for file download
	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+sessionID+".cast")

	c.File(path)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.DELETE("/:id", h.Stop)
		sessions.GET("/:id/output", h.Output)
		sessions.GET("/:id/recording", h.GetRecording)
	}
}

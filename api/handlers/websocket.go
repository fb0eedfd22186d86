package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/ws"
)

// WebSocketHandler handles WebSocket connections for terminal sessions.
type WebSocketHandler struct {
	wsHandler *ws.Handler
	log       zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
		log:       logging.For(logging.CompWS),
	}
}

// Attach handles GET /ws/sessions/:id - attaches to a session via WebSocket.
// Unknown sessions get a 404 before the upgrade.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.wsHandler.ServeSession(c.Writer, c.Request, sessionID); err != nil {
		// The upgrader has already written an HTTP error.
		h.log.Debug().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
	}
}

// RegisterRoutes registers the WebSocket route on the engine root.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/sessions/:id", h.Attach)
}

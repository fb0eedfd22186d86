package ws

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/0MATRIX0/agent-connect/internal/hub"
	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Large enough for a paste.
	maxMessageSize = 64 * 1024
)

// Registry is the part of the session registry the gateway needs.
type Registry interface {
	Get(id string) (model.Session, error)
	Attach(id string, v hub.Viewer) (*hub.Hub, error)
}

// Handler upgrades requests and relays frames between a client and a hub.
type Handler struct {
	registry Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates a gateway. allowedOrigins restricts browser origins by
// host; an empty list accepts any origin.
func NewHandler(registry Registry, allowedOrigins []string) *Handler {
	return &Handler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: logging.For(logging.CompWS),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, u.Host) || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeSession attaches the connection to sessionID. Unknown sessions are
// answered with 404 before the upgrade.
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) error {
	if _, err := h.registry.Get(sessionID); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return nil
		}
		return err
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, sessionID)
	sessionHub, err := h.registry.Attach(sessionID, client)
	if err != nil {
		// Evicted between lookup and attach.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session not found"),
			time.Now().Add(writeWait))
		conn.Close()
		return nil
	}

	h.log.Debug().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Msg("viewer connected")

	go h.writePump(client)
	go h.readPump(client, sessionHub)

	return nil
}

// readPump applies client frames to the hub until the connection fails, then
// detaches the client from that hub even if the registry has dropped the
// session meanwhile.
func (h *Handler) readPump(client *Client, sessionHub *hub.Hub) {
	defer func() {
		sessionHub.Detach(client)
		client.Close()
		client.conn.Close()
		h.log.Debug().Str("session_id", client.SessionID()).Msg("viewer disconnected")
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("session_id", client.SessionID()).Msg("websocket read")
			}
			return
		}

		msg, ok := hub.DecodeClientMessage(frame)
		if !ok {
			h.log.Debug().Str("session_id", client.SessionID()).Msg("ignored client frame")
			continue
		}

		switch msg.Type {
		case hub.MessageTypeInput:
			if err := sessionHub.Write([]byte(msg.Data)); err != nil {
				h.log.Warn().Err(err).Str("session_id", client.SessionID()).Msg("write to session")
			}
		case hub.MessageTypeResize:
			if err := sessionHub.Resize(msg.Cols, msg.Rows); err != nil {
				h.log.Warn().Err(err).Str("session_id", client.SessionID()).Msg("resize session")
			}
		case hub.MessageTypePing:
			client.Send(hub.EncodePong())
		}
	}
}

// writePump sends queued frames, one per websocket message, and keeps the
// connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Queue closed after the exit frame or an eviction.
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// sendQueueSize is how many frames a client may fall behind before it is
// dropped.
const sendQueueSize = 256

// Client is one websocket viewer of a session. It implements hub.Viewer.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewClient creates a new websocket client.
func NewClient(conn *websocket.Conn, sessionID string) *Client {
	return &Client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendQueueSize),
	}
}

// Send queues a frame without blocking. A full queue closes the client and
// reports false.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// Close closes the send queue. The write pump flushes what is already
// queued and then closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// SessionID returns the session ID associated with this client.
func (c *Client) SessionID() string {
	return c.sessionID
}

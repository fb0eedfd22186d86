// Package hub fans one session's terminal output out to its viewers and
// forwards their input back to the terminal.
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/0MATRIX0/agent-connect/internal/buffer"
	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/model"
)

// Viewer is a connection receiving a session's frames. The hub holds viewers
// by reference only and never owns their transport.
type Viewer interface {
	// Send queues a frame without blocking. It returns false when the frame
	// could not be queued, in which case the hub detaches the viewer.
	Send(frame []byte) bool

	// Close tells the viewer no more frames will follow. Already queued
	// frames are still delivered.
	Close()
}

// Terminal is the process a hub fronts.
type Terminal interface {
	Write(data []byte) error
	Resize(cols, rows int) error
}

// Hub multiplexes one terminal to many viewers.
//
// mu guards the viewer set, the scrollback and the stopped and closed flags. Frames are
// handed to viewers outside mu while holding deliverMu, so Detach can wait
// out a fan-out that is already in flight.
type Hub struct {
	sessionID  string
	term       Terminal
	scrollback *buffer.Scrollback
	log        zerolog.Logger

	mu      sync.Mutex
	viewers map[Viewer]struct{}
	stopped bool
	closed  bool
	status  model.ExitStatus

	deliverMu sync.Mutex
}

// New creates a hub for the session, backed by a scrollback of the given
// chunk capacity.
func New(sessionID string, term Terminal, scrollbackCap int) *Hub {
	return &Hub{
		sessionID:  sessionID,
		term:       term,
		scrollback: buffer.NewScrollback(scrollbackCap),
		log:        logging.For(logging.CompHub).With().Str("session_id", sessionID).Logger(),
		viewers:    make(map[Viewer]struct{}),
	}
}

// SessionID returns the session ID for this hub.
func (h *Hub) SessionID() string {
	return h.sessionID
}

// Attach registers v and queues exactly one scrollback frame to it before any
// live output.
//
// When the session is already stopped, v gets the scrollback and one exit
// frame, is closed and is not registered. After the process has exited the
// exit frame carries the recorded code and signal; between MarkStopped and
// the exit neither is known yet and both are null.
func (h *Hub) Attach(v Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !v.Send(EncodeScrollback(h.scrollback.Snapshot())) {
		v.Close()
		return
	}

	if h.closed || h.stopped {
		status := h.status
		if !h.closed {
			status = model.ExitStatus{}
		}
		v.Send(EncodeExit(status))
		v.Close()
		return
	}

	h.viewers[v] = struct{}{}
	h.log.Debug().Int("viewers", len(h.viewers)).Msg("viewer attached")
}

// MarkStopped records that the session was stopped while its process may
// still be running. Viewers attached from now on are turned away with an
// exit frame; viewers already attached keep receiving output until Close.
func (h *Hub) MarkStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
}

// Detach unregisters v. Once it returns no further frames are sent to v.
// Detaching an unknown viewer is a no-op.
func (h *Hub) Detach(v Viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	delete(h.viewers, v)
	n := len(h.viewers)
	h.mu.Unlock()

	if !ok {
		return
	}

	// Fence: wait for a fan-out that copied v before it was removed.
	h.deliverMu.Lock()
	h.deliverMu.Unlock()

	h.log.Debug().Int("viewers", n).Msg("viewer detached")
}

// Broadcast records chunk in the scrollback and sends it to every attached
// viewer. Viewers that cannot keep up are closed and detached. Broadcast is
// a no-op once the hub has closed.
func (h *Hub) Broadcast(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.scrollback.Append(chunk)
	viewers := h.viewerList()
	h.mu.Unlock()

	if len(viewers) == 0 {
		return
	}

	frame := EncodeOutput(chunk)

	h.deliverMu.Lock()
	var dropped []Viewer
	for _, v := range viewers {
		if !h.attached(v) {
			continue
		}
		if !v.Send(frame) {
			dropped = append(dropped, v)
		}
	}
	h.deliverMu.Unlock()

	for _, v := range dropped {
		h.evict(v)
	}
}

// Close sends one exit frame to every attached viewer and stops accepting
// output. Later calls are no-ops. The scrollback stays readable.
func (h *Hub) Close(status model.ExitStatus) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.status = status
	viewers := h.viewerList()
	h.viewers = make(map[Viewer]struct{})
	h.mu.Unlock()

	frame := EncodeExit(status)

	h.deliverMu.Lock()
	for _, v := range viewers {
		v.Send(frame)
		v.Close()
	}
	h.deliverMu.Unlock()

	h.log.Debug().
		Int("viewers", len(viewers)).
		Int("scrollback_chunks", h.scrollback.Len()).
		Int("scrollback_cap", h.scrollback.Cap()).
		Int("scrollback_bytes", h.scrollback.Size()).
		Msg("hub closed")
}

// Write forwards viewer input to the terminal. Input after close is dropped.
func (h *Hub) Write(data []byte) error {
	if len(data) == 0 || h.Closed() {
		return nil
	}
	return h.term.Write(data)
}

// Resize forwards a viewer resize to the terminal.
func (h *Hub) Resize(cols, rows int) error {
	if h.Closed() {
		return nil
	}
	return h.term.Resize(cols, rows)
}

// Snapshot returns the current scrollback contents.
func (h *Hub) Snapshot() []byte {
	return h.scrollback.Snapshot()
}

// Tail returns the last n visible lines of output.
func (h *Hub) Tail(n int) []string {
	return h.scrollback.Tail(n)
}

// ViewerCount returns the number of attached viewers.
func (h *Hub) ViewerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) viewerList() []Viewer {
	viewers := make([]Viewer, 0, len(h.viewers))
	for v := range h.viewers {
		viewers = append(viewers, v)
	}
	return viewers
}

func (h *Hub) attached(v Viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.viewers[v]
	return ok
}

func (h *Hub) evict(v Viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	delete(h.viewers, v)
	h.mu.Unlock()

	if ok {
		v.Close()
		h.log.Warn().Msg("slow viewer evicted")
	}
}

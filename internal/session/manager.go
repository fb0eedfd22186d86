// Package session owns the registry of running and stopped agent sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0MATRIX0/agent-connect/internal/driver"
	"github.com/0MATRIX0/agent-connect/internal/hub"
	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/model"
	"github.com/0MATRIX0/agent-connect/internal/pty"
	"github.com/0MATRIX0/agent-connect/internal/recording"
)

// DefaultStopGrace is how long a stopped process gets to exit after SIGTERM
// before it is sent SIGKILL.
const DefaultStopGrace = 5 * time.Second

// SessionIDEnv is set in every agent's environment so hooks can report
// which session they belong to.
const SessionIDEnv = "AGENT_CONNECT_SESSION_ID"

// ProjectResolver looks up the project a session is created for.
type ProjectResolver interface {
	Get(ctx context.Context, id string) (*model.Project, error)
}

// Observer is told about session events that may interest the user.
// Methods are called on their own goroutine.
type Observer interface {
	SessionPrompt(s model.Session, p driver.Prompt)
	SessionExited(s model.Session)
}

// Config holds configuration for the session manager.
type Config struct {
	// Command and Args are the agent started in every session.
	Command string
	Args    []string
	Env     []string

	Cols int
	Rows int

	// ScrollbackChunks caps each session's scrollback (default 5000).
	ScrollbackChunks int

	// StopGrace is the SIGTERM to SIGKILL escalation delay.
	StopGrace time.Duration

	// StoppedTTL evicts stopped sessions this long after they stop.
	// Zero keeps them until CleanupAll.
	StoppedTTL time.Duration

	// RecordDir, when set, records every session as an asciinema cast.
	RecordDir string

	// PromptInterval rate limits prompt detection per session. Negative
	// disables prompt detection.
	PromptInterval time.Duration
}

// Manager is the session registry. The zero value is not usable; create one
// with NewManager.
type Manager struct {
	cfg      Config
	projects ProjectResolver
	observer Observer
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewManager creates an empty registry. projects and observer may be nil.
func NewManager(cfg Config, projects ProjectResolver, observer Observer) *Manager {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Cols <= 0 {
		cfg.Cols = pty.DefaultCols
	}
	if cfg.Rows <= 0 {
		cfg.Rows = pty.DefaultRows
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}

	return &Manager{
		cfg:      cfg,
		projects: projects,
		observer: observer,
		log:      logging.For(logging.CompSession),
		sessions: make(map[string]*entry),
	}
}

// Create spawns the agent in req.ProjectPath and registers the session.
// A *model.SpawnError is returned when the process cannot be started, in
// which case nothing is registered.
func (m *Manager) Create(ctx context.Context, req model.CreateSessionRequest) (model.Session, error) {
	id := uuid.NewString()

	e := &entry{
		view: model.Session{
			ID:          id,
			ProjectID:   req.ProjectID,
			ProjectName: req.ProjectName,
			ProjectPath: req.ProjectPath,
			Status:      model.SessionStatusRunning,
			StartedAt:   time.Now(),
		},
		log: m.log.With().Str("session_id", id).Logger(),
	}
	e.hub = hub.New(id, e, m.cfg.ScrollbackChunks)
	if m.cfg.PromptInterval >= 0 {
		e.detector = driver.NewDetector(m.cfg.PromptInterval)
	}

	if m.cfg.RecordDir != "" {
		rec, err := recording.Create(m.cfg.RecordDir, id, req.ProjectName, m.cfg.Cols, m.cfg.Rows)
		if err != nil {
			e.log.Warn().Err(err).Msg("recording disabled")
		} else {
			e.recorder = rec
		}
	}

	proc, err := pty.Spawn(pty.StartOptions{
		Command: m.cfg.Command,
		Args:    m.cfg.Args,
		Dir:     req.ProjectPath,
		Env:     append(append([]string(nil), m.cfg.Env...), SessionIDEnv+"="+id),
		Cols:    m.cfg.Cols,
		Rows:    m.cfg.Rows,
	}, pty.Callbacks{
		OnOutput: func(data []byte) { m.handleOutput(e, data) },
		OnExit:   func(status model.ExitStatus) { m.handleExit(e, status) },
	})
	if err != nil {
		if e.recorder != nil {
			e.recorder.Close()
			os.Remove(recording.Path(m.cfg.RecordDir, id))
		}
		m.log.Error().Err(err).Str("project_path", req.ProjectPath).Msg("spawn failed")
		return model.Session{}, err
	}

	e.mu.Lock()
	e.proc = proc
	e.view.PID = proc.PID()
	e.mu.Unlock()

	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()

	e.log.Info().Int("pid", proc.PID()).Str("project", req.ProjectName).Msg("session started")
	return e.snapshot(), nil
}

// CreateForProject resolves projectID and creates a session in it.
func (m *Manager) CreateForProject(ctx context.Context, projectID string) (model.Session, error) {
	if m.projects == nil {
		return model.Session{}, fmt.Errorf("%w: %s", model.ErrProjectNotFound, projectID)
	}
	p, err := m.projects.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, model.ErrProjectNotFound) {
			return model.Session{}, err
		}
		return model.Session{}, fmt.Errorf("resolve project %s: %w", projectID, err)
	}
	return m.Create(ctx, model.CreateSessionRequest{
		ProjectID:   p.ID,
		ProjectName: p.Name,
		ProjectPath: p.Path,
	})
}

// Get returns the session view, or model.ErrSessionNotFound.
func (m *Manager) Get(id string) (model.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.Session{}, err
	}
	return e.snapshot(), nil
}

// List returns all sessions, or only those of projectID when it is not
// empty, ordered by start time.
func (m *Manager) List(projectID string) []model.Session {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]model.Session, 0, len(entries))
	for _, e := range entries {
		s := e.snapshot()
		if projectID != "" && s.ProjectID != projectID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stop marks a running session stopped and sends SIGTERM to its process
// group, escalating to SIGKILL after the grace period. The exit frame still
// comes from the process exit. Stopping a stopped session is a no-op.
func (m *Manager) Stop(id string) (model.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return model.Session{}, err
	}

	e.mu.Lock()
	if e.view.Status != model.SessionStatusRunning {
		e.mu.Unlock()
		return e.snapshot(), nil
	}
	now := time.Now()
	e.view.Status = model.SessionStatusStopped
	e.view.StoppedAt = &now
	e.hub.MarkStopped()
	proc := e.proc
	e.killTimer = time.AfterFunc(m.cfg.StopGrace, func() {
		if !proc.Exited() {
			e.log.Warn().Msg("process ignored SIGTERM, sending SIGKILL")
			_ = proc.Kill(syscall.SIGKILL)
		}
	})
	e.mu.Unlock()

	if err := proc.Kill(syscall.SIGTERM); err != nil {
		e.log.Warn().Err(err).Msg("terminate failed")
	}
	e.log.Info().Msg("session stopped")
	return e.snapshot(), nil
}

// Attach registers v as a viewer of the session and returns the hub its
// input should be sent to. Attaching to a stopped session delivers the
// scrollback and an immediate exit frame, even while the process is still
// shutting down.
func (m *Manager) Attach(id string, v hub.Viewer) (*hub.Hub, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.hub.Attach(v)
	return e.hub, nil
}

// Output returns the last lines of a session's visible output.
func (m *Manager) Output(id string, lines int) ([]string, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.hub.Tail(lines), nil
}

// Count returns the number of registered sessions and how many are running.
func (m *Manager) Count() (total, running int) {
	for _, s := range m.List("") {
		total++
		if s.Running() {
			running++
		}
	}
	return total, running
}

// CleanupAll terminates every running process and empties the registry.
// Individual failures are logged, not returned.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	entries := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(e.terminate)
	}
	if err := g.Wait(); err != nil {
		m.log.Warn().Err(err).Msg("cleanup finished with errors")
	}
	m.log.Info().Int("sessions", len(entries)).Msg("all sessions cleaned up")
}

// Prune evicts stopped sessions whose process has exited and that stopped
// more than StoppedTTL before now. It returns the number evicted.
func (m *Manager) Prune(now time.Time) int {
	if m.cfg.StoppedTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.sessions {
		s := e.snapshot()
		if s.StoppedAt == nil || !e.hub.Closed() {
			continue
		}
		if now.Sub(*s.StoppedAt) < m.cfg.StoppedTTL {
			continue
		}
		delete(m.sessions, id)
		n++
	}
	if n > 0 {
		m.log.Debug().Int("evicted", n).Msg("pruned stopped sessions")
	}
	return n
}

// Run prunes stopped sessions until ctx is done. It returns immediately
// when no TTL is configured.
func (m *Manager) Run(ctx context.Context) {
	if m.cfg.StoppedTTL <= 0 {
		return
	}
	interval := m.cfg.StoppedTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Prune(now)
		}
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	return e, nil
}

func (m *Manager) handleOutput(e *entry, data []byte) {
	e.hub.Broadcast(data)

	if e.recorder != nil {
		if err := e.recorder.Output(data); err != nil {
			e.log.Debug().Err(err).Msg("record output")
		}
	}

	if e.detector != nil && m.observer != nil {
		if p, ok := e.detector.Feed(data); ok {
			s := e.snapshot()
			go m.observer.SessionPrompt(s, p)
		}
	}
}

// handleExit is the authoritative end of a session. The process fires it
// exactly once.
func (m *Manager) handleExit(e *entry, status model.ExitStatus) {
	e.mu.Lock()
	if e.view.Status == model.SessionStatusRunning {
		now := time.Now()
		e.view.Status = model.SessionStatusStopped
		e.view.StoppedAt = &now
	}
	e.view.ExitCode = status.Code
	e.view.Signal = status.Signal
	if e.killTimer != nil {
		e.killTimer.Stop()
	}
	e.mu.Unlock()

	e.hub.Close(status)

	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			e.log.Warn().Err(err).Msg("close recording")
		}
	}

	s := e.snapshot()
	ev := e.log.Info()
	if s.ExitCode != nil {
		ev = ev.Int("exit_code", *s.ExitCode)
	}
	if s.Signal != nil {
		ev = ev.Str("signal", *s.Signal)
	}
	ev.Msg("session exited")

	if m.observer != nil {
		go m.observer.SessionExited(s)
	}
}

// entry is one registered session. It is also the hub's Terminal.
type entry struct {
	mu        sync.Mutex
	view      model.Session
	proc      *pty.Process
	killTimer *time.Timer

	hub      *hub.Hub
	recorder *recording.Recorder
	detector *driver.Detector
	log      zerolog.Logger
}

func (e *entry) snapshot() model.Session {
	e.mu.Lock()
	s := e.view
	e.mu.Unlock()
	s.Viewers = e.hub.ViewerCount()
	return s
}

// running returns the process if input should still reach it.
func (e *entry) running() *pty.Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.view.Status != model.SessionStatusRunning {
		return nil
	}
	return e.proc
}

func (e *entry) Write(data []byte) error {
	proc := e.running()
	if proc == nil {
		return nil
	}
	if e.recorder != nil {
		_ = e.recorder.Input(data)
	}
	return proc.Write(data)
}

func (e *entry) Resize(cols, rows int) error {
	proc := e.running()
	if proc == nil {
		return nil
	}
	if e.recorder != nil {
		_ = e.recorder.Resize(cols, rows)
	}
	return proc.Resize(cols, rows)
}

func (e *entry) terminate() error {
	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil || proc.Exited() {
		return nil
	}
	if err := proc.Kill(syscall.SIGTERM); err != nil {
		return fmt.Errorf("terminate pid %d: %w", proc.PID(), err)
	}
	return nil
}

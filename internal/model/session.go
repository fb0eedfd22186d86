package model

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusRunning SessionStatus = "running"
	SessionStatusStopped SessionStatus = "stopped"
)

// Session is the read-only view of a registry entry. It never carries the
// process handle or the hub.
type Session struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	ProjectName string        `json:"projectName"`
	ProjectPath string        `json:"projectPath"`
	Status      SessionStatus `json:"status"`
	PID         int           `json:"pid"`
	ExitCode    *int          `json:"exitCode"`
	Signal      *string       `json:"signal,omitempty"`
	Viewers     int           `json:"viewers"`
	StartedAt   time.Time     `json:"startedAt"`
	StoppedAt   *time.Time    `json:"stoppedAt"`
}

// Running reports whether the session has not yet been stopped.
func (s Session) Running() bool {
	return s.Status == SessionStatusRunning
}

// Duration returns how long the session ran, or has been running so far.
func (s Session) Duration() time.Duration {
	if s.StoppedAt != nil {
		return s.StoppedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// ExitStatus is how a session's process ended. Code is nil when the process
// was killed by a signal or the real status was not observed; Signal is nil
// unless a signal ended it.
type ExitStatus struct {
	Code   *int
	Signal *string
}

// CreateSessionRequest describes the project a new session runs in.
type CreateSessionRequest struct {
	ProjectID   string
	ProjectName string
	ProjectPath string
}

package model

import (
	"encoding/json"
	"time"
)

// Project is a named working directory that sessions are started in.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationType classifies what the agent is telling the user.
type NotificationType string

const (
	NotificationCompleted        NotificationType = "completed"
	NotificationPlanningComplete NotificationType = "planning_complete"
	NotificationApprovalNeeded   NotificationType = "approval_needed"
	NotificationInputNeeded      NotificationType = "input_needed"
	NotificationCommandExecution NotificationType = "command_execution"
	NotificationError            NotificationType = "error"
)

// ValidNotificationType reports whether t is one of the known types.
func ValidNotificationType(t NotificationType) bool {
	switch t {
	case NotificationCompleted, NotificationPlanningComplete, NotificationApprovalNeeded,
		NotificationInputNeeded, NotificationCommandExecution, NotificationError:
		return true
	}
	return false
}

// Notification is one entry in the inbox.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Type      NotificationType `json:"type"`
	Icon      string           `json:"icon,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// PushKeys are the client keys of a web-push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// PushSubscription is a browser push endpoint.
type PushSubscription struct {
	Endpoint  string    `json:"endpoint"`
	Keys      PushKeys  `json:"keys"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the subscription has everything a push send needs.
func (s PushSubscription) Validate() error {
	if s.Endpoint == "" || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return ErrInvalidSubscription
	}
	return nil
}

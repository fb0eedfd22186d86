package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a session id is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProjectNotFound is returned when a project id cannot be resolved.
	ErrProjectNotFound = errors.New("project not found")

	// ErrProjectExists is returned when a project with the same path is already registered.
	ErrProjectExists = errors.New("project already exists")

	// ErrInvalidProject is returned when a project name or path fails validation.
	ErrInvalidProject = errors.New("invalid project")

	// ErrNotificationNotFound is returned when a notification id is unknown.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidNotification is returned for a notification with no body or an unknown type.
	ErrInvalidNotification = errors.New("invalid notification")

	// ErrSubscriptionNotFound is returned when a push endpoint is not subscribed.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrInvalidSubscription is returned when a push subscription is missing its endpoint or keys.
	ErrInvalidSubscription = errors.New("invalid push subscription")
)

// SpawnError is returned when the agent process could not be started.
// No session is registered when it is returned.
type SpawnError struct {
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q in %q: %v", e.Command, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrNotificationNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

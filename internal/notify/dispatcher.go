// Package notify records notifications in the inbox and pushes them to
// every subscribed browser.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0MATRIX0/agent-connect/internal/driver"
	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/model"
)

const (
	// maxConcurrentSends bounds the push fan-out.
	maxConcurrentSends = 8

	// observerTimeout bounds a notification raised by a session event.
	observerTimeout = 30 * time.Second

	defaultBadge = "/icon-192.png"
)

// Inbox stores notifications.
type Inbox interface {
	Add(ctx context.Context, n model.Notification) (*model.Notification, error)
}

// Subscriptions lists push endpoints and forgets dead ones.
type Subscriptions interface {
	List(ctx context.Context) ([]model.PushSubscription, error)
	Delete(ctx context.Context, endpoint string) error
}

// Result reports what one Notify call did.
type Result struct {
	Notification *model.Notification `json:"notification"`
	Sent         int                 `json:"sent"`
	Cleaned      int                 `json:"cleaned"`
}

type pushMessage struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Icon      string          `json:"icon"`
	Badge     string          `json:"badge"`
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// Dispatcher fans notifications out to the inbox and to push subscribers.
// It also implements session.Observer.
type Dispatcher struct {
	inbox  Inbox
	subs   Subscriptions
	sender Sender
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil sender keeps notifications in
// the inbox only.
func NewDispatcher(inbox Inbox, subs Subscriptions, sender Sender) *Dispatcher {
	return &Dispatcher{
		inbox:  inbox,
		subs:   subs,
		sender: sender,
		log:    logging.For(logging.CompNotify),
	}
}

// PushEnabled reports whether notifications are pushed to browsers.
func (d *Dispatcher) PushEnabled() bool {
	return d.sender != nil
}

// Notify stores n and pushes it to every subscription. Subscriptions the
// push service reports as gone (404, 410) are removed. Other send failures
// are logged and do not fail the call.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) (Result, error) {
	if strings.TrimSpace(n.Body) == "" {
		return Result{}, fmt.Errorf("%w: body is required", model.ErrInvalidNotification)
	}
	if n.Type != "" && !model.ValidNotificationType(n.Type) {
		return Result{}, fmt.Errorf("%w: unknown type %q", model.ErrInvalidNotification, n.Type)
	}

	stored, err := d.inbox.Add(ctx, n)
	if err != nil {
		return Result{}, fmt.Errorf("store notification: %w", err)
	}
	res := Result{Notification: stored}

	if d.sender == nil || d.subs == nil {
		return res, nil
	}

	subs, err := d.subs.List(ctx)
	if err != nil {
		return res, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return res, nil
	}

	payload, err := json.Marshal(pushMessage{
		ID:        stored.ID,
		Title:     stored.Title,
		Body:      stored.Body,
		Icon:      stored.Icon,
		Badge:     defaultBadge,
		Type:      string(stored.Type),
		SessionID: stored.SessionID,
		Data:      stored.Data,
		Timestamp: stored.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return res, fmt.Errorf("marshal push payload: %w", err)
	}

	var (
		mu      sync.Mutex
		invalid []string
		g       errgroup.Group
	)
	g.SetLimit(maxConcurrentSends)

	for _, sub := range subs {
		g.Go(func() error {
			status, err := d.sender.Send(ctx, payload, sub)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Sent++
			case status == http.StatusNotFound || status == http.StatusGone:
				invalid = append(invalid, sub.Endpoint)
			default:
				d.log.Error().Err(err).
					Int("http_status", status).
					Str("endpoint", endpointForLog(sub.Endpoint)).
					Msg("push send failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, endpoint := range invalid {
		if err := d.subs.Delete(ctx, endpoint); err != nil && !errors.Is(err, model.ErrSubscriptionNotFound) {
			d.log.Warn().Err(err).Str("endpoint", endpointForLog(endpoint)).Msg("remove expired subscription")
			continue
		}
		res.Cleaned++
	}

	d.log.Debug().
		Str("notification_id", stored.ID).
		Int("sent", res.Sent).
		Int("cleaned", res.Cleaned).
		Msg("notification dispatched")
	return res, nil
}

// SessionPrompt raises an approval or input notification for a prompt the
// agent is waiting on.
func (d *Dispatcher) SessionPrompt(s model.Session, p driver.Prompt) {
	typ := model.NotificationInputNeeded
	if p.Kind == driver.KindConfirm {
		typ = model.NotificationApprovalNeeded
	}

	data, _ := json.Marshal(map[string]any{
		"sessionId": s.ID,
		"projectId": s.ProjectID,
		"options":   p.Options,
	})

	d.notifySession(model.Notification{
		Title:     sessionTitle(s),
		Body:      p.Text,
		Type:      typ,
		SessionID: s.ID,
		Data:      data,
	})
}

// SessionExited raises a completion notification, or an error one when the
// agent exited with a non-zero code.
func (d *Dispatcher) SessionExited(s model.Session) {
	typ := model.NotificationCompleted
	body := "Session finished"
	switch {
	case s.Signal != nil:
		body = "Session stopped (" + *s.Signal + ")"
	case s.ExitCode != nil && *s.ExitCode != 0:
		typ = model.NotificationError
		body = fmt.Sprintf("Session exited with code %d", *s.ExitCode)
	}

	data, _ := json.Marshal(map[string]any{
		"sessionId": s.ID,
		"projectId": s.ProjectID,
		"exitCode":  s.ExitCode,
	})

	d.notifySession(model.Notification{
		Title:     sessionTitle(s),
		Body:      body,
		Type:      typ,
		SessionID: s.ID,
		Data:      data,
	})
}

func (d *Dispatcher) notifySession(n model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	if _, err := d.Notify(ctx, n); err != nil {
		d.log.Warn().Err(err).Str("session_id", n.SessionID).Msg("session notification failed")
	}
}

func sessionTitle(s model.Session) string {
	if name := strings.TrimSpace(s.ProjectName); name != "" {
		return name
	}
	return "Agent Connect"
}

func endpointForLog(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err == nil && u.Host != "" {
		return u.Host
	}
	endpoint = strings.TrimSpace(endpoint)
	if len(endpoint) <= 48 {
		return endpoint
	}
	return endpoint[:48] + "..."
}

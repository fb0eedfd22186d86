package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

const (
	// DefaultSubject is used when no VAPID subject is configured.
	DefaultSubject = "mailto:admin@example.com"

	pushTTL = 60
)

// Sender delivers one payload to one subscription and reports the push
// service's HTTP status (0 when no response was received).
type Sender interface {
	Send(ctx context.Context, payload []byte, sub model.PushSubscription) (int, error)
}

// VAPIDSender sends through the subscription's push service.
type VAPIDSender struct {
	subject    string
	publicKey  string
	privateKey string
	client     *http.Client
}

// NewVAPIDSender creates a sender for the key pair. Both keys are required.
func NewVAPIDSender(publicKey, privateKey, subject string) (*VAPIDSender, error) {
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)
	if publicKey == "" || privateKey == "" {
		return nil, fmt.Errorf("both push vapid public and private keys are required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultSubject
	}
	return &VAPIDSender{
		subject:    subject,
		publicKey:  publicKey,
		privateKey: privateKey,
		client:     &http.Client{},
	}, nil
}

// PublicKey returns the application server key browsers subscribe with.
func (s *VAPIDSender) PublicKey() string {
	return s.publicKey
}

func (s *VAPIDSender) Send(ctx context.Context, payload []byte, sub model.PushSubscription) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Urgency:         webpush.UrgencyHigh,
		TTL:             pushTTL,
	})
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	if err != nil {
		return status, err
	}
	if status >= 400 {
		return status, fmt.Errorf("push gateway status %d", status)
	}
	return status, nil
}

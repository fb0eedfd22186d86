package notify

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0MATRIX0/agent-connect/internal/db"
	"github.com/0MATRIX0/agent-connect/internal/driver"
	"github.com/0MATRIX0/agent-connect/internal/model"
	"github.com/0MATRIX0/agent-connect/internal/repository"
)

// fakeSender answers with a fixed status per endpoint.
type fakeSender struct {
	mu       sync.Mutex
	status   map[string]int
	payloads [][]byte
}

func (s *fakeSender) Send(_ context.Context, payload []byte, sub model.PushSubscription) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	status, ok := s.status[sub.Endpoint]
	if !ok {
		status = http.StatusCreated
	}
	if status >= 400 {
		return status, errors.New("push failed")
	}
	return status, nil
}

type testStores struct {
	inbox *repository.NotificationRepository
	subs  *repository.SubscriptionRepository
}

func setupStores(t *testing.T, endpoints ...string) testStores {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	st := testStores{
		inbox: repository.NewNotificationRepository(testDB),
		subs:  repository.NewSubscriptionRepository(testDB),
	}
	for _, ep := range endpoints {
		require.NoError(t, st.subs.Upsert(context.Background(), model.PushSubscription{
			Endpoint: ep,
			Keys:     model.PushKeys{P256dh: "p", Auth: "a"},
		}))
	}
	return st
}

func TestDispatcher_NotifySendsToAllSubscribers(t *testing.T) {
	st := setupStores(t, "https://push.example/a", "https://push.example/b")
	sender := &fakeSender{}
	d := NewDispatcher(st.inbox, st.subs, sender)

	res, err := d.Notify(context.Background(), model.Notification{
		Title: "Done",
		Body:  "Build finished",
		Type:  model.NotificationCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Zero(t, res.Cleaned)
	require.NotNil(t, res.Notification)

	require.Len(t, sender.payloads, 2)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(sender.payloads[0], &msg))
	assert.Equal(t, "Done", msg["title"])
	assert.Equal(t, "Build finished", msg["body"])
	assert.Equal(t, "completed", msg["type"])
	assert.Equal(t, res.Notification.ID, msg["id"])

	list, err := st.inbox.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestDispatcher_RemovesGoneSubscriptions(t *testing.T) {
	st := setupStores(t, "https://push.example/ok", "https://push.example/gone", "https://push.example/missing", "https://push.example/broken")
	sender := &fakeSender{status: map[string]int{
		"https://push.example/gone":    http.StatusGone,
		"https://push.example/missing": http.StatusNotFound,
		"https://push.example/broken":  http.StatusInternalServerError,
	}}
	d := NewDispatcher(st.inbox, st.subs, sender)

	res, err := d.Notify(context.Background(), model.Notification{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, res.Cleaned)

	subs, err := st.subs.List(context.Background())
	require.NoError(t, err)
	var endpoints []string
	for _, s := range subs {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.ElementsMatch(t, []string{"https://push.example/ok", "https://push.example/broken"}, endpoints)
}

func TestDispatcher_InboxOnlyWithoutSender(t *testing.T) {
	st := setupStores(t, "https://push.example/a")
	d := NewDispatcher(st.inbox, st.subs, nil)
	assert.False(t, d.PushEnabled())

	res, err := d.Notify(context.Background(), model.Notification{Body: "hi"})
	require.NoError(t, err)
	assert.Zero(t, res.Sent)

	count, err := st.inbox.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_RejectsInvalid(t *testing.T) {
	st := setupStores(t)
	d := NewDispatcher(st.inbox, st.subs, &fakeSender{})

	_, err := d.Notify(context.Background(), model.Notification{Title: "x"})
	assert.ErrorIs(t, err, model.ErrInvalidNotification)

	_, err = d.Notify(context.Background(), model.Notification{Body: "x", Type: "bogus"})
	assert.ErrorIs(t, err, model.ErrInvalidNotification)

	count, err := st.inbox.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDispatcher_SessionPrompt(t *testing.T) {
	st := setupStores(t)
	d := NewDispatcher(st.inbox, st.subs, nil)

	s := model.Session{ID: "s1", ProjectID: "p1", ProjectName: "demo"}
	d.SessionPrompt(s, driver.Prompt{Kind: driver.KindConfirm, Text: "Do you want to proceed?", Options: []string{"Yes", "No"}})
	d.SessionPrompt(s, driver.Prompt{Kind: driver.KindQuestion, Text: "Continue? (y/n)"})

	list, err := st.inbox.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, model.NotificationInputNeeded, list[0].Type)
	assert.Equal(t, model.NotificationApprovalNeeded, list[1].Type)
	assert.Equal(t, "demo", list[1].Title)
	assert.Equal(t, "s1", list[1].SessionID)
	assert.Equal(t, "Do you want to proceed?", list[1].Body)

	var data map[string]any
	require.NoError(t, json.Unmarshal(list[1].Data, &data))
	assert.Equal(t, []any{"Yes", "No"}, data["options"])
}

func TestDispatcher_SessionExited(t *testing.T) {
	code := func(c int) *int { return &c }
	sig := "SIGTERM"

	tests := []struct {
		name     string
		session  model.Session
		wantType model.NotificationType
		wantBody string
	}{
		{"clean exit", model.Session{ID: "a", ExitCode: code(0)}, model.NotificationCompleted, "Session finished"},
		{"failure", model.Session{ID: "b", ExitCode: code(2)}, model.NotificationError, "Session exited with code 2"},
		{"signal", model.Session{ID: "c", Signal: &sig}, model.NotificationCompleted, "Session stopped (SIGTERM)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := setupStores(t)
			d := NewDispatcher(st.inbox, st.subs, nil)

			d.SessionExited(tt.session)

			list, err := st.inbox.List(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, tt.wantType, list[0].Type)
			assert.Equal(t, tt.wantBody, list[0].Body)
			assert.Equal(t, "Agent Connect", list[0].Title)
		})
	}
}

func TestEnsureVAPIDKeys(t *testing.T) {
	dir := t.TempDir()

	keys, generated, err := EnsureVAPIDKeys(dir)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.NotEmpty(t, keys.PublicKey)
	assert.NotEmpty(t, keys.PrivateKey)

	info, err := os.Stat(filepath.Join(dir, VAPIDKeysFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, generated, err := EnsureVAPIDKeys(dir)
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, keys.PublicKey, again.PublicKey)
	assert.Equal(t, keys.PrivateKey, again.PrivateKey)
}

func TestEnsureVAPIDKeys_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, VAPIDKeysFileName), []byte("{}"), 0o600))

	_, _, err := EnsureVAPIDKeys(dir)
	assert.Error(t, err)
}

func TestNewVAPIDSender_RequiresKeys(t *testing.T) {
	_, err := NewVAPIDSender("pub", "", "")
	assert.Error(t, err)

	s, err := NewVAPIDSender(" pub ", "priv", "")
	require.NoError(t, err)
	assert.Equal(t, "pub", s.PublicKey())
	assert.Equal(t, DefaultSubject, s.subject)
}

// browserKeys returns subscription keys as a browser would generate them.
func browserKeys(t *testing.T) model.PushKeys {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return model.PushKeys{
		P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		Auth:   base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestVAPIDSender_Send(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusCreated)
	var (
		mu     sync.Mutex
		header http.Header
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		header = r.Header.Clone()
		mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	keys, _, err := EnsureVAPIDKeys(t.TempDir())
	require.NoError(t, err)
	sender, err := NewVAPIDSender(keys.PublicKey, keys.PrivateKey, "mailto:test@example.com")
	require.NoError(t, err)

	sub := model.PushSubscription{Endpoint: srv.URL + "/push/abc", Keys: browserKeys(t)}

	code, err := sender.Send(context.Background(), []byte(`{"title":"t"}`), sub)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, code)
	mu.Lock()
	assert.Equal(t, "high", header.Get("Urgency"))
	assert.Equal(t, "60", header.Get("TTL"))
	assert.Contains(t, header.Get("Authorization"), "vapid")
	mu.Unlock()

	status.Store(http.StatusGone)
	code, err = sender.Send(context.Background(), []byte(`{"title":"t"}`), sub)
	assert.Error(t, err)
	assert.Equal(t, http.StatusGone, code)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0MATRIX0/agent-connect/internal/db"
	"github.com/0MATRIX0/agent-connect/internal/model"
	"github.com/0MATRIX0/agent-connect/internal/notify"
	"github.com/0MATRIX0/agent-connect/internal/repository"
	"github.com/0MATRIX0/agent-connect/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingSender struct {
	mu   sync.Mutex
	sent int
}

func (s *countingSender) Send(context.Context, []byte, model.PushSubscription) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return http.StatusCreated, nil
}

type testServer struct {
	router   *gin.Engine
	deps     Deps
	sender   *countingSender
	projects *repository.ProjectRepository
}

func setupTestServer(t *testing.T, script string, mutate ...func(*Deps)) *testServer {
	t.Helper()

	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	projects := repository.NewProjectRepository(testDB)
	inbox := repository.NewNotificationRepository(testDB)
	subs := repository.NewSubscriptionRepository(testDB)
	sender := &countingSender{}
	dispatcher := notify.NewDispatcher(inbox, subs, sender)

	manager := session.NewManager(session.Config{
		Command:        "sh",
		Args:           []string{"-c", script},
		StopGrace:      500 * time.Millisecond,
		PromptInterval: -1,
	}, projects, nil)
	t.Cleanup(manager.CleanupAll)

	deps := Deps{
		Sessions:       manager,
		Projects:       projects,
		Notifications:  inbox,
		Subscriptions:  subs,
		Dispatcher:     dispatcher,
		VAPIDPublicKey: "test-public-key",
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	return &testServer{
		router:   NewRouter(deps),
		deps:     deps,
		sender:   sender,
		projects: projects,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createProject(t *testing.T) *model.Project {
	t.Helper()
	p, err := s.projects.Create(context.Background(), "demo", t.TempDir())
	require.NoError(t, err)
	return p
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, w).Error.Code
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t, "sleep 5")
	p := s.createProject(t)
	w := s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": p.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["sessions"])
	assert.EqualValues(t, 1, body["running"])
	assert.EqualValues(t, 0, body["subscriptions"])
}

func TestProjects(t *testing.T) {
	s := setupTestServer(t, "true")
	dir := t.TempDir()

	w := s.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "demo", "path": dir})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.Project](t, w)
	assert.Equal(t, dir, created.Path)

	w = s.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "again", "path": dir})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PROJECT_EXISTS", errorCode(t, w))

	w = s.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "demo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "demo", "path": dir + "/missing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Project](t, w), 1)

	w = s.do(t, http.MethodDelete, "/api/projects/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/api/projects/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", errorCode(t, w))
}

func TestSessions_CreateErrors(t *testing.T) {
	s := setupTestServer(t, "sleep 5")

	w := s.do(t, http.MethodPost, "/api/sessions", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PROJECT_NOT_FOUND", errorCode(t, w))

	// The project directory disappears after registration.
	p := s.createProject(t)
	require.NoError(t, os.Remove(p.Path))
	w = s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": p.ID})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "SPAWN_FAILED", errorCode(t, w))

	w = s.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Empty(t, decode[[]SessionResponse](t, w))
}

func TestSessions_Lifecycle(t *testing.T) {
	s := setupTestServer(t, "sleep 5")
	p := s.createProject(t)
	other := s.createProject(t)

	w := s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": p.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	first := decode[SessionResponse](t, w)
	assert.Equal(t, p.ID, first.ProjectID)
	assert.Equal(t, "demo", first.ProjectName)
	assert.Equal(t, model.SessionStatusRunning, first.Status)

	time.Sleep(5 * time.Millisecond)
	w = s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": other.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	second := decode[SessionResponse](t, w)

	w = s.do(t, http.MethodGet, "/api/sessions", nil)
	list := decode[[]SessionResponse](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.Equal(t, first.ID, list[1].ID)

	w = s.do(t, http.MethodGet, "/api/sessions?projectId="+p.ID, nil)
	filtered := decode[[]SessionResponse](t, w)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.ID, filtered[0].ID)

	w = s.do(t, http.MethodDelete, "/api/sessions/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stopped := decode[SessionResponse](t, w)
	assert.Equal(t, model.SessionStatusStopped, stopped.Status)
	assert.NotNil(t, stopped.StoppedAt)

	w = s.do(t, http.MethodGet, "/api/sessions/"+first.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.SessionStatusStopped, decode[SessionResponse](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", errorCode(t, w))

	w = s.do(t, http.MethodDelete, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_Output(t *testing.T) {
	s := setupTestServer(t, "printf 'one\\ntwo\\nthree\\n'; sleep 5")
	p := s.createProject(t)

	w := s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": p.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[SessionResponse](t, w).ID

	var out OutputResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w = s.do(t, http.MethodGet, "/api/sessions/"+id+"/output?lines=2", nil)
		require.Equal(t, http.StatusOK, w.Code)
		out = decode[OutputResponse](t, w)
		if len(out.Lines) == 2 && out.Lines[1] == "three" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, []string{"two", "three"}, out.Lines)
	assert.Equal(t, "running", out.Status)

	w = s.do(t, http.MethodGet, "/api/sessions/"+id+"/output?lines=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/sessions/missing/output", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessions_RecordingDisabled(t *testing.T) {
	s := setupTestServer(t, "sleep 5")
	p := s.createProject(t)

	w := s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": p.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[SessionResponse](t, w).ID

	w = s.do(t, http.MethodGet, "/api/sessions/"+id+"/recording", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RECORDING_NOT_FOUND", errorCode(t, w))
}

func TestPushSubscriptions(t *testing.T) {
	s := setupTestServer(t, "true")

	w := s.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[map[string]any](t, w)
	assert.Equal(t, "test-public-key", cfg["vapidPublicKey"])
	assert.Equal(t, true, cfg["pushEnabled"])

	w = s.do(t, http.MethodPost, "/api/subscribe", map[string]any{"endpoint": "https://push.example/x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sub := map[string]any{
		"endpoint": "https://push.example/x",
		"keys":     map[string]string{"p256dh": "p", "auth": "a"},
	}
	w = s.do(t, http.MethodPost, "/api/subscribe", sub)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, "/api/subscribe", sub)
	require.Equal(t, http.StatusOK, w.Code)

	count, err := s.deps.Subscriptions.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	w = s.do(t, http.MethodPost, "/api/unsubscribe", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/unsubscribe", map[string]string{"endpoint": "https://push.example/x"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/unsubscribe", map[string]string{"endpoint": "https://push.example/x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SUBSCRIPTION_NOT_FOUND", errorCode(t, w))
}

func TestNotify(t *testing.T) {
	s := setupTestServer(t, "true")
	require.NoError(t, s.deps.Subscriptions.Upsert(context.Background(), model.PushSubscription{
		Endpoint: "https://push.example/x",
		Keys:     model.PushKeys{P256dh: "p", Auth: "a"},
	}))

	w := s.do(t, http.MethodPost, "/api/notify", map[string]any{
		"title": "Done",
		"body":  "All tests pass",
		"type":  "completed",
		"data":  map[string]any{"url": "/sessions/1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[NotifyResponse](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Sent)
	require.NotNil(t, res.Notification)
	assert.Equal(t, "Done", res.Notification.Title)

	w = s.do(t, http.MethodGet, "/api/notify?body=hello", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", decode[NotifyResponse](t, w).Notification.Body)

	w = s.do(t, http.MethodPost, "/api/notify", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/notify", map[string]any{"body": "x", "type": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]model.Notification](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "hello", list[0].Body)

	w = s.do(t, http.MethodDelete, "/api/notifications/"+list[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/notifications/"+list[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/notifications", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodGet, "/api/notifications", nil)
	assert.Empty(t, decode[[]model.Notification](t, w))

	assert.Equal(t, 2, s.sender.sent)
}

func TestNotify_RateLimited(t *testing.T) {
	s := setupTestServer(t, "true", func(d *Deps) { d.NotifyPerMinute = 2 })

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/api/notify", map[string]any{"body": "x"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/notify", map[string]any{"body": "x"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
}

func TestCORSAndNoRoute(t *testing.T) {
	s := setupTestServer(t, "true")

	w := s.do(t, http.MethodOptions, "/api/sessions", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestWebSocketRoute(t *testing.T) {
	s := setupTestServer(t, "echo ready; sleep 5")
	p := s.createProject(t)

	w := s.do(t, http.MethodPost, "/api/sessions", map[string]string{"projectId": p.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode[SessionResponse](t, w).ID

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/sessions/missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/sessions/"+id, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "scrollback", frame["type"])
}

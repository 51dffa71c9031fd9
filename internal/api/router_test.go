package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/deskchat/internal/broker"
	"github.com/eldtechnologies/deskchat/internal/handlers"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

type testServer struct {
	srv *httptest.Server
	mr  *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWithDeps(t, Deps{})
}

// newTestServerWithDeps fills in the broker, store and handler options.
func newTestServerWithDeps(t *testing.T, deps Deps) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}))
	b := broker.New(s, zerolog.Nop())

	deps.Broker = b
	deps.Redis = s
	deps.Handler = handlers.Options{SessionTTL: time.Hour}
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), deps))
	t.Cleanup(func() {
		srv.Close()
		_ = b.Shutdown(context.Background())
		_ = s.Close()
	})
	return &testServer{srv: srv, mr: mr}
}

// participant is a browser-like caller with its own cookie jar.
type participant struct {
	t      *testing.T
	client *http.Client
	base   string
}

func (ts *testServer) participant(t *testing.T) *participant {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &participant{t: t, client: &http.Client{Jar: jar}, base: ts.srv.URL}
}

func (p *participant) do(method, path string, body interface{}) (int, []byte) {
	p.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(p.t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, p.base+path, reader)
	require.NoError(p.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	require.NoError(p.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(p.t, err)
	return resp.StatusCode, data
}

func (p *participant) login(role models.Role, nickname string) (int, handlers.MessageResponse, handlers.ErrorResponse) {
	p.t.Helper()
	status, data := p.do(http.MethodPost, "/"+string(role)+"/login", handlers.LoginRequest{Nickname: nickname})

	var ok handlers.MessageResponse
	var fail handlers.ErrorResponse
	if status == http.StatusOK {
		require.NoError(p.t, json.Unmarshal(data, &ok))
	} else {
		require.NoError(p.t, json.Unmarshal(data, &fail))
	}
	return status, ok, fail
}

func (p *participant) messages(path string) map[string][]models.MessageEntry {
	p.t.Helper()
	status, data := p.do(http.MethodGet, path, nil)
	require.Equal(p.t, http.StatusOK, status, string(data))

	var out map[string][]models.MessageEntry
	require.NoError(p.t, json.Unmarshal(data, &out))
	return out
}

func decodeError(t *testing.T, data []byte) handlers.ErrorResponse {
	t.Helper()
	var e handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestChatFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.participant(t)
	bob := ts.participant(t)

	status, _, _ := alice.login(models.RoleAnalyst, "alice")
	require.Equal(t, http.StatusOK, status)

	status, resp, _ := bob.login(models.RoleClient, "bob")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "room:alice:bob", resp.Room)

	status, data := bob.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"nickname":"bob","user_type":"client"}`, string(data))

	status, data = bob.do(http.MethodPost, "/send_msg", handlers.SendMessageRequest{Message: "my printer is on fire"})
	require.Equal(t, http.StatusOK, status, string(data))

	// Let the first message land so the order is deterministic.
	require.Eventually(t, func() bool {
		return len(alice.messages("/get_messages")["room:alice:bob"]) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status, data = alice.do(http.MethodPost, "/send_msg", handlers.SendMessageRequest{Message: "have you tried water", To: "bob"})
	require.Equal(t, http.StatusOK, status, string(data))

	var history []models.MessageEntry
	require.Eventually(t, func() bool {
		history = bob.messages("/get_messages")["room:alice:bob"]
		return len(history) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bob", history[0].From)
	assert.Equal(t, "alice", history[1].From)
	assert.Equal(t, "have you tried water", history[1].Body)

	popped := alice.messages("/pop_messages")
	assert.Equal(t, history, popped["room:alice:bob"])
	assert.Empty(t, alice.messages("/get_messages")["room:alice:bob"])

	status, data = bob.do(http.MethodPost, "/client/logout", nil)
	require.Equal(t, http.StatusOK, status, string(data))
	assert.False(t, ts.mr.Exists("room:alice:bob"))

	status, data = bob.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", string(bytes.TrimSpace(data)))

	status, data = alice.do(http.MethodPost, "/analyst/logout", nil)
	require.Equal(t, http.StatusOK, status, string(data))
}

func TestLoginFailures(t *testing.T) {
	ts := newTestServer(t)
	p := ts.participant(t)

	status, _, fail := p.login(models.RoleClient, "bob")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, int(broker.CodeNoAnalystAvailable), fail.Code)

	status, _, fail = p.login(models.RoleClient, "bob smith")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int(broker.CodeInvalidNickname), fail.Code)

	status, _, fail = p.login(models.RoleAnalyst, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int(broker.CodeInvalidNickname), fail.Code)

	status, _, fail = p.login(models.RoleClient, "bob<img src=x>")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "client login failed: nickname must be alphanumeric", fail.Error)

	status, data := p.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "null", string(bytes.TrimSpace(data)))
}

func TestStaleClientSession(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.participant(t)
	bob := ts.participant(t)

	status, _, _ := alice.login(models.RoleAnalyst, "alice")
	require.Equal(t, http.StatusOK, status)

	status, _, _ = bob.login(models.RoleClient, "bob")
	require.Equal(t, http.StatusOK, status)

	status, _, fail := bob.login(models.RoleClient, "bob")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int(broker.CodeInvalidNickname), fail.Code)

	// The failed login dropped the session too.
	status, _ = bob.do(http.MethodGet, "/get_messages", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp, _ := bob.login(models.RoleClient, "bob")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "room:alice:bob", resp.Room)
}

func TestSessionRequired(t *testing.T) {
	ts := newTestServer(t)
	p := ts.participant(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/send_msg"},
		{http.MethodGet, "/get_messages"},
		{http.MethodGet, "/pop_messages"},
		{http.MethodPost, "/client/logout"},
		{http.MethodPost, "/analyst/logout"},
		{http.MethodGet, "/transcripts"},
	} {
		status, data := p.do(route.method, route.path, nil)
		assert.Equal(t, http.StatusForbidden, status, route.path)
		assert.Equal(t, "login required", decodeError(t, data).Error, route.path)
	}
}

func TestWrongRole(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.participant(t)
	bob := ts.participant(t)

	alice.login(models.RoleAnalyst, "alice")
	bob.login(models.RoleClient, "bob")

	status, data := bob.do(http.MethodPost, "/analyst/logout", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, `user "bob" is not an analyst`, decodeError(t, data).Error)

	status, _ = bob.do(http.MethodGet, "/transcripts", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = alice.do(http.MethodPost, "/client/logout", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, data = alice.do(http.MethodGet, "/transcripts", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"transcripts":[]}`, string(data))
}

func TestAnalystLogoutWithOpenRoom(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.participant(t)
	bob := ts.participant(t)

	alice.login(models.RoleAnalyst, "alice")
	bob.login(models.RoleClient, "bob")

	status, data := alice.do(http.MethodPost, "/analyst/logout", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int(broker.CodeActiveRoomsExist), decodeError(t, data).Code)

	// Still logged in.
	status, data = alice.do(http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"nickname":"alice","user_type":"analyst"}`, string(data))
}

func TestSendErrors(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.participant(t)
	bob := ts.participant(t)

	alice.login(models.RoleAnalyst, "alice")
	bob.login(models.RoleClient, "bob")

	status, data := alice.do(http.MethodPost, "/send_msg", handlers.SendMessageRequest{Message: "hi"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, int(broker.CodeBadRequest), decodeError(t, data).Code)

	status, data = alice.do(http.MethodPost, "/send_msg", handlers.SendMessageRequest{Message: "hi", To: "nobody"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, int(broker.CodePreconditionViolation), decodeError(t, data).Code)

	status, _ = bob.do(http.MethodPost, "/send_msg", handlers.SendMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	p := ts.participant(t)

	status, data := p.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)

	var health handlers.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["redis"].Status)
	assert.Equal(t, "skip", health.Checks["archive"].Status)
}

func TestSecurityHeadersAndContentType(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/client/login", "text/plain", bytes.NewBufferString(`{"nickname":"bob"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func preflight(t *testing.T, ts *testServer, origin string) http.Header {
	t.Helper()
	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/send_msg", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.Header
}

func TestCORSWithoutConfiguredOrigins(t *testing.T) {
	ts := newTestServer(t)

	h := preflight(t, ts, "https://evil.example")
	assert.Equal(t, "*", h.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, h.Get("Access-Control-Allow-Credentials"))
}

func TestCORSWithConfiguredOrigins(t *testing.T) {
	ts := newTestServerWithDeps(t, Deps{CORSOrigins: []string{"https://support.example.com"}})

	h := preflight(t, ts, "https://support.example.com")
	assert.Equal(t, "https://support.example.com", h.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", h.Get("Access-Control-Allow-Credentials"))

	h = preflight(t, ts, "https://evil.example")
	assert.Empty(t, h.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, h.Get("Access-Control-Allow-Credentials"))
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/pushgate/internal/auth"
	"github.com/Tyrowin/pushgate/internal/credentials"
	"github.com/Tyrowin/pushgate/internal/logging"
	"github.com/Tyrowin/pushgate/internal/push"
	"github.com/Tyrowin/pushgate/internal/session"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	server   *httptest.Server
	registry *session.Registry
	manager  *push.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

// newTestEnvWith lets a test wrap the channel manager the router sees.
func newTestEnvWith(t *testing.T, wrap func(Channels, *session.Registry) Channels) *testEnv {
	t.Helper()
	log := logging.Nop()

	registry := session.NewRegistry(log)
	hasher := &auth.Argon2Hasher{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
	authenticator := auth.NewAuthenticator(credentials.NewMemoryStore(), hasher, registry, log)
	manager := push.NewManager(registry, NewRelay(registry, log),
		push.NewOriginPolicy([]string{testOrigin}, log), push.Options{}, log)

	var channels Channels = manager
	if wrap != nil {
		channels = wrap(manager, registry)
	}

	srv := New(Deps{
		Auth:     authenticator,
		Sessions: registry,
		Tokens:   auth.NewTokenIssuer([]byte("test-secret"), time.Hour),
		Channels: channels,
	}, log)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = manager.Shutdown(time.Second)
		ts.Close()
	})
	return &testEnv{server: ts, registry: registry, manager: manager}
}

type apiResponse struct {
	status int
	body   map[string]any
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) apiResponse {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	out := apiResponse{status: resp.StatusCode}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.body))
	}
	return out
}

func (e *testEnv) register(t *testing.T, username, password string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/register", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	token, _ := resp.body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	header := http.Header{}
	header.Set("Origin", testOrigin)
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { _ = ws.Close() })
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	return ws, resp, err
}

func (e *testEnv) openChannel(t *testing.T, username, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := e.dial(t, token)
	require.NoError(t, err)
	assert.Equal(t, "WebSocket connection established", readFrame(t, ws)["message"])
	require.Eventually(t, func() bool {
		s, err := e.registry.Lookup(username)
		return err == nil && s.HasChannel()
	}, 2*time.Second, 10*time.Millisecond)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]string
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

func requireClosed(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			var timeout interface{ Timeout() bool }
			if errors.As(err, &timeout) && timeout.Timeout() {
				t.Fatal("channel still open")
			}
			return
		}
	}
}

func TestScenario_RegisterLoginChannelLogout(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/register", "", map[string]string{"username": "alice", "password": "pw1", "city": "Riga"})
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Registration successful! Please log in.", resp.body["message"])

	resp = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "pw1"})
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Login successful!", resp.body["message"])
	token := resp.body["token"].(string)

	resp = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "bad"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Invalid password", resp.body["error"])

	resp = e.do(t, http.MethodPost, "/login", "", map[string]string{"username": "bob", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Invalid username", resp.body["error"])

	ws := e.openChannel(t, "alice", token)

	resp = e.do(t, http.MethodGet, "/profile", token, nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Profile settings", resp.body["message"])
	assert.Equal(t, map[string]any{"city": "Riga"}, resp.body["profile"])

	resp = e.do(t, http.MethodGet, "/groups", token, nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Interest groups", resp.body["message"])

	resp = e.do(t, http.MethodPost, "/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Logout successful!", resp.body["message"])

	requireClosed(t, ws)
	s, err := e.registry.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, session.LoggedOut, s.Status)
	assert.False(t, s.HasChannel())

	resp = e.do(t, http.MethodGet, "/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "Not authenticated", resp.body["error"])
}

func TestRegister_Errors(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "pw1")

	tests := []struct {
		name string
		body any
		want string
	}{
		{"duplicate", map[string]string{"username": "alice", "password": "pw2"}, "Username already taken"},
		{"missing password", map[string]string{"username": "carol"}, "Username and password are required"},
		{"blank username", map[string]string{"username": "  ", "password": "pw"}, "Username and password are required"},
		{"malformed json", `{"username":`, "Invalid request body"},
		{"non-string field", map[string]any{"username": "dave", "password": "pw", "age": 3}, "Invalid request body"},
		{"username too long", map[string]string{"username": strings.Repeat("x", 65), "password": "pw"}, "Username is too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, "/register", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.status)
			assert.Equal(t, tt.want, resp.body["error"])
		})
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	e := newTestEnv(t)

	for _, tt := range []struct{ method, path, token string }{
		{http.MethodPost, "/logout", ""},
		{http.MethodGet, "/profile", ""},
		{http.MethodGet, "/groups", "not-a-jwt"},
		{http.MethodPost, "/push/alice", ""},
	} {
		resp := e.do(t, tt.method, tt.path, tt.token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.status, tt.path)
		assert.Equal(t, "Not authenticated", resp.body["error"], tt.path)
	}
}

func TestRelogin_InvalidatesOldTokenAndChannel(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "pw1")

	first := e.login(t, "alice", "pw1")
	ws := e.openChannel(t, "alice", first)

	second := e.login(t, "alice", "pw1")
	requireClosed(t, ws)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/groups", first, nil).status)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/groups", second, nil).status)

	_, resp, err := e.dial(t, first)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_AnonymousChannel(t *testing.T) {
	e := newTestEnv(t)

	ws, _, err := e.dial(t, "")
	require.NoError(t, err)
	assert.Equal(t, "WebSocket connection established", readFrame(t, ws)["message"])
	assert.Equal(t, 1, e.manager.Count())
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	e := newTestEnv(t)
	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.server.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPushEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "pw1")
	e.register(t, "bob", "pw2")
	aliceToken := e.login(t, "alice", "pw1")
	bobToken := e.login(t, "bob", "pw2")

	resp := e.do(t, http.MethodPost, "/push/bob", aliceToken, map[string]string{"content": "ping"})
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Equal(t, "No active channel", resp.body["error"])

	bobWS := e.openChannel(t, "bob", bobToken)

	resp = e.do(t, http.MethodPost, "/push/bob", aliceToken, map[string]string{"content": "ping"})
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "Message delivered", resp.body["message"])
	assert.Equal(t, map[string]string{"from": "alice", "content": "ping"}, readFrame(t, bobWS))
}

func TestRelay_BetweenBoundChannels(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "pw1")
	e.register(t, "bob", "pw2")
	aliceWS := e.openChannel(t, "alice", e.login(t, "alice", "pw1"))
	bobWS := e.openChannel(t, "bob", e.login(t, "bob", "pw2"))

	require.NoError(t, aliceWS.WriteJSON(RelayMessage{To: "bob", Content: "hi bob"}))
	assert.Equal(t, map[string]string{"from": "alice", "content": "hi bob"}, readFrame(t, bobWS))
}

func TestHealthAndFallbacks(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.server.URL + "/health")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pushgate server is running!", buf.String())

	notFound := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, notFound.status)

	wrongMethod := e.do(t, http.MethodGet, "/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethod.status)
	assert.Equal(t, "Method not allowed", wrongMethod.body["error"])
}

// reloginDuringUpgrade logs username in again while the upgrade is in flight,
// after the router has already checked the caller's token.
type reloginDuringUpgrade struct {
	Channels
	registry *session.Registry
	username string
	current  chan session.Session
}

func (c *reloginDuringUpgrade) Accept(w http.ResponseWriter, r *http.Request) (*push.Conn, error) {
	c.current <- c.registry.Activate(c.username)
	return c.Channels.Accept(w, r)
}

func TestWebSocket_LoginDuringUpgradeRejectsStaleChannel(t *testing.T) {
	relogin := &reloginDuringUpgrade{username: "alice", current: make(chan session.Session, 1)}
	e := newTestEnvWith(t, func(inner Channels, reg *session.Registry) Channels {
		relogin.Channels = inner
		relogin.registry = reg
		return relogin
	})
	e.register(t, "alice", "pw1")
	staleToken := e.login(t, "alice", "pw1")

	ws, _, err := e.dial(t, staleToken)
	require.NoError(t, err)
	newer := <-relogin.current
	requireClosed(t, ws)

	require.Eventually(t, func() bool { return e.manager.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	s, err := e.registry.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, s.ID)
	assert.Equal(t, session.Authenticated, s.Status)
	assert.False(t, s.HasChannel())
}

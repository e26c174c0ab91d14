package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/courier/internal/auth"
	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/log"
	"github.com/vovakirdan/courier/internal/proto"
	"github.com/vovakirdan/courier/internal/service/messaging"
	"github.com/vovakirdan/courier/internal/service/notify"
	"github.com/vovakirdan/courier/internal/service/presence"
	"github.com/vovakirdan/courier/internal/session"
	"github.com/vovakirdan/courier/internal/store"
	"github.com/vovakirdan/courier/internal/store/sqlite"
)

const testPassword = "password123"

type testEnv struct {
	server    *httptest.Server
	auth      *auth.Service
	messaging *messaging.Service
	registry  *core.ShardedRegistry
	store     *sqlite.SQLiteStore
	cfg       config.Config
	users     map[string]*store.User
	tokens    map[string]string
}

// newTestEnv wires the full stack over an in-memory SQLite store and memory sessions.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithSessions(t, session.NewMemoryStore())
}

func newTestEnvWithSessions(t *testing.T, sessions session.Store) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	cfg := config.Default()
	cfg.Realtime.EventBuffer = 16
	cfg.Realtime.WriteTimeout = time.Second

	authSvc := auth.NewService(st, sessions, auth.Options{
		Token:         auth.TokenConfig{Secret: []byte("test-secret"), Issuer: "test", TTL: time.Hour},
		SessionTTL:    time.Hour,
		LookupTimeout: time.Second,
	}, logger)

	reg := core.NewRegistry()
	router := core.NewRouter(reg, logger)
	msgSvc := messaging.New(st, router, logger)

	handler := NewRouter(Services{
		Auth:      authSvc,
		Messaging: msgSvc,
		Presence:  presence.New(router, msgSvc, logger),
		Notify:    notify.New(router, reg, logger),
		Registry:  reg,
	}, &cfg, logger)

	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &testEnv{
		server:    ts,
		auth:      authSvc,
		messaging: msgSvc,
		registry:  reg,
		store:     st,
		cfg:       cfg,
		users:     make(map[string]*store.User),
		tokens:    make(map[string]string),
	}
}

// addUser creates an account and logs it in.
func (e *testEnv) addUser(t *testing.T, name string, role store.Role) string {
	t.Helper()
	ctx := context.Background()
	user, err := e.auth.CreateUser(ctx, name, testPassword, strings.ToUpper(name[:1])+name[1:], role)
	require.NoError(t, err)
	token, _, err := e.auth.Login(ctx, name, testPassword)
	require.NoError(t, err)
	e.users[name] = user
	e.tokens[name] = token
	return user.ID
}

func (e *testEnv) id(name string) string { return e.users[name].ID }

// do sends a JSON request as user (anonymous when user is empty) and decodes the response into out.
func (e *testEnv) do(t *testing.T, user, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := stdhttp.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.ContentLength != 0 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.server.URL, "http", "ws", 1) + "/ws"
}

// dial opens an authenticated websocket for user.
func (e *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.wsURL(), &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + e.tokens[user]}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

// waitConnections blocks until the registry holds n connections.
func (e *testEnv) waitConnections(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.registry.Count() == n }, 2*time.Second, 5*time.Millisecond)
}

type wireEnvelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: raw}))
}

func read(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env wireEnvelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

// expectNothing asserts conn receives no frame within a short window.
// The read deadline closes conn, so call it last.
func expectNothing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var env wireEnvelope
	err := wsjson.Read(ctx, conn, &env)
	require.Error(t, err, "unexpected frame %+v", env)
}

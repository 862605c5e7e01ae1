package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/fanout/internal/auth"
	"github.com/relayhub/fanout/internal/cache"
	"github.com/relayhub/fanout/internal/config"
	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/metrics"
	"github.com/relayhub/fanout/internal/registry"
)

const testJWTSecret = "gateway-test-secret-32-bytes-ok"

type testFixture struct {
	gw  *Gateway
	cfg *config.Config
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:            testJWTSecret,
		CredentialCacheTTL:   30 * time.Second,
		HandshakeDeadline:    2 * time.Second,
		WSPingInterval:       100 * time.Millisecond,
		WSPingTimeout:        2 * time.Second,
		MaxQueuePerSocket:    100,
		MaxQueueBytes:        1 << 20,
		AllowQueryCredential: false,
		LongPollEnabled:      true,
		LongPollWait:         200 * time.Millisecond,
	}
	disabledCache, err := cache.NewCache(cache.Config{Enabled: false})
	require.NoError(t, err)
	verifier := auth.New(cfg, disabledCache)
	reg := registry.New(0)
	cm := connmgr.New(connmgr.Config{
		ThrottleWindow:      time.Second,
		ThrottleMaxAttempts: 3,
		ThrottleCooldown:    time.Second,
		HandshakeDeadline:   cfg.HandshakeDeadline,
	})
	m := metrics.New(metrics.Thresholds{WarnConnections: 1000, CriticalConnections: 5000, WarnResponseTimeMs: 500, CriticalResponseTimeMs: 1000, WarnErrorRate: 0.5, CriticalErrorRate: 0.9, WarnMemory: 0.9, CriticalMemory: 0.95})

	gw := New(cfg, verifier, reg, cm, m)
	return &testFixture{gw: gw, cfg: cfg}
}

func signTestToken(t *testing.T, userID int64, role string) string {
	t.Helper()
	now := time.Now()
	claims := auth.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := map[string][]string{"X-Socket-Auth-Token": {token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestHandshake_AcceptsValidToken(t *testing.T) {
	f := newTestFixture(t)
	server := httptest.NewServer(f.gw)
	defer server.Close()

	token := signTestToken(t, 42, "member")
	conn := dial(t, server, token)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, "connected", env.Event)
}

func TestHandshake_RejectsMissingCredential(t *testing.T) {
	f := newTestFixture(t)
	server := httptest.NewServer(f.gw)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	assert.Equal(t, "connection_rejected", env.Event)
	assert.Contains(t, string(env.Data), "auth_failed")
}

func TestHandshake_RejectsDuplicateConnection(t *testing.T) {
	f := newTestFixture(t)
	server := httptest.NewServer(f.gw)
	defer server.Close()

	token := signTestToken(t, 42, "member")
	first := dial(t, server, token)
	defer first.Close()
	readEnvelope(t, first) // connected

	second := dial(t, server, token)
	defer second.Close()
	env := readEnvelope(t, second)
	assert.Equal(t, "connection_rejected", env.Event)
	assert.Contains(t, string(env.Data), "duplicate_connection")
}

func TestSubscribeForbiddenChannel(t *testing.T) {
	f := newTestFixture(t)
	server := httptest.NewServer(f.gw)
	defer server.Close()

	token := signTestToken(t, 7, "member")
	conn := dial(t, server, token)
	defer conn.Close()
	readEnvelope(t, conn) // connected

	conn.WriteJSON(Envelope{Event: "subscribe", Data: json.RawMessage(`{"channel":"private-user.8"}`)})
	env := readEnvelope(t, conn)
	assert.Equal(t, "subscription_error", env.Event)
}

func TestSubscribeAllowedChannel(t *testing.T) {
	f := newTestFixture(t)
	server := httptest.NewServer(f.gw)
	defer server.Close()

	token := signTestToken(t, 7, "member")
	conn := dial(t, server, token)
	defer conn.Close()
	readEnvelope(t, conn) // connected

	conn.WriteJSON(Envelope{Event: "subscribe", Data: json.RawMessage(`{"channel":"public.news"}`)})
	env := readEnvelope(t, conn)
	assert.Equal(t, "subscribed", env.Event)
}

func TestPingPong(t *testing.T) {
	f := newTestFixture(t)
	server := httptest.NewServer(f.gw)
	defer server.Close()

	token := signTestToken(t, 7, "member")
	conn := dial(t, server, token)
	defer conn.Close()
	readEnvelope(t, conn) // connected

	conn.WriteJSON(Envelope{Event: "ping", Data: json.RawMessage(`{"timestamp":123}`)})
	env := readEnvelope(t, conn)
	assert.Equal(t, "pong", env.Event)
}

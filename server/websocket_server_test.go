package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"decoycall/config"
	"decoycall/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:           0,
		RedisURL:       "127.0.0.1:1", // unreachable on purpose; registry is optional
		MaxSessions:    10,
		SessionTimeout: time.Minute,
		GeminiAPIKey:   "test-key",
		AllowedOrigins: []string{"*"},
	}
}

func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	manager, err := session.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(manager.Shutdown)

	s := NewServer(cfg, manager)
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestMissingAPIKeyClosesWithPolicyViolation(t *testing.T) {
	cfg := testConfig()
	cfg.GeminiAPIKey = ""
	url := startServer(t, cfg)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	require.NoError(t, err, "the upgrade itself must succeed")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close frame, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "API key not configured", closeErr.Text)
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://calls.example"}
	url := startServer(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealthReportsSessionCount(t *testing.T) {
	url := startServer(t, testConfig())

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	buf := make([]byte, 128)
	n, _ := resp.Body.Read(buf)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, string(buf[:n]))
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/callbridge/pkg/core/types"
	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/convlog"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
)

type staticChat string

func (c staticChat) Complete(context.Context, []types.Message) (string, error) {
	return string(c), nil
}

func testConfig() config.Config {
	return config.Config{
		Provider:            config.ProviderAnthropic,
		AnthropicAPIKey:     "sk-test",
		GreetingMode:        config.GreetingWait,
		ChatRateLimit:       2,
		ChatRateWindow:      time.Minute,
		ChatMaxBodyBytes:    1 << 16,
		ChatMaxMessages:     50,
		ChatMaxMessageRunes: 5000,
		ConversationLogSize: 10,
		HandlerTimeout:      time.Minute,
	}
}

func newTestServer(cfg config.Config) *Server {
	return New(cfg, zerolog.Nop(), Dependencies{
		ChatEngine: staticChat("Hello from the dock."),
		Provider:   "fake",
		Metrics:    metrics.New("test"),
	})
}

func do(t *testing.T, h http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServer_UnknownRouteReturnsJSON404(t *testing.T) {
	s := newTestServer(testConfig())

	rr := do(t, s.Handler(), http.MethodGet, "/does-not-exist", "", nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestServer_HealthAndMetrics(t *testing.T) {
	s := newTestServer(testConfig())

	rr := do(t, s.Handler(), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	rr = do(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_http_requests_total")
}

func TestServer_ChatRouteIsRateLimited(t *testing.T) {
	s := newTestServer(testConfig())
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	for range 2 {
		rr := do(t, s.Handler(), http.MethodPost, "/api/chat", body, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.JSONEq(t, `{"reply":"Hello from the dock."}`, rr.Body.String())
	}
	rr := do(t, s.Handler(), http.MethodPost, "/api/chat", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, 2, s.Conversations().Len())
}

func TestServer_ChatRejectsGet(t *testing.T) {
	s := newTestServer(testConfig())
	rr := do(t, s.Handler(), http.MethodGet, "/api/chat", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServer_AdminRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.AdminPassword = "hunter2"
	s := newTestServer(cfg)
	s.Conversations().Record("conv_1", convlog.ChannelChat, []types.Message{types.UserMessage("hi")})

	rr := do(t, s.Handler(), http.MethodGet, "/api/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, s.Handler(), http.MethodGet, "/api/conversations", "", map[string]string{"X-Admin-Password": "hunter2"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":1`)

	rr = do(t, s.Handler(), http.MethodGet, "/api/conversations/conv_1?password=hunter2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":"conv_1"`)

	rr = do(t, s.Handler(), http.MethodGet, "/api/calls", "", map[string]string{"X-Admin-Password": "hunter2"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"total":0,"calls":[]}`, rr.Body.String())
}

func TestServer_AdminRoutesAbsentWithoutPassword(t *testing.T) {
	s := newTestServer(testConfig())
	rr := do(t, s.Handler(), http.MethodGet, "/api/conversations", "", map[string]string{"X-Admin-Password": ""})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://example.com"}
	s := newTestServer(cfg)

	rr := do(t, s.Handler(), http.MethodOptions, "/api/chat", "", map[string]string{
		"Origin":                        "https://example.com",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ServesStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.js"), []byte("console.log('hi')"), 0o644))
	cfg := testConfig()
	cfg.StaticDir = dir
	s := newTestServer(cfg)

	rr := do(t, s.Handler(), http.MethodGet, "/widget.js", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log('hi')", rr.Body.String())

	rr = do(t, s.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_ReadyzReflectsDraining(t *testing.T) {
	s := newTestServer(testConfig())
	s.deps.Lifecycle.SetDraining(true)
	rr := do(t, s.Handler(), http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astromesh/observer/internal/config"
	"github.com/astromesh/observer/internal/metrics"
	"github.com/astromesh/observer/internal/models"
	"github.com/astromesh/observer/internal/notifier"
	"github.com/astromesh/observer/internal/router"
)

type memStore struct {
	mu      sync.Mutex
	events  []models.AttentionEvent
	ops     []models.Operation
	pingErr error
}

func (m *memStore) InsertAttentionEvent(_ context.Context, ev models.AttentionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memStore) InsertOperation(_ context.Context, op models.Operation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
	return true, nil
}

func (m *memStore) Ping(context.Context) error {
	return m.pingErr
}

func testConfig() config.Config {
	return config.Config{
		NodeID:      "observer",
		BridgeRate:  1000,
		BridgeBurst: 1000,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (http.Handler, *memStore) {
	t.Helper()
	st := &memStore{}
	reg := prometheus.NewRegistry()
	rt := router.New(cfg.NodeID, st, notifier.NewBus(zap.NewNop()), nil, metrics.New(reg), zap.NewNop())
	return NewRouter(cfg, rt, st, reg, zap.NewNop()), st
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReady(t *testing.T) {
	h, st := newTestServer(t, testConfig())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	st.pingErr = errors.New("db down")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAstrosentry_RoutedThroughObserver(t *testing.T) {
	h, st := newTestServer(t, testConfig())

	w := postJSON(t, h, "/bridge/astrosentry", `{
		"server": "edge-1",
		"event_type": "deploy",
		"operation": "rollout",
		"outcome": "failure",
		"metadata": {"region": "eu-1"}
	}`)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		Status    string `json:"status"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.RequestID)

	// Universal signal event + astrosentry operation event.
	require.Len(t, st.events, 2)
	assert.Equal(t, models.EventSignal, st.events[0].EventType)
	assert.Equal(t, "deploy:rollout", st.events[1].Target)
	assert.Equal(t, "astrosentry-http", st.events[1].Context["bridge_source"])
	assert.Equal(t, "eu-1", st.events[1].Context["region"])

	require.Len(t, st.ops, 1)
	assert.Equal(t, "deploy", st.ops[0].OperationType)
	assert.Equal(t, models.OutcomeFailure, st.ops[0].Outcome)
	assert.Equal(t, "edge-1", st.ops[0].ServerName)
}

func TestAstrosentry_WithoutOutcomeIsAuditOnly(t *testing.T) {
	h, st := newTestServer(t, testConfig())

	w := postJSON(t, h, "/bridge/astrosentry", `{
		"server": "edge-1",
		"event_type": "deploy",
		"operation": "rollout"
	}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, st.events, 2)
	assert.Empty(t, st.ops)
}

func TestAstrosentry_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{not json`},
		{"missing_server", `{"event_type":"deploy"}`},
		{"missing_event_type", `{"server":"edge-1"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, st := newTestServer(t, testConfig())

			w := postJSON(t, h, "/bridge/astrosentry", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp struct {
				Error     string `json:"error"`
				RequestID string `json:"request_id"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.NotEmpty(t, resp.RequestID, "error envelope must carry the request id")

			assert.Empty(t, st.events, "rejected request must not reach the router")
		})
	}
}

func TestRequestID_CallerSuppliedIsEchoed(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "corr-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "corr-123", w.Header().Get("X-Request-ID"))
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.BridgeRate = 1
	cfg.BridgeBurst = 1
	h, _ := newTestServer(t, cfg)

	body := `{"server":"edge-1","event_type":"deploy"}`

	first := postJSON(t, h, "/bridge/astrosentry", body)
	require.Equal(t, http.StatusAccepted, first.Code)

	second := postJSON(t, h, "/bridge/astrosentry", body)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "rate limit exceeded", resp.Error)
}

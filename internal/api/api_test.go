package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/vigil/internal/collector"
	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/events"
	"github.com/steveyegge/vigil/internal/monitor"
	"github.com/steveyegge/vigil/internal/telemetry"
	"github.com/steveyegge/vigil/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	monitor *monitor.Monitor
	router  *gin.Engine
}

func newEnv(t *testing.T, token string) *env {
	t.Helper()

	cfg := config.Default()
	cfg.Dimensions = []config.Dimension{
		{Name: "api", Weight: 0.85, Source: "test"},
		{Name: "queue", Weight: 0.15, Source: "test"},
	}
	cfg.Recovery.RateLimit = 0
	cfg.API.Token = token

	c := collector.New(nil)
	require.NoError(t, c.Register(collector.NewStaticSource("test", map[string]float64{"api": 1.0, "queue": 0.3})))

	metrics := telemetry.NewMetrics()
	m, err := monitor.New(monitor.Deps{Config: cfg, Collector: c, Sink: events.NewMultiSink(metrics)})
	require.NoError(t, err)

	return &env{
		monitor: m,
		router:  NewRouter(m, Options{Token: token, Metrics: metrics.Handler()}),
	}
}

func (e *env) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStateBeforeFirstCycle(t *testing.T) {
	e := newEnv(t, "")

	rec := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"monitor":"pending"`)

	rec = e.do(t, http.MethodGet, "/v1/state", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStateAfterCycle(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.monitor.RunCycle(context.Background())
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/v1/state", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state types.CompositeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.InDelta(t, 0.895, state.Composite, 1e-9)
	assert.Equal(t, types.StatusGood, state.Status)
	require.Len(t, state.Challenges, 1)
	assert.Equal(t, types.SeverityCritical, state.Challenges[0].Severity)

	rec = e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Contains(t, rec.Body.String(), `"monitor":"good"`)

	rec = e.do(t, http.MethodGet, "/v1/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, 1.0, metrics[monitor.MetricChallengeCount])

	rec = e.do(t, http.MethodGet, "/v1/processes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vigil_composite_score 0.89")
}

func TestHistoryLimit(t *testing.T) {
	e := newEnv(t, "")
	for i := 0; i < 3; i++ {
		_, err := e.monitor.RunCycle(context.Background())
		require.NoError(t, err)
	}

	tests := []struct {
		query string
		code  int
		count int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=0", http.StatusOK, 3},
		{"?limit=-1", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/v1/history"+tt.query, "", nil)
			require.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Contains(t, rec.Body.String(), fmt.Sprintf(`"count":%d`, tt.count))
			}
		})
	}
}

func TestGetConfigRedactsToken(t *testing.T) {
	e := newEnv(t, "s3cret")

	rec := e.do(t, http.MethodGet, "/v1/config", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")

	cfg, err := config.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, cfg.Dimensions, 2)
}

func TestPutConfig(t *testing.T) {
	e := newEnv(t, "s3cret")
	auth := map[string]string{"Authorization": "Bearer s3cret"}

	current := e.do(t, http.MethodGet, "/v1/config", "", nil).Body.String()
	updated := strings.Replace(current, "minimum_threshold: 0.75", "minimum_threshold: 0.7", 1)
	require.NotEqual(t, current, updated)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		code    int
	}{
		{"missing token", updated, nil, http.StatusUnauthorized},
		{"wrong token", updated, map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"lowercase prefix", updated, map[string]string{"Authorization": "bearer s3cret"}, http.StatusUnauthorized},
		{"malformed document", "minimum_threshold: [", auth, http.StatusBadRequest},
		{"thresholds out of order", strings.Replace(current, "critical_threshold: 0.6", "critical_threshold: 0.9", 1), auth, http.StatusUnprocessableEntity},
		{"valid update", updated, auth, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPut, "/v1/config", tt.body, tt.headers)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	cfg := e.monitor.Configuration()
	assert.Equal(t, 0.7, cfg.MinimumThreshold)
	assert.Equal(t, "s3cret", cfg.API.Token, "redacted token keeps the running one")
}

func TestPutConfigWithoutToken(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(t, http.MethodPut, "/v1/config", "history_capacity: 10\n", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, e.monitor.Configuration().HistoryCapacity)
}

func TestServerStartShutdown(t *testing.T) {
	e := newEnv(t, "")
	srv := NewServer("127.0.0.1:0", e.router, nil)

	addr, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

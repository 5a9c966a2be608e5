package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-compliance/api/controllers"
	"github.com/angelmondragon/packfinderz-compliance/pkg/config"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func testConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestLive(t *testing.T) {
	r := NewRouter(testConfig(), logger.Nop(), nil, nil)

	w := serve(t, r, "/health/live")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", w.Header().Get("X-PackFinderz-Env"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestReadyAllHealthy(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	r := NewRouter(testConfig(), logger.Nop(), map[string]controllers.Pinger{"db": ok, "redis": ok}, nil)

	w := serve(t, r, "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
}

func TestReadyReportsFailingDependency(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	r := NewRouter(testConfig(), logger.Nop(), map[string]controllers.Pinger{"db": ok, "redis": down}, nil)

	w := serve(t, r, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "DEPENDENCY_ERROR")
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestMetricsExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "compliance_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	r := NewRouter(testConfig(), logger.Nop(), nil, reg)
	w := serve(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "compliance_test_total 1"))
}

func TestMetricsAbsentWithoutGatherer(t *testing.T) {
	r := NewRouter(testConfig(), logger.Nop(), nil, nil)
	assert.Equal(t, http.StatusNotFound, serve(t, r, "/metrics").Code)
}

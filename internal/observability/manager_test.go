package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/Additional-Code/mesbridge/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Remote:    config.Remote{Enabled: true, Driver: "memory", Database: "CONNECTOR_ORDERS"},
		Messaging: config.Messaging{Enabled: true, Driver: "memory"},
		Observability: config.Observability{
			ServiceName:      "mesbridge",
			Environment:      "test",
			TraceExporter:    "none",
			TraceSampleRatio: 1,
			MetricsExporter:  "prometheus",
			PrometheusPath:   "/metrics",
		},
	}
}

func TestBuild_PrometheusServesBuildInfo(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.EnableMetrics = true

	mgr, err := build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	require.True(t, mgr.MetricsEnabled())
	require.NotNil(t, mgr.MetricsHandler())
	require.NotNil(t, mgr.Registry())

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `mesbridge_build_info{messaging_driver="memory",remote_driver="memory",version="0.1.0"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestBuild_DisabledRemoteIsLabelled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.EnableMetrics = true
	cfg.Remote.Enabled = false
	cfg.Messaging.Enabled = false

	mgr, err := build(context.Background(), cfg, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `messaging_driver="noop",remote_driver="disabled"`)
}

func TestBuild_DisabledProvidersFallBackToNoop(t *testing.T) {
	mgr, err := build(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	assert.False(t, mgr.MetricsEnabled())
	assert.False(t, mgr.TracingEnabled())
	assert.Nil(t, mgr.MetricsHandler())
	assert.IsType(t, noop.MeterProvider{}, mgr.MeterProvider())
	assert.NoError(t, mgr.Shutdown(context.Background()))
}

func TestBuild_UnsupportedExportersDisableSignals(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.EnableTracing = true
	cfg.Observability.EnableMetrics = true
	cfg.Observability.MetricsExporter = "statsd"

	mgr, err := build(context.Background(), cfg, nil)
	require.NoError(t, err)

	assert.False(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
}

func TestBuild_OTLPRequiresEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.EnableTracing = true
	cfg.Observability.TraceExporter = "otlp"

	_, err := build(context.Background(), cfg, nil)
	assert.Error(t, err)
}

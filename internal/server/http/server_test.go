package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func serve(e *echo.Echo, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func TestNewEcho_HealthWithoutDatabase(t *testing.T) {
	cfg := config.Config{Remote: config.Remote{Enabled: true, Driver: "memory", Host: "mes", Port: 1433, Database: "CONNECTOR_ORDERS"}}
	e := NewEcho(cfg, nil, nil, zap.NewNop())

	rec, body := serve(e, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["remote_enabled"])
	assert.Equal(t, "memory", body["remote_driver"])
	assert.NotContains(t, body, "remote_error")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestHealthHandler_DegradedWhenDatabaseDown(t *testing.T) {
	e := echo.New()
	e.GET("/health", healthHandler(config.Remote{}, stubPinger{err: errors.New("connection refused")}, zap.NewNop()))

	rec, body := serve(e, http.MethodGet, "/health")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["remote_enabled"])
	assert.NotContains(t, body, "remote_driver")
}

func TestHealthHandler_ReportsRemoteMisconfiguration(t *testing.T) {
	e := echo.New()
	e.GET("/health", healthHandler(config.Remote{Enabled: true, Driver: "sqlserver"}, stubPinger{}, zap.NewNop()))

	rec, body := serve(e, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["remote_error"])
}

func TestErrorHandler_UsesEnvelope(t *testing.T) {
	e := NewEcho(config.Config{}, nil, nil, zap.NewNop())
	e.GET("/boom", func(echo.Context) error { return errorbank.Timeout("remote did not answer") })
	e.GET("/plain", func(echo.Context) error { return errors.New("nil pointer") })

	rec, body := serve(e, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, body, "error")
	assert.Equal(t, "not_found", body["error"].(map[string]any)["kind"])

	rec, body = serve(e, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, true, body["error"].(map[string]any)["retryable"])

	rec, body = serve(e, http.MethodGet, "/plain")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body["error"].(map[string]any)["message"])
}

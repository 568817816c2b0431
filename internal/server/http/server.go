package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/database"
	"github.com/Additional-Code/mesbridge/internal/observability"
	"github.com/Additional-Code/mesbridge/internal/presentation/http/response"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

const readHeaderTimeout = 10 * time.Second

// Module exposes the HTTP server lifecycle to Fx.
var Module = fx.Module("http_server",
	fx.Provide(NewEcho),
	fx.Invoke(Run),
)

// Pinger reports whether the local order store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewEcho configures the Echo router with recovery, request ids, tracing,
// health and metrics routes.
func NewEcho(cfg config.Config, obs *observability.Manager, conns *database.Connections, logger *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if obs != nil && obs.TracingEnabled() {
		e.Use(otelecho.Middleware(cfg.Observability.ServiceName))
	}

	var db Pinger
	if conns != nil {
		db = conns
	}
	e.GET("/health", healthHandler(cfg.Remote, db, logger))

	if obs != nil && obs.MetricsHandler() != nil {
		e.GET(cfg.Observability.PrometheusPath, echo.WrapHandler(obs.MetricsHandler()))
	}

	return e
}

// errorHandler renders router errors (unknown route, bad method, recovered
// panics) in the same envelope as handler errors.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var appErr *errorbank.AppError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
		case errors.As(err, &httpErr) && httpErr.Code < http.StatusInternalServerError:
			kind := errorbank.KindBadRequest
			if httpErr.Code == http.StatusNotFound {
				kind = errorbank.KindNotFound
			}
			appErr = errorbank.New(kind, http.StatusText(httpErr.Code))
			_ = response.New(c).WithStatus(httpErr.Code).WithError(appErr).Build()
			return
		default:
			appErr = errorbank.Internal("internal error", errorbank.WithCause(err))
		}

		logger.Error("http request failed",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		if err := response.New(c).WithError(appErr).Build(); err != nil {
			logger.Warn("write error response", zap.Error(err))
		}
	}
}

// healthHandler reports the local store state and the remote integration
// settings. It never opens a remote connection.
func healthHandler(remote config.Remote, db Pinger, logger *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		status, code := "ok", http.StatusOK
		if db != nil {
			if err := db.Ping(c.Request().Context()); err != nil {
				logger.Warn("health check: database unavailable", zap.Error(err))
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}

		body := map[string]any{
			"status":         status,
			"remote_enabled": remote.Enabled,
		}
		if remote.Enabled {
			body["remote_driver"] = remote.Driver
			if err := remote.Validate(); err != nil {
				body["remote_error"] = errorbank.From(err).Message()
			}
		}
		return c.JSON(code, body)
	}
}

// Run starts the HTTP server and ties it to the Fx lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, logger *zap.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           e,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}

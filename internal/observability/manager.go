package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
)

// Version is reported on the service resource and the build info gauge.
var Version = "0.1.0"

const (
	shutdownTimeout       = 10 * time.Second
	stdoutMetricsInterval = 30 * time.Second
	otlpDialTimeout       = 10 * time.Second
	metricsNamespace      = "mesbridge"
)

// Manager owns the trace and meter providers and the Prometheus registry
// scraped on the metrics route.
type Manager struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
	metricsHandler http.Handler
	cfg            config.Observability
	logger         *zap.Logger
}

// Module exposes the observability manager and its meter provider to Fx.
var Module = fx.Provide(
	NewManager,
	func(m *Manager) metric.MeterProvider { return m.MeterProvider() },
)

// NewManager configures tracing and metrics and installs them globally on start.
func NewManager(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Manager, error) {
	mgr, err := build(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			mgr.install()
			return nil
		},
		OnStop: mgr.Shutdown,
	})

	return mgr, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mgr := &Manager{cfg: cfg.Observability, logger: logger}

	if cfg.Observability.EnableTracing {
		if err := mgr.initTracing(ctx, res); err != nil {
			return nil, err
		}
	}
	if cfg.Observability.EnableMetrics {
		if err := mgr.initMetrics(res, cfg); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

func newResource(ctx context.Context, cfg config.Config) (*sdkresource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.Observability.ServiceName),
		semconv.ServiceVersion(Version),
		attribute.String("service.environment", cfg.Observability.Environment),
		attribute.Bool("mesbridge.remote.enabled", cfg.Remote.Enabled),
	}
	if cfg.Remote.Enabled {
		attrs = append(attrs,
			attribute.String("mesbridge.remote.driver", cfg.Remote.Driver),
			attribute.String("mesbridge.remote.database", cfg.Remote.Database),
		)
	}
	return sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(attrs...),
	)
}

func (m *Manager) install() {
	if tp := m.tracerProvider; tp != nil {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	if mp := m.meterProvider; mp != nil {
		otel.SetMeterProvider(mp)
	}
}

// Shutdown flushes pending spans and metrics.
func (m *Manager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var err error
	if tp := m.tracerProvider; tp != nil {
		err = errors.Join(err, tp.Shutdown(ctx))
	}
	if mp := m.meterProvider; mp != nil {
		err = errors.Join(err, mp.Shutdown(ctx))
	}
	return err
}

// TracingEnabled reports whether tracing is active.
func (m *Manager) TracingEnabled() bool {
	return m.tracerProvider != nil
}

// MetricsEnabled reports whether metrics are active.
func (m *Manager) MetricsEnabled() bool {
	return m.meterProvider != nil
}

// MeterProvider returns the SDK meter provider, or a no-op provider when
// metrics are disabled.
func (m *Manager) MeterProvider() metric.MeterProvider {
	if m.meterProvider == nil {
		return noop.NewMeterProvider()
	}
	return m.meterProvider
}

// MetricsHandler serves the Prometheus registry. It is nil unless the
// prometheus exporter is selected.
func (m *Manager) MetricsHandler() http.Handler {
	return m.metricsHandler
}

// Registry returns the Prometheus registry backing the metrics route, or nil.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// PrometheusPath returns the configured metrics endpoint path.
func (m *Manager) PrometheusPath() string {
	return m.cfg.PrometheusPath
}

func (m *Manager) initTracing(ctx context.Context, res *sdkresource.Resource) error {
	exporter, err := m.traceExporter(ctx)
	if err != nil || exporter == nil {
		return err
	}

	m.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.TraceSampleRatio))),
	)
	return nil
}

func (m *Manager) traceExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch m.cfg.TraceExporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if m.cfg.TraceEndpoint == "" {
			return nil, fmt.Errorf("OBS_OTLP_ENDPOINT must be set for otlp exporter")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(m.cfg.TraceEndpoint)}
		if m.cfg.TraceInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		dialCtx, cancel := context.WithTimeout(ctx, otlpDialTimeout)
		defer cancel()
		return otlptracegrpc.New(dialCtx, opts...)
	default:
		m.logger.Warn("unsupported trace exporter; tracing disabled", zap.String("exporter", m.cfg.TraceExporter))
		return nil, nil
	}
}

func (m *Manager) initMetrics(res *sdkresource.Resource, cfg config.Config) error {
	switch m.cfg.MetricsExporter {
	case "prometheus":
		reg := prometheus.NewRegistry()
		if err := registerRuntime(reg, cfg); err != nil {
			return err
		}
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return err
		}
		m.registry = reg
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		m.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint(), stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return err
		}
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(stdoutMetricsInterval))),
			sdkmetric.WithResource(res),
		)
	default:
		m.logger.Warn("unsupported metrics exporter; metrics disabled", zap.String("exporter", m.cfg.MetricsExporter))
	}
	return nil
}

// registerRuntime adds process collectors and a build info gauge labelled
// with the active remote and messaging drivers.
func registerRuntime(reg *prometheus.Registry, cfg config.Config) error {
	remoteDriver := "disabled"
	if cfg.Remote.Enabled {
		remoteDriver = cfg.Remote.Driver
	}
	messagingDriver := "noop"
	if cfg.Messaging.Enabled {
		messagingDriver = cfg.Messaging.Driver
	}

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "build_info",
		Help:      "Build and driver information of the running bridge.",
	}, []string{"version", "remote_driver", "messaging_driver"})
	info.WithLabelValues(Version, remoteDriver, messagingDriver).Set(1)

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		info,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

package ordersync

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/messaging"
	"github.com/Additional-Code/mesbridge/internal/service/dispatch"
	syncsvc "github.com/Additional-Code/mesbridge/internal/service/ordersync"
	"github.com/Additional-Code/mesbridge/internal/worker"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/mesbridge/worker/ordersync")

// Module registers the sync job handler with the worker engine.
var Module = fx.Module("worker_ordersync",
	fx.Provide(
		fx.Annotate(
			NewSyncJobHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// Executor runs one sync attempt.
type Executor interface {
	Sync(ctx context.Context, orderName, actor string) syncsvc.Result
}

// Releaser frees the dedup lock of an order's job.
type Releaser interface {
	Release(ctx context.Context, order, jobID string)
}

// Params defines dependencies for the handler.
type Params struct {
	fx.In

	Service *syncsvc.Service
	Gateway *dispatch.Gateway
	Config  config.Config
	Logger  *zap.Logger
}

// NewSyncJobHandler registers the handler on the configured job topic.
func NewSyncJobHandler(p Params) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:   p.Config.Messaging.Kafka.Topic,
		Handler: Handler(p.Service, p.Gateway, p.Config.Sync.JobTimeout, p.Logger),
	}
}

// Handler decodes a SyncJob and runs it under timeout. Outcomes are logged
// and acknowledged; a failed order is retried by queueing it again.
func Handler(exec Executor, locks Releaser, timeout time.Duration, logger *zap.Logger) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.ordersync.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("messaging.key", string(msg.Key)),
		))
		defer span.End()

		var job dispatch.SyncJob
		if err := json.Unmarshal(msg.Value, &job); err != nil || job.Order == "" {
			// A malformed job can never succeed, so it is dropped rather than redelivered.
			logger.Error("failed to decode sync job", zap.ByteString("key", msg.Key), zap.Error(err))
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		span.SetAttributes(attribute.String("order.name", job.Order), attribute.String("job.id", job.ID))

		jobCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result := exec.Sync(jobCtx, job.Order, job.Actor)
		locks.Release(context.WithoutCancel(ctx), job.Order, job.ID)

		logger := logger.With(zap.String("job", job.Name), zap.String("job_id", job.ID), zap.String("order", job.Order))
		switch r := result.(type) {
		case syncsvc.Synced:
			if r.LocalErr != nil {
				logger.Warn("sync job committed remotely with local bookkeeping errors",
					zap.Int64("remote_order_id", r.RemoteOrderID),
					zap.Error(r.LocalErr))
				break
			}
			logger.Info("sync job completed", zap.Int64("remote_order_id", r.RemoteOrderID), zap.Duration("elapsed", r.Duration))
		case syncsvc.Failed:
			span.SetStatus(codes.Error, string(r.Kind()))
			logger.Warn("sync job failed",
				zap.String("kind", string(r.Kind())),
				zap.Bool("retryable", r.Retryable()),
				zap.String("stage", string(r.Stage)),
				zap.Error(r.Err))
		default:
			logger.Error("sync job returned no result", zap.String("kind", string(errorbank.KindInternal)))
		}
		return nil
	}
}

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/messaging"
)

const maxBackoff = 30 * time.Second

// HandlerRegistration binds a bus topic to the handler for its jobs.
type HandlerRegistration struct {
	Topic   string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	MeterProvider metric.MeterProvider  `optional:"true"`
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine runs the configured number of consumers on the job bus and hands
// every message to the handler registered for its topic. A handler panic is
// logged and the message acknowledged so it is not redelivered forever.
type Engine struct {
	client   messaging.Client
	logger   *zap.Logger
	enabled  bool
	workers  int
	backoff  time.Duration
	handlers map[string]messaging.Handler
	handled  metric.Int64Counter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	handlers := make(map[string]messaging.Handler, len(p.Registrations))
	for _, r := range p.Registrations {
		if r.Topic != "" && r.Handler != nil {
			handlers[r.Topic] = r.Handler
		}
	}

	mp := p.MeterProvider
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	handled, err := mp.Meter("github.com/Additional-Code/mesbridge/worker").Int64Counter("worker.messages",
		metric.WithDescription("Bus messages processed by the worker, by topic and outcome."))
	if err != nil {
		handled, _ = noop.NewMeterProvider().Meter("").Int64Counter("worker.messages")
	}

	workers := p.Config.Messaging.Workers.Concurrency
	if workers <= 0 {
		workers = 1
	}
	backoff := p.Config.Messaging.Workers.PollInterval
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Engine{
		client:   p.Client,
		logger:   p.Logger,
		enabled:  p.Config.Messaging.Enabled && p.Config.Messaging.Workers.Enabled,
		workers:  workers,
		backoff:  backoff,
		handlers: handlers,
		handled:  handled,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

func (e *Engine) start(context.Context) error {
	if !e.enabled {
		e.logger.Info("worker engine disabled")
		return nil
	}
	if len(e.handlers) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func(id int) {
			defer e.wg.Done()
			e.consume(runCtx, id)
		}(i)
	}

	e.logger.Info("worker engine started",
		zap.Int("workers", e.workers),
		zap.String("topic", e.client.Topic()))
	return nil
}

// stop cancels the consumers and waits for in-flight jobs until ctx expires.
func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("worker engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("worker engine stop timed out with jobs in flight")
		return ctx.Err()
	}
}

// consume keeps one consumer attached to the bus, backing off exponentially
// while the broker is failing.
func (e *Engine) consume(ctx context.Context, id int) {
	backoff := e.backoff
	for ctx.Err() == nil {
		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			return e.route(msgCtx, msg, id)
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Int("worker", id), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// route hands msg to the handler registered for its topic. Messages on
// topics nobody handles are acknowledged and dropped.
func (e *Engine) route(ctx context.Context, msg messaging.Message, id int) error {
	handler, ok := e.handlers[msg.Topic]
	if !ok {
		e.logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		e.count(ctx, msg.Topic, "unrouted")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("job handler panicked",
				zap.String("topic", msg.Topic),
				zap.ByteString("key", msg.Key),
				zap.Int("worker", id),
				zap.Any("panic", r),
				zap.StackSkip("stack", 1))
			e.count(ctx, msg.Topic, "panic")
		}
	}()

	e.logger.Debug("processing message",
		zap.String("topic", msg.Topic),
		zap.ByteString("key", msg.Key),
		zap.Int64("offset", msg.Offset),
		zap.Int("worker", id))

	if err := handler(ctx, msg); err != nil {
		e.count(ctx, msg.Topic, "error")
		return err
	}
	e.count(ctx, msg.Topic, "ok")
	return nil
}

func (e *Engine) count(ctx context.Context, topic, outcome string) {
	e.handled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("outcome", outcome),
	))
}

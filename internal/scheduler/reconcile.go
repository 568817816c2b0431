package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/service/reconcile"
)

const defaultInterval = 10 * time.Minute

// Runner performs one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Reconciler *reconcile.Reconciler
	Config     config.Config
	Logger     *zap.Logger
}

// ReconcileTrigger runs the reconciler once at start and then on every tick.
type ReconcileTrigger struct {
	runner     Runner
	enabled    bool
	interval   time.Duration
	passBudget time.Duration
	logger     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconcileTrigger wires the trigger from the Fx graph.
func NewReconcileTrigger(p Params) *ReconcileTrigger {
	return New(p.Reconciler, p.Config, p.Logger)
}

// New builds a trigger around runner.
func New(runner Runner, cfg config.Config, logger *zap.Logger) *ReconcileTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Reconcile.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	budget := cfg.Sync.JobTimeout
	if budget <= 0 || budget > interval {
		budget = interval
	}
	return &ReconcileTrigger{
		runner:     runner,
		enabled:    cfg.Reconcile.Enabled,
		interval:   interval,
		passBudget: budget,
		logger:     logger,
	}
}

// Module wires the trigger into the Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewReconcileTrigger),
	fx.Invoke(func(lc fx.Lifecycle, t *ReconcileTrigger) {
		lc.Append(fx.Hook{
			OnStart: t.Start,
			OnStop:  t.Stop,
		})
	}),
)

// Start launches the polling loop. It returns immediately.
func (t *ReconcileTrigger) Start(context.Context) error {
	if !t.enabled {
		t.logger.Info("reconcile trigger disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.loop(runCtx)
	}()

	t.logger.Info("reconcile trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to end.
func (t *ReconcileTrigger) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		t.logger.Info("reconcile trigger stopped")
		return nil
	}
}

func (t *ReconcileTrigger) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pass(ctx)
		}
	}
}

func (t *ReconcileTrigger) pass(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, t.passBudget)
	defer cancel()

	if _, err := t.runner.Run(passCtx); err != nil && ctx.Err() == nil {
		t.logger.Error("reconcile pass failed", zap.Error(err))
	}
}

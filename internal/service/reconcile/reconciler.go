package reconcile

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/mapper"
	"github.com/Additional-Code/mesbridge/internal/remote"
	repo "github.com/Additional-Code/mesbridge/internal/repository/remoteorder"
	"github.com/Additional-Code/mesbridge/internal/service/remoteorder"
)

var tracer = otel.Tracer("github.com/Additional-Code/mesbridge/service/reconcile")

// Module provides the reconciler to Fx.
var Module = fx.Provide(NewReconciler)

// Shadows lists and updates in-flight shadow records.
type Shadows interface {
	ListInFlight(ctx context.Context) ([]entity.RemoteOrder, error)
	UpdateStatus(ctx context.Context, ro *entity.RemoteOrder) error
}

// Report summarizes one reconciliation pass.
type Report struct {
	Checked   int
	Synced    int
	Failed    int
	Unchanged int
	Errors    int
}

// Reconciler polls the remote system for the verdict on in-flight orders.
type Reconciler struct {
	shadows      Shadows
	remote       remote.Provider
	cache        cache.Store
	settings     config.Remote
	messageLimit int
	logger       *zap.Logger
	now          func() time.Time
}

// Params defines dependencies for constructing Reconciler.
type Params struct {
	fx.In

	Shadows *repo.Repository
	Remote  remote.Provider
	Cache   cache.Store
	Config  config.Config
	Logger  *zap.Logger
}

// NewReconciler wires a Reconciler from the Fx graph.
func NewReconciler(p Params) *Reconciler {
	return New(p.Shadows, p.Remote, p.Cache, p.Config, p.Logger)
}

// New builds a Reconciler from explicit collaborators.
func New(shadows Shadows, provider remote.Provider, store cache.Store, cfg config.Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.Sync.MessageLimit
	if limit <= 0 {
		limit = 140
	}
	return &Reconciler{
		shadows:      shadows,
		remote:       provider,
		cache:        store,
		settings:     cfg.Remote,
		messageLimit: limit,
		logger:       logger,
		now:          time.Now,
	}
}

// Run checks every in-flight record once. A record whose lookup or update
// fails is counted in Report.Errors and the pass continues.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.Run")
	defer span.End()

	var report Report
	pending, err := r.shadows.ListInFlight(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return report, err
	}
	if len(pending) == 0 {
		return report, nil
	}

	err = r.remote.WithSession(ctx, r.settings, func(ctx context.Context, sess remote.Session) error {
		for i := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.reconcile(ctx, sess, &pending[i], &report)
		}
		return nil
	})

	span.SetAttributes(
		attribute.Int("reconcile.checked", report.Checked),
		attribute.Int("reconcile.synced", report.Synced),
		attribute.Int("reconcile.failed", report.Failed),
		attribute.Int("reconcile.errors", report.Errors),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote session failed")
		return report, err
	}

	r.logger.Info("reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("errors", report.Errors))
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, sess remote.Session, ro *entity.RemoteOrder, report *Report) {
	report.Checked++
	logger := r.logger.With(zap.String("remote_order", ro.Name), zap.Int64("operation_id", ro.OperationID))

	status, err := sess.OperationStatus(ctx, ro.OperationID)
	if err != nil {
		report.Errors++
		logger.Error("remote status lookup failed", zap.Error(err))
		return
	}

	switch {
	case !status.Found || status.Code == 0:
		report.Unchanged++
		return
	case status.Code > 0:
		ro.Status = entity.RemoteOrderSynced
		ro.SyncStatus = entity.SyncCompleted
		ro.SyncMessage = mapper.Truncate(status.Notes, r.messageLimit)
	default:
		ro.Status = entity.RemoteOrderFailed
		ro.SyncStatus = entity.SyncFailed
		ro.SyncMessage = mapper.Truncate(status.Notes, r.messageLimit)
	}
	ro.UpdatedAt = r.now().UTC()

	if err := r.shadows.UpdateStatus(ctx, ro); err != nil {
		report.Errors++
		logger.Error("record remote verdict", zap.Error(err))
		return
	}
	if ro.SyncStatus == entity.SyncCompleted {
		report.Synced++
	} else {
		report.Failed++
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, remoteorder.CacheKey(ro.SalesOrder)); err != nil {
			logger.Warn("remote order cache invalidation failed", zap.Error(err))
		}
	}
	logger.Info("remote verdict recorded", zap.String("status", string(ro.Status)), zap.Int64("code", status.Code))
}

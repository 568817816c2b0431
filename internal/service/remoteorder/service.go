package remoteorder

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	repo "github.com/Additional-Code/mesbridge/internal/repository/remoteorder"
	"github.com/Additional-Code/mesbridge/internal/repository/synclog"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/mesbridge/service/remoteorder")

// CacheKey is the cache entry holding the shadow view of a sales order.
// Writers delete it after every save.
func CacheKey(salesOrder string) string {
	return "remote_orders:" + salesOrder
}

// Shadows reads shadow records.
type Shadows interface {
	GetBySalesOrder(ctx context.Context, salesOrder string) (*entity.RemoteOrder, error)
}

// Logs reads the sync audit trail.
type Logs interface {
	ListByReference(ctx context.Context, reference string, limit int) ([]entity.SyncLog, error)
}

// Service serves read access to shadow records and sync logs.
type Service struct {
	shadows  Shadows
	logs     Logs
	cache    cache.Store
	cacheTTL time.Duration
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Shadows *repo.Repository
	Logs    *synclog.Repository
	Cache   cache.Store
	Config  config.Config
	Logger  *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return New(p.Shadows, p.Logs, p.Cache, p.Config.Cache.DefaultTTL, p.Logger)
}

// New builds a Service from explicit collaborators.
func New(shadows Shadows, logs Logs, store cache.Store, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{shadows: shadows, logs: logs, cache: store, cacheTTL: ttl, logger: logger}
}

// Get returns the shadow record of a sales order, consulting cache when available.
func (s *Service) Get(ctx context.Context, salesOrder string) (*entity.RemoteOrder, error) {
	ctx, span := serviceTracer.Start(ctx, "RemoteOrderService.Get", trace.WithAttributes(attribute.String("order.name", salesOrder)))
	defer span.End()

	if salesOrder == "" {
		return nil, errorbank.BadRequest("order name is required")
	}

	if ro, err := s.getFromCache(ctx, salesOrder); err == nil {
		return ro, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("remote orders cache read failed", zap.String("order", salesOrder), zap.Error(err))
	}

	ro, err := s.shadows.GetBySalesOrder(ctx, salesOrder)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("remote order not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load remote order", errorbank.WithCause(err))
	}

	if err := s.storeInCache(ctx, ro); err != nil {
		s.logger.Warn("remote orders cache write failed", zap.String("order", salesOrder), zap.Error(err))
	}
	return ro, nil
}

// Logs returns the newest sync attempts for a sales order.
func (s *Service) Logs(ctx context.Context, salesOrder string, limit int) ([]entity.SyncLog, error) {
	ctx, span := serviceTracer.Start(ctx, "RemoteOrderService.Logs", trace.WithAttributes(attribute.String("order.name", salesOrder)))
	defer span.End()

	if salesOrder == "" {
		return nil, errorbank.BadRequest("order name is required")
	}
	logs, err := s.logs.ListByReference(ctx, salesOrder, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load sync logs", errorbank.WithCause(err))
	}
	return logs, nil
}

func (s *Service) getFromCache(ctx context.Context, salesOrder string) (*entity.RemoteOrder, error) {
	if s.cache == nil {
		return nil, cache.ErrCacheMiss
	}
	bytes, err := s.cache.Get(ctx, CacheKey(salesOrder))
	if err != nil {
		return nil, err
	}
	var ro entity.RemoteOrder
	if err := json.Unmarshal(bytes, &ro); err != nil {
		return nil, err
	}
	return &ro, nil
}

func (s *Service) storeInCache(ctx context.Context, ro *entity.RemoteOrder) error {
	if s.cache == nil || ro == nil {
		return nil
	}
	bytes, err := json.Marshal(ro)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, CacheKey(ro.SalesOrder), bytes, s.cacheTTL)
}

package ordersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/mapper"
	"github.com/Additional-Code/mesbridge/internal/remote"
	remoteorderrepo "github.com/Additional-Code/mesbridge/internal/repository/remoteorder"
	"github.com/Additional-Code/mesbridge/internal/repository/salesorder"
	"github.com/Additional-Code/mesbridge/internal/repository/synclog"
	"github.com/Additional-Code/mesbridge/internal/service/remoteorder"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/mesbridge/service/ordersync")

const bookkeepingTimeout = 10 * time.Second

// Orders is the ERP order store as seen by the executor.
type Orders interface {
	Get(ctx context.Context, name string) (*entity.SalesOrder, error)
	Address(ctx context.Context, name string) (*entity.Address, error)
	UpdateSyncState(ctx context.Context, name string, state entity.SyncState) error
}

// Shadows stores the local mirror of remote orders.
type Shadows interface {
	GetBySalesOrder(ctx context.Context, salesOrder string) (*entity.RemoteOrder, error)
	Save(ctx context.Context, ro *entity.RemoteOrder) error
}

// Logs stores the sync attempt audit trail.
type Logs interface {
	Create(ctx context.Context, log *entity.SyncLog) error
	Finish(ctx context.Context, id string, status entity.SyncLogStatus, operationID int64, message string) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Orders   Orders
	Shadows  Shadows
	Logs     Logs
	Remote   remote.Provider
	Mapper   *mapper.Mapper
	Cache    cache.Store
	Config   config.Config
	Logger   *zap.Logger
	Meter    metric.Meter
	Now      func() time.Time
	NewLogID func() string
}

// Service writes confirmed orders to the remote system, one attempt at a time.
type Service struct {
	orders   Orders
	shadows  Shadows
	logs     Logs
	remote   remote.Provider
	mapper   *mapper.Mapper
	cache    cache.Store
	settings config.Remote
	sync     config.Sync
	logger   *zap.Logger
	now      func() time.Time
	newLogID func() string

	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// Params defines dependencies for constructing Service through Fx.
type Params struct {
	fx.In

	Orders        *salesorder.Repository
	Shadows       *remoteorderrepo.Repository
	Logs          *synclog.Repository
	Remote        remote.Provider
	Mapper        *mapper.Mapper
	Cache         cache.Store
	Config        config.Config
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider `optional:"true"`
}

// NewService wires a Service from the Fx graph.
func NewService(p Params) (*Service, error) {
	deps := Deps{
		Orders:  p.Orders,
		Shadows: p.Shadows,
		Logs:    p.Logs,
		Remote:  p.Remote,
		Mapper:  p.Mapper,
		Cache:   p.Cache,
		Config:  p.Config,
		Logger:  p.Logger,
	}
	if p.MeterProvider != nil {
		deps.Meter = p.MeterProvider.Meter("github.com/Additional-Code/mesbridge/service/ordersync")
	}
	return New(deps)
}

// New builds a Service from explicit collaborators.
func New(d Deps) (*Service, error) {
	if d.Orders == nil || d.Shadows == nil || d.Logs == nil || d.Remote == nil || d.Mapper == nil {
		return nil, errors.New("ordersync: missing collaborator")
	}
	s := &Service{
		orders:   d.Orders,
		shadows:  d.Shadows,
		logs:     d.Logs,
		remote:   d.Remote,
		mapper:   d.Mapper,
		cache:    d.Cache,
		settings: d.Config.Remote,
		sync:     d.Config.Sync,
		logger:   d.Logger,
		now:      d.Now,
		newLogID: d.NewLogID,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newLogID == nil {
		s.newLogID = func() string { return uuid.NewString() }
	}
	if s.sync.MessageLimit <= 0 {
		s.sync.MessageLimit = 140
	}

	meter := d.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("ordersync")
	}
	var err error
	if s.attempts, err = meter.Int64Counter("ordersync.attempts",
		metric.WithDescription("Order sync attempts by outcome")); err != nil {
		return nil, err
	}
	if s.duration, err = meter.Float64Histogram("ordersync.duration",
		metric.WithDescription("Order sync attempt duration"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return s, nil
}

// attempt carries the state of one Sync call.
type attempt struct {
	orderName string
	actor     string
	started   time.Time
	logID     string
	logged    bool
	order     *entity.SalesOrder
	missing   bool
	ship      entity.Shipping
	shadow    *entity.RemoteOrder
	stage     Stage
	remoteID  int64
}

// Sync writes one order to the remote system and records the outcome on the
// shadow record, the sync log and the order itself.
func (s *Service) Sync(ctx context.Context, orderName, actor string) Result {
	ctx, span := serviceTracer.Start(ctx, "OrderSync.Sync", trace.WithAttributes(
		attribute.String("order.name", orderName),
		attribute.String("sync.actor", actor),
	))
	defer span.End()

	a := &attempt{orderName: orderName, actor: actor, started: s.now(), stage: StageStarted}

	a.logID = s.newLogID()
	err := s.logs.Create(ctx, &entity.SyncLog{
		ID:        a.logID,
		SyncType:  entity.SyncLogTypeOrder,
		Reference: orderName,
		Actor:     actor,
		Status:    entity.SyncLogPending,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return s.fail(ctx, span, a, errorbank.Internal("create sync log", errorbank.WithCause(err)))
	}
	a.logged = true

	if err := s.settings.Validate(); err != nil {
		return s.fail(ctx, span, a, err)
	}

	if err := s.load(ctx, a); err != nil {
		return s.fail(ctx, span, a, err)
	}

	if err := s.markInProgress(ctx, a); err != nil {
		return s.fail(ctx, span, a, errorbank.Internal("save remote order", errorbank.WithCause(err)))
	}

	err = s.remote.WithSession(ctx, s.settings, func(ctx context.Context, sess remote.Session) error {
		return s.write(ctx, sess, a)
	})
	if err != nil {
		return s.fail(ctx, span, a, s.classify(ctx, fmt.Sprintf("remote write failed (%s)", a.stage), err))
	}

	return s.succeed(ctx, span, a)
}

func (s *Service) load(ctx context.Context, a *attempt) error {
	order, err := s.orders.Get(ctx, a.orderName)
	if errors.Is(err, salesorder.ErrNotFound) {
		a.missing = true
		return errorbank.NotFound(fmt.Sprintf("sales order %s not found", a.orderName))
	}
	if err != nil {
		return s.classify(ctx, "load sales order", err)
	}
	if err := s.mapper.Validate(order); err != nil {
		return err
	}
	order.DefaultDimensions(s.sync.DefaultWidthMM, s.sync.DefaultHeightMM)
	a.order = order

	addr, err := s.orders.Address(ctx, order.ShippingAddressName)
	if err != nil {
		return s.classify(ctx, "load shipping address", err)
	}
	a.ship = entity.ShippingFrom(addr)
	return nil
}

func (s *Service) markInProgress(ctx context.Context, a *attempt) error {
	shadow, err := s.shadows.GetBySalesOrder(ctx, a.orderName)
	switch {
	case errors.Is(err, remoteorderrepo.ErrNotFound):
		shadow = &entity.RemoteOrder{
			Name:       entity.RemoteOrderName(a.orderName),
			SalesOrder: a.orderName,
			CreatedAt:  s.now().UTC(),
		}
	case err != nil:
		return err
	}

	order, ship := a.order, a.ship
	shadow.Customer = order.Customer
	shadow.CustomerReference = order.PONumber
	shadow.OrderDate = order.TransactionDate
	shadow.DeliveryDate = order.DeliveryDate
	shadow.DeliveryAddress = ship.Address
	shadow.DeliveryCity = ship.City
	shadow.DeliveryZip = ship.Pincode
	shadow.DeliveryCountry = ship.Country
	shadow.Status = entity.RemoteOrderPending
	shadow.SyncStatus = entity.SyncInProgress
	shadow.SyncMessage = ""
	// Ids of a previous attempt must not be visible to the reconciler.
	shadow.RemoteOrderID = 0
	shadow.OperationID = 0
	shadow.UpdatedAt = s.now().UTC()
	shadow.Items = entity.MirrorItems(order, entity.SyncPending)

	a.shadow = shadow
	return s.saveShadow(ctx, shadow)
}

// write runs inside the remote transaction. The table lock taken by the
// allocator is held until the session ends, so nothing unrelated happens here.
func (s *Service) write(ctx context.Context, sess remote.Session, a *attempt) error {
	id, err := sess.AllocateOrderID(ctx, s.sync.OrderIDFloor)
	if err != nil {
		return fmt.Errorf("allocate order id: %w", err)
	}
	a.remoteID = id

	header := s.mapper.Header(a.order, a.ship, id, s.agent(a))
	if err := sess.InsertHeader(ctx, &header); err != nil {
		return fmt.Errorf("insert header %d: %w", id, err)
	}
	a.stage = StageHeaderWritten

	for i, item := range a.order.Items {
		line := s.mapper.Line(i+1, item, id)
		if err := sess.InsertLine(ctx, &line); err != nil {
			return fmt.Errorf("insert line %d of order %d: %w", i+1, id, err)
		}
	}
	a.stage = StageLinesWritten

	headers, lines, err := sess.CountRows(ctx, id)
	if err != nil {
		return fmt.Errorf("verify order %d: %w", id, err)
	}
	if headers != 1 || lines != len(a.order.Items) {
		return errorbank.Verification(
			fmt.Sprintf("remote order %d persisted %d header(s) and %d line(s), expected 1 and %d", id, headers, lines, len(a.order.Items)),
			errorbank.WithDetail("remote_order_id", id),
		)
	}
	a.stage = StageVerified

	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %d: %w", id, err)
	}
	a.stage = StageCommitted
	return nil
}

func (s *Service) agent(a *attempt) string {
	switch {
	case a.actor != "":
		return a.actor
	case a.order.Owner != "":
		return a.order.Owner
	default:
		return s.sync.Agent
	}
}

// succeed records a committed remote order locally. Failures here are logged
// and reported on the result but never turn it into a failure.
func (s *Service) succeed(ctx context.Context, span trace.Span, a *attempt) Result {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	logger := s.logger.With(zap.String("order", a.orderName), zap.Int64("remote_order_id", a.remoteID))
	var localErr error

	a.shadow.Status = entity.RemoteOrderSynced
	a.shadow.SyncStatus = entity.SyncCompleted
	a.shadow.RemoteOrderID = a.remoteID
	a.shadow.OperationID = a.remoteID
	a.shadow.SyncMessage = ""
	a.shadow.UpdatedAt = s.now().UTC()
	a.shadow.SetItemsStatus(entity.SyncCompleted)
	if err := s.saveShadow(bg, a.shadow); err != nil {
		logger.Error("record synced remote order", zap.Error(err))
		localErr = errors.Join(localErr, err)
	}

	if err := s.logs.Finish(bg, a.logID, entity.SyncLogCompleted, a.remoteID, ""); err != nil {
		logger.Error("finish sync log", zap.String("log_id", a.logID), zap.Error(err))
		localErr = errors.Join(localErr, err)
	}

	err := s.orders.UpdateSyncState(bg, a.orderName, entity.SyncState{
		Status:         entity.OrderSyncSynced,
		RemoteOrderRef: a.shadow.Name,
		RemoteOrderID:  a.remoteID,
	})
	if err != nil {
		logger.Error("write back sync state", zap.Error(err))
		localErr = errors.Join(localErr, err)
	}

	elapsed := s.now().Sub(a.started)
	s.record(bg, "synced", "", elapsed)
	span.SetAttributes(attribute.Int64("remote_order.id", a.remoteID))
	if localErr != nil {
		span.RecordError(localErr)
	}
	logger.Info("order synced", zap.Duration("elapsed", elapsed))

	return Synced{
		Order:         a.orderName,
		RemoteOrder:   a.shadow.Name,
		RemoteOrderID: a.remoteID,
		OperationID:   a.remoteID,
		LogID:         a.logID,
		Duration:      elapsed,
		LocalErr:      localErr,
	}
}

// fail records the primary error on every local surface. Each write is best
// effort; secondary errors are logged and never replace the primary one.
func (s *Service) fail(ctx context.Context, span trace.Span, a *attempt, primary error) Result {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	kind := errorbank.KindOf(primary)
	logger := s.logger.With(zap.String("order", a.orderName), zap.String("kind", string(kind)))
	message := mapper.Truncate(primary.Error(), s.sync.MessageLimit)

	if shadow := s.failedShadow(bg, a, message); shadow != nil {
		if err := s.saveShadow(bg, shadow); err != nil {
			logger.Error("record failed remote order", zap.NamedError("secondary", err), zap.Error(primary))
		}
	}

	if a.logged {
		if err := s.logs.Finish(bg, a.logID, entity.SyncLogFailed, 0, message); err != nil {
			logger.Error("finish sync log", zap.String("log_id", a.logID), zap.NamedError("secondary", err), zap.Error(primary))
		}
	}

	if !a.missing {
		err := s.orders.UpdateSyncState(bg, a.orderName, entity.SyncState{
			Status: entity.OrderSyncFailed,
			Error:  primary.Error(),
		})
		if err != nil && !errors.Is(err, salesorder.ErrNotFound) {
			logger.Error("write back sync state", zap.NamedError("secondary", err), zap.Error(primary))
		}
	}

	elapsed := s.now().Sub(a.started)
	s.record(bg, "failed", kind, elapsed)
	span.RecordError(primary)
	span.SetStatus(codes.Error, string(kind))
	logger.Error("order sync failed", zap.String("stage", string(a.stage)), zap.Duration("elapsed", elapsed), zap.Error(primary))

	return Failed{
		Order:    a.orderName,
		LogID:    a.logID,
		Stage:    a.stage,
		Err:      primary,
		Duration: elapsed,
	}
}

// failedShadow returns the shadow record to mark as failed, creating one when
// the order is known but no record exists yet.
func (s *Service) failedShadow(ctx context.Context, a *attempt, message string) *entity.RemoteOrder {
	shadow := a.shadow
	if shadow == nil {
		existing, err := s.shadows.GetBySalesOrder(ctx, a.orderName)
		switch {
		case err == nil:
			shadow = existing
		case errors.Is(err, remoteorderrepo.ErrNotFound) && a.order != nil:
			shadow = &entity.RemoteOrder{
				Name:              entity.RemoteOrderName(a.orderName),
				SalesOrder:        a.orderName,
				Customer:          a.order.Customer,
				CustomerReference: a.order.PONumber,
				OrderDate:         a.order.TransactionDate,
				DeliveryDate:      a.order.DeliveryDate,
				CreatedAt:         s.now().UTC(),
				Items:             entity.MirrorItems(a.order, entity.SyncFailed),
			}
		case errors.Is(err, remoteorderrepo.ErrNotFound):
			return nil
		default:
			s.logger.Error("load remote order", zap.String("order", a.orderName), zap.NamedError("secondary", err))
			return nil
		}
	}
	shadow.Status = entity.RemoteOrderFailed
	shadow.SyncStatus = entity.SyncFailed
	shadow.SyncMessage = message
	shadow.UpdatedAt = s.now().UTC()
	shadow.SetItemsStatus(entity.SyncFailed)
	return shadow
}

func (s *Service) saveShadow(ctx context.Context, shadow *entity.RemoteOrder) error {
	if err := s.shadows.Save(ctx, shadow); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, remoteorder.CacheKey(shadow.SalesOrder)); err != nil {
			s.logger.Warn("remote order cache invalidation failed", zap.String("order", shadow.SalesOrder), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) classify(ctx context.Context, msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errorbank.Timeout(msg+": sync job timed out", errorbank.WithCause(err))
	}
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errorbank.Internal(msg, errorbank.WithCause(err))
}

func (s *Service) record(ctx context.Context, outcome string, kind errorbank.Kind, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("kind", string(kind)),
	)
	s.attempts.Add(ctx, 1, attrs)
	s.duration.Record(ctx, elapsed.Seconds(), attrs)
}

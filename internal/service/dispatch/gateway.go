package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/messaging"
	"github.com/Additional-Code/mesbridge/internal/repository/salesorder"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var gatewayTracer = otel.Tracer("github.com/Additional-Code/mesbridge/service/dispatch")

// QueuedMessage is returned to callers once a job is on the bus.
const QueuedMessage = "Order sync has been queued and will be sent to the remote system in the background."

// DuplicateMessage is returned when a job for the order is already pending.
const DuplicateMessage = "Order sync is already queued for this order."

const lockGrace = time.Minute

// Module provides the gateway to Fx.
var Module = fx.Provide(NewGateway)

// JobName is the deduplication name of the sync job for an order.
func JobName(order string) string {
	return "sync_remote_order_" + order
}

// LockKey is the cache key guarding a queued or running job.
func LockKey(order string) string {
	return "ordersync:job:" + JobName(order)
}

// SyncJob is the payload published for the worker.
type SyncJob struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Order      string    `json:"order"`
	Actor      string    `json:"actor"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// OrderSubmitted is raised by the ERP when a sales order is submitted.
type OrderSubmitted struct {
	Order          string `json:"order"`
	SendToRemote   bool   `json:"send_to_remote"`
	RemoteOrderRef string `json:"remote_order_ref"`
	Actor          string `json:"actor"`
}

// Ack acknowledges acceptance of a request. It never reports the sync outcome.
type Ack struct {
	JobID     string `json:"job_id,omitempty"`
	JobName   string `json:"job_name"`
	Order     string `json:"order"`
	Duplicate bool   `json:"duplicate"`
	Skipped   bool   `json:"skipped,omitempty"`
	Message   string `json:"message"`
}

// Orders records the queued state on the ERP order.
type Orders interface {
	UpdateSyncState(ctx context.Context, name string, state entity.SyncState) error
}

// Gateway accepts sync requests and hands them to the background worker.
type Gateway struct {
	publisher messaging.Client
	locks     cache.Store
	orders    Orders
	cfg       config.Config
	lockTTL   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Params defines dependencies for constructing Gateway.
type Params struct {
	fx.In

	Publisher messaging.Client
	Locks     cache.Store
	Orders    *salesorder.Repository
	Config    config.Config
	Logger    *zap.Logger
}

// NewGateway wires a Gateway from the Fx graph.
func NewGateway(p Params) *Gateway {
	return New(p.Publisher, p.Locks, p.Orders, p.Config, p.Logger)
}

// New builds a Gateway from explicit collaborators.
func New(publisher messaging.Client, locks cache.Store, orders Orders, cfg config.Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		publisher: publisher,
		locks:     locks,
		orders:    orders,
		cfg:       cfg,
		lockTTL:   cfg.Sync.JobTimeout + lockGrace,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue schedules a sync of order. A second request while a job for the
// same order is pending is acknowledged as a duplicate and not published.
func (g *Gateway) Enqueue(ctx context.Context, order, actor string) (Ack, error) {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.Enqueue", trace.WithAttributes(attribute.String("order.name", order)))
	defer span.End()

	name := JobName(order)
	if order == "" {
		return Ack{}, errorbank.BadRequest("order name is required")
	}
	if err := g.cfg.Remote.Validate(); err != nil {
		return Ack{}, err
	}
	if !g.cfg.Messaging.Enabled || g.cfg.Messaging.Driver == "noop" {
		return Ack{}, errorbank.Configuration("background dispatch is disabled; enable MESSAGING_ENABLED")
	}

	job := SyncJob{
		ID:         uuid.NewString(),
		Name:       name,
		Order:      order,
		Actor:      actor,
		EnqueuedAt: g.now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return Ack{}, errorbank.Internal("encode sync job", errorbank.WithCause(err))
	}

	acquired, err := g.locks.SetNX(ctx, LockKey(order), []byte(job.ID), g.lockTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		return Ack{}, errorbank.Connectivity("acquire job lock", errorbank.WithCause(err))
	}
	if !acquired {
		g.logger.Info("sync job already queued", zap.String("order", order), zap.String("job", name))
		return Ack{JobName: name, Order: order, Duplicate: true, Message: DuplicateMessage}, nil
	}

	if err := g.publisher.Publish(ctx, []byte(name), payload); err != nil {
		g.Release(context.WithoutCancel(ctx), order, job.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return Ack{}, errorbank.Connectivity(fmt.Sprintf("publish %s", name), errorbank.WithCause(err))
	}

	g.logger.Info("sync job queued",
		zap.String("order", order),
		zap.String("job", name),
		zap.String("job_id", job.ID),
		zap.String("topic", g.publisher.Topic()))
	return Ack{JobID: job.ID, JobName: name, Order: order, Message: QueuedMessage}, nil
}

// OrderSubmitted enqueues the order when it is flagged for the remote system
// and has not been sent yet, then marks it queued.
func (g *Gateway) OrderSubmitted(ctx context.Context, evt OrderSubmitted) (Ack, error) {
	name := JobName(evt.Order)
	if !evt.SendToRemote || evt.RemoteOrderRef != "" {
		return Ack{JobName: name, Order: evt.Order, Skipped: true, Message: "Order is not flagged for the remote system or was already sent."}, nil
	}

	ack, err := g.Enqueue(ctx, evt.Order, evt.Actor)
	if err != nil || ack.Duplicate {
		return ack, err
	}

	if err := g.orders.UpdateSyncState(ctx, evt.Order, entity.SyncState{Status: entity.OrderSyncQueued}); err != nil {
		g.logger.Warn("mark order queued", zap.String("order", evt.Order), zap.Error(err))
	}
	return ack, nil
}

// Release drops the job lock so the order can be queued again. The lock is
// only removed while it still belongs to jobID; a lock that expired and was
// taken by a newer job is left alone.
func (g *Gateway) Release(ctx context.Context, order, jobID string) {
	released, err := g.locks.CompareAndDelete(ctx, LockKey(order), []byte(jobID))
	if err != nil {
		g.logger.Warn("release job lock", zap.String("order", order), zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !released {
		g.logger.Debug("job lock already released or taken over", zap.String("order", order), zap.String("job_id", jobID))
	}
}

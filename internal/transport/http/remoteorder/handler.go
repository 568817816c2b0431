package remoteorder

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/mesbridge/internal/dto"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/presentation/http/response"
	"github.com/Additional-Code/mesbridge/internal/service/dispatch"
	"github.com/Additional-Code/mesbridge/internal/service/reconcile"
	"github.com/Additional-Code/mesbridge/internal/service/remoteorder"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/mesbridge/transport/http/remoteorder")

// ActorHeader names the acting ERP user when the body does not.
const ActorHeader = "X-Actor"

// Dispatcher accepts sync requests.
type Dispatcher interface {
	Enqueue(ctx context.Context, order, actor string) (dispatch.Ack, error)
	OrderSubmitted(ctx context.Context, evt dispatch.OrderSubmitted) (dispatch.Ack, error)
}

// Queries reads shadow records and sync logs.
type Queries interface {
	Get(ctx context.Context, salesOrder string) (*entity.RemoteOrder, error)
	Logs(ctx context.Context, salesOrder string, limit int) ([]entity.SyncLog, error)
}

// Reconciler runs a reconciliation pass on demand.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Handler exposes order sync endpoints over HTTP.
type Handler struct {
	dispatcher Dispatcher
	queries    Queries
	reconciler Reconciler
}

// NewHandler constructs a Handler.
func NewHandler(gw *dispatch.Gateway, queries *remoteorder.Service, rec *reconcile.Reconciler) *Handler {
	return &Handler{dispatcher: gw, queries: queries, reconciler: rec}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group("/orders")
	g.POST("/submitted", h.submitted)
	g.POST("/:name/sync", h.sync)
	g.GET("/:name/remote", h.get)
	g.GET("/:name/sync-logs", h.logs)

	e.POST("/remote-orders/reconcile", h.reconcile)
}

func (h *Handler) sync(c echo.Context) error {
	b := response.New(c)
	name := c.Param("name")

	var payload dto.SyncRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	actor := payload.Actor
	if actor == "" {
		actor = c.Request().Header.Get(ActorHeader)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.sync", trace.WithAttributes(attribute.String("order.name", name)))
	defer span.End()

	ack, err := h.dispatcher.Enqueue(ctx, name, actor)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithStatus(http.StatusAccepted).WithData(toAck(ack)).Build()
}

func (h *Handler) submitted(c echo.Context) error {
	b := response.New(c)

	var payload dto.OrderSubmittedRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	if payload.Order == "" {
		return b.WithError(errorbank.BadRequest("order is required")).Build()
	}
	if payload.Actor == "" {
		payload.Actor = c.Request().Header.Get(ActorHeader)
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.submitted", trace.WithAttributes(attribute.String("order.name", payload.Order)))
	defer span.End()

	ack, err := h.dispatcher.OrderSubmitted(ctx, dispatch.OrderSubmitted{
		Order:          payload.Order,
		SendToRemote:   payload.SendToRemote,
		RemoteOrderRef: payload.RemoteOrderRef,
		Actor:          payload.Actor,
	})
	if err != nil {
		return b.WithError(err).Build()
	}
	status := http.StatusAccepted
	if ack.Skipped {
		status = http.StatusOK
	}
	return b.WithStatus(status).WithData(toAck(ack)).Build()
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	name := c.Param("name")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.remote", trace.WithAttributes(attribute.String("order.name", name)))
	defer span.End()

	ro, err := h.queries.Get(ctx, name)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toRemoteOrder(ro)).Build()
}

func (h *Handler) logs(c echo.Context) error {
	b := response.New(c)
	name := c.Param("name")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return b.WithError(errorbank.BadRequest("invalid limit")).Build()
		}
		limit = n
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.syncLogs", trace.WithAttributes(attribute.String("order.name", name)))
	defer span.End()

	logs, err := h.queries.Logs(ctx, name, limit)
	if err != nil {
		return b.WithError(err).Build()
	}
	out := make([]dto.SyncLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toSyncLog(l))
	}
	return b.WithData(out).WithMeta("count", len(out)).Build()
}

func (h *Handler) reconcile(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "remoteOrders.reconcile")
	defer span.End()

	report, err := h.reconciler.Run(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.ReconcileResponse{
		Checked:   report.Checked,
		Synced:    report.Synced,
		Failed:    report.Failed,
		Unchanged: report.Unchanged,
		Errors:    report.Errors,
	}).Build()
}

func toAck(ack dispatch.Ack) dto.AckResponse {
	return dto.AckResponse{
		JobID:     ack.JobID,
		JobName:   ack.JobName,
		Order:     ack.Order,
		Duplicate: ack.Duplicate,
		Skipped:   ack.Skipped,
		Message:   ack.Message,
	}
}

func toRemoteOrder(ro *entity.RemoteOrder) dto.RemoteOrderResponse {
	out := dto.RemoteOrderResponse{
		Name:              ro.Name,
		SalesOrder:        ro.SalesOrder,
		Customer:          ro.Customer,
		CustomerReference: ro.CustomerReference,
		OrderDate:         ro.OrderDate,
		Status:            string(ro.Status),
		SyncStatus:        string(ro.SyncStatus),
		RemoteOrderID:     ro.RemoteOrderID,
		OperationID:       ro.OperationID,
		SyncMessage:       ro.SyncMessage,
		UpdatedAt:         ro.UpdatedAt,
		Items:             make([]dto.RemoteOrderItemResponse, 0, len(ro.Items)),
	}
	if !ro.DeliveryDate.IsZero() {
		d := ro.DeliveryDate
		out.DeliveryDate = &d
	}
	for _, it := range ro.Items {
		out.Items = append(out.Items, dto.RemoteOrderItemResponse{
			Idx:        it.Idx,
			ItemCode:   it.ItemCode,
			ItemName:   it.ItemName,
			Qty:        it.Qty,
			SyncStatus: string(it.SyncStatus),
		})
	}
	return out
}

func toSyncLog(l entity.SyncLog) dto.SyncLogResponse {
	out := dto.SyncLogResponse{
		ID:        l.ID,
		Reference: l.Reference,
		Actor:     l.Actor,
		Status:    string(l.Status),
		Message:   l.Message,
		CreatedAt: l.CreatedAt,
	}
	if l.OperationID.Valid {
		id := l.OperationID.Int64
		out.OperationID = &id
	}
	if !l.FinishedAt.IsZero() {
		t := l.FinishedAt.Time
		out.FinishedAt = &t
	}
	return out
}

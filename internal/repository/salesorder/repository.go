package salesorder

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/mesbridge/internal/database"
	"github.com/Additional-Code/mesbridge/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/mesbridge/repository/salesorder")

// ErrNotFound is returned when a sales order or address is missing.
var ErrNotFound = errors.New("sales order not found")

// Repository reads ERP sales orders and writes back their sync state.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Get loads an order with its items in line order.
func (r *Repository) Get(ctx context.Context, name string) (*entity.SalesOrder, error) {
	ctx, span := repoTracer.Start(ctx, "SalesOrderRepository.Get", trace.WithAttributes(attribute.String("order.name", name)))
	defer span.End()

	order := new(entity.SalesOrder)
	err := r.reader.NewSelect().
		Model(order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("idx ASC")
		}).
		Where("?TableAlias.name = ?", name).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return order, nil
}

// Address loads a linked address. An empty name yields (nil, nil).
func (r *Repository) Address(ctx context.Context, name string) (*entity.Address, error) {
	if name == "" {
		return nil, nil
	}
	ctx, span := repoTracer.Start(ctx, "SalesOrderRepository.Address", trace.WithAttributes(attribute.String("address.name", name)))
	defer span.End()

	addr := new(entity.Address)
	err := r.reader.NewSelect().Model(addr).Where("name = ?", name).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return addr, nil
}

// UpdateSyncState writes the sync status, error text and remote references
// back onto the order. Remote references are only written when set.
func (r *Repository) UpdateSyncState(ctx context.Context, name string, state entity.SyncState) error {
	ctx, span := repoTracer.Start(ctx, "SalesOrderRepository.UpdateSyncState", trace.WithAttributes(
		attribute.String("order.name", name),
		attribute.String("sync.status", string(state.Status)),
	))
	defer span.End()

	q := r.writer.NewUpdate().
		Model((*entity.SalesOrder)(nil)).
		Set("sync_status = ?", state.Status).
		Set("sync_error = ?", state.Error)
	if state.RemoteOrderRef != "" {
		q = q.Set("remote_order_ref = ?", state.RemoteOrderRef)
	}
	if state.RemoteOrderID > 0 {
		q = q.Set("remote_order_id = ?", state.RemoteOrderID)
	}

	res, err := q.Where("name = ?", name).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		span.SetStatus(codes.Error, "not found")
		return ErrNotFound
	}
	return nil
}

// Create persists an order and its items in one transaction.
func (r *Repository) Create(ctx context.Context, order *entity.SalesOrder) error {
	if order == nil {
		return errors.New("nil order")
	}
	ctx, span := repoTracer.Start(ctx, "SalesOrderRepository.Create", trace.WithAttributes(attribute.String("order.name", order.Name)))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(order).Exec(ctx); err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return nil
		}
		for i := range order.Items {
			order.Items[i].Parent = order.Name
			if order.Items[i].Idx == 0 {
				order.Items[i].Idx = i + 1
			}
		}
		_, err := tx.NewInsert().Model(&order.Items).Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
	}
	return err
}

// CreateAddress persists an address record.
func (r *Repository) CreateAddress(ctx context.Context, addr *entity.Address) error {
	ctx, span := repoTracer.Start(ctx, "SalesOrderRepository.CreateAddress", trace.WithAttributes(attribute.String("address.name", addr.Name)))
	defer span.End()

	if _, err := r.writer.NewInsert().Model(addr).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}

package remoteorder

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

var repoTracer = otel.Tracer("github.com/Additional-Code/mesbridge/repository/remoteorder")

// ErrNotFound is returned when no shadow record exists.
var ErrNotFound = errors.New("remote order not found")

// Repository persists shadow records of orders written to the remote system.
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

// GetBySalesOrder loads the shadow record of a sales order with its items.
func (r *Repository) GetBySalesOrder(ctx context.Context, salesOrder string) (*entity.RemoteOrder, error) {
	ctx, span := repoTracer.Start(ctx, "RemoteOrderRepository.GetBySalesOrder", trace.WithAttributes(attribute.String("order.name", salesOrder)))
	defer span.End()

	ro := new(entity.RemoteOrder)
	err := r.writer.NewSelect().
		Model(ro).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("idx ASC")
		}).
		Where("?TableAlias.sales_order = ?", salesOrder).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return ro, nil
}

// Save creates or updates the record in place and replaces its items wholesale.
func (r *Repository) Save(ctx context.Context, ro *entity.RemoteOrder) error {
	if ro == nil {
		return errors.New("nil remote order")
	}
	ctx, span := repoTracer.Start(ctx, "RemoteOrderRepository.Save", trace.WithAttributes(
		attribute.String("remote_order.name", ro.Name),
		attribute.String("remote_order.sync_status", string(ro.SyncStatus)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(ro).
			ExcludeColumn("name", "created_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			if _, err := tx.NewInsert().Model(ro).Returning("NULL").Exec(ctx); err != nil {
				return err
			}
		}

		if _, err := tx.NewDelete().
			Model((*entity.RemoteOrderItem)(nil)).
			Where("parent = ?", ro.Name).
			Exec(ctx); err != nil {
			return err
		}
		if len(ro.Items) == 0 {
			return nil
		}
		for i := range ro.Items {
			ro.Items[i].Parent = ro.Name
		}
		_, err = tx.NewInsert().Model(&ro.Items).Returning("NULL").Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
	}
	return err
}

// ListInFlight returns records still awaiting a remote verdict.
func (r *Repository) ListInFlight(ctx context.Context) ([]entity.RemoteOrder, error) {
	ctx, span := repoTracer.Start(ctx, "RemoteOrderRepository.ListInFlight")
	defer span.End()

	var out []entity.RemoteOrder
	err := r.reader.NewSelect().
		Model(&out).
		Where("sync_status = ?", entity.SyncInProgress).
		Where("operation_id IS NOT NULL").
		Order("updated_at ASC").
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("remote_order.count", len(out)))
	return out, nil
}

// UpdateStatus records a remote verdict on the record and its items.
func (r *Repository) UpdateStatus(ctx context.Context, ro *entity.RemoteOrder) error {
	ctx, span := repoTracer.Start(ctx, "RemoteOrderRepository.UpdateStatus", trace.WithAttributes(
		attribute.String("remote_order.name", ro.Name),
		attribute.String("remote_order.sync_status", string(ro.SyncStatus)),
	))
	defer span.End()

	err := r.writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model(ro).
			Column("status", "sync_status", "sync_message", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*entity.RemoteOrderItem)(nil)).
			Set("sync_status = ?", ro.SyncStatus).
			Where("parent = ?", ro.Name).
			Exec(ctx)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
	}
	return err
}

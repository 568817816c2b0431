package synclog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/mesbridge/internal/database"
	"github.com/Additional-Code/mesbridge/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/mesbridge/repository/synclog")

// ErrAlreadyFinished is returned when finishing an entry that is no longer pending.
var ErrAlreadyFinished = errors.New("sync log already finished")

// Repository persists the sync attempt audit trail.
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

// Create inserts a new entry.
func (r *Repository) Create(ctx context.Context, log *entity.SyncLog) error {
	ctx, span := repoTracer.Start(ctx, "SyncLogRepository.Create", trace.WithAttributes(
		attribute.String("sync_log.id", log.ID),
		attribute.String("sync_log.reference", log.Reference),
	))
	defer span.End()

	if _, err := r.writer.NewInsert().Model(log).Returning("NULL").Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}

// Finish moves a pending entry to its terminal status. An entry is finished at most once.
func (r *Repository) Finish(ctx context.Context, id string, status entity.SyncLogStatus, operationID int64, message string) error {
	ctx, span := repoTracer.Start(ctx, "SyncLogRepository.Finish", trace.WithAttributes(
		attribute.String("sync_log.id", id),
		attribute.String("sync_log.status", string(status)),
	))
	defer span.End()

	opID := sql.NullInt64{Int64: operationID, Valid: operationID > 0}
	res, err := r.writer.NewUpdate().
		Model((*entity.SyncLog)(nil)).
		Set("status = ?", status).
		Set("operation_id = ?", opID).
		Set("message = ?", message).
		Set("finished_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", entity.SyncLogPending).
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyFinished
	}
	return nil
}

// ListByReference returns the newest entries for a document first.
func (r *Repository) ListByReference(ctx context.Context, reference string, limit int) ([]entity.SyncLog, error) {
	ctx, span := repoTracer.Start(ctx, "SyncLogRepository.ListByReference", trace.WithAttributes(attribute.String("sync_log.reference", reference)))
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	var out []entity.SyncLog
	err := r.reader.NewSelect().
		Model(&out).
		Where("reference = ?", reference).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return out, nil
}

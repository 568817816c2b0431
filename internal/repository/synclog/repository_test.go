package synclog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/Additional-Code/mesbridge/internal/database"
	"github.com/Additional-Code/mesbridge/internal/entity"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(&database.Connections{Writer: db, Reader: db}), mock
}

func TestCreate(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO "sync_logs".*'Pending'`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &entity.SyncLog{
		ID:        "3f1c",
		SyncType:  entity.SyncLogTypeOrder,
		Reference: "SO-0001",
		Actor:     "admin",
		Status:    entity.SyncLogPending,
		CreatedAt: time.Now(),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinish_OnlyFromPending(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`UPDATE "sync_logs".*SET status = 'Completed', operation_id = 1001, message = ''.*WHERE \(id = '3f1c'\) AND \(status = 'Pending'\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Finish(context.Background(), "3f1c", entity.SyncLogCompleted, 1001, ""))

	mock.ExpectExec(`UPDATE "sync_logs".*SET status = 'Failed', operation_id = NULL, message = 'boom'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Finish(context.Background(), "3f1c", entity.SyncLogFailed, 0, "boom")
	assert.ErrorIs(t, err, ErrAlreadyFinished)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByReference(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`FROM "sync_logs" AS "sync_log" WHERE \(reference = 'SO-0001'\) ORDER BY created_at DESC LIMIT 20`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reference", "status", "operation_id"}).
			AddRow("b", "SO-0001", "Completed", 1002).
			AddRow("a", "SO-0001", "Failed", nil))

	logs, err := repo.ListByReference(context.Background(), "SO-0001", 0)

	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, int64(1002), logs[0].OperationID.Int64)
	assert.False(t, logs[1].OperationID.Valid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

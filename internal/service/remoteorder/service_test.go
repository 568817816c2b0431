package remoteorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/entity"
	repo "github.com/Additional-Code/mesbridge/internal/repository/remoteorder"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

type stubShadows struct {
	records map[string]*entity.RemoteOrder
	calls   int
	err     error
}

func (s *stubShadows) GetBySalesOrder(_ context.Context, so string) (*entity.RemoteOrder, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ro, ok := s.records[so]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return ro, nil
}

type stubLogs struct {
	gotLimit int
	entries  []entity.SyncLog
}

func (s *stubLogs) ListByReference(_ context.Context, _ string, limit int) ([]entity.SyncLog, error) {
	s.gotLimit = limit
	return s.entries, nil
}

func TestService_GetCachesShadow(t *testing.T) {
	shadows := &stubShadows{records: map[string]*entity.RemoteOrder{
		"SO-0001": {Name: "RO-SO-0001", SalesOrder: "SO-0001", Status: entity.RemoteOrderSynced, RemoteOrderID: 1001},
	}}
	store := cache.NewMemoryStore(time.Minute)
	svc := New(shadows, &stubLogs{}, store, time.Minute, nil)

	first, err := svc.Get(context.Background(), "SO-0001")
	require.NoError(t, err)
	second, err := svc.Get(context.Background(), "SO-0001")
	require.NoError(t, err)

	assert.Equal(t, 1, shadows.calls)
	assert.Equal(t, first.RemoteOrderID, second.RemoteOrderID)
	assert.Equal(t, entity.RemoteOrderSynced, second.Status)

	require.NoError(t, store.Delete(context.Background(), CacheKey("SO-0001")))
	_, err = svc.Get(context.Background(), "SO-0001")
	require.NoError(t, err)
	assert.Equal(t, 2, shadows.calls)
}

func TestService_GetMapsErrors(t *testing.T) {
	shadows := &stubShadows{records: map[string]*entity.RemoteOrder{}}
	svc := New(shadows, &stubLogs{}, nil, time.Minute, nil)

	_, err := svc.Get(context.Background(), "SO-0404")
	assert.Equal(t, errorbank.KindNotFound, errorbank.KindOf(err))

	_, err = svc.Get(context.Background(), "")
	assert.Equal(t, errorbank.KindBadRequest, errorbank.KindOf(err))

	shadows.err = errors.New("connection reset")
	_, err = svc.Get(context.Background(), "SO-0001")
	assert.Equal(t, errorbank.KindInternal, errorbank.KindOf(err))
}

func TestService_Logs(t *testing.T) {
	logs := &stubLogs{entries: []entity.SyncLog{{ID: "a", Reference: "SO-0001", Status: entity.SyncLogCompleted}}}
	svc := New(&stubShadows{}, logs, nil, time.Minute, nil)

	got, err := svc.Logs(context.Background(), "SO-0001", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 5, logs.gotLimit)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "remote_orders:SO-0001", CacheKey("SO-0001"))
}

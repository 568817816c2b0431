package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/remote"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

var settings = config.Remote{Enabled: true, Driver: DriverName}

func TestAllocateOrderID_ConcurrentSessionsGetDistinctSequentialIDs(t *testing.T) {
	store := NewStore(nil)
	store.SeedHeader(entity.RemoteHeader{OrderID: 1040})

	const n = 25
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithSession(context.Background(), settings, func(ctx context.Context, s remote.Session) error {
				id, err := s.AllocateOrderID(ctx, 1000)
				if err != nil {
					return err
				}
				if err := s.InsertHeader(ctx, &entity.RemoteHeader{OrderID: id}); err != nil {
					return err
				}
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
				return s.Commit(ctx)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, ids, n)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		assert.Equal(t, int64(1041+i), id)
	}
}

func TestWithSession_RollbackDiscardsStagedRowsAndReleasesLock(t *testing.T) {
	store := NewStore(nil)
	failure := errors.New("line 2 rejected")

	err := store.WithSession(context.Background(), settings, func(ctx context.Context, s remote.Session) error {
		id, err := s.AllocateOrderID(ctx, 1000)
		require.NoError(t, err)
		require.NoError(t, s.InsertHeader(ctx, &entity.RemoteHeader{OrderID: id}))
		require.NoError(t, s.InsertLine(ctx, &entity.RemoteLine{OrderID: id, LineNo: 1}))

		headers, lines, err := s.CountRows(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, headers)
		assert.Equal(t, 1, lines)
		return failure
	})
	require.ErrorIs(t, err, failure)
	assert.Empty(t, store.OrderIDs())
	assert.Empty(t, store.Lines(1001))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = store.WithSession(ctx, settings, func(ctx context.Context, s remote.Session) error {
		id, err := s.AllocateOrderID(ctx, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(1001), id)
		return nil
	})
	require.NoError(t, err)
}

func TestWithSession_PanicReleasesLock(t *testing.T) {
	store := NewStore(nil)

	assert.Panics(t, func() {
		_ = store.WithSession(context.Background(), settings, func(ctx context.Context, s remote.Session) error {
			_, _ = s.AllocateOrderID(ctx, 0)
			panic("boom")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := store.WithSession(ctx, settings, func(ctx context.Context, s remote.Session) error {
		_, err := s.AllocateOrderID(ctx, 0)
		return err
	})
	assert.NoError(t, err)
}

func TestAllocateOrderID_WaitsForLockUntilContextDone(t *testing.T) {
	store := NewStore(nil)
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = store.WithSession(context.Background(), settings, func(ctx context.Context, s remote.Session) error {
			_, _ = s.AllocateOrderID(ctx, 0)
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.WithSession(ctx, settings, func(ctx context.Context, s remote.Session) error {
		_, err := s.AllocateOrderID(ctx, 0)
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithSession_ValidatesSettings(t *testing.T) {
	store := NewStore(nil)

	err := store.WithSession(context.Background(), config.Remote{Driver: DriverName}, func(context.Context, remote.Session) error {
		t.Fatal("session must not start")
		return nil
	})

	assert.Equal(t, errorbank.KindConfiguration, errorbank.KindOf(err))
}

func TestCommit_PersistsRowsAndStatusLookup(t *testing.T) {
	store := NewStore(nil)

	err := store.WithSession(context.Background(), settings, func(ctx context.Context, s remote.Session) error {
		id, err := s.AllocateOrderID(ctx, 1000)
		require.NoError(t, err)
		require.NoError(t, s.InsertHeader(ctx, &entity.RemoteHeader{OrderID: id, OperationID: id, Reference: "SO-0001"}))
		require.NoError(t, s.InsertLine(ctx, &entity.RemoteLine{OrderID: id, LineNo: 2}))
		require.NoError(t, s.InsertLine(ctx, &entity.RemoteLine{OrderID: id, LineNo: 1}))
		return s.Commit(ctx)
	})
	require.NoError(t, err)

	h, ok := store.Header(1001)
	require.True(t, ok)
	assert.Equal(t, "SO-0001", h.Reference)
	lines := store.Lines(1001)
	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0].LineNo)

	store.SetOperationStatus(1001, -1, "rejected: duplicate")
	err = store.WithSession(context.Background(), settings, func(ctx context.Context, s remote.Session) error {
		st, err := s.OperationStatus(ctx, 1001)
		require.NoError(t, err)
		assert.Equal(t, entity.RemoteStatus{Found: true, Code: -1, Notes: "rejected: duplicate"}, st)

		missing, err := s.OperationStatus(ctx, 7)
		require.NoError(t, err)
		assert.False(t, missing.Found)
		return nil
	})
	require.NoError(t, err)
}

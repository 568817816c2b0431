package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/remote"
	"github.com/Additional-Code/mesbridge/internal/remote/memory"
	"github.com/Additional-Code/mesbridge/internal/service/remoteorder"
)

type fakeShadows struct {
	inFlight  []entity.RemoteOrder
	updated   map[string]entity.RemoteOrder
	failNames map[string]bool
}

func (f *fakeShadows) ListInFlight(context.Context) ([]entity.RemoteOrder, error) {
	return append([]entity.RemoteOrder(nil), f.inFlight...), nil
}

func (f *fakeShadows) UpdateStatus(_ context.Context, ro *entity.RemoteOrder) error {
	if f.failNames[ro.Name] {
		return errors.New("deadlock detected")
	}
	if f.updated == nil {
		f.updated = map[string]entity.RemoteOrder{}
	}
	f.updated[ro.Name] = *ro
	return nil
}

type countingProvider struct {
	remote.Provider
	sessions  int
	failOpIDs map[int64]bool
}

func (p *countingProvider) WithSession(ctx context.Context, settings config.Remote, fn remote.SessionFunc) error {
	p.sessions++
	return p.Provider.WithSession(ctx, settings, func(ctx context.Context, s remote.Session) error {
		return fn(ctx, &lookupFaults{Session: s, fail: p.failOpIDs})
	})
}

type lookupFaults struct {
	remote.Session
	fail map[int64]bool
}

func (s *lookupFaults) OperationStatus(ctx context.Context, id int64) (entity.RemoteStatus, error) {
	if s.fail[id] {
		return entity.RemoteStatus{}, errors.New("invalid column name 'SyncStatus'")
	}
	return s.Session.OperationStatus(ctx, id)
}

func inFlight(name string, opID int64) entity.RemoteOrder {
	return entity.RemoteOrder{
		Name:        "RO-" + name,
		SalesOrder:  name,
		Status:      entity.RemoteOrderPending,
		SyncStatus:  entity.SyncInProgress,
		OperationID: opID,
	}
}

func testConfig() config.Config {
	return config.Config{
		Remote: config.Remote{Enabled: true, Driver: "memory"},
		Sync:   config.Sync{MessageLimit: 140},
	}
}

func TestRun_EmptySetOpensNoSession(t *testing.T) {
	provider := &countingProvider{Provider: memory.NewStore(nil)}
	r := New(&fakeShadows{}, provider, nil, testConfig(), nil)

	report, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.Zero(t, provider.sessions)
}

func TestRun_AppliesRemoteVerdicts(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetOperationStatus(1001, -1, "rejected: duplicate")
	store.SetOperationStatus(1002, 1, "")
	store.SetOperationStatus(1003, 0, "queued")

	shadows := &fakeShadows{inFlight: []entity.RemoteOrder{
		inFlight("SO-0001", 1001),
		inFlight("SO-0002", 1002),
		inFlight("SO-0003", 1003),
		inFlight("SO-0004", 1004),
	}}
	kv := cache.NewMemoryStore(time.Minute)
	require.NoError(t, kv.Set(context.Background(), remoteorder.CacheKey("SO-0001"), []byte("{}"), 0))

	provider := &countingProvider{Provider: store}
	r := New(shadows, provider, kv, testConfig(), nil)

	report, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Checked: 4, Synced: 1, Failed: 1, Unchanged: 2}, report)
	assert.Equal(t, 1, provider.sessions)

	failed := shadows.updated["RO-SO-0001"]
	assert.Equal(t, entity.RemoteOrderFailed, failed.Status)
	assert.Equal(t, entity.SyncFailed, failed.SyncStatus)
	assert.Equal(t, "rejected: duplicate", failed.SyncMessage)

	synced := shadows.updated["RO-SO-0002"]
	assert.Equal(t, entity.RemoteOrderSynced, synced.Status)
	assert.Equal(t, entity.SyncCompleted, synced.SyncStatus)

	assert.NotContains(t, shadows.updated, "RO-SO-0003")
	assert.NotContains(t, shadows.updated, "RO-SO-0004")

	_, err = kv.Get(context.Background(), remoteorder.CacheKey("SO-0001"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRun_IsolatesPerRecordFailures(t *testing.T) {
	store := memory.NewStore(nil)
	store.SetOperationStatus(1001, 1, "")
	store.SetOperationStatus(1002, 1, "")
	store.SetOperationStatus(1003, -2, "bad glass code")

	shadows := &fakeShadows{
		inFlight: []entity.RemoteOrder{
			inFlight("SO-0001", 1001),
			inFlight("SO-0002", 1002),
			inFlight("SO-0003", 1003),
		},
		failNames: map[string]bool{"RO-SO-0002": true},
	}
	provider := &countingProvider{Provider: store, failOpIDs: map[int64]bool{1001: true}}
	r := New(shadows, provider, nil, testConfig(), nil)

	report, err := r.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Report{Checked: 3, Failed: 1, Errors: 2}, report)
	assert.Equal(t, "bad glass code", shadows.updated["RO-SO-0003"].SyncMessage)
}

func TestRun_DisabledIntegrationFails(t *testing.T) {
	cfg := testConfig()
	cfg.Remote.Enabled = false
	shadows := &fakeShadows{inFlight: []entity.RemoteOrder{inFlight("SO-0001", 1001)}}
	r := New(shadows, memory.NewStore(nil), nil, cfg, nil)

	_, err := r.Run(context.Background())

	assert.Error(t, err)
	assert.Empty(t, shadows.updated)
}

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/mesbridge/internal/cache"
	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/internal/entity"
	"github.com/Additional-Code/mesbridge/internal/messaging"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

type recordingOrders struct {
	states map[string]entity.SyncState
}

func (r *recordingOrders) UpdateSyncState(_ context.Context, name string, state entity.SyncState) error {
	if r.states == nil {
		r.states = map[string]entity.SyncState{}
	}
	r.states[name] = state
	return nil
}

type failingPublisher struct{ messaging.Client }

func (failingPublisher) Publish(context.Context, []byte, []byte) error {
	return errors.New("broker not available")
}

func testConfig() config.Config {
	return config.Config{
		Remote:    config.Remote{Enabled: true, Driver: "memory"},
		Messaging: config.Messaging{Enabled: true, Driver: "memory"},
		Sync:      config.Sync{JobTimeout: 300 * time.Second},
	}
}

func TestEnqueue_PublishesJob(t *testing.T) {
	bus := messaging.NewMemoryClient("ordersync.jobs", 4, nil)
	g := New(bus, cache.NewMemoryStore(0), &recordingOrders{}, testConfig(), nil)

	ack, err := g.Enqueue(context.Background(), "SO-0001", "jane")
	require.NoError(t, err)

	assert.False(t, ack.Duplicate)
	assert.Equal(t, "sync_remote_order_SO-0001", ack.JobName)
	assert.Equal(t, QueuedMessage, ack.Message)
	assert.NotEmpty(t, ack.JobID)
	assert.Equal(t, 1, bus.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var job SyncJob
	_ = bus.Consume(ctx, func(_ context.Context, msg messaging.Message) error {
		assert.Equal(t, "sync_remote_order_SO-0001", string(msg.Key))
		require.NoError(t, json.Unmarshal(msg.Value, &job))
		cancel()
		return nil
	})
	assert.Equal(t, ack.JobID, job.ID)
	assert.Equal(t, "SO-0001", job.Order)
	assert.Equal(t, "jane", job.Actor)
}

func TestEnqueue_DeduplicatesPendingJob(t *testing.T) {
	bus := messaging.NewMemoryClient("ordersync.jobs", 4, nil)
	g := New(bus, cache.NewMemoryStore(0), &recordingOrders{}, testConfig(), nil)

	first, err := g.Enqueue(context.Background(), "SO-0001", "jane")
	require.NoError(t, err)
	ack, err := g.Enqueue(context.Background(), "SO-0001", "jane")
	require.NoError(t, err)

	assert.True(t, ack.Duplicate)
	assert.Equal(t, 1, bus.Pending())

	g.Release(context.Background(), "SO-0001", first.JobID)
	ack, err = g.Enqueue(context.Background(), "SO-0001", "jane")
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, 2, bus.Pending())
}

func TestEnqueue_ConfigurationErrors(t *testing.T) {
	bus := messaging.NewMemoryClient("ordersync.jobs", 4, nil)

	cfg := testConfig()
	cfg.Remote.Enabled = false
	_, err := New(bus, cache.NewMemoryStore(0), &recordingOrders{}, cfg, nil).Enqueue(context.Background(), "SO-0001", "jane")
	assert.Equal(t, errorbank.KindConfiguration, errorbank.KindOf(err))

	cfg = testConfig()
	cfg.Messaging.Enabled = false
	_, err = New(bus, cache.NewMemoryStore(0), &recordingOrders{}, cfg, nil).Enqueue(context.Background(), "SO-0001", "jane")
	assert.Equal(t, errorbank.KindConfiguration, errorbank.KindOf(err))

	assert.Zero(t, bus.Pending())
}

func TestEnqueue_PublishFailureReleasesLock(t *testing.T) {
	locks := cache.NewMemoryStore(0)
	bus := messaging.NewMemoryClient("ordersync.jobs", 4, nil)
	g := New(failingPublisher{bus}, locks, &recordingOrders{}, testConfig(), nil)

	_, err := g.Enqueue(context.Background(), "SO-0001", "jane")
	assert.Equal(t, errorbank.KindConnectivity, errorbank.KindOf(err))

	_, err = locks.Get(context.Background(), LockKey("SO-0001"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestRelease_KeepsLockOfNewerJob(t *testing.T) {
	locks := cache.NewMemoryStore(0)
	bus := messaging.NewMemoryClient("ordersync.jobs", 4, nil)
	g := New(bus, locks, &recordingOrders{}, testConfig(), nil)

	ack, err := g.Enqueue(context.Background(), "SO-0001", "jane")
	require.NoError(t, err)

	g.Release(context.Background(), "SO-0001", "stale-job")
	held, err := locks.Get(context.Background(), LockKey("SO-0001"))
	require.NoError(t, err)
	assert.Equal(t, ack.JobID, string(held))

	g.Release(context.Background(), "SO-0001", ack.JobID)
	_, err = locks.Get(context.Background(), LockKey("SO-0001"))
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestOrderSubmitted(t *testing.T) {
	bus := messaging.NewMemoryClient("ordersync.jobs", 4, nil)
	orders := &recordingOrders{}
	g := New(bus, cache.NewMemoryStore(0), orders, testConfig(), nil)

	ack, err := g.OrderSubmitted(context.Background(), OrderSubmitted{Order: "SO-0002", SendToRemote: false})
	require.NoError(t, err)
	assert.True(t, ack.Skipped)

	ack, err = g.OrderSubmitted(context.Background(), OrderSubmitted{Order: "SO-0003", SendToRemote: true, RemoteOrderRef: "RO-SO-0003"})
	require.NoError(t, err)
	assert.True(t, ack.Skipped)
	assert.Zero(t, bus.Pending())

	ack, err = g.OrderSubmitted(context.Background(), OrderSubmitted{Order: "SO-0001", SendToRemote: true, Actor: "jane"})
	require.NoError(t, err)
	assert.False(t, ack.Skipped)
	assert.Equal(t, 1, bus.Pending())
	assert.Equal(t, entity.OrderSyncQueued, orders.states["SO-0001"].Status)
}

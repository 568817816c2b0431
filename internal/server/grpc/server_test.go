package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/mesbridge/internal/config"
	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

func TestNewHealth_ReportsRemoteAvailability(t *testing.T) {
	hs := NewHealth(config.Config{Remote: config.Remote{Enabled: true, Driver: "memory"}}, zap.NewNop())
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: SyncServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	hs = NewHealth(config.Config{}, zap.NewNop())
	resp, err = hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: SyncServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestToStatus(t *testing.T) {
	assert.NoError(t, toStatus(nil))

	st, ok := status.FromError(toStatus(errorbank.Timeout("sync job timed out")))
	require.True(t, ok)
	assert.Equal(t, codes.DeadlineExceeded, st.Code())
	assert.Equal(t, "sync job timed out", st.Message())

	st, _ = status.FromError(toStatus(errors.New("boom")))
	assert.Equal(t, codes.Internal, st.Code())

	original := status.Error(codes.NotFound, "missing")
	assert.Equal(t, original, toStatus(original))
}

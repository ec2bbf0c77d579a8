package service

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DioGolang/BookingSaga/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func dialHealth(t *testing.T, s *HealthServer) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Server().Serve(lis) }()
	t.Cleanup(s.Server().Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthServer_FollowsProbes(t *testing.T) {
	//Arrange
	s := NewHealthServer(logger.Nop(), time.Second)
	var probeErr error
	s.AddProbe("store", func(context.Context) error { return probeErr })
	client := dialHealth(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	//Act
	before, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	healthy := s.Check(ctx)
	after, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)

	//Assert
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, before.Status)
	assert.True(t, healthy)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, after.Status)

	//Act
	probeErr = errors.New("redis down")
	healthy = s.Check(ctx)
	overall, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)

	//Assert
	assert.False(t, healthy)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, overall.Status)
}

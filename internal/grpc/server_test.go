package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	apphealth "github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/health"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func setupHealthClient(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthServing(t *testing.T) {
	s := NewServer(logger.Nop())
	client := setupHealthClient(t, s)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))

	s.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))
}

func TestTrackFollowsChecker(t *testing.T) {
	s := NewServer(logger.Nop())
	client := setupHealthClient(t, s)

	checker := apphealth.NewChecker(logger.Nop(), 0)
	checker.RegisterPingCheck("database", true, func(context.Context) error { return assert.AnError })
	checker.RunChecks(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Track(ctx, checker, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return check(t, client, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
}

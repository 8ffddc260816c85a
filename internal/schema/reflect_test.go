package schema

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// startReflectionServer serves reflection, plus health when withHealth is set.
func startReflectionServer(t *testing.T, withHealth bool) *grpc.ClientConn {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	if withHealth {
		healthpb.RegisterHealthServer(srv, health.NewServer())
	}
	reflection.Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLoadFromReflection(t *testing.T) {
	conn := startReflectionServer(t, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := LoadFromReflection(ctx, conn, "test")
	require.NoError(t, err)
	assert.Equal(t, "reflection:test", c.Source())

	services := c.Enumerate()
	require.Len(t, services, 1, "reflection services are skipped")
	assert.Equal(t, "grpc.health.v1", services[0].Package)
	assert.Equal(t, "Health", services[0].Name)

	entry, err := c.Lookup("grpc.health.v1.Health.Check")
	require.NoError(t, err)
	assert.True(t, entry.IsUnary())
	assert.Equal(t, "/grpc.health.v1.Health/Check", entry.Path())

	entry, err = c.Lookup("grpc.health.v1.Health.Watch")
	require.NoError(t, err)
	assert.False(t, entry.IsUnary())
}

func TestLoadFromReflection_NoServices(t *testing.T) {
	conn := startReflectionServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := LoadFromReflection(ctx, conn, "empty")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaLoad)
}

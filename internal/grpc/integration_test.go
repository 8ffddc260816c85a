package grpc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shhac/grpcsim/internal/domain"
)

// Integration tests against a running backend. Set GRPC_TARGET (host:port)
// to enable them.

const integrationReadyTimeout = 20 * time.Second

func integrationTarget(t *testing.T) string {
	t.Helper()
	target := os.Getenv("GRPC_TARGET")
	if target == "" {
		t.Skip("GRPC_TARGET not set")
	}

	p := NewProber(testLogger)
	ready, err := p.WaitUntilReady(context.Background(), target, domain.Connection{}, integrationReadyTimeout)
	require.NoError(t, err)
	require.True(t, ready, "backend at %s not ready after %s", target, integrationReadyTimeout)
	return target
}

func TestIntegration_HealthCheck(t *testing.T) {
	target := integrationTarget(t)

	inv := NewInvoker(testCatalog, testLogger)
	res := inv.Invoke(context.Background(), domain.InvocationRequest{
		Connection: domain.Connection{Address: target},
		Method:     "dnd5e.Dnd5eService.HealthCheck",
		Payload:    map[string]any{},
	})
	require.True(t, res.OK(), "health check failed: %v", res.Failure)

	m := res.Payload.(map[string]any)
	assert.Equal(t, "SERVING", m["status"])
	assert.IsType(t, "", m["message"])
	assert.IsType(t, "", m["timestamp"])
}

func TestIntegration_GetEndpoints(t *testing.T) {
	target := integrationTarget(t)

	inv := NewInvoker(testCatalog, testLogger)
	res := inv.Invoke(context.Background(), domain.InvocationRequest{
		Connection: domain.Connection{Address: target},
		Method:     "dnd5e.Dnd5eService.GetEndpoints",
	})
	require.True(t, res.OK(), "GetEndpoints failed: %v", res.Failure)

	m := res.Payload.(map[string]any)
	endpoints, ok := m["endpoints"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, endpoints)
	assert.Contains(t, endpoints, "spells")
}

package grpc

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"github.com/shhac/grpcsim/internal/domain"
	apperrors "github.com/shhac/grpcsim/internal/errors"
	"github.com/shhac/grpcsim/internal/schema"
	"github.com/shhac/grpcsim/internal/stubserver"
)

func invokeDnd5e(t *testing.T, method string, payload any) domain.InvocationResult {
	t.Helper()
	inv := NewInvoker(testCatalog, testLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return inv.Invoke(ctx, domain.InvocationRequest{
		Connection: domain.Connection{Address: testAddr},
		Method:     method,
		Payload:    payload,
	})
}

func TestInvoke_HealthCheck(t *testing.T) {
	before := time.Now().UnixMilli()
	res := invokeDnd5e(t, "dnd5e.Dnd5eService.HealthCheck", map[string]any{})
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)

	m, ok := res.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SERVING", m["status"])
	assert.IsType(t, "", m["message"])

	// int64 values arrive as decimal strings.
	ts, ok := m["timestamp"].(string)
	require.True(t, ok, "timestamp should be a decimal string, got %T", m["timestamp"])
	n, err := strconv.ParseInt(ts, 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, before)
	assert.Positive(t, res.Duration)
}

func TestInvoke_GRPCPathForm(t *testing.T) {
	res := invokeDnd5e(t, "/dnd5e.Dnd5eService/GetEndpoints", nil)
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)

	m := res.Payload.(map[string]any)
	assert.Contains(t, m["endpoints"], "monsters")
}

func TestInvoke_GetListDefaultsEmitted(t *testing.T) {
	res := invokeDnd5e(t, "dnd5e.Dnd5eService.GetList", map[string]any{"endpoint": "races", "pageSize": 2})
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)

	m := res.Payload.(map[string]any)
	assert.Equal(t, "races", m["endpoint"])
	assert.Len(t, m["items"], 2)
	assert.Equal(t, true, m["hasMore"])
	// page is zero on the wire and still present.
	assert.Contains(t, m, "page")
}

func TestInvoke_ServerRejection(t *testing.T) {
	res := invokeDnd5e(t, "dnd5e.Dnd5eService.GetList", map[string]any{"endpoint": "dragons"})
	require.False(t, res.OK())

	f := res.Failure
	assert.Equal(t, apperrors.KindTransport, f.Kind)
	assert.True(t, f.HasCode)
	assert.Equal(t, codes.InvalidArgument, f.Code)
	assert.Equal(t, "Invalid endpoint: dragons", f.Message)
}

func TestInvoke_FailsBeforeDialing(t *testing.T) {
	inventory, err := schema.Load("../schema/testdata/inventory.proto")
	require.NoError(t, err)

	tests := []struct {
		name    string
		catalog *schema.Catalog
		method  string
		payload any
		want    apperrors.Kind
	}{
		{"bare method name", testCatalog, "HealthCheck", nil, apperrors.KindMalformedMethodName},
		{"two segments", testCatalog, "Dnd5eService.HealthCheck", nil, apperrors.KindMalformedMethodName},
		{"unknown service", testCatalog, "dnd5e.Nope.HealthCheck", nil, apperrors.KindServiceNotFound},
		{"unknown package", testCatalog, "pathfinder.Dnd5eService.HealthCheck", nil, apperrors.KindServiceNotFound},
		{"unknown method", testCatalog, "dnd5e.Dnd5eService.Nope", nil, apperrors.KindMethodNotFound},
		{"unknown payload field", testCatalog, "dnd5e.Dnd5eService.GetList", map[string]any{"endpoint": "races", "bogus": 1}, apperrors.KindInvalidPayload},
		{"streaming method", inventory, "acme.inventory.v1.Inventory.WatchItems", nil, apperrors.KindUnsupportedMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dials atomic.Int32
			inv := NewInvoker(tt.catalog, testLogger, WithDialer(countingDialer(&dials)))

			res := inv.Invoke(context.Background(), domain.InvocationRequest{
				Connection: domain.Connection{Address: testAddr},
				Method:     tt.method,
				Payload:    tt.payload,
			})

			require.False(t, res.OK())
			assert.Equal(t, tt.want, res.Failure.Kind)
			assert.Equal(t, int32(0), dials.Load(), "no channel may be opened")
		})
	}
}

func TestInvoke_MethodNotFoundListsAvailable(t *testing.T) {
	res := invokeDnd5e(t, "dnd5e.Dnd5eService.Nope", nil)
	require.False(t, res.OK())
	assert.Equal(t,
		[]string{"GetEndpoints", "GetList", "GetItem", "SearchItems", "HealthCheck"},
		res.Failure.Available,
	)
	assert.Contains(t, res.Failure.Diagnostic(), "Available: GetEndpoints, GetList, GetItem, SearchItems, HealthCheck")
}

func TestInvoke_UnreachableTarget(t *testing.T) {
	var dials atomic.Int32
	inv := NewInvoker(testCatalog, testLogger,
		WithDialer(countingDialer(&dials)),
		WithCallTimeout(2*time.Second),
	)

	start := time.Now()
	res := inv.Invoke(context.Background(), domain.InvocationRequest{
		Connection: domain.Connection{Address: unusedAddr()},
		Method:     "dnd5e.Dnd5eService.HealthCheck",
	})
	elapsed := time.Since(start)

	require.False(t, res.OK())
	assert.Equal(t, apperrors.KindTransport, res.Failure.Kind)
	assert.True(t, res.Failure.HasCode)
	assert.Contains(t, []codes.Code{codes.Unavailable, codes.DeadlineExceeded}, res.Failure.Code)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, int32(1), dials.Load(), "exactly one channel, no retries")
}

func TestInvoke_CancelledContext(t *testing.T) {
	inv := NewInvoker(testCatalog, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := inv.Invoke(ctx, domain.InvocationRequest{
		Connection: domain.Connection{Address: testAddr},
		Method:     "dnd5e.Dnd5eService.HealthCheck",
	})
	require.False(t, res.OK())
	assert.Equal(t, apperrors.KindTransport, res.Failure.Kind)
	assert.Equal(t, codes.Canceled, res.Failure.Code)
}

func TestInvoke_MetadataAndResponseHeaders(t *testing.T) {
	srv := stubserver.New(testCatalog, testLogger)
	require.NoError(t, srv.Handle("dnd5e.Dnd5eService.HealthCheck", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if err := grpc.SetHeader(ctx, metadata.Pairs("x-echo-token", first(md.Get("authorization")))); err != nil {
			return nil, err
		}
		return map[string]any{"status": "SERVING", "message": "ok"}, nil
	}))
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Stop()

	inv := NewInvoker(testCatalog, testLogger)
	res := inv.Invoke(context.Background(), domain.InvocationRequest{
		Connection: domain.Connection{Address: addr.String()},
		Method:     "dnd5e.Dnd5eService.HealthCheck",
		Metadata:   map[string]string{"Authorization": "Bearer t0k3n"},
	})
	require.True(t, res.OK(), "unexpected failure: %v", res.Failure)
	assert.Equal(t, "Bearer t0k3n", res.ResponseHeaders["x-echo-token"])

	// Unset int64 is emitted as "0".
	assert.Equal(t, "0", res.Payload.(map[string]any)["timestamp"])
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func TestFlattenMD(t *testing.T) {
	assert.Nil(t, flattenMD(nil))

	got := flattenMD(metadata.MD{
		"x-multi":   {"a", "b"},
		"x-bin-bin": {"\x00\x01"},
		"x-single":  {"v"},
	})
	assert.Equal(t, map[string]string{"x-multi": "a, b", "x-single": "v"}, got)
}

package grpc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/shhac/grpcsim/internal/domain"
	"github.com/shhac/grpcsim/internal/schema"
	"github.com/shhac/grpcsim/internal/stubserver"
)

// Package-level test infrastructure shared by all tests.
var (
	testCatalog *schema.Catalog
	testServer  *stubserver.Server
	testAddr    string
	testLogger  *slog.Logger
)

func TestMain(m *testing.M) {
	// Use a nop logger for tests.
	testLogger = slog.New(slog.NewTextHandler(
		io.Discard,
		&slog.HandlerOptions{Level: slog.LevelError + 1},
	))

	var err error
	testCatalog, err = schema.Load("../../proto/dnd5e.proto")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load schema: %v\n", err)
		os.Exit(1)
	}

	// Serve the dnd5e sample on an ephemeral port.
	testServer = stubserver.New(testCatalog, testLogger)
	if err := testServer.HandleAll(stubserver.Dnd5eHandlers()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to attach handlers: %v\n", err)
		os.Exit(1)
	}
	addr, err := testServer.Start("127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start stub server: %v\n", err)
		os.Exit(1)
	}
	testAddr = addr.String()

	code := m.Run()

	testServer.Stop()
	os.Exit(code)
}

// countingDialer opens real channels and counts how many were requested.
func countingDialer(n *atomic.Int32) Dialer {
	return func(cfg domain.Connection, logger *slog.Logger) (*Channel, error) {
		n.Add(1)
		return OpenChannel(cfg, logger)
	}
}

// unusedAddr returns a loopback address nothing listens on.
func unusedAddr() string {
	return "127.0.0.1:1"
}

package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fullstorydev/grpcurl"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/shhac/grpcsim/internal/domain"
)

// ConnectionState is the observable connectivity state of a Channel
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateReady
	StateTransientFailure
	StateShutdown
)

// String returns the conventional upper-case state name
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateTransientFailure:
		return "TRANSIENT_FAILURE"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// stateFrom maps a grpc connectivity state onto ConnectionState
func stateFrom(s connectivity.State) ConnectionState {
	switch s {
	case connectivity.Connecting:
		return StateConnecting
	case connectivity.Ready:
		return StateReady
	case connectivity.TransientFailure:
		return StateTransientFailure
	case connectivity.Shutdown:
		return StateShutdown
	default:
		return StateIdle
	}
}

// Dialer opens a Channel. Tests substitute their own to count dials.
type Dialer func(cfg domain.Connection, logger *slog.Logger) (*Channel, error)

// Channel is an exclusively owned client connection to one target.
// Close is idempotent and must be called on every exit path.
type Channel struct {
	conn    *grpc.ClientConn
	address string
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// OpenChannel creates a Channel for cfg. No network activity happens until
// the channel is asked to connect or carries a call.
func OpenChannel(cfg domain.Connection, logger *slog.Logger) (*Channel, error) {
	creds, err := transportCredentials(cfg, logger)
	if err != nil {
		return nil, err
	}

	// One-shot calls: a short keepalive detects a dead peer while a call is pending.
	kaParams := keepalive.ClientParameters{
		Time:    10 * time.Second,
		Timeout: 3 * time.Second,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithDisableRetry(),
		grpc.WithUserAgent("grpcsim"),
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		logger.Info("failed to create gRPC client",
			slog.String("address", cfg.Address),
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("create client for %s: %w", cfg.Address, err)
	}

	logger.Debug("channel opened",
		slog.String("address", cfg.Address),
		slog.String("credentials", string(credentialsMode(cfg))),
	)

	return &Channel{
		conn:    conn,
		address: cfg.Address,
		logger:  logger,
	}, nil
}

func credentialsMode(cfg domain.Connection) domain.CredentialsMode {
	if cfg.Credentials == "" {
		return domain.CredentialsInsecure
	}
	return cfg.Credentials
}

// transportCredentials builds the credentials for the configured mode.
func transportCredentials(cfg domain.Connection, logger *slog.Logger) (credentials.TransportCredentials, error) {
	mode := credentialsMode(cfg)
	switch mode {
	case domain.CredentialsInsecure:
		return insecure.NewCredentials(), nil

	case domain.CredentialsTLS, domain.CredentialsTLSSkipVerify:
		skipVerify := mode == domain.CredentialsTLSSkipVerify
		if skipVerify {
			logger.Warn("using insecure TLS connection (skipping certificate verification)")
		}
		tlsConf, err := grpcurl.ClientTLSConfig(skipVerify, cfg.TLS.CAFile, cfg.TLS.ClientCertFile, cfg.TLS.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("configure TLS: %w", err)
		}
		if cfg.TLS.ServerName != "" {
			tlsConf.ServerName = cfg.TLS.ServerName
		}
		return credentials.NewTLS(tlsConf), nil

	default:
		return nil, fmt.Errorf("unknown credentials mode %q", mode)
	}
}

// Conn returns the underlying client connection
func (c *Channel) Conn() *grpc.ClientConn {
	return c.conn
}

// Address returns the channel's target
func (c *Channel) Address() string {
	return c.address
}

// State returns the current connectivity state
func (c *Channel) State() ConnectionState {
	return stateFrom(c.conn.GetState())
}

// GetState returns the raw connectivity state
func (c *Channel) GetState() connectivity.State {
	return c.conn.GetState()
}

// WaitForStateChange blocks until the state differs from source or ctx ends.
func (c *Channel) WaitForStateChange(ctx context.Context, source connectivity.State) bool {
	return c.conn.WaitForStateChange(ctx, source)
}

// Connect moves an idle channel to connecting
func (c *Channel) Connect() {
	c.conn.Connect()
}

// Close releases the channel. Only the first call has any effect.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if c.closeErr != nil {
			c.logger.Warn("failed to close channel",
				slog.String("address", c.address),
				slog.Any("error", c.closeErr),
			)
			return
		}
		c.logger.Debug("channel closed", slog.String("address", c.address))
	})
	return c.closeErr
}

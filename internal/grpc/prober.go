package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/connectivity"

	"github.com/shhac/grpcsim/internal/domain"
	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// DefaultProbeSlice caps a single wait for a state change.
const DefaultProbeSlice = 300 * time.Millisecond

// StateWatcher is the part of a channel the Prober observes.
type StateWatcher interface {
	GetState() connectivity.State
	WaitForStateChange(ctx context.Context, source connectivity.State) bool
	Connect()
}

// Prober answers whether a target becomes ready within a deadline.
type Prober struct {
	logger  *slog.Logger
	slice   time.Duration
	dial    Dialer
	onState func(ConnectionState)
}

// ProberOption configures a Prober
type ProberOption func(*Prober)

// WithProbeSlice sets the longest single wait between state reads.
func WithProbeSlice(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.slice = d
		}
	}
}

// WithProbeDialer replaces the function used to open channels.
func WithProbeDialer(d Dialer) ProberOption {
	return func(p *Prober) {
		p.dial = d
	}
}

// WithStateObserver registers fn to receive every observed state.
func WithStateObserver(fn func(ConnectionState)) ProberOption {
	return func(p *Prober) {
		p.onState = fn
	}
}

// NewProber creates a Prober
func NewProber(logger *slog.Logger, opts ...ProberOption) *Prober {
	p := &Prober{
		logger: logger,
		slice:  DefaultProbeSlice,
		dial:   OpenChannel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitUntilReady opens a channel to target, waits up to timeout for it to
// become ready and releases it before returning. A target that never becomes
// ready yields (false, nil); an error is returned only when the channel
// cannot be created or ctx ends first.
func (p *Prober) WaitUntilReady(ctx context.Context, target string, conn domain.Connection, timeout time.Duration) (bool, error) {
	conn.Address = target
	ch, err := p.dial(conn, p.logger)
	if err != nil {
		return false, &apperrors.Failure{
			Kind:    apperrors.KindTransport,
			Message: err.Error(),
			Err:     err,
		}
	}
	defer ch.Close()

	return p.WaitReady(ctx, ch, timeout)
}

// WaitReady waits on a caller-owned channel. The deadline is fixed when the
// call starts and no single wait outlasts it.
func (p *Prober) WaitReady(ctx context.Context, w StateWatcher, timeout time.Duration) (bool, error) {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		s := w.GetState()
		if p.onState != nil {
			p.onState(stateFrom(s))
		}

		switch s {
		case connectivity.Ready:
			p.logger.Debug("target ready", slog.Duration("elapsed", time.Since(start)))
			return true, nil
		case connectivity.Shutdown:
			p.logger.Debug("channel shut down while probing")
			return false, nil
		case connectivity.Idle:
			w.Connect()
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.logger.Debug("target not ready before deadline",
				slog.Duration("timeout", timeout),
				slog.String("last_state", stateFrom(s).String()),
			)
			return false, nil
		}

		sliceCtx, cancel := context.WithTimeout(ctx, min(p.slice, remaining))
		w.WaitForStateChange(sliceCtx, s)
		cancel()
	}
}

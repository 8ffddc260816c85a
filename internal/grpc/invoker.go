package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/shhac/grpcsim/internal/domain"
	apperrors "github.com/shhac/grpcsim/internal/errors"
	"github.com/shhac/grpcsim/internal/schema"
)

// DefaultCallTimeout bounds a call whose context carries no deadline.
const DefaultCallTimeout = 30 * time.Second

// maxLogBodyLen caps request and response bodies written to debug logs.
const maxLogBodyLen = 1024

func truncateForLog(s string) string {
	if len(s) <= maxLogBodyLen {
		return s
	}
	return s[:maxLogBodyLen] + fmt.Sprintf("... (%d bytes total)", len(s))
}

// Invoker performs schema-driven unary calls. Each call opens its own
// channel and closes it before returning; nothing is retried.
type Invoker struct {
	catalog     *schema.Catalog
	logger      *slog.Logger
	dial        Dialer
	callTimeout time.Duration
}

// InvokerOption configures an Invoker
type InvokerOption func(*Invoker)

// WithDialer replaces the function used to open channels.
func WithDialer(d Dialer) InvokerOption {
	return func(i *Invoker) {
		i.dial = d
	}
}

// WithCallTimeout sets the timeout applied when ctx has no deadline.
func WithCallTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.callTimeout = d
		}
	}
}

// NewInvoker creates an Invoker resolving methods against catalog.
func NewInvoker(catalog *schema.Catalog, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	i := &Invoker{
		catalog:     catalog,
		logger:      logger,
		dial:        OpenChannel,
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke resolves req.Method, encodes the payload and performs exactly one
// unary exchange. Name, schema and payload problems are reported before any
// connection is attempted.
func (i *Invoker) Invoke(ctx context.Context, req domain.InvocationRequest) domain.InvocationResult {
	start := time.Now()
	result := i.invoke(ctx, req)
	result.Duration = time.Since(start)
	return result
}

func (i *Invoker) invoke(ctx context.Context, req domain.InvocationRequest) domain.InvocationResult {
	entry, err := i.catalog.Lookup(req.Method)
	if err != nil {
		return domain.Failed(apperrors.ClassifyError(err))
	}

	if !entry.IsUnary() {
		return domain.Failed(apperrors.NewFailure(apperrors.KindUnsupportedMethod,
			"%s is a %s method; only unary calls are supported", entry.Name, entry.Method.MethodType()))
	}

	reqMsg, err := entry.Encode(req.Payload)
	if err != nil {
		return domain.Failed(apperrors.ClassifyError(err))
	}

	methodName := entry.Name.String()
	if i.logger.Enabled(ctx, slog.LevelDebug) {
		body, _ := sonic.MarshalString(req.Payload)
		i.logger.Debug("invoking unary RPC",
			slog.String("method", methodName),
			slog.String("target", req.Connection.Address),
			slog.String("request", truncateForLog(body)),
		)
	}

	ch, err := i.dial(req.Connection, i.logger)
	if err != nil {
		return domain.Failed(&apperrors.Failure{
			Kind:    apperrors.KindTransport,
			Message: err.Error(),
			Err:     err,
		})
	}
	defer ch.Close()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}
	if len(req.Metadata) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(req.Metadata))
	}

	var respHeaders metadata.MD
	stub := grpcdynamic.NewStub(ch.Conn())
	respMsg, err := stub.InvokeRpc(ctx, entry.Desc, reqMsg, grpc.Header(&respHeaders))
	if err != nil {
		i.logger.Info("RPC invocation failed",
			slog.String("method", methodName),
			slog.Any("error", err),
		)
		f := apperrors.ClassifyGRPCError(err)
		return domain.InvocationResult{Failure: f, ResponseHeaders: flattenMD(respHeaders)}
	}

	payload, err := entry.Decode(respMsg)
	if err != nil {
		i.logger.Info("failed to decode response",
			slog.String("method", methodName),
			slog.Any("error", err),
		)
		return domain.InvocationResult{Failure: apperrors.ClassifyError(err), ResponseHeaders: flattenMD(respHeaders)}
	}

	if i.logger.Enabled(ctx, slog.LevelDebug) {
		body, _ := sonic.MarshalString(payload)
		i.logger.Debug("unary RPC completed",
			slog.String("method", methodName),
			slog.String("response", truncateForLog(body)),
		)
	}

	result := domain.Success(payload)
	result.ResponseHeaders = flattenMD(respHeaders)
	return result
}

// flattenMD joins repeated header values with ", ".
func flattenMD(md metadata.MD) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, vs := range md {
		if strings.HasSuffix(k, "-bin") {
			continue
		}
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

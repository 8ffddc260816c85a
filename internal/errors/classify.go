package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/status"
)

// ClassifyError converts an arbitrary error into a Failure. Errors that
// already carry a Failure are returned as-is; gRPC status errors are handed
// to ClassifyGRPCError.
func ClassifyError(err error) *Failure {
	if err == nil {
		return nil
	}

	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Failure{
			Kind:    KindTransport,
			Message: "deadline exceeded before the call completed",
			Err:     err,
		}

	case errors.Is(err, context.Canceled):
		return &Failure{
			Kind:    KindTransport,
			Message: "call cancelled",
			Err:     err,
		}
	}

	if _, ok := status.FromError(err); ok {
		return ClassifyGRPCError(err)
	}

	// Wrapped sentinels from lower layers.
	for _, k := range []Kind{
		KindSchemaLoad,
		KindMalformedMethodName,
		KindServiceNotFound,
		KindMethodNotFound,
		KindUnsupportedMethod,
		KindInvalidPayload,
		KindTransport,
		KindDecode,
		KindNotReady,
	} {
		if errors.Is(err, k.sentinel()) {
			return &Failure{Kind: k, Message: err.Error(), Err: err}
		}
	}

	return &Failure{
		Kind:    KindUnknown,
		Message: err.Error(),
		Err:     err,
	}
}

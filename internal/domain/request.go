package domain

import (
	"time"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// InvocationRequest describes a single dynamic unary call
type InvocationRequest struct {
	Connection Connection
	Method     string            // package.Service.Method
	Payload    any               // Decoded JSON value; nil means {}
	Metadata   map[string]string // Outgoing request headers
}

// InvocationResult is either a success carrying the decoded response
// payload or a structured failure.
type InvocationResult struct {
	Payload         any
	Failure         *apperrors.Failure
	ResponseHeaders map[string]string
	Duration        time.Duration
}

// OK reports whether the invocation succeeded
func (r InvocationResult) OK() bool {
	return r.Failure == nil
}

// Success builds a successful result
func Success(payload any) InvocationResult {
	return InvocationResult{Payload: payload}
}

// Failed builds a failed result
func Failed(f *apperrors.Failure) InvocationResult {
	return InvocationResult{Failure: f}
}

package errors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
)

// Sentinel errors for every failure kind the simulator reports.
var (
	ErrSchemaLoad          = errors.New("schema load failed")
	ErrMalformedMethodName = errors.New("malformed method name")
	ErrServiceNotFound     = errors.New("service not found")
	ErrMethodNotFound      = errors.New("method not found")
	ErrUnsupportedMethod   = errors.New("unsupported method")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrTransport           = errors.New("transport error")
	ErrDecode              = errors.New("response decode failed")
	ErrNotReady            = errors.New("target not ready")
)

// Kind identifies a failure category.
type Kind int

const (
	KindUnknown Kind = iota
	KindSchemaLoad
	KindMalformedMethodName
	KindServiceNotFound
	KindMethodNotFound
	KindUnsupportedMethod
	KindInvalidPayload
	KindTransport
	KindDecode
	KindNotReady
)

// String returns the name used in diagnostics and history records.
func (k Kind) String() string {
	switch k {
	case KindSchemaLoad:
		return "SchemaLoadError"
	case KindMalformedMethodName:
		return "MalformedMethodName"
	case KindServiceNotFound:
		return "ServiceNotFound"
	case KindMethodNotFound:
		return "MethodNotFound"
	case KindUnsupportedMethod:
		return "UnsupportedMethod"
	case KindInvalidPayload:
		return "InvalidPayload"
	case KindTransport:
		return "TransportError"
	case KindDecode:
		return "DecodeError"
	case KindNotReady:
		return "NotReady"
	default:
		return "Unknown"
	}
}

// sentinel returns the sentinel error matching the kind, or nil.
func (k Kind) sentinel() error {
	switch k {
	case KindSchemaLoad:
		return ErrSchemaLoad
	case KindMalformedMethodName:
		return ErrMalformedMethodName
	case KindServiceNotFound:
		return ErrServiceNotFound
	case KindMethodNotFound:
		return ErrMethodNotFound
	case KindUnsupportedMethod:
		return ErrUnsupportedMethod
	case KindInvalidPayload:
		return ErrInvalidPayload
	case KindTransport:
		return ErrTransport
	case KindDecode:
		return ErrDecode
	case KindNotReady:
		return ErrNotReady
	default:
		return nil
	}
}

// Failure is the structured error returned by resolution and invocation.
type Failure struct {
	Kind    Kind
	Message string

	// Code is the gRPC status code; only meaningful when HasCode is set.
	Code    codes.Code
	HasCode bool

	// Available lists the methods of the resolved service for MethodNotFound.
	Available []string

	// Details holds rendered rich status details, if the server sent any.
	Details string

	Err error
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind Kind, format string, args ...any) *Failure {
	return &Failure{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func (f *Failure) Error() string {
	if f.HasCode {
		return fmt.Sprintf("%s: %s (code %s)", f.Kind, f.Message, f.Code)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is reports whether target is the sentinel for this failure's kind.
func (f *Failure) Is(target error) bool {
	s := f.Kind.sentinel()
	return s != nil && s == target
}

// Diagnostic renders the failure as a single line for stderr.
func (f *Failure) Diagnostic() string {
	msg := f.Error()
	if f.Kind == KindMethodNotFound && len(f.Available) > 0 {
		msg += ". Available: " + strings.Join(f.Available, ", ")
	}
	return strings.ReplaceAll(msg, "\n", " ")
}

// KindOf returns the failure kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

package schema

import (
	"strings"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// MethodName is a parsed fully-qualified method name.
//
// The last segment is the method, the one before it the service, and every
// segment ahead of those forms the package, so "a.b.Service.Method" names
// package "a.b".
type MethodName struct {
	Package string
	Service string
	Method  string
}

// String returns the dotted form package.Service.Method.
func (n MethodName) String() string {
	return n.Package + "." + n.Service + "." + n.Method
}

// ServiceFullName returns package.Service.
func (n MethodName) ServiceFullName() string {
	return n.Package + "." + n.Service
}

// ParseMethodName splits a fully-qualified method name. The gRPC path forms
// "/pkg.Service/Method" and "pkg.Service/Method" are accepted as well.
func ParseMethodName(s string) (MethodName, error) {
	raw := strings.TrimSpace(s)
	norm := strings.ReplaceAll(strings.TrimPrefix(raw, "/"), "/", ".")

	parts := strings.Split(norm, ".")
	if len(parts) < 3 {
		return MethodName{}, apperrors.NewFailure(apperrors.KindMalformedMethodName,
			"method must be in the form package.Service.Method, got %q", raw)
	}
	for _, p := range parts {
		if p == "" {
			return MethodName{}, apperrors.NewFailure(apperrors.KindMalformedMethodName,
				"method %q has an empty segment", raw)
		}
	}

	n := len(parts)
	return MethodName{
		Package: strings.Join(parts[:n-2], "."),
		Service: parts[n-2],
		Method:  parts[n-1],
	}, nil
}

package errors

import (
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ClassifyGRPCError converts a gRPC status error into a TransportError
// failure carrying the status code, message and any rich details.
func ClassifyGRPCError(err error) *Failure {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return ClassifyError(err)
	}

	msg := st.Message()
	if msg == "" {
		msg = st.Code().String()
	}

	f := &Failure{
		Kind:    KindTransport,
		Message: msg,
		Code:    st.Code(),
		HasCode: true,
		Err:     err,
	}

	var sections []string
	if hint := codeHint(st.Code()); hint != "" {
		sections = append(sections, hint)
	}
	if extra := formatStatusDetails(st); extra != "" {
		sections = append(sections, extra)
	}
	f.Details = strings.Join(sections, "\n\n")

	return f
}

// codeHint returns a short remediation hint for codes a simulator user can act on.
func codeHint(code codes.Code) string {
	switch code {
	case codes.Unavailable:
		return "Check that the server is running and the target address is correct."
	case codes.DeadlineExceeded:
		return "The server took too long to respond; raise --timeout or probe with --wait first."
	case codes.Unimplemented:
		return "The server does not implement this method; the schema may be newer than the server."
	case codes.Unauthenticated:
		return "The server requires credentials; pass them with --header."
	case codes.InvalidArgument:
		return "The server rejected the request payload."
	default:
		return ""
	}
}

// formatStatusDetails extracts and formats rich error details from a gRPC status.
func formatStatusDetails(st *status.Status) string {
	details := st.Details()
	if len(details) == 0 {
		return ""
	}

	var sections []string

	for _, detail := range details {
		switch d := detail.(type) {
		case *errdetails.BadRequest:
			if fvs := d.GetFieldViolations(); len(fvs) > 0 {
				lines := []string{"Field Violations:"}
				for _, fv := range fvs {
					line := fmt.Sprintf("  %s: %s", fv.GetField(), fv.GetDescription())
					if r := fv.GetReason(); r != "" {
						line += fmt.Sprintf(" (reason: %s)", r)
					}
					lines = append(lines, line)
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.DebugInfo:
			lines := []string{"Debug Info:"}
			if d.GetDetail() != "" {
				lines = append(lines, "  "+d.GetDetail())
			}
			for _, entry := range d.GetStackEntries() {
				lines = append(lines, "  "+entry)
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.ErrorInfo:
			lines := []string{fmt.Sprintf("Error Info: %s", d.GetReason())}
			if d.GetDomain() != "" {
				lines = append(lines, fmt.Sprintf("  Domain: %s", d.GetDomain()))
			}
			for k, v := range d.GetMetadata() {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, v))
			}
			sections = append(sections, strings.Join(lines, "\n"))

		case *errdetails.RetryInfo:
			if delay := d.GetRetryDelay(); delay != nil {
				sections = append(sections, fmt.Sprintf("Retry after: %v", delay.AsDuration()))
			}

		case *errdetails.PreconditionFailure:
			if vs := d.GetViolations(); len(vs) > 0 {
				lines := []string{"Precondition Failures:"}
				for _, v := range vs {
					lines = append(lines, fmt.Sprintf("  [%s] %s: %s", v.GetType(), v.GetSubject(), v.GetDescription()))
				}
				sections = append(sections, strings.Join(lines, "\n"))
			}

		case *errdetails.RequestInfo:
			sections = append(sections, fmt.Sprintf("Request ID: %s", d.GetRequestId()))

		case *errdetails.ResourceInfo:
			sections = append(sections, fmt.Sprintf("Resource: %s/%s (%s)", d.GetResourceType(), d.GetResourceName(), d.GetDescription()))

		default:
			sections = append(sections, fmt.Sprintf("Detail: %v", detail))
		}
	}

	return strings.Join(sections, "\n\n")
}

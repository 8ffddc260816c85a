package domain

// Service represents a gRPC service declared in the loaded schema
type Service struct {
	Package  string
	Name     string
	FullName string // Fully qualified name
	Methods  []Method
}

// MethodNames returns the service's method names in declaration order
func (s Service) MethodNames() []string {
	names := make([]string, 0, len(s.Methods))
	for _, m := range s.Methods {
		names = append(names, m.Name)
	}
	return names
}

// Method represents a gRPC method
type Method struct {
	Name           string
	FullName       string
	InputType      string // Message type name
	OutputType     string
	IsClientStream bool
	IsServerStream bool
}

// MethodType returns the RPC type (Unary, ServerStream, ClientStream, or BidiStream)
func (m Method) MethodType() string {
	if m.IsClientStream && m.IsServerStream {
		return "BidiStream"
	}
	if m.IsServerStream {
		return "ServerStream"
	}
	if m.IsClientStream {
		return "ClientStream"
	}
	return "Unary"
}

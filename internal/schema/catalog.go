package schema

import (
	"fmt"

	"github.com/jhump/protoreflect/desc"

	"github.com/shhac/grpcsim/internal/domain"
	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// MethodEntry is the resolved, callable form of one schema method.
type MethodEntry struct {
	Name   MethodName
	Method domain.Method
	Desc   *desc.MethodDescriptor
	Encode EncodeFunc
	Decode DecodeFunc
}

// Path returns the gRPC request path, e.g. "/dnd5e.Dnd5eService/HealthCheck".
func (e *MethodEntry) Path() string {
	return "/" + e.Desc.GetService().GetFullyQualifiedName() + "/" + e.Desc.GetName()
}

// IsUnary reports whether the method takes and returns a single message.
func (e *MethodEntry) IsUnary() bool {
	return !e.Method.IsClientStream && !e.Method.IsServerStream
}

type serviceKey struct {
	pkg, service string
}

type methodKey struct {
	pkg, service, method string
}

// Catalog is the immutable registry built from one schema source. It is
// never modified after construction and may be read from any goroutine.
type Catalog struct {
	source   string
	files    []*desc.FileDescriptor
	norm     Normalization
	services []domain.Service
	packages map[string]struct{}
	bySvc    map[serviceKey]int
	methods  map[methodKey]*MethodEntry
}

// newCatalog indexes every service of the given files in order.
func newCatalog(source string, files []*desc.FileDescriptor, norm Normalization) (*Catalog, error) {
	c := &Catalog{
		source:   source,
		files:    files,
		norm:     norm,
		packages: make(map[string]struct{}),
		bySvc:    make(map[serviceKey]int),
		methods:  make(map[methodKey]*MethodEntry),
	}
	decode := newDecoder(norm)

	for _, fd := range files {
		pkg := fd.GetPackage()
		for _, sd := range fd.GetServices() {
			key := serviceKey{pkg: pkg, service: sd.GetName()}
			if _, dup := c.bySvc[key]; dup {
				return nil, apperrors.NewFailure(apperrors.KindSchemaLoad,
					"service %s declared more than once", sd.GetFullyQualifiedName())
			}

			svc := domain.Service{
				Package:  pkg,
				Name:     sd.GetName(),
				FullName: sd.GetFullyQualifiedName(),
				Methods:  make([]domain.Method, 0, len(sd.GetMethods())),
			}
			for _, md := range sd.GetMethods() {
				m := domain.Method{
					Name:           md.GetName(),
					FullName:       md.GetFullyQualifiedName(),
					InputType:      md.GetInputType().GetFullyQualifiedName(),
					OutputType:     md.GetOutputType().GetFullyQualifiedName(),
					IsClientStream: md.IsClientStreaming(),
					IsServerStream: md.IsServerStreaming(),
				}
				svc.Methods = append(svc.Methods, m)
				c.methods[methodKey{pkg: pkg, service: sd.GetName(), method: md.GetName()}] = &MethodEntry{
					Name:   MethodName{Package: pkg, Service: sd.GetName(), Method: md.GetName()},
					Method: m,
					Desc:   md,
					Encode: newEncoder(md.GetInputType()),
					Decode: decode,
				}
			}

			c.packages[pkg] = struct{}{}
			c.bySvc[key] = len(c.services)
			c.services = append(c.services, svc)
		}
	}

	if len(c.services) == 0 {
		return nil, apperrors.NewFailure(apperrors.KindSchemaLoad, "schema %s declares no services", source)
	}
	return c, nil
}

// Source returns the path or key the catalog was loaded from.
func (c *Catalog) Source() string {
	return c.source
}

// Files returns the schema files in load order.
func (c *Catalog) Files() []*desc.FileDescriptor {
	out := make([]*desc.FileDescriptor, len(c.files))
	copy(out, c.files)
	return out
}

// Normalization returns the JSON bridging rules the catalog was built with.
func (c *Catalog) Normalization() Normalization {
	return c.norm
}

// Enumerate returns every service in declaration order. Each call returns a
// fresh copy with the same content.
func (c *Catalog) Enumerate() []domain.Service {
	out := make([]domain.Service, 0, len(c.services))
	for _, s := range c.services {
		out = append(out, cloneService(s))
	}
	return out
}

// Resolve returns the service with the exact package and name.
func (c *Catalog) Resolve(pkg, service string) (domain.Service, error) {
	idx, ok := c.bySvc[serviceKey{pkg: pkg, service: service}]
	if !ok {
		if _, known := c.packages[pkg]; !known {
			return domain.Service{}, apperrors.NewFailure(apperrors.KindServiceNotFound,
				"package not found: %s", pkg)
		}
		return domain.Service{}, apperrors.NewFailure(apperrors.KindServiceNotFound,
			"service not found: %s.%s", pkg, service)
	}
	return cloneService(c.services[idx]), nil
}

// MethodExists reports whether svc declares a method with the given name.
func (c *Catalog) MethodExists(svc domain.Service, method string) bool {
	_, ok := c.methods[methodKey{pkg: svc.Package, service: svc.Name, method: method}]
	return ok
}

// Lookup resolves a fully-qualified method name to its entry. A malformed
// name, an unknown service and an unknown method each fail with their own
// kind; MethodNotFound carries the service's available methods.
func (c *Catalog) Lookup(fqmn string) (*MethodEntry, error) {
	name, err := ParseMethodName(fqmn)
	if err != nil {
		return nil, err
	}

	svc, err := c.Resolve(name.Package, name.Service)
	if err != nil {
		return nil, err
	}

	entry, ok := c.methods[methodKey{pkg: name.Package, service: name.Service, method: name.Method}]
	if !ok {
		return nil, &apperrors.Failure{
			Kind:      apperrors.KindMethodNotFound,
			Message:   fmt.Sprintf("method not found on service %s: %s", svc.FullName, name.Method),
			Available: svc.MethodNames(),
		}
	}
	return entry, nil
}

func cloneService(s domain.Service) domain.Service {
	methods := make([]domain.Method, len(s.Methods))
	copy(methods, s.Methods)
	s.Methods = methods
	return s
}

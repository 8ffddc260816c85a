// Package stubserver serves the services of a loaded schema from plain
// JSON handler functions, without generated code.
package stubserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/jhump/protoreflect/desc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	reflectionv1 "google.golang.org/grpc/reflection/grpc_reflection_v1"
	reflectionv1alpha "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/shhac/grpcsim/internal/schema"
)

// HandlerFunc answers one unary call. The request arrives as a JSON object
// with lowerCamelCase keys and every field populated; the returned object is
// read back with the same conventions.
type HandlerFunc func(ctx context.Context, req map[string]any) (map[string]any, error)

var (
	requestJSON  = protojson.MarshalOptions{EmitUnpopulated: true}
	responseJSON = protojson.UnmarshalOptions{}
)

// Server is a gRPC server for every service in a Catalog.
type Server struct {
	catalog *schema.Catalog
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc // keyed by gRPC path

	grpcServer *grpc.Server
	health     *health.Server
}

// New creates a Server for catalog. Call Handle to attach behavior and
// Start to begin serving.
func New(catalog *schema.Catalog, logger *slog.Logger) *Server {
	return &Server{
		catalog:  catalog,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle attaches h to a unary method given as package.Service.Method.
// Handlers may be replaced while the server runs.
func (s *Server) Handle(fqmn string, h HandlerFunc) error {
	entry, err := s.catalog.Lookup(fqmn)
	if err != nil {
		return err
	}
	if !entry.IsUnary() {
		return fmt.Errorf("%s is a %s method; only unary handlers are supported", entry.Name, entry.Method.MethodType())
	}

	s.mu.Lock()
	s.handlers[entry.Path()] = h
	s.mu.Unlock()
	return nil
}

// HandleAll attaches every handler in hs.
func (s *Server) HandleAll(hs map[string]HandlerFunc) error {
	for name, h := range hs {
		if err := s.Handle(name, h); err != nil {
			return err
		}
	}
	return nil
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	gs := grpc.NewServer()
	files, err := s.registerServices(gs)
	if err != nil {
		lis.Close()
		return nil, err
	}

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(gs, s.health)
	for _, svc := range s.catalog.Enumerate() {
		s.health.SetServingStatus(svc.FullName, healthpb.HealthCheckResponse_SERVING)
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthFile := healthpb.File_grpc_health_v1_health_proto
	if _, err := files.FindFileByPath(healthFile.Path()); err != nil {
		if err := files.RegisterFile(healthFile); err != nil {
			lis.Close()
			return nil, fmt.Errorf("register %s: %w", healthFile.Path(), err)
		}
	}

	reflOpts := reflection.ServerOptions{Services: gs, DescriptorResolver: files}
	reflectionv1.RegisterServerReflectionServer(gs, reflection.NewServerV1(reflOpts))
	reflectionv1alpha.RegisterServerReflectionServer(gs, reflection.NewServer(reflOpts))

	s.grpcServer = gs
	go func() {
		if err := gs.Serve(lis); err != nil {
			s.logger.Error("stub server exited", slog.Any("error", err))
		}
	}()

	s.logger.Info("stub server listening", slog.String("address", lis.Addr().String()))
	return lis.Addr(), nil
}

// Stop marks every service as not serving and stops the server. Pending
// calls are allowed to finish.
func (s *Server) Stop() {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.grpcServer = nil
}

// registerServices registers a dynamic service description for every
// catalog service and returns a registry of the catalog's files for
// reflection.
func (s *Server) registerServices(gs *grpc.Server) (*protoregistry.Files, error) {
	files := new(protoregistry.Files)
	seen := make(map[string]bool)

	var register func(fd *desc.FileDescriptor) error
	register = func(fd *desc.FileDescriptor) error {
		if seen[fd.GetName()] {
			return nil
		}
		seen[fd.GetName()] = true
		for _, dep := range fd.GetDependencies() {
			if err := register(dep); err != nil {
				return err
			}
		}
		return files.RegisterFile(fd.UnwrapFile())
	}

	for _, fd := range s.catalog.Files() {
		if err := register(fd); err != nil {
			return nil, fmt.Errorf("register %s: %w", fd.GetName(), err)
		}
		for _, sd := range fd.GetServices() {
			gs.RegisterService(s.serviceDesc(sd), s)
		}
	}
	return files, nil
}

func (s *Server) serviceDesc(sd *desc.ServiceDescriptor) *grpc.ServiceDesc {
	gsd := &grpc.ServiceDesc{
		ServiceName: sd.GetFullyQualifiedName(),
		HandlerType: (*any)(nil),
		Metadata:    sd.GetFile().GetName(),
	}
	for _, md := range sd.GetMethods() {
		if md.IsClientStreaming() || md.IsServerStreaming() {
			continue
		}
		gsd.Methods = append(gsd.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler:    s.unaryHandler(md),
		})
	}
	return gsd
}

func (s *Server) unaryHandler(md *desc.MethodDescriptor) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	path := "/" + md.GetService().GetFullyQualifiedName() + "/" + md.GetName()
	in := md.GetInputType().UnwrapMessage()
	out := md.GetOutputType().UnwrapMessage()

	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := dynamicpb.NewMessage(in)
		if err := dec(req); err != nil {
			return nil, err
		}

		call := func(ctx context.Context, r any) (any, error) {
			return s.dispatch(ctx, path, r.(*dynamicpb.Message), out)
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: s, FullMethod: path}, call)
	}
}

func (s *Server) dispatch(ctx context.Context, path string, req *dynamicpb.Message, out protoreflect.MessageDescriptor) (any, error) {
	s.mu.RLock()
	h, ok := s.handlers[path]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", path)
	}

	raw, err := requestJSON.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode request: %v", err)
	}
	var reqMap map[string]any
	if err := sonic.Unmarshal(raw, &reqMap); err != nil {
		return nil, status.Errorf(codes.Internal, "decode request: %v", err)
	}

	s.logger.Debug("stub call", slog.String("method", path), slog.String("request", string(raw)))

	respMap, err := h(ctx, reqMap)
	if err != nil {
		return nil, err
	}
	if respMap == nil {
		respMap = map[string]any{}
	}

	body, err := sonic.Marshal(respMap)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	resp := dynamicpb.NewMessage(out)
	if err := responseJSON.Unmarshal(body, resp); err != nil {
		return nil, status.Errorf(codes.Internal, "handler response does not match %s: %v", out.FullName(), err)
	}
	return resp, nil
}

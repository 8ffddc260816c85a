package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoregistry"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// reflectionServices are never added to a reflected catalog.
var reflectionServices = map[string]bool{
	"grpc.reflection.v1alpha.ServerReflection": true,
	"grpc.reflection.v1.ServerReflection":      true,
}

// LoadFromReflection builds a Catalog from the services a server exposes
// through gRPC reflection (v1 or v1alpha, detected automatically). target
// only names the catalog source.
func LoadFromReflection(ctx context.Context, cc grpc.ClientConnInterface, target string, opts ...Option) (*Catalog, error) {
	o := buildOptions(opts)
	source := "reflection:" + target

	rc := grpcreflect.NewClientAuto(ctx, cc)
	defer rc.Reset()

	// Servers that omit well-known imports still resolve.
	rc.AllowFallbackResolver(protoregistry.GlobalFiles, protoregistry.GlobalTypes)
	rc.AllowMissingFileDescriptors()

	names, err := rc.ListServices()
	if err != nil {
		return nil, loadFailure(source, fmt.Errorf("list services: %w", err))
	}

	seen := make(map[string]bool)
	var roots []*desc.FileDescriptor
	for _, name := range names {
		if reflectionServices[name] {
			continue
		}
		sd, err := rc.ResolveService(name)
		if err != nil {
			o.logger.Warn("failed to resolve service",
				slog.String("service", name),
				slog.Any("error", err))
			continue
		}
		fd := sd.GetFile()
		if !seen[fd.GetName()] {
			seen[fd.GetName()] = true
			roots = append(roots, fd)
		}
	}
	if len(roots) == 0 {
		return nil, apperrors.NewFailure(apperrors.KindSchemaLoad,
			"%s: server exposes no services through reflection", source)
	}

	c, err := newCatalog(source, withDependencies(roots), o.norm)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("loaded schema via reflection",
		slog.String("target", target),
		slog.Int("services", len(c.services)))
	return c, nil
}

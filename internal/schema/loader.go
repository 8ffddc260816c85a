package schema

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

// Option configures Load, LoadFromEtcd and LoadFromReflection.
type Option func(*loadOptions)

type loadOptions struct {
	importPaths []string
	norm        Normalization
	logger      *slog.Logger
}

// WithImportPaths adds directories searched for imported .proto files.
func WithImportPaths(paths ...string) Option {
	return func(o *loadOptions) {
		o.importPaths = append(o.importPaths, paths...)
	}
}

// WithNormalization sets the JSON bridging rules.
func WithNormalization(n Normalization) Option {
	return func(o *loadOptions) {
		o.norm = n
	}
}

// WithLogger sets the logger used while loading.
func WithLogger(logger *slog.Logger) Option {
	return func(o *loadOptions) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) loadOptions {
	o := loadOptions{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load parses the schema at path into a Catalog. A .proto file is compiled
// from source; .protoset, .pb, .bin and .desc files are read as a serialized
// FileDescriptorSet.
func Load(path string, opts ...Option) (*Catalog, error) {
	o := buildOptions(opts)

	info, err := os.Stat(path)
	if err != nil {
		return nil, loadFailure(path, err)
	}
	if info.IsDir() {
		return nil, apperrors.NewFailure(apperrors.KindSchemaLoad, "load %s: is a directory", path)
	}

	var files []*desc.FileDescriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".protoset", ".pb", ".bin", ".desc":
		files, err = loadProtoset(path)
	default:
		files, err = parseProto(path, o.importPaths)
	}
	if err != nil {
		return nil, loadFailure(path, err)
	}

	c, err := newCatalog(path, files, o.norm)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("schema loaded",
		slog.String("path", path),
		slog.Int("files", len(files)),
		slog.Int("services", len(c.services)),
	)
	return c, nil
}

func loadFailure(path string, err error) *apperrors.Failure {
	return &apperrors.Failure{
		Kind:    apperrors.KindSchemaLoad,
		Message: fmt.Sprintf("load %s: %v", path, err),
		Err:     fmt.Errorf("%w: %w", apperrors.ErrSchemaLoad, err),
	}
}

// parseProto compiles one .proto file. The file's own directory is the first
// import path, so sibling imports resolve without extra flags.
func parseProto(path string, extra []string) ([]*desc.FileDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	importPaths := []string{filepath.Dir(abs)}
	for _, p := range extra {
		if p == "" {
			continue
		}
		if a, err := filepath.Abs(p); err == nil {
			p = a
		}
		importPaths = append(importPaths, p)
	}

	parser := protoparse.Parser{
		ImportPaths:           importPaths,
		InferImportPaths:      true,
		IncludeSourceCodeInfo: true,
	}
	fds, err := parser.ParseFiles(filepath.Base(abs))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return withDependencies(fds), nil
}

// withDependencies returns roots followed by their transitive imports,
// depth-first, each file once.
func withDependencies(roots []*desc.FileDescriptor) []*desc.FileDescriptor {
	seen := make(map[string]bool)
	var out []*desc.FileDescriptor
	var visit func(fd *desc.FileDescriptor)
	visit = func(fd *desc.FileDescriptor) {
		if seen[fd.GetName()] {
			return
		}
		seen[fd.GetName()] = true
		out = append(out, fd)
		for _, dep := range fd.GetDependencies() {
			visit(dep)
		}
	}
	for _, fd := range roots {
		visit(fd)
	}
	return out
}

func loadProtoset(path string) ([]*desc.FileDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return filesFromSetBytes(data)
}

// filesFromSetBytes links a serialized FileDescriptorSet, keeping the
// file order of the set.
func filesFromSetBytes(data []byte) ([]*desc.FileDescriptor, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode descriptor set: %w", err)
	}
	if len(set.GetFile()) == 0 {
		return nil, fmt.Errorf("descriptor set is empty")
	}

	byName, err := desc.CreateFileDescriptorsFromSet(&set)
	if err != nil {
		return nil, fmt.Errorf("link descriptor set: %w", err)
	}

	files := make([]*desc.FileDescriptor, 0, len(set.GetFile()))
	for _, fdp := range set.GetFile() {
		if fd, ok := byName[fdp.GetName()]; ok {
			files = append(files, fd)
		}
	}
	return files, nil
}

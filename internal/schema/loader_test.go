package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jhump/protoreflect/desc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	apperrors "github.com/shhac/grpcsim/internal/errors"
)

const (
	inventoryProto = "testdata/inventory.proto"
	dnd5eProto     = "../../proto/dnd5e.proto"
)

func loadInventory(t *testing.T, opts ...Option) *Catalog {
	t.Helper()
	c, err := Load(inventoryProto, opts...)
	require.NoError(t, err)
	return c
}

func writeProtoset(t *testing.T, c *Catalog) string {
	t.Helper()
	set := desc.ToFileDescriptorSet(c.Files()...)
	data, err := proto.Marshal(set)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "inventory.protoset")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoad_ProtoFile(t *testing.T) {
	c := loadInventory(t)

	services := c.Enumerate()
	require.Len(t, services, 2)
	assert.Equal(t, "acme.inventory.v1.Inventory", services[0].FullName)
	assert.Equal(t, "acme.inventory.v1.Audit", services[1].FullName)
	assert.Equal(t, []string{"GetItem", "ListItems", "WatchItems"}, services[0].MethodNames())
	assert.Equal(t, inventoryProto, c.Source())

	// Requested file first, then its imports.
	files := c.Files()
	require.GreaterOrEqual(t, len(files), 2)
	assert.Equal(t, "inventory.proto", files[0].GetName())
	assert.Equal(t, "google/protobuf/timestamp.proto", files[1].GetName())
}

func TestLoad_Dnd5eSchema(t *testing.T) {
	c, err := Load(dnd5eProto)
	require.NoError(t, err)

	services := c.Enumerate()
	require.Len(t, services, 1)
	assert.Equal(t, "dnd5e", services[0].Package)
	assert.Equal(t, "Dnd5eService", services[0].Name)
	assert.Equal(t,
		[]string{"GetEndpoints", "GetList", "GetItem", "SearchItems", "HealthCheck"},
		services[0].MethodNames(),
	)
}

func TestLoad_Protoset(t *testing.T) {
	fromSource := loadInventory(t)
	path := writeProtoset(t, fromSource)

	fromSet, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, fromSource.Enumerate(), fromSet.Enumerate())

	entry, err := fromSet.Lookup("acme.inventory.v1.Inventory.GetItem")
	require.NoError(t, err)
	assert.Equal(t, "acme.inventory.v1.GetItemRequest", entry.Method.InputType)
}

func TestLoad_Failures(t *testing.T) {
	dir := t.TempDir()

	noServices := filepath.Join(dir, "empty.proto")
	require.NoError(t, os.WriteFile(noServices, []byte("syntax = \"proto3\";\npackage empty;\nmessage Nothing {}\n"), 0o644))

	garbageSet := filepath.Join(dir, "garbage.protoset")
	require.NoError(t, os.WriteFile(garbageSet, []byte("not a descriptor set"), 0o644))

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.proto")},
		{"directory", dir},
		{"parse error", "testdata/broken.proto"},
		{"no services", noServices},
		{"garbage protoset", garbageSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(tt.path)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, apperrors.ErrSchemaLoad)
			assert.Equal(t, apperrors.KindSchemaLoad, apperrors.KindOf(err))
		})
	}
}

func TestLoad_ImportPaths(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared")
	require.NoError(t, os.MkdirAll(shared, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(shared, "common.proto"), []byte(`syntax = "proto3";
package common;
message Ping { string note = 1; }
`), 0o644))

	svcDir := filepath.Join(dir, "svc")
	require.NoError(t, os.MkdirAll(svcDir, 0o755))
	svcPath := filepath.Join(svcDir, "pinger.proto")
	require.NoError(t, os.WriteFile(svcPath, []byte(`syntax = "proto3";
package pinger;
import "common.proto";
service Pinger { rpc Ping(common.Ping) returns (common.Ping); }
`), 0o644))

	_, err := Load(svcPath)
	require.Error(t, err, "import outside the file's directory should not resolve on its own")

	c, err := Load(svcPath, WithImportPaths(shared))
	require.NoError(t, err)
	entry, err := c.Lookup("pinger.Pinger.Ping")
	require.NoError(t, err)
	assert.Equal(t, "common.Ping", entry.Method.InputType)
}

func TestLoad_Idempotent(t *testing.T) {
	first := loadInventory(t)
	second := loadInventory(t)

	assert.Equal(t, first.Enumerate(), second.Enumerate())
	assert.Equal(t, first.Enumerate(), first.Enumerate())
}

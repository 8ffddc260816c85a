package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shhac/grpcsim/internal/domain"
	"github.com/shhac/grpcsim/internal/logging"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	data := []byte(`{"hello": "world"}`)

	if err := atomicWriteFile(path, data, 0644); err != nil {
		t.Fatalf("atomicWriteFile failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0644 {
		t.Errorf("permissions = %o, want 0644", perm)
	}
}

func TestAtomicWriteFile_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")

	if err := atomicWriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := atomicWriteFile(path, []byte("new"), 0644); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Errorf("got %q, want %q", got, "new")
	}
}

func TestAtomicWriteFile_NoTempFileOnFailure(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "nodir", "test.json")
	if err := atomicWriteFile(path, []byte("data"), 0644); err == nil {
		t.Fatal("expected error writing to non-existent directory")
	}

	entries, _ := os.ReadDir(parent)
	assert.Empty(t, entries)
}

func entry(i int) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:        fmt.Sprintf("h-%03d", i),
		Timestamp: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		Target:    "localhost:50051",
		Method:    "dnd5e.Dnd5eService.HealthCheck",
		Request:   "{}",
		Duration:  time.Duration(i) * time.Millisecond,
		Status:    "success",
	}
}

func TestJSONRepository_HistoryNewestFirst(t *testing.T) {
	repo := NewJSONRepository(filepath.Join(t.TempDir(), "state"), logging.NewNopLogger())

	for i := 1; i <= 3; i++ {
		require.NoError(t, repo.AddHistoryEntry(entry(i)))
	}

	all, err := repo.GetHistory(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "h-003", all[0].ID)
	assert.Equal(t, "h-001", all[2].ID)
	assert.True(t, all[0].Timestamp.Equal(entry(3).Timestamp))
	assert.Equal(t, 3*time.Millisecond, all[0].Duration)

	limited, err := repo.GetHistory(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJSONRepository_HistoryCapped(t *testing.T) {
	repo := NewJSONRepository(t.TempDir(), logging.NewNopLogger())

	for i := 0; i < maxHistory+5; i++ {
		require.NoError(t, repo.AddHistoryEntry(entry(i)))
	}

	all, err := repo.GetHistory(0)
	require.NoError(t, err)
	assert.Len(t, all, maxHistory)
	assert.Equal(t, fmt.Sprintf("h-%03d", maxHistory+4), all[0].ID)
}

func TestJSONRepository_ClearHistory(t *testing.T) {
	repo := NewJSONRepository(t.TempDir(), logging.NewNopLogger())

	require.NoError(t, repo.ClearHistory(), "clearing an empty history is not an error")
	require.NoError(t, repo.AddHistoryEntry(entry(1)))
	require.NoError(t, repo.ClearHistory())

	all, err := repo.GetHistory(0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJSONRepository_CorruptHistory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, historyFile), []byte("{not json"), 0644))

	repo := NewJSONRepository(dir, logging.NewNopLogger())
	_, err := repo.GetHistory(0)
	assert.Error(t, err)
	assert.Error(t, repo.AddHistoryEntry(entry(1)))
}

func TestMemoryRepository_History(t *testing.T) {
	var repo Repository = NewMemoryRepository()

	for i := 0; i < maxHistory+1; i++ {
		require.NoError(t, repo.AddHistoryEntry(entry(i)))
	}
	all, err := repo.GetHistory(0)
	require.NoError(t, err)
	assert.Len(t, all, maxHistory)

	two, err := repo.GetHistory(2)
	require.NoError(t, err)
	assert.Equal(t, []string{fmt.Sprintf("h-%03d", maxHistory), fmt.Sprintf("h-%03d", maxHistory-1)}, []string{two[0].ID, two[1].ID})

	require.NoError(t, repo.ClearHistory())
	all, err = repo.GetHistory(0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

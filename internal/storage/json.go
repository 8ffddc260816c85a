package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/shhac/grpcsim/internal/domain"
)

const (
	historyFile    = "history.json"
	maxHistory     = 100
	filePermission = 0644
	dirPermission  = 0755
)

// JSONRepository implements Repository using a JSON file
type JSONRepository struct {
	basePath string
	logger   *slog.Logger
}

// NewJSONRepository creates a new JSON-based repository rooted at basePath
func NewJSONRepository(basePath string, logger *slog.Logger) *JSONRepository {
	return &JSONRepository{
		basePath: basePath,
		logger:   logger,
	}
}

// AddHistoryEntry records an entry, newest first, keeping at most maxHistory
func (r *JSONRepository) AddHistoryEntry(entry domain.HistoryEntry) error {
	if err := r.ensureBaseDir(); err != nil {
		return fmt.Errorf("ensure base directory: %w", err)
	}

	history, err := r.loadHistoryList()
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	history = append([]domain.HistoryEntry{entry}, history...)
	if len(history) > maxHistory {
		history = history[:maxHistory]
	}

	if err := r.saveHistoryList(history); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	r.logger.Debug("saved history entry",
		slog.String("id", entry.ID),
		slog.String("method", entry.Method))

	return nil
}

// GetHistory returns up to limit entries; limit <= 0 returns all
func (r *JSONRepository) GetHistory(limit int) ([]domain.HistoryEntry, error) {
	history, err := r.loadHistoryList()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if limit > 0 && limit < len(history) {
		history = history[:limit]
	}

	r.logger.Debug("loaded history", slog.Int("count", len(history)))
	return history, nil
}

// ClearHistory removes all history entries
func (r *JSONRepository) ClearHistory() error {
	if err := os.Remove(r.historyPath()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete history file: %w", err)
	}

	r.logger.Debug("cleared history")
	return nil
}

// atomicWriteFile writes data to a file atomically by writing to a temp file
// in the same directory, syncing, then renaming over the target path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

func (r *JSONRepository) ensureBaseDir() error {
	if err := os.MkdirAll(r.basePath, dirPermission); err != nil {
		return fmt.Errorf("create base directory: %w", err)
	}
	return nil
}

func (r *JSONRepository) historyPath() string {
	return filepath.Join(r.basePath, historyFile)
}

// loadHistoryList reads the history file; a missing file is an empty history
func (r *JSONRepository) loadHistoryList() ([]domain.HistoryEntry, error) {
	data, err := os.ReadFile(r.historyPath())
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var history []domain.HistoryEntry
	if err := sonic.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}

func (r *JSONRepository) saveHistoryList(history []domain.HistoryEntry) error {
	data, err := sonic.ConfigStd.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	if err := atomicWriteFile(r.historyPath(), data, filePermission); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}
	return nil
}

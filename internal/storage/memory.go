package storage

import (
	"sync"

	"github.com/shhac/grpcsim/internal/domain"
)

// MemoryRepository implements Repository in memory for tests
type MemoryRepository struct {
	history []domain.HistoryEntry
	mu      sync.RWMutex
}

// NewMemoryRepository creates a new in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// AddHistoryEntry records an entry, newest first
func (m *MemoryRepository) AddHistoryEntry(entry domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append([]domain.HistoryEntry{entry}, m.history...)
	if len(m.history) > maxHistory {
		m.history = m.history[:maxHistory]
	}
	return nil
}

// GetHistory returns up to limit entries; limit <= 0 returns all
func (m *MemoryRepository) GetHistory(limit int) ([]domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.HistoryEntry, n)
	copy(out, m.history[:n])
	return out, nil
}

// ClearHistory removes all entries
func (m *MemoryRepository) ClearHistory() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = nil
	return nil
}

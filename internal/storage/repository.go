package storage

import "github.com/shhac/grpcsim/internal/domain"

// Repository persists the invocation history
type Repository interface {
	AddHistoryEntry(entry domain.HistoryEntry) error
	GetHistory(limit int) ([]domain.HistoryEntry, error)
	ClearHistory() error
}

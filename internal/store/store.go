// Package store persists readings and alert records.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
)

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("store is closed")

// Entry is the unit of one write: a reading and, if the cycle raised one,
// its alert. Both are committed together.
type Entry struct {
	Reading domain.Reading
	Alert   *domain.AlertRecord
}

// HistoryStore is the contract both the in-memory and SQLite stores satisfy.
// Recent* methods return newest first.
type HistoryStore interface {
	Append(ctx context.Context, e Entry) error
	RecentReadings(ctx context.Context, n int) ([]domain.Reading, error)
	RecentAlerts(ctx context.Context, n int) ([]domain.AlertRecord, error)
	// Prune deletes readings and alerts stamped before the cutoff and
	// reports how many rows went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

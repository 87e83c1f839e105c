package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
)

var _ HistoryStore = (*MemoryStore)(nil)

// MemoryStore is a concurrency-safe in-memory HistoryStore. History is lost
// on restart.
type MemoryStore struct {
	mu sync.RWMutex

	// sorted by timestamp, oldest first; equal stamps keep append order
	readings []domain.Reading
	alerts   []domain.AlertRecord
	closed   bool

	// maxHistory caps each list; <= 0 is unlimited.
	maxHistory int
}

// NewMemoryStore creates a new MemoryStore with an optional size cap.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{maxHistory: maxHistory}
}

// Append stores the entry at its timestamp position and enforces the size
// cap. Cycles may finish out of stamp order, so the tail is not always the
// newest.
func (s *MemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.readings = trim(insertByTime(s.readings, e.Reading, readingTime), s.maxHistory)
	if e.Alert != nil {
		s.alerts = trim(insertByTime(s.alerts, *e.Alert, alertTime), s.maxHistory)
	}
	return nil
}

// RecentReadings returns up to n readings, newest first.
func (s *MemoryStore) RecentReadings(_ context.Context, n int) ([]domain.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.readings, n), nil
}

// RecentAlerts returns up to n alerts, newest first.
func (s *MemoryStore) RecentAlerts(_ context.Context, n int) ([]domain.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.alerts, n), nil
}

// Prune drops entries stamped before the cutoff.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	var removed int64
	s.readings, removed = dropBefore(s.readings, before, readingTime)
	var n int64
	s.alerts, n = dropBefore(s.alerts, before, alertTime)
	return removed + n, nil
}

// Close marks the store closed. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func readingTime(r domain.Reading) time.Time { return r.Timestamp }
func alertTime(a domain.AlertRecord) time.Time { return a.Timestamp }

// insertByTime places x after every item stamped at or before it.
func insertByTime[T any](xs []T, x T, ts func(T) time.Time) []T {
	at := ts(x)
	i := sort.Search(len(xs), func(i int) bool { return ts(xs[i]).After(at) })
	xs = append(xs, x)
	copy(xs[i+1:], xs[i:])
	xs[i] = x
	return xs
}

func trim[T any](xs []T, limit int) []T {
	if limit > 0 && len(xs) > limit {
		over := len(xs) - limit
		return append(xs[:0:0], xs[over:]...)
	}
	return xs
}

func newestFirst[T any](xs []T, n int) []T {
	if n <= 0 || len(xs) == 0 {
		return []T{}
	}
	if n > len(xs) {
		n = len(xs)
	}
	out := make([]T, 0, n)
	for i := len(xs) - 1; i >= len(xs)-n; i-- {
		out = append(out, xs[i])
	}
	return out
}

// dropBefore keeps items at or after cutoff, preserving order.
func dropBefore[T any](xs []T, cutoff time.Time, ts func(T) time.Time) ([]T, int64) {
	kept := xs[:0]
	var removed int64
	for _, x := range xs {
		if ts(x).Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, x)
	}
	return kept, removed
}

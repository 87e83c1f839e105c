package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
)

func tempSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "history.db")
	s, err := NewSQLiteStore(context.Background(), path)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// eachStore runs fn against both implementations.
func eachStore(t *testing.T, fn func(t *testing.T, s HistoryStore)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore(0)) })
	t.Run("sqlite", func(t *testing.T) { fn(t, tempSQLite(t)) })
}

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func reading(i int) domain.Reading {
	return domain.Reading{
		Temperature: 2 + float64(i)/10,
		Humidity:    91,
		Timestamp:   base.Add(time.Duration(i) * 5 * time.Minute),
	}
}

func TestRecentReadings_NewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s HistoryStore) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if err := s.Append(ctx, Entry{Reading: reading(i)}); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		got, err := s.RecentReadings(ctx, 3)
		if err != nil {
			t.Fatalf("RecentReadings: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d readings, want 3", len(got))
		}
		for i, want := range []domain.Reading{reading(4), reading(3), reading(2)} {
			if got[i].Temperature != want.Temperature || !got[i].Timestamp.Equal(want.Timestamp) {
				t.Errorf("reading %d = %+v, want %+v", i, got[i], want)
			}
		}

		all, _ := s.RecentReadings(ctx, 100)
		if len(all) != 5 {
			t.Errorf("n larger than history: got %d", len(all))
		}
		none, _ := s.RecentReadings(ctx, 0)
		if none == nil || len(none) != 0 {
			t.Errorf("n=0 should give empty non-nil slice, got %v", none)
		}
	})
}

func TestAppend_ReadingAndAlertTogether(t *testing.T) {
	eachStore(t, func(t *testing.T, s HistoryStore) {
		ctx := context.Background()
		alert := domain.AlertRecord{Message: "Humidity 97.0% is out of the acceptable range (90.0%–95.0%).", Timestamp: base}

		if err := s.Append(ctx, Entry{Reading: reading(0), Alert: &alert}); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := s.Append(ctx, Entry{Reading: reading(1)}); err != nil {
			t.Fatalf("Append: %v", err)
		}

		readings, _ := s.RecentReadings(ctx, 10)
		alerts, _ := s.RecentAlerts(ctx, 10)
		if len(readings) != 2 || len(alerts) != 1 {
			t.Fatalf("got %d readings / %d alerts", len(readings), len(alerts))
		}
		if alerts[0].Message != alert.Message || !alerts[0].Timestamp.Equal(alert.Timestamp) {
			t.Errorf("alert = %+v", alerts[0])
		}
	})
}

func TestRecentAlerts_NewestFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, s HistoryStore) {
		ctx := context.Background()
		for i := 0; i < 12; i++ {
			a := domain.AlertRecord{Message: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Minute)}
			if err := s.Append(ctx, Entry{Reading: reading(i), Alert: &a}); err != nil {
				t.Fatal(err)
			}
		}
		got, err := s.RecentAlerts(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 10 || got[0].Message != "l" || got[9].Message != "c" {
			t.Errorf("unexpected order: first=%q last=%q len=%d", got[0].Message, got[len(got)-1].Message, len(got))
		}
	})
}

func TestAppend_OutOfOrderStamps(t *testing.T) {
	eachStore(t, func(t *testing.T, s HistoryStore) {
		ctx := context.Background()
		// a slow cycle stamped at 2 finishes after a quick one stamped at 3
		for _, i := range []int{0, 1, 3, 2, 4} {
			a := domain.AlertRecord{Message: string(rune('a' + i)), Timestamp: reading(i).Timestamp}
			if err := s.Append(ctx, Entry{Reading: reading(i), Alert: &a}); err != nil {
				t.Fatalf("Append(%d): %v", i, err)
			}
		}

		first, err := s.RecentReadings(ctx, 10)
		if err != nil {
			t.Fatalf("RecentReadings: %v", err)
		}
		second, _ := s.RecentReadings(ctx, 10)
		if len(first) != 5 || len(second) != len(first) {
			t.Fatalf("got %d then %d readings, want 5", len(first), len(second))
		}
		for i := range first {
			if !first[i].Timestamp.Equal(second[i].Timestamp) || first[i].Temperature != second[i].Temperature {
				t.Errorf("reading %d differs between calls: %+v vs %+v", i, first[i], second[i])
			}
			if i > 0 && !first[i].Timestamp.Before(first[i-1].Timestamp) {
				t.Errorf("reading %d at %s is not older than %s", i, first[i].Timestamp, first[i-1].Timestamp)
			}
		}
		if first[0].Temperature != reading(4).Temperature || first[2].Temperature != reading(2).Temperature {
			t.Errorf("readings = %+v", first)
		}

		latest, _ := s.RecentReadings(ctx, 1)
		if len(latest) != 1 || !latest[0].Timestamp.Equal(reading(4).Timestamp) {
			t.Errorf("latest = %+v, want the newest stamp", latest)
		}

		alerts, _ := s.RecentAlerts(ctx, 10)
		var order string
		for _, a := range alerts {
			order += a.Message
		}
		if order != "edcba" {
			t.Errorf("alert order = %q, want %q", order, "edcba")
		}
	})
}

func TestMemoryStore_MaxHistoryKeepsNewestStamps(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()
	for _, i := range []int{2, 3, 0} {
		_ = s.Append(ctx, Entry{Reading: reading(i)})
	}
	got, _ := s.RecentReadings(ctx, 10)
	if len(got) != 2 || got[0].Temperature != reading(3).Temperature || got[1].Temperature != reading(2).Temperature {
		t.Errorf("readings = %+v, want stamps 3 and 2", got)
	}
}

func TestPrune(t *testing.T) {
	eachStore(t, func(t *testing.T, s HistoryStore) {
		ctx := context.Background()
		for i := 0; i < 6; i++ {
			e := Entry{Reading: reading(i)}
			if i%2 == 0 {
				e.Alert = &domain.AlertRecord{Message: "x", Timestamp: reading(i).Timestamp}
			}
			if err := s.Append(ctx, e); err != nil {
				t.Fatal(err)
			}
		}

		// Cutoff at reading 3: drops readings 0-2 and alerts 0, 2.
		n, err := s.Prune(ctx, reading(3).Timestamp)
		if err != nil {
			t.Fatalf("Prune: %v", err)
		}
		if n != 5 {
			t.Errorf("pruned %d rows, want 5", n)
		}

		// Pruning again with the same cutoff is a no-op.
		n, err = s.Prune(ctx, reading(3).Timestamp)
		if err != nil || n != 0 {
			t.Errorf("second prune = %d, %v", n, err)
		}

		readings, _ := s.RecentReadings(ctx, 10)
		if len(readings) != 3 || !readings[2].Timestamp.Equal(reading(3).Timestamp) {
			t.Errorf("remaining readings = %+v", readings)
		}
		alerts, _ := s.RecentAlerts(ctx, 10)
		if len(alerts) != 1 {
			t.Errorf("remaining alerts = %+v", alerts)
		}
	})
}

func TestClose(t *testing.T) {
	eachStore(t, func(t *testing.T, s HistoryStore) {
		ctx := context.Background()
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if err := s.Append(ctx, Entry{Reading: reading(0)}); !errors.Is(err, ErrClosed) {
			t.Errorf("Append after close = %v", err)
		}
		if _, err := s.RecentReadings(ctx, 1); !errors.Is(err, ErrClosed) {
			t.Errorf("RecentReadings after close = %v", err)
		}
		if _, err := s.RecentAlerts(ctx, 1); !errors.Is(err, ErrClosed) {
			t.Errorf("RecentAlerts after close = %v", err)
		}
		if _, err := s.Prune(ctx, base); !errors.Is(err, ErrClosed) {
			t.Errorf("Prune after close = %v", err)
		}
	})
}

func TestMemoryStore_MaxHistory(t *testing.T) {
	s := NewMemoryStore(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		a := domain.AlertRecord{Message: "x", Timestamp: reading(i).Timestamp}
		_ = s.Append(ctx, Entry{Reading: reading(i), Alert: &a})
	}
	got, _ := s.RecentReadings(ctx, 10)
	if len(got) != 3 || got[2].Temperature != reading(2).Temperature {
		t.Errorf("readings = %+v", got)
	}
	alerts, _ := s.RecentAlerts(ctx, 10)
	if len(alerts) != 3 {
		t.Errorf("alerts len = %d", len(alerts))
	}
}

func TestSQLiteStore_CreatesDirAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Append(ctx, Entry{Reading: reading(7)}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	// Reopening must not re-run migrations or lose data.
	s, err = NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.RecentReadings(ctx, 1)
	if err != nil || len(got) != 1 || got[0].Temperature != reading(7).Temperature {
		t.Errorf("after reopen: %+v, %v", got, err)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	if err := s.Append(context.Background(), Entry{Reading: reading(0)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

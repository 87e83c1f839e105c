package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

var _ HistoryStore = (*SQLiteStore)(nil)

type migration struct {
	version int
	stmt    string
}

// Timestamps are stored as UTC unix nanoseconds so range deletes and ordering
// are plain integer comparisons.
var migrations = []migration{
	{1, `CREATE TABLE IF NOT EXISTS readings (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL    NOT NULL,
		humidity    REAL    NOT NULL,
		ts          INTEGER NOT NULL
	)`},
	{2, `CREATE INDEX IF NOT EXISTS idx_readings_ts ON readings(ts)`},
	{3, `CREATE TABLE IF NOT EXISTS alerts (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT    NOT NULL,
		ts      INTEGER NOT NULL
	)`},
	{4, `CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`},
}

// SQLiteStore implements HistoryStore backed by SQLite via modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLiteStore opens (or creates) the database at path, applies pragmas and
// runs pending migrations. The parent directory is created if missing. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL enables concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite requires SQL statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.tx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Append writes the reading and optional alert in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO readings (temperature, humidity, ts) VALUES (?, ?, ?)`,
			e.Reading.Temperature, e.Reading.Humidity, e.Reading.Timestamp.UTC().UnixNano(),
		); err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
		if e.Alert != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO alerts (message, ts) VALUES (?, ?)`,
				e.Alert.Message, e.Alert.Timestamp.UTC().UnixNano(),
			); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
		}
		return nil
	})
}

// RecentReadings returns up to n readings, newest first.
func (s *SQLiteStore) RecentReadings(ctx context.Context, n int) ([]domain.Reading, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	out := []domain.Reading{}
	if n <= 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT temperature, humidity, ts FROM readings ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r  domain.Reading
			ts int64
		)
		if err := rows.Scan(&r.Temperature, &r.Humidity, &ts); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentAlerts returns up to n alerts, newest first.
func (s *SQLiteStore) RecentAlerts(ctx context.Context, n int) ([]domain.AlertRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	out := []domain.AlertRecord{}
	if n <= 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message, ts FROM alerts ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a  domain.AlertRecord
			ts int64
		)
		if err := rows.Scan(&a.Message, &ts); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Prune deletes rows stamped before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	cutoff := before.UTC().UnixNano()

	var total int64
	err := s.tx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"readings", "alerts"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE ts < ?`, cutoff)
			if err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Close closes the underlying database connection. Later calls are no-ops.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// tx executes fn within a database transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *SQLiteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return ErrClosed
		}
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

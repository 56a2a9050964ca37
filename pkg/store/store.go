// Package store persists scan sessions, their findings and consent tokens in
// a single SQLite file.
//
// Writes go through one mutex so the database only ever sees a single
// writer; reads use the pool directly. A session's findings are staged in
// memory and committed in the same transaction that finalizes the session,
// so a crash can never leave a finished-looking session with missing rows.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/retry"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeFormat, s) }

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Store is the SQLite-backed scan and consent store.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
	busy   retry.Config

	// Recovered is the backup path when the file was found corrupt at open.
	Recovered string

	wmu    sync.Mutex
	stage  sync.Mutex
	staged map[string][]finding.Finding
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBusyRetry replaces the retry policy for locked-database writes.
func WithBusyRetry(cfg retry.Config) Option {
	return func(s *Store) { s.busy = cfg }
}

// Open opens or creates the database at path and applies migrations. A file
// that is not a valid database is renamed to <path>.corrupted.<timestamp>
// and replaced by an empty one.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
		busy: retry.Config{
			MaxAttempts: defaults.DBBusyAttempts,
			InitDelay:   duration.DBBusy,
			MaxDelay:    duration.DBBusy * defaults.DBBusyAttempts,
			Strategy:    retry.Linear,
		},
		staged: make(map[string][]finding.Finding),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.busy.Classifier = func(err error) retry.Class {
		if isBusy(err) {
			return retry.Transient
		}
		return retry.Permanent
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	db, err := openDB(ctx, path)
	if isCorrupt(err) {
		backup, berr := s.backupCorrupt()
		if berr != nil {
			return nil, fmt.Errorf("store: back up corrupt database: %w", berr)
		}
		s.logger.Warn("database corrupt, recreated empty store",
			slog.String("path", path),
			slog.String("backup", backup),
			slog.String("err", err.Error()),
		)
		s.Recovered = backup
		db, err = openDB(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", duration.DBBusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := checkIntegrity(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var res string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&res); err != nil {
		return fmt.Errorf("store: integrity check: %w", err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: %s", ErrCorrupt, res)
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("store: migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// backupCorrupt renames the database and drops its WAL sidecars.
func (s *Store) backupCorrupt() (string, error) {
	backup := fmt.Sprintf("%s.corrupted.%s", s.path, s.now().UTC().Format("20060102T150405"))
	if err := os.Rename(s.path, backup); err != nil {
		return "", err
	}
	for _, side := range []string{"-wal", "-shm"} {
		if err := os.Remove(s.path + side); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return backup, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// write runs fn in a transaction under the single-writer lock, retrying
// briefly while the database is locked.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	cfg := s.busy
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Debug("database busy, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
	}
	return retry.Do(ctx, cfg, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Package store is the durable local model of the remote data set.
//
// The database is embedded SQLite (ncruces/go-sqlite3, pure Go via wasm) in
// WAL mode with synchronous writes relaxed: everything stored here can be
// re-fetched from the remote service, so throughput wins over durability.
//
// Architecture:
//   - One *sql.DB limited to a single connection, guarded by one mutex.
//     Every operation takes the mutex, so callers on any goroutine may share
//     a Store.
//   - A busy/locked result from the engine is retried with a constant
//     backoff; any other engine error is returned wrapped.
//   - An advisory lock file beside the database keeps a second process from
//     opening the same store.
//   - Schema changes ship as goose migrations embedded in the binary.
//
// Writes are idempotent: users and lists are upserts, statuses are
// insert-once, and association rows (timelines, members, follow edges) are
// replace-on-conflict, so repeating a sync pass never duplicates rows.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/roost-app/roost/internal/schema"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a lookup by guid or name matches no row.
	ErrNotFound = errors.New("not found")

	// ErrIncompatibleSchema is returned by Open when the stored schema has a
	// different major version than this build understands.
	ErrIncompatibleSchema = errors.New("incompatible schema version")

	// ErrLocked is returned by Open when another process holds the store.
	ErrLocked = errors.New("store is locked by another process")
)

// Driver names accepted by WithDriver.
const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
)

// CurrentVersion is the schema version written by this build.
var CurrentVersion = schema.Version{Major: 1, Minor: 0}

const (
	defaultRetries    = 50
	defaultRetryDelay = 20 * time.Millisecond
)

// Store is the local relational store.
type Store struct {
	mu sync.Mutex

	db     *sql.DB
	path   string
	lock   *fileLock
	logger *zap.Logger

	retries    uint64
	retryDelay time.Duration
	driver     string
}

// Option configures Open.
type Option func(*Store)

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDriver selects the database/sql driver. DriverLibSQL is only
// registered in binaries built with the libsql tag.
func WithDriver(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.driver = name
		}
	}
}

// WithBusyRetry sets how often and how fast a busy or locked statement is
// retried before the error is returned.
func WithBusyRetry(attempts uint64, delay time.Duration) Option {
	return func(s *Store) {
		s.retries = attempts
		s.retryDelay = delay
	}
}

// Open opens (creating if needed) the store at path, applies pending
// migrations and checks the schema version.
//
// The caller MUST call Close() when done to release the lock file.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "roost.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string, opts ...Option) (*Store, error) {
	return OpenContext(context.Background(), path, opts...)
}

// OpenContext is Open with context support.
func OpenContext(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:       path,
		logger:     zap.NewNop(),
		retries:    defaultRetries,
		retryDelay: defaultRetryDelay,
		driver:     DriverSQLite,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}
	s.lock = lock

	if err := s.open(ctx); err != nil {
		_ = s.lock.release()
		return nil, err
	}

	s.logger.Debug("store opened", zap.String("path", path), zap.String("driver", s.driver))
	return s, nil
}

func (s *Store) open(ctx context.Context) error {
	conn, err := sql.Open(s.driver, dsn(s.driver, s.path))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = conn

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=OFF",
	} {
		if err := s.execPragma(ctx, pragma); err != nil {
			_ = conn.Close()
			return err
		}
	}

	if err := s.migrate(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	// One connection: the mutex is the only scheduler.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := s.CheckVersion(ctx); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

func (s *Store) execPragma(ctx context.Context, pragma string) error {
	var discard any
	err := s.retry(ctx, func(ctx context.Context) error {
		// journal_mode answers with a row; the others do not.
		err := s.db.QueryRowContext(ctx, pragma).Scan(&discard)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply %q: %w", pragma, err)
	}
	return nil
}

func dsn(driver, path string) string {
	if driver == DriverSQLite {
		// Applied to every connection database/sql opens.
		return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=synchronous(off)&_pragma=busy_timeout(1000)"
	}
	return "file:" + path
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied migration", zap.String("source", r.Source.Path), zap.Duration("took", r.Duration))
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL, closes the connection and releases the lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("failed to checkpoint WAL", zap.Error(err))
	}

	err := s.db.Close()
	s.db = nil
	if lerr := s.lock.release(); lerr != nil {
		s.logger.Warn("failed to release lock file", zap.Error(lerr))
	}
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// retry runs fn until it succeeds, fails with a non-transient error, or the
// retry budget is spent. Callers hold s.mu.
func (s *Store) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.retries, retry.NewConstant(s.retryDelay))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if isBusy(err) {
			attempt++
			s.logger.Debug("database busy, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED) {
		return true
	}
	// libsql reports engine codes as text only.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// exec runs a single statement under the store lock.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// tx runs fn inside a transaction under the store lock. The whole
// transaction is retried when the engine reports contention.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retry(ctx, func(ctx context.Context) error {
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

// queryRow scans a single row under the store lock, mapping sql.ErrNoRows
// to ErrNotFound.
func (s *Store) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.retry(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

// queryAll reads every row of query into an owned slice under the store
// lock.
func queryAll[T any](ctx context.Context, s *Store, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []T
	err := s.retry(ctx, func(ctx context.Context) error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, item)
		}
		return rows.Err()
	})
	return out, err
}

// each invokes fn for every item, checking ctx before each call. The store
// lock is not held, so fn may call back into the store.
func each[T any](ctx context.Context, items []T, fn func(T) error) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// GetVersion returns the stored schema version.
func (s *Store) GetVersion(ctx context.Context) (schema.Version, error) {
	var v schema.Version
	err := s.queryRow(ctx, `SELECT major, minor FROM version WHERE id = 1`, nil, &v.Major, &v.Minor)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return v, ErrNotFound
		}
		return v, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// SetVersion overwrites the stored schema version.
func (s *Store) SetVersion(ctx context.Context, v schema.Version) error {
	_, err := s.exec(ctx, `
	INSERT INTO version (id, major, minor) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET major = excluded.major, minor = excluded.minor
	`, v.Major, v.Minor)
	if err != nil {
		return fmt.Errorf("failed to set version: %w", err)
	}
	return nil
}

// CheckVersion compares the stored version with CurrentVersion.
// A fresh database is stamped with CurrentVersion; an older minor version is
// bumped; a different major version is ErrIncompatibleSchema.
func (s *Store) CheckVersion(ctx context.Context) error {
	stored, err := s.GetVersion(ctx)
	if errors.Is(err, ErrNotFound) {
		return s.SetVersion(ctx, CurrentVersion)
	}
	if err != nil {
		return err
	}

	have, want := stored.String(), CurrentVersion.String()
	if semver.Major(have) != semver.Major(want) {
		return fmt.Errorf("%w: database is %s, roost supports %s", ErrIncompatibleSchema, have, want)
	}
	if semver.Compare(have, want) < 0 {
		s.logger.Info("upgrading schema version", zap.String("from", have), zap.String("to", want))
		return s.SetVersion(ctx, CurrentVersion)
	}
	return nil
}

// Counts is a row count summary of the store.
type Counts struct {
	Users       int `json:"users" yaml:"users"`
	Statuses    int `json:"statuses" yaml:"statuses"`
	Timeline    int `json:"timeline" yaml:"timeline"`
	Follows     int `json:"follows" yaml:"follows"`
	Lists       int `json:"lists" yaml:"lists"`
	ListMembers int `json:"list_members" yaml:"list_members"`
	Checkpoints int `json:"checkpoints" yaml:"checkpoints"`
}

// Counts returns row counts for every table.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.queryRow(ctx, `
	SELECT
		(SELECT COUNT(*) FROM user),
		(SELECT COUNT(*) FROM status),
		(SELECT COUNT(*) FROM timeline),
		(SELECT COUNT(*) FROM follower),
		(SELECT COUNT(*) FROM list),
		(SELECT COUNT(*) FROM list_member),
		(SELECT COUNT(*) FROM last_sync)
	`, nil, &c.Users, &c.Statuses, &c.Timeline, &c.Follows, &c.Lists, &c.ListMembers, &c.Checkpoints)
	if err != nil {
		return c, fmt.Errorf("failed to count rows: %w", err)
	}
	return c, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/relaymill/conveyor/backoff"
	"github.com/relaymill/conveyor/store"
)

var _ store.Store = (*Store)(nil)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is a SQLite implementation of store.Store backed by database/sql
// and the CGO-free modernc driver. A single file (or :memory:) holds the
// whole queue, which makes it the right backend for tooling and tests.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	backoff backoff.Strategy
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Store) {
		s.backoff = b
	}
}

// Open opens (creating if needed) the SQLite database at path and returns
// a connected Store. WAL mode and a busy timeout are applied so concurrent
// workers in one process do not trip over SQLITE_BUSY.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: open %s: %w", path, err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// lock contention between pooled connections entirely.
	db.SetMaxOpenConns(1)

	return NewFromDB(db, opts...), nil
}

// NewFromDB wraps an existing *sql.DB. The caller owns the db lifecycle
// unless Close is used.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		logger:  slog.Default(),
		backoff: backoff.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate applies any pending schema migrations. Applied versions are
// tracked in conveyor_migrations, so repeated calls are no-ops.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conveyor_migrations (
			version    TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("conveyor/sqlite: create migrations table: %w", err)
	}

	entries, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: list migrations: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		version := strings.TrimSuffix(strings.TrimPrefix(name, "migrations/"), ".sql")

		var applied bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_migrations WHERE version = ?)`,
			version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("conveyor/sqlite: check migration %s: %w", version, err)
		}
		if applied {
			continue
		}

		ddl, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("conveyor/sqlite: read migration %s: %w", version, err)
		}
		if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
			return fmt.Errorf("conveyor/sqlite: apply migration %s: %w", version, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO conveyor_migrations (version, applied_at) VALUES (?, ?)`,
			version, nowMillis(),
		); err != nil {
			return fmt.Errorf("conveyor/sqlite: record migration %s: %w", version, err)
		}
		s.logger.Debug("applied migration", "version", version)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports whether err is a unique constraint failure on
// the given column. The modernc driver surfaces constraint info only in
// the error text.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return column == "" || strings.Contains(msg, column)
}

/*
Package sqlstore provides a database/sql implementation of billing.Store for
SQLite and PostgreSQL.

PURPOSE:
  Persists products, customers, invoices, payments, the customer ledger and
  the invoice sequence counters. Every engine operation runs inside one
  database transaction; nothing is written outside WithTx.

DIALECTS:
  sqlite3:  mattn/go-sqlite3. Write transactions start with BEGIN IMMEDIATE
            (_txlock=immediate), so the transaction holds the database write
            lock from the start and the engine's lock order is trivially
            respected. Lock waits are bounded by _busy_timeout.
  postgres: lib/pq. Lock* methods use SELECT ... FOR UPDATE in the engine's
            lock order; waits are bounded by SET LOCAL lock_timeout.

BOUNDED ACQUISITION:
  A transaction first acquires a pooled connection under LockTimeout. A pool
  that stays exhausted past the timeout fails with ErrContention instead of
  queuing forever.

ERROR MAPPING:
  Driver errors are classified in errors.go:
  - busy, locked, lock_not_available, deadlock, timeout -> ErrContention
  - unique violations                                   -> ErrDuplicate
  - anything else                                       -> ErrStorage

MONEY:
  decimal.Decimal implements sql.Scanner and driver.Valuer. SQLite stores
  the decimal string in TEXT columns; PostgreSQL uses NUMERIC.

MIGRATION:
  Schemas are versioned with golang-migrate; see migrate.go.

SEE ALSO:
  - billing/store.go: the Store and Tx ports
  - billing/store/memory.go: in-memory implementation for tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/billing"
)

// DefaultLockTimeout bounds connection acquisition and row-lock waits.
const DefaultLockTimeout = 5 * time.Second

// Config configures Open.
type Config struct {
	Driver          string // sqlite3 | postgres
	DSN             string
	LockTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements billing.Store on database/sql.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	dsn         string
	lockTimeout time.Duration
	log         *zap.Logger
}

// Open connects to the configured database and verifies the connection.
// Migrations are not applied; see NewMigrator.
func Open(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := dialect.dsn(cfg.DSN)
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch dialect {
	case SQLite:
		// One writer at a time; a single connection also keeps a
		// :memory: database alive for the life of the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := New(db, dialect, cfg.LockTimeout, log)
	s.dsn = dsn
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect, lockTimeout time.Duration, log *zap.Logger) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, dialect: dialect, lockTimeout: lockTimeout, log: log}
}

// DB exposes the pool for migrations and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.db.PingContext(ctx))
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	return s.run(ctx, nil, fn)
}

// View executes fn within a read-only transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(billing.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(billing.Tx) error) error {
	readOnly := opts != nil && opts.ReadOnly

	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sqlTx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin", err)
	}
	defer sqlTx.Rollback()

	if stmt := s.dialect.lockTimeoutStmt(s.lockTimeout); stmt != "" {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return classify("begin", err)
		}
	}

	if err := fn(&txStore{tx: sqlTx, d: s.dialect}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		s.log.Error("commit failed", zap.Error(err))
		return classify("commit", err)
	}
	return nil
}

// acquire takes a pooled connection, waiting at most lockTimeout.
func (s *Store) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	conn, err := s.db.Conn(acquireCtx)
	if err == nil {
		return conn, nil
	}
	// The caller's own cancellation is not contention.
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, billing.NewStorageError("acquire", ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("connection pool exhausted", zap.Duration("timeout", s.lockTimeout))
		return nil, billing.NewContentionError("acquire", err)
	}
	return nil, classify("acquire", err)
}

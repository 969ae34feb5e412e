package sqlstore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var migrationFS embed.FS

// Migrator applies the embedded, per-dialect schema migrations.
type Migrator struct {
	store  *Store
	logger *zap.Logger
}

// NewMigrator creates a Migrator for the store's dialect.
func NewMigrator(s *Store, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{store: s, logger: logger.Named("migrate")}
}

// open builds a migrate instance. PostgreSQL migrations run on a dedicated
// pool because the postgres driver pins a connection and closes its *sql.DB
// on Close; SQLite shares the store pool so :memory: databases work.
func (m *Migrator) open() (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationFS, "migrations/"+string(m.store.dialect))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	var (
		driver  database.Driver
		cleanup = func() {}
	)
	switch m.store.dialect {
	case Postgres:
		db := m.store.db
		if m.store.dsn != "" {
			if db, err = sql.Open(Postgres.DriverName(), m.store.dsn); err != nil {
				return nil, nil, fmt.Errorf("failed to open migration connection: %w", err)
			}
		}
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		driver, err = migratesqlite.WithInstance(m.store.db, &migratesqlite.Config{})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s driver: %w", m.store.dialect, err)
	}

	mg, err := migrate.NewWithInstance("iofs", src, string(m.store.dialect), driver)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if m.store.dialect == Postgres && m.store.dsn != "" {
		cleanup = func() { mg.Close() }
	}
	return mg, cleanup, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up() error {
	mg, cleanup, err := m.open()
	if err != nil {
		return err
	}
	defer cleanup()

	m.logger.Info("Running migrations up", zap.String("dialect", string(m.store.dialect)))
	err = mg.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	m.logger.Info("Migrations completed", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Down rolls back all migrations.
func (m *Migrator) Down() error {
	mg, cleanup, err := m.open()
	if err != nil {
		return err
	}
	defer cleanup()

	m.logger.Info("Running migrations down")
	err = mg.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	m.logger.Info("All migrations rolled back")
	return nil
}

// Version returns the current schema version; 0 when nothing is applied.
func (m *Migrator) Version() (uint, bool, error) {
	mg, cleanup, err := m.open()
	if err != nil {
		return 0, false, err
	}
	defer cleanup()

	version, dirty, err := mg.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

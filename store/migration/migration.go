package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/luminetic/ensemble/config"
	"github.com/luminetic/ensemble/types"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// Source returns the embedded migration source for a store driver.
func Source(driver string) (source.Driver, error) {
	switch driver {
	case "postgres":
		return iofs.New(postgresFS, "migrations/postgres")
	case "mysql":
		return iofs.New(mysqlFS, "migrations/mysql")
	case "sqlite":
		return iofs.New(sqliteFS, "migrations/sqlite")
	default:
		return nil, types.NewValidationError(fmt.Sprintf("no migrations for store driver %q", driver))
	}
}

// Migrator applies the embedded migrations to the database selected by a
// store configuration.
type Migrator struct {
	db     *sql.DB
	m      *migrate.Migrate
	logger *zap.Logger
}

// New connects to the configured server database and prepares a migrator
// over it. SQLite and memory drivers are rejected: their schema is owned by
// the store's auto-migration.
func New(cfg config.StoreConfig, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "migration"))

	db, drv, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	src, err := Source(cfg.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.Driver, drv)
	if err != nil {
		_ = db.Close()
		return nil, types.NewError(types.ErrStore, "build migrator").WithOp("migration.New").WithCause(err)
	}

	logger.Info("migration target connected", zap.String("driver", cfg.Driver))
	return &Migrator{db: db, m: m, logger: logger}, nil
}

func openDatabase(cfg config.StoreConfig) (*sql.DB, database.Driver, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.DSN())
	case "mysql":
		// multiStatements lets one migration file carry several statements.
		db, err = sql.Open("mysql", cfg.DSN()+"&multiStatements=true")
	case "sqlite", "memory", "":
		return nil, nil, types.NewValidationError(
			fmt.Sprintf("store driver %q migrates through the store's auto-migration", cfg.Driver))
	default:
		return nil, nil, types.NewValidationError(fmt.Sprintf("unsupported store driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, nil, types.NewError(types.ErrStore, "open database").WithOp("migration.New").WithCause(err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, types.NewError(types.ErrUnavailable, "ping database").WithOp("migration.New").WithCause(err)
	}

	var drv database.Driver
	switch cfg.Driver {
	case "postgres":
		drv, err = postgres.WithInstance(db, &postgres.Config{})
	case "mysql":
		drv, err = mysql.WithInstance(db, &mysql.Config{})
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, types.NewError(types.ErrStore, "prepare migration driver").WithOp("migration.New").WithCause(err)
	}
	return db, drv, nil
}

// Up applies every pending migration. An already-current schema is not an
// error.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return types.NewError(types.ErrStore, "apply migrations").WithOp("migration.Up").WithCause(err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down() error {
	if err := m.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return types.NewError(types.ErrStore, "roll back migration").WithOp("migration.Down").WithCause(err)
	}
	return nil
}

// Version reports the current schema version. A database with no applied
// migrations reports version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, types.NewError(types.ErrStore, "read schema version").WithOp("migration.Version").WithCause(err)
	}
	return version, dirty, nil
}

// Close releases the migration source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr, m.db.Close())
}

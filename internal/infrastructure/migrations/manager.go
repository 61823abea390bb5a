// Package migrations applies the schema under migrations/*.sql with
// goose, exposing only the up/down/status/version surface cmd/migrate
// needs to bring a deployment's database in line with the lifecycle
// schema.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Status describes one migration's applied state.
type Status struct {
	VersionID int64     `json:"version_id"`
	IsApplied bool      `json:"is_applied"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager runs goose migrations against a single *sql.DB connection.
type Manager struct {
	config *Config
	db     *sql.DB
	logger *slog.Logger
}

// NewManager opens the database connection the migration runner needs.
func NewManager(config *Config) (*Manager, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	return &Manager{config: config, db: db, logger: logger}, nil
}

// Connect verifies the database connection is reachable.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m.logger.Info("connected to database for migrations",
		"driver", m.config.Driver,
		"dialect", m.config.Dialect)
	return nil
}

// Disconnect closes the database connection.
func (m *Manager) Disconnect(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	m.logger.Info("disconnected from database")
	return nil
}

// Up applies every pending migration.
func (m *Manager) Up(ctx context.Context) error {
	start := time.Now()
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return err
	}
	if err := goose.Up(m.db, m.config.Dir); err != nil {
		m.logger.Error("migration up failed", "error", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	m.logger.Info("migrations applied", "duration", time.Since(start))
	return nil
}

// UpTo applies migrations up to the given version.
func (m *Manager) UpTo(ctx context.Context, version int64) error {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return err
	}
	if err := goose.UpTo(m.db, m.config.Dir, version); err != nil {
		m.logger.Error("migration up to version failed", "version", version, "error", err)
		return fmt.Errorf("failed to apply migrations up to version %d: %w", version, err)
	}
	m.logger.Info("migrations applied up to version", "version", version)
	return nil
}

// Down rolls back every migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return err
	}
	if err := goose.Reset(m.db, m.config.Dir); err != nil {
		m.logger.Error("migration down failed", "error", err)
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	m.logger.Info("all migrations rolled back")
	return nil
}

// DownTo rolls back migrations down to the given version.
func (m *Manager) DownTo(ctx context.Context, version int64) error {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return err
	}
	if err := goose.DownTo(m.db, m.config.Dir, version); err != nil {
		m.logger.Error("migration down to version failed", "version", version, "error", err)
		return fmt.Errorf("failed to rollback migrations to version %d: %w", version, err)
	}
	m.logger.Info("migrations rolled back to version", "version", version)
	return nil
}

// Status reports the current migration version and whether the
// schema is fully up to date.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return nil, err
	}
	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	return &Status{VersionID: version, IsApplied: version > 0, Timestamp: time.Now()}, nil
}

// Version returns the current migration version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	if err := goose.SetDialect(m.config.Dialect); err != nil {
		return 0, err
	}
	version, err := goose.GetDBVersion(m.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}

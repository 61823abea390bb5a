package migrations

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Config holds the settings the goose-based schema runner needs to
// apply migrations/*.sql (currently just the single lifecycle_core
// table pair) against the configured database.
type Config struct {
	Driver  string
	DSN     string
	Dialect string

	Dir   string
	Table string

	Timeout time.Duration

	Logger *slog.Logger
}

// LoadConfig loads Config from MIGRATION_* environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		Driver:  getEnvString("MIGRATION_DRIVER", "pgx"),
		DSN:     getEnvString("MIGRATION_DSN", ""),
		Dialect: getEnvString("MIGRATION_DIALECT", "postgres"),
		Dir:     getEnvString("MIGRATION_DIR", "migrations"),
		Table:   getEnvString("MIGRATION_TABLE", "goose_db_version"),
		Timeout: getEnvDuration("MIGRATION_TIMEOUT", 5*time.Minute),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration configuration: %w", err)
	}
	return config, nil
}

// Validate checks the configuration is well-formed.
func (c *Config) Validate() error {
	if c.Driver == "" {
		return fmt.Errorf("database driver cannot be empty")
	}
	if c.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.Dir == "" {
		return fmt.Errorf("migration directory cannot be empty")
	}
	if c.Table == "" {
		return fmt.Errorf("migration table name cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Stats is a point-in-time snapshot of Pool's counters, surfaced
// through Pool.Stats for the health endpoint and tests.
type Stats struct {
	TotalConns      int32
	AcquiredConns   int32
	IdleConns       int32
	TotalQueries    int64
	QueryErrors     int64
	ConnectionErrors int64
}

// Pool is a pgxpool-backed connection pool with startup retry and a
// liveness check, sized for the key/value and append-log tables the
// lifecycle Store reads and writes against.
type Pool struct {
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger

	totalQueries     atomic.Int64
	queryErrors      atomic.Int64
	connectionErrors atomic.Int64

	closed atomic.Bool
}

// NewPool constructs a Pool. Connect must be called before use.
func NewPool(config *Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{config: config, logger: logger}
}

// Connect validates the configuration and dials Postgres, retrying
// transient failures (the database container frequently isn't
// accepting connections yet when the service starts) with exponential
// backoff before giving up.
func (p *Pool) Connect(ctx context.Context) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}
	if err := p.config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p.logger.Info("connecting to postgres",
		"host", p.config.Host, "port", p.config.Port, "database", p.config.Database,
		"max_conns", p.config.MaxConns, "min_conns", p.config.MinConns)

	poolConfig, err := pgxpool.ParseConfig(p.config.DSN())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	poolConfig.MaxConns = p.config.MaxConns
	poolConfig.MinConns = p.config.MinConns
	poolConfig.MaxConnLifetime = p.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.config.HealthCheckPeriod

	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	pool, err := p.connectWithRetry(connectCtx, poolConfig)
	if err != nil {
		p.connectionErrors.Add(1)
		return err
	}

	p.pool = pool
	p.logger.Info("connected to postgres")
	return nil
}

// connectWithRetry dials and pings the pool, backing off between
// attempts on the retryable error codes in errors.go. 5 attempts with
// a 2x backoff starting at 100ms covers a container that takes a few
// seconds to start accepting connections without hanging past
// ConnectTimeout.
func (p *Pool) connectWithRetry(ctx context.Context, poolConfig *pgxpool.Config) (*pgxpool.Pool, error) {
	const maxAttempts = 5
	delay := 100 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				return pool, nil
			} else {
				pool.Close()
				err = pingErr
			}
		}
		lastErr = err

		if attempt == maxAttempts || !isRetryable(err) {
			break
		}
		p.logger.Warn("postgres connect attempt failed, retrying", "attempt", attempt, "error", err)

		jittered := delay + time.Duration(rand.Float64()*float64(delay)*0.1)
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, lastErr)
}

// Close shuts down the pool.
func (p *Pool) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	p.closed.Store(true)
	return nil
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if p.pool == nil {
		return pgconn.CommandTag{}, ErrNotConnected
	}
	tag, err := p.pool.Exec(ctx, sql, args...)
	p.record(err)
	return tag, err
}

func (p *Pool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	p.record(err)
	return rows, err
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if p.pool == nil {
		return &errorRow{err: ErrNotConnected}
	}
	p.totalQueries.Add(1)
	return p.pool.QueryRow(ctx, sql, args...)
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.queryErrors.Add(1)
		return nil, err
	}
	return tx, nil
}

func (p *Pool) record(err error) {
	p.totalQueries.Add(1)
	if err != nil {
		p.queryErrors.Add(1)
	}
}

// Health runs a liveness query against the pool, used by the service's
// /healthz handler.
func (p *Pool) Health(ctx context.Context) error {
	if p.closed.Load() {
		return ErrConnectionClosed
	}
	if p.pool == nil {
		return ErrNotConnected
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := p.pool.QueryRow(checkCtx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("%w: %v", ErrHealthCheckFailed, err)
	}
	if result != 1 {
		return ErrHealthCheckFailed
	}
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		TotalQueries:     p.totalQueries.Load(),
		QueryErrors:      p.queryErrors.Load(),
		ConnectionErrors: p.connectionErrors.Load(),
	}
	if p.pool != nil {
		stat := p.pool.Stat()
		s.TotalConns = stat.TotalConns()
		s.AcquiredConns = stat.AcquiredConns()
		s.IdleConns = stat.IdleConns()
	}
	return s
}

type errorRow struct{ err error }

func (r *errorRow) Scan(dest ...interface{}) error { return r.err }

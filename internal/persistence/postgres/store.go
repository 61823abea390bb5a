// Package postgres implements platform.Persistence on a pgxpool-backed
// Pool: one key/value table and one append-only log table, both
// namespaced, back every core collaborator that needs durable storage.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/modulecore/lifecycle/internal/platform"
)

// querier is the subset of pgx's Exec/Query/QueryRow surface the store
// needs, satisfied by both *Pool and the *pgx.Tx handle used while a
// Txn block is in flight.
type querier interface {
	Exec(ctx context.Context, sql string, args...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args...interface{}) pgx.Row
}

// Schema is the same DDL as migrations/00001_lifecycle_core.sql, which
// the goose migration runner (cmd/migrate) applies; cmd/server also
// executes Schema itself at startup. One key/value table and one append-only
// log table serve every namespace the platform.Persistence contract
// names — Registry, Orchestrator, Tenant Configuration, Operation
// Engine, Migration Manager, Rollback Engine, Validator, and Security
// all share this schema, distinguished only by the namespace column.
const Schema = `
CREATE TABLE IF NOT EXISTS lifecycle_kv (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS lifecycle_log (
	id BIGSERIAL PRIMARY KEY,
	namespace TEXT NOT NULL,
	entry BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS lifecycle_log_namespace_idx ON lifecycle_log (namespace, id);
`

// Store implements platform.Persistence on top of a connected *Pool.
type Store struct {
	pool *Pool
}

// New wraps an already-connected pool. Callers make sure the tables
// exist first, either by executing Schema (as cmd/server does) or by
// running cmd/migrate.
func New(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Health delegates to the underlying pool's liveness check, so callers
// holding a platform.Persistence can type-assert for health reporting
// without depending on this package directly.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Health(ctx)
}

type txKey struct{}

// conn returns the active transaction's connection when ctx carries
// one (set by Txn), otherwise the pool itself. Every other method
// routes through this so a block passed to Txn gets atomic behavior
// without needing its own Persistence handle threaded through.
func (s *Store) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := s.conn(ctx).QueryRow(ctx, `SELECT value FROM lifecycle_kv WHERE namespace = $1 AND key = $2`, namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence get %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO lifecycle_kv (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("persistence put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM lifecycle_kv WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return fmt.Errorf("persistence delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

type rowIterator struct {
	rows pgx.Rows
}

func (it *rowIterator) Next(ctx context.Context) (platform.Entry, bool, error) {
	if !it.rows.Next() {
		return platform.Entry{}, false, it.rows.Err()
	}
	var e platform.Entry
	if err := it.rows.Scan(&e.Key, &e.Value); err != nil {
		return platform.Entry{}, false, err
	}
	return e, true, nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return nil
}

func (s *Store) List(ctx context.Context, namespace, prefix string) (platform.Iterator, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT key, value FROM lifecycle_kv
		WHERE namespace = $1 AND key LIKE $2
		ORDER BY key
	`, namespace, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("persistence list %s/%s*: %w", namespace, prefix, err)
	}
	return &rowIterator{rows: rows}, nil
}

func (s *Store) AppendLog(ctx context.Context, namespace string, entry []byte) error {
	_, err := s.conn(ctx).Exec(ctx, `INSERT INTO lifecycle_log (namespace, entry) VALUES ($1, $2)`, namespace, entry)
	if err != nil {
		return fmt.Errorf("persistence append-log %s: %w", namespace, err)
	}
	return nil
}

// Txn runs block against a real pgx transaction. Every Get/Put/Delete/
// List/AppendLog call block makes against this same Store during the
// call routes through the transaction via the context key set here,
// matching the atomic hash-chained version commit the Tenant
// Configuration Manager relies on.
func (s *Store) Txn(ctx context.Context, block func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("persistence txn begin: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := block(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("persistence txn rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("persistence txn commit: %w", err)
	}
	return nil
}

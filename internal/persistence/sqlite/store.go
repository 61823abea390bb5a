// Package sqlite implements platform.Persistence on top of
// modernc.org/sqlite's pure-Go database/sql driver, for single-node
// deployments that don't want a Postgres dependency.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/modulecore/lifecycle/internal/platform"
)

// Schema mirrors the postgres adapter's table shape; SQLite's dynamic
// typing lets the same DDL serve every namespace without per-module
// migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS lifecycle_kv (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS lifecycle_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace  TEXT NOT NULL,
	entry      BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS lifecycle_log_namespace_idx ON lifecycle_log (namespace, id);
`

// Store implements platform.Persistence on top of database/sql with
// the modernc.org/sqlite driver.
type Store struct {
	db *sql.DB
}

// Open connects to the sqlite file at path (or ":memory:") and applies
// Schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func (s *Store) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	var value []byte
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT value FROM lifecycle_kv WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persistence get %s/%s: %w", namespace, key, err)
	}
	return value, true, nil
}

func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO lifecycle_kv (namespace, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, value)
	if err != nil {
		return fmt.Errorf("persistence put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM lifecycle_kv WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("persistence delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

type rowIterator struct {
	rows *sql.Rows
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

func (it *rowIterator) Close() error { return it.rows.Close() }

func (s *Store) List(ctx context.Context, namespace, prefix string) (platform.Iterator, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT key, value FROM lifecycle_kv
		WHERE namespace = ? AND key LIKE ? ESCAPE '\'
		ORDER BY key
	`, namespace, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("persistence list %s/%s*: %w", namespace, prefix, err)
	}
	return &rowIterator{rows: rows}, nil
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			r = append(r, '\\')
		}
		r = append(r, s[i])
	}
	return string(r)
}

func (s *Store) AppendLog(ctx context.Context, namespace string, entry []byte) error {
	_, err := s.conn(ctx).ExecContext(ctx, `INSERT INTO lifecycle_log (namespace, entry) VALUES (?, ?)`, namespace, entry)
	if err != nil {
		return fmt.Errorf("persistence append-log %s: %w", namespace, err)
	}
	return nil
}

func (s *Store) Txn(ctx context.Context, block func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence txn begin: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := block(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("persistence txn rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence txn commit: %w", err)
	}
	return nil
}

// Package postgres provides a PostgreSQL-backed ledger.TxStore.
//
// The layout matches store/sqlite: one kv table with BYTEA keys, whose
// default byte-wise ordering gives prefix scans in key order. Transactions
// run at SERIALIZABLE isolation; a serialization failure or deadlock is
// reported as ledger.ErrConcurrentModification and WithTx re-runs the
// whole function, so callers observe the same retry contract as the
// in-memory store.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/travel-ledger/ledger"
)

// DefaultMaxRetries bounds how often WithTx re-runs a transaction after a
// serialization failure.
const DefaultMaxRetries = 16

// DB is satisfied by both the pool and a transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool

	MaxRetries int
}

// NewStore wraps pool and creates the kv table if it is missing.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	const op = "postgres.NewStore"

	_, err := pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS kv (
		key   BYTEA PRIMARY KEY,
		value BYTEA NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	return &Store{pool: pool, MaxRetries: DefaultMaxRetries}, nil
}

// Reset empties the table. Used by tests sharing one database.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE kv`); err != nil {
		return fmt.Errorf("postgres.Store.Reset:%w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key ledger.Key) ([]byte, error) {
	return handle{s.pool}.Get(ctx, key)
}

func (s *Store) Put(ctx context.Context, key ledger.Key, value []byte) error {
	return handle{s.pool}.Put(ctx, key, value)
}

func (s *Store) Delete(ctx context.Context, key ledger.Key) error {
	return handle{s.pool}.Delete(ctx, key)
}

func (s *Store) Scan(ctx context.Context, prefix ledger.Key) ([]ledger.KV, error) {
	return handle{s.pool}.Scan(ctx, prefix)
}

// WithTx runs fn in a SERIALIZABLE transaction, re-running it while the
// commit loses to a concurrent transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	var err error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if err = s.runTx(ctx, fn); !ledger.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ledger.Store) error) error {
	const op = "postgres.Store.WithTx"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer tx.Rollback(ctx)

	if err := fn(handle{tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit: %w", op, translateDBErr(err))
	}

	return nil
}

// handle implements ledger.Store over a pool or a transaction.
type handle struct {
	db DB
}

func (h handle) Get(ctx context.Context, key ledger.Key) ([]byte, error) {
	var value []byte
	err := h.db.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, []byte(key)).Scan(&value)
	if err != nil {
		err = translateDBErr(err)
		if err == ledger.ErrKeyNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("postgres.Store.Get:%w", err)
	}
	return value, nil
}

func (h handle) Put(ctx context.Context, key ledger.Key, value []byte) error {
	_, err := h.db.Exec(ctx, `
	INSERT INTO kv (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		[]byte(key), value)
	if err != nil {
		return fmt.Errorf("postgres.Store.Put:%w", translateDBErr(err))
	}
	return nil
}

func (h handle) Delete(ctx context.Context, key ledger.Key) error {
	if _, err := h.db.Exec(ctx, `DELETE FROM kv WHERE key = $1`, []byte(key)); err != nil {
		return fmt.Errorf("postgres.Store.Delete:%w", translateDBErr(err))
	}
	return nil
}

func (h handle) Scan(ctx context.Context, prefix ledger.Key) ([]ledger.KV, error) {
	const op = "postgres.Store.Scan"

	var (
		rows pgx.Rows
		err  error
	)
	if end, ok := ledger.PrefixEnd(prefix); ok {
		rows, err = h.db.Query(ctx,
			`SELECT key, value FROM kv WHERE key >= $1 AND key < $2 ORDER BY key`,
			[]byte(prefix), []byte(end))
	} else {
		rows, err = h.db.Query(ctx,
			`SELECT key, value FROM kv WHERE key >= $1 ORDER BY key`, []byte(prefix))
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}
	defer rows.Close()

	var out []ledger.KV
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		out = append(out, ledger.KV{Key: ledger.Key(k), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}
	return out, nil
}

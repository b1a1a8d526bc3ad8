/*
Package sqlite provides a SQLite-backed ledger.TxStore.

PURPOSE:
  Persists the booking ledger in a single SQLite file. Every record lives in
  one key-value table; keys are the binary composite keys of package ledger,
  values are the CBOR documents written by the booking engine.

KEY TABLE:
  kv: key BLOB PRIMARY KEY, value BLOB NOT NULL (WITHOUT ROWID)

  BLOB keys compare with memcmp, so ORDER BY key matches the byte order the
  Store contract promises and a prefix scan is the range
  [prefix, ledger.PrefixEnd(prefix)).

CONCURRENCY:
  SQLite allows one writer at a time. WithTx and the plain writes hold a
  process-wide mutex so in-process writers queue instead of failing with
  SQLITE_BUSY. A busy or locked error from another process is reported as
  ledger.ErrConcurrentModification and the transaction is retried.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := booking.New(store)

SEE ALSO:
  - ledger/store.go: Store and TxStore contracts
  - ledger/store/memory.go: in-memory implementation
  - store/postgres: the same table on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/travel-ledger/ledger"
)

// DefaultMaxRetries bounds how often WithTx re-runs a transaction that hit a
// lock held by another connection.
const DefaultMaxRetries = 8

// Store implements ledger.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	MaxRetries int
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for a private in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an open database handle and migrates it.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db, MaxRetries: DefaultMaxRetries}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS kv (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL
	) WITHOUT ROWID`)
	return err
}

// =============================================================================
// STORE (ledger.Store interface)
// =============================================================================

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, key ledger.Key) ([]byte, error) {
	return get(ctx, s.db, key)
}

func (s *Store) Put(ctx context.Context, key ledger.Key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(ctx, s.db, key, value)
}

func (s *Store) Delete(ctx context.Context, key ledger.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return del(ctx, s.db, key)
}

func (s *Store) Scan(ctx context.Context, prefix ledger.Key) ([]ledger.KV, error) {
	return scan(ctx, s.db, prefix)
}

func get(ctx context.Context, c conn, key ledger.Key) ([]byte, error) {
	var value []byte
	err := c.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, []byte(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.Get: %w", mapError(err))
	}
	return value, nil
}

func put(ctx context.Context, c conn, key ledger.Key, value []byte) error {
	_, err := c.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		[]byte(key), value)
	if err != nil {
		return fmt.Errorf("sqlite.Store.Put: %w", mapError(err))
	}
	return nil
}

func del(ctx context.Context, c conn, key ledger.Key) error {
	if _, err := c.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, []byte(key)); err != nil {
		return fmt.Errorf("sqlite.Store.Delete: %w", mapError(err))
	}
	return nil
}

func scan(ctx context.Context, c conn, prefix ledger.Key) ([]ledger.KV, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if end, ok := ledger.PrefixEnd(prefix); ok {
		rows, err = c.QueryContext(ctx,
			`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
			[]byte(prefix), []byte(end))
	} else {
		rows, err = c.QueryContext(ctx,
			`SELECT key, value FROM kv WHERE key >= ? ORDER BY key`, []byte(prefix))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.Scan: %w", mapError(err))
	}
	defer rows.Close()

	var out []ledger.KV
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("sqlite.Store.Scan: %w", err)
		}
		out = append(out, ledger.KV{Key: ledger.Key(k), Value: v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.Store.Scan: %w", mapError(err))
	}
	return out, nil
}

// mapError turns lock contention into ledger.ErrConcurrentModification.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction, retrying it while
// another connection holds the write lock.
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
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, key ledger.Key) ([]byte, error) {
	return get(ctx, ts.tx, key)
}

func (ts *txStore) Put(ctx context.Context, key ledger.Key, value []byte) error {
	return put(ctx, ts.tx, key, value)
}

func (ts *txStore) Delete(ctx context.Context, key ledger.Key) error {
	return del(ctx, ts.tx, key)
}

func (ts *txStore) Scan(ctx context.Context, prefix ledger.Key) ([]ledger.KV, error) {
	return scan(ctx, ts.tx, prefix)
}

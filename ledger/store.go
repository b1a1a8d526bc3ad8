/*
store.go - Persistence interface for ledger state

PURPOSE:
  Defines the boundary between the booking transaction functions and the
  key-value ledger that holds every record. Records are opaque byte values
  addressed by composite keys (see keys.go); the booking package owns their
  encoding.

KEY INTERFACES:
  Store:   Point reads, writes, deletes and ordered prefix scans
  TxStore: Store plus transaction-scoped atomic commit

TRANSACTIONS:
  WithTx runs fn against a transactional view. Reads inside fn observe a
  consistent snapshot plus fn's own writes. If fn returns nil the whole
  write-set commits at once, otherwise nothing is written.

  Backends that use optimistic concurrency may run fn more than once when a
  conflicting commit is detected, so fn must not have side effects outside
  the Store it is given.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, versioned optimistic transactions
  - store/sqlite/sqlite.go: SQLite, single writer
  - store/postgres/postgres.go: PostgreSQL, SERIALIZABLE with retry

SEE ALSO:
  - keys.go: Composite key scheme
  - storetest/storetest.go: Conformance suite for implementations
*/
package ledger

import (
	"context"
	"errors"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrKeyNotFound is returned by Get when no value is stored under the key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrConcurrentModification is returned when a commit loses a race with
	// another transaction. The transaction had no effect and may be retried.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidKey is returned for key parts that cannot be encoded.
	ErrInvalidKey = errors.New("invalid composite key")
)

// IsRetryable reports whether err came from a transaction that lost a race
// and left no trace.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// =============================================================================
// STORE
// =============================================================================

// KV is one entry returned by a prefix scan.
type KV struct {
	Key   Key
	Value []byte
}

// Store is a key-value ledger addressed by composite keys.
type Store interface {
	// Get returns the value under key, or ErrKeyNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	// Scan returns every entry whose key starts with prefix, in ascending
	// byte order of the key.
	Scan(ctx context.Context, prefix Key) ([]KV, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

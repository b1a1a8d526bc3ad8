package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/ledger"
	"github.com/warp/travel-ledger/ledger/store"
	"github.com/warp/travel-ledger/ledger/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		m := store.NewMemory()
		m.MaxRetries = 1000
		return m
	})
}

func TestMemory_ConflictingCommitIsRetried(t *testing.T) {
	// GIVEN: a transaction whose read is invalidated by another commit
	ctx := context.Background()
	m := store.NewMemory()
	k := ledger.CompositeKey("seat", "opt")
	require.NoError(t, m.Put(ctx, k, []byte("free")))

	attempts := 0
	err := m.WithTx(ctx, func(tx ledger.Store) error {
		attempts++
		v, err := tx.Get(ctx, k)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// Concurrent writer sneaks in between read and commit
			require.NoError(t, m.Put(ctx, k, []byte("taken")))
		}
		return tx.Put(ctx, ledger.CompositeKey("seen", "opt"), v)
	})

	// THEN: the first attempt is discarded and the retry sees the new value
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	got, err := m.Get(ctx, ledger.CompositeKey("seen", "opt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("taken"), got)
}

func TestMemory_PhantomInsertInvalidatesScan(t *testing.T) {
	// GIVEN: a transaction that scanned a range
	ctx := context.Background()
	m := store.NewMemory()
	m.MaxRetries = 0
	prefix := ledger.CompositeKey("ticket", "opt")

	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.Scan(ctx, prefix); err != nil {
			return err
		}
		// WHEN: another writer inserts into the scanned range before commit
		require.NoError(t, m.Put(ctx, ledger.CompositeKey("ticket", "opt", "c", "1"), []byte("x")))
		return tx.Put(ctx, ledger.CompositeKey("summary", "opt"), []byte("0 tickets"))
	})

	// THEN: commit is refused
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
	_, err = m.Get(ctx, ledger.CompositeKey("summary", "opt"))
	assert.ErrorIs(t, err, ledger.ErrKeyNotFound)
}

func TestMemory_DisjointTransactionsDoNotConflict(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	m.MaxRetries = 0

	err := m.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.Get(ctx, ledger.CompositeKey("travelOption", "a")); err != nil && !errors.Is(err, ledger.ErrKeyNotFound) {
			return err
		}
		// Unrelated commit on another option
		require.NoError(t, m.Put(ctx, ledger.CompositeKey("travelOption", "b"), []byte("b")))
		return tx.Put(ctx, ledger.CompositeKey("travelOption", "a"), []byte("a"))
	})
	assert.NoError(t, err)
}

func TestMemory_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.NewMemory().WithTx(ctx, func(ledger.Store) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

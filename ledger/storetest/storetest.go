// Package storetest holds the conformance suite shared by every
// ledger.TxStore implementation.
package storetest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/ledger"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ledger.TxStore

// Run exercises the Store and TxStore contracts against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, newStore(t)) })
	t.Run("ScanPrefix", func(t *testing.T) { testScanPrefix(t, newStore(t)) })
	t.Run("TxCommit", func(t *testing.T) { testTxCommit(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("TxReadOwnWrites", func(t *testing.T) { testTxReadOwnWrites(t, newStore(t)) })
	t.Run("TxConcurrentIncrements", func(t *testing.T) { testTxConcurrentIncrements(t, newStore(t)) })
}

func testGetMissing(t *testing.T, s ledger.TxStore) {
	_, err := s.Get(context.Background(), ledger.CompositeKey("customer", "nobody"))
	assert.ErrorIs(t, err, ledger.ErrKeyNotFound)
}

func testPutGetDelete(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	k := ledger.CompositeKey("customer", "alice")

	require.NoError(t, s.Put(ctx, k, []byte("v1")))
	require.NoError(t, s.Put(ctx, k, []byte("v2")))

	got, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, k))
	_, err = s.Get(ctx, k)
	assert.ErrorIs(t, err, ledger.ErrKeyNotFound)

	// Deleting again is not an error
	assert.NoError(t, s.Delete(ctx, k))
}

func testScanPrefix(t *testing.T, s ledger.TxStore) {
	// GIVEN: tickets under two options whose ids share a textual prefix
	ctx := context.Background()
	keys := []ledger.Key{
		ledger.CompositeKey("ticket", "A", "bob", "2"),
		ledger.CompositeKey("ticket", "AB", "carol", "1"),
		ledger.CompositeKey("ticket", "A", "alice", "1"),
		ledger.CompositeKey("travelOption", "A"),
	}
	for i, k := range keys {
		require.NoError(t, s.Put(ctx, k, []byte(strconv.Itoa(i))))
	}

	// WHEN: scanning option A's tickets
	kvs, err := s.Scan(ctx, ledger.CompositeKey("ticket", "A"))
	require.NoError(t, err)

	// THEN: only A's tickets come back, in key order
	require.Len(t, kvs, 2)
	assert.Equal(t, keys[2], kvs[0].Key)
	assert.Equal(t, keys[0], kvs[1].Key)
	assert.Equal(t, []byte("0"), kvs[1].Value)

	all, err := s.Scan(ctx, ledger.CompositeKey("ticket"))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.Scan(ctx, ledger.CompositeKey("provider"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTxCommit(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	a := ledger.CompositeKey("customer", "a")
	b := ledger.CompositeKey("provider", "b")
	require.NoError(t, s.Put(ctx, b, []byte("old")))

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.Put(ctx, a, []byte("1")); err != nil {
			return err
		}
		return tx.Delete(ctx, b)
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	_, err = s.Get(ctx, b)
	assert.ErrorIs(t, err, ledger.ErrKeyNotFound)
}

func testTxRollback(t *testing.T, s ledger.TxStore) {
	// GIVEN: an existing record
	ctx := context.Background()
	a := ledger.CompositeKey("customer", "a")
	b := ledger.CompositeKey("customer", "b")
	require.NoError(t, s.Put(ctx, a, []byte("keep")))

	// WHEN: a transaction writes twice and then fails
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.Put(ctx, a, []byte("changed")); err != nil {
			return err
		}
		if err := tx.Put(ctx, b, []byte("new")); err != nil {
			return err
		}
		return boom
	})

	// THEN: the error surfaces and no write is visible
	assert.ErrorIs(t, err, boom)
	got, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), got)
	_, err = s.Get(ctx, b)
	assert.ErrorIs(t, err, ledger.ErrKeyNotFound)
}

func testTxReadOwnWrites(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	prefix := ledger.CompositeKey("ticket", "opt")
	k1 := ledger.CompositeKey("ticket", "opt", "c1", "1")
	k2 := ledger.CompositeKey("ticket", "opt", "c2", "2")
	require.NoError(t, s.Put(ctx, k1, []byte("one")))

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.Put(ctx, k2, []byte("two")))
		got, err := tx.Get(ctx, k2)
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)

		require.NoError(t, tx.Delete(ctx, k1))
		_, err = tx.Get(ctx, k1)
		assert.ErrorIs(t, err, ledger.ErrKeyNotFound)

		kvs, err := tx.Scan(ctx, prefix)
		require.NoError(t, err)
		require.Len(t, kvs, 1)
		assert.Equal(t, k2, kvs[0].Key)
		return nil
	})
	require.NoError(t, err)
}

func testTxConcurrentIncrements(t *testing.T, s ledger.TxStore) {
	// GIVEN: a counter and several writers racing on it
	ctx := context.Background()
	k := ledger.CompositeKey("counter", "c")
	require.NoError(t, s.Put(ctx, k, []byte("0")))

	const workers, perWorker = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				errs <- s.WithTx(ctx, func(tx ledger.Store) error {
					raw, err := tx.Get(ctx, k)
					if err != nil {
						return err
					}
					n, err := strconv.Atoi(string(raw))
					if err != nil {
						return err
					}
					return tx.Put(ctx, k, []byte(strconv.Itoa(n+1)))
				})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN: no increment was lost
	raw, err := s.Get(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers*perWorker), string(raw))
}

// Package store provides Store implementations.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/travel-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// DefaultMaxRetries bounds how often WithTx re-runs a transaction that lost a
// commit race.
const DefaultMaxRetries = 16

// Memory is an in-memory TxStore. Every key carries the version of the commit
// that last wrote it. Transactions buffer their writes, remember the versions
// they read (including whole scanned ranges) and validate them at commit:
// transactions over disjoint keys commit in parallel, overlapping ones retry.
type Memory struct {
	mu      sync.RWMutex
	entries map[ledger.Key]entry
	keys    []ledger.Key // sorted
	version uint64

	MaxRetries int
}

type entry struct {
	value   []byte
	version uint64
}

func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[ledger.Key]entry),
		MaxRetries: DefaultMaxRetries,
	}
}

func (m *Memory) Get(_ context.Context, key ledger.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ledger.ErrKeyNotFound
	}
	return clone(e.value), nil
}

func (m *Memory) Put(_ context.Context, key ledger.Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	m.putLocked(key, clone(value), m.version)
	return nil
}

func (m *Memory) Delete(_ context.Context, key ledger.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(key)
	return nil
}

func (m *Memory) Scan(_ context.Context, prefix ledger.Key) ([]ledger.KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.KV
	for _, k := range m.rangeLocked(prefix) {
		out = append(out, ledger.KV{Key: k, Value: clone(m.entries[k].value)})
	}
	return out, nil
}

func (m *Memory) putLocked(key ledger.Key, value []byte, version uint64) {
	if _, ok := m.entries[key]; !ok {
		// Binary search for insertion point keeps keys sorted for scans.
		i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
		m.keys = append(m.keys, "")
		copy(m.keys[i+1:], m.keys[i:])
		m.keys[i] = key
	}
	m.entries[key] = entry{value: value, version: version}
}

func (m *Memory) deleteLocked(key ledger.Key) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	i := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= key })
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
}

// rangeLocked returns the sorted keys under prefix.
func (m *Memory) rangeLocked(prefix ledger.Key) []ledger.Key {
	start := sort.Search(len(m.keys), func(i int) bool { return m.keys[i] >= prefix })
	end := start
	for end < len(m.keys) && m.keys[end].HasPrefix(prefix) {
		end++
	}
	return m.keys[start:end]
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within an optimistic transaction and retries it, up to
// MaxRetries times, when another commit invalidated what it read.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &txView{
			parent: m,
			reads:  make(map[ledger.Key]uint64),
			writes: make(map[ledger.Key]write),
		}
		if err := fn(tx); err != nil {
			return err
		}
		err := m.commit(tx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrConcurrentModification) || attempt >= m.MaxRetries {
			return err
		}
	}
}

func (m *Memory) commit(tx *txView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, seen := range tx.reads {
		if m.entries[k].version != seen {
			return ledger.ErrConcurrentModification
		}
	}
	for _, sc := range tx.scans {
		current := m.rangeLocked(sc.prefix)
		if len(current) != len(sc.seen) {
			return ledger.ErrConcurrentModification
		}
		for i, k := range current {
			if k != sc.seen[i].key || m.entries[k].version != sc.seen[i].version {
				return ledger.ErrConcurrentModification
			}
		}
	}

	if len(tx.writes) == 0 {
		return nil
	}
	m.version++
	for k, w := range tx.writes {
		if w.deleted {
			m.deleteLocked(k)
			continue
		}
		m.putLocked(k, w.value, m.version)
	}
	return nil
}

type write struct {
	value   []byte
	deleted bool
}

type scanRecord struct {
	prefix ledger.Key
	seen   []versioned
}

type versioned struct {
	key     ledger.Key
	version uint64
}

// txView buffers writes and records the versions of everything read.
type txView struct {
	parent *Memory
	reads  map[ledger.Key]uint64
	scans  []scanRecord
	writes map[ledger.Key]write
}

func (tx *txView) Get(_ context.Context, key ledger.Key) ([]byte, error) {
	if w, ok := tx.writes[key]; ok {
		if w.deleted {
			return nil, ledger.ErrKeyNotFound
		}
		return clone(w.value), nil
	}

	tx.parent.mu.RLock()
	e, ok := tx.parent.entries[key]
	tx.parent.mu.RUnlock()

	if _, seen := tx.reads[key]; !seen {
		tx.reads[key] = e.version
	}
	if !ok {
		return nil, ledger.ErrKeyNotFound
	}
	return clone(e.value), nil
}

func (tx *txView) Put(_ context.Context, key ledger.Key, value []byte) error {
	tx.writes[key] = write{value: clone(value)}
	return nil
}

func (tx *txView) Delete(_ context.Context, key ledger.Key) error {
	tx.writes[key] = write{deleted: true}
	return nil
}

func (tx *txView) Scan(_ context.Context, prefix ledger.Key) ([]ledger.KV, error) {
	tx.parent.mu.RLock()
	keys := tx.parent.rangeLocked(prefix)
	rec := scanRecord{prefix: prefix, seen: make([]versioned, len(keys))}
	merged := make(map[ledger.Key][]byte, len(keys))
	for i, k := range keys {
		e := tx.parent.entries[k]
		rec.seen[i] = versioned{key: k, version: e.version}
		merged[k] = e.value
	}
	tx.parent.mu.RUnlock()
	tx.scans = append(tx.scans, rec)

	for k, w := range tx.writes {
		if !k.HasPrefix(prefix) {
			continue
		}
		if w.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = w.value
	}

	out := make([]ledger.KV, 0, len(merged))
	for k, v := range merged {
		out = append(out, ledger.KV{Key: k, Value: clone(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

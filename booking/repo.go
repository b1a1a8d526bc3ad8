package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/warp/travel-ledger/ledger"
)

// Record kinds used as the first part of every key.
const (
	kindCustomer     = "customer"
	kindProvider     = "provider"
	kindTravelOption = "travelOption"
	kindTicket       = "ticket"
)

func customerKey(id Identity) ledger.Key  { return ledger.CompositeKey(kindCustomer, string(id)) }
func providerKey(id Identity) ledger.Key  { return ledger.CompositeKey(kindProvider, string(id)) }
func optionKey(id string) ledger.Key      { return ledger.CompositeKey(kindTravelOption, id) }
func ticketPrefix(optionID string) ledger.Key {
	return ledger.CompositeKey(kindTicket, optionID)
}

type route struct {
	source      string
	destination string
}

// txn is the unit of work of one transaction. Each record is decoded once
// and the same pointer is handed to every later load, so several updates to
// one record within a transaction compose. Staged records are written by
// flush.
type txn struct {
	ctx    context.Context
	store  ledger.Store
	cfg    Config
	caller Identity
	now    time.Time

	records map[ledger.Key]any // nil value marks a deletion
	staged  map[ledger.Key]struct{}
	touched map[string]route

	subject string
	detail  map[string]string
}

func (e *Engine) newTxn(ctx context.Context, s ledger.Store, caller Identity) *txn {
	return &txn{
		ctx:     ctx,
		store:   s,
		cfg:     e.cfg,
		caller:  caller,
		now:     e.clock.Now().In(e.cfg.Location),
		records: make(map[ledger.Key]any),
		staged:  make(map[ledger.Key]struct{}),
		touched: make(map[string]route),
	}
}

// audit sets the subject and detail of the transaction's audit entry.
func (tx *txn) audit(subject string, kv ...string) {
	tx.subject = subject
	if tx.detail == nil {
		tx.detail = make(map[string]string, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		tx.detail[kv[i]] = kv[i+1]
	}
}

// =============================================================================
// LOAD / STAGE / FLUSH
// =============================================================================

func load[T any](tx *txn, key ledger.Key) (*T, error) {
	if v, ok := tx.records[key]; ok {
		if v == nil {
			return nil, ledger.ErrKeyNotFound
		}
		return v.(*T), nil
	}
	raw, err := tx.store.Get(tx.ctx, key)
	if err != nil {
		return nil, err
	}
	rec := new(T)
	if err := ledger.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	tx.records[key] = rec
	return rec, nil
}

// scan loads every record under prefix, including ones staged in this
// transaction, in key order.
func scan[T any](tx *txn, prefix ledger.Key) ([]ledger.Key, []*T, error) {
	kvs, err := tx.store.Scan(tx.ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[ledger.Key]bool, len(kvs))
	keys := make([]ledger.Key, 0, len(kvs))
	for _, kv := range kvs {
		seen[kv.Key] = true
		if v, ok := tx.records[kv.Key]; ok {
			if v != nil {
				keys = append(keys, kv.Key)
			}
			continue
		}
		rec := new(T)
		if err := ledger.Unmarshal(kv.Value, rec); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		tx.records[kv.Key] = rec
		keys = append(keys, kv.Key)
	}
	for k, v := range tx.records {
		if v != nil && !seen[k] && k.HasPrefix(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	recs := make([]*T, len(keys))
	for i, k := range keys {
		recs[i] = tx.records[k].(*T)
	}
	return keys, recs, nil
}

func (tx *txn) exists(key ledger.Key) (bool, error) {
	if v, ok := tx.records[key]; ok {
		return v != nil, nil
	}
	_, err := tx.store.Get(tx.ctx, key)
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (tx *txn) stage(key ledger.Key, rec any) {
	tx.records[key] = rec
	tx.staged[key] = struct{}{}
}

func (tx *txn) remove(key ledger.Key) {
	tx.records[key] = nil
	tx.staged[key] = struct{}{}
}

// flush writes staged records in key order.
func (tx *txn) flush() error {
	keys := make([]ledger.Key, 0, len(tx.staged))
	for k := range tx.staged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		rec := tx.records[k]
		if rec == nil {
			if err := tx.store.Delete(tx.ctx, k); err != nil {
				return err
			}
			continue
		}
		raw, err := ledger.Marshal(rec)
		if err != nil {
			return err
		}
		if err := tx.store.Put(tx.ctx, k, raw); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TYPED ACCESS
// =============================================================================

func (tx *txn) customer(id Identity) (*Customer, error) {
	c, err := load[Customer](tx, customerKey(id))
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: customer %s", ErrNotRegistered, id)
	}
	return c, err
}

func (tx *txn) provider(id Identity) (*Provider, error) {
	p, err := load[Provider](tx, providerKey(id))
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: provider %s", ErrNotRegistered, id)
	}
	return p, err
}

func (tx *txn) option(id string) (*TravelOption, error) {
	o, err := load[TravelOption](tx, optionKey(id))
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, notFound("travel option", id)
	}
	return o, err
}

func (tx *txn) ticket(id ledger.Key) (*Ticket, error) {
	if id.Kind() != kindTicket {
		return nil, notFound("ticket", id.String())
	}
	t, err := load[Ticket](tx, id)
	if errors.Is(err, ledger.ErrKeyNotFound) {
		return nil, notFound("ticket", id.String())
	}
	return t, err
}

// ticketsOf returns every ticket booked on the option, in key order.
func (tx *txn) ticketsOf(optionID string) ([]*Ticket, error) {
	_, tickets, err := scan[Ticket](tx, ticketPrefix(optionID))
	return tickets, err
}

func (tx *txn) putCustomer(c *Customer) { tx.stage(customerKey(c.ID), c) }
func (tx *txn) putProvider(p *Provider) { tx.stage(providerKey(p.ID), p) }
func (tx *txn) putTicket(t *Ticket)     { tx.stage(t.ID, t) }

func (tx *txn) putOption(o *TravelOption) {
	tx.stage(optionKey(o.ID), o)
	tx.touched[o.ID] = route{source: o.Source, destination: o.Destination}
}

// stamp returns the first free ledger timestamp at or after the transaction
// instant for keys built by keyFor, in unix milliseconds.
func (tx *txn) stamp(keyFor func(stamp string) ledger.Key) (string, error) {
	for ms := tx.now.UnixMilli(); ; ms++ {
		s := strconv.FormatInt(ms, 10)
		taken, err := tx.exists(keyFor(s))
		if err != nil {
			return "", err
		}
		if !taken {
			return s, nil
		}
	}
}

/*
engine.go - Transaction runner for the booking ledger

PURPOSE:
  Engine exposes one method per transaction function. Each method runs a
  single ledger transaction: load the records it needs, validate, compute
  the new state, and commit the whole write-set atomically together with an
  audit entry. A failed check aborts the transaction with no writes.

TRANSACTION FLOW:
  1. Engine.update opens store.WithTx and builds a txn (unit of work)
  2. The operation loads records through the txn; each record is decoded
     once per transaction and shared by every later load
  3. Modified records are staged; flush writes them in key order
  4. The audit entry joins the same write-set
  5. After commit: invalidate cached routes and publish changed options

  Backends may re-run step 1-4 after a commit conflict, so operations keep
  all state inside the txn.

TIME:
  "now" for implicit checks (departure passed, listing visibility, ledger
  timestamps) comes from the injected ledger.Clock and is fixed for the
  whole transaction. Cancel, reschedule, auto-confirm and rating take the
  current time as an explicit argument.

SEE ALSO:
  - repo.go: Record loading and staging
  - accounts.go, inventory.go, tickets.go, reschedule.go, autoconfirm.go,
    cascade.go: The transaction functions
*/
package booking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/warp/travel-ledger/ledger"
)

// RouteCache caches the travel options of a source/destination pair.
type RouteCache interface {
	Route(ctx context.Context, source, destination string, load func(context.Context) ([]TravelOption, error)) ([]TravelOption, error)
	Invalidate(ctx context.Context, source, destination string) error
}

// ChangePublisher announces travel options written by a committed transaction.
type ChangePublisher interface {
	PublishOptionChanged(ctx context.Context, travelOptionID string) error
}

// Engine runs the marketplace transaction functions against a TxStore.
type Engine struct {
	store  ledger.TxStore
	clock  ledger.Clock
	cfg    Config
	logger *slog.Logger
	routes RouteCache
	events ChangePublisher
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c ledger.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg.withDefaults() } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithRouteCache(c RouteCache) Option { return func(e *Engine) { e.routes = c } }

func WithChangePublisher(p ChangePublisher) Option { return func(e *Engine) { e.events = p } }

// New creates an Engine over store.
func New(store ledger.TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		clock:  ledger.SystemClock{},
		cfg:    DefaultConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the economics the engine runs with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Now returns the engine clock's current instant.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// update runs fn as one mutating transaction recorded under action.
func (e *Engine) update(ctx context.Context, op string, action ledger.AuditAction, caller Identity, fn func(tx *txn) error) error {
	if err := validateIdentity(caller); err != nil {
		return fmt.Errorf("booking.%s: %w", op, err)
	}

	started := time.Now()
	var touched map[string]route
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		tx := e.newTxn(ctx, s, caller)
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.flush(); err != nil {
			return err
		}
		if _, err := ledger.AppendAudit(ctx, s, ledger.AuditEntry{
			At:      tx.now,
			Actor:   string(caller),
			Action:  action,
			Subject: tx.subject,
			Detail:  tx.detail,
		}); err != nil {
			return err
		}
		touched = tx.touched
		return nil
	})
	if err != nil {
		if IsClientError(err) {
			e.logger.Info("transaction rejected",
				"op", op, "caller", caller, "error", err)
		} else {
			e.logger.Error("transaction aborted",
				"op", op, "caller", caller, "error", err)
		}
		return fmt.Errorf("booking.%s: %w", op, err)
	}

	e.logger.Info("transaction committed",
		"op", op, "caller", caller, "options_touched", len(touched), "duration", time.Since(started))
	e.afterCommit(ctx, touched)
	return nil
}

// view runs fn as a read-only transaction.
func (e *Engine) view(ctx context.Context, op string, caller Identity, fn func(tx *txn) error) error {
	err := e.store.WithTx(ctx, func(s ledger.Store) error {
		return fn(e.newTxn(ctx, s, caller))
	})
	if err != nil {
		return fmt.Errorf("booking.%s: %w", op, err)
	}
	return nil
}

// viewAs is view for queries scoped to the caller's own records.
func (e *Engine) viewAs(ctx context.Context, op string, caller Identity, fn func(tx *txn) error) error {
	if err := validateIdentity(caller); err != nil {
		return fmt.Errorf("booking.%s: %w", op, err)
	}
	return e.view(ctx, op, caller, fn)
}

// afterCommit keeps derived views in step with committed options. Failures
// here never undo the committed transaction.
func (e *Engine) afterCommit(ctx context.Context, touched map[string]route) {
	for id, r := range touched {
		if e.routes != nil {
			if err := e.routes.Invalidate(ctx, r.source, r.destination); err != nil {
				e.logger.Warn("route cache invalidation failed",
					"source", r.source, "destination", r.destination, "error", err)
			}
		}
		if e.events != nil {
			if err := e.events.PublishOptionChanged(ctx, id); err != nil {
				e.logger.Warn("travel option change not published", "travel_option", id, "error", err)
			}
		}
	}
}

func validateIdentity(id Identity) error {
	if err := ledger.ValidatePart(string(id)); err != nil {
		return fmt.Errorf("%w: caller identity: %v", ErrNotAuthorized, err)
	}
	return nil
}

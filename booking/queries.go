package booking

import (
	"context"
	"errors"

	"github.com/warp/travel-ledger/ledger"
)

// GetCustomer returns the caller's customer record.
func (e *Engine) GetCustomer(ctx context.Context, caller Identity) (*Customer, error) {
	var out *Customer
	err := e.viewAs(ctx, "GetCustomer", caller, func(tx *txn) (err error) {
		out, err = tx.customer(caller)
		return err
	})
	return out, err
}

// GetProvider returns the caller's provider record.
func (e *Engine) GetProvider(ctx context.Context, caller Identity) (*Provider, error) {
	var out *Provider
	err := e.viewAs(ctx, "GetProvider", caller, func(tx *txn) (err error) {
		out, err = tx.provider(caller)
		return err
	})
	return out, err
}

// CustomerTickets returns the tickets in the caller's bookings list, in
// booking order.
func (e *Engine) CustomerTickets(ctx context.Context, caller Identity) ([]Ticket, error) {
	var out []Ticket
	err := e.viewAs(ctx, "CustomerTickets", caller, func(tx *txn) error {
		c, err := tx.customer(caller)
		if err != nil {
			return err
		}
		for _, id := range c.Bookings {
			t, err := tx.ticket(id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *t)
		}
		return nil
	})
	return out, err
}

// ProviderTravelOptions returns the caller's listed options, including
// cancelled and departed ones.
func (e *Engine) ProviderTravelOptions(ctx context.Context, caller Identity) ([]TravelOption, error) {
	var out []TravelOption
	err := e.viewAs(ctx, "ProviderTravelOptions", caller, func(tx *txn) error {
		p, err := tx.provider(caller)
		if err != nil {
			return err
		}
		for _, id := range p.TravelOptions {
			o, err := tx.option(id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, *o)
		}
		return nil
	})
	return out, err
}

// Ticket returns one ticket.
func (e *Engine) Ticket(ctx context.Context, id ledger.Key) (*Ticket, error) {
	var out *Ticket
	err := e.view(ctx, "Ticket", "", func(tx *txn) (err error) {
		out, err = tx.ticket(id)
		return err
	})
	return out, err
}

// TravelOption returns one travel option.
func (e *Engine) TravelOption(ctx context.Context, id string) (*TravelOption, error) {
	var out *TravelOption
	err := e.view(ctx, "TravelOption", "", func(tx *txn) (err error) {
		out, err = tx.option(id)
		return err
	})
	return out, err
}

// AllTravelOptions returns every option in the ledger in key order.
func (e *Engine) AllTravelOptions(ctx context.Context) ([]TravelOption, error) {
	var out []TravelOption
	err := e.view(ctx, "AllTravelOptions", "", func(tx *txn) error {
		_, all, err := scan[TravelOption](tx, ledger.CompositeKey(kindTravelOption))
		if err != nil {
			return err
		}
		out = make([]TravelOption, len(all))
		for i, o := range all {
			out[i] = *o
		}
		return nil
	})
	return out, err
}

// PendingTickets returns every ticket still waiting for confirmation.
func (e *Engine) PendingTickets(ctx context.Context) ([]Ticket, error) {
	var out []Ticket
	err := e.view(ctx, "PendingTickets", "", func(tx *txn) error {
		_, all, err := scan[Ticket](tx, ledger.CompositeKey(kindTicket))
		if err != nil {
			return err
		}
		for _, t := range all {
			if t.Status == StatusPendingConfirmation {
				out = append(out, *t)
			}
		}
		return nil
	})
	return out, err
}

// AuditTrail returns the newest limit audit entries, oldest first. A
// non-positive limit returns all of them.
func (e *Engine) AuditTrail(ctx context.Context, limit int) ([]ledger.AuditEntry, error) {
	entries, err := ledger.QueryAudit(ctx, e.store, ledger.AuditFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

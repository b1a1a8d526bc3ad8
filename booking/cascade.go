package booking

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/ledger"
)

// Audit actions of account teardown.
const (
	AuditCustomerDeleted ledger.AuditAction = "customer_deleted"
	AuditProviderDeleted ledger.AuditAction = "provider_deleted"
)

// DeleteCustomer cancels the caller's active tickets, freeing their seats
// and taking the full price back from each provider, then deletes the
// customer record.
func (e *Engine) DeleteCustomer(ctx context.Context, caller Identity) error {
	return e.update(ctx, "DeleteCustomer", AuditCustomerDeleted, caller, func(tx *txn) error {
		c, err := tx.customer(caller)
		if err != nil {
			return err
		}
		cancelled := 0
		for _, id := range c.Bookings {
			t, err := tx.ticket(id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !t.Status.Active() {
				continue
			}
			o, err := tx.option(t.TravelOptionID)
			if err != nil {
				return err
			}
			tx.cancel(t, o, t.PricePaid)
			p, err := tx.provider(o.ProviderID)
			switch {
			case errors.Is(err, ErrNotRegistered):
				// provider already gone
			case err != nil:
				return err
			default:
				p.Balance = p.Balance.Sub(t.PricePaid)
				tx.putProvider(p)
			}
			cancelled++
		}
		tx.remove(customerKey(caller))
		tx.audit(string(caller), "cancelled_tickets", strconv.Itoa(cancelled))
		return nil
	})
}

// DeleteProvider withdraws every option of the caller that has not departed,
// refunding its customers in full, then deletes the provider record. Options
// that already departed are left as they are.
func (e *Engine) DeleteProvider(ctx context.Context, caller Identity) error {
	return e.update(ctx, "DeleteProvider", AuditProviderDeleted, caller, func(tx *txn) error {
		p, err := tx.provider(caller)
		if err != nil {
			return err
		}
		withdrawn, refunded := 0, decimal.Zero
		for _, id := range p.TravelOptions {
			o, err := tx.option(id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if o.Departed(tx.now) {
				continue
			}
			res, err := tx.withdrawOption(o, true)
			if err != nil {
				return err
			}
			p.Balance = p.Balance.Sub(res.TotalRefund)
			refunded = refunded.Add(res.TotalRefund)
			withdrawn++
		}
		tx.remove(providerKey(caller))
		tx.audit(string(caller),
			"withdrawn_options", strconv.Itoa(withdrawn),
			"total_refund", refunded.String(),
			"final_balance", p.Balance.String())
		return nil
	})
}

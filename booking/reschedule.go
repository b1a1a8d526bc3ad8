package booking

import (
	"context"
	"strconv"
	"time"

	"github.com/warp/travel-ledger/ledger"
)

// RescheduleTicket moves the caller's active ticket to seat on another (or
// the same) travel option in one transaction.
//
// The old ticket is cancelled with the refund tier of a plain cancellation
// and its seat freed; the new ticket is priced dynamically on the new option
// without the booking fee. The refund is netted against the new price: the
// customer pays or receives only the difference. When both options belong
// to one provider its balance moves once by price-refund; otherwise the old
// provider pays the refund and the new provider receives the price.
func (e *Engine) RescheduleTicket(ctx context.Context, caller Identity, ticketID ledger.Key, newTravelOptionID string, now time.Time, seat int) (*Ticket, error) {
	var out *Ticket
	err := e.update(ctx, "RescheduleTicket", AuditTicketRescheduled, caller, func(tx *txn) error {
		old, oldOpt, err := tx.ownActiveTicket(ticketID)
		if err != nil {
			return err
		}
		c, err := tx.customer(caller)
		if err != nil {
			return err
		}
		newOpt, err := tx.option(newTravelOptionID)
		if err != nil {
			return err
		}

		refund := Refund(old.PricePaid, oldOpt.DepartsAt, now)
		tx.cancel(old, oldOpt, refund)

		if err := tx.checkBookable(newOpt, seat, now); err != nil {
			return err
		}
		pricing := DynamicPrice(newOpt.BasePrice, newOpt.SeatCapacity, newOpt.AvailableSeats)
		price := pricing.DynamicPrice
		if available := c.Balance.Add(refund); available.LessThan(price) {
			return &InsufficientBalanceError{CustomerID: c.ID, Available: available, Required: price}
		}

		oldP, err := tx.provider(oldOpt.ProviderID)
		if err != nil {
			return err
		}
		newP, err := tx.provider(newOpt.ProviderID)
		if err != nil {
			return err
		}

		t, err := tx.issueTicket(c, newOpt, seat, pricing)
		if err != nil {
			return err
		}
		t.RescheduledFrom = old.ID

		c.Balance = c.Balance.Add(refund).Sub(price)
		if oldP == newP {
			oldP.Balance = oldP.Balance.Add(price.Sub(refund))
		} else {
			oldP.Balance = oldP.Balance.Sub(refund)
			newP.Balance = newP.Balance.Add(price)
			tx.putProvider(newP)
		}
		tx.putProvider(oldP)
		tx.putCustomer(c)

		tx.audit(t.ID.String(),
			"rescheduled_from", old.ID.String(),
			"refund", refund.String(),
			"price", price.String(),
			"seat", strconv.Itoa(seat))
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

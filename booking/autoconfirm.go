package booking

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"time"
)

// autoConfirmations is the confirmation count written by the sweep.
const autoConfirmations = 2

// AutoConfirmTickets settles every pending ticket of an option shortly
// before departure. Pending tickets are served first come first served by
// booking time, ties going to the earlier arrival on the option: as many
// as there are vacant seats are confirmed, the rest are cancelled with a
// full refund paid by the provider, and the option is closed for sale.
// The departure window is the scheduler's concern.
func (e *Engine) AutoConfirmTickets(ctx context.Context, caller Identity, travelOptionID string, now time.Time) (*AutoConfirmResult, error) {
	var out *AutoConfirmResult
	err := e.update(ctx, "AutoConfirmTickets", AuditAutoConfirmed, caller, func(tx *txn) error {
		o, err := tx.option(travelOptionID)
		if err != nil {
			return err
		}
		tickets, err := tx.ticketsOf(o.ID)
		if err != nil {
			return err
		}
		var pending []*Ticket
		for _, t := range tickets {
			if t.Status == StatusPendingConfirmation {
				pending = append(pending, t)
			}
		}
		sort.Slice(pending, func(i, j int) bool {
			a, b := pending[i], pending[j]
			if !a.BookingTime.Equal(b.BookingTime) {
				return a.BookingTime.Before(b.BookingTime)
			}
			return a.Sequence < b.Sequence
		})

		res := &AutoConfirmResult{TravelOptionID: o.ID}
		vacant := max(o.AvailableSeats, 0)
		for i, t := range pending {
			if i < vacant || len(pending) <= vacant {
				t.Status = StatusConfirmed
				t.ConfirmationCount = autoConfirmations
				tx.putTicket(t)
				res.Confirmed++
				continue
			}
			if err := tx.rejectOverflow(t, o); err != nil {
				return err
			}
			res.Cancelled++
		}
		if res.Cancelled > 0 {
			o.AvailableSeats = 0
			tx.putOption(o)
		}

		tx.audit(o.ID,
			"confirmed", strconv.Itoa(res.Confirmed),
			"cancelled", strconv.Itoa(res.Cancelled),
			"at", now.Format(time.RFC3339))
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rejectOverflow cancels a pending ticket that did not fit, refunding the
// full price from the provider to the customer. Its seat leaves BookedSeats
// without reopening for sale.
func (tx *txn) rejectOverflow(t *Ticket, o *TravelOption) error {
	c, err := tx.customer(t.CustomerID)
	if err != nil {
		return err
	}
	p, err := tx.provider(o.ProviderID)
	if err != nil {
		return err
	}
	c.Balance = c.Balance.Add(t.PricePaid)
	p.Balance = p.Balance.Sub(t.PricePaid)
	t.Status = StatusCancelled
	t.RefundAmount = t.PricePaid
	if i, found := slices.BinarySearch(o.BookedSeats, t.SeatNumber); found {
		o.BookedSeats = slices.Delete(o.BookedSeats, i, i+1)
	}
	tx.putCustomer(c)
	tx.putProvider(p)
	tx.putTicket(t)
	return nil
}

package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/ledger"
)

// Audit actions of the ticket lifecycle.
const (
	AuditTicketBooked      ledger.AuditAction = "ticket_booked"
	AuditTicketConfirmed   ledger.AuditAction = "ticket_confirmed"
	AuditTicketCancelled   ledger.AuditAction = "ticket_cancelled"
	AuditTicketRescheduled ledger.AuditAction = "ticket_rescheduled"
	AuditAutoConfirmed     ledger.AuditAction = "tickets_auto_confirmed"
)

// BookTicket sells seat on the option to the caller at the option's current
// dynamic price plus the booking fee. The ticket starts pending confirmation.
func (e *Engine) BookTicket(ctx context.Context, caller Identity, travelOptionID string, seat int) (*Ticket, error) {
	var out *Ticket
	err := e.update(ctx, "BookTicket", AuditTicketBooked, caller, func(tx *txn) error {
		c, err := tx.customer(caller)
		if err != nil {
			return err
		}
		o, err := tx.option(travelOptionID)
		if err != nil {
			return err
		}
		if err := tx.checkBookable(o, seat, tx.now); err != nil {
			return err
		}

		pricing := DynamicPrice(o.BasePrice, o.SeatCapacity, o.AvailableSeats)
		total := pricing.DynamicPrice.Add(tx.cfg.BookingFee)
		if c.Balance.LessThan(total) {
			return &InsufficientBalanceError{CustomerID: c.ID, Available: c.Balance, Required: total}
		}
		p, err := tx.provider(o.ProviderID)
		if err != nil {
			return err
		}

		t, err := tx.issueTicket(c, o, seat, pricing)
		if err != nil {
			return err
		}
		c.Balance = c.Balance.Sub(total)
		p.Balance = p.Balance.Add(pricing.DynamicPrice)
		tx.putCustomer(c)
		tx.putProvider(p)

		tx.audit(t.ID.String(),
			"seat", strconv.Itoa(seat),
			"price", pricing.DynamicPrice.String(),
			"fee", tx.cfg.BookingFee.String())
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkBookable validates the option and seat of a new booking at now.
func (tx *txn) checkBookable(o *TravelOption, seat int, now time.Time) error {
	if o.Cancelled() {
		return &WrongStateError{Kind: "travel option", ID: o.ID, Status: string(o.Status), Want: string(OptionActive)}
	}
	if o.Departed(now) {
		return fmt.Errorf("%w: departed %s", ErrDeparturePassed, o.DepartsAt.Format(time.RFC3339))
	}
	if o.AvailableSeats <= 0 {
		return fmt.Errorf("%w: %s", ErrSoldOut, o.ID)
	}
	if seat < 1 || seat > o.SeatCapacity {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidSeat, seat, o.SeatCapacity)
	}
	if o.SeatTaken(seat) {
		return &SeatTakenError{TravelOptionID: o.ID, Seat: seat}
	}
	return nil
}

// issueTicket occupies seat and records a pending ticket for c. Balances are
// settled by the caller.
func (tx *txn) issueTicket(c *Customer, o *TravelOption, seat int, pricing PricingBreakdown) (*Ticket, error) {
	stamp, err := tx.stamp(func(s string) ledger.Key {
		return ledger.CompositeKey(kindTicket, o.ID, string(c.ID), s)
	})
	if err != nil {
		return nil, err
	}
	t := &Ticket{
		ID:             ledger.CompositeKey(kindTicket, o.ID, string(c.ID), stamp),
		TravelOptionID: o.ID,
		CustomerID:     c.ID,
		SeatNumber:     seat,
		BookingTime:    tx.now,
		PricePaid:      pricing.DynamicPrice,
		Status:         StatusPendingConfirmation,
		Pricing:        pricing,
		RefundAmount:   decimal.Zero,
	}
	o.BookingSeq++
	t.Sequence = o.BookingSeq
	o.occupy(seat)
	c.Bookings = append(c.Bookings, t.ID)
	tx.putOption(o)
	tx.putTicket(t)
	return t, nil
}

// ConfirmTicket moves a pending ticket to CONFIRMED. Confirming a ticket
// that is not pending fails and changes nothing.
func (e *Engine) ConfirmTicket(ctx context.Context, caller Identity, ticketID ledger.Key) (*Ticket, error) {
	var out *Ticket
	err := e.update(ctx, "ConfirmTicket", AuditTicketConfirmed, caller, func(tx *txn) error {
		t, err := tx.ticket(ticketID)
		if err != nil {
			return err
		}
		if t.Status != StatusPendingConfirmation {
			return &WrongStateError{Kind: "ticket", ID: t.ID.String(), Status: string(t.Status), Want: string(StatusPendingConfirmation)}
		}
		t.ConfirmationCount++
		if t.ConfirmationCount >= 1 {
			t.Status = StatusConfirmed
		}
		tx.putTicket(t)
		tx.audit(t.ID.String(), "confirmations", strconv.Itoa(t.ConfirmationCount))
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelTicket cancels the caller's active ticket and frees its seat. The
// refund tier is chosen by the notice between now and departure; the
// provider pays the refund back.
func (e *Engine) CancelTicket(ctx context.Context, caller Identity, ticketID ledger.Key, now time.Time) (*Ticket, error) {
	var out *Ticket
	err := e.update(ctx, "CancelTicket", AuditTicketCancelled, caller, func(tx *txn) error {
		t, o, err := tx.ownActiveTicket(ticketID)
		if err != nil {
			return err
		}
		refund := Refund(t.PricePaid, o.DepartsAt, now)
		tx.cancel(t, o, refund)

		if refund.IsPositive() {
			c, err := tx.customer(t.CustomerID)
			if err != nil {
				return err
			}
			p, err := tx.provider(o.ProviderID)
			if err != nil {
				return err
			}
			c.Balance = c.Balance.Add(refund)
			p.Balance = p.Balance.Sub(refund)
			tx.putCustomer(c)
			tx.putProvider(p)
		}
		tx.audit(t.ID.String(), "refund", refund.String())
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ownActiveTicket loads a ticket the caller may cancel, with its option.
func (tx *txn) ownActiveTicket(ticketID ledger.Key) (*Ticket, *TravelOption, error) {
	t, err := tx.ticket(ticketID)
	if err != nil {
		return nil, nil, err
	}
	if t.CustomerID != tx.caller {
		return nil, nil, fmt.Errorf("%w: ticket belongs to another customer", ErrNotAuthorized)
	}
	if !t.Status.Active() {
		return nil, nil, &WrongStateError{Kind: "ticket", ID: t.ID.String(), Status: string(t.Status)}
	}
	o, err := tx.option(t.TravelOptionID)
	if err != nil {
		return nil, nil, err
	}
	return t, o, nil
}

// cancel marks t cancelled with refund recorded and frees its seat on o.
func (tx *txn) cancel(t *Ticket, o *TravelOption, refund decimal.Decimal) {
	t.Status = StatusCancelled
	t.RefundAmount = refund
	o.release(t.SeatNumber)
	tx.putTicket(t)
	tx.putOption(o)
}

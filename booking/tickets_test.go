package booking_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/booking"
)

// =============================================================================
// BOOKING SCENARIOS
// =============================================================================

func TestBookTicket_FirstSeatAtBasePrice(t *testing.T) {
	// GIVEN: provider P (balance 100) lists O (capacity 2, base 100, departs in 3 days)
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")

	// WHEN: C books seat 1
	tk := f.book("C", o.ID, 1)

	// THEN: price 100, C pays 105, P nets 100 after the 5 listing fee
	assertMoney(t, "100", tk.PricePaid)
	assert.Equal(t, booking.StatusPendingConfirmation, tk.Status)
	assert.Equal(t, 0, tk.ConfirmationCount)
	assertMoney(t, "0", tk.Pricing.OccupancyFactor)
	assertMoney(t, "1", tk.Pricing.DynamicFactor)
	assertMoney(t, "895", f.getCustomer("C").Balance)
	assertMoney(t, "195", f.getProvider("P").Balance)

	opt := f.getOption(o.ID)
	assert.Equal(t, 1, opt.AvailableSeats)
	assert.Equal(t, []int{1}, opt.BookedSeats)
	assert.Equal(t, tk.ID, f.getCustomer("C").Bookings[0])
}

func TestBookTicket_SeatTaken(t *testing.T) {
	// GIVEN: seat 1 of O is booked
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")
	f.customer("C2")
	f.book("C", o.ID, 1)

	// WHEN: another customer books seat 1
	_, err := f.engine.BookTicket(f.ctx, "C2", o.ID, 1)

	// THEN: SeatTaken and C2 is not charged
	var seatErr *booking.SeatTakenError
	require.ErrorAs(t, err, &seatErr)
	assert.Equal(t, 1, seatErr.Seat)
	assert.ErrorIs(t, err, booking.ErrSeatTaken)
	assertMoney(t, "1000", f.getCustomer("C2").Balance)
	assert.Equal(t, 1, f.getOption(o.ID).AvailableSeats)
}

func TestBookTicket_OccupancyRaisesPriceUntilSoldOut(t *testing.T) {
	// GIVEN: seat 1 of O is booked (occupancy 0.5)
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")
	f.customer("C2")
	f.customer("C3")
	f.book("C", o.ID, 1)
	before := f.getProvider("P").Balance

	// WHEN: C2 books seat 2
	tk := f.book("C2", o.ID, 2)

	// THEN: price is 125, C2 pays 130, P gains 125, O is sold out
	assertMoney(t, "125", tk.PricePaid)
	assertMoney(t, "0.5", tk.Pricing.OccupancyFactor)
	assertMoney(t, "870", f.getCustomer("C2").Balance)
	assertMoney(t, "125", f.getProvider("P").Balance.Sub(before))
	assert.Equal(t, 0, f.getOption(o.ID).AvailableSeats)

	_, err := f.engine.BookTicket(f.ctx, "C3", o.ID, 1)
	assert.ErrorIs(t, err, booking.ErrSoldOut)
}

func TestBookTicket_Rejections(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")

	t.Run("unregistered customer", func(t *testing.T) {
		_, err := f.engine.BookTicket(f.ctx, "ghost", o.ID, 1)
		assert.ErrorIs(t, err, booking.ErrNotRegistered)
	})
	t.Run("unknown option", func(t *testing.T) {
		_, err := f.engine.BookTicket(f.ctx, "C", "nope", 1)
		assert.ErrorIs(t, err, booking.ErrNotFound)
	})
	t.Run("seat out of range", func(t *testing.T) {
		for _, seat := range []int{0, -1, 3} {
			_, err := f.engine.BookTicket(f.ctx, "C", o.ID, seat)
			assert.ErrorIs(t, err, booking.ErrInvalidSeat)
			assert.ErrorIs(t, err, booking.ErrInvalidArgument)
		}
	})
	t.Run("departure passed", func(t *testing.T) {
		f.clock.Set(t0.Add(72 * time.Hour))
		defer f.clock.Set(t0)
		_, err := f.engine.BookTicket(f.ctx, "C", o.ID, 1)
		assert.ErrorIs(t, err, booking.ErrDeparturePassed)
	})

	// Nothing above left a trace
	assert.Equal(t, 2, f.getOption(o.ID).AvailableSeats)
	assertMoney(t, "1000", f.getCustomer("C").Balance)
}

func TestBookTicket_InsufficientBalanceCountsTheFee(t *testing.T) {
	// GIVEN: a listing whose price plus fee exceeds the customer's balance
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "998"))
	f.customer("C")

	// WHEN: booking
	_, err := f.engine.BookTicket(f.ctx, "C", o.ID, 1)

	// THEN: rejected with the shortfall details
	var ib *booking.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assertMoney(t, "1000", ib.Available)
	assertMoney(t, "1003", ib.Required)
	assert.Equal(t, 2, f.getOption(o.ID).AvailableSeats)
}

func TestBookTicket_CancelledListingIsNotBookable(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")
	_, err := f.engine.CancelTravelListing(f.ctx, "P", o.ID)
	require.NoError(t, err)

	_, err = f.engine.BookTicket(f.ctx, "C", o.ID, 1)
	assert.ErrorIs(t, err, booking.ErrWrongState)
}

func TestBookTicket_SameInstantGetsDistinctKeys(t *testing.T) {
	// GIVEN: a frozen clock
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 3, "100"))
	f.customer("C")

	// WHEN: the same customer books twice at the same instant
	a := f.book("C", o.ID, 1)
	b := f.book("C", o.ID, 2)

	// THEN: both tickets exist under different keys
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, f.getCustomer("C").Bookings, 2)
}

// =============================================================================
// CONFIRMATION
// =============================================================================

func TestConfirmTicket(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")
	tk := f.book("C", o.ID, 1)

	confirmed, err := f.engine.ConfirmTicket(f.ctx, "scheduler", tk.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, confirmed.Status)
	assert.Equal(t, 1, confirmed.ConfirmationCount)

	// Second confirmation fails and changes nothing
	_, err = f.engine.ConfirmTicket(f.ctx, "scheduler", tk.ID)
	var ws *booking.WrongStateError
	require.ErrorAs(t, err, &ws)
	assert.Equal(t, string(booking.StatusConfirmed), ws.Status)
	assert.Equal(t, 1, f.getTicket(tk.ID).ConfirmationCount)

	_, err = f.engine.ConfirmTicket(f.ctx, "scheduler", "not-a-ticket")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelTicket_FullRefundThreeDaysOut(t *testing.T) {
	// GIVEN: C holds seat 1 on O, departing in 3 days
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")
	tk := f.book("C", o.ID, 1)

	// WHEN: C cancels now
	cancelled, err := f.engine.CancelTicket(f.ctx, "C", tk.ID, t0)
	require.NoError(t, err)

	// THEN: full refund moves from P back to C and the seat reopens
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assertMoney(t, "100", cancelled.RefundAmount)
	assertMoney(t, "995", f.getCustomer("C").Balance)
	assertMoney(t, "95", f.getProvider("P").Balance)
	opt := f.getOption(o.ID)
	assert.Equal(t, 2, opt.AvailableSeats)
	assert.Empty(t, opt.BookedSeats)
}

func TestCancelTicket_RefundTiersConserveMoney(t *testing.T) {
	tests := []struct {
		name   string
		at     time.Time
		refund string
	}{
		{"two days notice", t0.Add(24 * time.Hour), "100"},
		{"thirty hours notice", t0.Add(42 * time.Hour), "80"},
		{"twelve hours notice", t0.Add(60 * time.Hour), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider("P")
			o := f.option("P", listing(3, 2, "100"))
			f.customer("C")
			tk := f.book("C", o.ID, 1)
			cBefore, pBefore := f.getCustomer("C").Balance, f.getProvider("P").Balance

			cancelled, err := f.engine.CancelTicket(f.ctx, "C", tk.ID, tt.at)
			require.NoError(t, err)

			assertMoney(t, tt.refund, cancelled.RefundAmount)
			assertMoney(t, tt.refund, f.getCustomer("C").Balance.Sub(cBefore))
			assertMoney(t, tt.refund, pBefore.Sub(f.getProvider("P").Balance))
			assert.Equal(t, 2, f.getOption(o.ID).AvailableSeats)
		})
	}
}

func TestCancelTicket_Rejections(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	f.customer("C")
	f.customer("C2")
	tk := f.book("C", o.ID, 1)

	_, err := f.engine.CancelTicket(f.ctx, "C2", tk.ID, t0)
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)

	_, err = f.engine.CancelTicket(f.ctx, "C", tk.ID, t0)
	require.NoError(t, err)

	_, err = f.engine.CancelTicket(f.ctx, "C", tk.ID, t0)
	assert.ErrorIs(t, err, booking.ErrWrongState)

	_, err = f.engine.ConfirmTicket(f.ctx, "scheduler", tk.ID)
	assert.ErrorIs(t, err, booking.ErrWrongState, "cancelled tickets never come back")

	assertMoney(t, "995", f.getCustomer("C").Balance)
	assert.True(t, f.getProvider("P").Balance.Equal(decimal.NewFromInt(95)))
}

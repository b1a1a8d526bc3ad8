package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/booking"
)

func TestDeleteCustomer_FreesSeatsAndReclaimsRevenue(t *testing.T) {
	// GIVEN: C holds an active and a cancelled ticket
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 3, "100"))
	f.customer("C")
	active := f.book("C", o.ID, 1)
	gone := f.book("C", o.ID, 2)
	_, err := f.engine.CancelTicket(f.ctx, "C", gone.ID, t0)
	require.NoError(t, err)
	pBefore := f.getProvider("P").Balance

	// WHEN: C deletes the account
	require.NoError(t, f.engine.DeleteCustomer(f.ctx, "C"))

	// THEN: the active ticket is cancelled, its price leaves P and the seat reopens
	assert.Equal(t, booking.StatusCancelled, f.getTicket(active.ID).Status)
	assertMoney(t, active.PricePaid.String(), pBefore.Sub(f.getProvider("P").Balance))
	opt := f.getOption(o.ID)
	assert.Equal(t, 3, opt.AvailableSeats)
	assert.Empty(t, opt.BookedSeats)

	_, err = f.engine.GetCustomer(f.ctx, "C")
	assert.ErrorIs(t, err, booking.ErrNotRegistered)
	assert.ErrorIs(t, f.engine.DeleteCustomer(f.ctx, "C"), booking.ErrNotRegistered)

	// Tickets are never physically deleted
	assert.Equal(t, booking.StatusCancelled, f.getTicket(gone.ID).Status)
}

func TestDeleteProvider_WithdrawsUpcomingOptionsOnly(t *testing.T) {
	// GIVEN: P has an option that departs tomorrow and one in five days, both booked
	f := newFixture(t)
	f.provider("P")
	soon := f.option("P", listing(1, 2, "100"))
	later := f.option("P", listing(5, 2, "100"))
	f.customer("C")
	f.customer("C2")
	departed := f.book("C", soon.ID, 1)
	upcoming := f.book("C2", later.ID, 1)

	// WHEN: P deletes the account after the first option left
	f.clock.Set(t0.Add(36 * time.Hour))
	require.NoError(t, f.engine.DeleteProvider(f.ctx, "P"))

	// THEN: only the upcoming option is cancelled and refunded
	assert.Equal(t, booking.StatusCancelled, f.getTicket(upcoming.ID).Status)
	assertMoney(t, "1000", f.getCustomer("C2").Balance.Add(f.engine.Config().BookingFee))
	assert.Equal(t, booking.OptionCancelled, f.getOption(later.ID).Status)
	assert.Equal(t, 2, f.getOption(later.ID).AvailableSeats)

	assert.Equal(t, booking.StatusPendingConfirmation, f.getTicket(departed.ID).Status)
	assert.Equal(t, booking.OptionActive, f.getOption(soon.ID).Status)
	assert.Equal(t, 1, f.getOption(soon.ID).AvailableSeats)

	_, err := f.engine.GetProvider(f.ctx, "P")
	assert.ErrorIs(t, err, booking.ErrNotRegistered)
}

func TestDeleteCustomer_AfterProviderGone(t *testing.T) {
	// GIVEN: C's ticket is on a departed option whose provider was deleted
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(1, 2, "100"))
	f.customer("C")
	tk := f.book("C", o.ID, 1)
	f.clock.Set(t0.Add(48 * time.Hour))
	require.NoError(t, f.engine.DeleteProvider(f.ctx, "P"))

	// WHEN / THEN: the customer can still leave
	require.NoError(t, f.engine.DeleteCustomer(f.ctx, "C"))
	assert.Equal(t, booking.StatusCancelled, f.getTicket(tk.ID).Status)
}

package booking_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/ledger"
)

func TestAddTravelOption(t *testing.T) {
	// GIVEN: a registered provider
	f := newFixture(t)
	f.provider("P")

	// WHEN: listing an option
	o := f.option("P", listing(3, 40, "100"))

	// THEN: seats start free, the fee is debited and the id carries the listing tuple
	assert.Equal(t, 40, o.AvailableSeats)
	assert.Empty(t, o.BookedSeats)
	assert.Equal(t, booking.OptionActive, o.Status)
	assert.Equal(t, "P-lines", o.ServiceProvider)
	assert.True(t, strings.HasPrefix(o.ID, "BLR_DEL_2025-03-04_10:00_P_"), o.ID)
	assert.True(t, t0.Add(72*time.Hour).Equal(o.DepartsAt), o.DepartsAt)

	p := f.getProvider("P")
	assertMoney(t, "95", p.Balance)
	assert.Equal(t, []string{o.ID}, p.TravelOptions)
}

func TestAddTravelOption_Rejections(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	f.option("P", listing(3, 2, "100"))

	t.Run("unregistered provider", func(t *testing.T) {
		_, err := f.engine.AddTravelOption(f.ctx, "ghost", listing(3, 2, "100"))
		assert.ErrorIs(t, err, booking.ErrNotRegistered)
	})
	t.Run("departure not in the future", func(t *testing.T) {
		in := listing(0, 2, "100")
		in.DepartureTime = "10:00" // exactly now
		_, err := f.engine.AddTravelOption(f.ctx, "P", in)
		assert.ErrorIs(t, err, booking.ErrDeparturePassed)
	})
	t.Run("identical active listing", func(t *testing.T) {
		_, err := f.engine.AddTravelOption(f.ctx, "P", listing(3, 2, "100"))
		assert.ErrorIs(t, err, booking.ErrDuplicateListing)
	})
	t.Run("bad arguments", func(t *testing.T) {
		bad := []func(*booking.NewTravelOption){
			func(in *booking.NewTravelOption) { in.SeatCapacity = 0 },
			func(in *booking.NewTravelOption) { in.BasePrice = decimal.Zero },
			func(in *booking.NewTravelOption) { in.DepartureDate = "04/03/2025" },
			func(in *booking.NewTravelOption) { in.DepartureTime = "25:00" },
			func(in *booking.NewTravelOption) { in.Source = "" },
		}
		for _, mutate := range bad {
			in := listing(4, 2, "100")
			mutate(&in)
			_, err := f.engine.AddTravelOption(f.ctx, "P", in)
			assert.ErrorIs(t, err, booking.ErrInvalidArgument)
		}
	})

	assertMoney(t, "95", f.getProvider("P").Balance)
}

func TestAddTravelOption_RelistAfterCancel(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(3, 2, "100"))
	_, err := f.engine.CancelTravelListing(f.ctx, "P", o.ID)
	require.NoError(t, err)

	again := f.option("P", listing(3, 2, "100"))
	assert.NotEqual(t, o.ID, again.ID)
}

func TestListTravelOptions(t *testing.T) {
	// GIVEN: options on two routes, one departing soon
	f := newFixture(t)
	f.provider("P")
	soon := f.option("P", listing(1, 2, "100"))
	later := f.option("P", listing(5, 2, "100"))
	other := listing(3, 2, "100")
	other.Destination = "BOM"
	f.option("P", other)

	// WHEN: listing BLR->DEL
	got, err := f.engine.ListTravelOptions(f.ctx, "BLR", "DEL")
	require.NoError(t, err)

	// THEN: only that route
	ids := optionIDs(got)
	assert.ElementsMatch(t, []string{soon.ID, later.ID}, ids)

	// WHEN: the first one departs
	f.clock.Set(t0.Add(24 * time.Hour))
	got, err = f.engine.ListTravelOptions(f.ctx, "BLR", "DEL")
	require.NoError(t, err)
	assert.Equal(t, []string{later.ID}, optionIDs(got))
}

func TestListTravelOptionsSorted(t *testing.T) {
	// GIVEN: three BLR->DEL options from two providers
	f := newFixture(t)
	f.provider("fast")
	f.provider("cheap")
	train := listing(3, 2, "300")
	train.TransportMode = "train"
	a := f.option("fast", train)
	b := f.option("cheap", listing(3, 1, "150"))
	plane := listing(4, 2, "900")
	plane.TransportMode = "flight"
	c := f.option("fast", plane)

	f.customer("C")
	tk := f.book("C", b.ID, 1) // sells out b
	_, err := f.engine.RateProvider(f.ctx, "C", tk.ID, 2, t0.Add(72*time.Hour))
	require.NoError(t, err)
	rating := 4.0
	_, err = f.engine.RegisterProvider(f.ctx, "rated", booking.ProviderRegistration{Name: "r", Rating: &rating})
	require.NoError(t, err)

	query := booking.ListQuery{Source: "BLR", Destination: "DEL"}

	t.Run("by price", func(t *testing.T) {
		q := query
		q.SortBy = booking.SortByPrice
		got, err := f.engine.ListTravelOptionsSorted(f.ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID, a.ID, c.ID}, listingIDs(got))
	})
	t.Run("by rating enriches with provider rating", func(t *testing.T) {
		q := query
		q.SortBy = booking.SortByRating
		got, err := f.engine.ListTravelOptionsSorted(f.ctx, q)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, b.ID, got[0].ID)
		assert.Equal(t, 2.0, got[0].ProviderRating)
		assert.Equal(t, 1, got[0].ProviderNumRatings)
		assert.Zero(t, got[1].ProviderRating)
	})
	t.Run("by transport mode", func(t *testing.T) {
		q := query
		q.SortBy = booking.SortByTransportMode
		got, err := f.engine.ListTravelOptionsSorted(f.ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID, c.ID, a.ID}, listingIDs(got))
	})
	t.Run("filters", func(t *testing.T) {
		lo, hi := decimal.NewFromInt(200), decimal.NewFromInt(1000)
		got, err := f.engine.ListTravelOptionsSorted(f.ctx, booking.ListQuery{
			Source: "BLR", Destination: "DEL",
			Date:          t0.AddDate(0, 0, 3).Format(booking.DateLayout),
			MinPrice:      &lo,
			MaxPrice:      &hi,
			OnlyAvailable: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID}, listingIDs(got))

		got, err = f.engine.ListTravelOptionsSorted(f.ctx, booking.ListQuery{
			Source: "BLR", Destination: "DEL", ServiceProvider: "cheap-lines",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID}, listingIDs(got))

		got, err = f.engine.ListTravelOptionsSorted(f.ctx, booking.ListQuery{
			Source: "BLR", Destination: "DEL", OnlyAvailable: true,
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a.ID, c.ID}, listingIDs(got))
	})
}

func TestDeleteTravelOption(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	f.provider("Q")
	f.customer("C")
	booked := f.option("P", listing(3, 2, "100"))
	empty := f.option("P", listing(4, 2, "100"))
	f.book("C", booked.ID, 1)

	t.Run("unknown", func(t *testing.T) {
		assert.ErrorIs(t, f.engine.DeleteTravelOption(f.ctx, "P", "nope"), booking.ErrNotFound)
	})
	t.Run("someone else's", func(t *testing.T) {
		assert.ErrorIs(t, f.engine.DeleteTravelOption(f.ctx, "Q", empty.ID), booking.ErrNotAuthorized)
	})
	t.Run("has bookings", func(t *testing.T) {
		assert.ErrorIs(t, f.engine.DeleteTravelOption(f.ctx, "P", booked.ID), booking.ErrHasBookings)
	})
	t.Run("departed", func(t *testing.T) {
		f.clock.Set(t0.Add(96 * time.Hour))
		defer f.clock.Set(t0)
		assert.ErrorIs(t, f.engine.DeleteTravelOption(f.ctx, "P", empty.ID), booking.ErrDeparturePassed)
	})

	// WHEN: deleting the untouched option before departure
	require.NoError(t, f.engine.DeleteTravelOption(f.ctx, "P", empty.ID))

	// THEN: it is gone, including from the provider's list
	_, err := f.engine.TravelOption(f.ctx, empty.ID)
	assert.ErrorIs(t, err, booking.ErrNotFound)
	assert.Equal(t, []string{booked.ID}, f.getProvider("P").TravelOptions)
}

func TestCancelTravelListing_RefundsBeforeDeparture(t *testing.T) {
	// GIVEN: two customers on O, one of them confirmed, plus a cancelled ticket
	f := newFixture(t)
	f.provider("P")
	f.provider("Q")
	o := f.option("P", listing(3, 3, "100"))
	f.customer("C1")
	f.customer("C2")
	f.customer("C3")
	t1 := f.book("C1", o.ID, 1)
	t2 := f.book("C2", o.ID, 2)
	t3 := f.book("C3", o.ID, 3)
	_, err := f.engine.ConfirmTicket(f.ctx, "scheduler", t2.ID)
	require.NoError(t, err)
	_, err = f.engine.CancelTicket(f.ctx, "C3", t3.ID, t0)
	require.NoError(t, err)
	pBefore := f.getProvider("P").Balance

	_, err = f.engine.CancelTravelListing(f.ctx, "Q", o.ID)
	assert.ErrorIs(t, err, booking.ErrNotAuthorized)

	// WHEN: P cancels the listing
	res, err := f.engine.CancelTravelListing(f.ctx, "P", o.ID)
	require.NoError(t, err)

	// THEN: both active tickets are refunded in full
	assert.True(t, res.RefundAllowed)
	assert.Equal(t, 2, res.CancelledTickets)
	total := t1.PricePaid.Add(t2.PricePaid)
	assertMoney(t, total.String(), res.TotalRefund)
	assertMoney(t, pBefore.Sub(total).String(), f.getProvider("P").Balance)
	assertMoney(t, "995", f.getCustomer("C1").Balance)
	assertMoney(t, "995", f.getCustomer("C2").Balance)

	assert.Equal(t, booking.StatusCancelled, f.getTicket(t1.ID).Status)
	assert.Equal(t, booking.StatusCancelled, f.getTicket(t2.ID).Status)
	opt := f.getOption(o.ID)
	assert.Equal(t, booking.OptionCancelled, opt.Status)
	assert.Equal(t, 3, opt.AvailableSeats)
	assert.Empty(t, opt.BookedSeats)

	// Still listed, as cancelled
	listed, err := f.engine.ListTravelOptions(f.ctx, "BLR", "DEL")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, booking.OptionCancelled, listed[0].Status)
}

func TestCancelTravelListing_NoRefundAfterDeparture(t *testing.T) {
	f := newFixture(t)
	f.provider("P")
	o := f.option("P", listing(1, 2, "100"))
	f.customer("C")
	tk := f.book("C", o.ID, 1)
	pBefore := f.getProvider("P").Balance

	f.clock.Set(t0.Add(48 * time.Hour))
	res, err := f.engine.CancelTravelListing(f.ctx, "P", o.ID)
	require.NoError(t, err)

	assert.False(t, res.RefundAllowed)
	assert.Equal(t, 1, res.CancelledTickets)
	assertMoney(t, "0", res.TotalRefund)
	assertMoney(t, pBefore.String(), f.getProvider("P").Balance)
	assertMoney(t, "895", f.getCustomer("C").Balance)
	assert.Equal(t, booking.StatusCancelled, f.getTicket(tk.ID).Status)
}

func optionIDs(opts []booking.TravelOption) []string {
	ids := make([]string, len(opts))
	for i, o := range opts {
		ids[i] = o.ID
	}
	return ids
}

func listingIDs(ls []booking.Listing) []string {
	ids := make([]string, len(ls))
	for i, l := range ls {
		ids[i] = l.ID
	}
	return ids
}

// corrupt overwrites a stored record with bytes that do not decode.
func (f *fixture) corrupt(kind, id string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Put(f.ctx, ledger.CompositeKey(kind, id), []byte{0xff}))
}

func TestInventory_StoreFailuresAreNotSkipped(t *testing.T) {
	t.Run("duplicate check", func(t *testing.T) {
		// GIVEN: one of the provider's listed options is unreadable
		f := newFixture(t)
		f.provider("P")
		o := f.option("P", listing(3, 2, "100"))
		f.corrupt("travelOption", o.ID)

		// WHEN: listing another option
		_, err := f.engine.AddTravelOption(f.ctx, "P", listing(4, 2, "100"))

		// THEN: the failure surfaces instead of passing the duplicate check
		require.Error(t, err)
		assert.False(t, booking.IsClientError(err))
	})

	t.Run("rating enrichment", func(t *testing.T) {
		f := newFixture(t)
		f.provider("P")
		f.option("P", listing(3, 2, "100"))
		f.corrupt("provider", "P")

		_, err := f.engine.ListTravelOptionsSorted(f.ctx, booking.ListQuery{
			Source: "BLR", Destination: "DEL", SortBy: booking.SortByRating,
		})
		require.Error(t, err)
		assert.False(t, booking.IsClientError(err))
	})

	t.Run("delete unlinks from provider", func(t *testing.T) {
		f := newFixture(t)
		f.provider("P")
		o := f.option("P", listing(3, 2, "100"))
		f.corrupt("provider", "P")

		err := f.engine.DeleteTravelOption(f.ctx, "P", o.ID)
		require.Error(t, err)
		assert.False(t, booking.IsClientError(err))

		// Nothing was removed
		f.getOption(o.ID)
	})

	t.Run("deleted provider is still skipped", func(t *testing.T) {
		f := newFixture(t)
		f.provider("P")
		f.option("P", listing(3, 2, "100"))
		require.NoError(t, f.engine.DeleteProvider(f.ctx, "P"))

		listings, err := f.engine.ListTravelOptionsSorted(f.ctx, booking.ListQuery{
			Source: "BLR", Destination: "DEL", SortBy: booking.SortByRating,
		})
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Zero(t, listings[0].ProviderNumRatings)
	})
}

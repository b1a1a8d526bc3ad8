package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/ledger"
	"github.com/warp/travel-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	clock  *ledger.FixedClock
	store  *store.Memory
	engine *booking.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := ledger.NewFixedClock(t0)
	mem := store.NewMemory()
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		clock:  clock,
		store:  mem,
		engine: booking.New(mem, booking.WithClock(clock)),
	}
}

func (f *fixture) customer(id string) *booking.Customer {
	f.t.Helper()
	c, err := f.engine.RegisterCustomer(f.ctx, booking.Identity(id), "Customer "+id, id+"@example.com")
	require.NoError(f.t, err)
	return c
}

func (f *fixture) provider(id string) *booking.Provider {
	f.t.Helper()
	p, err := f.engine.RegisterProvider(f.ctx, booking.Identity(id), booking.ProviderRegistration{
		Name:            "Provider " + id,
		Contact:         id + "@example.com",
		ServiceProvider: id + "-lines",
	})
	require.NoError(f.t, err)
	return p
}

// listing describes an option departing daysAhead days after t0 at 10:00.
func listing(daysAhead, capacity int, base string) booking.NewTravelOption {
	return booking.NewTravelOption{
		Source:        "BLR",
		Destination:   "DEL",
		DepartureDate: t0.AddDate(0, 0, daysAhead).Format(booking.DateLayout),
		DepartureTime: "10:00",
		TransportMode: "bus",
		SeatCapacity:  capacity,
		BasePrice:     decimal.RequireFromString(base),
	}
}

func (f *fixture) option(providerID string, in booking.NewTravelOption) *booking.TravelOption {
	f.t.Helper()
	o, err := f.engine.AddTravelOption(f.ctx, booking.Identity(providerID), in)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) book(customerID, optionID string, seat int) *booking.Ticket {
	f.t.Helper()
	tk, err := f.engine.BookTicket(f.ctx, booking.Identity(customerID), optionID, seat)
	require.NoError(f.t, err)
	return tk
}

func (f *fixture) getCustomer(id string) *booking.Customer {
	f.t.Helper()
	c, err := f.engine.GetCustomer(f.ctx, booking.Identity(id))
	require.NoError(f.t, err)
	return c
}

func (f *fixture) getProvider(id string) *booking.Provider {
	f.t.Helper()
	p, err := f.engine.GetProvider(f.ctx, booking.Identity(id))
	require.NoError(f.t, err)
	return p
}

func (f *fixture) getOption(id string) *booking.TravelOption {
	f.t.Helper()
	o, err := f.engine.TravelOption(f.ctx, id)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) getTicket(id ledger.Key) *booking.Ticket {
	f.t.Helper()
	tk, err := f.engine.Ticket(f.ctx, id)
	require.NoError(f.t, err)
	return tk
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

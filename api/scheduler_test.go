package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/travel-ledger/api"
	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/ledger"
	"github.com/warp/travel-ledger/ledger/store"
)

func newSchedulerFixture(t *testing.T) (*ledger.FixedClock, *booking.Engine, *booking.TravelOption) {
	t.Helper()
	ctx := context.Background()
	clock := ledger.NewFixedClock(t0)
	engine := booking.New(store.NewMemory(), booking.WithClock(clock))

	_, err := engine.RegisterProvider(ctx, "P", booking.ProviderRegistration{Name: "Provider", ServiceProvider: "p-lines"})
	require.NoError(t, err)
	o, err := engine.AddTravelOption(ctx, "P", booking.NewTravelOption{
		Source: "BLR", Destination: "DEL", DepartureDate: "2025-03-04", DepartureTime: "10:00",
		TransportMode: "bus", SeatCapacity: 3, BasePrice: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	for _, c := range []booking.Identity{"C1", "C2"} {
		_, err := engine.RegisterCustomer(ctx, c, string(c), "")
		require.NoError(t, err)
	}
	return clock, engine, o
}

func TestScheduler_ConfirmsTicketsAfterDelay(t *testing.T) {
	ctx := context.Background()
	clock, engine, o := newSchedulerFixture(t)
	s := api.NewConfirmationScheduler(engine, nil)

	// GIVEN: one old and one fresh pending ticket
	old, err := engine.BookTicket(ctx, "C1", o.ID, 1)
	require.NoError(t, err)
	clock.Advance(3 * time.Minute)
	fresh, err := engine.BookTicket(ctx, "C2", o.ID, 2)
	require.NoError(t, err)

	// WHEN: the sweep runs
	res := s.RunOnce(ctx)

	// THEN: only the old ticket is confirmed; departure is days away
	assert.Equal(t, 1, res.Confirmed)
	assert.Empty(t, res.AutoConfirmed)
	assert.Zero(t, res.Failures)

	got, err := engine.Ticket(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	got, err = engine.Ticket(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingConfirmation, got.Status)

	trail, err := engine.AuditTrail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, string(api.SchedulerIdentity), trail[0].Actor)
}

func TestScheduler_AutoConfirmsNearDeparture(t *testing.T) {
	ctx := context.Background()
	clock, engine, o := newSchedulerFixture(t)
	s := api.NewConfirmationScheduler(engine, nil)

	// GIVEN: a ticket booked an hour before departure
	clock.Set(o.DepartsAt.Add(-time.Hour))
	tk, err := engine.BookTicket(ctx, "C1", o.ID, 1)
	require.NoError(t, err)

	// WHEN: the sweep runs before the confirmation delay elapsed
	res := s.RunOnce(ctx)

	// THEN: the option is settled instead
	assert.Zero(t, res.Confirmed)
	require.Len(t, res.AutoConfirmed, 1)
	assert.Equal(t, booking.AutoConfirmResult{TravelOptionID: o.ID, Confirmed: 1}, res.AutoConfirmed[0])

	got, err := engine.Ticket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.Equal(t, 2, got.ConfirmationCount)
}

func TestScheduler_IgnoresDepartedAndCancelledOptions(t *testing.T) {
	ctx := context.Background()
	clock, engine, o := newSchedulerFixture(t)
	s := api.NewConfirmationScheduler(engine, nil)
	s.ConfirmDelay = time.Hour

	_, err := engine.BookTicket(ctx, "C1", o.ID, 1)
	require.NoError(t, err)

	// Well before the window nothing happens
	res := s.RunOnce(ctx)
	assert.Zero(t, res.Confirmed)
	assert.Empty(t, res.AutoConfirmed)

	// After departure the option is out of the window too, but the ticket
	// is old enough to be confirmed
	clock.Set(o.DepartsAt.Add(time.Minute))
	res = s.RunOnce(ctx)
	assert.Equal(t, 1, res.Confirmed)
	assert.Empty(t, res.AutoConfirmed)
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	_, engine, _ := newSchedulerFixture(t)
	s := api.NewConfirmationScheduler(engine, nil)
	s.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

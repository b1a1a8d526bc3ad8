/*
scheduler.go - Ticket confirmation scheduler

PURPOSE:
  Drives the time-based parts of the ticket lifecycle that no customer
  triggers: confirming pending tickets once the confirmation delay has
  elapsed, and settling options that are about to depart.

DESIGN:
  - Run ticks every Interval until its context is cancelled
  - Each sweep first confirms PENDING tickets booked at least ConfirmDelay
    ago, then auto-confirms every active option departing within
    AutoConfirmWindow that still has pending tickets
  - A failed ticket or option is logged and skipped; the sweep goes on

CONFIGURATION:
  - Interval:          How often to sweep (default: 2m)
  - ConfirmDelay:      Age at which a pending ticket is confirmed (default: 2m)
  - AutoConfirmWindow: How close to departure options are settled (default: 2h)

USAGE:
  scheduler := NewConfirmationScheduler(engine, logger)
  go scheduler.Run(ctx)

  // Manual trigger (POST /api/admin/sweep)
  result := scheduler.RunOnce(ctx)

SEE ALSO:
  - booking/tickets.go: ConfirmTicket
  - booking/autoconfirm.go: AutoConfirmTickets
*/
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/warp/travel-ledger/booking"
)

// SchedulerIdentity is the caller recorded in the audit trail for sweeps.
const SchedulerIdentity booking.Identity = "system:scheduler"

// ConfirmationScheduler confirms and settles tickets over time.
type ConfirmationScheduler struct {
	Engine            *booking.Engine
	Interval          time.Duration
	ConfirmDelay      time.Duration
	AutoConfirmWindow time.Duration

	logger *slog.Logger
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Confirmed     int                         `json:"confirmed"`
	AutoConfirmed []booking.AutoConfirmResult `json:"autoConfirmed"`
	Failures      int                         `json:"failures"`
}

// NewConfirmationScheduler creates a scheduler with the default timings.
func NewConfirmationScheduler(engine *booking.Engine, logger *slog.Logger) *ConfirmationScheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ConfirmationScheduler{
		Engine:            engine,
		Interval:          2 * time.Minute,
		ConfirmDelay:      2 * time.Minute,
		AutoConfirmWindow: 2 * time.Hour,
		logger:            logger.With("component", "scheduler"),
	}
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *ConfirmationScheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.Interval)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		}
	}
}

// RunOnce performs a single sweep at the engine's current time.
func (s *ConfirmationScheduler) RunOnce(ctx context.Context) SweepResult {
	res := SweepResult{AutoConfirmed: []booking.AutoConfirmResult{}}
	now := s.Engine.Now()

	pending, err := s.Engine.PendingTickets(ctx)
	if err != nil {
		s.logger.Error("listing pending tickets", "error", err)
		res.Failures++
		return res
	}

	stillPending := make(map[string]bool)
	for _, t := range pending {
		if now.Sub(t.BookingTime) < s.ConfirmDelay {
			stillPending[t.TravelOptionID] = true
			continue
		}
		if _, err := s.Engine.ConfirmTicket(ctx, SchedulerIdentity, t.ID); err != nil {
			s.logger.Warn("confirming ticket", "ticket", t.ID.String(), "error", err)
			stillPending[t.TravelOptionID] = true
			res.Failures++
			continue
		}
		res.Confirmed++
	}

	if len(stillPending) > 0 {
		options, err := s.Engine.AllTravelOptions(ctx)
		if err != nil {
			s.logger.Error("listing travel options", "error", err)
			res.Failures++
			return res
		}
		for _, o := range options {
			if o.Cancelled() || !stillPending[o.ID] {
				continue
			}
			if s.checkWindow(&o, now) != nil {
				continue
			}
			ac, err := s.Engine.AutoConfirmTickets(ctx, SchedulerIdentity, o.ID, now)
			if err != nil {
				s.logger.Warn("auto-confirming option", "travel_option", o.ID, "error", err)
				res.Failures++
				continue
			}
			res.AutoConfirmed = append(res.AutoConfirmed, *ac)
		}
	}

	if res.Confirmed > 0 || len(res.AutoConfirmed) > 0 || res.Failures > 0 {
		s.logger.Info("sweep finished",
			"confirmed", res.Confirmed,
			"options_settled", len(res.AutoConfirmed),
			"failures", res.Failures)
	}
	return res
}

// checkWindow reports whether o may be auto-confirmed at now: departure must
// lie within [now, now+AutoConfirmWindow].
func (s *ConfirmationScheduler) checkWindow(o *booking.TravelOption, now time.Time) error {
	until := o.DepartsAt.Sub(now)
	switch {
	case until < 0:
		return fmt.Errorf("%w: departed %s", booking.ErrDeparturePassed, o.DepartsAt.Format(time.RFC3339))
	case until > s.AutoConfirmWindow:
		return fmt.Errorf("%w: auto-confirm opens %s before departure", booking.ErrTooEarly, s.AutoConfirmWindow)
	}
	return nil
}

package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/ledger"
)

// Audit actions of the inventory subsystem.
const (
	AuditOptionAdded     ledger.AuditAction = "travel_option_added"
	AuditOptionDeleted   ledger.AuditAction = "travel_option_deleted"
	AuditListingCanceled ledger.AuditAction = "travel_listing_cancelled"
)

// Departure layouts of NewTravelOption.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// AddTravelOption lists a new travel option for the calling provider and
// debits the listing fee.
func (e *Engine) AddTravelOption(ctx context.Context, caller Identity, in NewTravelOption) (*TravelOption, error) {
	var out *TravelOption
	err := e.update(ctx, "AddTravelOption", AuditOptionAdded, caller, func(tx *txn) error {
		p, err := tx.provider(caller)
		if err != nil {
			return err
		}
		departsAt, err := validateListing(in, tx.cfg.Location)
		if err != nil {
			return err
		}
		if !tx.now.Before(departsAt) {
			return fmt.Errorf("%w: departure %s", ErrDeparturePassed, departsAt.Format(time.RFC3339))
		}

		for _, id := range p.TravelOptions {
			o, err := tx.option(id)
			if errors.Is(err, ErrNotFound) {
				continue // deleted
			}
			if err != nil {
				return err
			}
			if !o.Cancelled() && sameListing(o, in) {
				return fmt.Errorf("%w: %s", ErrDuplicateListing, o.ID)
			}
		}

		base := strings.Join([]string{in.Source, in.Destination, in.DepartureDate, in.DepartureTime, string(caller)}, "_")
		stamp, err := tx.stamp(func(s string) ledger.Key { return optionKey(base + "_" + s) })
		if err != nil {
			return err
		}

		o := &TravelOption{
			ID:              base + "_" + stamp,
			ProviderID:      caller,
			ServiceProvider: p.ServiceProvider,
			Source:          in.Source,
			Destination:     in.Destination,
			DepartureDate:   in.DepartureDate,
			DepartureTime:   in.DepartureTime,
			DepartsAt:       departsAt,
			TransportMode:   in.TransportMode,
			SeatCapacity:    in.SeatCapacity,
			AvailableSeats:  in.SeatCapacity,
			BasePrice:       in.BasePrice,
			Status:          OptionActive,
			CreatedAt:       tx.now,
		}
		p.Balance = p.Balance.Sub(tx.cfg.ListingFee)
		p.TravelOptions = append(p.TravelOptions, o.ID)

		tx.putOption(o)
		tx.putProvider(p)
		tx.audit(o.ID, "fee", tx.cfg.ListingFee.String(), "provider_balance", p.Balance.String())
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validateListing(in NewTravelOption, loc *time.Location) (time.Time, error) {
	for name, v := range map[string]string{
		"source":         in.Source,
		"destination":    in.Destination,
		"departure date": in.DepartureDate,
		"departure time": in.DepartureTime,
		"transport mode": in.TransportMode,
	} {
		if err := ledger.ValidatePart(v); err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidArgument, name, err)
		}
	}
	if in.SeatCapacity < 1 {
		return time.Time{}, fmt.Errorf("%w: seat capacity %d", ErrInvalidArgument, in.SeatCapacity)
	}
	if !in.BasePrice.IsPositive() {
		return time.Time{}, fmt.Errorf("%w: base price %s", ErrInvalidArgument, in.BasePrice)
	}
	departsAt, err := time.ParseInLocation(DateLayout+" "+TimeLayout, in.DepartureDate+" "+in.DepartureTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: departure: %v", ErrInvalidArgument, err)
	}
	return departsAt, nil
}

func sameListing(o *TravelOption, in NewTravelOption) bool {
	return o.Source == in.Source &&
		o.Destination == in.Destination &&
		o.DepartureDate == in.DepartureDate &&
		o.DepartureTime == in.DepartureTime &&
		o.TransportMode == in.TransportMode &&
		o.SeatCapacity == in.SeatCapacity &&
		o.BasePrice.Equal(in.BasePrice)
}

// =============================================================================
// LISTING
// =============================================================================

// ListTravelOptions returns the options between source and destination that
// have not departed yet, in scan order. Cancelled listings stay visible.
func (e *Engine) ListTravelOptions(ctx context.Context, source, destination string) ([]TravelOption, error) {
	load := func(ctx context.Context) ([]TravelOption, error) {
		return e.routeOptions(ctx, source, destination)
	}
	var (
		options []TravelOption
		err     error
	)
	if e.routes != nil {
		options, err = e.routes.Route(ctx, source, destination, load)
	} else {
		options, err = load(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("booking.ListTravelOptions: %w", err)
	}

	now := e.clock.Now()
	out := options[:0:0]
	for _, o := range options {
		if !o.Departed(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// routeOptions scans every option and keeps the route's ones.
func (e *Engine) routeOptions(ctx context.Context, source, destination string) ([]TravelOption, error) {
	var out []TravelOption
	err := e.view(ctx, "routeOptions", "", func(tx *txn) error {
		_, all, err := scan[TravelOption](tx, ledger.CompositeKey(kindTravelOption))
		if err != nil {
			return err
		}
		for _, o := range all {
			if o.Source == source && o.Destination == destination {
				out = append(out, *o)
			}
		}
		return nil
	})
	return out, err
}

// ListTravelOptionsSorted filters a route listing by date, availability,
// base price range and service provider label, in that order, attaches each
// provider's current rating and sorts by q.SortBy. An unknown sort key keeps
// scan order.
func (e *Engine) ListTravelOptionsSorted(ctx context.Context, q ListQuery) ([]Listing, error) {
	options, err := e.ListTravelOptions(ctx, q.Source, q.Destination)
	if err != nil {
		return nil, err
	}

	filtered := options[:0]
	for _, o := range options {
		switch {
		case q.Date != "" && o.DepartureDate != q.Date:
		case q.OnlyAvailable && (o.AvailableSeats <= 0 || o.Cancelled()):
		case q.MinPrice != nil && o.BasePrice.LessThan(*q.MinPrice):
		case q.MaxPrice != nil && o.BasePrice.GreaterThan(*q.MaxPrice):
		case q.ServiceProvider != "" && o.ServiceProvider != q.ServiceProvider:
		default:
			filtered = append(filtered, o)
		}
	}

	listings := make([]Listing, len(filtered))
	err = e.view(ctx, "ListTravelOptionsSorted", "", func(tx *txn) error {
		for i, o := range filtered {
			listings[i] = Listing{TravelOption: o}
			p, err := tx.provider(o.ProviderID)
			if errors.Is(err, ErrNotRegistered) {
				continue // provider deleted, rating unknown
			}
			if err != nil {
				return err
			}
			listings[i].ProviderRating = p.Rating
			listings[i].ProviderNumRatings = p.NumRatings
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch q.SortBy {
	case SortByPrice:
		sort.SliceStable(listings, func(i, j int) bool {
			return listings[i].BasePrice.LessThan(listings[j].BasePrice)
		})
	case SortByRating:
		sort.SliceStable(listings, func(i, j int) bool {
			return listings[i].ProviderRating > listings[j].ProviderRating
		})
	case SortByTransportMode:
		sort.SliceStable(listings, func(i, j int) bool {
			return listings[i].TransportMode < listings[j].TransportMode
		})
	}
	return listings, nil
}

// =============================================================================
// WITHDRAWAL
// =============================================================================

// DeleteTravelOption removes an option nobody has booked, before departure.
func (e *Engine) DeleteTravelOption(ctx context.Context, caller Identity, id string) error {
	return e.update(ctx, "DeleteTravelOption", AuditOptionDeleted, caller, func(tx *txn) error {
		o, err := tx.option(id)
		if err != nil {
			return err
		}
		if o.ProviderID != caller {
			return fmt.Errorf("%w: travel option belongs to another provider", ErrNotAuthorized)
		}
		if o.Departed(tx.now) {
			return fmt.Errorf("%w: departed %s", ErrDeparturePassed, o.DepartsAt.Format(time.RFC3339))
		}
		if o.AvailableSeats != o.SeatCapacity {
			return fmt.Errorf("%w: %d of %d seats sold", ErrHasBookings, o.SeatCapacity-o.AvailableSeats, o.SeatCapacity)
		}

		tx.remove(optionKey(o.ID))
		tx.touched[o.ID] = route{source: o.Source, destination: o.Destination}
		p, err := tx.provider(caller)
		if err != nil && !errors.Is(err, ErrNotRegistered) {
			return err
		}
		if p != nil {
			p.TravelOptions = slices.DeleteFunc(p.TravelOptions, func(s string) bool { return s == o.ID })
			tx.putProvider(p)
		}
		tx.audit(o.ID)
		return nil
	})
}

// CancelTravelListing withdraws a listing that may already have bookings.
// Every active ticket is cancelled; before departure each customer gets the
// full price back from the provider. The listing stays visible as cancelled
// with all seats free.
func (e *Engine) CancelTravelListing(ctx context.Context, caller Identity, id string) (*ListingCancellation, error) {
	var out *ListingCancellation
	err := e.update(ctx, "CancelTravelListing", AuditListingCanceled, caller, func(tx *txn) error {
		o, err := tx.option(id)
		if err != nil {
			return err
		}
		if o.ProviderID != caller {
			return fmt.Errorf("%w: travel option belongs to another provider", ErrNotAuthorized)
		}
		res, err := tx.withdrawOption(o, !o.Departed(tx.now))
		if err != nil {
			return err
		}
		if res.RefundAllowed {
			p, err := tx.provider(o.ProviderID)
			if err != nil {
				return err
			}
			p.Balance = p.Balance.Sub(res.TotalRefund)
			tx.putProvider(p)
		}
		tx.audit(o.ID,
			"cancelled_tickets", strconv.Itoa(res.CancelledTickets),
			"total_refund", res.TotalRefund.String())
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withdrawOption cancels every active ticket of o, refunding customers in
// full when refund is set, and marks o cancelled with all seats free. The
// provider debit is left to the caller.
func (tx *txn) withdrawOption(o *TravelOption, refund bool) (*ListingCancellation, error) {
	tickets, err := tx.ticketsOf(o.ID)
	if err != nil {
		return nil, err
	}
	res := &ListingCancellation{TravelOptionID: o.ID, RefundAllowed: refund, TotalRefund: decimal.Zero}
	for _, t := range tickets {
		if !t.Status.Active() {
			continue
		}
		if refund {
			c, err := tx.customer(t.CustomerID)
			if err != nil {
				return nil, err
			}
			c.Balance = c.Balance.Add(t.PricePaid)
			tx.putCustomer(c)
			t.RefundAmount = t.PricePaid
			res.TotalRefund = res.TotalRefund.Add(t.PricePaid)
		}
		t.Status = StatusCancelled
		tx.putTicket(t)
		res.CancelledTickets++
	}
	o.Status = OptionCancelled
	o.resetSeats()
	tx.putOption(o)
	return res, nil
}

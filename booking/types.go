/*
types.go - Ledger records of the travel marketplace

PURPOSE:
  The four record kinds that live in the ledger, plus the inputs and
  results of the transaction functions. Records are encoded with
  ledger.Marshal (CBOR); the json tags name the fields for both CBOR and
  the HTTP layer.

RECORD KINDS AND KEYS:
  customer      (customer, <identity>)
  provider      (provider, <identity>)
  travelOption  (travelOption, <option id>)
  ticket        (ticket, <option id>, <customer identity>, <unix millis>)

  Ticket keys embed the option id first so every ticket of an option sits
  under one scan prefix.

TICKET STATES:
  PENDING_CONFIRMATION ──▶ CONFIRMED
          │                    │
          └──────▶ CANCELLED ◀─┘

  CONFIRMED and CANCELLED are terminal for status; a CONFIRMED ticket may
  still be cancelled by its customer or by a cascade.

SEE ALSO:
  - engine.go: Transaction runner
  - pricing.go: Dynamic price and refund tiers
*/
package booking

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/ledger"
)

// Identity is the verified caller identity delivered by the access layer.
type Identity string

// AnonymousName replaces the display name of an anonymised account.
const AnonymousName = "_____"

// =============================================================================
// STATUSES
// =============================================================================

type TicketStatus string

const (
	StatusPendingConfirmation TicketStatus = "PENDING_CONFIRMATION"
	StatusConfirmed           TicketStatus = "CONFIRMED"
	StatusCancelled           TicketStatus = "CANCELLED"
)

// Active reports whether the ticket still holds a seat.
func (s TicketStatus) Active() bool {
	return s == StatusPendingConfirmation || s == StatusConfirmed
}

type OptionStatus string

const (
	OptionActive    OptionStatus = "ACTIVE"
	OptionCancelled OptionStatus = "CANCELLED"
)

// =============================================================================
// RECORDS
// =============================================================================

type Customer struct {
	ID        Identity        `json:"id"`
	Name      string          `json:"name"`
	Contact   *string         `json:"contact"`
	Balance   decimal.Decimal `json:"balance"`
	Bookings  []ledger.Key    `json:"bookings"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Provider struct {
	ID              Identity        `json:"id"`
	Name            string          `json:"name"`
	Contact         *string         `json:"contact"`
	Rating          float64         `json:"rating"`
	NumRatings      int             `json:"numRatings"`
	ServiceProvider string          `json:"serviceProvider"`
	Balance         decimal.Decimal `json:"balance"`
	TravelOptions   []string        `json:"travelOptions"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type TravelOption struct {
	ID              string          `json:"id"`
	ProviderID      Identity        `json:"providerId"`
	ServiceProvider string          `json:"serviceProvider"`
	Source          string          `json:"source"`
	Destination     string          `json:"destination"`
	DepartureDate   string          `json:"departureDate"`
	DepartureTime   string          `json:"departureTime"`
	DepartsAt       time.Time       `json:"departsAt"`
	TransportMode   string          `json:"transportMode"`
	SeatCapacity    int             `json:"seatCapacity"`
	AvailableSeats  int             `json:"availableSeats"`
	BookedSeats     []int           `json:"bookedSeats"`
	BasePrice       decimal.Decimal `json:"basePrice"`
	Status          OptionStatus    `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	// BookingSeq counts tickets ever issued on the option.
	BookingSeq int `json:"bookingSeq"`
}

// Cancelled reports whether the provider withdrew the listing.
func (o *TravelOption) Cancelled() bool {
	return o.Status == OptionCancelled
}

// Departed reports whether departure is at or before now.
func (o *TravelOption) Departed(now time.Time) bool {
	return !now.Before(o.DepartsAt)
}

// SeatTaken reports whether seat is held by an active ticket.
func (o *TravelOption) SeatTaken(seat int) bool {
	_, found := slices.BinarySearch(o.BookedSeats, seat)
	return found
}

// occupy marks seat as held and keeps BookedSeats sorted.
func (o *TravelOption) occupy(seat int) {
	i, found := slices.BinarySearch(o.BookedSeats, seat)
	if found {
		return
	}
	o.BookedSeats = slices.Insert(o.BookedSeats, i, seat)
	o.AvailableSeats--
}

// release frees seat. Releasing a free seat only restores the counter.
func (o *TravelOption) release(seat int) {
	if i, found := slices.BinarySearch(o.BookedSeats, seat); found {
		o.BookedSeats = slices.Delete(o.BookedSeats, i, i+1)
	}
	if o.AvailableSeats < o.SeatCapacity {
		o.AvailableSeats++
	}
}

// resetSeats empties the option, as done when the listing is cancelled.
func (o *TravelOption) resetSeats() {
	o.BookedSeats = nil
	o.AvailableSeats = o.SeatCapacity
}

// PricingBreakdown records how a ticket's price was computed.
type PricingBreakdown struct {
	BasePrice       decimal.Decimal `json:"basePrice"`
	OccupancyFactor decimal.Decimal `json:"occupancyFactor"`
	DynamicFactor   decimal.Decimal `json:"dynamicFactor"`
	DynamicPrice    decimal.Decimal `json:"dynamicPrice"`
}

type Ticket struct {
	ID                ledger.Key       `json:"id"`
	TravelOptionID    string           `json:"travelOptionId"`
	CustomerID        Identity         `json:"customerId"`
	SeatNumber        int              `json:"seatNumber"`
	BookingTime       time.Time        `json:"bookingTime"`
	PricePaid         decimal.Decimal  `json:"pricePaid"`
	Status            TicketStatus     `json:"status"`
	ConfirmationCount int              `json:"confirmationCount"`
	Pricing           PricingBreakdown `json:"pricingBreakdown"`
	// Sequence is the arrival order of the ticket on its option, starting at 1.
	Sequence int `json:"sequence"`
	// RescheduledFrom is kept for audit only and never followed.
	RescheduledFrom ledger.Key      `json:"rescheduledFrom,omitempty"`
	RefundAmount    decimal.Decimal `json:"refundAmount"`
}

// =============================================================================
// INPUTS AND RESULTS
// =============================================================================

// ProviderRegistration is the input of RegisterProvider.
type ProviderRegistration struct {
	Name            string
	Contact         string
	Rating          *float64 // optional starting rating, 0-5
	ServiceProvider string
}

// NewTravelOption is the input of AddTravelOption.
type NewTravelOption struct {
	Source        string
	Destination   string
	DepartureDate string // 2006-01-02
	DepartureTime string // 15:04
	TransportMode string
	SeatCapacity  int
	BasePrice     decimal.Decimal
}

// SortKey orders ListTravelOptionsSorted results.
type SortKey string

const (
	SortByPrice         SortKey = "price"
	SortByRating        SortKey = "rating"
	SortByTransportMode SortKey = "transportMode"
)

// ListQuery filters and orders a route listing. Nil or empty fields are
// not applied.
type ListQuery struct {
	Source          string
	Destination     string
	Date            string
	SortBy          SortKey
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	ServiceProvider string
	OnlyAvailable   bool
}

// Listing is a travel option enriched with its provider's current rating.
type Listing struct {
	TravelOption
	ProviderRating     float64 `json:"providerRating"`
	ProviderNumRatings int     `json:"totalRating"`
}

// ListingCancellation summarises CancelTravelListing.
type ListingCancellation struct {
	TravelOptionID   string          `json:"travelOptionId"`
	CancelledTickets int             `json:"cancelledTickets"`
	RefundAllowed    bool            `json:"refundAllowed"`
	TotalRefund      decimal.Decimal `json:"totalRefund"`
}

// AutoConfirmResult summarises AutoConfirmTickets.
type AutoConfirmResult struct {
	TravelOptionID string `json:"travelOptionId"`
	Confirmed      int    `json:"confirmed"`
	Cancelled      int    `json:"cancelled"`
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Providers, travel
  options and listings are returned as the booking records themselves;
  customers and tickets go through DTOs because they carry ledger keys,
  which are exposed in their URL-safe encoded form.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/types.go: Ledger records
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type RegisterCustomerRequest struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

type RegisterProviderRequest struct {
	Name            string   `json:"name"`
	Contact         string   `json:"contact"`
	Rating          *float64 `json:"rating,omitempty"`
	ServiceProvider string   `json:"service_provider"`
}

type UpdateDetailsRequest struct {
	Name      string `json:"name"`
	Contact   string `json:"contact"`
	Anonymous bool   `json:"anonymous"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type AddTravelOptionRequest struct {
	Source        string          `json:"source"`
	Destination   string          `json:"destination"`
	DepartureDate string          `json:"departure_date"`
	DepartureTime string          `json:"departure_time"`
	TransportMode string          `json:"transport_mode"`
	SeatCapacity  int             `json:"seat_capacity"`
	BasePrice     decimal.Decimal `json:"base_price"`
}

type BookTicketRequest struct {
	TravelOptionID string `json:"travel_option_id"`
	SeatNumber     int    `json:"seat_number"`
}

type RescheduleRequest struct {
	NewTravelOptionID string `json:"new_travel_option_id"`
	SeatNumber        int    `json:"seat_number"`
}

type RateProviderRequest struct {
	Rating float64 `json:"rating"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CustomerDTO struct {
	ID        booking.Identity `json:"id"`
	Name      string           `json:"name"`
	Contact   *string          `json:"contact"`
	Balance   decimal.Decimal  `json:"balance"`
	Bookings  []string         `json:"bookings"`
	CreatedAt time.Time        `json:"createdAt"`
}

type TicketDTO struct {
	ID                string                   `json:"id"`
	TravelOptionID    string                   `json:"travelOptionId"`
	CustomerID        booking.Identity         `json:"customerId"`
	SeatNumber        int                      `json:"seatNumber"`
	BookingTime       time.Time                `json:"bookingTime"`
	PricePaid         decimal.Decimal          `json:"pricePaid"`
	Status            booking.TicketStatus     `json:"status"`
	ConfirmationCount int                      `json:"confirmationCount"`
	Pricing           booking.PricingBreakdown `json:"pricingBreakdown"`
	Sequence          int                      `json:"sequence"`
	RescheduledFrom   string                   `json:"rescheduledFrom,omitempty"`
	RefundAmount      decimal.Decimal          `json:"refundAmount"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func toCustomerDTO(c *booking.Customer) CustomerDTO {
	bookings := make([]string, len(c.Bookings))
	for i, k := range c.Bookings {
		bookings[i] = k.Encode()
	}
	return CustomerDTO{
		ID:        c.ID,
		Name:      c.Name,
		Contact:   c.Contact,
		Balance:   c.Balance,
		Bookings:  bookings,
		CreatedAt: c.CreatedAt,
	}
}

func toTicketDTO(t *booking.Ticket) TicketDTO {
	dto := TicketDTO{
		ID:                t.ID.Encode(),
		TravelOptionID:    t.TravelOptionID,
		CustomerID:        t.CustomerID,
		SeatNumber:        t.SeatNumber,
		BookingTime:       t.BookingTime,
		PricePaid:         t.PricePaid,
		Status:            t.Status,
		ConfirmationCount: t.ConfirmationCount,
		Pricing:           t.Pricing,
		Sequence:          t.Sequence,
		RefundAmount:      t.RefundAmount,
	}
	if t.RescheduledFrom != "" {
		dto.RescheduledFrom = t.RescheduledFrom.Encode()
	}
	return dto
}

func toTicketDTOs(ts []booking.Ticket) []TicketDTO {
	out := make([]TicketDTO, len(ts))
	for i := range ts {
		out[i] = toTicketDTO(&ts[i])
	}
	return out
}

// toAuditDTOs keeps an empty trail encoding as [] rather than null.
func toAuditDTOs(entries []ledger.AuditEntry) []ledger.AuditEntry {
	if entries == nil {
		return []ledger.AuditEntry{}
	}
	return entries
}

/*
errors.go - Error taxonomy of the booking transaction functions

PURPOSE:
  Every failure a transaction function can report, in one place. All of
  them are validation failures of the current ledger state or the caller's
  arguments: none is retried internally and a failed transaction leaves no
  writes behind.

USAGE:
  Callers branch with errors.Is on the sentinels and errors.As on the
  structured errors for details:

    if errors.Is(err, booking.ErrSeatTaken) { ... }

    var ib *booking.InsufficientBalanceError
    if errors.As(err, &ib) { shortfall := ib.Required.Sub(ib.Available) }

  ErrInvalidSeat, ErrInvalidRating and ErrInvalidAmount all satisfy
  errors.Is(err, ErrInvalidArgument).

SEE ALSO:
  - api/errors.go: Mapping to HTTP status codes
*/
package booking

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotRegistered       = errors.New("caller is not registered")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrNotFound            = errors.New("not found")
	ErrNotAuthorized       = errors.New("caller is not authorized")
	ErrWrongState          = errors.New("wrong state for operation")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSoldOut             = errors.New("travel option is sold out")
	ErrSeatTaken           = errors.New("seat already taken")
	ErrDeparturePassed     = errors.New("departure time has passed")
	ErrDuplicateListing    = errors.New("identical travel option already listed")
	ErrHasBookings         = errors.New("travel option has bookings")
	ErrTooEarly            = errors.New("too early")

	ErrInvalidSeat   = fmt.Errorf("%w: seat number", ErrInvalidArgument)
	ErrInvalidRating = fmt.Errorf("%w: rating must be between 0 and 5", ErrInvalidArgument)
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
)

// IsClientError reports whether err is one of the taxonomy errors, as opposed
// to a store or encoding failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotRegistered, ErrAlreadyExists, ErrNotFound, ErrNotAuthorized,
		ErrWrongState, ErrInvalidArgument, ErrInsufficientBalance, ErrSoldOut,
		ErrSeatTaken, ErrDeparturePassed, ErrDuplicateListing, ErrHasBookings,
		ErrTooEarly,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage.
type InsufficientBalanceError struct {
	CustomerID Identity
	Available  decimal.Decimal
	Required   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %s has %s, needs %s",
		e.CustomerID, e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// SeatTakenError names the contested seat.
type SeatTakenError struct {
	TravelOptionID string
	Seat           int
}

func (e *SeatTakenError) Error() string {
	return fmt.Sprintf("seat %d on %s already taken", e.Seat, e.TravelOptionID)
}

func (e *SeatTakenError) Unwrap() error {
	return ErrSeatTaken
}

// WrongStateError reports a record whose status forbids the operation.
type WrongStateError struct {
	Kind   string
	ID     string
	Status string
	Want   string
}

func (e *WrongStateError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("%s %s is %s", e.Kind, e.ID, e.Status)
	}
	return fmt.Sprintf("%s %s is %s, want %s", e.Kind, e.ID, e.Status, e.Want)
}

func (e *WrongStateError) Unwrap() error {
	return ErrWrongState
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

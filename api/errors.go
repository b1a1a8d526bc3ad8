package api

import (
	"errors"
	"net/http"

	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/ledger"
)

// errorStatus pairs a sentinel with its HTTP status and machine code.
type errorStatus struct {
	target error
	status int
	code   string
}

// Order matters: the first match wins, so specific sentinels come before
// ErrInvalidArgument which they wrap.
var errorStatuses = []errorStatus{
	{booking.ErrInvalidSeat, http.StatusBadRequest, "INVALID_SEAT"},
	{booking.ErrInvalidRating, http.StatusBadRequest, "INVALID_RATING"},
	{booking.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{booking.ErrInvalidArgument, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{ledger.ErrInvalidKey, http.StatusBadRequest, "INVALID_ARGUMENT"},
	{booking.ErrNotRegistered, http.StatusNotFound, "NOT_REGISTERED"},
	{booking.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{booking.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{booking.ErrNotAuthorized, http.StatusForbidden, "NOT_AUTHORIZED"},
	{booking.ErrInsufficientBalance, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
	{booking.ErrTooEarly, http.StatusTooEarly, "TOO_EARLY"},
	{booking.ErrWrongState, http.StatusConflict, "WRONG_STATE"},
	{booking.ErrSoldOut, http.StatusConflict, "SOLD_OUT"},
	{booking.ErrSeatTaken, http.StatusConflict, "SEAT_TAKEN"},
	{booking.ErrDeparturePassed, http.StatusConflict, "DEPARTURE_PASSED"},
	{booking.ErrDuplicateListing, http.StatusConflict, "DUPLICATE_LISTING"},
	{booking.ErrHasBookings, http.StatusConflict, "HAS_BOOKINGS"},
	{ledger.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
}

// statusOf maps err to a status and code. Unknown errors are internal.
func statusOf(err error) (int, string) {
	for _, es := range errorStatuses {
		if errors.Is(err, es.target) {
			return es.status, es.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// respondErr writes err as an ErrorResponse. Internal errors are logged and
// their text is not sent to the client.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: code})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: "BAD_REQUEST"}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

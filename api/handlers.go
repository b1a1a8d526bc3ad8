/*
handlers.go - HTTP API handlers for the travel marketplace

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to package booking.

ENDPOINTS:
  Customers:
    POST   /api/customers                    Register the caller
    GET    /api/customers/me                 Own record
    PUT    /api/customers/me                 Update name/contact, anonymise
    DELETE /api/customers/me                 Delete, cancelling tickets
    POST   /api/customers/me/deposits        Add funds
    GET    /api/customers/me/tickets         Own tickets

  Providers:
    POST   /api/providers                    Register the caller
    GET    /api/providers/me                 Own record
    PUT    /api/providers/me                 Update name/contact, anonymise
    DELETE /api/providers/me                 Delete, withdrawing options
    GET    /api/providers/me/travel-options  Own options

  Travel options:
    POST   /api/travel-options               List a new option
    GET    /api/travel-options               Route listing (filters, sorting)
    GET    /api/travel-options/{id}          One option
    DELETE /api/travel-options/{id}          Delete an unbooked option
    POST   /api/travel-options/{id}/cancel   Cancel the listing
    POST   /api/travel-options/{id}/auto-confirm  Settle pending tickets (owner or admin,
                                             within the auto-confirm window)

  Tickets:
    POST   /api/tickets                      Book a seat
    GET    /api/tickets/{id}                 One of the caller's tickets
    POST   /api/tickets/{id}/confirm         Confirm
    POST   /api/tickets/{id}/cancel          Cancel with refund tier
    POST   /api/tickets/{id}/reschedule      Move to another seat/option
    POST   /api/tickets/{id}/rating          Rate the provider after departure

  Admin (callers listed in RouterConfig.Admins):
    GET    /api/audit                        Audit trail (?limit=)
    POST   /api/admin/sweep                  Run the confirmation scheduler once

TIME:
  Refund tiers, the rating gate and the auto-confirm window are evaluated
  against the engine clock. Clients cannot supply the current time.

IDENTIFIERS:
  Ticket ids are ledger keys and travel in their URL-safe encoded form.
  Travel option ids are plain strings and may need path escaping.

ERROR HANDLING:
  Engine errors are mapped to status codes in errors.go. Malformed bodies
  and query parameters are 400s.

SEE ALSO:
  - dto.go: Request/response data structures
  - identity.go: Caller resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine    *booking.Engine
	scheduler *ConfirmationScheduler
	logger    *slog.Logger
}

// NewHandler creates a handler over engine. scheduler may be nil, in which
// case the sweep endpoint builds one with default timings.
func NewHandler(engine *booking.Engine, scheduler *ConfirmationScheduler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if scheduler == nil {
		scheduler = NewConfirmationScheduler(engine, logger)
	}
	return &Handler{engine: engine, scheduler: scheduler, logger: logger}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

func (h *Handler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req RegisterCustomerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.engine.RegisterCustomer(r.Context(), callerFrom(r.Context()), req.Name, req.Contact)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.GetCustomer(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var req UpdateDetailsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.engine.UpdateCustomerDetails(r.Context(), callerFrom(r.Context()), req.Name, req.Contact, req.Anonymous)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteCustomer(r.Context(), callerFrom(r.Context())); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DepositFunds(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.engine.DepositFunds(r.Context(), callerFrom(r.Context()), req.Amount)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

func (h *Handler) CustomerTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.engine.CustomerTickets(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTOs(tickets))
}

// =============================================================================
// PROVIDER HANDLERS
// =============================================================================

func (h *Handler) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req RegisterProviderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.engine.RegisterProvider(r.Context(), callerFrom(r.Context()), booking.ProviderRegistration{
		Name:            req.Name,
		Contact:         req.Contact,
		Rating:          req.Rating,
		ServiceProvider: req.ServiceProvider,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetProvider(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	var req UpdateDetailsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.engine.UpdateProviderDetails(r.Context(), callerFrom(r.Context()), req.Name, req.Contact, req.Anonymous)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteProvider(r.Context(), callerFrom(r.Context())); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ProviderTravelOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.engine.ProviderTravelOptions(r.Context(), callerFrom(r.Context()))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(options))
}

// =============================================================================
// TRAVEL OPTION HANDLERS
// =============================================================================

func (h *Handler) AddTravelOption(w http.ResponseWriter, r *http.Request) {
	var req AddTravelOptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := h.engine.AddTravelOption(r.Context(), callerFrom(r.Context()), booking.NewTravelOption{
		Source:        req.Source,
		Destination:   req.Destination,
		DepartureDate: req.DepartureDate,
		DepartureTime: req.DepartureTime,
		TransportMode: req.TransportMode,
		SeatCapacity:  req.SeatCapacity,
		BasePrice:     req.BasePrice,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListTravelOptions serves the plain route listing, or the filtered and
// sorted one when any parameter beyond source and destination is present.
func (h *Handler) ListTravelOptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	source, destination := q.Get("source"), q.Get("destination")
	if source == "" || destination == "" {
		writeError(w, http.StatusBadRequest, "source and destination are required", nil)
		return
	}

	if !hasAny(q, "date", "sort_by", "min_price", "max_price", "provider", "only_available") {
		options, err := h.engine.ListTravelOptions(r.Context(), source, destination)
		if err != nil {
			h.respondErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nonNil(options))
		return
	}

	query, err := parseListQuery(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}
	listings, err := h.engine.ListTravelOptionsSorted(r.Context(), query)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(listings))
}

func (h *Handler) GetTravelOption(w http.ResponseWriter, r *http.Request) {
	id, ok := optionID(w, r)
	if !ok {
		return
	}
	o, err := h.engine.TravelOption(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) DeleteTravelOption(w http.ResponseWriter, r *http.Request) {
	id, ok := optionID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteTravelOption(r.Context(), callerFrom(r.Context()), id); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelTravelListing(w http.ResponseWriter, r *http.Request) {
	id, ok := optionID(w, r)
	if !ok {
		return
	}
	res, err := h.engine.CancelTravelListing(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AutoConfirmTickets settles an option ahead of the scheduler. Only the
// option's provider or an admin may do so, and only inside the window the
// scheduler itself uses.
func (h *Handler) AutoConfirmTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := optionID(w, r)
	if !ok {
		return
	}
	caller := callerFrom(r.Context())
	o, err := h.engine.TravelOption(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if caller != o.ProviderID && !isAdmin(r.Context()) {
		h.respondErr(w, r, fmt.Errorf("%w: travel option belongs to another provider", booking.ErrNotAuthorized))
		return
	}
	now := h.engine.Now()
	if err := h.scheduler.checkWindow(o, now); err != nil {
		h.respondErr(w, r, err)
		return
	}
	res, err := h.engine.AutoConfirmTickets(r.Context(), caller, id, now)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// TICKET HANDLERS
// =============================================================================

func (h *Handler) BookTicket(w http.ResponseWriter, r *http.Request) {
	var req BookTicketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.engine.BookTicket(r.Context(), callerFrom(r.Context()), req.TravelOptionID, req.SeatNumber)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketDTO(t))
}

// GetTicket returns a ticket to its customer only.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	t, err := h.engine.Ticket(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if t.CustomerID != callerFrom(r.Context()) {
		h.respondErr(w, r, fmt.Errorf("%w: ticket belongs to another customer", booking.ErrNotAuthorized))
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

func (h *Handler) ConfirmTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	t, err := h.engine.ConfirmTicket(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

func (h *Handler) CancelTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	t, err := h.engine.CancelTicket(r.Context(), callerFrom(r.Context()), id, h.engine.Now())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

func (h *Handler) RescheduleTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t, err := h.engine.RescheduleTicket(r.Context(), callerFrom(r.Context()), id,
		req.NewTravelOptionID, h.engine.Now(), req.SeatNumber)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(t))
}

func (h *Handler) RateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := ticketID(w, r)
	if !ok {
		return
	}
	var req RateProviderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.engine.RateProvider(r.Context(), callerFrom(r.Context()), id, req.Rating, h.engine.Now())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	entries, err := h.engine.AuditTrail(r.Context(), limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.RunOnce(r.Context()))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeBody reads the JSON body into v. An empty body leaves v zero.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func ticketID(w http.ResponseWriter, r *http.Request) (ledger.Key, bool) {
	id, err := ledger.DecodeKey(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid ticket id", err)
		return "", false
	}
	return id, true
}

func optionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid travel option id", err)
		return "", false
	}
	return id, true
}

func hasAny(q url.Values, keys ...string) bool {
	for _, k := range keys {
		if q.Has(k) {
			return true
		}
	}
	return false
}

func parseListQuery(q url.Values) (booking.ListQuery, error) {
	query := booking.ListQuery{
		Source:          q.Get("source"),
		Destination:     q.Get("destination"),
		Date:            q.Get("date"),
		SortBy:          booking.SortKey(q.Get("sort_by")),
		ServiceProvider: q.Get("provider"),
	}
	switch query.SortBy {
	case "", booking.SortByPrice, booking.SortByRating, booking.SortByTransportMode:
	default:
		return query, fmt.Errorf("unknown sort_by %q", query.SortBy)
	}
	for param, dst := range map[string]**decimal.Decimal{
		"min_price": &query.MinPrice,
		"max_price": &query.MaxPrice,
	} {
		if s := q.Get(param); s != "" {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return query, fmt.Errorf("%s: %w", param, err)
			}
			*dst = &d
		}
	}
	if s := q.Get("only_available"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return query, fmt.Errorf("only_available: %w", err)
		}
		query.OnlyAvailable = b
	}
	return query, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

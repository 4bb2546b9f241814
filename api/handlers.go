/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP request/response,
  JSON serialization and input validation, and delegates to generic.Engine.
  Every handler acts as the actor carried by the request's bearer token.

ENDPOINTS:
  Bookings:
    GET    /api/bookings                     List (students: own only)
    POST   /api/bookings                     Create pending booking
    GET    /api/bookings/{id}                Get booking
    POST   /api/bookings/{id}/approve        Approve (admin)
    POST   /api/bookings/{id}/reject         Reject (admin)
    POST   /api/bookings/{id}/cancel         Cancel (owner or admin)
    POST   /api/bookings/{id}/move-out       Schedule end date (admin)
    GET    /api/bookings/{id}/total-due      Running amount owed
    POST   /api/bookings/{id}/invoices       Generate next invoice
    GET    /api/bookings/{id}/invoices       Invoices of the booking

  Invoices:
    GET    /api/invoices                     List (students: own only)
    GET    /api/invoices/{id}                Get invoice
    POST   /api/invoices/{id}/pay            Mark paid (admin)

  Per kind (/api/kinds/{kind}/...):
    groups, resources, map, audit, fees, summary, bulk invoices,
    mutual switch requests. See server.go for the full list.

  Switches, users, admin: see switches.go and registry.go.

REQUEST FLOW:
  1. Parse path and query values
  2. Decode and validate the body (validator tags in dto.go)
  3. Call the engine with the request's actor
  4. Serialize response DTOs
  5. Map errors to statuses (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// OutboxFlusher drains committed events on demand.
type OutboxFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *generic.Engine
	Fees      *factory.FeeFactory
	Outbox    OutboxFlusher   // optional
	Scenarios *ScenarioLoader // optional
	Logger    *zap.Logger

	validate *validator.Validate
}

// NewHandler creates a handler over an engine.
func NewHandler(engine *generic.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Fees:     factory.NewFeeFactory(),
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) log() *zap.Logger { return h.Logger }

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns bookings filtered by ?kind, ?status and ?student.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	f := generic.BookingFilter{Kind: r.URL.Query().Get("kind")}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Statuses = []generic.BookingStatus{generic.BookingStatus(s)}
	}
	student, err := queryID[generic.UserID](r, "student")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.Student = student

	bookings, err := h.Engine.Bookings.List(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(bookings, toBookingDTO))
}

// CreateBooking records a pending booking for the calling student.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: start_date: %v", errBadRequest, err))
		return
	}

	b, err := h.Engine.Bookings.Create(r.Context(), ActorFrom(r.Context()), generic.CreateBooking{
		Resource:   generic.ResourceID(req.ResourceID),
		StartDate:  start,
		Purpose:    req.Purpose,
		IDDocFront: req.IDDocFront,
		IDDocBack:  req.IDDocBack,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.Bookings.Get(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.Bookings.Approve(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RemarksRequest
	if err := h.decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.Bookings.Reject(r.Context(), ActorFrom(r.Context()), id, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.Engine.Bookings.Cancel(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// ScheduleMoveOut sets the end date the expiry sweep acts on.
func (h *Handler) ScheduleMoveOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req MoveOutRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: end_date: %v", errBadRequest, err))
		return
	}
	b, err := h.Engine.Bookings.ScheduleMoveOut(r.Context(), ActorFrom(r.Context()), id, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// GetTotalDue returns monthly_fee * months_active + deposit as of ?as_of (default today).
func (h *Handler) GetTotalDue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	asOf, err := h.queryDate(r, "as_of")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := h.Engine.Bookings.TotalDue(r.Context(), ActorFrom(r.Context()), id, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TotalDueDTO{BookingID: int64(id), AsOf: asOf.String(), TotalDue: total})
}

// GetBookingSummary answers active/inactive for ?student (default: caller).
func (h *Handler) GetBookingSummary(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	student := actor.ID
	if id, err := queryID[generic.UserID](r, "student"); err != nil {
		h.writeError(w, r, err)
		return
	} else if id != nil {
		student = *id
	}

	sum, err := h.Engine.Bookings.Summary(r.Context(), actor, student, chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := BookingSummaryDTO{
		StudentID:   int64(sum.Student),
		Kind:        sum.Kind,
		Status:      "inactive",
		HasPrevious: sum.HasPrevious,
	}
	if sum.Active {
		dto.Status = "active"
		cur := toBookingDTO(*sum.Current)
		dto.Current = &cur
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListPendingForResource lists the contenders for one resource (admin).
func (h *Handler) ListPendingForResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.ResourceID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bookings, err := h.Engine.Bookings.PendingForResource(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(bookings, toBookingDTO))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GenerateInvoice bills the next month of a booking.
func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.Engine.Invoices.Generate(r.Context(), ActorFrom(r.Context()), id, h.Engine.Runtime.Today())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

func (h *Handler) ListBookingInvoices(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.BookingID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	actor := ActorFrom(r.Context())
	// ownership check through the booking
	if _, err := h.Engine.Bookings.Get(r.Context(), actor, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	invoices, err := h.Engine.Invoices.List(r.Context(), actor, generic.InvoiceFilter{Booking: &id})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(invoices, toInvoiceDTO))
}

// ListInvoices returns invoices filtered by ?kind, ?student and ?booking.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	f := generic.InvoiceFilter{Kind: r.URL.Query().Get("kind")}
	student, err := queryID[generic.UserID](r, "student")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	booking, err := queryID[generic.BookingID](r, "booking")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f.Student, f.Booking = student, booking

	invoices, err := h.Engine.Invoices.List(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(invoices, toInvoiceDTO))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.InvoiceID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.Engine.Invoices.Get(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) MarkInvoicePaid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.InvoiceID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	inv, err := h.Engine.Invoices.MarkPaid(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

// BulkGenerateInvoices bills the current month for every approved booking of the kind.
func (h *Handler) BulkGenerateInvoices(w http.ResponseWriter, r *http.Request) {
	today := h.Engine.Runtime.Today()
	n, err := h.Engine.Invoices.BulkGenerate(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "kind"), today)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{Operation: "bulk_invoices", Date: today.String(), Count: n})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body and validates it.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return h.validate.Struct(v)
}

// decodeOptional is decode for bodies that may be empty.
func (h *Handler) decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return h.validate.Struct(v)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return h.validate.Struct(v)
}

func pathID[T ~int64](r *http.Request, name string) (T, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return T(v), nil
}

func queryID[T ~int64](r *http.Request, name string) (*T, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	id := T(v)
	return &id, nil
}

// queryDate parses an optional YYYY-MM-DD query value, defaulting to today.
func (h *Handler) queryDate(r *http.Request, name string) (generic.Date, error) {
	d, err := queryOptionalDate(r, name)
	if err != nil {
		return generic.Date{}, err
	}
	if d == nil {
		return h.Engine.Runtime.Today(), nil
	}
	return *d, nil
}

func queryOptionalDate(r *http.Request, name string) (*generic.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return &d, nil
}

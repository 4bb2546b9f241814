/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Bearer token authentication
- Booking lifecycle and invoice generation over HTTP
- Error to status mapping
- Scenario loading and admin reports
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/store/sqlite"
)

var testSecret = []byte("test-secret")

type testServer struct {
	t       *testing.T
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2025, time.March, 25, 10, 0, 0, 0, time.UTC)
	engine := generic.NewEngine(&generic.Runtime{Store: store, Clock: func() time.Time { return now }}, nil)
	h := NewHandler(engine, nil)
	h.Scenarios = NewScenarioLoader(engine, store)

	return &testServer{
		t:       t,
		store:   store,
		handler: h,
		router:  NewRouter(h, RouterOptions{Auth: TokenAuth{Secret: testSecret}}),
	}
}

func (s *testServer) token(id generic.UserID, role generic.Role) string {
	s.t.Helper()
	tok, err := SignToken(testSecret, id, role, time.Hour)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_RequiresValidBearerToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/kinds", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", gjson.Get(rec.Body.String(), "code").String())

	forged, err := SignToken([]byte("other-secret"), 1, generic.RoleAdmin, time.Hour)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/kinds", forged, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := SignToken(testSecret, 1, generic.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/kinds", expired, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The system role is never accepted over HTTP
	rec = s.do(http.MethodPost, "/api/admin/sweeps/bookings", s.token(0, generic.RoleSystem), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/api/kinds", s.token(10, generic.RoleStudent), "")
	require.Equal(t, http.StatusOK, rec.Code)
	kinds := gjson.Get(rec.Body.String(), "#.id").Array()
	assert.Len(t, kinds, 2)
}

func TestTokenAuth_ParseAcceptsOnlyAdminAndStudent(t *testing.T) {
	for _, role := range []generic.Role{"janitor", generic.RoleSystem} {
		tok, err := SignToken(testSecret, 5, role, time.Hour)
		require.NoError(t, err)

		_, err = TokenAuth{Secret: testSecret}.Parse(tok)
		assert.ErrorIs(t, err, errInvalidToken, role)
	}

	tok, err := SignToken(testSecret, 5, generic.RoleStudent, time.Hour)
	require.NoError(t, err)
	actor, err := TokenAuth{Secret: testSecret}.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, generic.Actor{ID: 5, Role: generic.RoleStudent}, actor)
}

// =============================================================================
// BOOKING FLOW
// =============================================================================

func TestBookingFlow_OverHTTP(t *testing.T) {
	// GIVEN: A hostel bed created by the admin
	// WHEN: A student books it, the admin approves, the student invoices twice
	// THEN: Each step returns its resource, the duplicate invoice is a 409

	s := newTestServer(t)
	admin := s.token(1, generic.RoleAdmin)
	student := s.token(10, generic.RoleStudent)

	rec := s.do(http.MethodPost, "/api/kinds/hostel/resources", admin, `{"label":"A1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bedID := gjson.Get(rec.Body.String(), "id").Int()

	rec = s.do(http.MethodPost, "/api/bookings", student, fmt.Sprintf(
		`{"resource_id":%d,"start_date":"2025-03-25","id_doc_front":"f.jpg","id_doc_back":"b.jpg"}`, bedID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := gjson.Parse(rec.Body.String())
	assert.Equal(t, "pending", booking.Get("status").String())
	assert.Equal(t, "500", booking.Get("monthly_fee").String())
	assert.Equal(t, "2000", booking.Get("deposit").String())
	bookingID := booking.Get("id").Int()

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/bookings/%d/approve", bookingID), student, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/bookings/%d/approve", bookingID), admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", gjson.Get(rec.Body.String(), "status").String())

	rec = s.do(http.MethodGet, "/api/kinds/hostel/summary", student, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", gjson.Get(rec.Body.String(), "status").String())

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/bookings/%d/invoices", bookingID), student, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := gjson.Parse(rec.Body.String())
	assert.Equal(t, fmt.Sprintf("INV-HO-202503-%03d", bookingID), inv.Get("invoice_number").String())
	assert.Equal(t, "2500", inv.Get("total").String())
	assert.False(t, inv.Get("is_paid").Bool())

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/bookings/%d/invoices", bookingID), student, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.Equal(t, "duplicate_invoice", body.Get("code").String())
	assert.Equal(t, inv.Get("invoice_number").String(), body.Get("details.invoice_number").String())
	assert.Equal(t, "2025-03-01", body.Get("details.month").String())
	assert.Equal(t, "2025-03-29", body.Get("details.next_invoice_from").String())

	rec = s.do(http.MethodPost, fmt.Sprintf("/api/invoices/%d/pay", inv.Get("id").Int()), admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "is_paid").Bool())

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/bookings/%d/total-due?as_of=2025-05-10", bookingID), student, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3000", gjson.Get(rec.Body.String(), "total_due").String())

	// Another student sees neither the booking nor its invoices
	other := s.token(11, generic.RoleStudent)
	rec = s.do(http.MethodGet, fmt.Sprintf("/api/bookings/%d", bookingID), other, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodGet, "/api/invoices", other, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gjson.Get(rec.Body.String(), "#").Int())
}

func TestBookingRequests_Validation(t *testing.T) {
	s := newTestServer(t)
	student := s.token(10, generic.RoleStudent)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/api/bookings", `{"resource_id":`, http.StatusBadRequest, "bad_request"},
		{"unknown field", http.MethodPost, "/api/bookings", `{"resource_id":1,"start_date":"2025-03-01","bed":2}`, http.StatusBadRequest, "bad_request"},
		{"missing resource", http.MethodPost, "/api/bookings", `{"start_date":"2025-03-01"}`, http.StatusUnprocessableEntity, "validation"},
		{"bad date", http.MethodPost, "/api/bookings", `{"resource_id":1,"start_date":"01/03/2025"}`, http.StatusUnprocessableEntity, "validation"},
		{"resource not found", http.MethodPost, "/api/bookings", `{"resource_id":99,"start_date":"2025-03-01"}`, http.StatusNotFound, "not_found"},
		{"bad path id", http.MethodGet, "/api/bookings/abc", "", http.StatusBadRequest, "bad_request"},
		{"unknown kind", http.MethodGet, "/api/kinds/gym/resources", "", http.StatusNotFound, "not_found"},
		{"bad query date", http.MethodGet, "/api/bookings/1/total-due?as_of=tomorrow", "", http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, student, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, gjson.Get(rec.Body.String(), "code").String())
		})
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("booking 7: %w", generic.ErrNotFound), http.StatusNotFound, "not_found"},
		{"unknown kind", generic.ErrUnknownKind, http.StatusNotFound, "not_found"},
		{"forbidden", generic.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"duplicate before conflict", &generic.DuplicateInvoiceError{Number: "INV-HO-202503-001"}, http.StatusConflict, "duplicate_invoice"},
		{"stale", fmt.Errorf("target taken: %w", generic.ErrStale), http.StatusConflict, "stale"},
		{"conflict", generic.ErrConflict, http.StatusConflict, "conflict"},
		{"too early", fmt.Errorf("cycle: %w", generic.ErrTooEarly), http.StatusUnprocessableEntity, "too_early"},
		{"not approved", generic.ErrNotApproved, http.StatusUnprocessableEntity, "not_approved"},
		{"invalid state", generic.ErrInvalidState, http.StatusUnprocessableEntity, "invalid_state"},
		{"validation", generic.ErrValidation, http.StatusUnprocessableEntity, "validation"},
		{"bad request", errBadRequest, http.StatusBadRequest, "bad_request"},
		{"internal", errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusOf(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWriteError_HidesInternalsAndListsFields(t *testing.T) {
	h := NewHandler(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)

	rec := httptest.NewRecorder()
	h.writeError(rec, req, errors.New("sql: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", gjson.Get(rec.Body.String(), "error").String())

	rec = httptest.NewRecorder()
	err := validator.New().Struct(MoveOutRequest{EndDate: "soon"})
	h.writeError(rec, req, err)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "datetime", gjson.Get(rec.Body.String(), "details.EndDate").String())
}

// =============================================================================
// SCENARIOS AND ADMIN REPORTS
// =============================================================================

func TestScenario_BillingFeedsRevenueAndMap(t *testing.T) {
	// GIVEN: The billing scenario (one bed and two seats approved and invoiced)
	// WHEN: The admin reads revenue and the hostel live map
	// THEN: Three pending invoices, the seat deposit waived for the bed holder

	s := newTestServer(t)
	bootstrap := s.token(1, generic.RoleAdmin)

	rec := s.do(http.MethodPost, "/api/scenarios/load", s.token(10, generic.RoleStudent), `{"scenario_id":"billing"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(http.MethodPost, "/api/scenarios/load", bootstrap, `{"scenario_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", bootstrap, `{"scenario_id":"billing"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loaded := gjson.Parse(rec.Body.String())
	assert.Len(t, loaded.Get("students").Array(), 4)
	admin := s.token(generic.UserID(loaded.Get("admin_id").Int()), generic.RoleAdmin)

	rec = s.do(http.MethodGet, "/api/scenarios/current", admin, "")
	assert.Equal(t, "billing", gjson.Get(rec.Body.String(), "id").String())

	rec = s.do(http.MethodGet, "/api/admin/revenue", admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	revenue := gjson.Parse(rec.Body.String())
	assert.Equal(t, int64(3), revenue.Get("combined.count_pending").Int())
	assert.Equal(t, "3600", revenue.Get("combined.total_pending").String())
	assert.Equal(t, "0", revenue.Get("combined.total_paid").String())

	rec = s.do(http.MethodGet, "/api/kinds/hostel/map", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	statuses := gjson.Get(rec.Body.String(), "#.status").Array()
	require.Len(t, statuses, 4)
	booked := 0
	for _, st := range statuses {
		if st.String() == string(generic.MapBooked) {
			booked++
		}
	}
	assert.Equal(t, 1, booked)

	rec = s.do(http.MethodGet, "/api/admin/audit", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAdminSweeps_OverHTTP(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(1, generic.RoleAdmin)

	rec := s.do(http.MethodPost, "/api/admin/sweeps/bookings?date=2025-04-01", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	sweep := gjson.Parse(rec.Body.String())
	assert.Equal(t, "expire_bookings", sweep.Get("operation").String())
	assert.Equal(t, "2025-04-01", sweep.Get("date").String())
	assert.Zero(t, sweep.Get("count").Int())

	rec = s.do(http.MethodPost, "/api/admin/sweeps/invoices", s.token(10, generic.RoleStudent), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/outbox/flush", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "relay_outbox", gjson.Get(rec.Body.String(), "operation").String())
}

func TestActorFrom_DefaultsToZeroActor(t *testing.T) {
	assert.Equal(t, generic.Actor{}, ActorFrom(context.Background()))
	ctx := WithActor(context.Background(), generic.Actor{ID: 3, Role: generic.RoleAdmin})
	assert.Equal(t, generic.UserID(3), ActorFrom(ctx).ID)
}

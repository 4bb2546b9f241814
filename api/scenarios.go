/*
scenarios.go - Demo scenario loaders for local runs and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data. Every scenario starts from the same campus: two hostel rooms with
	two beds each, a reading hall with six library seats, one admin and
	four students, and a fee version per kind.

AVAILABLE SCENARIOS:

	campus:        Registry, users and fees only
	contested-bed: Two students pending on the same bed
	swap-ready:    Two approved hostel bookings with open mutual requests
	billing:       Approved hostel and library bookings, first invoices generated

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create users, groups, resources
 3. Add fee versions through the fee factory
 4. Drive bookings and switches through the engine, as the students and admin would

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "swap-ready"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/fees.go: Fee version JSON
  - hostel/fees.go, library/fees.go: Fee presets
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/hostel"
	"github.com/warp/allocation-engine/library"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

var scenarios = []ScenarioDTO{
	{ID: "campus", Name: "Campus", Description: "Rooms, beds, seats, users and fee versions"},
	{ID: "contested-bed", Name: "Contested Bed", Description: "Two students pending on the same bed; approving one rejects the other"},
	{ID: "swap-ready", Name: "Swap Ready", Description: "Two approved hostel bookings with open mutual switch requests"},
	{ID: "billing", Name: "Billing", Description: "Approved hostel and library bookings with first invoices"},
}

// Resetter clears a store before a scenario loads.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ScenarioLoader seeds demo data through the engine.
type ScenarioLoader struct {
	Engine *generic.Engine
	Store  Resetter
	Fees   *factory.FeeFactory

	mu      sync.Mutex
	current string
}

func NewScenarioLoader(engine *generic.Engine, store Resetter) *ScenarioLoader {
	return &ScenarioLoader{Engine: engine, Store: store, Fees: factory.NewFeeFactory()}
}

// Current returns the id of the last loaded scenario.
func (l *ScenarioLoader) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Load resets the store and seeds a scenario.
func (l *ScenarioLoader) Load(ctx context.Context, id string) (*Campus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset store: %w", err)
	}
	campus, err := l.seedCampus(ctx)
	if err != nil {
		return nil, err
	}

	switch id {
	case "campus":
	case "contested-bed":
		err = l.contestedBed(ctx, campus)
	case "swap-ready":
		err = l.swapReady(ctx, campus)
	case "billing":
		err = l.billing(ctx, campus)
	default:
		return nil, fmt.Errorf("%w: unknown scenario %q", errBadRequest, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	l.current = id
	return campus, nil
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.Scenarios == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	current := h.Scenarios.Current()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario (admin).
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if err := generic.Authorize(ActorFrom(r.Context()), generic.CapManageRegistry); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Scenarios == nil {
		writeStatus(w, http.StatusNotFound, "not_found", "scenarios are not enabled", nil)
		return
	}
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	campus, err := h.Scenarios.Load(r.Context(), req.ScenarioID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": req.ScenarioID,
		"admin_id": int64(campus.Admin.ID),
		"students": mapSlice(campus.Students, toUserDTO),
	})
}

// =============================================================================
// CAMPUS SEED
// =============================================================================

// Campus is what every scenario starts from.
type Campus struct {
	Admin    generic.User
	Students []generic.User
	Beds     []generic.Resource
	Seats    []generic.Resource
}

func (c *Campus) admin() generic.Actor {
	return generic.Actor{ID: c.Admin.ID, Role: generic.RoleAdmin}
}

func (c *Campus) student(i int) generic.Actor {
	return generic.Actor{ID: c.Students[i].ID, Role: generic.RoleStudent}
}

func (l *ScenarioLoader) seedCampus(ctx context.Context) (*Campus, error) {
	reg := l.Engine.Registry
	bootstrap := generic.Actor{Role: generic.RoleAdmin}

	campus := &Campus{Admin: generic.User{Name: "Warden", Role: generic.RoleAdmin, Email: "warden@campus.local"}}
	if err := reg.SaveUser(ctx, bootstrap, &campus.Admin); err != nil {
		return nil, err
	}
	admin := campus.admin()

	for i, name := range []string{"Asha", "Bilal", "Chen", "Dara"} {
		u := generic.User{
			Name:  name,
			Role:  generic.RoleStudent,
			Email: fmt.Sprintf("student%d@campus.local", i+1),
			Phone: fmt.Sprintf("+1555000%04d", i+1),
		}
		if err := reg.SaveUser(ctx, admin, &u); err != nil {
			return nil, err
		}
		campus.Students = append(campus.Students, u)
	}

	for _, room := range []string{"A", "B"} {
		g, err := reg.CreateGroup(ctx, admin, hostel.ID, "Room "+room)
		if err != nil {
			return nil, err
		}
		for n := 1; n <= 2; n++ {
			bed, err := reg.CreateResource(ctx, admin, hostel.ID, fmt.Sprintf("%s%d", room, n), &g.ID)
			if err != nil {
				return nil, err
			}
			campus.Beds = append(campus.Beds, *bed)
		}
	}

	hall, err := reg.CreateGroup(ctx, admin, library.ID, "Reading Hall")
	if err != nil {
		return nil, err
	}
	for n := 1; n <= 6; n++ {
		seat, err := reg.CreateResource(ctx, admin, library.ID, fmt.Sprintf("S%d", n), &hall.ID)
		if err != nil {
			return nil, err
		}
		campus.Seats = append(campus.Seats, *seat)
	}

	for _, def := range []string{
		hostel.FeeVersionJSON("2024-01-01", 1500, 2000, 1500, 1000, 500),
		library.FeeVersionJSON("2024-01-01", 600, 500, 600, 300),
	} {
		v, err := l.Fees.ParseFeeVersion(def)
		if err != nil {
			return nil, err
		}
		if _, err := reg.AddFeeVersion(ctx, admin, *v); err != nil {
			return nil, err
		}
	}
	return campus, nil
}

func (l *ScenarioLoader) book(ctx context.Context, c *Campus, student int, res generic.Resource) (*generic.Booking, error) {
	today := l.Engine.Runtime.Today()
	return l.Engine.Bookings.Create(ctx, c.student(student), generic.CreateBooking{
		Resource:   res.ID,
		StartDate:  today,
		Purpose:    "demo",
		IDDocFront: fmt.Sprintf("docs/%d/front.jpg", c.Students[student].ID),
		IDDocBack:  fmt.Sprintf("docs/%d/back.jpg", c.Students[student].ID),
	})
}

func (l *ScenarioLoader) bookAndApprove(ctx context.Context, c *Campus, student int, res generic.Resource) (*generic.Booking, error) {
	b, err := l.book(ctx, c, student, res)
	if err != nil {
		return nil, err
	}
	return l.Engine.Bookings.Approve(ctx, c.admin(), b.ID)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func (l *ScenarioLoader) contestedBed(ctx context.Context, c *Campus) error {
	for _, s := range []int{0, 1} {
		if _, err := l.book(ctx, c, s, c.Beds[0]); err != nil {
			return err
		}
	}
	return nil
}

func (l *ScenarioLoader) swapReady(ctx context.Context, c *Campus) error {
	for i, bed := range []generic.Resource{c.Beds[0], c.Beds[2]} {
		if _, err := l.bookAndApprove(ctx, c, i, bed); err != nil {
			return err
		}
		if _, err := l.Engine.Switches.RequestMutual(ctx, c.student(i), hostel.ID, nil, "want to swap rooms"); err != nil {
			return err
		}
	}
	return nil
}

func (l *ScenarioLoader) billing(ctx context.Context, c *Campus) error {
	today := l.Engine.Runtime.Today()
	bed, err := l.bookAndApprove(ctx, c, 0, c.Beds[1])
	if err != nil {
		return err
	}
	// Student 0 holds a bed, so the seat deposit is waived.
	seat, err := l.bookAndApprove(ctx, c, 0, c.Seats[0])
	if err != nil {
		return err
	}
	other, err := l.bookAndApprove(ctx, c, 1, c.Seats[1])
	if err != nil {
		return err
	}
	for _, b := range []*generic.Booking{bed, seat, other} {
		if _, err := l.Engine.Invoices.Generate(ctx, c.admin(), b.ID, today); err != nil {
			return err
		}
	}
	return nil
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/allocation-engine/factory"
	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// KINDS AND REGISTRY
// =============================================================================

// ListKinds returns every registered resource kind.
func (h *Handler) ListKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapSlice(generic.ListKinds(), toKindDTO))
}

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Engine.Registry.ListGroups(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(groups, toGroupDTO))
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	g, err := h.Engine.Registry.CreateGroup(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "kind"), req.Label)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGroupDTO(*g))
}

func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.Engine.Registry.ListResources(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(resources, toResourceDTO))
}

func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var group *generic.GroupID
	if req.GroupID != nil {
		g := generic.GroupID(*req.GroupID)
		group = &g
	}
	res, err := h.Engine.Registry.CreateResource(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "kind"), req.Label, group)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceDTO(*res))
}

func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.ResourceID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Engine.Registry.DeleteResource(r.Context(), ActorFrom(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLiveMap returns every resource of the kind with its occupancy status.
func (h *Handler) GetLiveMap(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Registry.LiveMap(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toMapEntryDTO))
}

// AuditOccupancy reports resources whose is_booked flag disagrees with
// their approved bookings. The kind path value is optional.
func (h *Handler) AuditOccupancy(w http.ResponseWriter, r *http.Request) {
	violations, err := h.Engine.Registry.AuditOccupancy(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(violations, func(v generic.OccupancyViolation) ViolationDTO {
		holders := make([]int64, 0, len(v.Holders))
		for _, id := range v.Holders {
			holders = append(holders, int64(id))
		}
		return ViolationDTO{
			ResourceID: int64(v.Resource.ID),
			Kind:       v.Resource.Kind,
			IsBooked:   v.Resource.IsBooked,
			Holders:    holders,
			Message:    v.String(),
		}
	}))
}

// =============================================================================
// FEE VERSIONS
// =============================================================================

func (h *Handler) ListFeeVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Engine.Registry.ListFeeVersions(r.Context(), chi.URLParam(r, "kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(versions, h.Fees.ToJSON))
}

// AddFeeVersion stores a fee version for the kind in the path. The body uses
// the factory.FeeVersionJSON shape; its kind field may be omitted.
func (h *Handler) AddFeeVersion(w http.ResponseWriter, r *http.Request) {
	var body factory.FeeVersionJSON
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	body.Kind = chi.URLParam(r, "kind")
	v, err := h.Fees.FromJSON(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.Engine.Registry.AddFeeVersion(r.Context(), ActorFrom(r.Context()), *v)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Fees.ToJSON(*saved))
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Engine.Registry.ListUsers(r.Context(), ActorFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(users, toUserDTO))
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req SaveUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u := &generic.User{Name: req.Name, Role: generic.Role(req.Role), Email: req.Email, Phone: req.Phone}
	if err := h.Engine.Registry.SaveUser(r.Context(), ActorFrom(r.Context()), u); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*u))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.UserID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req SaveUserRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	u := &generic.User{ID: id, Name: req.Name, Role: generic.Role(req.Role), Email: req.Email, Phone: req.Phone}
	if err := h.Engine.Registry.SaveUser(r.Context(), ActorFrom(r.Context()), u); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID[generic.UserID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeUser(w, r, id)
}

// GetMe returns the caller's directory record.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, ActorFrom(r.Context()).ID)
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, id generic.UserID) {
	u, err := h.Engine.Registry.GetUser(r.Context(), ActorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u))
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// RunBookingExpiry expires approved bookings whose end date is before ?date (default today).
func (h *Handler) RunBookingExpiry(w http.ResponseWriter, r *http.Request) {
	today, err := h.queryDate(r, "date")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.Engine.Bookings.ExpireSweep(r.Context(), ActorFrom(r.Context()), today)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{Operation: "expire_bookings", Date: today.String(), Count: n})
}

// RunInvoiceExpiry flags invoices whose payment window lapsed before ?date.
func (h *Handler) RunInvoiceExpiry(w http.ResponseWriter, r *http.Request) {
	today, err := h.queryDate(r, "date")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.Engine.Invoices.ExpireUnpaidSweep(r.Context(), ActorFrom(r.Context()), today)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{Operation: "expire_invoices", Date: today.String(), Count: n})
}

// GetRevenue totals paid and pending invoices generated in [?from, ?to].
func (h *Handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	from, err := queryOptionalDate(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := queryOptionalDate(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sum, err := h.Engine.Invoices.Revenue(r.Context(), ActorFrom(r.Context()), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevenueDTO{
		From:     datePtr(sum.From),
		To:       datePtr(sum.To),
		Kinds:    mapSlice(sum.Kinds, toRevenueLineDTO),
		Combined: toRevenueLineDTO(sum.Combined),
	})
}

// FlushOutbox publishes pending events now instead of waiting for the relay tick.
func (h *Handler) FlushOutbox(w http.ResponseWriter, r *http.Request) {
	if err := generic.Authorize(ActorFrom(r.Context()), generic.CapRunSweeps); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.Outbox == nil {
		writeJSON(w, http.StatusOK, SweepDTO{Operation: "relay_outbox", Date: h.Engine.Runtime.Today().String()})
		return
	}
	n, err := h.Outbox.Flush(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepDTO{Operation: "relay_outbox", Date: h.Engine.Runtime.Today().String(), Count: n})
}

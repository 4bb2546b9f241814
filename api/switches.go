package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// AVAILABLE SWITCH HANDLERS
// =============================================================================

// RequestAvailableSwitch asks to move the caller's approved booking to a free resource.
func (h *Handler) RequestAvailableSwitch(w http.ResponseWriter, r *http.Request) {
	var req AvailableSwitchBody
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sw, err := h.Engine.Switches.RequestAvailable(r.Context(), ActorFrom(r.Context()),
		generic.ResourceID(req.TargetResourceID), req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAvailableSwitchDTO(*sw))
}

func (h *Handler) ApproveAvailableSwitch(w http.ResponseWriter, r *http.Request) {
	h.decideAvailable(w, r, h.Engine.Switches.ApproveAvailable)
}

func (h *Handler) RejectAvailableSwitch(w http.ResponseWriter, r *http.Request) {
	h.decideAvailable(w, r, h.Engine.Switches.RejectAvailable)
}

func (h *Handler) CancelAvailableSwitch(w http.ResponseWriter, r *http.Request) {
	h.decideAvailable(w, r, h.Engine.Switches.CancelAvailable)
}

type availableDecision func(ctx context.Context, actor generic.Actor, id generic.RequestID, remarks string) (*generic.AvailableSwitchRequest, error)

func (h *Handler) decideAvailable(w http.ResponseWriter, r *http.Request, decide availableDecision) {
	id, err := pathID[generic.RequestID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RemarksRequest
	if err := h.decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sw, err := decide(r.Context(), ActorFrom(r.Context()), id, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailableSwitchDTO(*sw))
}

// ListAvailableSwitches returns requests filtered by ?kind and ?status.
func (h *Handler) ListAvailableSwitches(w http.ResponseWriter, r *http.Request) {
	f, err := switchFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reqs, err := h.Engine.Switches.ListAvailable(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toAvailableSwitchDTO))
}

func (h *Handler) ListAvailableHistory(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.Engine.Switches.AvailableHistory(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rows, toAvailableHistoryDTO))
}

// =============================================================================
// MUTUAL SWITCH HANDLERS
// =============================================================================

// RequestMutualSwitch records an open or targeted swap request for the kind.
func (h *Handler) RequestMutualSwitch(w http.ResponseWriter, r *http.Request) {
	var req MutualSwitchBody
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	var partner *generic.BookingID
	if req.PartnerBookingID != nil {
		p := generic.BookingID(*req.PartnerBookingID)
		partner = &p
	}
	sw, err := h.Engine.Switches.RequestMutual(r.Context(), ActorFrom(r.Context()),
		chi.URLParam(r, "kind"), partner, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutualSwitchDTO(*sw))
}

// MatchMutualSwitch pairs two pending requests and swaps their resources (admin).
func (h *Handler) MatchMutualSwitch(w http.ResponseWriter, r *http.Request) {
	var req MatchMutualRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	pair, err := h.Engine.Switches.MatchAndApproveMutual(r.Context(), ActorFrom(r.Context()),
		generic.RequestID(req.RequestA), generic.RequestID(req.RequestB), req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(pair, toMutualSwitchDTO))
}

func (h *Handler) RejectMutualSwitch(w http.ResponseWriter, r *http.Request) {
	h.decideMutual(w, r, h.Engine.Switches.RejectMutual)
}

func (h *Handler) CancelMutualSwitch(w http.ResponseWriter, r *http.Request) {
	h.decideMutual(w, r, h.Engine.Switches.CancelMutual)
}

type mutualDecision func(ctx context.Context, actor generic.Actor, id generic.RequestID, remarks string) (*generic.MutualSwitchRequest, error)

func (h *Handler) decideMutual(w http.ResponseWriter, r *http.Request, decide mutualDecision) {
	id, err := pathID[generic.RequestID](r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req RemarksRequest
	if err := h.decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	sw, err := decide(r.Context(), ActorFrom(r.Context()), id, req.Remarks)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMutualSwitchDTO(*sw))
}

func (h *Handler) ListMutualSwitches(w http.ResponseWriter, r *http.Request) {
	f, err := switchFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reqs, err := h.Engine.Switches.ListMutual(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(reqs, toMutualSwitchDTO))
}

func (h *Handler) ListMutualHistory(w http.ResponseWriter, r *http.Request) {
	f, err := historyFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.Engine.Switches.MutualHistory(r.Context(), ActorFrom(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(rows, toMutualHistoryDTO))
}

func switchFilter(r *http.Request) (generic.SwitchFilter, error) {
	f := generic.SwitchFilter{Kind: r.URL.Query().Get("kind")}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Statuses = []generic.RequestStatus{generic.RequestStatus(s)}
	}
	student, err := queryID[generic.UserID](r, "student")
	if err != nil {
		return f, err
	}
	f.Student = student
	return f, nil
}

func historyFilter(r *http.Request) (generic.HistoryFilter, error) {
	f := generic.HistoryFilter{Kind: r.URL.Query().Get("kind")}
	student, err := queryID[generic.UserID](r, "student")
	if err != nil {
		return f, err
	}
	f.Student = student
	return f, nil
}

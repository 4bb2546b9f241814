package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/warp/allocation-engine/generic"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// errBadRequest marks a body that could not be decoded or a malformed path/query value.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeStatus(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// statusOf maps an error from the engine to an HTTP status and a stable code.
// Order matters: duplicate and stale errors also unwrap to ErrConflict.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, generic.ErrNotFound), errors.Is(err, generic.ErrUnknownKind):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrDuplicateInvoice):
		return http.StatusConflict, "duplicate_invoice"
	case errors.Is(err, generic.ErrStale):
		return http.StatusConflict, "stale"
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, generic.ErrTooEarly):
		return http.StatusUnprocessableEntity, "too_early"
	case errors.Is(err, generic.ErrNotApproved):
		return http.StatusUnprocessableEntity, "not_approved"
	case errors.Is(err, generic.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, generic.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError writes err with its mapped status. Internal errors are logged
// and their text withheld from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeStatus(w, http.StatusUnprocessableEntity, "validation", "request validation failed", fields)
		return
	}

	status, code := statusOf(err)
	if status == http.StatusInternalServerError {
		h.log().Error("request failed", requestFields(r, err)...)
		writeStatus(w, status, code, "internal server error", nil)
		return
	}

	var details any
	var early *generic.TooEarlyError
	if errors.As(err, &early) {
		details = map[string]any{"days_left": early.DaysLeft, "cycle_end": early.CycleEnd.String()}
	}
	var dup *generic.DuplicateInvoiceError
	if errors.As(err, &dup) {
		m := map[string]any{"invoice_number": dup.Number, "month": dup.Month.String()}
		if !dup.NextOpens.IsZero() {
			m["next_invoice_from"] = dup.NextOpens.String()
		}
		details = m
	}
	writeStatus(w, status, code, err.Error(), details)
}

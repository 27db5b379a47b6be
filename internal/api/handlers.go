package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/hospital-transfers/internal/apperr"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/transfer"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// writeServiceError maps the error taxonomy onto HTTP statuses. The most
// specific sentinel is checked first.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transfer.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.Is(err, transfer.ErrResolutionInProgress):
		writeError(w, http.StatusConflict, "resolution_in_progress", "transfer request is being resolved, please retry shortly")
	case errors.Is(err, rooms.ErrRoomUnavailable):
		writeError(w, http.StatusConflict, "room_unavailable", err.Error())
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperr.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, apperr.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, apperr.ErrStore):
		writeError(w, http.StatusBadGateway, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func forbidden(w http.ResponseWriter, details string) {
	writeError(w, http.StatusForbidden, "forbidden", details)
}

// currentUser writes a 401 and returns false when the request carries no
// resolved profile.
func currentUser(w http.ResponseWriter, r *http.Request) (directory.UserProfile, bool) {
	u, ok := CurrentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "no signed-in user")
	}
	return u, ok
}

// canSeeHospital reports whether u may read data scoped to hospitalID.
// Administrators see every hospital.
func canSeeHospital(u directory.UserProfile, hospitalID string) bool {
	return u.Role == directory.RoleAdministrador || u.HospitalID == hospitalID
}

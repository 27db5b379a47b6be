package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/hospital-transfers/internal/audit"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/transfer"
)

func createTransferHandler(svc *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req CreateTransferRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		created, err := svc.SubmitRequest(r.Context(), transfer.Submission{
			PatientID:             req.PatientID,
			DestinationHospitalID: req.DestinationHospitalID,
			RoomID:                req.RoomID,
			Reason:                req.Reason,
			RequestedBy:           user.ID,
		})
		if err != nil && created == nil {
			writeServiceError(w, err)
			return
		}

		resp := toTransferResponse(created)
		if err != nil {
			resp.Warning = err.Error()
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func listTransfersHandler(svc *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		hospitalID := chi.URLParam(r, "hospitalID")
		if !canSeeHospital(user, hospitalID) {
			forbidden(w, "transfers of another hospital")
			return
		}

		var (
			reqs []transfer.Request
			err  error
		)
		switch status := r.URL.Query().Get("status"); status {
		case "":
			reqs, err = svc.ListForHospital(r.Context(), hospitalID)
		case string(transfer.StatusPending):
			reqs, err = svc.ListPendingForHospital(r.Context(), hospitalID)
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status filter must be pending")
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]TransferResponse, 0, len(reqs))
		for i := range reqs {
			resp = append(resp, toTransferResponse(&reqs[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getTransferHandler(svc *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		hospitalID := chi.URLParam(r, "hospitalID")
		if !canSeeHospital(user, hospitalID) {
			forbidden(w, "transfers of another hospital")
			return
		}

		req, err := svc.Request(r.Context(), hospitalID, chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTransferResponse(req))
	}
}

func transferEventsHandler(trail audit.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		if !canSeeHospital(user, chi.URLParam(r, "hospitalID")) {
			forbidden(w, "transfers of another hospital")
			return
		}

		events, err := trail.ListForTransfer(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadGateway, "audit_unavailable", err.Error())
			return
		}
		if events == nil {
			events = []audit.Event{}
		}
		writeJSON(w, http.StatusOK, events)
	}
}

// resolver returns the caller as an Actor when they supervise hospitalID.
func resolver(w http.ResponseWriter, r *http.Request, hospitalID string) (transfer.Actor, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return transfer.Actor{}, false
	}
	if user.Role != directory.RoleSupervisor || user.HospitalID != hospitalID {
		forbidden(w, "only a supervisor of the destination hospital may resolve its transfers")
		return transfer.Actor{}, false
	}
	return transfer.ActorFrom(user), true
}

func resolveTransferHandler(svc *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hospitalID := chi.URLParam(r, "hospitalID")
		actor, ok := resolver(w, r, hospitalID)
		if !ok {
			return
		}

		var req ResolveTransferRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		resolved, err := svc.ResolveRequest(r.Context(), transfer.Resolution{
			TransferID:            chi.URLParam(r, "id"),
			DestinationHospitalID: hospitalID,
			Decision:              transfer.Status(req.Decision),
			Justification:         req.Justification,
			ResolvedBy:            actor,
		})
		writeResolution(w, resolved, err)
	}
}

func beginResolutionHandler(svc *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hospitalID := chi.URLParam(r, "hospitalID")
		actor, ok := resolver(w, r, hospitalID)
		if !ok {
			return
		}

		var req BeginResolutionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		pending, err := svc.BeginResolution(r.Context(), hospitalID, chi.URLParam(r, "id"), transfer.Status(req.Decision), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, ResolutionTokenResponse{
			Token:     pending.Token,
			ExpiresAt: pending.ExpiresAt,
			Decision:  string(pending.Intent.Decision),
			Transfer:  toTransferResponse(pending.Request),
		})
	}
}

func completeResolutionHandler(svc *transfer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		token := chi.URLParam(r, "token")

		var req CompleteResolutionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		intent, err := svc.PeekResolution(r.Context(), token)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if intent.ResolvedBy.ID != user.ID {
			forbidden(w, "resolution was started by another user")
			return
		}

		resolved, err := svc.CompleteResolution(r.Context(), token, req.Justification)
		writeResolution(w, resolved, err)
	}
}

func writeResolution(w http.ResponseWriter, resolved *transfer.Request, err error) {
	if err != nil && resolved == nil {
		writeServiceError(w, err)
		return
	}
	resp := toTransferResponse(resolved)
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

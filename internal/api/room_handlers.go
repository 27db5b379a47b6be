package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/rooms"
)

func listRoomsHandler(tracker *rooms.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		hospitalID := r.URL.Query().Get("hospital_id")
		if hospitalID == "" {
			hospitalID = user.HospitalID
		}
		if hospitalID == rooms.AllHospitals && user.Role != directory.RoleAdministrador {
			forbidden(w, "only administrators can list rooms of every hospital")
			return
		}

		var (
			list []rooms.Room
			err  error
		)
		if r.URL.Query().Get("available") == "true" {
			list, err = tracker.ListAvailableRooms(r.Context(), hospitalID)
		} else {
			list, err = tracker.ListRooms(r.Context(), hospitalID)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]RoomResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toRoomResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func setAvailabilityHandler(tracker *rooms.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		if !user.Role.In(directory.RoleEnfermeiro, directory.RoleSupervisor, directory.RoleAdministrador) {
			forbidden(w, "role may not change room availability")
			return
		}

		var req SetAvailabilityRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Available == nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "available is required")
			return
		}

		roomID := chi.URLParam(r, "id")
		current, err := tracker.Room(r.Context(), roomID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !canSeeHospital(user, current.HospitalID) {
			forbidden(w, "room belongs to another hospital")
			return
		}

		room, err := tracker.SetAvailability(r.Context(), roomID, *req.Available)
		if err != nil && room == nil {
			writeServiceError(w, err)
			return
		}

		resp := toRoomResponse(room)
		if err != nil {
			resp.Warning = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

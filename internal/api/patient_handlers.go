package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/hospital-transfers/internal/timeline"
)

func patientTimelineHandler(recorder *timeline.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := currentUser(w, r); !ok {
			return
		}

		events, err := recorder.Timeline(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTimelineResponse(events))
	}
}

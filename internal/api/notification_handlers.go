package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/notification"
)

const keepAliveInterval = 25 * time.Second

func listNotificationsHandler(d *notification.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		feed, err := d.List(r.Context(), notification.InboxesFor(user)...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFeedResponse(feed))
	}
}

// streamNotificationsHandler pushes the caller's merged feed as server-sent
// events: once on connect, then on every change. Only the latest feed is
// kept when the client reads slower than feeds are produced.
func streamNotificationsHandler(d *notification.Dispatcher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
			return
		}

		updates := make(chan notification.Feed, 1)
		sub, err := d.Subscribe(r.Context(), notification.InboxesFor(user), func(f notification.Feed) {
			select {
			case updates <- f:
			default:
				select {
				case <-updates:
				default:
				}
				updates <- f
			}
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepAlive.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case feed := <-updates:
				data, err := json.Marshal(toFeedResponse(feed))
				if err != nil {
					log.Error("encode notification feed", zap.Error(err))
					return
				}
				if _, err := fmt.Fprintf(w, "event: feed\ndata: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// inboxOwner writes a 403 unless the caller reads from the inbox in the URL.
func inboxOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return "", false
	}
	inbox := chi.URLParam(r, "inbox")
	if !notification.Owns(user, inbox) {
		forbidden(w, "inbox belongs to another user")
		return "", false
	}
	return inbox, true
}

func markReadHandler(d *notification.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inbox, ok := inboxOwner(w, r)
		if !ok {
			return
		}
		if err := d.MarkRead(r.Context(), inbox, chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clearInboxHandler(d *notification.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inbox, ok := inboxOwner(w, r)
		if !ok {
			return
		}
		if err := d.ClearAll(r.Context(), inbox); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

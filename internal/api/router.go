package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/hospital-transfers/internal/audit"
	"github.com/hackgods/hospital-transfers/internal/directory"
	"github.com/hackgods/hospital-transfers/internal/notification"
	"github.com/hackgods/hospital-transfers/internal/rooms"
	"github.com/hackgods/hospital-transfers/internal/timeline"
	"github.com/hackgods/hospital-transfers/internal/transfer"
)

type RouterConfig struct {
	Transfers     *transfer.Service
	Rooms         *rooms.Tracker
	Notifications *notification.Dispatcher
	Timeline      *timeline.Recorder
	Directory     *directory.Directory
	Audit         audit.Log
	Gatherer      prometheus.Gatherer
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Log           *zap.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.Nop{}
	}

	r.Group(func(r chi.Router) {
		r.Use(CurrentUserMiddleware(cfg.Directory))

		r.Get("/rooms", listRoomsHandler(cfg.Rooms))
		r.Put("/rooms/{id}/availability", setAvailabilityHandler(cfg.Rooms))

		r.Post("/transfers", createTransferHandler(cfg.Transfers))
		r.Route("/hospitals/{hospitalID}/transfers", func(r chi.Router) {
			r.Get("/", listTransfersHandler(cfg.Transfers))
			r.Get("/{id}", getTransferHandler(cfg.Transfers))
			r.Get("/{id}/events", transferEventsHandler(auditLog))
			r.Post("/{id}/resolve", resolveTransferHandler(cfg.Transfers))
			r.Post("/{id}/resolution", beginResolutionHandler(cfg.Transfers))
		})
		r.Post("/resolutions/{token}", completeResolutionHandler(cfg.Transfers))

		r.Get("/notifications", listNotificationsHandler(cfg.Notifications))
		r.Get("/notifications/stream", streamNotificationsHandler(cfg.Notifications, cfg.Log))
		r.Post("/notifications/{inbox}/{id}/read", markReadHandler(cfg.Notifications))
		r.Delete("/notifications/{inbox}", clearInboxHandler(cfg.Notifications))

		r.Get("/patients/{id}/timeline", patientTimelineHandler(cfg.Timeline))
	})

	return r
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the workflow's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	TransfersSubmitted  prometheus.Counter
	TransfersResolved   *prometheus.CounterVec
	ResolutionConflicts prometheus.Counter
	RoomToggles         *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	SideEffectFailures  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransfersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "transfers_submitted_total",
			Help: "Transfer requests created in pending state",
		}),
		TransfersResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transfers_resolved_total",
			Help: "Transfer requests resolved, by decision",
		}, []string{"decision"}),
		ResolutionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "transfer_resolution_conflicts_total",
			Help: "Resolution attempts rejected because the request was no longer pending",
		}),
		RoomToggles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "room_availability_changes_total",
			Help: "Room availability writes, by resulting state",
		}, []string{"state"}),
		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications appended to inboxes, by inbox kind",
		}, []string{"kind"}),
		SideEffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transfer_side_effect_failures_total",
			Help: "Approval side effects that failed after the request was resolved",
		}, []string{"step"}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	m.TransfersSubmitted.Inc()
}

func (m *Metrics) IncResolved(decision string) {
	if m == nil {
		return
	}
	m.TransfersResolved.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncConflict() {
	if m == nil {
		return
	}
	m.ResolutionConflicts.Inc()
}

func (m *Metrics) IncRoomToggle(available bool) {
	if m == nil {
		return
	}
	state := "occupied"
	if available {
		state = "available"
	}
	m.RoomToggles.WithLabelValues(state).Inc()
}

func (m *Metrics) IncNotification(kind string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncSideEffectFailure(step string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(step).Inc()
}

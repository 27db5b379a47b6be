package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncSubmitted()
	m.IncResolved("approved")
	m.IncResolved("approved")
	m.IncResolved("denied")
	m.IncRoomToggle(false)
	m.IncNotification("supervisor")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransfersSubmitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransfersResolved.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransfersResolved.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomToggles.WithLabelValues("occupied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("supervisor")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncSubmitted()
		m.IncResolved("approved")
		m.IncConflict()
		m.IncRoomToggle(true)
		m.IncNotification("reply")
		m.IncSideEffectFailure("timeline")
	})
}

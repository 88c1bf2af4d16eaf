package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	waitlistLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waitlist_length",
			Help: "Current waitlist length per session",
		},
		[]string{"session_id"},
	)

	capacityUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capacity_utilization",
			Help: "Registrations over effective capacity per session",
		},
		[]string{"session_id"},
	)

	promotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waitlist_promotions_total",
			Help: "Total waitlist promotions",
		},
	)

	conflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflicts_detected_total",
			Help: "Conflicts detected by type and severity",
		},
		[]string{"type", "severity"},
	)

	detectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detection_pass_duration_seconds",
			Help:    "Duration of conflict detection passes",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"scope"},
	)

	autoResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_resolutions_total",
			Help: "Auto-resolution attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)
)

// Monitor is the engine's metrics sink. Services hold one and report through
// its methods; nothing else touches the prometheus vars directly.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

func (m *Monitor) TrackRegistration(outcome string) {
	registrationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackLedger(sessionID string, registrations, effectiveCapacity, waitlistCount int) {
	waitlistLength.WithLabelValues(sessionID).Set(float64(waitlistCount))
	if effectiveCapacity > 0 {
		capacityUtilization.WithLabelValues(sessionID).Set(
			float64(registrations) / float64(effectiveCapacity))
	}
}

func (m *Monitor) TrackPromotions(count int) {
	promotionsTotal.Add(float64(count))
}

func (m *Monitor) TrackConflict(conflictType, severity string) {
	conflictsDetected.WithLabelValues(conflictType, severity).Inc()
}

func (m *Monitor) TrackDetectionPass(scope string, duration time.Duration) {
	detectionDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

func (m *Monitor) TrackAutoResolution(strategy, result string) {
	autoResolutionsTotal.WithLabelValues(strategy, result).Inc()
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avatar_relay_active_sessions",
		Help: "Number of active avatar relay sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_relay_sessions_total",
		Help: "Total number of avatar relay sessions started",
	})

	startFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_relay_start_failures_total",
		Help: "Avatar session start failures",
	}, []string{"reason"}) // reason: "config" or "connection"

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_relay_session_duration_seconds",
		Help:    "Duration of avatar relay sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_relay_connect_latency_seconds",
		Help:    "Time to initialize and start the avatar connection",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Audio metrics
	framesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_relay_frames_forwarded_total",
		Help: "Audio frames forwarded to the avatar service",
	})

	bytesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_relay_audio_bytes_total",
		Help: "Audio bytes forwarded to the avatar service",
	})

	segmentsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_relay_segments_total",
		Help: "Audio segments completed",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_relay_frames_dropped_total",
		Help: "Audio items dropped instead of forwarded",
	}, []string{"reason"}) // reason: "send_error", "inactive" or "cancelled"

	// Control metrics
	interrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_relay_interrupts_total",
		Help: "Interrupt requests sent to the avatar service",
	}, []string{"status"})

	closeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_relay_close_errors_total",
		Help: "Errors swallowed during session teardown",
	}, []string{"step"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avatar_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single relay session
type SessionMetrics struct {
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker for a session that just became active
func NewSessionMetrics() *SessionMetrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &SessionMetrics{startTime: time.Now()}
}

// End records the end of the session
func (m *SessionMetrics) End() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStartFailure records a failed session start
func RecordStartFailure(reason string) {
	startFailures.WithLabelValues(reason).Inc()
}

// RecordConnectLatency records how long the avatar connection took to come up
func RecordConnectLatency(d time.Duration) {
	connectLatency.Observe(d.Seconds())
}

// RecordFrameForwarded records one audio frame sent to the avatar
func RecordFrameForwarded(bytes int) {
	framesForwarded.Inc()
	bytesForwarded.Add(float64(bytes))
}

// RecordSegmentForwarded records an end-of-segment marker sent to the avatar
func RecordSegmentForwarded() {
	segmentsForwarded.Inc()
}

// RecordFrameDropped records an audio item that was not delivered
func RecordFrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordInterrupt records an interrupt request outcome
func RecordInterrupt(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	interrupts.WithLabelValues(status).Inc()
}

// RecordCloseError records a teardown step that failed
func RecordCloseError(step string) {
	closeErrors.WithLabelValues(step).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

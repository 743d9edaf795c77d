package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the metrics surface the rest of the agent records against.
// Init returns either the Prometheus implementation or a noop one, so
// callers never branch on whether metrics are enabled.
type Recorder interface {
	// OAuth handshake
	RecordHandshake(provider, result string, duration time.Duration)
	RecordBridgeMessage(accepted bool)

	// Widget refresh
	RecordWidgetRefresh(provider, result string)
	RecordSnapshotCache(hit bool)

	// Backend API
	RecordAPIRequest(method, endpoint string, status int, duration time.Duration)
	RecordForcedLogout()
}

// Ensure Metrics implements Recorder interface at compile time
var _ Recorder = (*Metrics)(nil)

// Metrics holds all Prometheus metrics for the agent
type Metrics struct {
	// OAuth handshake
	HandshakesTotal   *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	BridgeMessages    *prometheus.CounterVec

	// Widget refresh
	WidgetRefreshTotal *prometheus.CounterVec
	SnapshotCacheTotal *prometheus.CounterVec

	// Backend API
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	ForcedLogoutsTotal prometheus.Counter

	// Callback server HTTP
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init initializes metrics based on the enabled flag. Prometheus collectors
// are registered at most once per process.
func Init(enabled bool) Recorder {
	if !enabled {
		return NewNoopMetrics()
	}

	once.Do(func() {
		defaultMetrics = initMetrics()
	})
	return defaultMetrics
}

func initMetrics() *Metrics {
	return &Metrics{
		HandshakesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedash_handshakes_total",
				Help: "Total OAuth connect handshakes by provider and result",
			},
			[]string{"provider", "result"},
		),
		HandshakeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsedash_handshake_duration_seconds",
				Help:    "Duration of completed OAuth handshakes",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		BridgeMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedash_bridge_messages_total",
				Help: "Cross-window bridge messages by acceptance",
			},
			[]string{"result"}, // accepted, dropped
		),
		WidgetRefreshTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedash_widget_refreshes_total",
				Help: "Widget snapshot refreshes by provider and result",
			},
			[]string{"provider", "result"},
		),
		SnapshotCacheTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedash_snapshot_cache_total",
				Help: "Snapshot cache lookups by outcome",
			},
			[]string{"outcome"}, // hit, miss
		),
		APIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedash_api_requests_total",
				Help: "Backend API requests by method, endpoint and status",
			},
			[]string{"method", "endpoint", "status"},
		),
		APIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsedash_api_request_duration_seconds",
				Help:    "Backend API request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		ForcedLogoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pulsedash_forced_logouts_total",
				Help: "Sessions cleared because the backend answered 401",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsedash_http_requests_total",
				Help: "Callback server requests by method, path and status",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsedash_http_request_duration_seconds",
				Help:    "Callback server request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsedash_http_requests_in_flight",
				Help: "Callback server requests currently being served",
			},
		),
	}
}

// RecordHandshake records one finished handshake attempt. Duration is only
// observed for completed handshakes (result "success").
func (m *Metrics) RecordHandshake(provider, result string, duration time.Duration) {
	m.HandshakesTotal.WithLabelValues(provider, result).Inc()
	if result == resultSuccess {
		m.HandshakeDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

// RecordBridgeMessage records whether a bridge message passed validation.
func (m *Metrics) RecordBridgeMessage(accepted bool) {
	result := "dropped"
	if accepted {
		result = "accepted"
	}
	m.BridgeMessages.WithLabelValues(result).Inc()
}

// RecordWidgetRefresh records one widget snapshot fetch outcome.
func (m *Metrics) RecordWidgetRefresh(provider, result string) {
	m.WidgetRefreshTotal.WithLabelValues(provider, result).Inc()
}

// RecordSnapshotCache records a snapshot cache lookup outcome.
func (m *Metrics) RecordSnapshotCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.SnapshotCacheTotal.WithLabelValues(outcome).Inc()
}

// RecordAPIRequest records one backend API call.
func (m *Metrics) RecordAPIRequest(
	method, endpoint string,
	status int,
	duration time.Duration,
) {
	m.APIRequestsTotal.WithLabelValues(method, endpoint, statusLabel(status)).Inc()
	m.APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordForcedLogout records a 401-triggered session teardown.
func (m *Metrics) RecordForcedLogout() {
	m.ForcedLogoutsTotal.Inc()
}

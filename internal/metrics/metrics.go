package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Scheduler counters
	Ticks             atomic.Uint64
	TicksSkippedRate  atomic.Uint64 // Tick arrived before the sampling interval elapsed
	TicksSkippedBusy  atomic.Uint64 // Previous request still in flight
	TicksSkippedStale atomic.Uint64 // Camera had no newer frame than the last dispatched one
	SnapshotErrors    atomic.Uint64
	FramesDispatched  atomic.Uint64
	RequestsInFlight  atomic.Int64
	ResultsDiscarded  atomic.Uint64

	// Result counters
	ResultsSuccess      atomic.Uint64
	ResultsThrottled    atomic.Uint64
	ResultsServiceErr   atomic.Uint64
	ResultsTransportErr atomic.Uint64

	// Alerting
	AlertTransitions atomic.Uint64
	AlertActive      atomic.Uint64 // 0 = normal, 1 = alerting

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Latest round trip in ms
	FrameBytes         atomic.Uint64 // Latest encoded frame size

	// Dashboard clients
	StreamClients atomic.Int64
	WebRTCClients atomic.Int64

	latency  prometheus.Histogram
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v *atomic.Int64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Scheduler
	m.counter("fightwatch_ticks_total", "Total scheduler ticks", &m.Ticks)
	m.counter("fightwatch_ticks_skipped_interval_total", "Ticks skipped because the sampling interval had not elapsed", &m.TicksSkippedRate)
	m.counter("fightwatch_ticks_skipped_inflight_total", "Ticks skipped because a request was still in flight", &m.TicksSkippedBusy)
	m.counter("fightwatch_ticks_skipped_stale_total", "Ticks skipped because the camera had no new frame", &m.TicksSkippedStale)
	m.counter("fightwatch_snapshot_errors_total", "Camera snapshots that produced no usable frame", &m.SnapshotErrors)
	m.counter("fightwatch_frames_dispatched_total", "Frames sent to the inference endpoint", &m.FramesDispatched)
	m.counter("fightwatch_results_discarded_total", "Results that arrived after the loop stopped", &m.ResultsDiscarded)
	m.gauge("fightwatch_requests_in_flight", "Inference requests currently outstanding (0 or 1)", &m.RequestsInFlight)

	// Results
	m.counter("fightwatch_results_success_total", "Successful inference results", &m.ResultsSuccess)
	m.counter("fightwatch_results_throttled_total", "Throttled inference results", &m.ResultsThrottled)
	m.counter("fightwatch_results_service_error_total", "Inference results reporting a service error", &m.ResultsServiceErr)
	m.counter("fightwatch_results_transport_error_total", "Inference requests that failed in transport", &m.ResultsTransportErr)

	// Alerts
	m.counter("fightwatch_alert_transitions_total", "Normal to Alerting transitions", &m.AlertTransitions)
	m.counter("fightwatch_alert_active", "Alert state (0=normal, 1=alerting)", &m.AlertActive)

	// Latency
	m.counter("fightwatch_inference_latency_ms", "Latest inference round trip in milliseconds", &m.InferenceLatencyMs)
	m.counter("fightwatch_frame_bytes", "Size of the latest encoded frame", &m.FrameBytes)

	// Clients
	m.gauge("fightwatch_stream_clients", "Connected MJPEG/SSE clients", &m.StreamClients)
	m.gauge("fightwatch_webrtc_clients", "Connected WebRTC data channel clients", &m.WebRTCClients)

	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fightwatch_inference_duration_seconds",
		Help:    "Histogram of inference round trip latencies.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	m.registry.MustRegister(m.latency)
}

// ObserveInference records one inference round trip
func (m *Metrics) ObserveInference(duration time.Duration) {
	m.InferenceLatencyMs.Store(uint64(duration.Milliseconds()))
	m.latency.Observe(duration.Seconds())
}

// SetAlerting updates the alert state gauge
func (m *Metrics) SetAlerting(active bool) {
	if active {
		m.AlertActive.Store(1)
		return
	}
	m.AlertActive.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

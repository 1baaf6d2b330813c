package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Backtest metrics
	backtestsTotal   *prometheus.CounterVec
	backtestDuration prometheus.Histogram
	barsReplayed     prometheus.Counter
	runsActive       prometheus.Gauge
	poolQueueDepth   *prometheus.GaugeVec
	storedRuns       prometheus.Gauge
}

// NewRegistry creates a metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracer_backtests_total",
			Help: "Total number of backtest runs",
		},
		[]string{"mode", "status"},
	)
	r.backtestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracer_backtest_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)
	r.barsReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracer_bars_replayed_total",
			Help: "Total number of bars replayed across all runs",
		},
	)
	r.runsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracer_runs_active",
			Help: "Number of backtest runs currently executing",
		},
	)
	r.poolQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tracer_pool_queue_depth",
			Help: "Number of tasks waiting in a worker pool queue",
		},
		[]string{"pool"},
	)
	r.storedRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracer_stored_runs",
			Help: "Number of runs retained in the run store",
		},
	)

	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.barsReplayed)
	reg.MustRegister(r.runsActive)
	reg.MustRegister(r.poolQueueDepth)
	reg.MustRegister(r.storedRuns)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	r.httpRequestsTotal.WithLabelValues(method, path, statusToString(status)).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordBacktest records a finished run.
func (r *Registry) RecordBacktest(mode, status string, duration float64, bars int) {
	r.backtestsTotal.WithLabelValues(mode, status).Inc()
	r.backtestDuration.Observe(duration)
	r.barsReplayed.Add(float64(bars))
}

// RunStarted marks a run as executing.
func (r *Registry) RunStarted() {
	r.runsActive.Inc()
}

// RunFinished marks a run as no longer executing.
func (r *Registry) RunFinished() {
	r.runsActive.Dec()
}

// SetPoolQueueDepth reports a worker pool's queue depth.
func (r *Registry) SetPoolQueueDepth(pool string, depth int) {
	r.poolQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

// SetStoredRuns reports the run store size.
func (r *Registry) SetStoredRuns(count int) {
	r.storedRuns.Set(float64(count))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

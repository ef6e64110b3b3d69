package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	apiTime       *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcription_requests_total",
			Help: "Finished transcription requests by status and failure kind.",
		}, []string{"status", "error_kind"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcription_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcription_jobs_in_flight",
			Help: "Requests currently running through the pipeline.",
		}),
		apiTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcription_http_request_duration_seconds",
			Help:    "HTTP handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.stageDuration,
		m.inFlight,
		m.apiTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// APIMiddleware times every request except the scrape itself
func (m *Metrics) APIMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil || c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		m.apiTime.WithLabelValues(c.Method(), c.Route().Path).Observe(time.Since(start).Seconds())
		return err
	}
}

// JobStarted marks a request as running
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// JobFinished records the terminal status of a running request
func (m *Metrics) JobFinished(status, errorKind string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(status, errorKind).Inc()
}

// StageTimer measures how long a request stays in each stage
type StageTimer struct {
	m     *Metrics
	stage string
	since time.Time
}

// NewStageTimer starts timing a request
func (m *Metrics) NewStageTimer() *StageTimer {
	return &StageTimer{m: m}
}

// Enter closes the current stage and starts the next one
func (t *StageTimer) Enter(stage string) {
	now := time.Now()
	if t.m != nil && t.stage != "" {
		t.m.stageDuration.WithLabelValues(t.stage).Observe(now.Sub(t.since).Seconds())
	}
	t.stage, t.since = stage, now
}

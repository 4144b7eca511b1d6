package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics records analysis pipeline outcomes.
type PipelineMetrics interface {
	IncRuns(status string)
	ObserveStage(stage string, durationSeconds float64)
	IncFailures(kind string)
	IncExtractions()
	AddFindings(level string, n int)
}

// GatewayMetrics captures request metrics for the HTTP gateway.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements PipelineMetrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncRuns(string)                                 {}
func (Noop) ObserveStage(string, float64)                   {}
func (Noop) IncFailures(string)                             {}
func (Noop) IncExtractions()                                {}
func (Noop) AddFindings(string, int)                        {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements PipelineMetrics backed by Prometheus collectors.
type Prom struct {
	runs        *prometheus.CounterVec
	stages      *prometheus.HistogramVec
	failures    *prometheus.CounterVec
	extractions prometheus.Counter
	findings    *prometheus.CounterVec
}

// NewProm registers the pipeline collectors on the default registerer. Collectors
// already registered under the same name are reused.
func NewProm(namespace string) *Prom {
	return &Prom{
		runs: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Analysis pipeline runs by final status",
		}, []string{"status"})),
		stages: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Time spent per pipeline stage",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"})),
		failures: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Analysis pipeline failures by error kind",
		}, []string{"kind"})),
		extractions: register(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runtime_extractions_total",
			Help:      "Analyzer runtime bundle extractions",
		})),
		findings: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Analyzer findings by defect level",
		}, []string{"level"})),
	}
}

func (p *Prom) IncRuns(status string) {
	p.runs.WithLabelValues(status).Inc()
}

func (p *Prom) ObserveStage(stage string, durationSeconds float64) {
	p.stages.WithLabelValues(stage).Observe(durationSeconds)
}

func (p *Prom) IncFailures(kind string) {
	p.failures.WithLabelValues(kind).Inc()
}

func (p *Prom) IncExtractions() {
	p.extractions.Inc()
}

func (p *Prom) AddFindings(level string, n int) {
	if n <= 0 {
		return
	}
	p.findings.WithLabelValues(level).Add(float64(n))
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	return &gatewayProm{
		requests: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"})),
		latency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})),
	}
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

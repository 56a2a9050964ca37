// Package metrics exposes scan activity as Prometheus collectors on a
// private registry.
//
// A nil *Collector is valid and records nothing, so callers never need to
// branch on whether metrics are enabled.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "argus"

// Check outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Collector holds every argus metric.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	retriesTotal   prometheus.Counter
	limiterWait    prometheus.Histogram
	requestLatency prometheus.Histogram

	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec

	scansTotal    *prometheus.CounterVec
	scansActive   prometheus.Gauge
	findingsTotal *prometheus.CounterVec
}

// New registers the argus collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests issued by checks, by status class.",
		}, []string{"class"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_retries_total",
			Help:      "Requests repeated after a transient failure.",
		}),
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for a rate limiter permit.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Round trip time of one request attempt.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Checks executed, by check and outcome.",
		}, []string{"check", "outcome"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of one check.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"check"}),
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Finished scans, by mode and final status.",
		}, []string{"mode", "status"}),
		scansActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scans_active",
			Help:      "Scans currently running.",
		}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Persisted findings, by severity.",
		}, []string{"severity"}),
	}

	cs := []prometheus.Collector{
		c.requestsTotal, c.retriesTotal, c.limiterWait, c.requestLatency,
		c.checksTotal, c.checkDuration,
		c.scansTotal, c.scansActive, c.findingsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, col := range cs {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveRequest records one request attempt. status is 0 when the request
// never produced a response.
func (c *Collector) ObserveRequest(status, attempt int, took, waited time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(StatusClass(status)).Inc()
	if attempt > 1 {
		c.retriesTotal.Inc()
	}
	c.requestLatency.Observe(took.Seconds())
	c.limiterWait.Observe(waited.Seconds())
}

// ObserveCheck records one finished check.
func (c *Collector) ObserveCheck(check, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.checksTotal.WithLabelValues(check, outcome).Inc()
	if outcome != OutcomeSkipped {
		c.checkDuration.WithLabelValues(check).Observe(took.Seconds())
	}
}

// ScanStarted marks a scan as running.
func (c *Collector) ScanStarted() {
	if c == nil {
		return
	}
	c.scansActive.Inc()
}

// ScanFinished records the terminal status of a scan and the severity of
// each persisted finding.
func (c *Collector) ScanFinished(mode, status string, bySeverity map[string]int) {
	if c == nil {
		return
	}
	c.scansActive.Dec()
	c.scansTotal.WithLabelValues(mode, status).Inc()
	for sev, n := range bySeverity {
		if n > 0 {
			c.findingsTotal.WithLabelValues(sev).Add(float64(n))
		}
	}
}

// StatusClass buckets an HTTP status as "2xx" through "5xx", or "error"
// when there was no response.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

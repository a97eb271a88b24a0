// Package metrics exposes Prometheus counters for the leave workflow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leaveportal"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	submissions    *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	remediation    *prometheus.CounterVec
	generatedTests *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	httpDuration   *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "test_submissions_total",
			Help:      "Evaluated test submissions by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leave_decisions_total",
			Help:      "Leave status decisions by resulting status and source.",
		}, []string{"status", "source"}),
		remediation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediation_actions_total",
			Help:      "Reevaluations and retest steps taken.",
		}, []string{"action"}),
		generatedTests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_tests_total",
			Help:      "Automatically generated tests by question source and result.",
		}, []string{"source", "result"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "question_source_duration_seconds",
			Help:      "Time spent fetching questions from a question source.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions, m.decisions, m.remediation, m.generatedTests, m.sourceDuration, m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Submission counts an evaluated submission.
func (m *Metrics) Submission(passed bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// Decision counts a leave reaching status through source.
func (m *Metrics) Decision(status, source string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(status, source).Inc()
}

// Remediation counts a reevaluation or retest step.
func (m *Metrics) Remediation(action string) {
	if m == nil {
		return
	}
	m.remediation.WithLabelValues(action).Inc()
}

// GeneratedTest counts a generation attempt and observes source latency.
func (m *Metrics) GeneratedTest(source string, ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.generatedTests.WithLabelValues(source, result).Inc()
	m.sourceDuration.WithLabelValues(source).Observe(took.Seconds())
}

// Middleware observes request latency labelled by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	examSubmissions *prometheus.CounterVec
	examScores      prometheus.Histogram
	liveSessions    prometheus.Gauge
	lessonsDone     prometheus.Counter
	writeFailures   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		examSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_submissions_total",
				Help: "Scored exam submissions by outcome and trigger",
			},
			[]string{"outcome", "trigger"},
		),
		examScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exam_score_percent",
			Help:    "Distribution of exam scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exam_sessions_live",
			Help: "Exam sessions currently held in memory",
		}),
		lessonsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lessons_completed_total",
			Help: "Lessons newly marked complete",
		}),
		writeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_write_failures_total",
				Help: "Best-effort writes that failed and were only logged",
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.examSubmissions,
		m.examScores,
		m.liveSessions,
		m.lessonsDone,
		m.writeFailures,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ExamSubmitted(score int, passed, auto bool) {
	if m == nil {
		return
	}
	outcome, trigger := "failed", "learner"
	if passed {
		outcome = "passed"
	}
	if auto {
		trigger = "timeout"
	}
	m.examSubmissions.WithLabelValues(outcome, trigger).Inc()
	m.examScores.Observe(float64(score))
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.liveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.liveSessions.Dec()
}

func (m *Metrics) LessonCompleted() {
	if m == nil {
		return
	}
	m.lessonsDone.Inc()
}

// WriteFailed counts a logged-and-swallowed persistence failure (attempt, progress, audit, note).
func (m *Metrics) WriteFailed(kind string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(kind).Inc()
}

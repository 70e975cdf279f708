// Package metrics holds the Prometheus collectors of the exam server.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce           sync.Once
	submissionsTotal       *prometheus.CounterVec
	gradingSeconds         prometheus.Histogram
	scorePercent           prometheus.Histogram
	violationsTotal        *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpLatencySeconds     *prometheus.HistogramVec
	questionsImportedTotal prometheus.Counter
)

// Register initialises the collectors and registers them with the default
// registry. It is safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examshield_submissions_total",
			Help: "Submissions processed, by outcome.",
		}, []string{"outcome"})

		gradingSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "examshield_grading_seconds",
			Help:    "Time spent grading one submission.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		})

		scorePercent = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "examshield_score_percent",
			Help:    "Distribution of auto-graded score percentages.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		})

		violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examshield_violations_total",
			Help: "Proctoring violations reported by exam clients.",
		}, []string{"type"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examshield_http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examshield_http_latency_seconds",
			Help:    "Latency distribution of HTTP requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		questionsImportedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "examshield_questions_imported_total",
			Help: "Questions stored through exam import or extraction.",
		})

		prometheus.MustRegister(submissionsTotal, gradingSeconds, scorePercent, violationsTotal,
			httpRequestsTotal, httpLatencySeconds, questionsImportedTotal)
	})
}

// Submissions counts submissions by outcome ("graded", "flagged", "rejected").
func Submissions() *prometheus.CounterVec {
	Register()
	return submissionsTotal
}

// GradingDuration observes how long grading took.
func GradingDuration() prometheus.Histogram {
	Register()
	return gradingSeconds
}

// ScorePercent observes the percentage of a graded submission.
func ScorePercent() prometheus.Histogram {
	Register()
	return scorePercent
}

// Violations counts proctoring violations by type.
func Violations() *prometheus.CounterVec {
	Register()
	return violationsTotal
}

// QuestionsImported counts questions added through import.
func QuestionsImported() prometheus.Counter {
	Register()
	return questionsImportedTotal
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// Middleware records request counts and latency labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	Register()
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
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpLatencySeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

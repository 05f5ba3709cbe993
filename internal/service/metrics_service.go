package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	assignmentResponses *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	candidatePoolSize   prometheus.Histogram
}

// NewMetricsService registers the engine's Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	assignmentResponses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_responses_total",
		Help: "Technician responses to pending requests by decision and outcome",
	}, []string{"decision", "outcome"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Notification delivery attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	candidatePoolSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_candidate_pool_size",
		Help:    "Number of candidates produced per matching run",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, assignmentResponses, notifications, candidatePoolSize, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		assignmentResponses: assignmentResponses,
		notifications:       notifications,
		candidatePoolSize:   candidatePoolSize,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records per-request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// IncAssignmentResponse counts a technician response outcome.
func (m *MetricsService) IncAssignmentResponse(decision, outcome string) {
	if m == nil {
		return
	}
	m.assignmentResponses.WithLabelValues(decision, outcome).Inc()
}

// IncNotificationDelivered counts a notification delivery outcome.
func (m *MetricsService) IncNotificationDelivered(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

// ObserveCandidatePool records the candidate count of a matching run.
func (m *MetricsService) ObserveCandidatePool(size int) {
	if m == nil {
		return
	}
	m.candidatePoolSize.Observe(float64(size))
}

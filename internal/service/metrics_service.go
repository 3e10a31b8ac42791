package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the registry.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	personsRegistered   prometheus.Counter
	registrationRetries prometheus.Counter
	requestsSubmitted   prometheus.Counter
	requestsDecided     *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
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

	personsRegistered := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_persons_registered_total",
		Help: "Total persons successfully registered",
	})

	registrationRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_registration_retries_total",
		Help: "Total identifier collisions that forced a serial reallocation",
	})

	requestsSubmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_change_requests_submitted_total",
		Help: "Total change requests submitted",
	})

	requestsDecided := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_change_requests_decided_total",
		Help: "Total change requests decided, labelled by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal,
		personsRegistered, registrationRetries, requestsSubmitted, requestsDecided, goroutines)

	return &MetricsService{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:     requestDuration,
		requestTotal:        requestTotal,
		personsRegistered:   personsRegistered,
		registrationRetries: registrationRetries,
		requestsSubmitted:   requestsSubmitted,
		requestsDecided:     requestsDecided,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// PersonRegistered counts a successful registration.
func (m *MetricsService) PersonRegistered() {
	if m == nil {
		return
	}
	m.personsRegistered.Inc()
}

// RegistrationRetried counts an identifier collision that forced a retry.
func (m *MetricsService) RegistrationRetried() {
	if m == nil {
		return
	}
	m.registrationRetries.Inc()
}

// ChangeRequestSubmitted counts a submitted change request.
func (m *MetricsService) ChangeRequestSubmitted() {
	if m == nil {
		return
	}
	m.requestsSubmitted.Inc()
}

// ChangeRequestDecided counts a decided change request by outcome.
func (m *MetricsService) ChangeRequestDecided(outcome string) {
	if m == nil {
		return
	}
	m.requestsDecided.WithLabelValues(outcome).Inc()
}

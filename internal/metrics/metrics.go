// Package metrics holds the Prometheus collectors for the service.
//
// promauto registers every collector with the default registry at package
// init, and GET /metrics exposes that registry through promhttp.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/map-markers/internal/apperror"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Markers
	MarkerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marker_operations_total",
			Help: "Marker service operations by outcome",
		},
		[]string{"operation", "outcome"}, // operation: list, create, get, update, delete
	)

	// Geocoding
	GeocodingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocoding_requests_total",
			Help: "Outbound geocoding requests by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: search, reverse
	)

	GeocodingCircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geocoding_circuit_breaker_state",
			Help: "Geocoder circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// Outcome labels.
const (
	OutcomeOK              = "ok"
	OutcomeInvalid         = "invalid"
	OutcomeNotFound        = "not_found"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeUnavailable     = "unavailable"
	OutcomeError           = "error"
)

// Outcome maps an error returned by a service to a metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, apperror.ErrValidation):
		return OutcomeInvalid
	case errors.Is(err, apperror.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, apperror.ErrUnauthenticated):
		return OutcomeUnauthenticated
	case errors.Is(err, apperror.ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

// RecordMarkerOperation counts one marker operation.
func RecordMarkerOperation(operation string, err error) {
	MarkerOperationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

// RecordGeocodingRequest counts one outbound geocoding call.
func RecordGeocodingRequest(kind string, err error) {
	GeocodingRequestsTotal.WithLabelValues(kind, Outcome(err)).Inc()
}

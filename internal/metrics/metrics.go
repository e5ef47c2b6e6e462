package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "saferoute_http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "saferoute_http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path"},
	)

	// GeocodeLookups counts geocoder calls by outcome (hit, miss, error, cached)
	GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "saferoute_geocode_lookups_total", Help: "Geocoding lookups by outcome."},
		[]string{"outcome"},
	)
	// RouteCalculations counts route calculations by source (primary, fallback, failed)
	RouteCalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "saferoute_route_calculations_total", Help: "Route calculations by source."},
		[]string{"source"},
	)
	// SOSEmails counts SOS e-mails by status (sent, failed)
	SOSEmails = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "saferoute_sos_emails_total", Help: "SOS e-mails by status."},
		[]string{"status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call repeatedly.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(GeocodeLookups)
		Registry.MustRegister(RouteCalculations)
		Registry.MustRegister(SOSEmails)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one finished request
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Package monitoring exports operational metrics for ledger submission, mirror confirmation and the credential
// engine to Prometheus.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"time"
)

const namespace = "supplytrail"

type Metrics struct {
	gatherer prometheus.Gatherer

	ledgerSubmissions      *prometheus.CounterVec
	ledgerMessageBytes     prometheus.Histogram
	confirmationDuration   *prometheus.HistogramVec
	credentialOperations   *prometheus.CounterVec
	credentialDuration     *prometheus.HistogramVec
	serviceHealth          *prometheus.GaugeVec
	serviceLatency         *prometheus.GaugeVec
	expiringCredentials    prometheus.Gauge
	expiredCredentials     prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	integrityTamperResults prometheus.Counter
}

// New registers the metrics with registry. Use a fresh prometheus.NewRegistry() per Metrics instance, as
// registering the same metric twice panics.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		gatherer: registry,
		ledgerSubmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_submissions_total",
			Help:      "Total number of messages submitted to the ledger",
		}, []string{"topic", "status"}),
		ledgerMessageBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_message_bytes",
			Help:      "Size of messages submitted to the ledger",
			Buckets:   []float64{128, 256, 512, 1024, 2048, 4096, 6144},
		}),
		confirmationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mirror_confirmation_duration_seconds",
			Help:      "Time taken to observe a submitted message on the mirror",
			Buckets:   prometheus.LinearBuckets(1, 3, 11),
		}, []string{"confirmed"}),
		credentialOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_operations_total",
			Help:      "Total number of credential operations",
		}, []string{"operation", "status"}),
		credentialDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_operation_duration_seconds",
			Help:      "Duration of credential operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		serviceHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_healthy",
			Help:      "Whether the last call to an external service succeeded",
		}, []string{"service"}),
		serviceLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_latency_seconds",
			Help:      "Latency of the last call to an external service, including retries",
		}, []string{"service"}),
		expiringCredentials: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_expiring",
			Help:      "Number of credentials inside the expiry warning window",
		}),
		expiredCredentials: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credentials_expired",
			Help:      "Number of credentials past their expiry date",
		}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		integrityTamperResults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_tampering_detected_total",
			Help:      "Number of integrity checks that detected tampering",
		}),
	}
}

// NewNop returns metrics backed by a private registry, for tests and tools that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordLedgerSubmission(topic string, size int, err error) {
	m.ledgerSubmissions.WithLabelValues(topic, status(err)).Inc()
	if err == nil {
		m.ledgerMessageBytes.Observe(float64(size))
	}
}

func (m *Metrics) RecordConfirmation(duration time.Duration, confirmed bool) {
	label := "false"
	if confirmed {
		label = "true"
	}

	m.confirmationDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordCredentialOperation records the outcome of an issue, verify or revoke call.
func (m *Metrics) RecordCredentialOperation(operation string, duration time.Duration, err error) {
	m.credentialOperations.WithLabelValues(operation, status(err)).Inc()
	m.credentialDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) SetServiceHealth(service string, healthy bool, latency time.Duration) {
	value := 0.0
	if healthy {
		value = 1
	}

	m.serviceHealth.WithLabelValues(service).Set(value)
	m.serviceLatency.WithLabelValues(service).Set(latency.Seconds())
}

func (m *Metrics) SetCredentialExpiry(expiring, expired int) {
	m.expiringCredentials.Set(float64(expiring))
	m.expiredCredentials.Set(float64(expired))
}

func (m *Metrics) RecordTampering() {
	m.integrityTamperResults.Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, httpStatusClass(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "failure"
	}

	return "success"
}

func httpStatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus instruments on a private registry
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	predictions    *prometheus.CounterVec
	inferenceTime  prometheus.Histogram
	batchSize      prometheus.Histogram
	recorderWrites *prometheus.CounterVec
	recorderDrops  prometheus.Counter
	modelResolved  *prometheus.CounterVec
	modelReady     prometheus.Gauge
	registryCalls  *prometheus.CounterVec
}

// NewMetrics creates and registers all service instruments
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpredict",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "revpredict",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpredict",
			Name:      "predictions_total",
			Help:      "Predictions by outcome (ok, validation_error, inference_error).",
		}, []string{"outcome"}),

		inferenceTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "revpredict",
			Name:      "inference_duration_seconds",
			Help:      "Time spent in the model scoring call only.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "revpredict",
			Name:      "batch_size",
			Help:      "Number of records per batch prediction request.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		recorderWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpredict",
			Name:      "recorder_writes_total",
			Help:      "Prediction log writes by status (ok, error).",
		}, []string{"status"}),

		recorderDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "revpredict",
			Name:      "recorder_drops_total",
			Help:      "Prediction records dropped because the log queue was full.",
		}),

		modelResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpredict",
			Name:      "model_resolutions_total",
			Help:      "Model resolutions by provenance (registry, local-fallback).",
		}, []string{"provenance"}),

		modelReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "revpredict",
			Name:      "model_ready",
			Help:      "1 when a validated model is loaded and serving.",
		}),

		registryCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpredict",
			Name:      "registry_calls_total",
			Help:      "Model registry calls by result (ok, error).",
		}, []string{"result"}),
	}
}

// Handler exposes the registry for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request
func (m *Metrics) ObserveRequest(method, path, status string, seconds float64) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(seconds)
}

// ObservePrediction records one prediction outcome
func (m *Metrics) ObservePrediction(outcome string, inferenceSeconds float64) {
	m.predictions.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.inferenceTime.Observe(inferenceSeconds)
	}
}

// ObserveBatch records the size of a batch request
func (m *Metrics) ObserveBatch(size int) {
	m.batchSize.Observe(float64(size))
}

// ObserveRecorderWrite records a prediction log write result
func (m *Metrics) ObserveRecorderWrite(ok bool) {
	if ok {
		m.recorderWrites.WithLabelValues("ok").Inc()
	} else {
		m.recorderWrites.WithLabelValues("error").Inc()
	}
}

// ObserveRecorderDrop records a dropped prediction record
func (m *Metrics) ObserveRecorderDrop() {
	m.recorderDrops.Inc()
}

// ObserveModelResolved records a successful model resolution
func (m *Metrics) ObserveModelResolved(provenance string) {
	m.modelResolved.WithLabelValues(provenance).Inc()
	m.modelReady.Set(1)
}

// ObserveModelUnresolved marks the service as not serving
func (m *Metrics) ObserveModelUnresolved() {
	m.modelReady.Set(0)
}

// ObserveRegistryCall records a registry resolve/fetch result
func (m *Metrics) ObserveRegistryCall(ok bool) {
	if ok {
		m.registryCalls.WithLabelValues("ok").Inc()
	} else {
		m.registryCalls.WithLabelValues("error").Inc()
	}
}

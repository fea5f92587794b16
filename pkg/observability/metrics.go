package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentichat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Conversation metrics
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_messages_total",
			Help: "Messages processed, by outcome (allowed or blocked)",
		},
		[]string{"outcome"},
	)

	blockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_blocked_total",
			Help: "Blocked messages by guardrail category",
		},
		[]string{"category"},
	)

	countryMentionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_country_mentions_total",
			Help: "Country mentions in allowed messages",
		},
		[]string{"country"},
	)

	queryKindTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_query_kind_total",
			Help: "Allowed messages by query kind",
		},
		[]string{"kind"},
	)

	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentichat_pipeline_duration_seconds",
			Help:    "Time spent in the message pipeline, excluding downstream calls",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"outcome"},
	)

	// Downstream metrics
	downstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_downstream_calls_total",
			Help: "Calls to the completion provider, chart renderer and data store",
		},
		[]string{"target", "status"},
	)

	downstreamCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentichat_downstream_call_duration_seconds",
			Help:    "Downstream call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentichat_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"target"},
	)

	// Session metrics
	sessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentichat_sessions_evicted_total",
			Help: "Sessions removed after the inactivity timeout",
		},
	)

	datasetReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentichat_dataset_reloads_total",
			Help: "Dataset reloads triggered by file changes",
		},
		[]string{"status"},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			messagesTotal,
			blockedTotal,
			countryMentionsTotal,
			queryKindTotal,
			pipelineDuration,
			downstreamCallsTotal,
			downstreamCallDuration,
			circuitState,
			sessionsEvictedTotal,
			datasetReloadsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMessage records one processed message. category is ignored for
// allowed messages; countries and kind are ignored for blocked ones.
func RecordMessage(blocked bool, category string, countries []string, kind string) {
	if blocked {
		messagesTotal.WithLabelValues("blocked").Inc()
		blockedTotal.WithLabelValues(category).Inc()
		return
	}
	messagesTotal.WithLabelValues("allowed").Inc()
	for _, c := range countries {
		countryMentionsTotal.WithLabelValues(c).Inc()
	}
	if kind != "" {
		queryKindTotal.WithLabelValues(kind).Inc()
	}
}

// RecordPipeline records time spent in the message pipeline
func RecordPipeline(outcome string, duration time.Duration) {
	pipelineDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDownstreamCall records a call to an external collaborator
func RecordDownstreamCall(target, status string, duration time.Duration) {
	downstreamCallsTotal.WithLabelValues(target, status).Inc()
	downstreamCallDuration.WithLabelValues(target).Observe(duration.Seconds())
}

// SetCircuitState sets the breaker state gauge for target
func SetCircuitState(target string, state int) {
	circuitState.WithLabelValues(target).Set(float64(state))
}

// RecordSessionsEvicted adds n evicted sessions
func RecordSessionsEvicted(n int) {
	sessionsEvictedTotal.Add(float64(n))
}

// RecordDatasetReload records a dataset reload attempt
func RecordDatasetReload(status string) {
	datasetReloadsTotal.WithLabelValues(status).Inc()
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_total",
			Help: "Total number of decisions made",
		},
		[]string{"type", "urgency"},
	)

	decisionsExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "decisions_executed_total",
			Help: "Total number of decisions acknowledged by an operator",
		},
	)

	decisionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "decision_confidence",
			Help:    "Confidence attached to decisions",
			Buckets: []float64{.3, .4, .5, .6, .7, .8, .9, .95, 1},
		},
	)

	decisionScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "decision_priority_score",
			Help:    "Total multi-criteria priority score of decisions",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		},
	)

	evaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_evaluation_duration_seconds",
			Help:    "End-to-end duration of a patient evaluation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	evaluationsDebounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_evaluations_debounced_total",
			Help: "Evaluations skipped by the per-patient debounce window",
		},
	)

	evaluationsReread = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_evaluations_reread_total",
			Help: "Evaluations recomputed because state changed during explanation",
		},
	)

	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_events_processed_total",
			Help: "Bus events consumed by the pipeline",
		},
		[]string{"kind", "status"},
	)

	patientsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "patients_tracked",
			Help: "Number of patients currently in the state store",
		},
	)

	bedsAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beds_available",
			Help: "Available beds by unit type",
		},
		[]string{"unit_type"},
	)

	explanationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "explanation_fallbacks_total",
			Help: "Decisions whose explanation came from the local template",
		},
	)

	websocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients",
			Help: "Connected decision feed clients",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordDecision records a decision with its score and confidence
func RecordDecision(decisionType, urgency string, score, confidence float64) {
	decisionsTotal.WithLabelValues(decisionType, urgency).Inc()
	decisionScore.Observe(score)
	decisionConfidence.Observe(confidence)
}

// RecordDecisionExecuted records an operator acknowledgement
func RecordDecisionExecuted() {
	decisionsExecuted.Inc()
}

// RecordEvaluation records an end-to-end evaluation duration
func RecordEvaluation(duration time.Duration) {
	evaluationDuration.Observe(duration.Seconds())
}

// RecordEvaluationDebounced records an evaluation skipped by the debounce
func RecordEvaluationDebounced() {
	evaluationsDebounced.Inc()
}

// RecordEvaluationReread records a recompute after a mid-evaluation state change
func RecordEvaluationReread() {
	evaluationsReread.Inc()
}

// RecordEventProcessed records a consumed bus event
func RecordEventProcessed(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	eventsProcessed.WithLabelValues(kind, status).Inc()
}

// RecordPatientsTracked records the current patient count
func RecordPatientsTracked(count int) {
	patientsTracked.Set(float64(count))
}

// RecordBedsAvailable records available beds for a unit type
func RecordBedsAvailable(unitType string, count int) {
	bedsAvailable.WithLabelValues(unitType).Set(float64(count))
}

// RecordExplanationFallback records a template-generated explanation
func RecordExplanationFallback() {
	explanationFallbacks.Inc()
}

// RecordWebsocketClients records the connected feed client count
func RecordWebsocketClients(count int) {
	websocketClients.Set(float64(count))
}

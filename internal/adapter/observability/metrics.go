package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_provisions_total",
			Help: "Provisioning calls by outcome",
		},
		[]string{"outcome"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "room_provider_request_duration_seconds",
			Help:    "Room provider call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation", "result"},
	)
	ProviderBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "room_provider_breaker_state",
			Help: "Circuit breaker state for the room provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
	RoomNameCollisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_name_collisions_total",
			Help: "Room name or code collisions resolved by retrying",
		},
		[]string{"source"},
	)

	AnalysisCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_callbacks_total",
			Help: "Analysis results received by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)
	AnalysisScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_score",
			Help:    "Distribution of accepted analysis scores ([0,100])",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	ApplicationsStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "applications_stale_total",
			Help: "Applications moved to STALE by the reconciliation sweep",
		},
	)
	ConsumerRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_consumer_records_total",
			Help: "Analysis result records consumed by outcome",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

// InitMetrics registers all collectors once per process.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(ProvisionsTotal)
		prometheus.MustRegister(ProviderRequestDuration)
		prometheus.MustRegister(ProviderBreakerState)
		prometheus.MustRegister(RoomNameCollisionsTotal)
		prometheus.MustRegister(AnalysisCallbacksTotal)
		prometheus.MustRegister(AnalysisScoreHistogram)
		prometheus.MustRegister(ApplicationsStaleTotal)
		prometheus.MustRegister(ConsumerRecordsTotal)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// RecordProvision counts a provisioning call by outcome
// (ok, job_not_found, provider_unavailable, rate_limited, error).
func RecordProvision(outcome string) {
	ProvisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProviderCall records one room provider call.
func ObserveProviderCall(operation string, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ProviderRequestDuration.WithLabelValues(operation, result).Observe(dur.Seconds())
}

// SetProviderBreakerState publishes the breaker state as a gauge.
func SetProviderBreakerState(name string, state int) {
	ProviderBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRoomCollision counts a name/code collision from source (store or provider).
func RecordRoomCollision(source string) {
	RoomNameCollisionsTotal.WithLabelValues(source).Inc()
}

// RecordAnalysis counts an analysis result by transport (http, queue) and
// outcome (accepted, stale, not_found, auth_failed, invalid, error).
func RecordAnalysis(transport, outcome string) {
	AnalysisCallbacksTotal.WithLabelValues(transport, outcome).Inc()
}

// ObserveAnalysisScore records an accepted score.
func ObserveAnalysisScore(score float64) {
	if score >= 0 && score <= 100 {
		AnalysisScoreHistogram.Observe(score)
	}
}

// RecordStale counts one IN_PROGRESS -> STALE transition.
func RecordStale() { ApplicationsStaleTotal.Inc() }

// RecordConsumerRecord counts a consumed record by outcome.
func RecordConsumerRecord(outcome string) {
	ConsumerRecordsTotal.WithLabelValues(outcome).Inc()
}

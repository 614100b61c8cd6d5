package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_turns_total",
			Help: "Total number of conversation turns processed",
		},
		[]string{"status"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engram_turn_duration_seconds",
			Help:    "End-to-end turn duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_messages_total",
			Help: "Total number of messages appended to session logs",
		},
		[]string{"role"},
	)

	// Checkpoint store metrics
	checkpointWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_checkpoint_writes_total",
			Help: "Total number of checkpoint write attempts",
		},
		[]string{"backend", "status"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engram_store_op_duration_seconds",
			Help:    "Checkpoint store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	// Summarization metrics
	summarizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_summarizations_total",
			Help: "Total number of summarization attempts",
		},
		[]string{"outcome"},
	)

	// Retrieval metrics
	retrievalQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_retrieval_queries_total",
			Help: "Total number of retrieval queries",
		},
		[]string{"status"},
	)

	retrievalMatches = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engram_retrieval_matches",
			Help:    "Number of matches returned per retrieval query",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	// Model metrics
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_model_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"provider", "status"},
	)

	modelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engram_model_call_duration_seconds",
			Help:    "Model invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	modelTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_model_tokens_total",
			Help: "Total number of tokens exchanged with models",
		},
		[]string{"provider", "kind"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_active_sessions",
			Help: "Number of sessions known to the checkpoint store",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			turnsTotal,
			turnDuration,
			messagesTotal,
			checkpointWritesTotal,
			storeOpDuration,
			summarizationsTotal,
			retrievalQueriesTotal,
			retrievalMatches,
			modelCallsTotal,
			modelCallDuration,
			modelTokensTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records turn metrics
func RecordTurn(status string, duration time.Duration) {
	turnsTotal.WithLabelValues(status).Inc()
	turnDuration.Observe(duration.Seconds())
}

// RecordMessage records a message appended to a session log
func RecordMessage(role string) {
	messagesTotal.WithLabelValues(role).Inc()
}

// RecordCheckpointWrite records a checkpoint write attempt
func RecordCheckpointWrite(backend, status string) {
	checkpointWritesTotal.WithLabelValues(backend, status).Inc()
}

// RecordStoreOp records checkpoint store operation metrics
func RecordStoreOp(backend, op string, duration time.Duration) {
	storeOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}

// RecordSummarization records a summarization attempt
func RecordSummarization(outcome string) {
	summarizationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRetrieval records retrieval query metrics
func RecordRetrieval(status string, matches int) {
	retrievalQueriesTotal.WithLabelValues(status).Inc()
	retrievalMatches.Observe(float64(matches))
}

// RecordModelCall records model invocation metrics
func RecordModelCall(provider, status string, duration time.Duration) {
	modelCallsTotal.WithLabelValues(provider, status).Inc()
	modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordModelTokens records token usage reported by a model
func RecordModelTokens(provider string, promptTokens, completionTokens int) {
	modelTokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	modelTokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
}

// SetActiveSessions sets the active sessions gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnswerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docchat_answer_duration_seconds",
			Help:    "Answer orchestration duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"cached"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_chat_requests_total",
			Help: "Total number of chat requests processed",
		},
		[]string{"status"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docchat_retrieved_chunks",
			Help:    "Number of chunks retrieved per question",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_embedding_requests_total",
			Help: "Embedding API calls by outcome",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_cache_hits_total",
			Help: "Total query cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_cache_misses_total",
			Help: "Total query cache misses",
		},
		[]string{"cache_type"},
	)

	IndexBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_index_builds_total",
			Help: "Vector index builds by path",
		},
		[]string{"path"},
	)

	IndexesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docchat_indexes_loaded",
			Help: "Vector indexes currently held in memory",
		},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_documents_ingested_total",
			Help: "Document uploads by outcome",
		},
		[]string{"status"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docchat_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(AnswerDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(RetrievedChunks)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(EmbeddingRequests)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(IndexBuilds)
	prometheus.MustRegister(IndexesLoaded)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(BreakerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

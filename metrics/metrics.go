package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docportal"

// Ingestion metrics.
var (
	IngestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingestion requests by outcome",
		},
		[]string{"result"}, // "ready" / "cached" / "failed"
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_duration_seconds",
			Help:      "Time to ingest one document",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ChunksIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector index",
		},
	)

	EmbeddingBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding and upsert batches by status",
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried calls to external collaborators",
		},
		[]string{"operation"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Ingestion rollbacks by outcome",
		},
		[]string{"result"}, // "ok" / "inconsistent"
	)
)

// Query-path metrics.
var (
	RetrievalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrieval calls by status",
		},
		[]string{"status"},
	)

	RetrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Generation calls by status",
		},
		[]string{"status"},
	)

	PromptUnits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_units",
			Help:      "Size of assembled prompts in budget units",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		},
	)

	BudgetTrimmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_trimmed_total",
			Help:      "Items dropped to fit the prompt budget",
		},
		[]string{"kind"}, // "turn" / "chunk"
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions opened and not yet closed by this process",
		},
	)

	ComparisonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Document comparisons by status",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Maintenance metrics.
var (
	ReindexedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reindexed_chunks_total",
			Help:      "Chunks re-embedded by the reindexer, by outcome",
		},
		[]string{"status"},
	)
)

// Register registers every collector with reg. Only the first call has an
// effect; later calls are no-ops so main and tests can both call it.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			IngestionsTotal,
			IngestionDuration,
			ChunksIndexedTotal,
			EmbeddingBatchesTotal,
			RetriesTotal,
			RollbacksTotal,
			RetrievalsTotal,
			RetrievalDuration,
			GenerationsTotal,
			PromptUnits,
			BudgetTrimmedTotal,
			ActiveSessions,
			ComparisonsTotal,
			ReindexedChunksTotal,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Status maps an error to a low-cardinality status label.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

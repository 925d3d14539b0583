// Package metrics exposes Prometheus counters for the memory engine's
// background work: stores, rescoring batches, and pruning sweeps.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MemoriesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_stored_total",
		Help: "New memories inserted into the store.",
	})
	MemoriesDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_deduplicated_total",
		Help: "Inserts resolved as access bumps on existing memories.",
	})
	EmbeddingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_embedding_failures_total",
		Help: "Embedding attempts that failed; memories stay unembedded.",
	})
	RescoreProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_rescore_processed_total",
		Help: "Memories scored by the LLM judge.",
	})
	RescoreSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_rescore_skipped_total",
		Help: "Memories skipped in a batch because the judge was unavailable.",
	})
	RescoreParseDefaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_rescore_parse_defaults_total",
		Help: "Judge responses that failed numeric parsing and defaulted to 5.0.",
	})
	PruneMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_prune_marked_total",
		Help: "Memories marked for deletion by pruning sweeps.",
	})
	PruneArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_prune_archived_total",
		Help: "Memories archived by pruning sweeps.",
	})
	PruneDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_prune_deleted_total",
		Help: "Memories permanently deleted by pruning sweeps.",
	})
	Rescues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_memory_rescues_total",
		Help: "Memories rescued from the deletion pipeline.",
	})
)

// Package metrics holds the Prometheus collectors of the retrieval engine.
//
// Every method is safe on a nil *Collector so components can run without
// metrics wired in.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups the engine's metrics.
type Collector struct {
	sourceLatency  *prometheus.HistogramVec
	sourceFailures *prometheus.CounterVec
	fusedResults   prometheus.Histogram

	llmFallbacks *prometheus.CounterVec
	queryRuns    *prometheus.CounterVec

	dedupeMerges       *prometheus.CounterVec
	provenanceRejected *prometheus.CounterVec
	cacheLookups       *prometheus.CounterVec

	storeCounts       *prometheus.GaugeVec
	missingProvenance *prometheus.GaugeVec
	orphanChunks      *prometheus.GaugeVec
	consistent        *prometheus.GaugeVec
}

// NewCollector registers the collectors on reg. A nil reg uses the default
// Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		sourceLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_source_duration_seconds",
				Help:      "Latency of one retrieval source per search",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"source"},
		),
		sourceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_source_failures_total",
				Help:      "Retrieval sources that errored or timed out",
			},
			[]string{"source"},
		),
		fusedResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_fused_results",
				Help:      "Number of chunks returned by a fused search",
				Buckets:   prometheus.LinearBuckets(0, 5, 11),
			},
		),
		llmFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_fallbacks_total",
				Help:      "LLM collaborator failures that fell back to a default",
			},
			[]string{"operation"},
		),
		queryRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_runs_total",
				Help:      "Orchestrated queries by execution strategy",
			},
			[]string{"strategy"},
		),
		dedupeMerges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedupe_merges_total",
				Help:      "Items collapsed onto a canonical item",
			},
			[]string{"kind"},
		),
		provenanceRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provenance_rejected_total",
				Help:      "Relationships and mention links rejected for missing provenance",
			},
			[]string{"kind"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedupe_cache_lookups_total",
				Help:      "Relation-type cluster cache lookups",
			},
			[]string{"result"},
		),
		storeCounts: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_chunks",
				Help:      "Chunks held by each store at the last validation",
			},
			[]string{"namespace", "store"},
		),
		missingProvenance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mentions_missing_provenance",
				Help:      "Mention links with an empty or dangling chunk id",
			},
			[]string{"namespace"},
		),
		orphanChunks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "orphan_chunks",
				Help:      "Chunk nodes without any mention link",
			},
			[]string{"namespace"},
		),
		consistent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stores_consistent",
				Help:      "1 when the last validation found the stores consistent",
			},
			[]string{"namespace"},
		),
	}
}

func (c *Collector) ObserveSource(source string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.sourceLatency.WithLabelValues(source).Observe(d.Seconds())
	if err != nil {
		c.sourceFailures.WithLabelValues(source).Inc()
	}
}

func (c *Collector) ObserveFused(n int) {
	if c == nil {
		return
	}
	c.fusedResults.Observe(float64(n))
}

func (c *Collector) LLMFallback(operation string) {
	if c == nil {
		return
	}
	c.llmFallbacks.WithLabelValues(operation).Inc()
}

func (c *Collector) QueryRun(strategy string) {
	if c == nil {
		return
	}
	c.queryRuns.WithLabelValues(strategy).Inc()
}

func (c *Collector) DedupeMerges(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.dedupeMerges.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) ProvenanceRejected(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.provenanceRejected.WithLabelValues(kind).Add(float64(n))
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// StoreSnapshot is the subset of a validation report exported as gauges.
type StoreSnapshot struct {
	Namespace         string
	VectorChunks      int
	LexicalDocuments  int
	GraphChunks       int
	MissingProvenance int
	OrphanChunks      int
	Consistent        bool
}

func (c *Collector) ObserveValidation(s StoreSnapshot) {
	if c == nil {
		return
	}
	c.storeCounts.WithLabelValues(s.Namespace, "vector").Set(float64(s.VectorChunks))
	c.storeCounts.WithLabelValues(s.Namespace, "lexical").Set(float64(s.LexicalDocuments))
	c.storeCounts.WithLabelValues(s.Namespace, "graph").Set(float64(s.GraphChunks))
	c.missingProvenance.WithLabelValues(s.Namespace).Set(float64(s.MissingProvenance))
	c.orphanChunks.WithLabelValues(s.Namespace).Set(float64(s.OrphanChunks))
	consistent := 0.0
	if s.Consistent {
		consistent = 1
	}
	c.consistent.WithLabelValues(s.Namespace).Set(consistent)
}

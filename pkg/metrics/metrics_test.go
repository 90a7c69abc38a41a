package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveSource("vector", time.Millisecond, errors.New("boom"))
		c.ObserveFused(3)
		c.LLMFallback("classify")
		c.QueryRun("SIMPLE")
		c.DedupeMerges("entity", 2)
		c.ProvenanceRejected("mention", 1)
		c.CacheLookup(true)
		c.ObserveValidation(StoreSnapshot{Namespace: "ns"})
	})
}

func TestCollector_Records(t *testing.T) {
	c := NewCollector("test", prometheus.NewRegistry())

	c.ObserveSource("lexical", 10*time.Millisecond, nil)
	c.ObserveSource("lexical", 10*time.Millisecond, errors.New("timeout"))
	c.DedupeMerges("entity", 3)
	c.DedupeMerges("entity", 0)
	c.CacheLookup(false)
	c.ObserveValidation(StoreSnapshot{Namespace: "ns", VectorChunks: 1000, LexicalDocuments: 998, GraphChunks: 1000, MissingProvenance: 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.sourceFailures.WithLabelValues("lexical")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.dedupeMerges.WithLabelValues("entity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 998.0, testutil.ToFloat64(c.storeCounts.WithLabelValues("ns", "lexical")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.missingProvenance.WithLabelValues("ns")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.consistent.WithLabelValues("ns")))
}

package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/memory"
)

const ns = "test"

type countedVectors struct {
	*memory.VectorStore
	n   int
	err error
}

func (c countedVectors) Count(ctx context.Context, namespace string) (int, error) {
	return c.n, c.err
}

type countedLexical struct {
	*memory.LexicalIndex
	n int
}

func (c countedLexical) Count(ctx context.Context, namespace string) (int, error) {
	return c.n, nil
}

type countedGraph struct {
	*memory.GraphStore
	chunks, missing, orphans int
}

func (c countedGraph) CountChunks(ctx context.Context, namespace string) (int, error) {
	return c.chunks, nil
}

func (c countedGraph) CountMentionsMissingProvenance(ctx context.Context, namespace string) (int, error) {
	return c.missing, nil
}

func (c countedGraph) CountOrphanChunks(ctx context.Context, namespace string) (int, error) {
	return c.orphans, nil
}

type recordingPublisher struct {
	reports []*Report
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, r *Report) error {
	p.reports = append(p.reports, r)
	return p.err
}

func newValidator(vectors, lexical, graph, missing int, opts ...Option) *Validator {
	return NewValidator(NewValidatorParams{
		Vectors: countedVectors{n: vectors},
		Lexical: countedLexical{n: lexical},
		Graph:   countedGraph{chunks: graph, missing: missing},
	}, opts...)
}

func TestValidate_ScenarioD(t *testing.T) {
	r, err := newValidator(1000, 1002, 994, 0).Validate(context.Background(), ns)
	require.NoError(t, err)

	assert.False(t, r.VectorLexicalOK, "|1000-1002| = 2 exceeds tolerance 1")
	assert.False(t, r.VectorGraphOK, "|1000-994| = 6 exceeds tolerance 5")
	assert.False(t, r.Consistent)
	assert.ErrorIs(t, r.Err(), common.ErrConsistencyWarning)
	assert.Empty(t, r.Errors)
}

func TestValidate_ToleranceBoundaryIsInclusive(t *testing.T) {
	r, err := newValidator(1000, 1001, 995, 0).Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.True(t, r.VectorLexicalOK)
	assert.True(t, r.VectorGraphOK)
	assert.True(t, r.Consistent)
	assert.NoError(t, r.Err())

	r, err = newValidator(1000, 999, 1005, 0).Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.True(t, r.Consistent)
}

func TestValidate_MissingProvenanceIsInconsistent(t *testing.T) {
	r, err := newValidator(10, 10, 10, 1).Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.True(t, r.VectorLexicalOK)
	assert.True(t, r.VectorGraphOK)
	assert.False(t, r.Consistent)
	assert.Contains(t, r.Err().Error(), "without provenance")
}

func TestValidate_CustomTolerances(t *testing.T) {
	r, err := newValidator(1000, 1002, 994, 0, WithTolerances(2, 6)).Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.True(t, r.Consistent)

	r, err = newValidator(10, 11, 10, 0, WithTolerances(0, -1)).Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.False(t, r.VectorLexicalOK)
	assert.Equal(t, DefaultGraphTolerance, r.GraphTolerance)
}

func TestValidate_FailingCountIsReported(t *testing.T) {
	v := NewValidator(NewValidatorParams{
		Vectors: countedVectors{err: errors.New("pgvector offline")},
		Lexical: countedLexical{n: 0},
		Graph:   countedGraph{},
	})
	r, err := v.Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.False(t, r.Consistent)
	assert.False(t, r.VectorLexicalOK)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "pgvector offline")
}

func TestValidate_MissingStoresAreErrors(t *testing.T) {
	r, err := NewValidator(NewValidatorParams{}).Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.False(t, r.Consistent)
	assert.Len(t, r.Errors, 5)
}

func TestValidate_PublishesAndExportsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	pub := &recordingPublisher{err: errors.New("bucket missing")}
	v := NewValidator(NewValidatorParams{
		Vectors:   countedVectors{n: 3},
		Lexical:   countedLexical{n: 3},
		Graph:     countedGraph{chunks: 3, orphans: 1},
		Metrics:   metrics.NewCollector("test", reg),
		Publisher: pub,
	})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v.now = func() time.Time { return fixed }

	r, err := v.Validate(context.Background(), ns)
	require.NoError(t, err)
	assert.True(t, r.Consistent, "a publish failure does not change the report")
	assert.Equal(t, 1, r.OrphanChunks)
	assert.Equal(t, fixed, r.CheckedAt)
	require.Len(t, pub.reports, 1)
	assert.Same(t, r, pub.reports[0])

	n, err := testutil.GatherAndCount(reg, "test_stores_consistent", "test_orphan_chunks")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestValidate_MemoryStoresEndToEnd(t *testing.T) {
	ctx := context.Background()
	graph := memory.NewGraphStore()
	vectors := memory.NewVectorStore()
	lexical := memory.NewLexicalIndex()

	chunks := []common.Chunk{
		{ID: "c1", DocumentID: "d1", Text: "Acme Corp built X."},
		{ID: "c2", DocumentID: "d1", Text: "Jane Doe founded Acme Corp."},
	}
	require.NoError(t, graph.WriteBatch(ctx, ns, store.GraphWrite{
		Chunks:   chunks,
		Entities: []common.Entity{{ID: "acme", CanonicalName: "Acme Corp", Type: "ORG"}},
		Mentions: []common.MentionLink{{EntityID: "acme", SourceChunkID: "c1"}},
	}))
	require.NoError(t, vectors.Upsert(ctx, ns, []store.VectorRecord{
		{ChunkID: "c1", Embedding: []float32{1, 0}},
		{ChunkID: "c2", Embedding: []float32{0, 1}},
	}))
	require.NoError(t, lexical.Index(ctx, ns, chunks))

	r, err := NewValidator(NewValidatorParams{Vectors: vectors, Lexical: lexical, Graph: graph}).Validate(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 2, r.VectorChunks)
	assert.Equal(t, 2, r.LexicalDocuments)
	assert.Equal(t, 2, r.GraphChunks)
	assert.Equal(t, 1, r.OrphanChunks)
	assert.True(t, r.Consistent)
}

func TestValidate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newValidator(1, 1, 1, 0).Validate(ctx, ns)
	assert.ErrorIs(t, err, context.Canceled)
}

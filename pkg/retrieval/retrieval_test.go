package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "test"

type staticEmbedder struct{ err error }

func (e staticEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return []float32{1, 0}, e.err
}

type fakeVectors struct {
	hits  []store.Hit
	err   error
	block bool
}

func (f fakeVectors) Search(ctx context.Context, emb []float32, namespace string, topK int) ([]store.Hit, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}

func (f fakeVectors) Upsert(ctx context.Context, namespace string, records []store.VectorRecord) error {
	return nil
}

func (f fakeVectors) Count(ctx context.Context, namespace string) (int, error) {
	return len(f.hits), nil
}

type fakeLexical struct {
	hits []store.Hit
	err  error
}

func (f fakeLexical) Search(ctx context.Context, text string, namespace string, topK int) ([]store.Hit, error) {
	return f.hits, f.err
}

func (f fakeLexical) Index(ctx context.Context, namespace string, chunks []common.Chunk) error {
	return nil
}

func (f fakeLexical) Count(ctx context.Context, namespace string) (int, error) {
	return len(f.hits), nil
}

type failingGraph struct {
	*memory.GraphStore
}

func (failingGraph) FindEntities(ctx context.Context, namespace string, name string, limit int) ([]common.Entity, error) {
	return nil, errors.New("graph offline")
}

func seedGraph(t *testing.T) *memory.GraphStore {
	t.Helper()
	g := memory.NewGraphStore()
	require.NoError(t, g.WriteBatch(context.Background(), ns, store.GraphWrite{
		Chunks: []common.Chunk{
			{ID: "c1", DocumentID: "d1", Text: "X was built by Acme Corp."},
			{ID: "c2", DocumentID: "d1", Text: "Acme Corp was founded by Jane Doe."},
			{ID: "c3", DocumentID: "d2", Text: "Machine learning basics."},
		},
		Entities: []common.Entity{
			{ID: "x", CanonicalName: "X", Type: "PRODUCT"},
			{ID: "acme", CanonicalName: "Acme Corp", Type: "ORG"},
		},
		Mentions: []common.MentionLink{
			{EntityID: "x", SourceChunkID: "c1"},
			{EntityID: "acme", SourceChunkID: "c1"},
			{EntityID: "acme", SourceChunkID: "c2"},
		},
	}))
	return g
}

func scenarioA(t *testing.T) NewRetrieverParams {
	return NewRetrieverParams{
		Embedder: staticEmbedder{},
		Vectors:  fakeVectors{hits: []store.Hit{{ChunkID: "c1", Score: 0.9}, {ChunkID: "c2", Score: 0.7}}},
		Lexical:  fakeLexical{hits: []store.Hit{{ChunkID: "c2", Score: 5}, {ChunkID: "c3", Score: 3}}},
		Graph:    seedGraph(t),
	}
}

func ids(chunks []ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Chunk.ID
	}
	return out
}

func TestSearch_ScenarioA(t *testing.T) {
	r := NewRetriever(scenarioA(t))

	res, err := r.Search(context.Background(), "machine learning", ns, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"c2", "c1", "c3"}, ids(res.Chunks))
	assert.Empty(t, res.Warnings)

	assert.InDelta(t, 0.7*0.7/0.9+0.2, res.Chunks[0].Score, 1e-9)
	assert.InDelta(t, 0.7, res.Chunks[1].Score, 1e-9)
	assert.InDelta(t, 0.2*0.6, res.Chunks[2].Score, 1e-9)
	assert.Equal(t, []string{SourceLexical, SourceVector}, res.Chunks[0].Sources)
	assert.InDelta(t, 1.0, res.Chunks[0].SourceScores[SourceLexical], 1e-9)
	assert.Equal(t, "Machine learning basics.", res.Chunks[2].Chunk.Text)
}

func TestSearch_TopK(t *testing.T) {
	res, err := NewRetriever(scenarioA(t)).Search(context.Background(), "machine learning", ns, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1"}, ids(res.Chunks))
}

func TestSearch_SingleSourceFailureIsAWarning(t *testing.T) {
	params := scenarioA(t)
	params.Lexical = fakeLexical{err: errors.New("index offline")}

	res, err := NewRetriever(params).Search(context.Background(), "machine learning", ns, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids(res.Chunks))
	assert.Equal(t, []string{SourceLexical}, res.FailedSources)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "index offline")
}

func TestSearch_AllSourcesFailed(t *testing.T) {
	r := NewRetriever(NewRetrieverParams{
		Embedder: staticEmbedder{err: errors.New("embedder down")},
		Vectors:  fakeVectors{},
		Lexical:  fakeLexical{err: errors.New("index offline")},
		Graph:    failingGraph{memory.NewGraphStore()},
	})

	_, err := r.Search(context.Background(), "q", ns, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrAllSourcesFailed))
	assert.True(t, errors.Is(err, common.ErrSourceUnavailable))
	assert.True(t, errors.Is(err, common.ErrEmbeddingFailure))
}

func TestSearch_SlowSourceTimesOut(t *testing.T) {
	params := scenarioA(t)
	params.Vectors = fakeVectors{block: true}
	params.SourceTimeout = 20 * time.Millisecond

	start := time.Now()
	res, err := NewRetriever(params).Search(context.Background(), "machine learning", ns, 10)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{SourceVector}, res.FailedSources)
	assert.Contains(t, res.Warnings[0], "timed out")
	assert.Equal(t, []string{"c2", "c3"}, ids(res.Chunks))
}

func TestSearch_GraphAnchoredCountsDistinctEntities(t *testing.T) {
	params := scenarioA(t)
	params.Vectors = fakeVectors{}
	params.Lexical = fakeLexical{}
	r := NewRetriever(params)

	res, err := r.Search(context.Background(), "Acme Corp", ns, 10, WithEntities("X"), WithWeights(Weights{Graph: 1}))
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c2"}, ids(res.Chunks))
	assert.InDelta(t, 1.0, res.Chunks[0].Score, 1e-9)
	assert.InDelta(t, 0.5, res.Chunks[1].Score, 1e-9)
	assert.ElementsMatch(t, []string{"acme", "x"}, res.EntityIDs)
}

func TestSearch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRetriever(scenarioA(t)).Search(ctx, "q", ns, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeights_Normalized(t *testing.T) {
	w := Weights{Vector: 2, Lexical: 1, Graph: 1}.Normalized()
	assert.InDelta(t, 0.5, w.Vector, 1e-9)
	assert.InDelta(t, 0.25, w.Graph, 1e-9)

	assert.Equal(t, DefaultWeights(), Weights{}.Normalized())
	assert.Equal(t, DefaultWeights(), Weights{Vector: -1}.Normalized())
}

func TestNormalize_AnchorsAtZero(t *testing.T) {
	got := normalize([]store.Hit{{ChunkID: "a", Score: 4}, {ChunkID: "b", Score: 2}, {ChunkID: "a", Score: 1}})
	assert.Equal(t, map[string]float64{"a": 1, "b": 0.5}, got)

	single := normalize([]store.Hit{{ChunkID: "a", Score: 0.3}})
	assert.Equal(t, 1.0, single["a"])

	negative := normalize([]store.Hit{{ChunkID: "a", Score: -1}, {ChunkID: "b", Score: 1}})
	assert.Equal(t, map[string]float64{"a": 0, "b": 1}, negative)
}

func TestRankGraphHits_TieBreaks(t *testing.T) {
	perSource := map[string]map[string]float64{
		SourceVector:  {"b": 0.9},
		SourceLexical: {"c": 0.4},
	}
	hits := rankGraphHits(map[string]int{"a": 1, "b": 1, "c": 1, "d": 2}, perSource, 3)
	got := make([]string, len(hits))
	for i, h := range hits {
		got[i] = h.ChunkID
	}
	assert.Equal(t, []string{"d", "b", "c"}, got)
}

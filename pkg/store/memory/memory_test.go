package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "test"

func seedGraph(t *testing.T) *GraphStore {
	t.Helper()
	g := NewGraphStore()
	err := g.WriteBatch(context.Background(), ns, store.GraphWrite{
		Chunks: []common.Chunk{
			{ID: "c1", DocumentID: "d1", Text: "X was built by Acme Corp."},
			{ID: "c2", DocumentID: "d1", Text: "Acme Corp was founded by Jane Doe."},
			{ID: "c3", DocumentID: "d2", Text: "Unrelated."},
		},
		Entities: []common.Entity{
			{ID: "x", CanonicalName: "X", Type: "PRODUCT"},
			{ID: "acme", CanonicalName: "Acme Corp", Type: "ORG"},
			{ID: "jane", CanonicalName: "Jane Doe", Type: "PERSON"},
		},
		Relationships: []common.Relationship{
			{SourceEntityID: "acme", TargetEntityID: "x", Type: "BUILT", Weight: 0.9, SourceChunkID: "c1"},
			{SourceEntityID: "jane", TargetEntityID: "acme", Type: "FOUNDED", Weight: 0.8, SourceChunkID: "c2"},
		},
		Mentions: []common.MentionLink{
			{EntityID: "x", SourceChunkID: "c1"},
			{EntityID: "acme", SourceChunkID: "c1"},
			{EntityID: "acme", SourceChunkID: "c2"},
			{EntityID: "jane", SourceChunkID: "c2"},
		},
	})
	require.NoError(t, err)
	return g
}

func TestGraphStore_TraverseRecordsPaths(t *testing.T) {
	g := seedGraph(t)

	one, err := g.Traverse(context.Background(), ns, []string{"x"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "acme", one[0].Entity.ID)
	assert.Equal(t, []string{"X", "Acme Corp"}, one[0].Path)

	two, err := g.Traverse(context.Background(), ns, []string{"x"}, 2, 0)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, 2, two[1].Hops)
	assert.Equal(t, []string{"X", "Acme Corp", "Jane Doe"}, two[1].Path)
}

func TestGraphStore_RejectsProvenanceViolationAtomically(t *testing.T) {
	g := NewGraphStore()
	err := g.WriteBatch(context.Background(), ns, store.GraphWrite{
		Entities:      []common.Entity{{ID: "a", CanonicalName: "A", Type: "T"}},
		Relationships: []common.Relationship{{SourceEntityID: "a", TargetEntityID: "b", Type: "R"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrProvenanceViolation))

	found, err := g.FindEntities(context.Background(), ns, "A", 10)
	require.NoError(t, err)
	assert.Empty(t, found, "nothing from a rejected batch may be persisted")
}

func TestGraphStore_RedirectsResolveOnRead(t *testing.T) {
	g := seedGraph(t)
	ctx := context.Background()

	require.NoError(t, g.WriteBatch(ctx, ns, store.GraphWrite{
		Entities: []common.Entity{{ID: "acme-2", CanonicalName: "ACME Corporation", Type: "ORG"}},
		Mentions: []common.MentionLink{{EntityID: "acme-2", SourceChunkID: "c3"}},
	}))
	require.NoError(t, g.WriteBatch(ctx, ns, store.GraphWrite{
		Redirects: map[string]string{"acme-2": "acme"},
	}))

	links, err := g.MentionLinks(ctx, ns, []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []common.MentionLink{
		{EntityID: "acme", SourceChunkID: "c1"},
		{EntityID: "acme", SourceChunkID: "c2"},
		{EntityID: "acme", SourceChunkID: "c3"},
	}, links)

	found, err := g.FindEntities(ctx, ns, "acme", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "acme", found[0].ID)

	// chains compress to the final canonical id
	require.NoError(t, g.WriteBatch(ctx, ns, store.GraphWrite{
		Entities:  []common.Entity{{ID: "aaa", CanonicalName: "Acme", Type: "ORG"}},
		Redirects: map[string]string{"acme": "aaa"},
	}))
	redirects, err := g.Redirects(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, "aaa", redirects["acme-2"])
}

func TestGraphStore_Counts(t *testing.T) {
	g := seedGraph(t)
	ctx := context.Background()

	require.NoError(t, g.WriteBatch(ctx, ns, store.GraphWrite{
		Mentions: []common.MentionLink{{EntityID: "x", SourceChunkID: "missing"}},
	}))

	chunks, err := g.CountChunks(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 3, chunks)

	missing, err := g.CountMentionsMissingProvenance(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 1, missing)

	orphans, err := g.CountOrphanChunks(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 1, orphans)
}

func TestVectorStore_SearchOrdersByCosine(t *testing.T) {
	v := NewVectorStore()
	ctx := context.Background()
	require.NoError(t, v.Upsert(ctx, ns, []store.VectorRecord{
		{ChunkID: "a", Embedding: []float32{1, 0}},
		{ChunkID: "b", Embedding: []float32{1, 1}},
		{ChunkID: "c", Embedding: []float32{0, 1}},
	}))

	hits, err := v.Search(ctx, []float32{1, 0}, ns, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, "b", hits[1].ChunkID)

	n, err := v.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLexicalIndex_BM25PrefersRarerTerms(t *testing.T) {
	l := NewLexicalIndex()
	ctx := context.Background()
	require.NoError(t, l.Index(ctx, ns, []common.Chunk{
		{ID: "c1", Text: "machine learning with graphs"},
		{ID: "c2", Text: "machine shop tools"},
		{ID: "c3", Text: "deep learning"},
	}))

	hits, err := l.Search(ctx, "machine learning", ns, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "c1", hits[0].ChunkID)

	// reindexing the same chunk does not grow the index
	require.NoError(t, l.Index(ctx, ns, []common.Chunk{{ID: "c1", Text: "graphs only"}}))
	n, err := l.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err = l.Search(ctx, "graphs", ns, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ChunkID)
}

func TestOverrideStore(t *testing.T) {
	o := NewOverrideStore()
	ctx := context.Background()
	require.NoError(t, o.SetOverride(ctx, "STARRED_IN", "ACTED_IN"))

	got, err := o.GetOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"STARRED_IN": "ACTED_IN"}, got)

	got["X"] = "Y"
	again, _ := o.GetOverrides(ctx)
	assert.NotContains(t, again, "X")

	require.NoError(t, o.DeleteOverride(ctx, "STARRED_IN"))
	again, _ = o.GetOverrides(ctx)
	assert.Empty(t, again)
}

package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const ns = "test"

func TestEngine_Ingest(t *testing.T) {
	ctx := context.Background()
	graph := memory.NewGraphStore()
	vectors := memory.NewVectorStore()
	lexical := memory.NewLexicalIndex()
	require.NoError(t, graph.WriteBatch(ctx, ns, store.GraphWrite{
		Entities: []common.Entity{{ID: "acme", CanonicalName: "Acme Corp", Type: "ORG", Embedding: unit(1)}},
	}))

	emb := &fakeEmbedder{vectors: map[string][]float32{
		"ACME Corporation":          unit(0.97),
		"ACME Corporation built X.": {1, 0},
	}}
	engine := NewEngine(NewEngineParams{Graph: graph, Vectors: vectors, Lexical: lexical, Embedder: emb})

	report, err := engine.Ingest(ctx, IngestBatch{
		Namespace: ns,
		Chunks: []common.Chunk{
			{ID: "c1", DocumentID: "d1", Text: "ACME Corporation built X."},
			{DocumentID: "d1", Ordinal: 1, Text: "Jane founded ACME Corporation."},
		},
		Entities: []common.Entity{
			{ID: "acme-corp", CanonicalName: "ACME  Corporation", Type: "org"},
			{ID: "x", CanonicalName: "X", Type: "PRODUCT", Embedding: []float32{0, 1}},
		},
		Relationships: []common.Relationship{
			{SourceEntityID: "acme-corp", TargetEntityID: "x", Type: "built", Weight: 0.9, SourceChunkID: "c1"},
			{SourceEntityID: "x", TargetEntityID: "acme-corp", Type: "built by", Weight: 0.5},
		},
		Mentions: []common.MentionLink{
			{EntityID: "acme-corp", SourceChunkID: "c1"},
			{EntityID: "x", SourceChunkID: "c1"},
			{EntityID: "x", SourceChunkID: ""},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Entities)
	assert.Equal(t, 1, report.Redirects)
	assert.Equal(t, 1, report.Relationships)
	assert.Equal(t, 2, report.Mentions)
	assert.Equal(t, 1, report.RejectedRelationships)
	assert.Equal(t, 1, report.RejectedMentions)
	assert.Equal(t, 1, report.IndexedVectors)
	assert.Equal(t, 2, report.IndexedDocuments)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], common.ErrEmbeddingFailure.Error())

	redirects, err := graph.Redirects(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"acme-corp": "acme"}, redirects)

	neighbors, err := graph.Traverse(ctx, ns, []string{"acme-corp"}, 1, 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "x", neighbors[0].Entity.ID)
	assert.Equal(t, "BUILT", neighbors[0].Via.Type)
	assert.Equal(t, "acme", neighbors[0].Via.SourceEntityID)

	links, err := graph.MentionLinks(ctx, ns, []string{"acme"})
	require.NoError(t, err)
	assert.Equal(t, []common.MentionLink{{EntityID: "acme", SourceChunkID: "c1"}}, links)

	missing, err := graph.CountMentionsMissingProvenance(ctx, ns)
	require.NoError(t, err)
	assert.Zero(t, missing)

	vc, err := vectors.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 1, vc)
	lc, err := lexical.Count(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 2, lc)
}

func TestEngine_IngestWithoutGraphFails(t *testing.T) {
	_, err := NewEngine(NewEngineParams{}).Ingest(context.Background(), IngestBatch{Namespace: ns})
	assert.Error(t, err)
}

type failingGraph struct {
	*memory.GraphStore
}

func (failingGraph) WriteBatch(ctx context.Context, namespace string, w store.GraphWrite) error {
	return errors.New("disk full")
}

func TestEngine_WriteFailureIsReturned(t *testing.T) {
	engine := NewEngine(NewEngineParams{Graph: failingGraph{memory.NewGraphStore()}})
	_, err := engine.Ingest(context.Background(), IngestBatch{
		Namespace: ns,
		Chunks:    []common.Chunk{{ID: "c1", Text: "t"}},
	})
	assert.ErrorContains(t, err, "disk full")
}

func TestEngine_ProvenanceInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		graph := memory.NewGraphStore()
		engine := NewEngine(NewEngineParams{Graph: graph})

		chunkIDs := []string{"c1", "c2", "c3"}
		batch := IngestBatch{Namespace: ns}
		for _, id := range chunkIDs {
			batch.Chunks = append(batch.Chunks, common.Chunk{ID: id, DocumentID: "d", Text: id})
		}
		batch.Entities = []common.Entity{
			{ID: "e1", CanonicalName: "One", Type: "T"},
			{ID: "e2", CanonicalName: "Two", Type: "T"},
		}

		wantRejected := 0
		for _, m := range rapid.SliceOfN(rapid.SampledFrom([]string{"c1", "c2", "c3", "", " "}), 0, 10).Draw(t, "mentions") {
			if m == "" || m == " " {
				wantRejected++
			}
			batch.Mentions = append(batch.Mentions, common.MentionLink{EntityID: "e1", SourceChunkID: m})
		}

		report, err := engine.Ingest(ctx, batch)
		if err != nil {
			t.Fatal(err)
		}
		if report.RejectedMentions != wantRejected {
			t.Fatalf("rejected %d, want %d", report.RejectedMentions, wantRejected)
		}
		missing, err := graph.CountMentionsMissingProvenance(ctx, ns)
		if err != nil {
			t.Fatal(err)
		}
		if missing != 0 {
			t.Fatalf("%d mentions without provenance were written", missing)
		}
	})
}

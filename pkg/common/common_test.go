package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNewChunkID_StableAndContentDerived(t *testing.T) {
	a := NewChunkID("doc-1", 0, "hello world")
	b := NewChunkID("doc-1", 0, "hello world")
	c := NewChunkID("doc-1", 1, "hello world")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	chunk := Chunk{DocumentID: "doc-1", Ordinal: 0, Text: "hello world"}
	chunk.EnsureID()
	assert.Equal(t, a, chunk.ID)
}

func TestNewEntityID_IgnoresCaseAndSpacing(t *testing.T) {
	assert.Equal(t, NewEntityID("org", "Acme  Corp"), NewEntityID("ORG", "acme corp"))
	assert.NotEqual(t, NewEntityID("ORG", "Acme"), NewEntityID("PERSON", "Acme"))

	e := Entity{CanonicalName: "Acme Corp", Type: "ORG"}
	e.EnsureID()
	assert.Equal(t, NewEntityID("ORG", "Acme Corp"), e.ID)
}

func TestSectionParentLabel(t *testing.T) {
	tests := []struct {
		label  string
		parent string
	}{
		{"1.2.3", "1.2"},
		{"1.2", "1"},
		{"1", ""},
		{"1.2.", "1"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.parent, Section{HeadingLabel: tt.label}.ParentLabel())
		})
	}
}

func TestBuildSectionForest(t *testing.T) {
	sections := []Section{
		{HeadingLabel: "1", Order: 0, DocumentID: "d1"},
		{HeadingLabel: "1.1", Order: 1, DocumentID: "d1"},
		{HeadingLabel: "1.1.1", Order: 2, DocumentID: "d1"},
		{HeadingLabel: "2.4", Order: 3, DocumentID: "d1"},
		{HeadingLabel: "1.1", Order: 0, DocumentID: "d2"},
	}

	roots := BuildSectionForest(sections)
	require.Len(t, roots, 3)

	assert.Equal(t, "1", roots[0].Section.HeadingLabel)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "1.1", roots[0].Children[0].Section.HeadingLabel)
	require.Len(t, roots[0].Children[0].Children, 1)
	assert.Equal(t, "1.1.1", roots[0].Children[0].Children[0].Section.HeadingLabel)

	// "2.4" has no "2" in d1, and d2's "1.1" must not attach to d1's "1".
	assert.Equal(t, "2.4", roots[1].Section.HeadingLabel)
	assert.Nil(t, roots[1].Parent)
	assert.Equal(t, "d2", roots[2].Section.DocumentID)
	assert.Nil(t, roots[2].Parent)
}

func TestRelationshipKey_SymmetricTypesSortEndpoints(t *testing.T) {
	ab := Relationship{SourceEntityID: "A", TargetEntityID: "B", Type: RelationCoOccursWith}
	ba := Relationship{SourceEntityID: "B", TargetEntityID: "A", Type: RelationCoOccursWith}
	assert.Equal(t, ab.Key(), ba.Key())

	dirAB := Relationship{SourceEntityID: "A", TargetEntityID: "B", Type: "FOUNDED"}
	dirBA := Relationship{SourceEntityID: "B", TargetEntityID: "A", Type: "FOUNDED"}
	assert.NotEqual(t, dirAB.Key(), dirBA.Key())
}

func TestProvenanceValidation(t *testing.T) {
	err := Relationship{SourceEntityID: "A", TargetEntityID: "B", Type: "X"}.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvenanceViolation))

	err = MentionLink{EntityID: "A", SourceChunkID: "  "}.Validate()
	assert.True(t, errors.Is(err, ErrProvenanceViolation))

	assert.NoError(t, MentionLink{EntityID: "A", SourceChunkID: "c1"}.Validate())
}

func TestSourceErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("boom")
	err := error(&SourceError{Source: "vector", Err: cause})
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.True(t, errors.Is(err, cause))

	var se *SourceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "vector", se.Source)
}

func TestResolveRedirect(t *testing.T) {
	redirects := map[string]string{"c": "b", "b": "a", "x": "y", "y": "x"}
	assert.Equal(t, "a", ResolveRedirect(redirects, "c"))
	assert.Equal(t, "a", ResolveRedirect(redirects, "a"))
	assert.Equal(t, "z", ResolveRedirect(redirects, "z"))
	// cycles terminate
	assert.Contains(t, []string{"x", "y"}, ResolveRedirect(redirects, "x"))
}

func genEntity(t *rapid.T) Entity {
	return Entity{
		ID:            rapid.StringMatching(`e[0-9]{1,2}`).Draw(t, "id"),
		CanonicalName: rapid.StringMatching(`[A-Z][a-z]{1,6}`).Draw(t, "name"),
		Type:          rapid.SampledFrom([]string{"PERSON", "ORG", "PLACE"}).Draw(t, "type"),
	}
}

func genRelationship(t *rapid.T) Relationship {
	return Relationship{
		SourceEntityID: rapid.StringMatching(`e[0-9]`).Draw(t, "src"),
		TargetEntityID: rapid.StringMatching(`e[0-9]`).Draw(t, "tgt"),
		Type:           rapid.SampledFrom([]string{"FOUNDED", "WORKS_FOR", RelationCoOccursWith, RelationSimilarTo}).Draw(t, "type"),
		Weight:         rapid.Float64Range(0, 1).Draw(t, "weight"),
		SourceChunkID:  "c1",
	}
}

func TestGraphContext_IdempotentInsert(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		g := NewGraphContext()
		e := genEntity(t)
		r := genRelationship(t)

		g.AddEntity(e, 0)
		g.AddEntity(e, 1)
		g.AddRelationship(r)
		g.AddRelationship(r)

		if len(g.Entities()) != 1 {
			t.Fatalf("expected 1 entity, got %d", len(g.Entities()))
		}
		if len(g.Relationships()) != 1 {
			t.Fatalf("expected 1 relationship, got %d", len(g.Relationships()))
		}
	})
}

func TestGraphContext_SymmetricCanonicalization(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := rapid.SampledFrom([]string{RelationCoOccursWith, RelationSimilarTo}).Draw(t, "type")
		a := rapid.StringMatching(`e[0-9]{1,3}`).Draw(t, "a")
		b := rapid.StringMatching(`e[0-9]{1,3}`).Draw(t, "b")

		g := NewGraphContext()
		g.AddRelationship(Relationship{SourceEntityID: a, TargetEntityID: b, Type: typ, SourceChunkID: "c"})
		g.AddRelationship(Relationship{SourceEntityID: b, TargetEntityID: a, Type: typ, SourceChunkID: "c"})

		if n := len(g.Relationships()); n != 1 {
			t.Fatalf("expected exactly one relationship, got %d", n)
		}
	})
}

func TestGraphContext_MergeIsCommutativeAndIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		left := NewGraphContext()
		right := NewGraphContext()
		for _, e := range rapid.SliceOfN(rapid.Custom(genEntity), 0, 8).Draw(t, "left_entities") {
			left.AddEntity(e, 0)
		}
		for _, e := range rapid.SliceOfN(rapid.Custom(genEntity), 0, 8).Draw(t, "right_entities") {
			right.AddEntity(e, 0)
		}
		for _, r := range rapid.SliceOfN(rapid.Custom(genRelationship), 0, 8).Draw(t, "rels") {
			left.AddRelationship(r)
			right.AddRelationship(r)
		}

		lr := NewGraphContext()
		lr.Merge(left)
		lr.Merge(right)
		rl := NewGraphContext()
		rl.Merge(right)
		rl.Merge(left)

		if len(lr.Entities()) != len(rl.Entities()) {
			t.Fatalf("entity counts differ: %d vs %d", len(lr.Entities()), len(rl.Entities()))
		}
		if len(lr.Relationships()) != len(rl.Relationships()) {
			t.Fatalf("relationship counts differ")
		}

		before := len(lr.Entities())
		lr.Merge(left)
		if len(lr.Entities()) != before {
			t.Fatalf("re-merge added entities")
		}
	})
}

func TestGraphContext_AddChunkKeepsBestScore(t *testing.T) {
	g := NewGraphContext()
	g.AddChunk(ContextChunk{Chunk: Chunk{ID: "c1", DocumentID: "d1"}, Score: 0.4, Sources: []string{"vector"}})
	g.AddChunk(ContextChunk{Chunk: Chunk{ID: "c1", DocumentID: "d1"}, Score: 0.9, Sources: []string{"graph"}})
	g.AddChunk(ContextChunk{Chunk: Chunk{ID: "c2", DocumentID: "d2"}, Score: 0.5})

	chunks := g.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].Chunk.ID)
	assert.InDelta(t, 0.9, chunks[0].Score, 1e-9)
	assert.Equal(t, []string{"graph", "vector"}, chunks[0].Sources)
	assert.Equal(t, []string{"d1", "d2"}, g.Sources())
}

func TestGraphContext_EntityNamesByRecency(t *testing.T) {
	g := NewGraphContext()
	g.AddEntity(Entity{ID: "x", CanonicalName: "X"}, 0)
	g.AddEntity(Entity{ID: "acme", CanonicalName: "Acme Corp"}, 1)
	g.AddEntity(Entity{ID: "y", CanonicalName: "Y"}, 0)

	assert.Equal(t, []string{"Acme Corp", "X", "Y"}, g.EntityNamesByRecency())
}

func TestParseQueryType(t *testing.T) {
	qt, err := ParseQueryType("multi-hop")
	require.NoError(t, err)
	assert.Equal(t, QueryMultiHop, qt)

	_, err = ParseQueryType("weird")
	assert.Error(t, err)
}

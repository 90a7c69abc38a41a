package common

import (
	"encoding/json"
	"sort"
	"strings"
)

// ContextChunk is a retrieved passage held by a GraphContext.
type ContextChunk struct {
	Chunk   Chunk    `json:"chunk"`
	Score   float64  `json:"score"`
	Sources []string `json:"sources"`
}

// GraphContext accumulates what one query gathered across retrieval rounds.
//
// Entities, relationships, chunks and sources are inserted idempotently. Paths
// are start-to-end sequences of entity names kept for explainability. A
// GraphContext belongs to a single query and is not safe for concurrent use.
type GraphContext struct {
	entities      map[string]Entity
	entityOrder   []string
	entityStep    map[string]int
	relationships map[RelationshipKey]Relationship
	relOrder      []RelationshipKey
	paths         [][]string
	pathKeys      map[string]struct{}
	sources       map[string]struct{}
	chunks        map[string]ContextChunk
}

// NewGraphContext returns an empty context.
func NewGraphContext() *GraphContext {
	return &GraphContext{
		entities:      make(map[string]Entity),
		entityStep:    make(map[string]int),
		relationships: make(map[RelationshipKey]Relationship),
		pathKeys:      make(map[string]struct{}),
		sources:       make(map[string]struct{}),
		chunks:        make(map[string]ContextChunk),
	}
}

func entityKey(e Entity) string {
	if e.ID != "" {
		return e.ID
	}
	return "name:" + strings.ToLower(strings.TrimSpace(e.CanonicalName))
}

// AddEntity inserts e unless an entity with the same key is present and
// reports whether it was new. step records the retrieval round that found it.
func (g *GraphContext) AddEntity(e Entity, step int) bool {
	key := entityKey(e)
	if key == "name:" {
		return false
	}
	if existing, ok := g.entities[key]; ok {
		if existing.Description == "" && e.Description != "" {
			existing.Description = e.Description
			g.entities[key] = existing
		}
		return false
	}
	g.entities[key] = e
	g.entityOrder = append(g.entityOrder, key)
	g.entityStep[key] = step
	return true
}

// AddRelationship inserts r keyed by its canonical key. On collision the
// higher weight is kept.
func (g *GraphContext) AddRelationship(r Relationship) bool {
	r = r.Canonical()
	key := r.Key()
	if existing, ok := g.relationships[key]; ok {
		if r.Weight > existing.Weight {
			g.relationships[key] = r
		}
		return false
	}
	g.relationships[key] = r
	g.relOrder = append(g.relOrder, key)
	return true
}

// AddPath records a traversal path. Empty and duplicate paths are ignored.
func (g *GraphContext) AddPath(path []string) {
	if len(path) == 0 {
		return
	}
	key := strings.Join(path, "\x00")
	if _, ok := g.pathKeys[key]; ok {
		return
	}
	g.pathKeys[key] = struct{}{}
	g.paths = append(g.paths, append([]string(nil), path...))
}

// AddSource records a source document id.
func (g *GraphContext) AddSource(documentID string) {
	if documentID == "" {
		return
	}
	g.sources[documentID] = struct{}{}
}

// AddChunk records a retrieved chunk and its document. A chunk seen twice
// keeps its best score and the union of its sources.
func (g *GraphContext) AddChunk(c ContextChunk) {
	if c.Chunk.ID == "" {
		return
	}
	g.AddSource(c.Chunk.DocumentID)
	existing, ok := g.chunks[c.Chunk.ID]
	if !ok {
		c.Sources = append([]string(nil), c.Sources...)
		g.chunks[c.Chunk.ID] = c
		return
	}
	if c.Score > existing.Score {
		existing.Score = c.Score
	}
	if existing.Chunk.Text == "" {
		existing.Chunk = c.Chunk
	}
	existing.Sources = mergeStrings(existing.Sources, c.Sources)
	g.chunks[c.Chunk.ID] = existing
}

// Merge folds other into g with the same idempotent rules as the Add methods.
func (g *GraphContext) Merge(other *GraphContext) {
	if other == nil {
		return
	}
	for _, key := range other.entityOrder {
		g.AddEntity(other.entities[key], other.entityStep[key])
	}
	for _, key := range other.relOrder {
		g.AddRelationship(other.relationships[key])
	}
	for _, p := range other.paths {
		g.AddPath(p)
	}
	for s := range other.sources {
		g.AddSource(s)
	}
	for _, c := range other.chunks {
		g.AddChunk(c)
	}
}

// HasEntity reports whether an entity with the given id is present.
func (g *GraphContext) HasEntity(id string) bool {
	_, ok := g.entities[id]
	return ok
}

// Entities returns the entities in insertion order.
func (g *GraphContext) Entities() []Entity {
	out := make([]Entity, 0, len(g.entityOrder))
	for _, key := range g.entityOrder {
		out = append(out, g.entities[key])
	}
	return out
}

// EntityIDs returns the ids of entities that have one, in insertion order.
func (g *GraphContext) EntityIDs() []string {
	out := make([]string, 0, len(g.entityOrder))
	for _, key := range g.entityOrder {
		if id := g.entities[key].ID; id != "" {
			out = append(out, id)
		}
	}
	return out
}

// EntityNamesByRecency returns entity names ordered by the round that found
// them, most recent round first, insertion order within a round.
func (g *GraphContext) EntityNamesByRecency() []string {
	keys := append([]string(nil), g.entityOrder...)
	sort.SliceStable(keys, func(i, j int) bool {
		return g.entityStep[keys[i]] > g.entityStep[keys[j]]
	})
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, g.entities[key].CanonicalName)
	}
	return out
}

// Relationships returns the relationships in insertion order.
func (g *GraphContext) Relationships() []Relationship {
	out := make([]Relationship, 0, len(g.relOrder))
	for _, key := range g.relOrder {
		out = append(out, g.relationships[key])
	}
	return out
}

// Paths returns the recorded traversal paths.
func (g *GraphContext) Paths() [][]string {
	out := make([][]string, len(g.paths))
	for i, p := range g.paths {
		out[i] = append([]string(nil), p...)
	}
	return out
}

// Sources returns the source document ids sorted.
func (g *GraphContext) Sources() []string {
	out := make([]string, 0, len(g.sources))
	for s := range g.sources {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Chunks returns the chunks ordered by score desc, chunk id asc.
func (g *GraphContext) Chunks() []ContextChunk {
	out := make([]ContextChunk, 0, len(g.chunks))
	for _, c := range g.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	return out
}

// GraphContextView is the serialized form of a GraphContext.
type GraphContextView struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Paths         [][]string     `json:"paths"`
	Sources       []string       `json:"sources"`
	Chunks        []ContextChunk `json:"chunks"`
}

// View snapshots the context for serialization.
func (g *GraphContext) View() GraphContextView {
	return GraphContextView{
		Entities:      g.Entities(),
		Relationships: g.Relationships(),
		Paths:         g.Paths(),
		Sources:       g.Sources(),
		Chunks:        g.Chunks(),
	}
}

// MarshalJSON encodes the context as its View.
func (g *GraphContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.View())
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

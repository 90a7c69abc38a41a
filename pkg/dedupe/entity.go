package dedupe

import (
	"context"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const DefaultEntityThreshold = 0.85

// EntityResult is the outcome of an entity deduplication pass.
type EntityResult struct {
	// Canonical holds one entity per group, keyed by the smallest id.
	Canonical []common.Entity
	// Redirects maps every merged id to its canonical id.
	Redirects map[string]string
}

// EntityDeduper merges entities of the same type whose embeddings are close.
type EntityDeduper struct {
	embedder  ai.Embedder
	threshold float64
	parallel  int
}

type EntityOption func(*EntityDeduper)

// WithEntityThreshold sets the cosine similarity at which same-type entities merge.
func WithEntityThreshold(t float64) EntityOption {
	return func(d *EntityDeduper) {
		if t > 0 {
			d.threshold = t
		}
	}
}

// WithEntityParallel limits concurrent embedding requests.
func WithEntityParallel(n int) EntityOption {
	return func(d *EntityDeduper) {
		if n > 0 {
			d.parallel = n
		}
	}
}

// NewEntityDeduper returns a deduper using embedder for entity names.
func NewEntityDeduper(embedder ai.Embedder, opts ...EntityOption) *EntityDeduper {
	d := &EntityDeduper{embedder: embedder, threshold: DefaultEntityThreshold, parallel: 4}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dedupe clusters entities within each type bucket. Entities sharing an id
// are folded first. Missing embeddings are computed; an entity whose
// embedding fails is kept as its own canonical entity. The canonical entity
// of a group inherits the first non-empty description of its members.
func (d *EntityDeduper) Dedupe(ctx context.Context, entities []common.Entity) (EntityResult, error) {
	byID := make(map[string]common.Entity, len(entities))
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		e.EnsureID()
		existing, ok := byID[e.ID]
		if !ok {
			byID[e.ID] = e
			ids = append(ids, e.ID)
			continue
		}
		if existing.Description == "" {
			existing.Description = e.Description
		}
		if len(existing.Embedding) == 0 {
			existing.Embedding = e.Embedding
		}
		byID[e.ID] = existing
	}
	sort.Strings(ids)

	missing := make([]string, 0)
	texts := make([]string, 0)
	for _, id := range ids {
		if len(byID[id].Embedding) == 0 {
			missing = append(missing, id)
			texts = append(texts, byID[id].EmbeddingText())
		}
	}
	if len(missing) > 0 {
		vectors := store.EmbedTexts(ctx, d.embedder, texts, d.parallel)
		if err := ctx.Err(); err != nil {
			return EntityResult{}, err
		}
		for i, id := range missing {
			e := byID[id]
			e.Embedding = vectors[i]
			byID[id] = e
		}
	}

	buckets := make(map[string][]Item)
	for _, id := range ids {
		e := byID[id]
		t := strings.ToUpper(strings.TrimSpace(e.Type))
		buckets[t] = append(buckets[t], Item{Key: id, Embedding: e.Embedding})
	}

	result := EntityResult{Redirects: make(map[string]string)}
	for _, items := range buckets {
		for id, canonical := range Cluster(items, d.threshold) {
			if id != canonical {
				result.Redirects[id] = canonical
			}
		}
	}

	canonical := make(map[string]common.Entity)
	for _, id := range ids {
		target := id
		if c, ok := result.Redirects[id]; ok {
			target = c
		}
		e, ok := canonical[target]
		if !ok {
			e = byID[target]
		}
		if e.Description == "" {
			e.Description = byID[id].Description
		}
		canonical[target] = e
	}
	for _, id := range ids {
		if e, ok := canonical[id]; ok {
			result.Canonical = append(result.Canonical, e)
		}
	}

	if len(result.Redirects) > 0 {
		logger.Debug("[Dedupe] Merged entities", "entities", len(ids), "merged", len(result.Redirects))
	}
	return result, nil
}

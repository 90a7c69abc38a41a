package store

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

// Hit is one chunk returned by a retrieval source with its raw score.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// VectorRecord is a chunk embedding as stored in a VectorStore.
type VectorRecord struct {
	ChunkID   string
	Embedding []float32
}

// VectorStore performs nearest-neighbour search over chunk embeddings.
// Higher scores are better.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, namespace string, topK int) ([]Hit, error)
	Upsert(ctx context.Context, namespace string, records []VectorRecord) error
	Count(ctx context.Context, namespace string) (int, error)
}

// LexicalIndex performs term search over chunk text. Higher scores are better.
type LexicalIndex interface {
	Search(ctx context.Context, text string, namespace string, topK int) ([]Hit, error)
	Index(ctx context.Context, namespace string, chunks []common.Chunk) error
	Count(ctx context.Context, namespace string) (int, error)
}

// Neighbor is an entity reached by a graph traversal.
//
// Path holds the entity names from the seed to this entity. Via is the edge
// that reached it, with endpoints resolved to canonical ids.
type Neighbor struct {
	Entity common.Entity
	SeedID string
	Hops   int
	Path   []string
	Via    common.Relationship
}

// GraphWrite is one batched write produced by ingestion or deduplication.
// Redirects map merged entity ids to their canonical id.
type GraphWrite struct {
	Chunks        []common.Chunk
	Sections      []common.Section
	Entities      []common.Entity
	Redirects     map[string]string
	Relationships []common.Relationship
	Mentions      []common.MentionLink
}

// Empty reports whether the write carries nothing.
func (w GraphWrite) Empty() bool {
	return len(w.Chunks) == 0 && len(w.Sections) == 0 && len(w.Entities) == 0 &&
		len(w.Redirects) == 0 && len(w.Relationships) == 0 && len(w.Mentions) == 0
}

// Validate rejects relationships and mention links without a source chunk.
func (w GraphWrite) Validate() error {
	for _, r := range w.Relationships {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, m := range w.Mentions {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GraphStore is the typed property graph of chunks, sections, entities and
// relationships.
//
// Reads resolve entity redirects lazily: lookups only return canonical
// entities, and edges and mention links are reported against canonical ids.
// WriteBatch must reject a batch containing a provenance violation without
// persisting any part of it.
type GraphStore interface {
	FindEntities(ctx context.Context, namespace string, name string, limit int) ([]common.Entity, error)
	GetEntities(ctx context.Context, namespace string, ids []string) ([]common.Entity, error)
	EntitiesByType(ctx context.Context, namespace string, entityType string) ([]common.Entity, error)
	// Traverse walks up to hops edges from the seeds. limit <= 0 returns every
	// neighbour up to the adapter's own bound.
	Traverse(ctx context.Context, namespace string, seedIDs []string, hops int, limit int) ([]Neighbor, error)

	MentionLinks(ctx context.Context, namespace string, entityIDs []string) ([]common.MentionLink, error)
	ChunkMentions(ctx context.Context, namespace string, chunkIDs []string) ([]common.MentionLink, error)
	GetChunks(ctx context.Context, namespace string, ids []string) ([]common.Chunk, error)
	Sections(ctx context.Context, namespace string, documentID string) ([]common.Section, error)

	WriteBatch(ctx context.Context, namespace string, w GraphWrite) error
	Redirects(ctx context.Context, namespace string) (map[string]string, error)

	CountChunks(ctx context.Context, namespace string) (int, error)
	CountMentionsMissingProvenance(ctx context.Context, namespace string) (int, error)
	CountOrphanChunks(ctx context.Context, namespace string) (int, error)
}

// OverrideStore persists manual relation-type overrides (label -> canonical).
type OverrideStore interface {
	GetOverrides(ctx context.Context) (map[string]string, error)
	SetOverride(ctx context.Context, label string, canonical string) error
	DeleteOverride(ctx context.Context, label string) error
}

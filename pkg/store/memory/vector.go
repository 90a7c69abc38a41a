// Package memory provides in-process implementations of the store
// interfaces. They back tests and single-node deployments without Postgres.
package memory

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

// VectorStore keeps chunk embeddings in memory and searches by cosine
// similarity.
type VectorStore struct {
	mu     sync.RWMutex
	spaces map[string]map[string][]float32
}

func NewVectorStore() *VectorStore {
	return &VectorStore{spaces: make(map[string]map[string][]float32)}
}

func (s *VectorStore) Search(ctx context.Context, embedding []float32, namespace string, topK int) ([]store.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	space := s.spaces[namespace]
	hits := make([]store.Hit, 0, len(space))
	for id, vec := range space {
		hits = append(hits, store.Hit{ChunkID: id, Score: ai.CosineSimilarity(embedding, vec)})
	}
	return store.SortHits(hits, topK), nil
}

func (s *VectorStore) Upsert(ctx context.Context, namespace string, records []store.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	space, ok := s.spaces[namespace]
	if !ok {
		space = make(map[string][]float32)
		s.spaces[namespace] = space
	}
	for _, r := range records {
		if r.ChunkID == "" || len(r.Embedding) == 0 {
			continue
		}
		space[r.ChunkID] = append([]float32(nil), r.Embedding...)
	}
	return nil
}

func (s *VectorStore) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.spaces[namespace]), nil
}

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

type graphSpace struct {
	chunks    map[string]common.Chunk
	sections  map[string]map[string]common.Section
	entities  map[string]common.Entity
	redirects map[string]string
	rels      map[common.RelationshipKey]common.Relationship
	mentions  map[common.MentionLink]struct{}
}

func newGraphSpace() *graphSpace {
	return &graphSpace{
		chunks:    make(map[string]common.Chunk),
		sections:  make(map[string]map[string]common.Section),
		entities:  make(map[string]common.Entity),
		redirects: make(map[string]string),
		rels:      make(map[common.RelationshipKey]common.Relationship),
		mentions:  make(map[common.MentionLink]struct{}),
	}
}

func (g *graphSpace) resolve(id string) string {
	return common.ResolveRedirect(g.redirects, id)
}

func (g *graphSpace) isCanonical(id string) bool {
	return g.resolve(id) == id
}

// edges returns the undirected edges between canonical entities that touch
// the frontier. Edges collapsed onto one entity are dropped.
func (g *graphSpace) edges(frontier []string) []store.Edge {
	want := make(map[string]struct{}, len(frontier))
	for _, id := range frontier {
		want[id] = struct{}{}
	}
	out := make([]store.Edge, 0)
	for _, r := range g.rels {
		src, tgt := g.resolve(r.SourceEntityID), g.resolve(r.TargetEntityID)
		if src == tgt {
			continue
		}
		r.SourceEntityID, r.TargetEntityID = src, tgt
		if _, ok := want[src]; ok {
			out = append(out, store.Edge{From: src, To: tgt, Rel: r})
		}
		if _, ok := want[tgt]; ok {
			out = append(out, store.Edge{From: tgt, To: src, Rel: r})
		}
	}
	return out
}

// GraphStore is an in-memory GraphStore. Redirects are stored as written and
// resolved on every read.
type GraphStore struct {
	mu     sync.RWMutex
	spaces map[string]*graphSpace
}

func NewGraphStore() *GraphStore {
	return &GraphStore{spaces: make(map[string]*graphSpace)}
}

func (s *GraphStore) space(namespace string) *graphSpace {
	sp, ok := s.spaces[namespace]
	if !ok {
		return newGraphSpace()
	}
	return sp
}

func (s *GraphStore) FindEntities(ctx context.Context, namespace string, name string, limit int) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	type scored struct {
		e     common.Entity
		score float64
	}
	matches := make([]scored, 0)
	for id, e := range sp.entities {
		if !sp.isCanonical(id) {
			continue
		}
		if score := store.MatchScore(e.CanonicalName, name); score >= store.MinMatchScore {
			matches = append(matches, scored{e: e, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].e.ID < matches[j].e.ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]common.Entity, len(matches))
	for i, m := range matches {
		out[i] = m.e
	}
	return out, nil
}

func (s *GraphStore) GetEntities(ctx context.Context, namespace string, ids []string) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	seen := make(map[string]struct{}, len(ids))
	out := make([]common.Entity, 0, len(ids))
	for _, id := range ids {
		id = sp.resolve(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if e, ok := sp.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphStore) EntitiesByType(ctx context.Context, namespace string, entityType string) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	out := make([]common.Entity, 0)
	for id, e := range sp.entities {
		if sp.isCanonical(id) && strings.EqualFold(e.Type, entityType) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *GraphStore) Traverse(ctx context.Context, namespace string, seedIDs []string, hops int, limit int) ([]store.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	seeds := make([]string, len(seedIDs))
	for i, id := range seedIDs {
		seeds[i] = sp.resolve(id)
	}
	return store.WalkNeighbors(ctx, seeds, hops, limit,
		func(_ context.Context, frontier []string) ([]store.Edge, error) {
			return sp.edges(frontier), nil
		},
		func(_ context.Context, ids []string) (map[string]common.Entity, error) {
			out := make(map[string]common.Entity, len(ids))
			for _, id := range ids {
				if e, ok := sp.entities[id]; ok {
					out[id] = e
				}
			}
			return out, nil
		},
	)
}

func (s *GraphStore) MentionLinks(ctx context.Context, namespace string, entityIDs []string) ([]common.MentionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	want := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		want[sp.resolve(id)] = struct{}{}
	}
	return collectMentions(sp, func(m common.MentionLink, canonical string) bool {
		_, ok := want[canonical]
		return ok
	}), nil
}

func (s *GraphStore) ChunkMentions(ctx context.Context, namespace string, chunkIDs []string) ([]common.MentionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	want := make(map[string]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = struct{}{}
	}
	return collectMentions(sp, func(m common.MentionLink, _ string) bool {
		_, ok := want[m.SourceChunkID]
		return ok
	}), nil
}

func collectMentions(sp *graphSpace, keep func(m common.MentionLink, canonical string) bool) []common.MentionLink {
	seen := make(map[common.MentionLink]struct{})
	out := make([]common.MentionLink, 0)
	for m := range sp.mentions {
		canonical := sp.resolve(m.EntityID)
		if !keep(m, canonical) {
			continue
		}
		link := common.MentionLink{EntityID: canonical, SourceChunkID: m.SourceChunkID}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].SourceChunkID < out[j].SourceChunkID
	})
	return out
}

func (s *GraphStore) GetChunks(ctx context.Context, namespace string, ids []string) ([]common.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	out := make([]common.Chunk, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if c, ok := sp.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *GraphStore) Sections(ctx context.Context, namespace string, documentID string) ([]common.Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	out := make([]common.Section, 0, len(sp.sections[documentID]))
	for _, sec := range sp.sections[documentID] {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].HeadingLabel < out[j].HeadingLabel
	})
	return out, nil
}

func (s *GraphStore) WriteBatch(ctx context.Context, namespace string, w store.GraphWrite) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[namespace]
	if !ok {
		sp = newGraphSpace()
		s.spaces[namespace] = sp
	}

	for _, c := range w.Chunks {
		c.EnsureID()
		sp.chunks[c.ID] = c
	}
	for _, sec := range w.Sections {
		if sp.sections[sec.DocumentID] == nil {
			sp.sections[sec.DocumentID] = make(map[string]common.Section)
		}
		sp.sections[sec.DocumentID][sec.HeadingLabel] = sec
	}
	for _, e := range w.Entities {
		if existing, ok := sp.entities[e.ID]; ok {
			if len(e.Embedding) == 0 {
				e.Embedding = existing.Embedding
			}
			if e.Description == "" {
				e.Description = existing.Description
			}
		}
		sp.entities[e.ID] = e
	}
	if len(w.Redirects) > 0 {
		sp.redirects = store.MergeRedirects(sp.redirects, w.Redirects)
	}
	for _, r := range w.Relationships {
		r = r.Canonical()
		key := r.Key()
		if existing, ok := sp.rels[key]; ok && existing.Weight >= r.Weight {
			continue
		}
		sp.rels[key] = r
	}
	for _, m := range w.Mentions {
		sp.mentions[m] = struct{}{}
	}
	return nil
}

func (s *GraphStore) Redirects(ctx context.Context, namespace string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	out := make(map[string]string, len(sp.redirects))
	for k := range sp.redirects {
		out[k] = sp.resolve(k)
	}
	return out, nil
}

func (s *GraphStore) CountChunks(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.space(namespace).chunks), nil
}

func (s *GraphStore) CountMentionsMissingProvenance(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	n := 0
	for m := range sp.mentions {
		if strings.TrimSpace(m.SourceChunkID) == "" {
			n++
			continue
		}
		if _, ok := sp.chunks[m.SourceChunkID]; !ok {
			n++
		}
	}
	return n, nil
}

func (s *GraphStore) CountOrphanChunks(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp := s.space(namespace)

	linked := make(map[string]struct{}, len(sp.mentions))
	for m := range sp.mentions {
		linked[m.SourceChunkID] = struct{}{}
	}
	n := 0
	for id := range sp.chunks {
		if _, ok := linked[id]; !ok {
			n++
		}
	}
	return n, nil
}

package memory

import (
	"context"
	"math"
	"sync"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type lexicalDoc struct {
	terms  map[string]int
	length int
}

type lexicalSpace struct {
	docs     map[string]lexicalDoc
	postings map[string]map[string]struct{}
	totalLen int
}

// LexicalIndex is an in-memory inverted index scored with Okapi BM25.
type LexicalIndex struct {
	mu     sync.RWMutex
	spaces map[string]*lexicalSpace
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{spaces: make(map[string]*lexicalSpace)}
}

func (l *LexicalIndex) Index(ctx context.Context, namespace string, chunks []common.Chunk) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	space, ok := l.spaces[namespace]
	if !ok {
		space = &lexicalSpace{
			docs:     make(map[string]lexicalDoc),
			postings: make(map[string]map[string]struct{}),
		}
		l.spaces[namespace] = space
	}

	for _, c := range chunks {
		c.EnsureID()
		if old, ok := space.docs[c.ID]; ok {
			space.totalLen -= old.length
			for term := range old.terms {
				delete(space.postings[term], c.ID)
			}
		}
		tokens := store.Tokenize(c.Text)
		doc := lexicalDoc{terms: make(map[string]int, len(tokens)), length: len(tokens)}
		for _, t := range tokens {
			doc.terms[t]++
		}
		for term := range doc.terms {
			if space.postings[term] == nil {
				space.postings[term] = make(map[string]struct{})
			}
			space.postings[term][c.ID] = struct{}{}
		}
		space.docs[c.ID] = doc
		space.totalLen += doc.length
	}
	return nil
}

func (l *LexicalIndex) Search(ctx context.Context, text string, namespace string, topK int) ([]store.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	space, ok := l.spaces[namespace]
	if !ok || len(space.docs) == 0 {
		return nil, nil
	}

	n := float64(len(space.docs))
	avgLen := float64(space.totalLen) / n
	scores := make(map[string]float64)
	for _, term := range store.DedupeStrings(store.Tokenize(text)) {
		posting := space.postings[term]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id := range posting {
			doc := space.docs[id]
			tf := float64(doc.terms[term])
			denom := tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/avgLen)
			scores[id] += idf * tf * (bm25K1 + 1) / denom
		}
	}

	hits := make([]store.Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, store.Hit{ChunkID: id, Score: score})
	}
	return store.SortHits(hits, topK), nil
}

func (l *LexicalIndex) Count(ctx context.Context, namespace string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	space, ok := l.spaces[namespace]
	if !ok {
		return 0, nil
	}
	return len(space.docs), nil
}

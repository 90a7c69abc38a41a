// Package expand widens a query into a ranked set of entity names using the
// LLM extractor, the knowledge graph and, for sparse graphs, LLM synonyms.
package expand

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	DefaultHops          = 1
	MaxHops              = 3
	DefaultCeiling       = 50
	DefaultMinExpansion  = 10
	DefaultSynonymSeeds  = 3
	DefaultMaxSynonyms   = 3
	matchesPerCandidate  = 3
	synonymScoreFactor   = 0.5
	defaultEmbedParallel = 4
)

// Origin records which stage produced an expansion.
type Origin string

const (
	OriginCandidate Origin = "candidate"
	OriginGraph     Origin = "graph"
	OriginSynonym   Origin = "synonym"
)

// Expansion is one ranked entity name.
type Expansion struct {
	Name     string  `json:"name"`
	EntityID string  `json:"entity_id,omitempty"`
	Score    float64 `json:"score"`
	Origin   Origin  `json:"origin"`
	Hops     int     `json:"hops"`
}

// Expander runs the expansion pipeline.
type Expander struct {
	extractor ai.EntityExtractor
	synonyms  ai.SynonymGenerator
	embedder  ai.Embedder
	graph     store.GraphStore
	tracer    trace.Tracer

	hops         int
	ceiling      int
	minExpansion int
	synonymSeeds int
	maxSynonyms  int
	rerank       bool
	parallel     int
}

type NewExpanderParams struct {
	Extractor ai.EntityExtractor
	Synonyms  ai.SynonymGenerator
	Embedder  ai.Embedder
	Graph     store.GraphStore
}

type Option func(*Expander)

// WithHops sets the traversal depth, clamped to [1, MaxHops].
func WithHops(n int) Option {
	return func(e *Expander) {
		e.hops = min(max(n, 1), MaxHops)
	}
}

// WithCeiling caps the number of expansions returned.
func WithCeiling(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.ceiling = n
		}
	}
}

// WithMinExpansion sets the size below which synonyms are requested.
func WithMinExpansion(n int) Option {
	return func(e *Expander) {
		if n >= 0 {
			e.minExpansion = n
		}
	}
}

// WithSynonyms sets how many seeds are sent for synonyms and how many synonyms each may add.
func WithSynonyms(seeds, perSeed int) Option {
	return func(e *Expander) {
		if seeds > 0 {
			e.synonymSeeds = seeds
		}
		if perSeed > 0 {
			e.maxSynonyms = perSeed
		}
	}
}

// WithRerank enables the semantic rerank stage. It needs an embedder.
func WithRerank(enabled bool) Option {
	return func(e *Expander) {
		e.rerank = enabled
	}
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Expander) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewExpander returns an Expander with default hops, ceiling and synonym limits.
func NewExpander(params NewExpanderParams, opts ...Option) *Expander {
	e := &Expander{
		extractor:    params.Extractor,
		synonyms:     params.Synonyms,
		embedder:     params.Embedder,
		graph:        params.Graph,
		tracer:       otel.Tracer("github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"),
		hops:         DefaultHops,
		ceiling:      DefaultCeiling,
		minExpansion: DefaultMinExpansion,
		synonymSeeds: DefaultSynonymSeeds,
		maxSynonyms:  DefaultMaxSynonyms,
		parallel:     defaultEmbedParallel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// expansionSet keeps one expansion per case-folded name in insertion order.
type expansionSet struct {
	byKey map[string]int
	items []Expansion
	limit int
}

func newExpansionSet(limit int) *expansionSet {
	return &expansionSet{byKey: make(map[string]int), limit: limit}
}

// add inserts x or raises the score of an existing entry. It reports false
// when the set is full and x is new.
func (s *expansionSet) add(x Expansion) bool {
	x.Name = strings.TrimSpace(x.Name)
	if x.Name == "" {
		return true
	}
	key := strings.ToLower(x.Name)
	if i, ok := s.byKey[key]; ok {
		if x.Score > s.items[i].Score {
			x.Name = s.items[i].Name
			if x.EntityID == "" {
				x.EntityID = s.items[i].EntityID
			}
			s.items[i] = x
		} else if s.items[i].EntityID == "" {
			s.items[i].EntityID = x.EntityID
		}
		return true
	}
	if s.limit > 0 && len(s.items) >= s.limit {
		return false
	}
	s.byKey[key] = len(s.items)
	s.items = append(s.items, x)
	return true
}

func (s *expansionSet) full() bool {
	return s.limit > 0 && len(s.items) >= s.limit
}

// ranked returns the items by score desc, insertion order on ties.
func (s *expansionSet) ranked() []Expansion {
	out := append([]Expansion(nil), s.items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Expand returns up to targetCount entity names related to query, best
// first. targetCount <= 0 returns the whole set. An extraction failure is
// returned; graph, synonym and embedding failures only shrink the result.
func (e *Expander) Expand(ctx context.Context, query string, namespace string, targetCount int) ([]Expansion, error) {
	ctx, span := e.tracer.Start(ctx, "expand.Expand", trace.WithAttributes(
		attribute.String("retrieval.namespace", namespace),
		attribute.Int("expand.target_count", targetCount),
	))
	defer span.End()

	out, err := e.expand(ctx, query, namespace, targetCount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("expand.results", len(out)))
	return out, nil
}

func (e *Expander) expand(ctx context.Context, query string, namespace string, targetCount int) ([]Expansion, error) {
	if e.extractor == nil {
		return nil, nil
	}
	candidates, err := e.extractor.ExtractEntities(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		logger.Debug("[Expand] No entities extracted", "namespace", namespace)
		return []Expansion{}, nil
	}

	set := newExpansionSet(e.ceiling)
	for _, c := range candidates {
		set.add(Expansion{Name: c, Score: 1, Origin: OriginCandidate})
	}

	e.expandGraph(ctx, namespace, candidates, set)

	if len(set.items) < e.minExpansion {
		e.addSynonyms(ctx, set)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ranked []Expansion
	if e.rerank && e.embedder != nil {
		ranked = e.rerankByQuery(ctx, query, set.ranked())
	} else {
		ranked = set.ranked()
	}
	if targetCount > 0 && len(ranked) > targetCount {
		ranked = ranked[:targetCount]
	}
	logger.Debug("[Expand] Expanded query", "namespace", namespace,
		"candidates", len(candidates), "expanded", len(set.items), "returned", len(ranked))
	return ranked, nil
}

func (e *Expander) expandGraph(ctx context.Context, namespace string, candidates []string, set *expansionSet) {
	if e.graph == nil {
		return
	}
	seeds := make([]string, 0, len(candidates))
	for _, c := range candidates {
		matches, err := e.graph.FindEntities(ctx, namespace, c, matchesPerCandidate)
		if err != nil {
			logger.Warn("[Expand] Entity lookup failed", "candidate", c, "err", err)
			continue
		}
		for _, m := range matches {
			seeds = append(seeds, m.ID)
			set.add(Expansion{Name: m.CanonicalName, EntityID: m.ID, Score: 1, Origin: OriginGraph})
		}
	}
	seeds = store.DedupeStrings(seeds)
	if len(seeds) == 0 || set.full() {
		return
	}

	neighbors, err := e.graph.Traverse(ctx, namespace, seeds, e.hops, e.ceiling)
	if err != nil {
		logger.Warn("[Expand] Traversal failed", "seeds", len(seeds), "err", err)
		return
	}
	for _, n := range neighbors {
		if !set.add(Expansion{
			Name:     n.Entity.CanonicalName,
			EntityID: n.Entity.ID,
			Score:    1 / float64(n.Hops+1),
			Origin:   OriginGraph,
			Hops:     n.Hops,
		}) {
			break
		}
	}
}

func (e *Expander) addSynonyms(ctx context.Context, set *expansionSet) {
	if e.synonyms == nil {
		return
	}
	seeds := set.ranked()
	if len(seeds) > e.synonymSeeds {
		seeds = seeds[:e.synonymSeeds]
	}
	for _, seed := range seeds {
		names, err := e.synonyms.GenerateSynonyms(ctx, seed.Name, e.maxSynonyms)
		if err != nil {
			logger.Warn("[Expand] Synonym generation failed", "entity", seed.Name, "err", err)
			continue
		}
		if len(names) > e.maxSynonyms {
			names = names[:e.maxSynonyms]
		}
		for _, name := range names {
			if !set.add(Expansion{Name: name, Score: seed.Score * synonymScoreFactor, Origin: OriginSynonym, Hops: seed.Hops}) {
				return
			}
		}
	}
}

// rerankByQuery scores every expansion by cosine similarity to the query.
// Expansions whose embedding failed score 0 and keep their relative order
// after all embedded ones. A failed query embedding leaves the order unchanged.
func (e *Expander) rerankByQuery(ctx context.Context, query string, items []Expansion) []Expansion {
	queryVec, err := e.embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil || len(queryVec) == 0 {
		logger.Warn("[Expand] Query embedding failed, skipping rerank", "err", err)
		return items
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Name
	}
	vectors := store.EmbedTexts(ctx, e.embedder, texts, e.parallel)

	type scored struct {
		x        Expansion
		embedded bool
		sim      float64
	}
	list := make([]scored, len(items))
	for i, it := range items {
		list[i] = scored{x: it}
		if len(vectors[i]) > 0 {
			list[i].embedded = true
			list[i].sim = ai.CosineSimilarity(queryVec, vectors[i])
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].embedded != list[j].embedded {
			return list[i].embedded
		}
		if !list[i].embedded {
			return false
		}
		return list[i].sim > list[j].sim
	})

	out := make([]Expansion, len(list))
	for i, s := range list {
		s.x.Score = s.sim
		out[i] = s.x
	}
	return out
}

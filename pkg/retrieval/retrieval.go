// Package retrieval fuses vector, lexical and graph-anchored retrieval into
// a single ranked list of chunks.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
	SourceGraph   = "graph"

	DefaultTopK          = 10
	DefaultSourceTimeout = 5 * time.Second
	entityMatchesPerTerm = 5
)

// Sources lists the retrieval sources in fusion order.
var Sources = []string{SourceVector, SourceLexical, SourceGraph}

// ScoredChunk is one fused result. SourceScores holds the normalized score
// each contributing source gave the chunk.
type ScoredChunk struct {
	Chunk        common.Chunk       `json:"chunk"`
	Score        float64            `json:"score"`
	Sources      []string           `json:"sources"`
	SourceScores map[string]float64 `json:"source_scores"`
}

// SearchResult is the outcome of a fused search. Warnings describe sources
// that failed and chunks that could not be hydrated.
type SearchResult struct {
	Chunks        []ScoredChunk `json:"chunks"`
	Warnings      []string      `json:"warnings,omitempty"`
	FailedSources []string      `json:"failed_sources,omitempty"`
	EntityIDs     []string      `json:"entity_ids,omitempty"`
}

// Retriever runs the three sources concurrently and fuses their hits.
type Retriever struct {
	embedder ai.Embedder
	vectors  store.VectorStore
	lexical  store.LexicalIndex
	graph    store.GraphStore
	weights  Weights
	timeout  time.Duration
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// NewRetrieverParams configures a Retriever. A nil store counts as an
// unavailable source on every search.
type NewRetrieverParams struct {
	Embedder      ai.Embedder
	Vectors       store.VectorStore
	Lexical       store.LexicalIndex
	Graph         store.GraphStore
	Weights       Weights
	SourceTimeout time.Duration
	Metrics       *metrics.Collector
	Tracer        trace.Tracer
}

// NewRetriever returns a Retriever with normalized weights and a default source timeout.
func NewRetriever(params NewRetrieverParams) *Retriever {
	timeout := params.SourceTimeout
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	tracer := params.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval")
	}
	return &Retriever{
		embedder: params.Embedder,
		vectors:  params.Vectors,
		lexical:  params.Lexical,
		graph:    params.Graph,
		weights:  params.Weights.Normalized(),
		timeout:  timeout,
		metrics:  params.Metrics,
		tracer:   tracer,
	}
}

// Weights returns the normalized fusion weights in use.
func (r *Retriever) Weights() Weights {
	return r.weights
}

type searchOptions struct {
	entities []string
	weights  *Weights
}

type SearchOption func(*searchOptions)

// WithEntities adds expanded entity names to the graph-anchored lookup.
func WithEntities(names ...string) SearchOption {
	return func(o *searchOptions) {
		o.entities = append(o.entities, names...)
	}
}

// WithWeights overrides the fusion weights for one search.
func WithWeights(w Weights) SearchOption {
	return func(o *searchOptions) {
		n := w.Normalized()
		o.weights = &n
	}
}

type sourceOutcome struct {
	hits     []store.Hit
	counts   map[string]int
	entities []string
	err      error
}

// Search returns up to topK chunks for query. A failing or slow source is
// reported in the result warnings and contributes nothing; the search fails
// with ErrAllSourcesFailed only when every source failed.
func (r *Retriever) Search(ctx context.Context, query string, namespace string, topK int, opts ...SearchOption) (*SearchResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	o := searchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	weights := r.weights
	if o.weights != nil {
		weights = *o.weights
	}

	ctx, span := r.tracer.Start(ctx, "retrieval.Search", trace.WithAttributes(
		attribute.String("retrieval.namespace", namespace),
		attribute.Int("retrieval.top_k", topK),
		attribute.Int("retrieval.entities", len(o.entities)),
	))
	defer span.End()

	runners := map[string]sourceFunc{
		SourceVector: func(ctx context.Context) (sourceOutcome, error) {
			hits, err := r.searchVector(ctx, query, namespace, topK)
			return sourceOutcome{hits: hits}, err
		},
		SourceLexical: func(ctx context.Context) (sourceOutcome, error) {
			hits, err := r.searchLexical(ctx, query, namespace, topK)
			return sourceOutcome{hits: hits}, err
		},
		SourceGraph: func(ctx context.Context) (sourceOutcome, error) {
			counts, ids, err := r.searchGraph(ctx, query, o.entities, namespace)
			return sourceOutcome{counts: counts, entities: ids}, err
		},
	}

	results := make([]sourceOutcome, len(Sources))
	var g errgroup.Group
	for i, source := range Sources {
		g.Go(func() error {
			results[i] = r.runSource(ctx, source, runners[source])
			return nil
		})
	}
	_ = g.Wait()
	outcomes := make(map[string]sourceOutcome, len(Sources))
	for i, source := range Sources {
		outcomes[source] = results[i]
	}

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &SearchResult{}
	var failures []error
	for _, source := range Sources {
		if err := outcomes[source].err; err != nil {
			serr := &common.SourceError{Source: source, Err: err}
			failures = append(failures, serr)
			result.FailedSources = append(result.FailedSources, source)
			result.Warnings = append(result.Warnings, serr.Error())
			logger.Warn("[Fusion] Source unavailable", "source", source, "namespace", namespace, "err", err)
		}
	}
	if len(failures) == len(Sources) {
		err := fmt.Errorf("%w: %w", common.ErrAllSourcesFailed, errors.Join(failures...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	perSource := map[string]map[string]float64{
		SourceVector:  normalize(outcomes[SourceVector].hits),
		SourceLexical: normalize(outcomes[SourceLexical].hits),
	}
	perSource[SourceGraph] = normalize(rankGraphHits(outcomes[SourceGraph].counts, perSource, topK))
	result.EntityIDs = outcomes[SourceGraph].entities

	result.Chunks = fuse(perSource, weights, topK)
	r.hydrate(ctx, namespace, result)

	r.metrics.ObserveFused(len(result.Chunks))
	span.SetAttributes(
		attribute.Int("retrieval.results", len(result.Chunks)),
		attribute.StringSlice("retrieval.failed_sources", result.FailedSources),
	)
	logger.Debug("[Fusion] Search finished", "namespace", namespace,
		"results", len(result.Chunks), "failed_sources", len(result.FailedSources))
	return result, nil
}

type sourceFunc func(ctx context.Context) (sourceOutcome, error)

// runSource runs one source under its own timeout and records its latency.
// A source that ignores cancellation is abandoned when the timeout fires.
func (r *Retriever) runSource(ctx context.Context, source string, fn sourceFunc) sourceOutcome {
	ctx, span := r.tracer.Start(ctx, "retrieval.source."+source)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan sourceOutcome, 1)
	go func() {
		out, err := fn(ctx)
		out.err = err
		done <- out
	}()

	var out sourceOutcome
	select {
	case out = <-done:
		if out.err == nil && ctx.Err() != nil {
			out = sourceOutcome{err: ctx.Err()}
		}
	case <-ctx.Done():
		out = sourceOutcome{err: ctx.Err()}
	}
	if errors.Is(out.err, context.DeadlineExceeded) {
		out.err = fmt.Errorf("timed out after %s: %w", r.timeout, out.err)
	}

	r.metrics.ObserveSource(source, time.Since(start), out.err)
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
	}
	return out
}

func (r *Retriever) searchVector(ctx context.Context, query, namespace string, topK int) ([]store.Hit, error) {
	if r.vectors == nil || r.embedder == nil {
		return nil, errors.New("vector search not configured")
	}
	emb, err := r.embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		return nil, &common.EmbeddingError{Item: "query", Err: err}
	}
	return r.vectors.Search(ctx, emb, namespace, topK)
}

func (r *Retriever) searchLexical(ctx context.Context, query, namespace string, topK int) ([]store.Hit, error) {
	if r.lexical == nil {
		return nil, errors.New("lexical index not configured")
	}
	return r.lexical.Search(ctx, query, namespace, topK)
}

// searchGraph resolves the query and the expanded names to entities and
// counts, per chunk, the distinct entities whose mention links reach it.
func (r *Retriever) searchGraph(ctx context.Context, query string, names []string, namespace string) (map[string]int, []string, error) {
	if r.graph == nil {
		return nil, nil, errors.New("graph store not configured")
	}
	terms := store.DedupeStrings(append([]string{query}, names...))

	var mu sync.Mutex
	ids := make([]string, 0)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, term := range terms {
		g.Go(func() error {
			found, err := r.graph.FindEntities(gctx, namespace, term, entityMatchesPerTerm)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, e := range found {
				ids = append(ids, e.ID)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return map[string]int{}, nil, nil
	}

	links, err := r.graph.MentionLinks(ctx, namespace, ids)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[common.MentionLink]struct{}, len(links))
	counts := make(map[string]int)
	for _, l := range links {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		counts[l.SourceChunkID]++
	}
	return counts, ids, nil
}

// hydrate fills chunk bodies from the graph store. Failures leave the ids in
// place and add a warning.
func (r *Retriever) hydrate(ctx context.Context, namespace string, result *SearchResult) {
	if len(result.Chunks) == 0 {
		return
	}
	if r.graph == nil {
		result.Warnings = append(result.Warnings, "chunk hydration skipped: graph store not configured")
		return
	}
	ids := make([]string, len(result.Chunks))
	for i, c := range result.Chunks {
		ids[i] = c.Chunk.ID
	}
	chunks, err := r.graph.GetChunks(ctx, namespace, ids)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("chunk hydration failed: %v", err))
		logger.Warn("[Fusion] Chunk hydration failed", "namespace", namespace, "err", err)
		return
	}
	byID := make(map[string]common.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for i := range result.Chunks {
		if c, ok := byID[result.Chunks[i].Chunk.ID]; ok {
			result.Chunks[i].Chunk = c
		}
	}
}

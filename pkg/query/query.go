// Package query classifies a question and drives expansion and fused
// retrieval over one or several rounds, collecting the evidence in a
// GraphContext.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	DefaultTopK            = retrieval.DefaultTopK
	DefaultExpansionTarget = 20
	DefaultNeighborLimit   = 20
	DefaultInjectTokens    = 64
	DefaultInjectNames     = 5
	DefaultParallel        = 4
)

// Searcher runs a fused retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, namespace string, topK int, opts ...retrieval.SearchOption) (*retrieval.SearchResult, error)
}

// EntityExpander widens a query into entity names.
type EntityExpander interface {
	Expand(ctx context.Context, query string, namespace string, targetCount int) ([]expand.Expansion, error)
}

// Orchestrator answers Run calls with a GraphRAGResult.
type Orchestrator struct {
	classifier ai.QueryClassifier
	decomposer ai.QueryDecomposer
	searcher   Searcher
	expander   EntityExpander
	graph      store.GraphStore
	metrics    *metrics.Collector
	tracer     trace.Tracer
	sink       Tracer

	topK            int
	expansionTarget int
	neighborLimit   int
	injectTokens    int
	injectNames     int
	parallel        int
	countTokens     func(string) int
}

type NewOrchestratorParams struct {
	Classifier ai.QueryClassifier
	Decomposer ai.QueryDecomposer
	Searcher   Searcher
	Expander   EntityExpander
	Graph      store.GraphStore
	Metrics    *metrics.Collector
}

type Option func(*Orchestrator)

// WithTopK sets the number of chunks requested per retrieval.
func WithTopK(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.topK = n
		}
	}
}

// WithExpansionTarget sets how many expanded names are passed to retrieval.
func WithExpansionTarget(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.expansionTarget = n
		}
	}
}

// WithNeighborLimit caps the entities added by the post-retrieval 1-hop
// expansion of one step.
func WithNeighborLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.neighborLimit = n
		}
	}
}

// WithInjection bounds the accumulated entity names appended to a MULTI_HOP
// step's search string by token count and by number of names.
func WithInjection(tokens, names int) Option {
	return func(o *Orchestrator) {
		if tokens > 0 {
			o.injectTokens = tokens
		}
		if names > 0 {
			o.injectNames = names
		}
	}
}

// WithParallel limits how many COMPOUND sub-queries run at once.
func WithParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.parallel = n
		}
	}
}

// WithQueryTracer forwards trace events to t in addition to the run's own
// QueryTrace.
func WithQueryTracer(t Tracer) Option {
	return func(o *Orchestrator) {
		o.sink = t
	}
}

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// NewOrchestrator returns an Orchestrator with default limits.
func NewOrchestrator(params NewOrchestratorParams, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier:      params.Classifier,
		decomposer:      params.Decomposer,
		searcher:        params.Searcher,
		expander:        params.Expander,
		graph:           params.Graph,
		metrics:         params.Metrics,
		tracer:          otel.Tracer("github.com/OFFIS-RIT/kiwi/retrieval/pkg/query"),
		topK:            DefaultTopK,
		expansionTarget: DefaultExpansionTarget,
		neighborLimit:   DefaultNeighborLimit,
		injectTokens:    DefaultInjectTokens,
		injectNames:     DefaultInjectNames,
		parallel:        DefaultParallel,
		countTokens:     util.CountTokens,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type plan struct {
	queryType      common.QueryType
	strategy       common.QueryType
	subQueries     []string
	fallbackReason string
}

// Run classifies query, executes the matching strategy and returns the
// accumulated context. Collaborator failures during planning degrade to the
// SIMPLE strategy on the raw query. Run fails when every retrieval it
// attempted failed or ctx is done.
func (o *Orchestrator) Run(ctx context.Context, query string, namespace string) (*common.GraphRAGResult, error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "query.Run", trace.WithAttributes(
		attribute.String("retrieval.namespace", namespace),
	))
	defer span.End()

	queryID, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate query id: %w", err)
	}
	qt := NewQueryTrace()
	var sink Tracer = qt
	if o.sink != nil {
		sink = MultiTracer{qt, o.sink}
	}

	p := o.plan(ctx, query)
	span.SetAttributes(
		attribute.String("query.type", string(p.queryType)),
		attribute.String("query.strategy", string(p.strategy)),
		attribute.Int("query.sub_queries", len(p.subQueries)),
	)
	logger.Debug("[Query] Planned query", "query_id", queryID, "namespace", namespace,
		"type", p.queryType, "strategy", p.strategy, "sub_queries", len(p.subQueries))

	var (
		gc       *common.GraphContext
		steps    []stepResult
		runError error
	)
	switch p.strategy {
	case common.QueryCompound:
		gc, steps, runError = o.runCompound(ctx, namespace, p.subQueries, sink)
	case common.QueryMultiHop:
		gc, steps, runError = o.runMultiHop(ctx, namespace, p.subQueries, sink)
	default:
		step := o.runStep(ctx, namespace, query, query, 0, nil, sink)
		gc, steps, runError = step.gc, []stepResult{step}, step.err
	}
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if runError != nil {
		span.RecordError(runError)
		span.SetStatus(codes.Error, runError.Error())
		logger.Error("[Query] Query failed", "query_id", queryID, "namespace", namespace, "err", runError)
		return nil, runError
	}

	used := make([]string, 0)
	for _, c := range gc.Chunks() {
		used = append(used, c.Chunk.ID)
	}
	RecordUsedChunkIDs(sink, used...)
	snap := qt.Snapshot()

	meta := common.ResultMetadata{
		QueryID:            queryID,
		Namespace:          namespace,
		FallbackReason:     p.fallbackReason,
		DurationMs:         time.Since(start).Milliseconds(),
		ConsideredChunkIDs: snap.ConsideredChunkIDs,
		UsedChunkIDs:       snap.UsedChunkIDs,
		QueriedEntityIDs:   snap.QueriedEntityIDs,
		FailedSources:      snap.FailedSources,
	}
	for _, s := range steps {
		meta.Steps = append(meta.Steps, s.run)
		warnings := s.warnings
		if s.err != nil {
			warnings = append(warnings, "sub-query failed: "+s.err.Error())
		}
		for _, w := range warnings {
			if len(steps) > 1 {
				w = s.run.SubQuery + ": " + w
			}
			meta.Warnings = append(meta.Warnings, w)
		}
	}

	o.metrics.QueryRun(string(p.strategy))
	logger.Info("[Query] Query finished", "query_id", queryID, "namespace", namespace,
		"strategy", p.strategy, "chunks", len(used), "entities", len(gc.Entities()),
		"duration_ms", meta.DurationMs)

	return &common.GraphRAGResult{
		Query:             query,
		GraphContext:      gc,
		QueryType:         p.queryType,
		SubQueries:        p.subQueries,
		ExecutionStrategy: p.strategy,
		Metadata:          meta,
	}, nil
}

// plan classifies and decomposes the query. Any collaborator failure yields
// a SIMPLE plan over the raw query with the reason recorded.
func (o *Orchestrator) plan(ctx context.Context, query string) plan {
	simple := plan{queryType: common.QuerySimple, strategy: common.QuerySimple, subQueries: []string{query}}
	if o.classifier == nil {
		return simple
	}

	queryType, err := o.classifier.Classify(ctx, query)
	if err != nil {
		return o.fallback(simple, "classify", err)
	}
	simple.queryType = queryType
	if queryType == common.QuerySimple {
		return simple
	}
	if o.decomposer == nil {
		return o.fallback(simple, "decompose", errors.New("no decomposer configured"))
	}

	subs, err := o.decomposer.Decompose(ctx, query, queryType)
	if err != nil {
		return o.fallback(simple, "decompose", err)
	}
	subQueries := make([]string, 0, len(subs))
	for _, s := range subs {
		if s = strings.TrimSpace(s); s != "" {
			subQueries = append(subQueries, s)
		}
	}
	subQueries = store.DedupeStrings(subQueries)
	if len(subQueries) == 0 {
		return o.fallback(simple, "decompose", errors.New("no sub-queries returned"))
	}
	return plan{queryType: queryType, strategy: queryType, subQueries: subQueries}
}

func (o *Orchestrator) fallback(p plan, op string, err error) plan {
	var xerr *common.ExtractionError
	if !errors.As(err, &xerr) {
		xerr = &common.ExtractionError{Op: op, Err: err}
	}
	p.fallbackReason = xerr.Error()
	o.metrics.LLMFallback(op)
	logger.Warn("[Query] Falling back to simple retrieval", "op", op, "err", err)
	return p
}

package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

type stepResult struct {
	gc       *common.GraphContext
	run      common.StepRun
	warnings []string
	err      error
}

// runCompound runs every sub-query as an independent SIMPLE step and merges
// the partial contexts once all of them returned.
func (o *Orchestrator) runCompound(ctx context.Context, namespace string, subQueries []string, sink Tracer) (*common.GraphContext, []stepResult, error) {
	results := make([]stepResult, len(subQueries))
	var g errgroup.Group
	g.SetLimit(o.parallel)
	for i, sub := range subQueries {
		g.Go(func() error {
			results[i] = o.runStep(ctx, namespace, sub, sub, 0, nil, sink)
			return nil
		})
	}
	_ = g.Wait()

	merged := common.NewGraphContext()
	var errs []error
	for i, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("sub-query %d: %w", i+1, r.err))
			continue
		}
		merged.Merge(r.gc)
	}
	if len(errs) == len(subQueries) {
		return nil, results, errors.Join(errs...)
	}
	return merged, results, nil
}

// runMultiHop runs the sub-queries in order. Each step searches with its
// own text plus a sample of the entities resolved by the earlier steps.
func (o *Orchestrator) runMultiHop(ctx context.Context, namespace string, subQueries []string, sink Tracer) (*common.GraphContext, []stepResult, error) {
	acc := common.NewGraphContext()
	results := make([]stepResult, 0, len(subQueries))
	var errs []error
	for i, sub := range subQueries {
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}
		known := make(map[string]struct{})
		for _, id := range acc.EntityIDs() {
			known[id] = struct{}{}
		}

		r := o.runStep(ctx, namespace, sub, o.searchString(sub, acc), i, known, sink)
		results = append(results, r)
		if r.err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i+1, r.err))
			logger.Warn("[Query] Multi-hop step failed", "step", i+1, "namespace", namespace, "err", r.err)
			continue
		}
		acc.Merge(r.gc)
	}
	if len(errs) == len(subQueries) {
		return nil, results, errors.Join(errs...)
	}
	return acc, results, nil
}

// searchString appends accumulated entity names, most recent round first,
// to sub. The sample is bounded by name count and token count and skips
// names whose words already appear in sub.
func (o *Orchestrator) searchString(sub string, acc *common.GraphContext) string {
	words := splitWords(sub)
	budget := o.injectTokens
	sample := make([]string, 0, o.injectNames)
	for _, name := range acc.EntityNamesByRecency() {
		if len(sample) >= o.injectNames {
			break
		}
		if containsWords(words, splitWords(name)) {
			continue
		}
		cost := o.countTokens(name)
		if cost > budget {
			break
		}
		budget -= cost
		sample = append(sample, name)
	}
	if len(sample) == 0 {
		return sub
	}
	return sub + " " + strings.Join(sample, ", ")
}

func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsWords reports whether name occurs in words as a contiguous run.
// An empty name counts as contained.
func containsWords(words, name []string) bool {
	if len(name) == 0 {
		return true
	}
	for i := 0; i+len(name) <= len(words); i++ {
		if slices.Equal(words[i:i+len(name)], name) {
			return true
		}
	}
	return false
}

// runStep expands searchString, runs one fused search and enriches the
// result with the graph neighbourhood of the retrieved chunks. known holds
// the entities accumulated before this step; nil means there are none to
// prefer.
func (o *Orchestrator) runStep(ctx context.Context, namespace, subQuery, searchString string, step int, known map[string]struct{}, sink Tracer) stepResult {
	res := stepResult{
		gc:  common.NewGraphContext(),
		run: common.StepRun{SubQuery: subQuery, SearchString: searchString},
	}
	ctx, span := o.tracer.Start(ctx, "query.Step", trace.WithAttributes(
		attribute.Int("query.step", step),
	))
	defer span.End()

	var names []string
	if o.expander != nil {
		expansions, err := o.expander.Expand(ctx, searchString, namespace, o.expansionTarget)
		if err != nil {
			res.warnings = append(res.warnings, fmt.Sprintf("entity expansion failed: %v", err))
			logger.Warn("[Query] Entity expansion failed", "namespace", namespace, "err", err)
		}
		for _, x := range expansions {
			names = append(names, x.Name)
		}
	}

	if o.searcher == nil {
		res.err = errors.New("no retriever configured")
		res.run.Error = res.err.Error()
		return res
	}
	found, err := o.searcher.Search(ctx, searchString, namespace, o.topK, retrieval.WithEntities(names...))
	if err != nil {
		res.err = err
		res.run.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}
	res.warnings = append(res.warnings, found.Warnings...)
	RecordFailedSources(sink, found.FailedSources...)
	RecordQueriedEntityIDs(sink, found.EntityIDs...)

	chunkIDs := make([]string, 0, len(found.Chunks))
	for _, c := range found.Chunks {
		res.gc.AddChunk(common.ContextChunk{Chunk: c.Chunk, Score: c.Score, Sources: c.Sources})
		chunkIDs = append(chunkIDs, c.Chunk.ID)
	}
	RecordConsideredChunkIDs(sink, chunkIDs...)
	res.run.Chunks = len(chunkIDs)

	if err := o.enrich(ctx, namespace, res.gc, chunkIDs, step, known, sink); err != nil {
		res.warnings = append(res.warnings, fmt.Sprintf("graph expansion failed: %v", err))
		logger.Warn("[Query] Graph expansion failed", "namespace", namespace, "err", err)
	}
	for _, e := range res.gc.Entities() {
		if _, ok := known[e.ID]; !ok {
			res.run.NewEntities = append(res.run.NewEntities, e.CanonicalName)
		}
	}
	span.SetAttributes(attribute.Int("query.chunks", res.run.Chunks))
	return res
}

// enrich adds the entities mentioned by the retrieved chunks and the 1-hop
// neighbours of the ones not already known.
func (o *Orchestrator) enrich(ctx context.Context, namespace string, gc *common.GraphContext, chunkIDs []string, step int, known map[string]struct{}, sink Tracer) error {
	if o.graph == nil || len(chunkIDs) == 0 {
		return nil
	}
	links, err := o.graph.ChunkMentions(ctx, namespace, chunkIDs)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.EntityID)
	}
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	RecordQueriedEntityIDs(sink, ids...)

	entities, err := o.graph.GetEntities(ctx, namespace, ids)
	if err != nil {
		return err
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	for _, e := range entities {
		gc.AddEntity(e, step)
	}

	seeds := make([]string, 0, len(entities))
	for _, e := range entities {
		if _, ok := known[e.ID]; !ok {
			seeds = append(seeds, e.ID)
		}
	}
	if len(seeds) == 0 {
		return nil
	}
	neighbors, err := o.graph.Traverse(ctx, namespace, seeds, 1, 0)
	if err != nil {
		return err
	}
	preferConnected(neighbors, known)
	if len(neighbors) > o.neighborLimit {
		neighbors = neighbors[:o.neighborLimit]
	}
	for _, n := range neighbors {
		gc.AddEntity(n.Entity, step)
		gc.AddRelationship(n.Via)
		gc.AddPath(n.Path)
	}
	return nil
}

// preferConnected moves neighbours that lead back into the known entities
// to the front and keeps the traversal order otherwise.
func preferConnected(neighbors []store.Neighbor, known map[string]struct{}) {
	if len(known) == 0 {
		return
	}
	connected := func(n store.Neighbor) bool {
		_, ok := known[n.Entity.ID]
		return ok
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return connected(neighbors[i]) && !connected(neighbors[j])
	})
}

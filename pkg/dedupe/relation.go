package dedupe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/cache"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	DefaultRelationThreshold = 0.88

	clusterTimeout = 2 * time.Minute
)

// RelationTypeDeduper canonicalizes relation type labels. Manual overrides
// take precedence and skip clustering; the rest are clustered by embedding
// and the result is cached by the full set of distinct labels.
type RelationTypeDeduper struct {
	embedder  ai.Embedder
	overrides store.OverrideStore
	cache     cache.ClusterCache
	metrics   *metrics.Collector
	threshold float64
	parallel  int

	// collapses concurrent clusterings of the same label set
	flight singleflight.Group
}

type NewRelationTypeDeduperParams struct {
	Embedder  ai.Embedder
	Overrides store.OverrideStore
	Cache     cache.ClusterCache
	Metrics   *metrics.Collector
	Threshold float64
	Parallel  int
}

// NewRelationTypeDeduper applies the default threshold and parallelism to zero params.
func NewRelationTypeDeduper(params NewRelationTypeDeduperParams) *RelationTypeDeduper {
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = DefaultRelationThreshold
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	return &RelationTypeDeduper{
		embedder:  params.Embedder,
		overrides: params.Overrides,
		cache:     params.Cache,
		metrics:   params.Metrics,
		threshold: threshold,
		parallel:  parallel,
	}
}

// labelText turns "WORKS_FOR" into "works for" for embedding.
func labelText(label string) string {
	return strings.ToLower(strings.ReplaceAll(label, "_", " "))
}

// Canonicalize maps every distinct label to its canonical label. It never
// fails because of the embedder, the cache or the override store: those
// failures are logged and the affected labels map to themselves.
func (d *RelationTypeDeduper) Canonicalize(ctx context.Context, labels []string) (map[string]string, error) {
	distinct := store.DedupeStrings(labels)
	sort.Strings(distinct)
	out := make(map[string]string, len(distinct))
	if len(distinct) == 0 {
		return out, nil
	}

	overrides := map[string]string{}
	if d.overrides != nil {
		o, err := d.overrides.GetOverrides(ctx)
		if err != nil {
			logger.Warn("[Dedupe] Failed to load relation overrides", "err", err)
		} else {
			overrides = o
		}
	}

	remaining := make([]string, 0, len(distinct))
	for _, l := range distinct {
		if _, ok := overrides[l]; ok {
			out[l] = common.ResolveRedirect(overrides, l)
			continue
		}
		remaining = append(remaining, l)
	}

	for l, canonical := range d.cluster(ctx, cache.LabelSetKey(distinct), remaining) {
		out[l] = canonical
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// cluster returns the clustering of labels cached or computed under key.
// Concurrent callers with the same key share one computation. It ignores
// the cancellation of the caller that started it; each caller stops waiting
// when its own ctx is done.
func (d *RelationTypeDeduper) cluster(ctx context.Context, key string, labels []string) map[string]string {
	identity := make(map[string]string, len(labels))
	for _, l := range labels {
		identity[l] = l
	}
	if len(labels) < 2 || d.embedder == nil {
		return identity
	}

	if d.cache != nil {
		mapping, ok, err := d.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("[Dedupe] Cluster cache read failed", "err", err)
		}
		d.metrics.CacheLookup(ok)
		if ok {
			for l := range identity {
				if c, found := mapping[l]; found {
					identity[l] = c
				}
			}
			return identity
		}
	}

	ch := d.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clusterTimeout)
		defer cancel()
		return d.compute(fctx, key, labels), nil
	})
	select {
	case res := <-ch:
		for l, c := range res.Val.(map[string]string) {
			identity[l] = c
		}
	case <-ctx.Done():
	}
	return identity
}

// compute embeds and clusters labels and caches the mapping under key.
func (d *RelationTypeDeduper) compute(ctx context.Context, key string, labels []string) map[string]string {
	texts := make([]string, len(labels))
	for i, l := range labels {
		texts[i] = labelText(l)
	}
	vectors := store.EmbedTexts(ctx, d.embedder, texts, d.parallel)

	complete := true
	items := make([]Item, len(labels))
	for i, l := range labels {
		if len(vectors[i]) == 0 {
			complete = false
		}
		items[i] = Item{Key: l, Embedding: vectors[i]}
	}
	mapping := Cluster(items, d.threshold)

	merged := 0
	for l, c := range mapping {
		if l != c {
			merged++
		}
	}
	d.metrics.DedupeMerges("relation_type", merged)

	// only complete clusterings are cached
	if d.cache != nil && complete && ctx.Err() == nil {
		if err := d.cache.Set(ctx, key, mapping); err != nil {
			logger.Warn("[Dedupe] Cluster cache write failed", "err", err)
		}
	}
	return mapping
}

// Overrides returns the manual override table.
func (d *RelationTypeDeduper) Overrides(ctx context.Context) (map[string]string, error) {
	if d.overrides == nil {
		return map[string]string{}, nil
	}
	return d.overrides.GetOverrides(ctx)
}

// SetOverride pins label to canonical and drops cached clusterings.
func (d *RelationTypeDeduper) SetOverride(ctx context.Context, label, canonical string) error {
	if d.overrides == nil {
		return fmt.Errorf("no override store configured")
	}
	if err := d.overrides.SetOverride(ctx, label, canonical); err != nil {
		return err
	}
	logger.Info("[Dedupe] Relation override set", "label", label, "canonical", canonical)
	return d.invalidate(ctx)
}

// DeleteOverride removes the override for label and drops cached clusterings.
func (d *RelationTypeDeduper) DeleteOverride(ctx context.Context, label string) error {
	if d.overrides == nil {
		return fmt.Errorf("no override store configured")
	}
	if err := d.overrides.DeleteOverride(ctx, label); err != nil {
		return err
	}
	logger.Info("[Dedupe] Relation override deleted", "label", label)
	return d.invalidate(ctx)
}

func (d *RelationTypeDeduper) invalidate(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	if err := d.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("failed to invalidate cluster cache: %w", err)
	}
	return nil
}

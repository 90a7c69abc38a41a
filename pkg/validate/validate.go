// Package validate compares record counts and provenance completeness across
// the vector store, the lexical index and the graph store of a namespace.
//
// A Validator only reads. Drift is reported, never repaired.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	DefaultLexicalTolerance = 1
	DefaultGraphTolerance   = 5
)

// Report is the outcome of one validation run.
type Report struct {
	Namespace string    `json:"namespace"`
	CheckedAt time.Time `json:"checked_at"`

	VectorChunks      int `json:"vector_chunks"`
	LexicalDocuments  int `json:"lexical_documents"`
	GraphChunks       int `json:"graph_chunks"`
	MissingProvenance int `json:"missing_provenance"`
	OrphanChunks      int `json:"orphan_chunks"`

	LexicalTolerance int  `json:"lexical_tolerance"`
	GraphTolerance   int  `json:"graph_tolerance"`
	VectorLexicalOK  bool `json:"vector_lexical_consistent"`
	VectorGraphOK    bool `json:"vector_graph_consistent"`
	Consistent       bool `json:"consistent"`

	Errors []string `json:"errors,omitempty"`
}

// Err returns nil for a consistent report and an ErrConsistencyWarning
// describing the failed checks otherwise.
func (r *Report) Err() error {
	if r.Consistent {
		return nil
	}
	reasons := make([]string, 0, 4)
	if !r.VectorLexicalOK {
		reasons = append(reasons, fmt.Sprintf("vector/lexical differ by %d (tolerance %d)",
			abs(r.VectorChunks-r.LexicalDocuments), r.LexicalTolerance))
	}
	if !r.VectorGraphOK {
		reasons = append(reasons, fmt.Sprintf("vector/graph differ by %d (tolerance %d)",
			abs(r.VectorChunks-r.GraphChunks), r.GraphTolerance))
	}
	if r.MissingProvenance > 0 {
		reasons = append(reasons, fmt.Sprintf("%d mention links without provenance", r.MissingProvenance))
	}
	reasons = append(reasons, r.Errors...)
	return fmt.Errorf("%w: namespace %s: %s", common.ErrConsistencyWarning, r.Namespace, strings.Join(reasons, "; "))
}

// Publisher hands finished reports to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, r *Report) error
}

type Validator struct {
	vectors   store.VectorStore
	lexical   store.LexicalIndex
	graph     store.GraphStore
	metrics   *metrics.Collector
	publisher Publisher

	lexicalTolerance int
	graphTolerance   int
	now              func() time.Time
}

type NewValidatorParams struct {
	Vectors   store.VectorStore
	Lexical   store.LexicalIndex
	Graph     store.GraphStore
	Metrics   *metrics.Collector
	Publisher Publisher
}

type Option func(*Validator)

// WithTolerances sets the allowed vector/lexical and vector/graph count
// differences. Negative values keep the defaults.
func WithTolerances(lexical, graph int) Option {
	return func(v *Validator) {
		if lexical >= 0 {
			v.lexicalTolerance = lexical
		}
		if graph >= 0 {
			v.graphTolerance = graph
		}
	}
}

// NewValidator returns a Validator with the default tolerances.
func NewValidator(params NewValidatorParams, opts ...Option) *Validator {
	v := &Validator{
		vectors:          params.Vectors,
		lexical:          params.Lexical,
		graph:            params.Graph,
		metrics:          params.Metrics,
		publisher:        params.Publisher,
		lexicalTolerance: DefaultLexicalTolerance,
		graphTolerance:   DefaultGraphTolerance,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type count struct {
	name string
	dst  *int
	fn   func(ctx context.Context, namespace string) (int, error)
}

// Validate counts the records of namespace in every store and checks them
// against the tolerances. A count that cannot be read is listed in
// Report.Errors and makes the report inconsistent. The returned error is
// non-nil only when ctx is done.
func (v *Validator) Validate(ctx context.Context, namespace string) (*Report, error) {
	r := &Report{
		Namespace:        namespace,
		CheckedAt:        v.now().UTC(),
		LexicalTolerance: v.lexicalTolerance,
		GraphTolerance:   v.graphTolerance,
	}

	counts := []count{
		{name: "vector chunks", dst: &r.VectorChunks, fn: countOf(v.vectors)},
		{name: "lexical documents", dst: &r.LexicalDocuments, fn: countOf(v.lexical)},
		{name: "graph chunks", dst: &r.GraphChunks, fn: graphCount(v.graph, store.GraphStore.CountChunks)},
		{name: "missing provenance", dst: &r.MissingProvenance, fn: graphCount(v.graph, store.GraphStore.CountMentionsMissingProvenance)},
		{name: "orphan chunks", dst: &r.OrphanChunks, fn: graphCount(v.graph, store.GraphStore.CountOrphanChunks)},
	}
	errs := make([]error, len(counts))
	var g errgroup.Group
	for i, c := range counts {
		g.Go(func() error {
			n, err := c.fn(ctx, namespace)
			if err != nil {
				errs[i] = err
				return nil
			}
			*c.dst = n
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, err := range errs {
		if err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", counts[i].name, err))
			logger.Warn("[Validate] Count failed", "namespace", namespace, "count", counts[i].name, "err", err)
		}
	}
	r.VectorLexicalOK = errs[0] == nil && errs[1] == nil &&
		abs(r.VectorChunks-r.LexicalDocuments) <= r.LexicalTolerance
	r.VectorGraphOK = errs[0] == nil && errs[2] == nil &&
		abs(r.VectorChunks-r.GraphChunks) <= r.GraphTolerance
	r.Consistent = r.VectorLexicalOK && r.VectorGraphOK && r.MissingProvenance == 0 && len(r.Errors) == 0

	v.metrics.ObserveValidation(metrics.StoreSnapshot{
		Namespace:         namespace,
		VectorChunks:      r.VectorChunks,
		LexicalDocuments:  r.LexicalDocuments,
		GraphChunks:       r.GraphChunks,
		MissingProvenance: r.MissingProvenance,
		OrphanChunks:      r.OrphanChunks,
		Consistent:        r.Consistent,
	})

	if r.Consistent {
		logger.Info("[Validate] Stores consistent", "namespace", namespace,
			"chunks", r.VectorChunks, "orphans", r.OrphanChunks)
	} else {
		logger.Warn("[Validate] Stores inconsistent", "namespace", namespace, "err", r.Err())
	}

	if v.publisher != nil {
		if err := v.publisher.Publish(ctx, r); err != nil {
			logger.Error("[Validate] Failed to publish report", "namespace", namespace, "err", err)
		}
	}
	return r, nil
}

type counter interface {
	Count(ctx context.Context, namespace string) (int, error)
}

func countOf(c counter) func(context.Context, string) (int, error) {
	return func(ctx context.Context, namespace string) (int, error) {
		if c == nil {
			return 0, fmt.Errorf("store not configured")
		}
		return c.Count(ctx, namespace)
	}
}

func graphCount(g store.GraphStore, fn func(store.GraphStore, context.Context, string) (int, error)) func(context.Context, string) (int, error) {
	return func(ctx context.Context, namespace string) (int, error) {
		if g == nil {
			return 0, fmt.Errorf("graph store not configured")
		}
		return fn(g, ctx, namespace)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

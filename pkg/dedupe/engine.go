package dedupe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

// IngestBatch is one hand-off from the extraction pipeline.
type IngestBatch struct {
	Namespace     string                `json:"namespace"`
	Chunks        []common.Chunk        `json:"chunks"`
	Sections      []common.Section      `json:"sections,omitempty"`
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
	Mentions      []common.MentionLink  `json:"mentions"`
}

// IngestReport summarizes what an ingestion wrote and rejected.
type IngestReport struct {
	Namespace             string   `json:"namespace"`
	Chunks                int      `json:"chunks"`
	Entities              int      `json:"entities"`
	Redirects             int      `json:"redirects"`
	Relationships         int      `json:"relationships"`
	Mentions              int      `json:"mentions"`
	RejectedRelationships int      `json:"rejected_relationships"`
	RejectedMentions      int      `json:"rejected_mentions"`
	IndexedVectors        int      `json:"indexed_vectors"`
	IndexedDocuments      int      `json:"indexed_documents"`
	Warnings              []string `json:"warnings,omitempty"`
}

// Engine deduplicates an ingestion batch against the graph and writes it.
// The vector store and lexical index are optional; when set, chunk text is
// indexed after the graph write.
type Engine struct {
	graph     store.GraphStore
	vectors   store.VectorStore
	lexical   store.LexicalIndex
	embedder  ai.Embedder
	entities  *EntityDeduper
	relations *RelationTypeDeduper
	metrics   *metrics.Collector
	parallel  int
}

type NewEngineParams struct {
	Graph     store.GraphStore
	Vectors   store.VectorStore
	Lexical   store.LexicalIndex
	Embedder  ai.Embedder
	Entities  *EntityDeduper
	Relations *RelationTypeDeduper
	Metrics   *metrics.Collector
	Parallel  int
}

// NewEngine wires the dedupers and stores used by Ingest.
func NewEngine(params NewEngineParams) *Engine {
	entities := params.Entities
	if entities == nil {
		entities = NewEntityDeduper(params.Embedder)
	}
	relations := params.Relations
	if relations == nil {
		relations = NewRelationTypeDeduper(NewRelationTypeDeduperParams{Embedder: params.Embedder, Metrics: params.Metrics})
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	return &Engine{
		graph:     params.Graph,
		vectors:   params.Vectors,
		lexical:   params.Lexical,
		embedder:  params.Embedder,
		entities:  entities,
		relations: relations,
		metrics:   params.Metrics,
		parallel:  parallel,
	}
}

// Relations exposes the relation type deduper for override management.
func (e *Engine) Relations() *RelationTypeDeduper {
	return e.relations
}

// Ingest writes batch to the graph store. Relationships and mention links
// without provenance are dropped and counted; every other item is written in
// a single graph batch.
func (e *Engine) Ingest(ctx context.Context, batch IngestBatch) (IngestReport, error) {
	ns := batch.Namespace
	report := IngestReport{Namespace: ns}
	if e.graph == nil {
		return report, fmt.Errorf("ingest requires a graph store")
	}

	chunks := make([]common.Chunk, 0, len(batch.Chunks))
	for _, c := range batch.Chunks {
		c.Text = util.SanitizePostgresText(c.Text)
		c.EnsureID()
		chunks = append(chunks, c)
	}

	rels := make([]common.Relationship, 0, len(batch.Relationships))
	for _, r := range batch.Relationships {
		if err := r.Validate(); err != nil {
			report.RejectedRelationships++
			logger.Warn("[Dedupe] Rejected relationship", "namespace", ns, "err", err)
			continue
		}
		r.Type = util.NormalizeRelationType(r.Type)
		rels = append(rels, r)
	}
	mentions := make([]common.MentionLink, 0, len(batch.Mentions))
	for _, m := range batch.Mentions {
		if err := m.Validate(); err != nil {
			report.RejectedMentions++
			logger.Warn("[Dedupe] Rejected mention link", "namespace", ns, "err", err)
			continue
		}
		mentions = append(mentions, m)
	}
	e.metrics.ProvenanceRejected("relationship", report.RejectedRelationships)
	e.metrics.ProvenanceRejected("mention", report.RejectedMentions)

	entities, redirects, err := e.dedupeEntities(ctx, ns, batch.Entities)
	if err != nil {
		return report, err
	}
	e.metrics.DedupeMerges("entity", len(redirects))

	labels := make([]string, 0, len(rels))
	for _, r := range rels {
		labels = append(labels, r.Type)
	}
	typeMap, err := e.relations.Canonicalize(ctx, labels)
	if err != nil {
		return report, err
	}
	rels = DedupeRelationships(rels, redirects, typeMap)

	write := store.GraphWrite{
		Chunks:        chunks,
		Sections:      batch.Sections,
		Entities:      entities,
		Redirects:     redirects,
		Relationships: rels,
		Mentions:      mentions,
	}
	if err := e.graph.WriteBatch(ctx, ns, write); err != nil {
		return report, fmt.Errorf("failed to write graph batch: %w", err)
	}
	report.Chunks = len(chunks)
	report.Entities = len(entities)
	report.Redirects = len(redirects)
	report.Relationships = len(rels)
	report.Mentions = len(mentions)

	e.index(ctx, ns, chunks, &report)

	logger.Info("[Dedupe] Ingested batch", "namespace", ns,
		"chunks", report.Chunks, "entities", report.Entities, "redirects", report.Redirects,
		"relationships", report.Relationships, "mentions", report.Mentions,
		"rejected", report.RejectedRelationships+report.RejectedMentions)
	return report, nil
}

// dedupeEntities clusters incoming entities with the existing canonical
// entities of the same types. It returns the entities to write (every
// incoming entity plus canonical entities whose description was filled in)
// and the redirects to record.
func (e *Engine) dedupeEntities(ctx context.Context, ns string, incoming []common.Entity) ([]common.Entity, map[string]string, error) {
	if len(incoming) == 0 {
		return nil, nil, nil
	}

	prepared := make([]common.Entity, 0, len(incoming))
	incomingIDs := make(map[string]struct{}, len(incoming))
	types := make(map[string]struct{})
	for _, ent := range incoming {
		ent.CanonicalName = util.NormalizeLabel(ent.CanonicalName)
		ent.Type = strings.ToUpper(strings.TrimSpace(ent.Type))
		if ent.CanonicalName == "" {
			continue
		}
		ent.EnsureID()
		prepared = append(prepared, ent)
		incomingIDs[ent.ID] = struct{}{}
		types[ent.Type] = struct{}{}
	}

	typeList := make([]string, 0, len(types))
	for t := range types {
		typeList = append(typeList, t)
	}
	sort.Strings(typeList)

	existing := make(map[string]common.Entity)
	for _, t := range typeList {
		found, err := e.graph.EntitiesByType(ctx, ns, t)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s entities: %w", t, err)
		}
		for _, ent := range found {
			existing[ent.ID] = ent
		}
	}

	all := make([]common.Entity, 0, len(prepared)+len(existing))
	all = append(all, prepared...)
	for _, ent := range existing {
		all = append(all, ent)
	}
	result, err := e.entities.Dedupe(ctx, all)
	if err != nil {
		return nil, nil, err
	}

	out := make([]common.Entity, 0, len(prepared))
	for _, c := range result.Canonical {
		_, isIncoming := incomingIDs[c.ID]
		old, isExisting := existing[c.ID]
		if isIncoming || (isExisting && old.Description == "" && c.Description != "") {
			out = append(out, c)
		}
	}
	written := make(map[string]struct{}, len(prepared))
	for _, ent := range prepared {
		if _, dup := written[ent.ID]; dup {
			continue
		}
		written[ent.ID] = struct{}{}
		if _, merged := result.Redirects[ent.ID]; merged {
			out = append(out, ent)
		}
	}
	return out, result.Redirects, nil
}

func (e *Engine) index(ctx context.Context, ns string, chunks []common.Chunk, report *IngestReport) {
	if len(chunks) == 0 {
		return
	}
	if e.lexical != nil {
		if err := e.lexical.Index(ctx, ns, chunks); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("lexical index: %v", err))
			logger.Warn("[Dedupe] Lexical indexing failed", "namespace", ns, "err", err)
		} else {
			report.IndexedDocuments = len(chunks)
		}
	}
	if e.vectors == nil || e.embedder == nil {
		return
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := store.EmbedTexts(ctx, e.embedder, texts, e.parallel)
	records := make([]store.VectorRecord, 0, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("chunk %s: %v", c.ID, common.ErrEmbeddingFailure))
			continue
		}
		records = append(records, store.VectorRecord{ChunkID: c.ID, Embedding: vectors[i]})
	}
	if err := e.vectors.Upsert(ctx, ns, records); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("vector store: %v", err))
		logger.Warn("[Dedupe] Vector indexing failed", "namespace", ns, "err", err)
		return
	}
	report.IndexedVectors = len(records)
}

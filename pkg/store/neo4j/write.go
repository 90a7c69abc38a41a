package neo4j

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const (
	upsertChunksCypher = `
		UNWIND $rows AS row
		MERGE (c:Chunk {namespace: $ns, chunk_id: row.chunk_id})
		SET c.document_id = row.document_id, c.ordinal = row.ordinal,
		    c.text = row.text, c.section_path = row.section_path`

	upsertSectionsCypher = `
		UNWIND $rows AS row
		MERGE (s:Section {namespace: $ns, document_id: row.document_id, heading_label: row.heading_label})
		SET s.level = row.level, s.ord = row.ord`

	upsertEntitiesCypher = `
		UNWIND $rows AS row
		MERGE (e:Entity {namespace: $ns, entity_id: row.entity_id})
		SET e.canonical_name = row.canonical_name, e.type = row.type,
		    e.description = CASE WHEN row.description = '' THEN coalesce(e.description, '') ELSE row.description END,
		    e.embedding = coalesce(row.embedding, e.embedding)`

	upsertRelationshipsCypher = `
		UNWIND $rows AS row
		MERGE (a:Entity {namespace: $ns, entity_id: row.source})
		MERGE (b:Entity {namespace: $ns, entity_id: row.target})
		MERGE (a)-[r:RELATES {type: row.type}]->(b)
		WITH r, row
		WHERE r.weight IS NULL OR row.weight > r.weight
		SET r.weight = row.weight, r.description = row.description, r.source_chunk_id = row.source_chunk_id`

	upsertMentionsCypher = `
		UNWIND $rows AS row
		MERGE (e:Entity {namespace: $ns, entity_id: row.entity_id})
		MERGE (c:Chunk {namespace: $ns, chunk_id: row.chunk_id})
		MERGE (e)-[:MENTIONED_IN]->(c)`

	clearRedirectsCypher = `
		UNWIND $ids AS id
		MATCH (e:Entity {namespace: $ns, entity_id: id})
		SET e.redirected_to = null`

	setRedirectsCypher = `
		UNWIND $rows AS row
		MERGE (e:Entity {namespace: $ns, entity_id: row.id})
		SET e.redirected_to = row.target`
)

// WriteBatch applies w in a single transaction. Redirects are merged with
// the stored ones in Go and written back compressed.
func (s *GraphStore) WriteBatch(ctx context.Context, namespace string, w store.GraphWrite) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Empty() {
		return nil
	}

	var setRows []map[string]any
	var clearIDs []string
	if len(w.Redirects) > 0 {
		existing, err := s.Redirects(ctx, namespace)
		if err != nil {
			return err
		}
		setRows, clearIDs = redirectChanges(existing, store.MergeRedirects(existing, w.Redirects))
	}

	stmts := make([]statement, 0)
	add := func(cypher string, rows []map[string]any) {
		_ = store.ChunkRange(len(rows), batchSize, func(start, end int) error {
			stmts = append(stmts, statement{cypher: cypher, params: map[string]any{"ns": namespace, "rows": rows[start:end]}})
			return nil
		})
	}
	add(upsertChunksCypher, chunkRows(w.Chunks))
	add(upsertSectionsCypher, sectionRows(w.Sections))
	add(upsertEntitiesCypher, entityRows(w.Entities))
	add(upsertRelationshipsCypher, relationshipRows(w.Relationships))
	add(upsertMentionsCypher, mentionRows(w.Mentions))
	if len(clearIDs) > 0 {
		stmts = append(stmts, statement{cypher: clearRedirectsCypher, params: map[string]any{"ns": namespace, "ids": clearIDs}})
	}
	add(setRedirectsCypher, setRows)

	if err := s.write(ctx, stmts); err != nil {
		return err
	}
	logger.Debug("[Neo4j] Wrote batch", "namespace", namespace,
		"chunks", len(w.Chunks), "entities", len(w.Entities),
		"relationships", len(w.Relationships), "mentions", len(w.Mentions),
		"redirects", len(w.Redirects))
	return nil
}

func chunkRows(chunks []common.Chunk) []map[string]any {
	rows := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		c.EnsureID()
		path := c.SectionPath
		if path == nil {
			path = []string{}
		}
		rows = append(rows, map[string]any{
			"chunk_id":     c.ID,
			"document_id":  c.DocumentID,
			"ordinal":      int64(c.Ordinal),
			"text":         c.Text,
			"section_path": path,
		})
	}
	return rows
}

func sectionRows(sections []common.Section) []map[string]any {
	rows := make([]map[string]any, 0, len(sections))
	for _, sec := range sections {
		rows = append(rows, map[string]any{
			"document_id":   sec.DocumentID,
			"heading_label": sec.HeadingLabel,
			"level":         int64(sec.Level),
			"ord":           int64(sec.Order),
		})
	}
	return rows
}

func entityRows(entities []common.Entity) []map[string]any {
	rows := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, map[string]any{
			"entity_id":      e.ID,
			"canonical_name": e.CanonicalName,
			"type":           e.Type,
			"description":    e.Description,
			"embedding":      embeddingParam(e.Embedding),
		})
	}
	return rows
}

// relationshipRows canonicalizes symmetric edges and keeps the heaviest row
// per key so one UNWIND never races itself.
func relationshipRows(rels []common.Relationship) []map[string]any {
	best := make(map[common.RelationshipKey]common.Relationship, len(rels))
	order := make([]common.RelationshipKey, 0, len(rels))
	for _, r := range rels {
		r = r.Canonical()
		key := r.Key()
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || r.Weight > existing.Weight {
			best[key] = r
		}
	}
	rows := make([]map[string]any, 0, len(order))
	for _, key := range order {
		r := best[key]
		rows = append(rows, map[string]any{
			"source":          r.SourceEntityID,
			"target":          r.TargetEntityID,
			"type":            r.Type,
			"weight":          r.Weight,
			"description":     r.Description,
			"source_chunk_id": r.SourceChunkID,
		})
	}
	return rows
}

func mentionRows(mentions []common.MentionLink) []map[string]any {
	seen := make(map[common.MentionLink]struct{}, len(mentions))
	rows := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		rows = append(rows, map[string]any{"entity_id": m.EntityID, "chunk_id": m.SourceChunkID})
	}
	return rows
}

// redirectChanges diffs two compressed redirect maps into rows to set and
// ids whose redirect must be cleared.
func redirectChanges(before, after map[string]string) ([]map[string]any, []string) {
	set := make([]map[string]any, 0)
	for _, id := range sortedKeys(after) {
		if before[id] != after[id] {
			set = append(set, map[string]any{"id": id, "target": after[id]})
		}
	}
	clear := make([]string, 0)
	for _, id := range sortedKeys(before) {
		if _, ok := after[id]; !ok {
			clear = append(clear, id)
		}
	}
	return set, clear
}

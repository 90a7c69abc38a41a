package neo4j

import (
	"context"
	"sort"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

const batchSize = 500

func (s *GraphStore) Redirects(ctx context.Context, namespace string) (map[string]string, error) {
	records, err := s.read(ctx, `
		MATCH (e:Entity {namespace: $ns})
		WHERE e.redirected_to IS NOT NULL
		RETURN e.entity_id AS id, e.redirected_to AS target`,
		map[string]any{"ns": namespace},
	)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[stringValue(r, "id")] = stringValue(r, "target")
	}
	return out, nil
}

func (s *GraphStore) FindEntities(ctx context.Context, namespace string, name string, limit int) ([]common.Entity, error) {
	tokens := store.Tokenize(name)
	if len(tokens) == 0 {
		return nil, nil
	}
	records, err := s.read(ctx, `
		MATCH (e:Entity {namespace: $ns})
		WHERE e.redirected_to IS NULL AND e.canonical_name IS NOT NULL
		  AND any(t IN $tokens WHERE toLower(e.canonical_name) CONTAINS t)
		RETURN `+entityColumns,
		map[string]any{"ns": namespace, "tokens": tokens},
	)
	if err != nil {
		return nil, err
	}

	type scored struct {
		e     common.Entity
		score float64
	}
	matches := make([]scored, 0, len(records))
	for _, r := range records {
		e := entityFromRecord(r)
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

// entitiesByID loads entities whose ids are already canonical.
func (s *GraphStore) entitiesByID(ctx context.Context, namespace string, ids []string) (map[string]common.Entity, error) {
	out := make(map[string]common.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	records, err := s.read(ctx, `
		MATCH (e:Entity {namespace: $ns})
		WHERE e.entity_id IN $ids AND e.canonical_name IS NOT NULL
		RETURN `+entityColumns,
		map[string]any{"ns": namespace, "ids": ids},
	)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		e := entityFromRecord(r)
		out[e.ID] = e
	}
	return out, nil
}

func (s *GraphStore) GetEntities(ctx context.Context, namespace string, ids []string) ([]common.Entity, error) {
	redirects, err := s.Redirects(ctx, namespace)
	if err != nil {
		return nil, err
	}
	resolved := resolveAll(redirects, ids)
	found, err := s.entitiesByID(ctx, namespace, resolved)
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, 0, len(resolved))
	for _, id := range resolved {
		if e, ok := found[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphStore) EntitiesByType(ctx context.Context, namespace string, entityType string) ([]common.Entity, error) {
	records, err := s.read(ctx, `
		MATCH (e:Entity {namespace: $ns})
		WHERE e.redirected_to IS NULL AND e.canonical_name IS NOT NULL
		  AND toLower(e.type) = toLower($type)
		RETURN `+entityColumns+`
		ORDER BY e.entity_id`,
		map[string]any{"ns": namespace, "type": entityType},
	)
	if err != nil {
		return nil, err
	}
	out := make([]common.Entity, len(records))
	for i, r := range records {
		out[i] = entityFromRecord(r)
	}
	return out, nil
}

func (s *GraphStore) Traverse(ctx context.Context, namespace string, seedIDs []string, hops int, limit int) ([]store.Neighbor, error) {
	if hops <= 0 || len(seedIDs) == 0 {
		return nil, nil
	}
	redirects, err := s.Redirects(ctx, namespace)
	if err != nil {
		return nil, err
	}

	edges := func(ctx context.Context, frontier []string) ([]store.Edge, error) {
		records, err := s.read(ctx, `
			MATCH (a:Entity {namespace: $ns})-[r:RELATES]-(b:Entity {namespace: $ns})
			WHERE a.entity_id IN $ids
			RETURN a.entity_id AS a, b.entity_id AS b,
			       startNode(r).entity_id AS src, endNode(r).entity_id AS tgt,
			       r.type AS type, r.weight AS weight,
			       r.description AS description, r.source_chunk_id AS source_chunk_id`,
			map[string]any{"ns": namespace, "ids": aliasIDs(redirects, frontier)},
		)
		if err != nil {
			return nil, err
		}
		return edgesFromRecords(redirects, records), nil
	}
	entities := func(ctx context.Context, ids []string) (map[string]common.Entity, error) {
		return s.entitiesByID(ctx, namespace, ids)
	}
	return store.WalkNeighbors(ctx, resolveAll(redirects, seedIDs), hops, limit, edges, entities)
}

func (s *GraphStore) MentionLinks(ctx context.Context, namespace string, entityIDs []string) ([]common.MentionLink, error) {
	redirects, err := s.Redirects(ctx, namespace)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, `
		MATCH (e:Entity {namespace: $ns})-[:MENTIONED_IN]->(c:Chunk {namespace: $ns})
		WHERE e.entity_id IN $ids
		RETURN e.entity_id AS entity_id, c.chunk_id AS chunk_id`,
		map[string]any{"ns": namespace, "ids": aliasIDs(redirects, resolveAll(redirects, entityIDs))},
	)
	if err != nil {
		return nil, err
	}
	return mentionsFromRecords(redirects, records), nil
}

func (s *GraphStore) ChunkMentions(ctx context.Context, namespace string, chunkIDs []string) ([]common.MentionLink, error) {
	ids := store.DedupeStrings(chunkIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	redirects, err := s.Redirects(ctx, namespace)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, `
		MATCH (e:Entity {namespace: $ns})-[:MENTIONED_IN]->(c:Chunk {namespace: $ns})
		WHERE c.chunk_id IN $ids
		RETURN e.entity_id AS entity_id, c.chunk_id AS chunk_id`,
		map[string]any{"ns": namespace, "ids": ids},
	)
	if err != nil {
		return nil, err
	}
	return mentionsFromRecords(redirects, records), nil
}

func (s *GraphStore) GetChunks(ctx context.Context, namespace string, ids []string) ([]common.Chunk, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := s.read(ctx, `
		MATCH (c:Chunk {namespace: $ns})
		WHERE c.chunk_id IN $ids AND c.text IS NOT NULL
		RETURN `+chunkColumns,
		map[string]any{"ns": namespace, "ids": ids},
	)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]common.Chunk, len(records))
	for _, r := range records {
		c := chunkFromRecord(r)
		byID[c.ID] = c
	}
	out := make([]common.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *GraphStore) Sections(ctx context.Context, namespace string, documentID string) ([]common.Section, error) {
	records, err := s.read(ctx, `
		MATCH (s:Section {namespace: $ns, document_id: $doc})
		RETURN s.heading_label AS label, s.level AS level, s.ord AS ord
		ORDER BY s.ord, s.heading_label`,
		map[string]any{"ns": namespace, "doc": documentID},
	)
	if err != nil {
		return nil, err
	}
	out := make([]common.Section, len(records))
	for i, r := range records {
		out[i] = common.Section{
			HeadingLabel: stringValue(r, "label"),
			Level:        int(intValue(r, "level")),
			Order:        int(intValue(r, "ord")),
			DocumentID:   documentID,
		}
	}
	return out, nil
}

func (s *GraphStore) CountChunks(ctx context.Context, namespace string) (int, error) {
	records, err := s.read(ctx, `
		MATCH (c:Chunk {namespace: $ns})
		WHERE c.text IS NOT NULL
		RETURN count(c) AS n`,
		map[string]any{"ns": namespace},
	)
	if err != nil {
		return 0, err
	}
	return count(records), nil
}

// CountMentionsMissingProvenance counts mention edges that point at a chunk
// node created only as a placeholder, i.e. a chunk that was never written.
func (s *GraphStore) CountMentionsMissingProvenance(ctx context.Context, namespace string) (int, error) {
	records, err := s.read(ctx, `
		MATCH (:Entity {namespace: $ns})-[m:MENTIONED_IN]->(c:Chunk {namespace: $ns})
		WHERE c.text IS NULL
		RETURN count(m) AS n`,
		map[string]any{"ns": namespace},
	)
	if err != nil {
		return 0, err
	}
	return count(records), nil
}

func (s *GraphStore) CountOrphanChunks(ctx context.Context, namespace string) (int, error) {
	records, err := s.read(ctx, `
		MATCH (c:Chunk {namespace: $ns})
		WHERE c.text IS NOT NULL AND NOT ()-[:MENTIONED_IN]->(c)
		RETURN count(c) AS n`,
		map[string]any{"ns": namespace},
	)
	if err != nil {
		return 0, err
	}
	return count(records), nil
}

func resolveAll(redirects map[string]string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, common.ResolveRedirect(redirects, id))
	}
	return store.DedupeStrings(out)
}

func aliasIDs(redirects map[string]string, canonical []string) []string {
	out := make([]string, 0, len(canonical))
	for _, list := range store.Aliases(redirects, canonical) {
		out = append(out, list...)
	}
	sort.Strings(out)
	return out
}

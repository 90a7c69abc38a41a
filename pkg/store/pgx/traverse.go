package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

// traverseSQL walks resolved edges in both directions from the seeds. Each
// reached entity is reported once, on its shortest path, ties broken by seed
// id and path.
const traverseSQL = `
WITH RECURSIVE seeds AS (
    SELECT DISTINCT COALESCE(r.canonical_id, ids.id) AS id
    FROM unnest($2::text[]) AS ids(id)
    LEFT JOIN entity_redirects r ON r.namespace = $1 AND r.old_id = ids.id
),
edges AS (
    SELECT source_entity_id AS a, target_entity_id AS b, source_entity_id, target_entity_id,
           type, weight, description, source_chunk_id
    FROM resolved_relationships
    WHERE namespace = $1 AND source_entity_id <> target_entity_id
    UNION ALL
    SELECT target_entity_id, source_entity_id, source_entity_id, target_entity_id,
           type, weight, description, source_chunk_id
    FROM resolved_relationships
    WHERE namespace = $1 AND source_entity_id <> target_entity_id
),
walk (entity_id, seed_id, hops, path, via_source, via_target, via_type, via_weight, via_description, via_chunk) AS (
    SELECT id, id, 0, ARRAY[id], ''::text, ''::text, ''::text, 0::double precision, ''::text, ''::text
    FROM seeds
    UNION ALL
    SELECT e.b, w.seed_id, w.hops + 1, w.path || e.b,
           e.source_entity_id, e.target_entity_id, e.type, e.weight, e.description, e.source_chunk_id
    FROM walk w
    JOIN edges e ON e.a = w.entity_id
    WHERE w.hops < $3 AND NOT (e.b = ANY (w.path))
)
SELECT entity_id, seed_id, hops, path, via_source, via_target, via_type, via_weight, via_description, via_chunk
FROM (
    SELECT DISTINCT ON (entity_id) *
    FROM walk
    WHERE hops > 0 AND entity_id NOT IN (SELECT id FROM seeds)
    ORDER BY entity_id, hops, seed_id, path, via_weight DESC
) reached
ORDER BY hops, seed_id, entity_id
LIMIT $4
`

type traverseRow struct {
	entityID string
	seedID   string
	hops     int
	path     []string
	via      common.Relationship
}

func (s *GraphDBStorage) Traverse(ctx context.Context, namespace string, seedIDs []string, hops int, limit int) ([]store.Neighbor, error) {
	if hops <= 0 || len(seedIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.conn.Query(ctx, traverseSQL, namespace, seedIDs, hops, limit)
	if err != nil {
		return nil, err
	}
	found := make([]traverseRow, 0)
	for rows.Next() {
		var r traverseRow
		if err := rows.Scan(
			&r.entityID, &r.seedID, &r.hops, &r.path,
			&r.via.SourceEntityID, &r.via.TargetEntityID, &r.via.Type, &r.via.Weight, &r.via.Description, &r.via.SourceChunkID,
		); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(found))
	for _, r := range found {
		ids = append(ids, r.path...)
	}
	entities, err := s.GetEntities(ctx, namespace, store.DedupeStrings(ids))
	if err != nil {
		return nil, err
	}
	return assembleNeighbors(found, entities), nil
}

// assembleNeighbors attaches entity records to traversal rows and turns id
// paths into name paths. Rows whose entity is missing are dropped.
func assembleNeighbors(rows []traverseRow, entities []common.Entity) []store.Neighbor {
	byID := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	out := make([]store.Neighbor, 0, len(rows))
	for _, r := range rows {
		e, ok := byID[r.entityID]
		if !ok {
			continue
		}
		names := make([]string, 0, len(r.path))
		for _, id := range r.path {
			if pe, ok := byID[id]; ok {
				names = append(names, pe.CanonicalName)
			} else {
				names = append(names, id)
			}
		}
		out = append(out, store.Neighbor{
			Entity: e,
			SeedID: r.seedID,
			Hops:   r.hops,
			Path:   names,
			Via:    r.via,
		})
	}
	return out
}

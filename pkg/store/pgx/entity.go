package pgx

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const entityColumns = `entity_id, canonical_name, type, description, embedding`

func scanEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	defer rows.Close()
	out := make([]common.Entity, 0)
	for rows.Next() {
		var (
			e   common.Entity
			emb *pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.CanonicalName, &e.Type, &e.Description, &emb); err != nil {
			return nil, err
		}
		if emb != nil {
			e.Embedding = emb.Slice()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func embeddingParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

const findEntitiesSQL = `
SELECT ` + entityColumns + `
FROM canonical_entities
WHERE namespace = $1
  AND (
        lower(canonical_name) = lower($2)
     OR position(lower($2) in lower(canonical_name)) > 0
     OR position(lower(canonical_name) in lower($2)) > 0
     OR similarity(lower(canonical_name), lower($2)) >= $3
  )
ORDER BY (lower(canonical_name) = lower($2)) DESC,
         similarity(lower(canonical_name), lower($2)) DESC,
         entity_id
LIMIT $4
`

func (s *GraphDBStorage) FindEntities(ctx context.Context, namespace string, name string, limit int) ([]common.Entity, error) {
	if name == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn.Query(ctx, findEntitiesSQL, namespace, name, s.trgmThreshold, limit)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

const getEntitiesSQL = `
SELECT ` + entityColumns + `
FROM canonical_entities
WHERE namespace = $1
  AND entity_id IN (
      SELECT COALESCE(r.canonical_id, ids.id)
      FROM unnest($2::text[]) AS ids(id)
      LEFT JOIN entity_redirects r ON r.namespace = $1 AND r.old_id = ids.id
  )
ORDER BY entity_id
`

func (s *GraphDBStorage) GetEntities(ctx context.Context, namespace string, ids []string) ([]common.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, getEntitiesSQL, namespace, ids)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

const entitiesByTypeSQL = `
SELECT ` + entityColumns + `
FROM canonical_entities
WHERE namespace = $1 AND lower(type) = lower($2)
ORDER BY entity_id
`

func (s *GraphDBStorage) EntitiesByType(ctx context.Context, namespace string, entityType string) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, entitiesByTypeSQL, namespace, entityType)
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

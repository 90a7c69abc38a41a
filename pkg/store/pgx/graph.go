package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

func scanMentions(rows pgxv5.Rows) ([]common.MentionLink, error) {
	defer rows.Close()
	out := make([]common.MentionLink, 0)
	for rows.Next() {
		var m common.MentionLink
		if err := rows.Scan(&m.EntityID, &m.SourceChunkID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const mentionLinksSQL = `
SELECT DISTINCT entity_id, source_chunk_id
FROM resolved_mentions
WHERE namespace = $1
  AND entity_id IN (
      SELECT COALESCE(r.canonical_id, ids.id)
      FROM unnest($2::text[]) AS ids(id)
      LEFT JOIN entity_redirects r ON r.namespace = $1 AND r.old_id = ids.id
  )
ORDER BY entity_id, source_chunk_id
`

func (s *GraphDBStorage) MentionLinks(ctx context.Context, namespace string, entityIDs []string) ([]common.MentionLink, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, mentionLinksSQL, namespace, entityIDs)
	if err != nil {
		return nil, err
	}
	return scanMentions(rows)
}

const chunkMentionsSQL = `
SELECT DISTINCT entity_id, source_chunk_id
FROM resolved_mentions
WHERE namespace = $1 AND source_chunk_id = ANY ($2::text[])
ORDER BY entity_id, source_chunk_id
`

func (s *GraphDBStorage) ChunkMentions(ctx context.Context, namespace string, chunkIDs []string) ([]common.MentionLink, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, chunkMentionsSQL, namespace, chunkIDs)
	if err != nil {
		return nil, err
	}
	return scanMentions(rows)
}

const getChunksSQL = `
SELECT chunk_id, document_id, ordinal, text, section_path
FROM chunks
WHERE namespace = $1 AND chunk_id = ANY ($2::text[])
`

func (s *GraphDBStorage) GetChunks(ctx context.Context, namespace string, ids []string) ([]common.Chunk, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, getChunksSQL, namespace, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]common.Chunk, len(ids))
	for rows.Next() {
		var c common.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.SectionPath); err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]common.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

const sectionsSQL = `
SELECT heading_label, level, ord, document_id
FROM sections
WHERE namespace = $1 AND document_id = $2
ORDER BY ord, heading_label
`

func (s *GraphDBStorage) Sections(ctx context.Context, namespace string, documentID string) ([]common.Section, error) {
	rows, err := s.conn.Query(ctx, sectionsSQL, namespace, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Section, 0)
	for rows.Next() {
		var sec common.Section
		if err := rows.Scan(&sec.HeadingLabel, &sec.Level, &sec.Order, &sec.DocumentID); err != nil {
			return nil, err
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

const (
	insertChunkSQL = `
INSERT INTO chunks (namespace, chunk_id, document_id, ordinal, text, section_path)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, chunk_id) DO NOTHING
`
	upsertSectionSQL = `
INSERT INTO sections (namespace, document_id, heading_label, level, ord)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (namespace, document_id, heading_label) DO UPDATE
SET level = EXCLUDED.level, ord = EXCLUDED.ord
`
	upsertEntitySQL = `
INSERT INTO entities (namespace, entity_id, canonical_name, type, description, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, entity_id) DO UPDATE
SET canonical_name = EXCLUDED.canonical_name,
    type           = EXCLUDED.type,
    description    = CASE WHEN EXCLUDED.description = '' THEN entities.description ELSE EXCLUDED.description END,
    embedding      = COALESCE(EXCLUDED.embedding, entities.embedding)
`
	upsertRedirectSQL = `
INSERT INTO entity_redirects (namespace, old_id, canonical_id)
VALUES ($1, $2, $3)
ON CONFLICT (namespace, old_id) DO UPDATE
SET canonical_id = EXCLUDED.canonical_id
`
	resolveRedirectSQL = `
SELECT COALESCE(
    (SELECT canonical_id FROM entity_redirects WHERE namespace = $1 AND old_id = $2),
    $2
)
`
	compressRedirectsSQL = `
UPDATE entity_redirects
SET canonical_id = $3
WHERE namespace = $1 AND canonical_id = $2
`
	dropRedirectSQL = `
DELETE FROM entity_redirects
WHERE namespace = $1 AND old_id = $2
`
	upsertRelationshipSQL = `
INSERT INTO relationships (namespace, source_entity_id, target_entity_id, type, weight, description, source_chunk_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (namespace, source_entity_id, target_entity_id, type) DO UPDATE
SET weight          = EXCLUDED.weight,
    description     = EXCLUDED.description,
    source_chunk_id = EXCLUDED.source_chunk_id
WHERE EXCLUDED.weight > relationships.weight
`
	insertMentionSQL = `
INSERT INTO mentions (namespace, entity_id, source_chunk_id)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`
)

// WriteBatch writes one GraphWrite in a single transaction. A provenance
// violation anywhere in the batch rejects the whole batch before any row is
// touched.
func (s *GraphDBStorage) WriteBatch(ctx context.Context, namespace string, w store.GraphWrite) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Empty() {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = store.ChunkRange(len(w.Chunks), s.batchSize, func(start, end int) error {
		for _, c := range w.Chunks[start:end] {
			c.EnsureID()
			sectionPath := c.SectionPath
			if sectionPath == nil {
				sectionPath = []string{}
			}
			if _, err := tx.Exec(ctx, insertChunkSQL, namespace, c.ID, c.DocumentID, c.Ordinal,
				util.SanitizePostgresText(c.Text), sectionPath); err != nil {
				return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, sec := range w.Sections {
		if _, err := tx.Exec(ctx, upsertSectionSQL, namespace, sec.DocumentID, sec.HeadingLabel, sec.Level, sec.Order); err != nil {
			return fmt.Errorf("failed to upsert section %s: %w", sec.HeadingLabel, err)
		}
	}

	err = store.ChunkRange(len(w.Entities), s.batchSize, func(start, end int) error {
		for _, e := range w.Entities[start:end] {
			if _, err := tx.Exec(ctx, upsertEntitySQL, namespace, e.ID,
				util.SanitizePostgresText(e.CanonicalName), e.Type,
				util.SanitizePostgresText(e.Description), embeddingParam(e.Embedding)); err != nil {
				return fmt.Errorf("failed to upsert entity %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for oldID, canonical := range w.Redirects {
		if oldID == canonical {
			continue
		}
		target := canonical
		if err := tx.QueryRow(ctx, resolveRedirectSQL, namespace, canonical).Scan(&target); err != nil {
			return fmt.Errorf("failed to resolve redirect target %s: %w", canonical, err)
		}
		if target == oldID {
			// the new canonical was itself merged into oldID; flip the direction
			if _, err := tx.Exec(ctx, dropRedirectSQL, namespace, canonical); err != nil {
				return err
			}
			target = canonical
		}
		if _, err := tx.Exec(ctx, upsertRedirectSQL, namespace, oldID, target); err != nil {
			return fmt.Errorf("failed to write redirect %s: %w", oldID, err)
		}
		if _, err := tx.Exec(ctx, compressRedirectsSQL, namespace, oldID, target); err != nil {
			return fmt.Errorf("failed to compress redirects onto %s: %w", target, err)
		}
	}

	err = store.ChunkRange(len(w.Relationships), s.batchSize, func(start, end int) error {
		for _, r := range w.Relationships[start:end] {
			r = r.Canonical()
			if _, err := tx.Exec(ctx, upsertRelationshipSQL, namespace, r.SourceEntityID, r.TargetEntityID,
				r.Type, r.Weight, util.SanitizePostgresText(r.Description), r.SourceChunkID); err != nil {
				return fmt.Errorf("failed to upsert relationship %s-%s->%s: %w", r.SourceEntityID, r.Type, r.TargetEntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range w.Mentions {
		if _, err := tx.Exec(ctx, insertMentionSQL, namespace, m.EntityID, m.SourceChunkID); err != nil {
			return fmt.Errorf("failed to insert mention %s@%s: %w", m.EntityID, m.SourceChunkID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *GraphDBStorage) Redirects(ctx context.Context, namespace string) (map[string]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT old_id, canonical_id FROM entity_redirects WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var oldID, canonical string
		if err := rows.Scan(&oldID, &canonical); err != nil {
			return nil, err
		}
		out[oldID] = canonical
	}
	return out, rows.Err()
}

const (
	countChunksSQL = `SELECT count(*) FROM chunks WHERE namespace = $1`

	countMentionsMissingProvenanceSQL = `
SELECT count(*)
FROM mentions m
WHERE m.namespace = $1
  AND (
        btrim(m.source_chunk_id) = ''
     OR NOT EXISTS (SELECT 1 FROM chunks c WHERE c.namespace = m.namespace AND c.chunk_id = m.source_chunk_id)
  )
`
	countOrphanChunksSQL = `
SELECT count(*)
FROM chunks c
WHERE c.namespace = $1
  AND NOT EXISTS (SELECT 1 FROM mentions m WHERE m.namespace = c.namespace AND m.source_chunk_id = c.chunk_id)
`
)

func (s *GraphDBStorage) count(ctx context.Context, sql string, namespace string) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, sql, namespace).Scan(&n)
	return n, err
}

func (s *GraphDBStorage) CountChunks(ctx context.Context, namespace string) (int, error) {
	return s.count(ctx, countChunksSQL, namespace)
}

func (s *GraphDBStorage) CountMentionsMissingProvenance(ctx context.Context, namespace string) (int, error) {
	return s.count(ctx, countMentionsMissingProvenanceSQL, namespace)
}

func (s *GraphDBStorage) CountOrphanChunks(ctx context.Context, namespace string) (int, error) {
	return s.count(ctx, countOrphanChunksSQL, namespace)
}

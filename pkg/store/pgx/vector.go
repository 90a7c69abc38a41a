package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"

	"github.com/pgvector/pgvector-go"
)

// VectorStore implements store.VectorStore on the chunk_embeddings table.
// Scores are cosine similarities.
type VectorStore struct {
	conn pgxIConn
}

func NewVectorStore(conn pgxIConn) *VectorStore {
	return &VectorStore{conn: conn}
}

const searchChunkEmbeddingsSQL = `
SELECT chunk_id, 1 - (embedding <=> $2) AS score
FROM chunk_embeddings
WHERE namespace = $1
ORDER BY embedding <=> $2, chunk_id
LIMIT $3
`

func (s *VectorStore) Search(ctx context.Context, embedding []float32, namespace string, topK int) ([]store.Hit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("empty query embedding")
	}
	rows, err := s.conn.Query(ctx, searchChunkEmbeddingsSQL, namespace, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make([]store.Hit, 0, topK)
	for rows.Next() {
		var h store.Hit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.SortHits(hits, topK), nil
}

const upsertChunkEmbeddingSQL = `
INSERT INTO chunk_embeddings (namespace, chunk_id, embedding)
VALUES ($1, $2, $3)
ON CONFLICT (namespace, chunk_id) DO UPDATE
SET embedding = EXCLUDED.embedding,
    updated_at = now()
`

func (s *VectorStore) Upsert(ctx context.Context, namespace string, records []store.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		if r.ChunkID == "" || len(r.Embedding) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, upsertChunkEmbeddingSQL, namespace, r.ChunkID, pgvector.NewVector(r.Embedding)); err != nil {
			return fmt.Errorf("failed to upsert embedding for chunk %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *VectorStore) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM chunk_embeddings WHERE namespace = $1`, namespace).Scan(&n)
	return n, err
}

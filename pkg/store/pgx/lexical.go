package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

// LexicalIndex implements store.LexicalIndex with Postgres full text search.
// Query terms are OR-ed and ranked with ts_rank_cd.
type LexicalIndex struct {
	conn     pgxIConn
	tsConfig string
}

// NewLexicalIndex creates a LexicalIndex using the given text search
// configuration ("simple" when empty).
func NewLexicalIndex(conn pgxIConn, tsConfig string) *LexicalIndex {
	if tsConfig == "" {
		tsConfig = "simple"
	}
	return &LexicalIndex{conn: conn, tsConfig: tsConfig}
}

// buildTSQuery turns free text into an OR-ed tsquery expression. Only letter
// and digit tokens survive, so the result is safe to pass to to_tsquery.
func buildTSQuery(text string) string {
	return strings.Join(store.DedupeStrings(store.Tokenize(text)), " | ")
}

const searchLexicalSQL = `
SELECT chunk_id, ts_rank_cd(document, query) AS score
FROM lexical_documents, to_tsquery($2::regconfig, $3) AS query
WHERE namespace = $1 AND document @@ query
ORDER BY score DESC, chunk_id
LIMIT $4
`

func (l *LexicalIndex) Search(ctx context.Context, text string, namespace string, topK int) ([]store.Hit, error) {
	q := buildTSQuery(text)
	if q == "" {
		return nil, nil
	}
	rows, err := l.conn.Query(ctx, searchLexicalSQL, namespace, l.tsConfig, q, topK)
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
	return hits, rows.Err()
}

const upsertLexicalSQL = `
INSERT INTO lexical_documents (namespace, chunk_id, document)
VALUES ($1, $2, to_tsvector($3::regconfig, $4))
ON CONFLICT (namespace, chunk_id) DO UPDATE
SET document = EXCLUDED.document
`

func (l *LexicalIndex) Index(ctx context.Context, namespace string, chunks []common.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := l.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		c.EnsureID()
		if _, err := tx.Exec(ctx, upsertLexicalSQL, namespace, c.ID, l.tsConfig, util.SanitizePostgresText(c.Text)); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (l *LexicalIndex) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := l.conn.QueryRow(ctx, `SELECT count(*) FROM lexical_documents WHERE namespace = $1`, namespace).Scan(&n)
	return n, err
}

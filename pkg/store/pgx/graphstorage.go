// Package pgx implements the store interfaces on PostgreSQL with pgvector
// and pg_trgm. The schema lives in the repository's migrations directory.
package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStore. Redirects are resolved through
// the resolved_* views and kept one hop deep on write.
type GraphDBStorage struct {
	conn          pgxIConn
	trgmThreshold float64
	batchSize     int
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithTrigramThreshold sets the minimum pg_trgm similarity for fuzzy entity
// lookups.
func WithTrigramThreshold(threshold float64) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.trgmThreshold = threshold
	}
}

// WithBatchSize bounds the rows written per statement group in WriteBatch.
func WithBatchSize(size int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.batchSize = size
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool.
func NewGraphDBStorageWithConnection(
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:          conn,
		trgmThreshold: 0.3,
		batchSize:     500,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

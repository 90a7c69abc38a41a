// Package neo4j implements store.GraphStore on a Neo4j database.
//
// Every node carries a namespace property. Chunks, sections and entities are
// keyed by (namespace, id). Relationships are :RELATES edges with the
// relation type held as a property, and mention links are :MENTIONED_IN
// edges from an entity to a chunk. A merged entity keeps its node with a
// redirected_to property; redirects are resolved on read.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

// Config holds Neo4j connection settings.
type Config struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
}

// GraphStore is a Neo4j-backed GraphStore.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewGraphStore connects to Neo4j, verifies connectivity and creates the
// lookup indexes.
func NewGraphStore(ctx context.Context, cfg Config) (*GraphStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
			if cfg.ConnectionTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectionTimeout
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}

	s := &GraphStore{driver: driver, database: cfg.Database}
	if err := s.ensureSchema(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	logger.Info("[Neo4j] Connected", "uri", cfg.URI, "database", cfg.Database)
	return s, nil
}

// Close releases the driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var schemaStatements = []string{
	"CREATE INDEX chunk_key IF NOT EXISTS FOR (c:Chunk) ON (c.namespace, c.chunk_id)",
	"CREATE INDEX entity_key IF NOT EXISTS FOR (e:Entity) ON (e.namespace, e.entity_id)",
	"CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.namespace, e.type)",
	"CREATE INDEX section_key IF NOT EXISTS FOR (s:Section) ON (s.namespace, s.document_id)",
}

func (s *GraphStore) ensureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to create neo4j index: %w", err)
		}
	}
	return nil
}

func (s *GraphStore) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j read failed: %w", err)
	}
	return result.([]*neo4j.Record), nil
}

type statement struct {
	cypher string
	params map[string]any
}

// write runs the statements in one transaction.
func (s *GraphStore) write(ctx context.Context, stmts []statement) error {
	if len(stmts) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			res, err := tx.Run(ctx, st.cypher, st.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j write failed: %w", err)
	}
	return nil
}

func count(records []*neo4j.Record) int {
	if len(records) == 0 {
		return 0
	}
	return int(intValue(records[0], "n"))
}

// Package bootstrap builds the stores, AI clients and retrieval services
// shared by the server, the worker and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/storage"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai/ollama"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai/openai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/cache"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/query"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/bolt"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/memory"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/neo4j"
	pgxstore "github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/pgx"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

// Services is the wired engine of one process.
type Services struct {
	Config   config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	Pool      *pgxpool.Pool
	Graph     store.GraphStore
	Vectors   store.VectorStore
	Lexical   store.LexicalIndex
	Overrides store.OverrideStore
	Cache     cache.ClusterCache
	Locker    leaselock.Locker
	AI        ai.GraphAIClient

	Retriever    *retrieval.Retriever
	Expander     *expand.Expander
	Orchestrator *query.Orchestrator
	Relations    *dedupe.RelationTypeDeduper
	Engine       *dedupe.Engine
	Validator    *validate.Validator
	Reports      *storage.ReportStore

	closers []func(context.Context) error
}

type options struct {
	client    ai.GraphAIClient
	publisher validate.Publisher
	registry  *prometheus.Registry
}

type Option func(*options)

// WithAIClient replaces the client built from the AI_* settings.
func WithAIClient(c ai.GraphAIClient) Option {
	return func(o *options) {
		o.client = c
	}
}

// WithPublisher sets where validation reports are sent instead of the S3
// report store.
func WithPublisher(p validate.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// New opens every configured backend and builds the services on top. On
// error everything opened so far is closed again.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *Services, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	s := &Services{
		Config:   cfg,
		Registry: o.registry,
		Metrics:  metrics.NewCollector(cfg.MetricsNamespace, o.registry),
	}
	defer func() {
		if err != nil {
			s.Close(context.Background())
		}
	}()

	if err := s.openStores(ctx); err != nil {
		return nil, err
	}
	if err := s.openCache(ctx); err != nil {
		return nil, err
	}
	if err := s.openOverrides(); err != nil {
		return nil, err
	}

	s.AI = o.client
	if s.AI == nil {
		if s.AI, err = newAIClient(cfg.AI); err != nil {
			return nil, err
		}
	}
	publisher := o.publisher
	if publisher == nil && cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		s.Reports = storage.NewReportStore(client, cfg.S3.Bucket, cfg.Validation.ReportPrefix, cfg.Validation.ReportKeep)
		publisher = s.Reports
	}
	s.build(publisher)

	if cfg.Dedupe.OverridesFile != "" {
		if err := s.SeedOverrides(ctx, cfg.Dedupe.OverridesFile); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Services) openStores(ctx context.Context) error {
	cfg := s.Config.Stores
	if cfg.GraphAdapter == config.AdapterPgx || cfg.VectorAdapter == config.AdapterPgx || cfg.LexicalAdapter == config.AdapterPgx {
		pool, err := OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		s.Pool = pool
		s.Locker = leaselock.New(pool)
		s.closers = append(s.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
	} else {
		s.Locker = leaselock.NewLocal()
	}

	switch cfg.GraphAdapter {
	case config.AdapterPgx:
		s.Graph = pgxstore.NewGraphDBStorageWithConnection(s.Pool)
	case config.AdapterNeo4j:
		g, err := neo4j.NewGraphStore(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return err
		}
		s.Graph = g
		s.closers = append(s.closers, g.Close)
	default:
		s.Graph = memory.NewGraphStore()
	}

	if cfg.VectorAdapter == config.AdapterPgx {
		s.Vectors = pgxstore.NewVectorStore(s.Pool)
	} else {
		s.Vectors = memory.NewVectorStore()
	}
	if cfg.LexicalAdapter == config.AdapterPgx {
		s.Lexical = pgxstore.NewLexicalIndex(s.Pool, cfg.TSConfig)
	} else {
		s.Lexical = memory.NewLexicalIndex()
	}
	logger.Info("[Bootstrap] Stores opened", "graph", cfg.GraphAdapter,
		"vector", cfg.VectorAdapter, "lexical", cfg.LexicalAdapter)
	return nil
}

func (s *Services) openCache(ctx context.Context) error {
	cfg := s.Config.Cache
	if cfg.Adapter != config.AdapterRedis {
		s.Cache = cache.NewMemoryCache(cfg.TTL)
		return nil
	}
	c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return err
	}
	s.Cache = c
	s.closers = append(s.closers, func(context.Context) error { return c.Close() })
	return nil
}

func (s *Services) openOverrides() error {
	path := s.Config.Stores.OverrideDBPath
	if path == "" || path == ":memory:" {
		s.Overrides = memory.NewOverrideStore()
		return nil
	}
	o, err := bolt.NewOverrideStore(path)
	if err != nil {
		return err
	}
	s.Overrides = o
	s.closers = append(s.closers, func(context.Context) error { return o.Close() })
	return nil
}

func newAIClient(cfg config.AI) (ai.GraphAIClient, error) {
	switch cfg.Adapter {
	case config.AdapterOllama:
		c, err := ollama.NewGraphOllamaClient(ollama.NewGraphOllamaClientParams{
			EmbeddingModel:        cfg.EmbedModel,
			ChatModel:             cfg.ChatModel,
			EmbeddingDim:          cfg.EmbedDim,
			BaseURL:               cfg.ChatURL,
			ApiKey:                cfg.ChatKey,
			MaxConcurrentRequests: int64(cfg.Parallel),
			TimeoutMin:            cfg.TimeoutMin,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return c, nil
	case config.AdapterOpenAI:
		return openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
			EmbeddingModel: cfg.EmbedModel,
			ChatModel:      cfg.ChatModel,
			EmbeddingDim:   cfg.EmbedDim,
			EmbeddingBatch: cfg.EmbedBatch,
			EmbeddingURL:   cfg.EmbedURL,
			EmbeddingKey:   cfg.EmbedKey,
			ChatURL:        cfg.ChatURL,
			ChatKey:        cfg.ChatKey,
			Parallel:       cfg.Parallel,
			TimeoutMin:     cfg.TimeoutMin,
		}), nil
	}
	return nil, fmt.Errorf("unknown AI adapter %q", cfg.Adapter)
}

func (s *Services) build(publisher validate.Publisher) {
	cfg := s.Config
	llm := ai.NewLLMCollaborator(ai.NewLLMCollaboratorParams{
		Client:            s.AI,
		RequestsPerSecond: cfg.AI.RateLimit,
	})

	var (
		classifier ai.QueryClassifier = llm
		decomposer ai.QueryDecomposer = llm
	)
	if cfg.AI.UseHeuristic {
		classifier = ai.HeuristicClassifier{}
		decomposer = ai.HeuristicClassifier{}
	}

	s.Retriever = retrieval.NewRetriever(retrieval.NewRetrieverParams{
		Embedder:      s.AI,
		Vectors:       s.Vectors,
		Lexical:       s.Lexical,
		Graph:         s.Graph,
		Weights:       cfg.Retrieval.Weights,
		SourceTimeout: cfg.Retrieval.SourceTimeout,
		Metrics:       s.Metrics,
	})
	s.Expander = expand.NewExpander(expand.NewExpanderParams{
		Extractor: llm,
		Synonyms:  llm,
		Embedder:  s.AI,
		Graph:     s.Graph,
	},
		expand.WithHops(cfg.Expansion.Hops),
		expand.WithCeiling(cfg.Expansion.Ceiling),
		expand.WithMinExpansion(cfg.Expansion.Min),
		expand.WithRerank(cfg.Expansion.Rerank),
	)
	s.Orchestrator = query.NewOrchestrator(query.NewOrchestratorParams{
		Classifier: classifier,
		Decomposer: decomposer,
		Searcher:   s.Retriever,
		Expander:   s.Expander,
		Graph:      s.Graph,
		Metrics:    s.Metrics,
	},
		query.WithTopK(cfg.Retrieval.TopK),
		query.WithInjection(cfg.Query.InjectTokens, cfg.Query.InjectNames),
		query.WithParallel(cfg.AI.Parallel),
	)
	s.Relations = dedupe.NewRelationTypeDeduper(dedupe.NewRelationTypeDeduperParams{
		Embedder:  s.AI,
		Overrides: s.Overrides,
		Cache:     s.Cache,
		Metrics:   s.Metrics,
		Threshold: cfg.Dedupe.RelationThreshold,
		Parallel:  cfg.AI.Parallel,
	})
	s.Engine = dedupe.NewEngine(dedupe.NewEngineParams{
		Graph:     s.Graph,
		Vectors:   s.Vectors,
		Lexical:   s.Lexical,
		Embedder:  s.AI,
		Entities:  dedupe.NewEntityDeduper(s.AI, dedupe.WithEntityThreshold(cfg.Dedupe.EntityThreshold), dedupe.WithEntityParallel(cfg.AI.Parallel)),
		Relations: s.Relations,
		Metrics:   s.Metrics,
		Parallel:  cfg.AI.Parallel,
	})
	s.Validator = validate.NewValidator(validate.NewValidatorParams{
		Vectors:   s.Vectors,
		Lexical:   s.Lexical,
		Graph:     s.Graph,
		Metrics:   s.Metrics,
		Publisher: publisher,
	}, validate.WithTolerances(cfg.Validation.LexicalTolerance, cfg.Validation.GraphTolerance))
}

// SeedOverrides loads a YAML override file into the override store.
func (s *Services) SeedOverrides(ctx context.Context, path string) error {
	overrides, err := config.LoadOverrides(path)
	if err != nil {
		return err
	}
	for label, canonical := range overrides {
		if err := s.Relations.SetOverride(ctx, label, canonical); err != nil {
			return fmt.Errorf("failed to set override %s: %w", label, err)
		}
	}
	logger.Info("[Bootstrap] Relation overrides seeded", "path", path, "count", len(overrides))
	return nil
}

// Close releases every backend in reverse opening order.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// OpenPool connects to Postgres and registers the pgvector types on every
// new connection.
func OpenPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Package config collects the environment of the server, the worker and the
// CLI into typed settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/cache"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/query"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

const (
	AdapterMemory = "memory"
	AdapterPgx    = "pgx"
	AdapterNeo4j  = "neo4j"
	AdapterRedis  = "redis"
	AdapterOpenAI = "openai"
	AdapterOllama = "ollama"
)

type Stores struct {
	DatabaseURL    string
	// MigrateOnStart applies pending migrations when the server starts.
	MigrateOnStart bool
	GraphAdapter   string
	VectorAdapter  string
	LexicalAdapter string
	TSConfig       string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	OverrideDBPath string
}

type Cache struct {
	Adapter       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

type AI struct {
	Adapter      string
	EmbedModel   string
	EmbedURL     string
	EmbedKey     string
	EmbedDim     int
	EmbedBatch   int
	ChatModel    string
	ChatURL      string
	ChatKey      string
	Parallel     int
	RateLimit    float64
	TimeoutMin   int
	UseHeuristic bool
}

type Retrieval struct {
	Weights       retrieval.Weights
	SourceTimeout time.Duration
	TopK          int
}

type Expansion struct {
	Hops    int
	Ceiling int
	Min     int
	Rerank  bool
}

type Dedupe struct {
	EntityThreshold   float64
	RelationThreshold float64
	OverridesFile     string
}

type Query struct {
	InjectTokens int
	InjectNames  int
}

type Validation struct {
	LexicalTolerance int
	GraphTolerance   int
	ReportPrefix     string
	ReportKeep       int
}

// S3 locates the bucket validation reports are published to. An empty
// Bucket disables publishing.
type S3 struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

type RabbitMQ struct {
	// Enabled false makes the server ingest inline instead of enqueueing.
	Enabled  bool
	User     string
	Password string
	Host     string
	Port     string
}

// URL is the AMQP connection string.
func (r RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

type Config struct {
	Port             string
	Debug            bool
	LogFormat        string
	MetricsNamespace string

	Stores     Stores
	Cache      Cache
	AI         AI
	Retrieval  Retrieval
	Expansion  Expansion
	Dedupe     Dedupe
	Query      Query
	Validation Validation
	S3         S3
	RabbitMQ   RabbitMQ
}

// Load reads the configuration from the environment. Call util.LoadEnv
// first to pick up a .env file.
func Load() Config {
	return Config{
		Port:             util.GetEnvString("PORT", "8080"),
		Debug:            util.GetEnvBool("DEBUG", false),
		LogFormat:        util.GetEnvString("LOG_FORMAT", "text"),
		MetricsNamespace: util.GetEnvString("METRICS_NAMESPACE", "kiwi_retrieval"),

		Stores: Stores{
			DatabaseURL:    util.GetEnv("DATABASE_URL"),
			MigrateOnStart: util.GetEnvBool("DB_MIGRATE_ON_START", false),
			GraphAdapter:   strings.ToLower(util.GetEnvString("GRAPH_ADAPTER", AdapterPgx)),
			VectorAdapter:  strings.ToLower(util.GetEnvString("VECTOR_ADAPTER", AdapterPgx)),
			LexicalAdapter: strings.ToLower(util.GetEnvString("LEXICAL_ADAPTER", AdapterPgx)),
			TSConfig:       util.GetEnvString("LEXICAL_TS_CONFIG", "simple"),
			Neo4jURI:       util.GetEnv("NEO4J_URI"),
			Neo4jUser:      util.GetEnvString("NEO4J_USER", "neo4j"),
			Neo4jPassword:  util.GetEnv("NEO4J_PASSWORD"),
			Neo4jDatabase:  util.GetEnv("NEO4J_DATABASE"),
			OverrideDBPath: util.GetEnvString("OVERRIDE_DB_PATH", "overrides.db"),
		},
		Cache: Cache{
			Adapter:       strings.ToLower(util.GetEnvString("CACHE_ADAPTER", AdapterMemory)),
			RedisAddr:     util.GetEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: util.GetEnv("REDIS_PASSWORD"),
			RedisDB:       util.GetEnvInt("REDIS_DB", 0),
			TTL:           util.GetEnvDuration("DEDUPE_CACHE_TTL", cache.DefaultTTL),
		},
		AI: AI{
			Adapter:      strings.ToLower(util.GetEnvString("AI_ADAPTER", AdapterOpenAI)),
			EmbedModel:   util.GetEnv("AI_EMBED_MODEL"),
			EmbedURL:     util.GetEnv("AI_EMBED_URL"),
			EmbedKey:     util.GetEnv("AI_EMBED_KEY"),
			EmbedDim:     util.GetEnvInt("AI_EMBED_DIM", 0),
			EmbedBatch:   util.GetEnvInt("AI_EMBED_BATCH", 0),
			ChatModel:    util.GetEnv("AI_CHAT_MODEL"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),
			Parallel:     util.GetEnvInt("AI_PARALLEL_REQ", 4),
			RateLimit:    util.GetEnvNumeric("AI_RATE_LIMIT", 0),
			TimeoutMin:   util.GetEnvInt("AI_TIMEOUT_MIN", 2),
			UseHeuristic: util.GetEnvBool("AI_HEURISTIC_CLASSIFIER", false),
		},
		Retrieval: Retrieval{
			Weights: retrieval.Weights{
				Vector:  util.GetEnvNumeric("FUSION_WEIGHT_VECTOR", retrieval.DefaultWeights().Vector),
				Lexical: util.GetEnvNumeric("FUSION_WEIGHT_LEXICAL", retrieval.DefaultWeights().Lexical),
				Graph:   util.GetEnvNumeric("FUSION_WEIGHT_GRAPH", retrieval.DefaultWeights().Graph),
			}.Normalized(),
			SourceTimeout: util.GetEnvDuration("RETRIEVAL_SOURCE_TIMEOUT", retrieval.DefaultSourceTimeout),
			TopK:          util.GetEnvInt("RETRIEVAL_TOP_K", retrieval.DefaultTopK),
		},
		Expansion: Expansion{
			Hops:    util.GetEnvInt("EXPAND_HOPS", expand.DefaultHops),
			Ceiling: util.GetEnvInt("EXPAND_CEILING", expand.DefaultCeiling),
			Min:     util.GetEnvInt("EXPAND_MIN_RESULTS", expand.DefaultMinExpansion),
			Rerank:  util.GetEnvBool("EXPAND_RERANK", false),
		},
		Dedupe: Dedupe{
			EntityThreshold:   util.GetEnvNumeric("ENTITY_DEDUPE_THRESHOLD", dedupe.DefaultEntityThreshold),
			RelationThreshold: util.GetEnvNumeric("RELATION_DEDUPE_THRESHOLD", dedupe.DefaultRelationThreshold),
			OverridesFile:     util.GetEnv("RELATION_OVERRIDES_FILE"),
		},
		Query: Query{
			InjectTokens: util.GetEnvInt("MULTIHOP_INJECT_TOKENS", query.DefaultInjectTokens),
			InjectNames:  util.GetEnvInt("MULTIHOP_INJECT_NAMES", query.DefaultInjectNames),
		},
		Validation: Validation{
			LexicalTolerance: util.GetEnvInt("VALIDATE_TOL_LEXICAL", validate.DefaultLexicalTolerance),
			GraphTolerance:   util.GetEnvInt("VALIDATE_TOL_GRAPH", validate.DefaultGraphTolerance),
			ReportPrefix:     util.GetEnvString("VALIDATE_REPORT_PREFIX", "reports"),
			ReportKeep:       util.GetEnvInt("VALIDATE_REPORT_KEEP", 30),
		},
		S3: S3{
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey: util.GetEnv("AWS_SECRET_KEY"),
			Bucket:    util.GetEnv("AWS_BUCKET"),
		},
		RabbitMQ: RabbitMQ{
			Enabled:  util.GetEnvBool("RABBITMQ_ENABLED", true),
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	needsPostgres := c.Stores.GraphAdapter == AdapterPgx || c.Stores.VectorAdapter == AdapterPgx ||
		c.Stores.LexicalAdapter == AdapterPgx
	if needsPostgres && c.Stores.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the pgx adapters")
	}
	switch c.Stores.GraphAdapter {
	case AdapterPgx, AdapterMemory:
	case AdapterNeo4j:
		if c.Stores.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for GRAPH_ADAPTER=neo4j")
		}
	default:
		return fmt.Errorf("unknown GRAPH_ADAPTER %q", c.Stores.GraphAdapter)
	}
	for name, adapter := range map[string]string{
		"VECTOR_ADAPTER":  c.Stores.VectorAdapter,
		"LEXICAL_ADAPTER": c.Stores.LexicalAdapter,
	} {
		if adapter != AdapterPgx && adapter != AdapterMemory {
			return fmt.Errorf("unknown %s %q", name, adapter)
		}
	}
	if c.Cache.Adapter != AdapterRedis && c.Cache.Adapter != AdapterMemory {
		return fmt.Errorf("unknown CACHE_ADAPTER %q", c.Cache.Adapter)
	}
	if c.AI.Adapter != AdapterOpenAI && c.AI.Adapter != AdapterOllama {
		return fmt.Errorf("unknown AI_ADAPTER %q", c.AI.Adapter)
	}
	if c.Validation.LexicalTolerance < 0 || c.Validation.GraphTolerance < 0 {
		return fmt.Errorf("validation tolerances must not be negative")
	}
	return nil
}

// OverrideFile is the YAML layout of RELATION_OVERRIDES_FILE:
//
//	overrides:
//	  starred in: ACTED_IN
//	  performed in: ACTED_IN
type OverrideFile struct {
	Overrides map[string]string `yaml:"overrides"`
}

// LoadOverrides reads relation-type overrides from a YAML file. Labels and
// canonical types are normalized to the stored relation type form.
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}
	var f OverrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}
	out := make(map[string]string, len(f.Overrides))
	for label, canonical := range f.Overrides {
		l := util.NormalizeRelationType(label)
		c := util.NormalizeRelationType(canonical)
		if l == "" || c == "" {
			return nil, fmt.Errorf("overrides file %s: empty label or canonical type", path)
		}
		out[l] = c
	}
	return out, nil
}

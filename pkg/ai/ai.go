package ai

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts sets the system prompts prepended to the request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithThinking enables extended thinking mode.
func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// GraphAIClient is the black-box LLM and embedding service the retrieval core
// consumes. Adapters exist for OpenAI-compatible endpoints and Ollama.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// Embedder maps text to a fixed-length vector. Implementations must be
// deterministic for identical input within a session.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// EntityExtractor returns the entity and concept names a query mentions or implies.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, query string) ([]string, error)
}

// QueryDecomposer splits a query into sub-queries. For MULTI_HOP the order of
// the returned list is the execution order.
type QueryDecomposer interface {
	Decompose(ctx context.Context, query string, queryType common.QueryType) ([]string, error)
}

// SynonymGenerator proposes alternative names for an entity.
type SynonymGenerator interface {
	GenerateSynonyms(ctx context.Context, entityName string, maxCount int) ([]string, error)
}

// QueryClassifier labels the structural shape of a query.
type QueryClassifier interface {
	Classify(ctx context.Context, query string) (common.QueryType, error)
}

// BatchEmbedder embeds many inputs per request. Adapters that support it are
// preferred by ingestion.
type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

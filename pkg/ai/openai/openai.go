package openai

import (
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GraphOpenAIClient talks to OpenAI-compatible endpoints for the retrieval
// collaborators. It keeps separate clients for embeddings and chat so the
// two can point at different providers.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel string
	chatModel      string
	embeddingDim   int

	embeddingURL string
	chatURL      string

	timeoutMin     int
	embeddingBatch int
	embeddingLock  *semaphore.Weighted

	ai.UsageMeter

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// EmbeddingDim truncates or zero-pads vectors to a fixed length. Parallel
// bounds concurrent embedding requests. TimeoutMin bounds each request.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel string
	ChatModel      string
	EmbeddingDim   int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	// EmbeddingBatch caps the inputs sent in one embeddings request.
	EmbeddingBatch int

	Parallel   int
	TimeoutMin int
}

// NewGraphOpenAIClient creates a client configured with the provided
// parameters.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel: "text-embedding-3-small",
//		ChatModel:      "gpt-4o-mini",
//		EmbeddingKey:   os.Getenv("OPENAI_API_KEY"),
//		ChatKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewGraphOpenAIClient(params NewGraphOpenAIClientParams) *GraphOpenAIClient {
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	timeout := params.TimeoutMin
	if timeout <= 0 {
		timeout = 2
	}
	dim := params.EmbeddingDim
	if dim <= 0 {
		dim = defaultDimensions
	}
	batch := params.EmbeddingBatch
	if batch <= 0 {
		batch = defaultEmbeddingBatch
	}

	return &GraphOpenAIClient{
		embeddingModel: params.EmbeddingModel,
		chatModel:      params.ChatModel,
		embeddingDim:   dim,

		embeddingURL: params.EmbeddingURL,
		chatURL:      params.ChatURL,

		timeoutMin:     timeout,
		embeddingBatch: batch,
		embeddingLock:  semaphore.NewWeighted(int64(parallel)),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

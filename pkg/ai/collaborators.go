package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"

	"golang.org/x/time/rate"
)

const (
	defaultMaxExtracted  = 8
	defaultMaxSubQueries = 5
)

type entityExtractionResponse struct {
	Entities []string `json:"entities" jsonschema_description:"Entity or concept names mentioned or implied by the question."`
}

type decompositionResponse struct {
	SubQueries []string `json:"sub_queries" jsonschema_description:"Sub-questions in execution order."`
}

type synonymResponse struct {
	Synonyms []string `json:"synonyms" jsonschema_description:"Alternative names for the entity."`
}

type classificationResponse struct {
	QueryType string `json:"query_type" jsonschema:"enum=SIMPLE,enum=COMPOUND,enum=MULTI_HOP" jsonschema_description:"Structural type of the question."`
}

// LLMCollaborator implements every LLM-backed collaborator interface on top
// of a GraphAIClient using structured outputs.
type LLMCollaborator struct {
	client     GraphAIClient
	limiter    *rate.Limiter
	maxRetries int
	model      string
}

// NewLLMCollaboratorParams configures an LLMCollaborator.
//
// RequestsPerSecond <= 0 disables rate limiting. Model overrides the client's
// default model when set.
type NewLLMCollaboratorParams struct {
	Client            GraphAIClient
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	Model             string
}

func NewLLMCollaborator(params NewLLMCollaboratorParams) *LLMCollaborator {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if params.RequestsPerSecond > 0 {
		burst := params.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(params.RequestsPerSecond), burst)
	}
	retries := params.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	return &LLMCollaborator{
		client:     params.Client,
		limiter:    limiter,
		maxRetries: retries,
		model:      params.Model,
	}
}

func (c *LLMCollaborator) generate(ctx context.Context, op, description, prompt string, out any) error {
	if c.client == nil {
		return &common.ExtractionError{Op: op, Err: fmt.Errorf("ai client is nil")}
	}
	var opts []GenerateOption
	if c.model != "" {
		opts = append(opts, WithModel(c.model))
	}
	err := util.RetryErrWithContext(ctx, c.maxRetries, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.client.GenerateCompletionWithFormat(ctx, op, description, prompt, out, opts...)
	})
	if err != nil {
		return &common.ExtractionError{Op: op, Err: err}
	}
	return nil
}

// ExtractEntities implements EntityExtractor. The result is deduplicated
// case-insensitively.
func (c *LLMCollaborator) ExtractEntities(ctx context.Context, query string) ([]string, error) {
	var res entityExtractionResponse
	prompt := fmt.Sprintf(ExtractEntitiesPrompt, defaultMaxExtracted, query)
	if err := c.generate(ctx, "extract_entities", "Extract entity names from a question.", prompt, &res); err != nil {
		return nil, err
	}
	return util.DedupeFold(res.Entities), nil
}

// Decompose implements QueryDecomposer.
func (c *LLMCollaborator) Decompose(ctx context.Context, query string, queryType common.QueryType) ([]string, error) {
	var res decompositionResponse
	prompt := fmt.Sprintf(DecomposePrompt, queryType, defaultMaxSubQueries, query)
	if err := c.generate(ctx, "decompose_query", "Split a question into sub-questions.", prompt, &res); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.SubQueries))
	for _, q := range res.SubQueries {
		if q = util.NormalizeLabel(q); q != "" {
			out = append(out, q)
		}
	}
	return out, nil
}

// GenerateSynonyms implements SynonymGenerator. At most maxCount names are
// returned and the entity name itself is never among them.
func (c *LLMCollaborator) GenerateSynonyms(ctx context.Context, entityName string, maxCount int) ([]string, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	var res synonymResponse
	prompt := fmt.Sprintf(SynonymPrompt, maxCount, entityName)
	if err := c.generate(ctx, "generate_synonyms", "Generate synonyms for an entity.", prompt, &res); err != nil {
		return nil, err
	}
	self := strings.ToLower(util.NormalizeLabel(entityName))
	out := make([]string, 0, maxCount)
	for _, s := range util.DedupeFold(res.Synonyms) {
		if len(out) == maxCount {
			break
		}
		if strings.ToLower(s) == self {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Classify implements QueryClassifier.
func (c *LLMCollaborator) Classify(ctx context.Context, query string) (common.QueryType, error) {
	var res classificationResponse
	prompt := fmt.Sprintf(ClassifyPrompt, query)
	if err := c.generate(ctx, "classify_query", "Classify the structure of a question.", prompt, &res); err != nil {
		return "", err
	}
	qt, err := common.ParseQueryType(res.QueryType)
	if err != nil {
		return "", &common.ExtractionError{Op: "classify_query", Err: err}
	}
	return qt, nil
}

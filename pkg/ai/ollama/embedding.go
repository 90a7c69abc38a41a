package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
)

const defaultDimensions = 1024

// GenerateEmbedding embeds a single input. Blank input yields a zero vector
// of the configured dimension.
func (c *GraphOllamaClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds every non-blank input with one embed call.
func (c *GraphOllamaClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	texts := make([]string, 0, len(inputs))
	idx := make([]int, 0, len(inputs))
	for i, in := range inputs {
		if ai.IsBlank(in) {
			out[i] = make([]float32, c.embeddingDim)
			continue
		}
		texts = append(texts, string(in))
		idx = append(idx, i)
	}
	if len(texts) == 0 {
		return out, nil
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, &api.EmbedRequest{Model: c.embeddingModel, Input: texts})
	if err != nil {
		return nil, err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}
	c.Record(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	for i, j := range idx {
		out[j] = ai.FitDimension(res.Embeddings[i], c.embeddingDim)
	}
	return out, nil
}

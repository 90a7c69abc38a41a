package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"golang.org/x/sync/errgroup"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
)

const (
	defaultDimensions     = 1536
	defaultEmbeddingBatch = 256
)

// GenerateEmbedding embeds a single query or name.
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds inputs in requests of at most embeddingBatch
// texts. Blank inputs map to zero vectors without a round trip. The result
// has one vector per input in input order.
func (c *GraphOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	pending := make([]int, 0, len(inputs))
	for i, in := range inputs {
		if ai.IsBlank(in) {
			out[i] = make([]float32, c.embeddingDim)
			continue
		}
		pending = append(pending, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(pending); start += c.embeddingBatch {
		idx := pending[start:min(start+c.embeddingBatch, len(pending))]
		g.Go(func() error {
			texts := make([]string, len(idx))
			for i, j := range idx {
				texts[i] = string(inputs[j])
			}
			vecs, err := c.embedBatch(gctx, texts)
			if err != nil {
				return err
			}
			for i, j := range idx {
				out[j] = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *GraphOpenAIClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.EmbeddingClient == nil {
		return nil, fmt.Errorf("openai embedding client is not configured")
	}

	rCtx, cancel := context.WithTimeout(ctx, time.Minute*time.Duration(c.timeoutMin))
	defer cancel()

	if err := c.embeddingLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.embeddingLock.Release(1)

	start := time.Now()
	res, err := c.EmbeddingClient.Embeddings.New(rCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.embeddingModel,
	})
	if err != nil {
		return nil, err
	}
	c.Record(ai.ModelMetrics{
		InputTokens: int(res.Usage.PromptTokens),
		TotalTokens: int(res.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(res.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, e := range res.Data {
		if e.Index < 0 || int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index out of range: %d", e.Index)
		}
		out[e.Index] = ai.FitDimension(e.Embedding, c.embeddingDim)
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}

package store

import (
	"context"
	"sort"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// EmbedTexts embeds every text and returns one vector per input. A text whose
// embedding fails gets a nil vector and the failure is logged; the call itself
// only fails when ctx is done. Batch-capable embedders are tried first and
// per-item calls are the fallback.
func EmbedTexts(ctx context.Context, embedder ai.Embedder, texts []string, parallel int) [][]float32 {
	out := make([][]float32, len(texts))
	if embedder == nil || len(texts) == 0 {
		return out
	}

	if b, ok := embedder.(ai.BatchEmbedder); ok {
		inputs := make([][]byte, len(texts))
		for i, t := range texts {
			inputs[i] = []byte(t)
		}
		res, err := b.GenerateEmbeddings(ctx, inputs)
		if err == nil && len(res) == len(texts) {
			return res
		}
		if err != nil {
			logger.Warn("[Embed] Batch embedding failed, falling back to single requests", "count", len(texts), "err", err)
		}
	}

	if parallel <= 0 {
		parallel = 4
	}
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(parallel)
	for i := range texts {
		idx := i
		eg.Go(func() error {
			emb, err := embedder.GenerateEmbedding(ectx, []byte(texts[idx]))
			if err != nil {
				logger.Warn("[Embed] Embedding failed", "err", &common.EmbeddingError{Item: texts[idx], Err: err})
				return nil
			}
			out[idx] = emb
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// SortHits orders hits by score desc, chunk id asc and truncates to topK.
func SortHits(hits []Hit, topK int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

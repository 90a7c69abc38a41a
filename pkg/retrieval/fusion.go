package retrieval

import (
	"math"
	"sort"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store"
)

// Weights are the per-source fusion weights.
type Weights struct {
	Vector  float64 `json:"vector"`
	Lexical float64 `json:"lexical"`
	Graph   float64 `json:"graph"`
}

// DefaultWeights favours vector similarity over lexical and graph evidence.
func DefaultWeights() Weights {
	return Weights{Vector: 0.7, Lexical: 0.2, Graph: 0.1}
}

// Normalized scales the weights to sum to 1. Negative weights count as 0;
// an all-zero set falls back to DefaultWeights.
func (w Weights) Normalized() Weights {
	w.Vector = math.Max(w.Vector, 0)
	w.Lexical = math.Max(w.Lexical, 0)
	w.Graph = math.Max(w.Graph, 0)
	sum := w.Vector + w.Lexical + w.Graph
	if sum <= 0 {
		return DefaultWeights()
	}
	return Weights{Vector: w.Vector / sum, Lexical: w.Lexical / sum, Graph: w.Graph / sum}
}

func (w Weights) of(source string) float64 {
	switch source {
	case SourceVector:
		return w.Vector
	case SourceLexical:
		return w.Lexical
	case SourceGraph:
		return w.Graph
	}
	return 0
}

// normalize min-max scales scores into [0,1] with the lower bound anchored
// at zero: (s-lo)/(hi-lo) with lo = min(0, min score). For non-negative
// scores this is s/max. A chunk listed twice keeps its highest score.
func normalize(hits []store.Hit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := 0.0, math.Inf(-1)
	for _, h := range hits {
		lo = math.Min(lo, h.Score)
		hi = math.Max(hi, h.Score)
	}
	span := hi - lo
	for _, h := range hits {
		n := 0.0
		if span > 0 {
			n = (h.Score - lo) / span
		}
		if prev, ok := out[h.ChunkID]; !ok || n > prev {
			out[h.ChunkID] = n
		}
	}
	return out
}

// fuse combines normalized per-source scores into ranked chunks.
func fuse(perSource map[string]map[string]float64, w Weights, topK int) []ScoredChunk {
	byID := make(map[string]*ScoredChunk)
	for _, source := range Sources {
		for id, n := range perSource[source] {
			sc, ok := byID[id]
			if !ok {
				sc = &ScoredChunk{SourceScores: make(map[string]float64)}
				sc.Chunk.ID = id
				byID[id] = sc
			}
			sc.SourceScores[source] = n
			sc.Sources = append(sc.Sources, source)
			sc.Score += w.of(source) * n
		}
	}

	out := make([]ScoredChunk, 0, len(byID))
	for _, sc := range byID {
		sort.Strings(sc.Sources)
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.ID < out[j].Chunk.ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// rankGraphHits orders graph chunks by the number of distinct matching
// entities linking to them, then by their best vector or lexical score,
// then by id, and caps the list at topK.
func rankGraphHits(counts map[string]int, perSource map[string]map[string]float64, topK int) []store.Hit {
	best := func(id string) float64 {
		return math.Max(perSource[SourceVector][id], perSource[SourceLexical][id])
	}
	hits := make([]store.Hit, 0, len(counts))
	for id, c := range counts {
		hits = append(hits, store.Hit{ChunkID: id, Score: float64(c)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		bi, bj := best(hits[i].ChunkID), best(hits[j].ChunkID)
		if bi != bj {
			return bi > bj
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

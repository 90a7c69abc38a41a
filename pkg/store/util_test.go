package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyEmbedder struct {
	fail map[string]bool
}

func (f flakyEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if f.fail[string(input)] {
		return nil, errors.New("embedding service down")
	}
	return []float32{float32(len(input)), 1}, nil
}

func TestEmbedTexts_FailedItemsAreNil(t *testing.T) {
	out := EmbedTexts(context.Background(), flakyEmbedder{fail: map[string]bool{"bad": true}}, []string{"ok", "bad", "fine"}, 2)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{2, 1}, out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, []float32{4, 1}, out[2])
}

func TestChunkRange(t *testing.T) {
	var spans [][2]int
	err := ChunkRange(5, 2, func(start, end int) error {
		spans = append(spans, [2]int{start, end})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, spans)
}

func TestSortHits(t *testing.T) {
	hits := SortHits([]Hit{{"b", 1}, {"a", 1}, {"c", 2}}, 2)
	assert.Equal(t, []Hit{{"c", 2}, {"a", 1}}, hits)
}

func TestGraphWriteValidate(t *testing.T) {
	w := GraphWrite{}
	assert.True(t, w.Empty())
	assert.NoError(t, w.Validate())
}

func TestMatchScore(t *testing.T) {
	tests := []struct {
		name, term string
		want       float64
	}{
		{"Acme Corp", "acme corp", 1},
		{"Acme Corporation", "Acme", 0.8},
		{"Machine Learning Systems", "learning machine", 2.0 / 3.0},
		{"Acme", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.term, func(t *testing.T) {
			assert.InDelta(t, tt.want, MatchScore(tt.name, tt.term), 1e-9)
		})
	}
}

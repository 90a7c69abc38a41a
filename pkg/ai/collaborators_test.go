package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	responses map[string]string
	err       error
	calls     map[string]int
}

func (s *scriptedClient) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error {
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[name]++
	if s.err != nil {
		return s.err
	}
	return UnmarshalFlexible(s.responses[name], out)
}

func (s *scriptedClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, errors.New("not used")
}

func (s *scriptedClient) ResetMetrics()            {}
func (s *scriptedClient) GetMetrics() ModelMetrics { return ModelMetrics{} }

func TestLLMCollaborator_ExtractEntitiesDedupesCaseInsensitively(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{
		"extract_entities": `{"entities": ["Acme Corp", "acme corp", " X "]}`,
	}}
	c := NewLLMCollaborator(NewLLMCollaboratorParams{Client: client})

	got, err := c.ExtractEntities(context.Background(), "who built X?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp", "X"}, got)
}

func TestLLMCollaborator_ClassifyParsesLabel(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{
		"classify_query": `{"query_type": "MULTI_HOP"}`,
	}}
	c := NewLLMCollaborator(NewLLMCollaboratorParams{Client: client})

	qt, err := c.Classify(context.Background(), "who founded the company that built X")
	require.NoError(t, err)
	assert.Equal(t, common.QueryMultiHop, qt)
}

func TestLLMCollaborator_FailuresAreExtractionErrors(t *testing.T) {
	client := &scriptedClient{err: errors.New("upstream 500")}
	c := NewLLMCollaborator(NewLLMCollaboratorParams{Client: client, MaxRetries: 3})

	_, err := c.Decompose(context.Background(), "a and b", common.QueryCompound)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionFailure))
	assert.Equal(t, 3, client.calls["decompose_query"])
}

func TestLLMCollaborator_UnknownLabelIsExtractionError(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{
		"classify_query": `{"query_type": "SOMETHING"}`,
	}}
	c := NewLLMCollaborator(NewLLMCollaboratorParams{Client: client})

	_, err := c.Classify(context.Background(), "q")
	assert.True(t, errors.Is(err, common.ErrExtractionFailure))
}

func TestLLMCollaborator_SynonymsExcludeSelfAndRespectMax(t *testing.T) {
	client := &scriptedClient{responses: map[string]string{
		"generate_synonyms": `{"synonyms": ["ACME", "Acme Corp", "Acme Corporation", "Acme Inc"]}`,
	}}
	c := NewLLMCollaborator(NewLLMCollaboratorParams{Client: client})

	got, err := c.GenerateSynonyms(context.Background(), "Acme Corp", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ACME", "Acme Corporation"}, got)
}

func TestHeuristicClassifier(t *testing.T) {
	h := HeuristicClassifier{}
	ctx := context.Background()

	tests := []struct {
		query string
		want  common.QueryType
	}{
		{"machine learning", common.QuerySimple},
		{"who founded the company that built X", common.QueryMultiHop},
		{"what is Go and what is Rust", common.QueryCompound},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := h.Classify(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	parts, err := h.Decompose(ctx, "what is Go and what is Rust", common.QueryCompound)
	require.NoError(t, err)
	assert.Equal(t, []string{"what is Go", "what is Rust"}, parts)
}

package ai

import (
	"math"
	"testing"
)

func TestUnmarshalFlexible_RepairsClassification(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "valid", input: `{"query_type":"MULTI_HOP"}`},
		{name: "unquoted key", input: `{query_type: 'MULTI_HOP'}`},
		{name: "trailing comma", input: `{"query_type":"MULTI_HOP",}`},
		{name: "truncated", input: `{"query_type":"MULTI_HOP`},
		{name: "stringified", input: `"{query_type: 'MULTI_HOP'}"`},
		{name: "doubled brace", input: "{\n{\n  \"query_type\": \"MULTI_HOP\"\n}\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got classificationResponse
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got.QueryType != "MULTI_HOP" {
				t.Fatalf("query_type = %q, want MULTI_HOP", got.QueryType)
			}
		})
	}
}

func TestUnmarshalFlexible_KeepsSubQueryOrder(t *testing.T) {
	input := `{sub_queries: ['Who founded Acme?', 'Where was the founder born?',]}`
	var got decompositionResponse
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got.SubQueries) != 2 || got.SubQueries[0] != "Who founded Acme?" {
		t.Fatalf("sub_queries = %q", got.SubQueries)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got synonymResponse
	if err := UnmarshalFlexible("no structured answer", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestUnmarshalFlexible_ModelResponses(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "markdown fenced",
			input: "```json\n{\"entities\": [\"Acme Corp\", \"X\"]}\n```",
			want:  []string{"Acme Corp", "X"},
		},
		{
			name:  "stringified with newlines",
			input: `"{\n  \"entities\": [\"Acme Corp\"]\n}\n"`,
			want:  []string{"Acme Corp"},
		},
		{
			name:  "single quotes and trailing comma",
			input: `{'entities': ['Acme Corp', 'X',]}`,
			want:  []string{"Acme Corp", "X"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got entityExtractionResponse
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if len(got.Entities) != len(tc.want) {
				t.Fatalf("UnmarshalFlexible() got = %v, want %v", got.Entities, tc.want)
			}
			for i := range tc.want {
				if got.Entities[i] != tc.want[i] {
					t.Fatalf("entities[%d] = %q, want %q", i, got.Entities[i], tc.want[i])
				}
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("CosineSimilarity() = %v, want %v", got, tc.want)
			}
		})
	}
}

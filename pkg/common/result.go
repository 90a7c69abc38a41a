package common

import (
	"fmt"
	"strings"
)

// QueryType is the structural shape of a query.
type QueryType string

const (
	QuerySimple   QueryType = "SIMPLE"
	QueryCompound QueryType = "COMPOUND"
	QueryMultiHop QueryType = "MULTI_HOP"
)

// ParseQueryType maps a label to a QueryType, case-insensitively.
func ParseQueryType(label string) (QueryType, error) {
	switch strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(label, "-", "_"))) {
	case string(QuerySimple):
		return QuerySimple, nil
	case string(QueryCompound):
		return QueryCompound, nil
	case string(QueryMultiHop), "MULTIHOP":
		return QueryMultiHop, nil
	}
	return "", fmt.Errorf("unknown query type %q", label)
}

// StepRun describes one executed sub-query.
type StepRun struct {
	SubQuery     string   `json:"sub_query"`
	SearchString string   `json:"search_string"`
	Chunks       int      `json:"chunks"`
	NewEntities  []string `json:"new_entities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// ResultMetadata carries diagnostics about how a result was produced.
type ResultMetadata struct {
	QueryID        string    `json:"query_id"`
	Namespace      string    `json:"namespace"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	Steps          []StepRun `json:"steps,omitempty"`
	DurationMs     int64     `json:"duration_ms"`

	ConsideredChunkIDs []string `json:"considered_chunk_ids,omitempty"`
	UsedChunkIDs       []string `json:"used_chunk_ids,omitempty"`
	QueriedEntityIDs   []string `json:"queried_entity_ids,omitempty"`
	FailedSources      []string `json:"failed_sources,omitempty"`
}

// GraphRAGResult is handed to the answer-generation stage.
type GraphRAGResult struct {
	Query             string         `json:"query"`
	GraphContext      *GraphContext  `json:"graph_context"`
	QueryType         QueryType      `json:"query_type"`
	SubQueries        []string       `json:"sub_queries"`
	ExecutionStrategy QueryType      `json:"execution_strategy"`
	Metadata          ResultMetadata `json:"metadata"`
}

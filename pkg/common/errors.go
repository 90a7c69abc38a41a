package common

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a single retrieval source that errored or timed out.
	ErrSourceUnavailable = errors.New("retrieval source unavailable")
	// ErrAllSourcesFailed is returned when every retrieval source failed for a query.
	ErrAllSourcesFailed = errors.New("all retrieval sources failed")
	// ErrEmbeddingFailure marks an embedding call that failed for one item.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrExtractionFailure marks a failed LLM classification, decomposition or extraction.
	ErrExtractionFailure = errors.New("extraction failure")
	// ErrProvenanceViolation marks a relationship or mention link without a source chunk.
	ErrProvenanceViolation = errors.New("provenance violation")
	// ErrConsistencyWarning marks drift detected between the stores.
	ErrConsistencyWarning = errors.New("consistency warning")
)

// SourceError wraps the failure of one named retrieval source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// ProvenanceError is returned when a write lacks a source chunk id.
type ProvenanceError struct {
	Kind string
	Ref  string
}

func (e *ProvenanceError) Error() string {
	return fmt.Sprintf("%s %q has no source_chunk_id", e.Kind, e.Ref)
}

func (e *ProvenanceError) Unwrap() error {
	return ErrProvenanceViolation
}

// ExtractionError wraps a failed LLM collaborator call.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtractionFailure, e.Err}
}

// EmbeddingError wraps a failed embedding call for a single item.
type EmbeddingError struct {
	Item string
	Err  error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %q failed: %v", e.Item, e.Err)
}

func (e *EmbeddingError) Unwrap() []error {
	return []error{ErrEmbeddingFailure, e.Err}
}

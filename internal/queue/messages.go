package queue

import (
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
)

// IngestJob hands one extraction batch to the worker. Validate requests a
// consistency check of the namespace once the batch is written.
type IngestJob struct {
	ID            string             `json:"id"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Batch         dedupe.IngestBatch `json:"batch"`
	Validate      bool               `json:"validate"`
}

// ValidateJob asks for a consistency report of one namespace.
type ValidateJob struct {
	ID            string `json:"id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Namespace     string `json:"namespace"`
}

package neo4j

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

func stringValue(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intValue(record *neo4j.Record, key string) int64 {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func floatValue(record *neo4j.Record, key string) float64 {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func stringsValue(record *neo4j.Record, key string) []string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return nil
	}
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func embeddingValue(record *neo4j.Record, key string) []float32 {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return nil
	}
	list, _ := v.([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]float32, len(list))
	for i, item := range list {
		f, _ := item.(float64)
		out[i] = float32(f)
	}
	return out
}

// embeddingParam converts an embedding to a Neo4j float list, or nil so the
// stored embedding is kept.
func embeddingParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

const entityColumns = "e.entity_id AS id, e.canonical_name AS name, e.type AS type, e.description AS description, e.embedding AS embedding"

func entityFromRecord(record *neo4j.Record) common.Entity {
	return common.Entity{
		ID:            stringValue(record, "id"),
		CanonicalName: stringValue(record, "name"),
		Type:          stringValue(record, "type"),
		Description:   stringValue(record, "description"),
		Embedding:     embeddingValue(record, "embedding"),
	}
}

const chunkColumns = "c.chunk_id AS id, c.document_id AS document_id, c.ordinal AS ordinal, c.text AS text, c.section_path AS section_path"

func chunkFromRecord(record *neo4j.Record) common.Chunk {
	return common.Chunk{
		ID:          stringValue(record, "id"),
		DocumentID:  stringValue(record, "document_id"),
		Ordinal:     int(intValue(record, "ordinal")),
		Text:        stringValue(record, "text"),
		SectionPath: stringsValue(record, "section_path"),
	}
}

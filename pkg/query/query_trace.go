package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredChunkIDs TraceEventKind = "considered_chunk_ids"
	TraceEventUsedChunkIDs       TraceEventKind = "used_chunk_ids"
	TraceEventQueriedEntityIDs   TraceEventKind = "queried_entity_ids"
	TraceEventFailedSources      TraceEventKind = "failed_sources"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	ChunkIDs  []string
	EntityIDs []string
	Sources   []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordConsideredChunkIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredChunkIDs, ChunkIDs: ids})
}

func RecordUsedChunkIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedChunkIDs, ChunkIDs: ids})
}

func RecordQueriedEntityIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityIDs, EntityIDs: ids})
}

func RecordFailedSources(t Tracer, sources ...string) {
	if t == nil || len(sources) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventFailedSources, Sources: sources})
}

// QueryTrace collects which chunks and entities a query run looked at and
// which retrieval sources failed along the way.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	consideredChunkIDs map[string]struct{}
	usedChunkIDs       map[string]struct{}
	queriedEntityIDs   map[string]struct{}
	failedSources      map[string]struct{}
}

type QueryTraceSnapshot struct {
	ConsideredChunkIDs []string
	UsedChunkIDs       []string
	QueriedEntityIDs   []string
	FailedSources      []string
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredChunkIDs: make(map[string]struct{}),
		usedChunkIDs:       make(map[string]struct{}),
		queriedEntityIDs:   make(map[string]struct{}),
		failedSources:      make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredChunkIDs:
		addAll(t.consideredChunkIDs, event.ChunkIDs)
	case TraceEventUsedChunkIDs:
		addAll(t.usedChunkIDs, event.ChunkIDs)
	case TraceEventQueriedEntityIDs:
		addAll(t.queriedEntityIDs, event.EntityIDs)
	case TraceEventFailedSources:
		addAll(t.failedSources, event.Sources)
	default:
		return
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		ConsideredChunkIDs: sortedSet(t.consideredChunkIDs),
		UsedChunkIDs:       sortedSet(t.usedChunkIDs),
		QueriedEntityIDs:   sortedSet(t.queriedEntityIDs),
		FailedSources:      sortedSet(t.failedSources),
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

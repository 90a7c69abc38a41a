package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/queue"
	mid "github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/metrics"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/store/memory"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

type fakeSearcher struct {
	topK int
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, query, namespace string, topK int, opts ...retrieval.SearchOption) (*retrieval.SearchResult, error) {
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.SearchResult{}, nil
}

type fakeExpander struct{}

func (fakeExpander) Expand(ctx context.Context, query, namespace string, n int) ([]expand.Expansion, error) {
	return []expand.Expansion{{Name: "Acme Corp", Score: 1, Origin: expand.OriginCandidate}}, nil
}

type fakeRunner struct{ err error }

func (f fakeRunner) Run(ctx context.Context, query, namespace string) (*common.GraphRAGResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	gc := common.NewGraphContext()
	gc.AddEntity(common.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: "ORG"}, 0)
	return &common.GraphRAGResult{Query: query, GraphContext: gc, QueryType: common.QuerySimple, ExecutionStrategy: common.QuerySimple}, nil
}

type fakeValidator struct{}

func (fakeValidator) Validate(ctx context.Context, ns string) (*validate.Report, error) {
	return &validate.Report{Namespace: ns, VectorChunks: 3, GraphChunks: 3, LexicalDocuments: 3, Consistent: true}, nil
}

type fakeOverrides struct {
	mu sync.Mutex
	m  map[string]string
}

func (f *fakeOverrides) Overrides(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.m))
	for k, v := range f.m {
		out[k] = v
	}
	return out, nil
}

func (f *fakeOverrides) SetOverride(ctx context.Context, label, canonical string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[label] = canonical
	return nil
}

func (f *fakeOverrides) DeleteOverride(ctx context.Context, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, label)
	return nil
}

type fakeQueue struct {
	keys   []string
	bodies [][]byte
}

func (f *fakeQueue) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, msg.Body)
	return nil
}

func newTestApp() *mid.App {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("test", reg)
	m.QueryRun("SIMPLE")
	return &mid.App{
		Searcher:  &fakeSearcher{},
		Expander:  fakeExpander{},
		Queries:   fakeRunner{},
		Validator: fakeValidator{},
		Overrides: &fakeOverrides{m: map[string]string{}},
		Ingester:  dedupe.NewEngine(dedupe.NewEngineParams{Graph: memory.NewGraphStore()}),
		Registry:  reg,
	}
}

func do(t *testing.T, app *mid.App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := New(app)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp()

	rec := do(t, app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_query_runs_total")
}

func TestSearchHandler(t *testing.T) {
	app := newTestApp()
	s := app.Searcher.(*fakeSearcher)

	rec := do(t, app, http.MethodPost, "/api/search", `{"query":"who founded acme","namespace":"docs"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retrieval.DefaultTopK, s.topK)

	rec = do(t, app, http.MethodPost, "/api/search", `{"query":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, app, http.MethodPost, "/api/search", `{"query":"x","namespace":"docs","weights":{"vector":0,"lexical":0,"graph":0}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.err = fmt.Errorf("search: %w", common.ErrAllSourcesFailed)
	rec = do(t, app, http.MethodPost, "/api/search", `{"query":"x","namespace":"docs"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestExpandHandler(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodPost, "/api/expand", `{"query":"acme","namespace":"docs","target_count":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Expansions []expand.Expansion `json:"expansions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Expansions, 1)
	assert.Equal(t, "Acme Corp", body.Expansions[0].Name)
}

func TestQueryHandler(t *testing.T) {
	app := newTestApp()
	rec := do(t, app, http.MethodPost, "/api/query", `{"query":"who founded acme","namespace":"docs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Acme Corp")

	app.Queries = fakeRunner{err: context.DeadlineExceeded}
	rec = do(t, app, http.MethodPost, "/api/query", `{"query":"q","namespace":"docs"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	app.Queries = fakeRunner{err: errors.New("boom")}
	rec = do(t, app, http.MethodPost, "/api/query", `{"query":"q","namespace":"docs"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestValidateNamespaceHandler(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodGet, "/api/namespaces/docs/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report validate.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "docs", report.Namespace)
	assert.True(t, report.Consistent)
}

func TestLatestReportWithoutStorage(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodGet, "/api/namespaces/docs/reports/latest", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestOverrideRoutes(t *testing.T) {
	app := newTestApp()

	rec := do(t, app, http.MethodPut, "/api/overrides", `{"label":"starred in","canonical":"acted in"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, http.MethodGet, "/api/overrides", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"overrides":{"STARRED_IN":"ACTED_IN"}}`, rec.Body.String())

	rec = do(t, app, http.MethodDelete, "/api/overrides/starred_in", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, app, http.MethodGet, "/api/overrides", "")
	assert.JSONEq(t, `{"overrides":{}}`, rec.Body.String())

	rec = do(t, app, http.MethodPut, "/api/overrides", `{"label":"  ","canonical":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

const ingestBody = `{
	"namespace": "docs",
	"validate": true,
	"chunks": [{"chunk_id": "c1", "document_id": "d1", "text": "Acme was founded by Ada."}],
	"entities": [{"entity_id": "e1", "canonical_name": "Acme", "type": "ORG"}],
	"mentions": [{"entity_id": "e1", "source_chunk_id": "c1"}, {"entity_id": "e1", "source_chunk_id": ""}]
}`

func TestIngestHandler_Inline(t *testing.T) {
	rec := do(t, newTestApp(), http.MethodPost, "/api/ingest", ingestBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Report dedupe.IngestReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Report.Chunks)
	assert.Equal(t, 1, body.Report.Mentions)
	assert.Equal(t, 1, body.Report.RejectedMentions)
}

func TestIngestHandler_Enqueues(t *testing.T) {
	app := newTestApp()
	q := &fakeQueue{}
	app.Queue = q

	rec := do(t, app, http.MethodPost, "/api/ingest", ingestBody)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{queue.IngestQueue}, q.keys)

	var job queue.IngestJob
	require.NoError(t, json.Unmarshal(q.bodies[0], &job))
	assert.Equal(t, "docs", job.Batch.Namespace)
	assert.True(t, job.Validate)
	assert.NotEmpty(t, job.ID)
}

package middleware

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/queue"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/validate"
)

type Searcher interface {
	Search(ctx context.Context, query string, namespace string, topK int, opts ...retrieval.SearchOption) (*retrieval.SearchResult, error)
}

type Expander interface {
	Expand(ctx context.Context, query string, namespace string, targetCount int) ([]expand.Expansion, error)
}

type QueryRunner interface {
	Run(ctx context.Context, query string, namespace string) (*common.GraphRAGResult, error)
}

type Validator interface {
	Validate(ctx context.Context, namespace string) (*validate.Report, error)
}

type OverrideManager interface {
	Overrides(ctx context.Context) (map[string]string, error)
	SetOverride(ctx context.Context, label, canonical string) error
	DeleteOverride(ctx context.Context, label string) error
}

type ReportReader interface {
	Latest(ctx context.Context, namespace string) (*validate.Report, error)
}

type Ingester interface {
	Ingest(ctx context.Context, batch dedupe.IngestBatch) (dedupe.IngestReport, error)
}

// App holds the services the handlers call. Reports and Queue are optional:
// without Queue ingestion runs inline on the request.
type App struct {
	Searcher  Searcher
	Expander  Expander
	Queries   QueryRunner
	Validator Validator
	Overrides OverrideManager
	Reports   ReportReader
	Ingester  Ingester
	Queue     queue.Publisher
	Registry  *prometheus.Registry
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}

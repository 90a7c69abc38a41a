package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo, app *middleware.App) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if app.Registry != nil {
		gatherer = app.Registry
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api")

	// Retrieval routes
	api.POST("/search", routes.SearchHandler)
	api.POST("/expand", routes.ExpandHandler)
	api.POST("/query", routes.QueryHandler)

	// Consistency routes
	api.GET("/namespaces/:namespace/validate", routes.ValidateNamespaceHandler)
	api.GET("/namespaces/:namespace/reports/latest", routes.GetLatestReportHandler)

	// Relation type override routes
	api.GET("/overrides", routes.GetOverridesHandler)
	api.PUT("/overrides", routes.PutOverrideHandler)
	api.DELETE("/overrides/:label", routes.DeleteOverrideHandler)

	// Ingestion routes
	api.POST("/ingest", routes.IngestHandler)
}

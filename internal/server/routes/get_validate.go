package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

type namespaceParams struct {
	Namespace string `param:"namespace" validate:"required"`
}

// ValidateNamespaceHandler runs a consistency check. Drift is reported in
// the body with status 200; only failed counts produce an error status.
func ValidateNamespaceHandler(c echo.Context) error {
	params := new(namespaceParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	report, err := app.Validator.Validate(c.Request().Context(), params.Namespace)
	if err != nil {
		status := statusOf(err)
		logger.Error("[Server] Validation failed", "namespace", params.Namespace, "err", err)
		return c.JSON(status, messageResponse{Message: errorMessage(status)})
	}
	return c.JSON(http.StatusOK, report)
}

func GetLatestReportHandler(c echo.Context) error {
	params := new(namespaceParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	if app.Reports == nil {
		return c.JSON(http.StatusNotImplemented, messageResponse{Message: "Report storage is not configured"})
	}
	report, err := app.Reports.Latest(c.Request().Context(), params.Namespace)
	if err != nil {
		logger.Error("[Server] Failed to load report", "namespace", params.Namespace, "err", err)
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}
	if report == nil {
		return c.JSON(http.StatusNotFound, messageResponse{Message: "No report found"})
	}
	return c.JSON(http.StatusOK, report)
}

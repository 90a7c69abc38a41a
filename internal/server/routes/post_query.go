package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

func QueryHandler(c echo.Context) error {
	type queryParams struct {
		Query     string `json:"query" validate:"required"`
		Namespace string `json:"namespace" validate:"required"`
	}

	params := new(queryParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	result, err := app.Queries.Run(c.Request().Context(), params.Query, params.Namespace)
	if err != nil {
		status := statusOf(err)
		logger.Error("[Server] Query failed", "namespace", params.Namespace, "err", err)
		return c.JSON(status, messageResponse{Message: errorMessage(status)})
	}
	return c.JSON(http.StatusOK, result)
}

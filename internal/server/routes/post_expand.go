package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/expand"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

func ExpandHandler(c echo.Context) error {
	type expandParams struct {
		Query       string `json:"query" validate:"required"`
		Namespace   string `json:"namespace" validate:"required"`
		TargetCount int    `json:"target_count" validate:"omitempty,min=1,max=500"`
	}

	type expandResponse struct {
		Expansions []expand.Expansion `json:"expansions"`
	}

	params := new(expandParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}

	app := c.(*middleware.AppContext).App
	expansions, err := app.Expander.Expand(c.Request().Context(), params.Query, params.Namespace, params.TargetCount)
	if err != nil {
		status := statusOf(err)
		logger.Error("[Server] Expansion failed", "namespace", params.Namespace, "err", err)
		return c.JSON(status, messageResponse{Message: errorMessage(status)})
	}
	if expansions == nil {
		expansions = []expand.Expansion{}
	}
	return c.JSON(http.StatusOK, expandResponse{Expansions: expansions})
}

package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

type overridesResponse struct {
	Overrides map[string]string `json:"overrides"`
}

func GetOverridesHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	overrides, err := app.Overrides.Overrides(c.Request().Context())
	if err != nil {
		logger.Error("[Server] Failed to list overrides", "err", err)
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}
	if overrides == nil {
		overrides = map[string]string{}
	}
	return c.JSON(http.StatusOK, overridesResponse{Overrides: overrides})
}

func PutOverrideHandler(c echo.Context) error {
	type putOverrideParams struct {
		Label     string `json:"label" validate:"required"`
		Canonical string `json:"canonical" validate:"required"`
	}

	params := new(putOverrideParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	label := util.NormalizeRelationType(params.Label)
	canonical := util.NormalizeRelationType(params.Canonical)
	if label == "" || canonical == "" {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "label and canonical must not be blank"})
	}

	app := c.(*middleware.AppContext).App
	if err := app.Overrides.SetOverride(c.Request().Context(), label, canonical); err != nil {
		logger.Error("[Server] Failed to set override", "label", label, "err", err)
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}
	return c.JSON(http.StatusOK, overridesResponse{Overrides: map[string]string{label: canonical}})
}

func DeleteOverrideHandler(c echo.Context) error {
	type deleteOverrideParams struct {
		Label string `param:"label" validate:"required"`
	}

	params := new(deleteOverrideParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	label := util.NormalizeRelationType(params.Label)

	app := c.(*middleware.AppContext).App
	if err := app.Overrides.DeleteOverride(c.Request().Context(), label); err != nil {
		logger.Error("[Server] Failed to delete override", "label", label, "err", err)
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}
	return c.NoContent(http.StatusNoContent)
}

package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/retrieval"
)

func SearchHandler(c echo.Context) error {
	type searchParams struct {
		Query       string   `json:"query" validate:"required"`
		Namespace   string   `json:"namespace" validate:"required"`
		TopK        int      `json:"top_k" validate:"omitempty,min=1,max=200"`
		EntityNames []string `json:"entity_names"`
		Weights     *struct {
			Vector  float64 `json:"vector" validate:"min=0"`
			Lexical float64 `json:"lexical" validate:"min=0"`
			Graph   float64 `json:"graph" validate:"min=0"`
		} `json:"weights"`
	}

	params := new(searchParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}
	if params.TopK == 0 {
		params.TopK = retrieval.DefaultTopK
	}

	var opts []retrieval.SearchOption
	if len(params.EntityNames) > 0 {
		opts = append(opts, retrieval.WithEntities(params.EntityNames...))
	}
	if w := params.Weights; w != nil {
		if w.Vector+w.Lexical+w.Graph <= 0 {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "At least one weight must be positive"})
		}
		opts = append(opts, retrieval.WithWeights(retrieval.Weights{Vector: w.Vector, Lexical: w.Lexical, Graph: w.Graph}))
	}

	app := c.(*middleware.AppContext).App
	result, err := app.Searcher.Search(c.Request().Context(), params.Query, params.Namespace, params.TopK, opts...)
	if err != nil {
		status := statusOf(err)
		logger.Error("[Server] Search failed", "namespace", params.Namespace, "err", err)
		return c.JSON(status, messageResponse{Message: errorMessage(status)})
	}
	return c.JSON(http.StatusOK, result)
}

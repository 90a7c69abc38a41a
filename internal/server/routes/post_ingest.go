package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/queue"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/server/middleware"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/dedupe"
	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/logger"
)

// IngestHandler enqueues a batch for the worker, or ingests it inline when
// no queue is configured.
func IngestHandler(c echo.Context) error {
	type ingestParams struct {
		Namespace     string                `json:"namespace" validate:"required"`
		CorrelationID string                `json:"correlation_id"`
		Validate      bool                  `json:"validate"`
		Chunks        []common.Chunk        `json:"chunks"`
		Sections      []common.Section      `json:"sections"`
		Entities      []common.Entity       `json:"entities"`
		Relationships []common.Relationship `json:"relationships"`
		Mentions      []common.MentionLink  `json:"mentions"`
	}

	type ingestResponse struct {
		JobID  string               `json:"job_id,omitempty"`
		Report *dedupe.IngestReport `json:"report,omitempty"`
	}

	params := new(ingestParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request params"})
	}

	batch := dedupe.IngestBatch{
		Namespace:     params.Namespace,
		Chunks:        params.Chunks,
		Sections:      params.Sections,
		Entities:      params.Entities,
		Relationships: params.Relationships,
		Mentions:      params.Mentions,
	}
	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if app.Queue == nil {
		report, err := app.Ingester.Ingest(ctx, batch)
		if err != nil {
			status := statusOf(err)
			logger.Error("[Server] Ingestion failed", "namespace", params.Namespace, "err", err)
			return c.JSON(status, messageResponse{Message: errorMessage(status)})
		}
		return c.JSON(http.StatusOK, ingestResponse{Report: &report})
	}

	id, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Internal server error"})
	}
	job := queue.IngestJob{ID: id, CorrelationID: params.CorrelationID, Batch: batch, Validate: params.Validate}
	if err := queue.PublishJSON(ctx, app.Queue, queue.IngestQueue, params.CorrelationID, job); err != nil {
		logger.Error("[Server] Failed to enqueue batch", "namespace", params.Namespace, "err", err)
		return c.JSON(http.StatusServiceUnavailable, messageResponse{Message: "Queue unavailable"})
	}
	logger.Info("[Server] Batch enqueued", "job_id", id, "namespace", params.Namespace, "chunks", len(batch.Chunks))
	return c.JSON(http.StatusAccepted, ingestResponse{JobID: id})
}

package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kiwi/retrieval/pkg/common"
)

type messageResponse struct {
	Message string `json:"message"`
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, common.ErrAllSourcesFailed), errors.Is(err, common.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrExtractionFailure):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrProvenanceViolation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorMessage(status int) string {
	switch status {
	case http.StatusGatewayTimeout:
		return "Request timed out"
	case 499:
		return "Request cancelled"
	case http.StatusServiceUnavailable:
		return "Retrieval sources unavailable"
	case http.StatusBadGateway:
		return "Language model request failed"
	case http.StatusUnprocessableEntity:
		return "Provenance violation"
	}
	return "Internal server error"
}

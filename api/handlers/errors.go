// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/0MATRIX0/agent-connect/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendModelError maps domain errors to responses.
func sendModelError(c *gin.Context, err error) {
	var spawnErr *model.SpawnError
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrProjectNotFound):
		sendError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrNotificationNotFound):
		sendError(c, http.StatusNotFound, "NOTIFICATION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrSubscriptionNotFound):
		sendError(c, http.StatusNotFound, "SUBSCRIPTION_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrProjectExists):
		sendError(c, http.StatusConflict, "PROJECT_EXISTS", err.Error())
	case errors.Is(err, model.ErrInvalidProject),
		errors.Is(err, model.ErrInvalidSubscription),
		errors.Is(err, model.ErrInvalidNotification):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.As(err, &spawnErr):
		sendError(c, http.StatusInternalServerError, "SPAWN_FAILED", err.Error())
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

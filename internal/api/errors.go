package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/rongwang/cryptotrace-server/internal/service"
	"go.uber.org/zap"
)

// retryAfterSeconds is suggested to clients when an upstream is down
const retryAfterSeconds = "30"

var kindStatus = map[service.Kind]int{
	service.KindValidation:         http.StatusBadRequest,
	service.KindInvalidCredentials: http.StatusUnauthorized,
	service.KindUnauthorized:       http.StatusUnauthorized,
	service.KindInvalidSignupToken: http.StatusForbidden,
	service.KindForbidden:          http.StatusForbidden,
	service.KindNotFound:           http.StatusNotFound,
	service.KindConflict:           http.StatusConflict,
	service.KindUpstream:           http.StatusServiceUnavailable,
	service.KindInternal:           http.StatusInternalServerError,
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind service.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// abortWithError writes the error envelope. Internal errors are logged and
// answered with a generic message.
func abortWithError(c *gin.Context, logger *zap.Logger, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		logger.Error("request failed",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
			Status:  "error",
			Code:    string(service.KindInternal),
			Message: "Internal server error",
		})
		return
	}

	if se.Kind == service.KindUpstream {
		logger.Warn("upstream unavailable", zap.String("path", c.FullPath()), zap.Error(se.Err))
		c.Header("Retry-After", retryAfterSeconds)
	}
	c.AbortWithStatusJSON(StatusFor(se.Kind), models.ErrorResponse{
		Status:  "error",
		Code:    string(se.Kind),
		Message: se.Message,
		Fields:  se.Fields,
	})
}

// abortWithKind writes an error envelope that did not come from the service
func abortWithKind(c *gin.Context, kind service.Kind, message string) {
	c.AbortWithStatusJSON(StatusFor(kind), models.ErrorResponse{
		Status:  "error",
		Code:    string(kind),
		Message: message,
	})
}

// bindError turns a gin binding failure into a validation envelope
func bindError(c *gin.Context, err error) {
	fields := models.FieldErrors(err)
	message := "Invalid request"
	if fields == nil {
		message = "Invalid JSON body"
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    string(service.KindValidation),
		Message: message,
		Fields:  fields,
	})
}

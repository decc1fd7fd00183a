package middleware

import (
	stderrors "errors"
	"net/http"

	"callpulse/internal/core/domain"
	"callpulse/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ToAppError maps domain errors to API errors. Unknown errors become
// internal errors.
func ToAppError(err error) *errors.AppError {
	if errors.IsAppError(err) {
		return errors.GetAppError(err)
	}

	var appErr *errors.AppError
	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound):
		appErr = errors.NewNotFoundError("session").WithContext("detail", err.Error())
	case stderrors.Is(err, domain.ErrSessionExists), stderrors.Is(err, domain.ErrStaleSample):
		appErr = errors.NewConflictError(err.Error())
	case stderrors.Is(err, domain.ErrInvalidSample):
		appErr = errors.NewInvalidInputError(err.Error())
	case stderrors.Is(err, domain.ErrSnapshotFailed), stderrors.Is(err, domain.ErrNoProvider):
		appErr = errors.NewServiceUnavailableError(err.Error())
	default:
		appErr = errors.NewInternalError("Internal server error")
	}
	appErr.Cause = err
	return appErr
}

// ErrorHandlerMiddleware renders the last error a handler attached with
// c.Error as a structured JSON response.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		appErr := ToAppError(err)

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"context", appErr.Context,
			)
		}

		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
			"details": appErr.Context,
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}

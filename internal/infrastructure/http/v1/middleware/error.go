package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"facturas/internal/core/apperror"
	"facturas/internal/infrastructure/http/v1/dto"
	"facturas/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		ctx := c.Request.Context()
		status := http.StatusInternalServerError
		var body dto.ErrorResponse

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(ctx, "request error",
					"code", appErr.Code,
					"cause", appErr.Err,
				)
			}
			if appErr.HTTPStatus != 0 {
				status = appErr.HTTPStatus
			}
			body = dto.ErrorResponse{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			}
			if status >= http.StatusInternalServerError {
				// Internal causes stay in the log.
				body.Message = "Internal server error"
				body.Details = map[string]any{"request_id": c.GetString("request_id")}
			}
		} else {
			logger.Error(ctx, "unhandled error",
				"error", err,
			)
			body = dto.ErrorResponse{
				Code:    apperror.CodeInternal,
				Message: "Internal server error",
				Details: map[string]any{"request_id": c.GetString("request_id")},
			}
		}

		raw, marshalErr := json.Marshal(body)
		if marshalErr != nil {
			logger.Error(ctx, "encode error response", "error", marshalErr)
			c.Status(status)
			return
		}

		finishIdempotency(c, status, raw)
		c.Data(status, "application/json; charset=utf-8", raw)
	}
}

// finishIdempotency stores a 4xx outcome for replay. 5xx outcomes release
// the key so a retry runs again.
func finishIdempotency(c *gin.Context, status int, body []byte) {
	key, ok := c.Get(ctxIdempotencyKey)
	if !ok {
		return
	}
	storeVal, ok := c.Get(ctxIdempotencyStore)
	if !ok {
		return
	}
	store, ok := storeVal.(IdempotencyStore)
	if !ok || store == nil {
		return
	}

	ctx := c.Request.Context()
	var err error
	if status >= http.StatusInternalServerError {
		err = store.ReleaseKey(ctx, key.(string))
	} else {
		err = store.FailKey(ctx, key.(string), status, "application/json; charset=utf-8", body)
	}
	if err != nil {
		logger.Warn(ctx, "failed to finish idempotency key",
			"key", key,
			"status", status,
			"error", err)
	}
}

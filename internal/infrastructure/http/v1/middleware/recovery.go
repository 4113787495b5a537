// Package middleware provides HTTP middleware components.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"facturas/internal/core/apperror"
	"facturas/internal/infrastructure/http/v1/dto"
	"facturas/pkg/logger"
)

// Recovery middleware recovers from panics and returns 500 error.
// Logs stack trace but never exposes internal details to client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)

				// The panic unwound ErrorHandler, so the response is written
				// and the idempotency key released here.
				_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", err)))
				finishIdempotency(c, http.StatusInternalServerError, nil)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
						Code:    apperror.CodeInternal,
						Message: "Internal server error",
						Details: map[string]any{"request_id": c.GetString("request_id")},
					})
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"facturas/internal/infrastructure/http/v1/handlers"
	"facturas/internal/infrastructure/http/v1/middleware"
	"facturas/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation
	JWTValidator middleware.JWTValidator

	// Invoices drives the invoice lifecycle
	Invoices handlers.InvoiceService

	// History serves /invoices/:id/history. Optional.
	History handlers.HistorySource

	// Idempotency enables X-Idempotency-Key handling on mutations. Optional.
	Idempotency middleware.IdempotencyStore

	// Database backs the readiness and info probes
	Database handlers.Database

	AppName    string
	AppVersion string

	// MaxBodySize caps request bodies; 0 disables the cap.
	MaxBodySize int64
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())
	if cfg.MaxBodySize > 0 {
		router.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}

	// Health endpoints (no auth)
	if cfg.Database != nil {
		healthHandler := handlers.NewHealthHandler(cfg.Database, cfg.AppName, cfg.AppVersion)
		health := router.Group("/health")
		{
			health.GET("/live", healthHandler.Live)
			health.GET("/ready", healthHandler.Ready)
			health.GET("/info", healthHandler.Info)
		}
	}

	v1 := router.Group("/api/v1")
	{
		protected := v1.Group("")
		protected.Use(middleware.Auth(cfg.JWTValidator))
		if cfg.Idempotency != nil {
			protected.Use(middleware.Idempotency(cfg.Idempotency))
		}

		baseHandler := handlers.NewBaseHandler()
		invoiceHandler := handlers.NewInvoiceHandler(baseHandler, cfg.Invoices, cfg.History)
		invoiceHandler.RegisterRoutes(protected.Group("/invoices"))
	}

	return router
}

// Package api exposes printer addresses and uploads over HTTP.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arloliu/go-flashforge/api/handlers"
	"github.com/arloliu/go-flashforge/device"
	"github.com/arloliu/go-flashforge/logger"
	"github.com/arloliu/go-flashforge/settings"
)

// NewRouter sets up the API routes.
func NewRouter(registry *device.Registry, book *settings.AddressBook, l logger.Logger) *gin.Engine {
	if l == nil {
		l = logger.GetLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(l))

	handler := handlers.NewHandler(registry, book, l)

	api := router.Group("/api/v1")
	{
		// Printer address endpoints
		api.GET("/printers", handler.GetPrinters)
		api.GET("/printers/:id", handler.GetPrinter)
		api.PUT("/printers/:id", handler.SavePrinter)
		api.DELETE("/printers/:id", handler.DeletePrinter)

		// Upload endpoints
		api.POST("/printers/:id/jobs", handler.CreatePrintJob)
		api.GET("/printers/:id/status", handler.GetPrinterStatus)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "devices": registry.Len()})
	})

	return router
}

func requestLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Package http is the local ops surface: health, status, and manual
// triggers. It binds to the configured port and carries no auth, so it must
// stay behind the deployment boundary.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// NewRouter assembles the gin engine.
func NewRouter(h *Handler, environment string, logger *slog.Logger) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))

	router.GET("/healthz", h.Healthz)

	api := router.Group("/api")
	{
		api.GET("/status", h.Status)
		api.GET("/status/summary", h.StatusSummary)
		api.POST("/celebrate-now", h.CelebrateNow)
		api.POST("/canvas/refresh", h.CanvasRefresh)
	}

	return router
}

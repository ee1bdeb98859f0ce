// Package api exposes the dashboard operations over HTTP.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nholik/smso/internal/control"
	"github.com/nholik/smso/internal/deploy"
	"github.com/rs/zerolog"
)

// NewRouter builds the gin engine serving the dashboard routes. An empty origins list allows
// any origin.
func NewRouter(dashboard *control.Dashboard, logger zerolog.Logger, origins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	config := cors.DefaultConfig()
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	router.Use(cors.New(config))

	h := &handler{dashboard: dashboard, logger: logger}
	group := router.Group("/api")
	setupServiceRoutes(group.Group("/services/:name"), h)
	group.POST("/deploy", h.deployAll)
	group.POST("/stop", h.stopAll)
	group.GET("/status", h.statusTable)
	group.GET("/history", h.history)
	group.GET("/health/summary", h.healthSummary)
	group.POST("/monitor/run", h.runMonitor)

	return router
}

func setupServiceRoutes(router *gin.RouterGroup, h *handler) {
	router.POST("/deploy", h.deploy)
	router.POST("/stop", h.stop)
	router.POST("/rollback", h.rollback)
	router.GET("/status", h.status)
	router.GET("/uptime", h.uptime)
	router.GET("/version", h.version)
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("api request")
	}
}

// httpStatus maps a result kind to a response code. Messages are always returned.
func httpStatus(kind deploy.Kind) int {
	switch kind {
	case deploy.KindOK:
		return http.StatusOK
	case deploy.KindServiceNotFound:
		return http.StatusNotFound
	case deploy.KindBusy:
		return http.StatusConflict
	case deploy.KindRegistryError:
		return http.StatusInternalServerError
	case deploy.KindTransportError, deploy.KindUnknownOutcome:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

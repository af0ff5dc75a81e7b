package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dev.helix.recall/internal/engine"
)

// NewRouter builds the service's gin router.
func NewRouter(eng *engine.Engine, registry *prometheus.Registry, logger *logrus.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	mem := NewMemoryHandler(eng, logger)

	v1 := router.Group("/v1")
	{
		v1.POST("/memory/search", mem.Search)
		v1.POST("/memory", mem.Remember)
		v1.GET("/reminders/due", mem.DueReminders)
		v1.POST("/reminders/:id/consume", mem.ConsumeReminder)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return router
}

// requestLogger logs each request with method, path, status, and latency.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Request handled")
	}
}

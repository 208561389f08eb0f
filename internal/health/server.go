package health

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/metrics"
	"github.com/JimmySunCreater/KnowledgeBase-Dify-MinerU/internal/worker"
)

// NewRouter configures the read-only status surface. It is served from a
// secondary goroutine and only ever reads orchestrator state through the
// tracker.
func NewRouter(logger *slog.Logger, checker *Checker, tracker *worker.Tracker, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		report := checker.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if !report.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	})

	r.GET("/ready", func(c *gin.Context) {
		report := checker.CheckReadiness(c.Request.Context())
		code := http.StatusOK
		if !report.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":     report.Healthy,
			"timestamp": report.Timestamp,
			"checks":    report.Checks,
		})
	})

	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, tracker.Snapshot())
	})

	return r
}

// requestLogger logs served requests with slog.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("HTTP request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

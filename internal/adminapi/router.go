// Package adminapi exposes the pool's operational surface over HTTP:
// liveness and a metrics snapshot. It is deliberately thin — every
// handler reads through to pkg/pool and does no business logic of its
// own, the same division the teacher's handlers package draws between
// HTTP concerns and the services layer underneath it.
package adminapi

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nodeswarm-go/taskpool/pkg/pool"
)

// NewRouter builds a Gin engine serving the admin API against p. logger
// is used for request logging and panic recovery, matching the
// Logger+RecoveryWithZap middleware stack the teacher's server package
// documents.
func NewRouter(p *pool.Pool, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, "", true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.GET("/healthz", handleHealthz(p))
	router.GET("/metrics", handleMetrics(p))

	return router
}

// handleHealthz reports the pool alive as long as it has at least one
// worker slot; a fully drained pool (Size() == 0 after Close) reports
// unhealthy rather than crashing callers that still poll it.
func handleHealthz(p *pool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p.Size() == 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "draining"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// handleMetrics returns the pool's current pool.MetricsSnapshot as JSON.
func handleMetrics(p *pool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, p.GetMetrics())
	}
}

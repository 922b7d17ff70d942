package worker

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type ReadinessDeps interface {
	Ping(ctx context.Context) error
}

type depthReporter interface {
	Depth(ctx context.Context, queue string) (int, error)
}

// HealthHandler serves the worker's probes on its own port:
// /healthz, /readyz, /stats and, when metrics is non-nil, /metrics.
func (w *Worker) HealthHandler(deps map[string]ReadinessDeps, metrics http.Handler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	// liveness: process is up
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// readiness: consuming, not draining, dependencies reachable
	r.GET("/readyz", func(c *gin.Context) {
		if !w.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
		defer cancel()

		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "dependency": name})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/stats", func(c *gin.Context) {
		body := gin.H{"exports": w.Stats(), "ready": w.Ready()}

		if dr, ok := w.sub.(depthReporter); ok {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
			defer cancel()

			if n, err := dr.Depth(ctx, w.cfg.Queue); err == nil {
				body["queueDepth"] = n
			}
		}

		c.JSON(http.StatusOK, body)
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	return r
}

package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openmusic/openmusic/internal/config"
	"github.com/openmusic/openmusic/internal/http/handlers"
	"github.com/openmusic/openmusic/internal/http/middlewares"
	"github.com/openmusic/openmusic/internal/observability"
)

const maxExportBodyBytes = 16 << 10

type Deps struct {
	Log     *slog.Logger
	Tokens  middlewares.TokenVerifier
	Exports handlers.ExportSubmitter
	// Prom is optional; without it /metrics is not mounted.
	Prom   *observability.Prom
	Checks map[string]handlers.Check
}

func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware("openmusic-api"))
	r.Use(middlewares.RequestLogger(log))

	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
		r.GET("/metrics", gin.WrapH(deps.Prom.Handler()))
	}

	health := handlers.NewHealthHandler(deps.Checks)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)

	authMW := middlewares.NewAuthMiddleware(deps.Tokens)
	limiter := middlewares.NewRateLimiter(cfg.ExportRateRPS, cfg.ExportRateBurst)
	exportsHandler := handlers.NewExportsHandler(deps.Exports, log)

	export := r.Group("/export")
	export.Use(
		authMW.RequireAuth(),
		limiter.Middleware(middlewares.KeyByUserOrIP),
		middlewares.RequireJSON(),
		middlewares.MaxBodyBytes(maxExportBodyBytes),
	)
	export.POST("/playlists/:playlistId", exportsHandler.ExportPlaylist)

	return r
}

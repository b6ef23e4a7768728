package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/goldmine/internal/api/handler"
	"github.com/timmy/goldmine/internal/api/middleware"
	"github.com/timmy/goldmine/internal/api/stream"
	"github.com/timmy/goldmine/internal/config"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/service"
	"github.com/timmy/goldmine/internal/telemetry"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Jobs         handler.RenderJobs
	Hub          *stream.Hub
	Documents    handler.DocumentStore
	Searcher     handler.ExerciseSearcher
	Assets       *service.AssetLocator
	Preview      *service.PreviewService
	Mirror       *service.AssetMirror
	DocumentRoot string
	Logger       *logger.Logger
	// Ping checks the database for /health. Nil skips the check.
	Ping func(ctx context.Context) error
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, cfg *config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	corsCfg := middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(corsCfg))

	healthHandler := handler.NewHealthHandler(deps.Ping)
	jobHandler := handler.NewRenderJobHandler(deps.Jobs, deps.Hub, func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		return origin == "" || middleware.IsOriginAllowed(origin, corsCfg)
	})
	documentHandler := handler.NewDocumentHandler(deps.Documents, deps.Assets, deps.Preview, deps.Mirror, deps.DocumentRoot)
	searchHandler := handler.NewSearchHandler(deps.Searcher)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Render jobs
		v1.POST("/render/jobs", jobHandler.Create)
		v1.GET("/render/jobs", jobHandler.List)
		v1.GET("/render/jobs/:id", jobHandler.Get)
		v1.POST("/render/jobs/:id/cancel", jobHandler.Cancel)
		v1.GET("/render/jobs/:id/stream", jobHandler.Stream)

		// Documents
		v1.GET("/documents/:id/html", documentHandler.HTML)
		v1.GET("/documents/:id/search-texts", documentHandler.SearchTexts)
		v1.GET("/documents/:id/assets/*ref", documentHandler.Asset)
		v1.GET("/documents/:id/pdf-meta", documentHandler.PDFMeta)
		v1.GET("/documents/:id/pdf-preview", documentHandler.PDFPreview)

		// Search
		v1.GET("/search", searchHandler.Search)
	}

	return r
}

package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/docretrieval-backend/internal/http/handlers"
	httpMW "github.com/yungbote/docretrieval-backend/internal/http/middleware"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	HealthHandler   *httpH.HealthHandler
	DocumentHandler *httpH.DocumentHandler
	JobHandler      *httpH.JobHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "docretrieval"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
		r.GET("/readyz", cfg.HealthHandler.Ready)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		// Documents
		if h := cfg.DocumentHandler; h != nil {
			api.POST("/documents", h.Create)
			api.GET("/documents/:id", h.Get)
			api.DELETE("/documents/:id", h.Delete)
			api.GET("/documents/:id/status", h.Status)
			api.GET("/documents/:id/chunks", h.ListChunks)
			api.POST("/documents/:id/reprocess", h.Reprocess)
			api.POST("/documents/:id/search", h.SearchDocument)
			api.POST("/search", h.Search)
		}

		// Jobs
		if h := cfg.JobHandler; h != nil {
			api.GET("/jobs/:queue/:id", h.GetJob)
			api.GET("/jobs/:queue/:id/events", h.Events)
		}
	}

	return r
}

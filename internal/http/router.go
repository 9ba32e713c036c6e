package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/splitstore/internal/http/handlers"
	httpMW "github.com/yungbote/splitstore/internal/http/middleware"
	"github.com/yungbote/splitstore/internal/observability"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	MetricsEnabled bool

	HealthHandler *httpH.HealthHandler
	CourseHandler *httpH.CourseHandler
	BlockHandler  *httpH.BlockHandler
}

// NewRouter mounts the read-only inspector. Nothing here writes to the store.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "splitstore"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.TraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.MetricsEnabled))
	r.Use(httpMW.CORS(cfg.AllowedOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(observability.Handler()))
	}

	api := r.Group("/api")
	{
		// Courses
		if cfg.CourseHandler != nil {
			api.GET("/courses", cfg.CourseHandler.ListCourses)
			api.GET("/courses/:course_id", cfg.CourseHandler.GetCourseIndex)
			api.GET("/courses/:course_id/history", cfg.CourseHandler.GetHistory)
			api.GET("/courses/:course_id/orphans", cfg.CourseHandler.ListOrphans)
			api.GET("/courses/:course_id/items", cfg.CourseHandler.ListItems)
		}

		// Blocks
		if cfg.BlockHandler != nil {
			api.GET("/blocks/:usage_id", cfg.BlockHandler.GetBlock)
			api.GET("/blocks/:usage_id/parents", cfg.BlockHandler.GetParents)
			api.GET("/blocks/:usage_id/changes", cfg.BlockHandler.HasChanges)
		}
	}

	return r
}

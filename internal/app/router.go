package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/splitstore/internal/http"
	"github.com/yungbote/splitstore/internal/observability"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

func wireRouter(log *logger.Logger, handlers Handlers) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:            log,
		ServiceName:    serviceName,
		MetricsEnabled: observability.Enabled(),
		HealthHandler:  handlers.Health,
		CourseHandler:  handlers.Course,
		BlockHandler:   handlers.Block,
	})
}

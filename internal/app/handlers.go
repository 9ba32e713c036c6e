package app

import (
	"context"

	httpH "github.com/yungbote/splitstore/internal/http/handlers"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Course *httpH.CourseHandler
	Block  *httpH.BlockHandler
}

func wireHandlers(log *logger.Logger, store *split.Store, ping func(context.Context) error) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: httpH.NewHealthHandler(ping),
		Course: httpH.NewCourseHandler(log, store),
		Block:  httpH.NewBlockHandler(log, store),
	}
}

package app

import (
	"github.com/yungbote/splitstore/internal/data/cache"
	"github.com/yungbote/splitstore/internal/data/db"
	"github.com/yungbote/splitstore/internal/modulestore/persistence"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/modulestore/xfields"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

func wireStore(log *logger.Logger, database *db.Service, c cache.StructureCache, cfg Config) (*persistence.Connection, *split.Store) {
	log.Info("Wiring modulestore...")
	conn := persistence.New(database.DB(), c, log)
	return conn, split.New(conn, xfields.Default(), log, cfg.storeConfig())
}

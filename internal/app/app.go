package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/splitstore/internal/data/db"
	"github.com/yungbote/splitstore/internal/http"
	"github.com/yungbote/splitstore/internal/modulestore/persistence"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/observability"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

const serviceName = "splitstore"

type App struct {
	Log     *logger.Logger
	Cfg     Config
	DB      *db.Service
	Clients Clients
	Conn    *persistence.Connection
	Store   *split.Store
	Router  *gin.Engine

	otelShutdown func(context.Context) error
}

// New builds the logger from LOG_MODE, loads configuration and wires
// everything behind it.
func New(ctx context.Context) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, log, cfg)
}

func NewWithConfig(ctx context.Context, log *logger.Logger, cfg Config) (*App, error) {
	database, err := db.NewService(cfg.dbOptions(), log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := database.AutoMigrateAll(); err != nil {
		_ = database.Close()
		log.Sync()
		return nil, fmt.Errorf("db automigrate: %w", err)
	}

	clients, err := wireClients(ctx, log, cfg.Cache)
	if err != nil {
		_ = database.Close()
		log.Sync()
		return nil, err
	}

	conn, store := wireStore(log, database, clients.Cache, cfg)

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Otel.Enabled,
		ServiceName: serviceName,
		Environment: cfg.Otel.Environment,
		Endpoint:    cfg.Otel.Endpoint,
		SampleRatio: cfg.Otel.SampleRatio,
	})

	handlers := wireHandlers(log, store, func(ctx context.Context) error {
		sqlDB, err := database.DB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})
	router := wireRouter(log, handlers)

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           database,
		Clients:      clients,
		Conn:         conn,
		Store:        store,
		Router:       router,
		otelShutdown: shutdown,
	}, nil
}

// Run serves the inspector until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{Engine: a.Router}
	a.Log.Info("Serving inspector", "addr", a.Cfg.HTTPAddr)
	return srv.Run(ctx, a.Cfg.HTTPAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Clients.Close()
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Warn("db close failed", "error", err)
		}
	}
	a.Log.Sync()
}

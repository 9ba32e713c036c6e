package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/splitstore/internal/data/db"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/observability"
	"github.com/yungbote/splitstore/internal/platform/envutil"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type DBConfig struct {
	Driver           string `yaml:"driver"`
	DSN              string `yaml:"dsn"`
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresName     string `yaml:"postgres_name"`
	SQLitePath       string `yaml:"sqlite_path"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// MaxCost bounds the in-process tier by total block count.
	MaxCost   int64         `yaml:"max_cost"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisTTL  time.Duration `yaml:"redis_ttl"`
}

type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
	Environment string  `yaml:"environment"`
}

type Config struct {
	HTTPAddr              string      `yaml:"http_addr"`
	DB                    DBConfig    `yaml:"db"`
	Cache                 CacheConfig `yaml:"cache"`
	AutoPublishCategories []string    `yaml:"auto_publish_categories"`
	ForceRetries          int         `yaml:"force_retries"`
	Otel                  OtelConfig  `yaml:"otel"`
}

func DefaultConfig() Config {
	store := split.DefaultConfig()
	return Config{
		HTTPAddr: ":8080",
		DB: DBConfig{
			Driver:       db.DriverPostgres,
			PostgresHost: "localhost",
			PostgresPort: "5432",
			PostgresUser: "postgres",
			PostgresName: "modulestore",
		},
		Cache: CacheConfig{
			Enabled:  true,
			MaxCost:  1_000_000,
			RedisTTL: 24 * time.Hour,
		},
		AutoPublishCategories: store.AutoPublishCategories,
		ForceRetries:          store.ForceRetries,
		Otel:                  OtelConfig{SampleRatio: 0.1},
	}
}

// LoadConfig layers the optional MODULESTORE_CONFIG yaml file over the
// defaults, then environment variables over both.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := DefaultConfig()
	if path := envutil.String("MODULESTORE_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if log != nil {
			log.Info("Loaded config file", "path", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = envutil.String("HTTP_ADDR", c.HTTPAddr)

	c.DB.Driver = strings.ToLower(envutil.String("DB_DRIVER", c.DB.Driver))
	c.DB.DSN = envutil.String("POSTGRES_DSN", c.DB.DSN)
	c.DB.PostgresHost = envutil.String("POSTGRES_HOST", c.DB.PostgresHost)
	c.DB.PostgresPort = envutil.String("POSTGRES_PORT", c.DB.PostgresPort)
	c.DB.PostgresUser = envutil.String("POSTGRES_USER", c.DB.PostgresUser)
	c.DB.PostgresPassword = envutil.String("POSTGRES_PASSWORD", c.DB.PostgresPassword)
	c.DB.PostgresName = envutil.String("POSTGRES_NAME", c.DB.PostgresName)
	c.DB.SQLitePath = envutil.String("SQLITE_PATH", c.DB.SQLitePath)

	c.Cache.Enabled = envutil.Bool("STRUCTURE_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.MaxCost = envutil.Int64("STRUCTURE_CACHE_MAX_COST", c.Cache.MaxCost)
	c.Cache.RedisAddr = envutil.String("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisTTL = envutil.Duration("REDIS_CACHE_TTL", c.Cache.RedisTTL)

	c.AutoPublishCategories = envutil.List("AUTO_PUBLISH_CATEGORIES", c.AutoPublishCategories)
	c.ForceRetries = envutil.Int("FORCE_RETRIES", c.ForceRetries)

	c.Otel.Enabled = envutil.Bool("OTEL_ENABLED", c.Otel.Enabled)
	c.Otel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", c.Otel.Endpoint)
	c.Otel.Environment = envutil.String("APP_ENV", c.Otel.Environment)
	if envutil.String("OTEL_SAMPLER_RATIO", "") != "" {
		c.Otel.SampleRatio = observability.SampleRatioFromEnv()
	}
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		return fmt.Errorf("config: unknown db driver %q", c.DB.Driver)
	}
	if c.Cache.MaxCost < 0 {
		return fmt.Errorf("config: structure cache max cost must not be negative")
	}
	return nil
}

func (c Config) dbOptions() db.Options {
	return db.Options{
		Driver:           c.DB.Driver,
		DSN:              c.DB.DSN,
		PostgresHost:     c.DB.PostgresHost,
		PostgresPort:     c.DB.PostgresPort,
		PostgresUser:     c.DB.PostgresUser,
		PostgresPassword: c.DB.PostgresPassword,
		PostgresName:     c.DB.PostgresName,
		SQLitePath:       c.DB.SQLitePath,
	}
}

func (c Config) storeConfig() split.Config {
	return split.Config{
		AutoPublishCategories: c.AutoPublishCategories,
		ForceRetries:          c.ForceRetries,
	}
}

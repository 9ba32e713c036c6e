package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/splitstore/internal/data/db"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MODULESTORE_CONFIG", "")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modulestore.yaml")
	raw := `
http_addr: ":9090"
db:
  driver: sqlite
  sqlite_path: /var/lib/modulestore.db
cache:
  enabled: true
  max_cost: 500
  redis_addr: "redis:6379"
auto_publish_categories: [chapter, about]
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MODULESTORE_CONFIG", path)
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("REDIS_CACHE_TTL", "5m")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Fatalf("http addr: want=:7070 got=%s", cfg.HTTPAddr)
	}
	if cfg.DB.Driver != db.DriverSQLite || cfg.DB.SQLitePath != "/var/lib/modulestore.db" {
		t.Fatalf("db: got=%+v", cfg.DB)
	}
	if cfg.Cache.MaxCost != 500 || cfg.Cache.RedisAddr != "redis:6379" {
		t.Fatalf("cache: got=%+v", cfg.Cache)
	}
	if cfg.Cache.RedisTTL != 5*time.Minute {
		t.Fatalf("redis ttl: want=5m got=%s", cfg.Cache.RedisTTL)
	}
	if diff := cmp.Diff([]string{"chapter", "about"}, cfg.AutoPublishCategories); diff != "" {
		t.Fatalf("auto publish (-want +got):\n%s", diff)
	}
	// Unset keys keep their defaults.
	if cfg.ForceRetries != DefaultConfig().ForceRetries {
		t.Fatalf("force retries: want=%d got=%d", DefaultConfig().ForceRetries, cfg.ForceRetries)
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("MODULESTORE_CONFIG", "")
	t.Setenv("DB_DRIVER", "mongo")
	if _, err := LoadConfig(nil); err == nil {
		t.Fatalf("unknown driver: want error")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("MODULESTORE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := LoadConfig(nil); err == nil {
		t.Fatalf("missing file: want error")
	}
}

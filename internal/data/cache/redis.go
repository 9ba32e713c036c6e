package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/observability"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

const redisKeyPrefix = "splitstore:structure:"

// RedisCache shares decoded-and-compressed snapshots between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewRedisCache accepts host:port or a redis:// URL. An empty address disables
// the tier and returns nil, nil.
func NewRedisCache(ctx context.Context, log *logger.Logger, address string, ttl time.Duration) (*RedisCache, error) {
	if address == "" {
		log.Info("Structure redis cache disabled - no address configured")
		return nil, nil
	}
	opts := &redis.Options{Addr: address}
	if strings.HasPrefix(address, "redis://") || strings.HasPrefix(address, "rediss://") {
		parsed, err := redis.ParseURL(address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisCacheFromClient(client, log, ttl)
}

func NewRedisCacheFromClient(client *redis.Client, log *logger.Logger, ttl time.Duration) (*RedisCache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	log.Info("Structure redis cache enabled", "ttl", ttl)
	return &RedisCache{
		client: client,
		ttl:    ttl,
		log:    log.With("cache", "redis"),
		enc:    enc,
		dec:    dec,
	}, nil
}

func (r *RedisCache) key(id keys.VersionID) string {
	return redisKeyPrefix + string(id)
}

func (r *RedisCache) Get(ctx context.Context, id keys.VersionID) (*types.Structure, bool) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.RecordCacheLookup("redis", "miss")
		return nil, false
	}
	if err != nil {
		observability.RecordCacheLookup("redis", "error")
		r.log.Warn("structure cache read failed", "structure", id, "error", err)
		return nil, false
	}
	s, err := r.decode(raw)
	if err != nil {
		observability.RecordCacheLookup("redis", "error")
		r.log.Warn("dropping corrupt structure cache entry", "structure", id, "error", err)
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, false
	}
	observability.RecordCacheLookup("redis", "hit")
	return s, true
}

func (r *RedisCache) Set(ctx context.Context, s *types.Structure) {
	if s == nil || s.ID.IsZero() {
		return
	}
	payload, err := types.MarshalStructure(s)
	if err != nil {
		r.log.Warn("structure cache encode failed", "structure", s.ID, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.key(s.ID), r.enc.EncodeAll(payload, nil), r.ttl).Err(); err != nil {
		r.log.Warn("structure cache write failed", "structure", s.ID, "error", err)
	}
}

func (r *RedisCache) decode(raw []byte) (*types.Structure, error) {
	payload, err := r.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return types.UnmarshalStructure(payload)
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	r.dec.Close()
	_ = r.enc.Close()
	return r.client.Close()
}

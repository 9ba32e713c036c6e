package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

func sampleStructure() *types.Structure {
	id := keys.NewVersionID()
	root := keys.BlockKey{Type: "course", ID: "course"}
	chapter := keys.BlockKey{Type: "chapter", ID: "ch1"}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &types.Structure{
		ID:              id,
		OriginalVersion: id,
		EditedBy:        "1",
		EditedOn:        now,
		Root:            root,
		Blocks: map[keys.BlockKey]*types.BlockData{
			root: {
				BlockType:    "course",
				DefinitionID: keys.NewVersionID(),
				Fields:       map[string]any{"display_name": "Greek Hero"},
				Children:     []keys.BlockKey{chapter},
				EditInfo:     types.BlockEditInfo{EditedBy: "1", EditedOn: now, UpdateVersion: id},
			},
			chapter: {
				BlockType:    "chapter",
				DefinitionID: keys.NewVersionID(),
				Fields:       map[string]any{"graceperiod": "2 hours"},
				EditInfo:     types.BlockEditInfo{EditedBy: "1", EditedOn: now, UpdateVersion: id},
			},
		},
	}
}

func newRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc, err := NewRedisCacheFromClient(client, logger.Nop(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisCacheFromClient: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestMemoryCacheReturnsClones(t *testing.T) {
	ctx := context.Background()
	mc, err := NewMemoryCache(1000)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	defer mc.Close()

	s := sampleStructure()
	if _, ok := mc.Get(ctx, s.ID); ok {
		t.Fatalf("Get before Set: want miss")
	}
	mc.Set(ctx, s)
	got, ok := mc.Get(ctx, s.ID)
	if !ok {
		t.Fatalf("Get after Set: want hit")
	}
	got.Blocks[s.Root].Fields["display_name"] = "mutated"
	again, _ := mc.Get(ctx, s.ID)
	if again.Blocks[s.Root].Fields["display_name"] != "Greek Hero" {
		t.Fatalf("cached snapshot was mutated through a returned pointer")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)

	s := sampleStructure()
	if _, ok := rc.Get(ctx, s.ID); ok {
		t.Fatalf("Get before Set: want miss")
	}
	rc.Set(ctx, s)
	got, ok := rc.Get(ctx, s.ID)
	if !ok {
		t.Fatalf("Get after Set: want hit")
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok := rc.Get(ctx, s.ID); ok {
		t.Fatalf("Get after ttl: want miss")
	}
}

func TestRedisCacheDropsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	rc, mr := newRedis(t)

	id := keys.NewVersionID()
	if err := mr.Set(redisKeyPrefix+string(id), "not zstd"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	if _, ok := rc.Get(ctx, id); ok {
		t.Fatalf("corrupt entry: want miss")
	}
	if mr.Exists(redisKeyPrefix + string(id)) {
		t.Fatalf("corrupt entry was not deleted")
	}
}

func TestTieredBackfillsFasterTier(t *testing.T) {
	ctx := context.Background()
	mc, err := NewMemoryCache(1000)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	defer mc.Close()
	rc, _ := newRedis(t)

	s := sampleStructure()
	rc.Set(ctx, s)

	tc := Tiered(mc, rc)
	if _, ok := tc.Get(ctx, s.ID); !ok {
		t.Fatalf("tiered Get: want hit from redis")
	}
	if _, ok := mc.Get(ctx, s.ID); !ok {
		t.Fatalf("memory tier was not back-filled")
	}

	if _, ok := Tiered().Get(ctx, s.ID); ok {
		t.Fatalf("empty tiered: want miss")
	}
}

func TestNewRedisCacheAddressForms(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := sampleStructure()

	for _, addr := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		rc, err := NewRedisCache(ctx, logger.Nop(), addr, time.Minute)
		if err != nil {
			t.Fatalf("NewRedisCache(%s): %v", addr, err)
		}
		rc.Set(ctx, s)
		if _, ok := rc.Get(ctx, s.ID); !ok {
			t.Fatalf("NewRedisCache(%s): want hit after Set", addr)
		}
		_ = rc.Close()
	}

	if rc, err := NewRedisCache(ctx, logger.Nop(), "", time.Minute); err != nil || rc != nil {
		t.Fatalf("empty address: want nil, nil got=%v, %v", rc, err)
	}
	if _, err := NewRedisCache(ctx, logger.Nop(), "redis://%zz", time.Minute); err == nil {
		t.Fatalf("malformed url: want error")
	}
}

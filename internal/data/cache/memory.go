package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/observability"
)

// MemoryCache is the in-process tier. Callers receive clones so a cached
// snapshot can never be mutated through a returned pointer.
type MemoryCache struct {
	cache *ristretto.Cache[string, *types.Structure]
}

// NewMemoryCache bounds the tier by block count: a structure costs one unit per block.
func NewMemoryCache(maxBlocks int64) (*MemoryCache, error) {
	if maxBlocks <= 0 {
		maxBlocks = 1 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *types.Structure]{
		NumCounters: maxBlocks * 10,
		MaxCost:     maxBlocks,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("structure memory cache: %w", err)
	}
	return &MemoryCache{cache: c}, nil
}

func (m *MemoryCache) Get(_ context.Context, id keys.VersionID) (*types.Structure, bool) {
	s, ok := m.cache.Get(string(id))
	if !ok || s == nil {
		observability.RecordCacheLookup("memory", "miss")
		return nil, false
	}
	observability.RecordCacheLookup("memory", "hit")
	return s.Clone(), true
}

func (m *MemoryCache) Set(_ context.Context, s *types.Structure) {
	if s == nil || s.ID.IsZero() {
		return
	}
	cost := int64(len(s.Blocks))
	if cost < 1 {
		cost = 1
	}
	m.cache.Set(string(s.ID), s.Clone(), cost)
	// Admission is asynchronous; make the entry visible to the next reader.
	m.cache.Wait()
}

func (m *MemoryCache) Close() {
	m.cache.Close()
}

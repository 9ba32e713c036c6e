// Package cache holds read-through tiers for immutable structure snapshots.
// Structures never change once written, so entries are never invalidated; they
// only age out.
package cache

import (
	"context"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
)

// StructureCache is consulted before the structures collection. Misses are cheap;
// a failing tier must behave like a miss.
type StructureCache interface {
	Get(ctx context.Context, id keys.VersionID) (*types.Structure, bool)
	Set(ctx context.Context, s *types.Structure)
}

type noop struct{}

// Noop disables caching.
func Noop() StructureCache { return noop{} }

func (noop) Get(context.Context, keys.VersionID) (*types.Structure, bool) { return nil, false }
func (noop) Set(context.Context, *types.Structure)                       {}

type tiered struct {
	tiers []StructureCache
}

// Tiered checks tiers in order and back-fills faster tiers on a hit further down.
func Tiered(tiers ...StructureCache) StructureCache {
	out := make([]StructureCache, 0, len(tiers))
	for _, t := range tiers {
		if t != nil {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return Noop()
	}
	if len(out) == 1 {
		return out[0]
	}
	return &tiered{tiers: out}
}

func (t *tiered) Get(ctx context.Context, id keys.VersionID) (*types.Structure, bool) {
	for i, tier := range t.tiers {
		s, ok := tier.Get(ctx, id)
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			t.tiers[j].Set(ctx, s)
		}
		return s, true
	}
	return nil, false
}

func (t *tiered) Set(ctx context.Context, s *types.Structure) {
	for _, tier := range t.tiers {
		tier.Set(ctx, s)
	}
}

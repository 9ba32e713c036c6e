package split

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/inheritance"
	"github.com/yungbote/splitstore/internal/modulestore/persistence"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

// GetCourse returns the root block of the course at the key's branch or version.
func (s *Store) GetCourse(ctx context.Context, course keys.CourseKey) (_ *Block, err error) {
	ctx, done := s.trace(ctx, "get_course", attribute.String("course", course.String()))
	defer func() { done(err) }()

	v, err := s.resolve(ctx, course)
	if err != nil {
		return nil, err
	}
	return s.newBlock(v, v.st.Root)
}

func (s *Store) GetItem(ctx context.Context, usage keys.UsageKey) (_ *Block, err error) {
	ctx, done := s.trace(ctx, "get_item", attribute.String("usage", usage.String()))
	defer func() { done(err) }()

	v, err := s.resolve(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	return s.newBlock(v, usage.BlockKey())
}

// HasItem reports whether the block exists. A missing course or branch is
// reported as false rather than an error.
func (s *Store) HasItem(ctx context.Context, usage keys.UsageKey) (bool, error) {
	v, err := s.resolve(ctx, usage.Course)
	if err != nil {
		if errors.Is(err, mserr.ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}
	_, ok := v.st.Blocks[usage.BlockKey()]
	return ok, nil
}

// GetParentLocation returns the one deterministic parent of a block; ok is
// false for the root and for detached blocks.
func (s *Store) GetParentLocation(ctx context.Context, usage keys.UsageKey) (_ keys.UsageKey, ok bool, err error) {
	v, err := s.resolve(ctx, usage.Course)
	if err != nil {
		return keys.UsageKey{}, false, err
	}
	k := usage.BlockKey()
	if _, exists := v.st.Blocks[k]; !exists {
		return keys.UsageKey{}, false, mserr.NotFound(usage)
	}
	p, ok := v.res.get().Parent(k)
	if !ok {
		return keys.UsageKey{}, false, nil
	}
	return keys.MakeUsageKey(v.course, p), true, nil
}

// GetParents returns every parent of a block, sorted by block key.
func (s *Store) GetParents(ctx context.Context, usage keys.UsageKey) ([]keys.UsageKey, error) {
	v, err := s.resolve(ctx, usage.Course)
	if err != nil {
		return nil, err
	}
	k := usage.BlockKey()
	if _, exists := v.st.Blocks[k]; !exists {
		return nil, mserr.NotFound(usage)
	}
	parents := inheritance.AllParents(v.st, k)
	out := make([]keys.UsageKey, 0, len(parents))
	for _, p := range parents {
		out = append(out, keys.MakeUsageKey(v.course, p))
	}
	return out, nil
}

// GetCourses lists the root block of every course that has branch, optionally
// restricted to one org.
func (s *Store) GetCourses(ctx context.Context, branch string, org string) (_ []*Block, err error) {
	ctx, done := s.trace(ctx, "get_courses", attribute.String("branch", branch))
	defer func() { done(err) }()

	if branch == "" {
		return nil, mserr.Insufficient(keys.CourseKey{}, "listing courses needs a branch")
	}
	idxs, err := s.conn.FindMatchingCourseIndexes(ctx, persistence.IndexQuery{Branch: branch, Org: org})
	if err != nil {
		return nil, err
	}
	out := make([]*Block, len(idxs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, idx := range idxs {
		i, idx := i, idx
		g.Go(func() error {
			ck := branchKey(idx.CourseKey(), branch, "")
			st, err := s.conn.GetStructure(gctx, idx.Versions[branch])
			if err != nil {
				return err
			}
			v := &view{st: st, course: branchKey(ck, branch, st.ID), res: newResolverCache(st, s.reg)}
			b, err := s.newBlock(v, st.Root)
			if err != nil {
				return err
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetCourseIndexInfo(ctx context.Context, course keys.CourseKey) (*types.CourseIndex, error) {
	if !course.HasIndex() {
		return nil, mserr.Insufficient(course, "course index lookups need org, course and run")
	}
	return s.conn.GetCourseIndex(ctx, course, false)
}

// GetCourseHistoryInfo describes the structure the key currently resolves to.
func (s *Store) GetCourseHistoryInfo(ctx context.Context, course keys.CourseKey) (types.HistoryInfo, error) {
	v, err := s.resolve(ctx, course)
	if err != nil {
		return types.HistoryInfo{}, err
	}
	return types.HistoryInfo{
		OriginalVersion: v.st.OriginalVersion,
		PreviousVersion: v.st.PreviousVersion,
		EditedBy:        v.st.EditedBy,
		EditedOn:        v.st.EditedOn,
	}, nil
}

func (s *Store) GetDefinitionHistoryInfo(ctx context.Context, def keys.DefinitionKey) (types.HistoryInfo, error) {
	d, err := s.conn.GetDefinition(ctx, def.ID)
	if err != nil {
		return types.HistoryInfo{}, err
	}
	return types.HistoryInfo{
		OriginalVersion: d.EditInfo.OriginalVersion,
		PreviousVersion: d.EditInfo.PreviousVersion,
		EditedBy:        d.EditInfo.EditedBy,
		EditedOn:        d.EditInfo.EditedOn,
	}, nil
}

// GetStructureHistory lists every stored structure in the key's lineage, oldest first.
func (s *Store) GetStructureHistory(ctx context.Context, course keys.CourseKey) ([]keys.VersionID, error) {
	v, err := s.resolve(ctx, course)
	if err != nil {
		return nil, err
	}
	return s.conn.StructureHistory(ctx, v.st.OriginalVersion)
}

// GetOrphans lists blocks that cannot be reached from the root. Detached
// types live outside the tree and are never orphans.
func (s *Store) GetOrphans(ctx context.Context, course keys.CourseKey) ([]keys.UsageKey, error) {
	v, err := s.resolve(ctx, course)
	if err != nil {
		return nil, err
	}
	var out []keys.UsageKey
	for _, k := range orphans(v.st, s.detachedSet()) {
		out = append(out, keys.MakeUsageKey(v.course, k))
	}
	return out, nil
}

func (s *Store) detachedSet() map[string]bool {
	out := map[string]bool{}
	for _, t := range s.reg.DetachedTypes() {
		out[t] = true
	}
	return out
}

func orphans(st *types.Structure, detached map[string]bool) []keys.BlockKey {
	reachable := st.Descendants(st.Root)
	var out []keys.BlockKey
	for _, k := range st.SortedKeys() {
		if reachable[k] || detached[st.Blocks[k].BlockType] {
			continue
		}
		out = append(out, k)
	}
	return out
}

// HasChanges reports whether the draft subtree under usage differs from what
// is published: a block missing on published, or any observable difference.
func (s *Store) HasChanges(ctx context.Context, usage keys.UsageKey) (bool, error) {
	draft, err := s.resolve(ctx, usage.Course.ForBranch(keys.DraftBranch))
	if err != nil {
		return false, err
	}
	root := usage.BlockKey()
	if _, ok := draft.st.Blocks[root]; !ok {
		return false, mserr.NotFound(usage)
	}
	published, err := s.resolve(ctx, usage.Course.ForBranch(keys.PublishedBranch))
	if err != nil {
		if errors.Is(err, mserr.ErrItemNotFound) {
			return true, nil
		}
		return false, err
	}
	subtree := draft.st.Descendants(root)
	ks := make([]keys.BlockKey, 0, len(subtree))
	for k := range subtree {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].Less(ks[j]) })
	for _, k := range ks {
		if !types.BlocksEquivalent(draft.st.Blocks[k], published.st.Blocks[k]) {
			return true, nil
		}
	}
	return false, nil
}

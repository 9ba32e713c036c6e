package split

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/inheritance"
	"github.com/yungbote/splitstore/internal/observability"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

type CopyRequest struct {
	Source       keys.CourseKey
	Dest         keys.CourseKey
	SubtreeRoots []keys.UsageKey
	Exclude      []keys.UsageKey
	// ExcludeAll copies only the subtree roots themselves; their children
	// lists at the destination keep the source-ordered children already there.
	ExcludeAll bool
}

// Copy publishes the closure of req.SubtreeRoots from the source branch onto
// the destination branch. Copying an unchanged closure again writes nothing.
func (s *Store) Copy(ctx context.Context, user string, req CopyRequest) (err error) {
	ctx, done := s.trace(ctx, "copy",
		attribute.String("source", req.Source.String()),
		attribute.String("dest", req.Dest.String()),
	)
	defer func() { done(err) }()

	if err := requireBranch(req.Dest); err != nil {
		return err
	}
	roots := make([]keys.BlockKey, 0, len(req.SubtreeRoots))
	for _, u := range req.SubtreeRoots {
		roots = append(roots, u.BlockKey())
	}
	exclude := make([]keys.BlockKey, 0, len(req.Exclude))
	for _, u := range req.Exclude {
		exclude = append(exclude, u.BlockKey())
	}
	return s.inBulk(ctx, req.Dest, user, false, func(ctx context.Context, rec *bulkRecord) error {
		if !rec.hasIndex() {
			return mserr.NotFound(req.Dest.VersionAgnostic())
		}
		src, err := s.resolve(ctx, req.Source)
		if err != nil {
			return err
		}
		return s.copyInto(ctx, rec, src, req.Dest.Branch, roots, exclude, req.ExcludeAll)
	})
}

// Publish copies the whole draft course onto published.
func (s *Store) Publish(ctx context.Context, user string, course keys.CourseKey) error {
	draft := course.ForBranch(keys.DraftBranch)
	root, err := s.GetCourse(ctx, draft)
	if err != nil {
		return err
	}
	return s.Copy(ctx, user, CopyRequest{
		Source:       draft,
		Dest:         course.ForBranch(keys.PublishedBranch),
		SubtreeRoots: []keys.UsageKey{root.Location()},
	})
}

// RevertToPublished replaces the draft subtree under usage with its published copy.
func (s *Store) RevertToPublished(ctx context.Context, user string, usage keys.UsageKey) (err error) {
	ctx, done := s.trace(ctx, "revert_to_published", attribute.String("usage", usage.String()))
	defer func() { done(err) }()

	draft := usage.Course.ForBranch(keys.DraftBranch)
	return s.inBulk(ctx, draft, user, false, func(ctx context.Context, rec *bulkRecord) error {
		pub, err := s.resolve(ctx, usage.Course.ForBranch(keys.PublishedBranch))
		if err != nil {
			return err
		}
		if _, ok := pub.st.Blocks[usage.BlockKey()]; !ok {
			return mserr.NotFound(usage.ForBranch(keys.PublishedBranch))
		}
		return s.copyInto(ctx, rec, pub, keys.DraftBranch, []keys.BlockKey{usage.BlockKey()}, nil, false)
	})
}

// autoPublish mirrors a single draft block onto published inside the same
// bulk record. It is skipped while the course or the block's parent has
// never been published.
func (s *Store) autoPublish(ctx context.Context, rec *bulkRecord, k keys.BlockKey) error {
	if !rec.hasBranch(keys.PublishedBranch) {
		s.log.Debug("auto-publish skipped, nothing published yet", "course", rec.course.String(), "block", k.String())
		return nil
	}
	draft, err := rec.current(ctx, keys.DraftBranch)
	if err != nil {
		return err
	}
	src := &view{st: draft, course: branchKey(rec.course, keys.DraftBranch, draft.ID), rec: rec, res: newResolverCache(draft, s.reg)}
	err = s.copyInto(ctx, rec, src, keys.PublishedBranch, []keys.BlockKey{k}, nil, true)
	if errors.Is(err, mserr.ErrItemNotFound) {
		s.log.Debug("auto-publish skipped", "course", rec.course.String(), "block", k.String(), "reason", err)
		return nil
	}
	return err
}

// copyInto stages the publish of roots from src onto branch of rec.
func (s *Store) copyInto(ctx context.Context, rec *bulkRecord, src *view, branch string, roots, exclude []keys.BlockKey, excludeAll bool) error {
	from := src.st
	for _, r := range roots {
		if _, ok := from.Blocks[r]; !ok {
			return mserr.NotFound(keys.MakeUsageKey(src.course, r))
		}
	}
	destExists := rec.hasBranch(branch)
	if !destExists && !containsKey(roots, from.Root) {
		return mserr.InvalidValue(branchKey(rec.course, branch, ""), "the first publish of a branch must include the course root")
	}

	closure := publishClosure(from, roots, exclude, excludeAll)

	var base *types.Structure
	work := &types.Structure{Root: from.Root, Blocks: map[keys.BlockKey]*types.BlockData{}}
	if destExists {
		cur, err := rec.current(ctx, branch)
		if err != nil {
			return err
		}
		base = cur
		work = cur.Clone()
	}

	for _, k := range from.SortedKeys() {
		if !closure[k] {
			continue
		}
		b := from.Blocks[k].Clone()
		b.EditInfo.SourceVersion = from.ID
		if len(b.Children) > 0 {
			kept := make([]keys.BlockKey, 0, len(b.Children))
			for _, c := range b.Children {
				if closure[c] {
					kept = append(kept, c)
					continue
				}
				if excludeAll {
					if _, atDest := work.Blocks[c]; atDest {
						kept = append(kept, c)
					}
				}
			}
			b.Children = kept
		}
		work.Blocks[k] = b
	}

	var synced []keys.BlockKey
	srcParents := inheritance.ParentMap(from)
	for _, r := range roots {
		if r == from.Root {
			continue
		}
		p, ok := srcParents[r]
		if !ok || closure[p] {
			continue
		}
		dp, ok := work.Blocks[p]
		if !ok {
			return mserr.NotFound(keys.MakeUsageKey(branchKey(rec.course, branch, ""), p))
		}
		if dp.HasChild(r) {
			continue
		}
		dp.Children = insertInSourceOrder(dp.Children, from.Blocks[p].Children, r)
		synced = append(synced, p)
	}

	before := map[keys.BlockKey]bool{}
	if base != nil {
		for _, k := range orphans(base, s.detachedSet()) {
			before[k] = true
		}
	}
	for _, k := range orphans(work, s.detachedSet()) {
		if !before[k] {
			delete(work.Blocks, k)
		}
	}

	if base != nil && sameStructure(base, work) {
		observability.RecordPublish("noop")
		s.log.Debug("publish is a no-op", "course", rec.course.String(), "branch", branch, "source", from.ID)
		return nil
	}

	var st *types.Structure
	if destExists {
		ws, err := rec.writable(ctx, branch)
		if err != nil {
			return err
		}
		st = ws
	} else {
		st = rec.stageNew(branch, from.Root)
	}
	st.Root = work.Root
	st.Blocks = work.Blocks
	for _, p := range synced {
		b := st.Blocks[p]
		if b.EditInfo.UpdateVersion != st.ID {
			b.EditInfo.PreviousVersion = b.EditInfo.UpdateVersion
			b.EditInfo.UpdateVersion = st.ID
		}
		b.EditInfo.EditedBy = rec.user
		b.EditInfo.EditedOn = st.EditedOn
	}
	observability.RecordPublish("published")
	s.log.Info("published",
		"course", rec.course.String(),
		"branch", branch,
		"source", from.ID,
		"blocks", len(closure),
		"user", rec.user,
	)
	return nil
}

// publishClosure walks children from roots, never entering an excluded block.
// With excludeAll only the roots themselves are taken.
func publishClosure(from *types.Structure, roots, exclude []keys.BlockKey, excludeAll bool) map[keys.BlockKey]bool {
	out := map[keys.BlockKey]bool{}
	if excludeAll {
		for _, r := range roots {
			out[r] = true
		}
		return out
	}
	skip := map[keys.BlockKey]bool{}
	for _, e := range exclude {
		skip[e] = true
	}
	stack := append([]keys.BlockKey{}, roots...)
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[k] || skip[k] {
			continue
		}
		b, ok := from.Blocks[k]
		if !ok {
			continue
		}
		out[k] = true
		stack = append(stack, b.Children...)
	}
	return out
}

// insertInSourceOrder places k after the nearest preceding source sibling that
// is already present, or first when there is none.
func insertInSourceOrder(dest, source []keys.BlockKey, k keys.BlockKey) []keys.BlockKey {
	present := map[keys.BlockKey]int{}
	for i, c := range dest {
		present[c] = i
	}
	at := 0
	for _, c := range source {
		if c == k {
			break
		}
		if i, ok := present[c]; ok {
			at = i + 1
		}
	}
	out := make([]keys.BlockKey, 0, len(dest)+1)
	out = append(out, dest[:at]...)
	out = append(out, k)
	return append(out, dest[at:]...)
}

func sameStructure(a, b *types.Structure) bool {
	if a.Root != b.Root || len(a.Blocks) != len(b.Blocks) {
		return false
	}
	for k, ab := range a.Blocks {
		bb, ok := b.Blocks[k]
		if !ok || !types.BlocksEquivalent(ab, bb) || ab.EditInfo.SourceVersion != bb.EditInfo.SourceVersion {
			return false
		}
	}
	return true
}

func containsKey(ks []keys.BlockKey, k keys.BlockKey) bool {
	for _, c := range ks {
		if c == k {
			return true
		}
	}
	return false
}

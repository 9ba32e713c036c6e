package split

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

type DeleteOptions struct {
	Force bool
}

// DeleteItem removes a block from its branch along with every descendant that
// no other remaining block still lists as a child. Older structures keep it.
func (s *Store) DeleteItem(ctx context.Context, user string, usage keys.UsageKey, opts DeleteOptions) (err error) {
	ctx, done := s.trace(ctx, "delete_item", attribute.String("usage", usage.String()))
	defer func() { done(err) }()

	course := usage.Course
	if err := requireBranch(course); err != nil {
		return err
	}
	k := usage.BlockKey()
	return s.inBulk(ctx, course, user, opts.Force, func(ctx context.Context, rec *bulkRecord) error {
		if err := rec.checkPinned(course); err != nil {
			return err
		}
		head, err := rec.current(ctx, course.Branch)
		if err != nil {
			return err
		}
		blk, ok := head.Blocks[k]
		if !ok {
			return mserr.NotFound(usage)
		}
		if k == head.Root {
			return mserr.InvalidValue(usage, "the course root cannot be deleted")
		}
		st, err := rec.writable(ctx, course.Branch)
		if err != nil {
			return err
		}
		removed := deleteSubtree(rec, st, k)
		s.log.Debug("block deleted", "usage", usage.String(), "removed", removed, "user", user)

		if course.Branch == keys.DraftBranch && s.IsAutoPublished(blk.BlockType) && rec.hasBranch(keys.PublishedBranch) {
			pub, err := rec.current(ctx, keys.PublishedBranch)
			if err != nil {
				return err
			}
			if _, ok := pub.Blocks[k]; ok && k != pub.Root {
				ps, err := rec.writable(ctx, keys.PublishedBranch)
				if err != nil {
					return err
				}
				deleteSubtree(rec, ps, k)
			}
		}
		return nil
	})
}

// deleteSubtree unlinks k from its parents and drops it, then drops each of
// its descendants once nothing left in st points at it. Returns the number of blocks removed.
func deleteSubtree(rec *bulkRecord, st *types.Structure, k keys.BlockKey) int {
	for _, pk := range st.SortedKeys() {
		p := st.Blocks[pk]
		if !p.HasChild(k) {
			continue
		}
		kept := p.Children[:0:0]
		for _, c := range p.Children {
			if c != k {
				kept = append(kept, c)
			}
		}
		p.Children = kept
		rec.touch(st, pk)
	}
	candidates := st.Descendants(k)
	delete(st.Blocks, k)
	removed := 1
	for {
		referenced := map[keys.BlockKey]bool{}
		for _, b := range st.Blocks {
			for _, c := range b.Children {
				referenced[c] = true
			}
		}
		progress := false
		for c := range candidates {
			if _, present := st.Blocks[c]; !present || referenced[c] {
				continue
			}
			delete(st.Blocks, c)
			removed++
			progress = true
		}
		if !progress {
			return removed
		}
	}
}

// DeleteCourse removes the course index. Structures and definitions stay in
// the store so pinned keys keep resolving.
func (s *Store) DeleteCourse(ctx context.Context, user string, course keys.CourseKey) (err error) {
	ctx, done := s.trace(ctx, "delete_course", attribute.String("course", course.String()))
	defer func() { done(err) }()

	if !course.HasIndex() {
		return mserr.Insufficient(course, "deleting a course needs org, course and run")
	}
	if bulkFrom(ctx, course) != nil {
		return mserr.InvalidValue(course, "cannot delete a course inside its own bulk operation")
	}
	if err := s.conn.DeleteCourseIndex(ctx, course); err != nil {
		return err
	}
	s.log.Info("course deleted", "course", course.VersionAgnostic().String(), "user", user)
	return nil
}

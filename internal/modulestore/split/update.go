package split

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

type UpdateOptions struct {
	Force bool
}

// UpdateItem saves the edits recorded on b. Settings and children changes
// reuse the block's definition; a content change stages a new definition.
// When nothing observable changed no structure is written and b is returned as is.
func (s *Store) UpdateItem(ctx context.Context, user string, b *Block, opts UpdateOptions) (_ *Block, err error) {
	ctx, done := s.trace(ctx, "update_item", attribute.String("usage", b.location.String()))
	defer func() { done(err) }()

	course := b.location.Course
	if err := requireBranch(course); err != nil {
		return nil, err
	}
	branch := course.Branch
	loc := branchKey(course, branch, "")
	changed := false

	err = s.inBulk(ctx, course, user, opts.Force, func(ctx context.Context, rec *bulkRecord) error {
		changed = false
		if err := rec.checkPinned(course); err != nil {
			return err
		}
		head, err := rec.current(ctx, branch)
		if err != nil {
			return err
		}
		stored, ok := head.Blocks[b.key]
		if !ok {
			return mserr.NotFound(keys.MakeUsageKey(loc, b.key))
		}

		settingsChanged := !types.FieldsEqual(stored.Fields, b.data.Fields)
		childrenChanged := !sameChildren(stored.Children, b.data.Children)
		contentChanged := false
		if b.content != nil {
			prev := map[string]any{}
			if !stored.DefinitionID.IsZero() {
				d, err := rec.definition(ctx, stored.DefinitionID)
				if err != nil {
					return err
				}
				prev = d.Fields
			}
			contentChanged = !types.FieldsEqual(prev, b.content)
		}
		if !settingsChanged && !childrenChanged && !contentChanged {
			return nil
		}
		if childrenChanged {
			if err := checkChildren(head, loc, b.key, b.data.Children); err != nil {
				return err
			}
		}

		st, err := rec.writable(ctx, branch)
		if err != nil {
			return err
		}
		blk := st.Blocks[b.key]
		if settingsChanged {
			blk.Fields = types.CloneFields(b.data.Fields)
			if blk.Fields == nil {
				blk.Fields = map[string]any{}
			}
		}
		if childrenChanged {
			blk.Children = append([]keys.BlockKey{}, b.data.Children...)
		}
		if contentChanged {
			content := types.CloneFields(b.content)
			if content == nil {
				content = map[string]any{}
			}
			id, err := s.stageContent(ctx, rec, blk.BlockType, content, stored.DefinitionID)
			if err != nil {
				return err
			}
			blk.DefinitionID = id
		}
		rec.touch(st, b.key)
		changed = true
		if branch == keys.DraftBranch && s.IsAutoPublished(blk.BlockType) {
			return s.autoPublish(ctx, rec, b.key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return b, nil
	}
	return s.GetItem(ctx, keys.MakeUsageKey(loc, b.key))
}

func sameChildren(a, b []keys.BlockKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkChildren rejects children that are missing, repeated, or would close a cycle under parent.
func checkChildren(st *types.Structure, loc keys.CourseKey, parent keys.BlockKey, children []keys.BlockKey) error {
	seen := map[keys.BlockKey]bool{}
	for _, c := range children {
		if _, ok := st.Blocks[c]; !ok {
			return mserr.NotFound(keys.MakeUsageKey(loc, c))
		}
		if seen[c] {
			return mserr.InvalidValue(keys.MakeUsageKey(loc, parent), "child listed twice: "+c.String())
		}
		seen[c] = true
		if createsCycle(st, parent, c) {
			return mserr.InvalidValue(keys.MakeUsageKey(loc, c), "adding it under "+parent.String()+" creates a cycle")
		}
	}
	return nil
}

package split

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/xfields"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

type CourseOptions struct {
	// Branch defaults to draft.
	Branch string
	Fields map[string]any
	// RootBlockID defaults to "course".
	RootBlockID   string
	SearchTargets map[string]any
}

type CreateOptions struct {
	BlockID      string
	Fields       map[string]any
	DefinitionID keys.VersionID
	// Position is 1-indexed among the parent's children; 0 appends.
	Position int
	Force    bool
}

// CreateCourse creates the course index and the first structure of one branch.
func (s *Store) CreateCourse(ctx context.Context, user, org, course, run string, opts CourseOptions) (_ *Block, err error) {
	branch := opts.Branch
	if branch == "" {
		branch = keys.DraftBranch
	}
	ck, err := keys.NewCourseKey(org, course, run, branch, "")
	if err != nil {
		return nil, err
	}
	ctx, done := s.trace(ctx, "create_course", attribute.String("course", ck.String()))
	defer func() { done(err) }()

	rootID := opts.RootBlockID
	if rootID == "" {
		rootID = "course"
	}
	root, err := keys.NewBlockKey("course", rootID)
	if err != nil {
		return nil, err
	}

	err = s.inBulk(ctx, ck, user, false, func(ctx context.Context, rec *bulkRecord) error {
		if rec.hasIndex() {
			return &mserr.Error{Kind: mserr.ErrDuplicateCourse, Key: ck.VersionAgnostic().String()}
		}
		if _, err := s.conn.GetCourseIndex(ctx, ck, true); err == nil {
			return &mserr.Error{Kind: mserr.ErrDuplicateCourse, Key: ck.VersionAgnostic().String(), Detail: "differs only by case"}
		} else if !errors.Is(err, mserr.ErrItemNotFound) {
			return err
		}

		targets := types.CloneFields(opts.SearchTargets)
		if targets == nil {
			targets = map[string]any{}
		}
		if _, ok := targets["wiki_slug"]; !ok {
			targets["wiki_slug"] = strings.Join([]string{org, course, run}, ".")
		}
		rec.next = &types.CourseIndex{
			Org:           org,
			Course:        course,
			Run:           run,
			Versions:      map[string]keys.VersionID{},
			SearchTargets: targets,
			EditedBy:      user,
		}
		st := rec.stageNew(branch, root)
		data, err := s.newBlockData(ctx, rec, st, s.reg.Lookup("course"), ck, opts.Fields, "")
		if err != nil {
			return err
		}
		st.Blocks[root] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("course created", "course", ck.String(), "user", user)
	return s.GetCourse(ctx, ck)
}

// CloneCourse creates dest with every branch pointing at the structures of
// source. Nothing but the index is written.
func (s *Store) CloneCourse(ctx context.Context, user string, source, dest keys.CourseKey) (err error) {
	ctx, done := s.trace(ctx, "clone_course", attribute.String("source", source.String()), attribute.String("dest", dest.String()))
	defer func() { done(err) }()

	if !source.HasIndex() || !dest.HasIndex() {
		return mserr.Insufficient(dest, "clone needs org, course and run on both sides")
	}
	src, err := s.conn.GetCourseIndex(ctx, source, false)
	if err != nil {
		return err
	}
	return s.inBulk(ctx, dest, user, false, func(ctx context.Context, rec *bulkRecord) error {
		if rec.hasIndex() {
			return &mserr.Error{Kind: mserr.ErrDuplicateCourse, Key: dest.VersionAgnostic().String()}
		}
		if _, err := s.conn.GetCourseIndex(ctx, dest, true); err == nil {
			return &mserr.Error{Kind: mserr.ErrDuplicateCourse, Key: dest.VersionAgnostic().String(), Detail: "differs only by case"}
		}
		next := src.Clone()
		next.ID = ""
		next.Org, next.Course, next.Run = dest.Org, dest.Course, dest.Run
		next.EditedBy = user
		if next.SearchTargets == nil {
			next.SearchTargets = map[string]any{}
		}
		next.SearchTargets["wiki_slug"] = strings.Join([]string{dest.Org, dest.Course, dest.Run}, ".")
		rec.next = next
		return nil
	})
}

// CreateItem adds a block without attaching it to a parent. Detached types
// (about pages, static tabs) are created this way.
func (s *Store) CreateItem(ctx context.Context, user string, course keys.CourseKey, blockType string, opts CreateOptions) (_ *Block, err error) {
	ctx, done := s.trace(ctx, "create_item", attribute.String("course", course.String()), attribute.String("block_type", blockType))
	defer func() { done(err) }()
	return s.create(ctx, user, course, nil, blockType, opts)
}

// CreateChild adds a block under parent at opts.Position.
func (s *Store) CreateChild(ctx context.Context, user string, parent keys.UsageKey, blockType string, opts CreateOptions) (_ *Block, err error) {
	ctx, done := s.trace(ctx, "create_child", attribute.String("parent", parent.String()), attribute.String("block_type", blockType))
	defer func() { done(err) }()
	pk := parent.BlockKey()
	return s.create(ctx, user, parent.Course, &pk, blockType, opts)
}

func (s *Store) create(ctx context.Context, user string, course keys.CourseKey, parent *keys.BlockKey, blockType string, opts CreateOptions) (*Block, error) {
	if err := requireBranch(course); err != nil {
		return nil, err
	}
	if !keys.ValidID(blockType) {
		return nil, mserr.InvalidKey(blockType, "illegal block type")
	}
	if opts.BlockID != "" && !keys.ValidID(opts.BlockID) {
		return nil, mserr.InvalidKey(opts.BlockID, "illegal block id")
	}
	branch := course.Branch
	bt := s.reg.Lookup(blockType)

	var created keys.BlockKey
	err := s.inBulk(ctx, course, user, opts.Force, func(ctx context.Context, rec *bulkRecord) error {
		if err := rec.checkPinned(course); err != nil {
			return err
		}
		st, err := rec.writable(ctx, branch)
		if err != nil {
			return err
		}
		k, err := newBlockKey(st, blockType, opts.BlockID)
		if err != nil {
			return mserr.DuplicateItem(keys.MakeUsageKey(branchKey(course, branch, ""), k))
		}
		loc := branchKey(course, branch, "")
		if parent != nil {
			if _, ok := st.Blocks[*parent]; !ok {
				return mserr.NotFound(keys.MakeUsageKey(loc, *parent))
			}
		}
		data, err := s.newBlockData(ctx, rec, st, bt, loc, opts.Fields, opts.DefinitionID)
		if err != nil {
			return err
		}
		for _, c := range data.Children {
			if _, ok := st.Blocks[c]; !ok {
				return mserr.NotFound(keys.MakeUsageKey(loc, c))
			}
		}
		st.Blocks[k] = data
		if parent != nil {
			if createsCycle(st, *parent, k) {
				delete(st.Blocks, k)
				return mserr.InvalidValue(keys.MakeUsageKey(loc, k), "adding it under "+parent.String()+" creates a cycle")
			}
			p := st.Blocks[*parent]
			p.Children = insertAt(p.Children, k, opts.Position)
			rec.touch(st, *parent)
		}
		created = k
		if branch == keys.DraftBranch && s.IsAutoPublished(blockType) {
			return s.autoPublish(ctx, rec, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("block created", "course", course.String(), "block", created.String(), "user", user)
	return s.GetItem(ctx, keys.MakeUsageKey(branchKey(course, branch, ""), created))
}

// newBlockKey returns the key for a new block; an error means id is taken.
func newBlockKey(st *types.Structure, blockType, id string) (keys.BlockKey, error) {
	if id != "" {
		k := keys.BlockKey{Type: blockType, ID: id}
		if _, ok := st.Blocks[k]; ok {
			return k, mserr.ErrDuplicateItem
		}
		return k, nil
	}
	for {
		k := keys.BlockKey{Type: blockType, ID: strings.ReplaceAll(uuid.NewString(), "-", "")}
		if _, ok := st.Blocks[k]; !ok {
			return k, nil
		}
	}
}

// newBlockData splits fields by scope, stages a definition for the content
// and returns the block to place in st.
func (s *Store) newBlockData(ctx context.Context, rec *bulkRecord, st *types.Structure, bt *xfields.BlockType, loc keys.CourseKey, fields map[string]any, definitionID keys.VersionID) (*types.BlockData, error) {
	p, err := prepareFields(bt, fields)
	if err != nil {
		return nil, mserr.InvalidValue(loc, err.Error())
	}
	var defID keys.VersionID
	if !definitionID.IsZero() && len(p.content) == 0 {
		if _, err := rec.definition(ctx, definitionID); err != nil {
			return nil, err
		}
		defID = definitionID
	} else {
		defID, err = s.stageContent(ctx, rec, bt.Name, p.content, definitionID)
		if err != nil {
			return nil, err
		}
	}
	data := &types.BlockData{
		BlockType:    bt.Name,
		DefinitionID: defID,
		Fields:       p.settings,
		EditInfo: types.BlockEditInfo{
			EditedBy:      rec.user,
			EditedOn:      st.EditedOn,
			UpdateVersion: st.ID,
		},
	}
	if p.hasChildren {
		data.Children = p.children
	} else if bt.HasChildren {
		data.Children = []keys.BlockKey{}
	}
	return data, nil
}

type preparedFields struct {
	content     map[string]any
	settings    map[string]any
	children    []keys.BlockKey
	hasChildren bool
}

func prepareFields(bt *xfields.BlockType, fields map[string]any) (preparedFields, error) {
	content, settings, children, hasChildren := bt.Split(fields)
	out := preparedFields{content: map[string]any{}, settings: map[string]any{}, hasChildren: hasChildren}
	for name, v := range content {
		sv, err := toStored(bt.Field(name).Kind, v)
		if err != nil {
			return out, fmt.Errorf("field %s: %w", name, err)
		}
		out.content[name] = sv
	}
	for name, v := range settings {
		sv, err := toStored(bt.Field(name).Kind, v)
		if err != nil {
			return out, fmt.Errorf("field %s: %w", name, err)
		}
		out.settings[name] = sv
	}
	if hasChildren {
		ks, err := blockKeyList(children)
		if err != nil {
			return out, fmt.Errorf("children: %w", err)
		}
		out.children = ks
	}
	return out, nil
}

// stageContent returns the definition holding content. base is reused when its
// fields already equal content; otherwise a new definition descending from base is staged.
func (s *Store) stageContent(ctx context.Context, rec *bulkRecord, blockType string, content map[string]any, base keys.VersionID) (keys.VersionID, error) {
	now := s.conn.Now()
	d := &types.Definition{
		ID:     keys.NewVersionID(),
		Type:   blockType,
		Fields: content,
		EditInfo: types.DefinitionEditInfo{
			EditedBy: rec.user,
			EditedOn: now,
		},
	}
	if !base.IsZero() {
		prev, err := rec.definition(ctx, base)
		if err != nil {
			return "", err
		}
		if types.FieldsEqual(prev.Fields, content) {
			return base, nil
		}
		d.EditInfo.PreviousVersion = base
		d.EditInfo.OriginalVersion = prev.EditInfo.OriginalVersion
		if d.EditInfo.OriginalVersion.IsZero() {
			d.EditInfo.OriginalVersion = base
		}
	} else {
		d.EditInfo.OriginalVersion = d.ID
	}
	rec.stageDefinition(d)
	return d.ID, nil
}

// createsCycle reports whether making child a child of parent closes a loop.
func createsCycle(st *types.Structure, parent, child keys.BlockKey) bool {
	if parent == child {
		return true
	}
	return st.Descendants(child)[parent]
}

func insertAt(children []keys.BlockKey, k keys.BlockKey, position int) []keys.BlockKey {
	if position <= 0 || position > len(children) {
		return append(children, k)
	}
	i := position - 1
	out := make([]keys.BlockKey, 0, len(children)+1)
	out = append(out, children[:i]...)
	out = append(out, k)
	return append(out, children[i:]...)
}

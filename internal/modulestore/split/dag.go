package split

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

// DAGNode is an in-memory block tree. A node names either a persisted block
// (ID) or a block that exists only in memory (LocalID).
type DAGNode struct {
	Type         string
	ID           string
	LocalID      keys.LocalID
	Fields       map[string]any
	DefinitionID keys.VersionID
	Children     []*DAGNode
}

// PersistXBlockDAG writes the subtree under root as one new structure. root
// must be a block that already exists on the branch. Local ids get fresh
// persistent ids; the returned map says which.
func (s *Store) PersistXBlockDAG(ctx context.Context, user string, course keys.CourseKey, root *DAGNode) (_ map[keys.LocalID]keys.BlockKey, err error) {
	ctx, done := s.trace(ctx, "persist_xblock_dag", attribute.String("course", course.String()))
	defer func() { done(err) }()

	if err := requireBranch(course); err != nil {
		return nil, err
	}
	if root == nil || root.ID == "" {
		return nil, mserr.InvalidValue(course, "the DAG root must be a persisted block")
	}
	loc := branchKey(course, course.Branch, "")
	var assigned map[keys.LocalID]keys.BlockKey

	err = s.inBulk(ctx, course, user, false, func(ctx context.Context, rec *bulkRecord) error {
		assigned = map[keys.LocalID]keys.BlockKey{}
		if err := rec.checkPinned(course); err != nil {
			return err
		}
		head, err := rec.current(ctx, course.Branch)
		if err != nil {
			return err
		}
		rootKey := keys.BlockKey{Type: root.Type, ID: root.ID}
		if _, ok := head.Blocks[rootKey]; !ok {
			return mserr.NotFound(keys.MakeUsageKey(loc, rootKey))
		}
		st, err := rec.writable(ctx, course.Branch)
		if err != nil {
			return err
		}
		p := &dagPersister{s: s, rec: rec, st: st, loc: loc, assigned: assigned, visiting: map[*DAGNode]bool{}}
		if _, err := p.persist(ctx, root); err != nil {
			return err
		}
		if hasCycle(st, st.Root) {
			return mserr.InvalidValue(keys.MakeUsageKey(loc, rootKey), "the DAG contains a cycle")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}

type dagPersister struct {
	s        *Store
	rec      *bulkRecord
	st       *types.Structure
	loc      keys.CourseKey
	assigned map[keys.LocalID]keys.BlockKey
	visiting map[*DAGNode]bool
}

func (p *dagPersister) key(n *DAGNode) (keys.BlockKey, error) {
	if n.ID != "" {
		return keys.NewBlockKey(n.Type, n.ID)
	}
	if n.LocalID.IsZero() {
		return keys.BlockKey{}, mserr.InvalidValue(p.loc, "DAG node of type "+n.Type+" has neither an id nor a local id")
	}
	if k, ok := p.assigned[n.LocalID]; ok {
		return k, nil
	}
	k, err := newBlockKey(p.st, n.Type, "")
	if err != nil {
		return keys.BlockKey{}, err
	}
	p.assigned[n.LocalID] = k
	return k, nil
}

func (p *dagPersister) persist(ctx context.Context, n *DAGNode) (keys.BlockKey, error) {
	if p.visiting[n] {
		return keys.BlockKey{}, mserr.InvalidValue(p.loc, "the DAG contains a cycle")
	}
	p.visiting[n] = true
	defer delete(p.visiting, n)

	k, err := p.key(n)
	if err != nil {
		return keys.BlockKey{}, err
	}
	children := make([]keys.BlockKey, 0, len(n.Children))
	for _, c := range n.Children {
		ck, err := p.persist(ctx, c)
		if err != nil {
			return keys.BlockKey{}, err
		}
		children = append(children, ck)
	}

	bt := p.s.reg.Lookup(n.Type)
	existing, ok := p.st.Blocks[k]
	if !ok {
		data, err := p.s.newBlockData(ctx, p.rec, p.st, bt, p.loc, n.Fields, n.DefinitionID)
		if err != nil {
			return keys.BlockKey{}, err
		}
		if len(children) > 0 || bt.HasChildren {
			data.Children = children
		}
		p.st.Blocks[k] = data
		return k, nil
	}

	prepared, err := prepareFields(bt, n.Fields)
	if err != nil {
		return keys.BlockKey{}, mserr.InvalidValue(keys.MakeUsageKey(p.loc, k), err.Error())
	}
	changed := false
	if n.Fields != nil && !types.FieldsEqual(existing.Fields, prepared.settings) {
		existing.Fields = prepared.settings
		changed = true
	}
	if len(prepared.content) > 0 {
		id, err := p.s.stageContent(ctx, p.rec, existing.BlockType, prepared.content, existing.DefinitionID)
		if err != nil {
			return keys.BlockKey{}, err
		}
		if id != existing.DefinitionID {
			existing.DefinitionID = id
			changed = true
		}
	}
	if !sameChildren(existing.Children, children) {
		existing.Children = children
		changed = true
	}
	if changed {
		p.rec.touch(p.st, k)
	}
	return k, nil
}

// hasCycle reports whether any path from root revisits a block on the current path.
func hasCycle(st *types.Structure, root keys.BlockKey) bool {
	const (
		open = 1
		done = 2
	)
	state := map[keys.BlockKey]int{}
	var visit func(k keys.BlockKey) bool
	visit = func(k keys.BlockKey) bool {
		switch state[k] {
		case open:
			return true
		case done:
			return false
		}
		state[k] = open
		if b, ok := st.Blocks[k]; ok {
			for _, c := range b.Children {
				if visit(c) {
					return true
				}
			}
		}
		state[k] = done
		return false
	}
	return visit(root)
}

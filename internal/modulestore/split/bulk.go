package split

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/persistence"
	"github.com/yungbote/splitstore/internal/observability"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
	"github.com/yungbote/splitstore/internal/platform/ctxutil"
)

type bulkCtxKey struct{}

// bulkScopes is the set of open bulk operations visible through one context.
type bulkScopes struct {
	mu       sync.Mutex
	byCourse map[string]*bulkRecord
}

// bulkRecord stages every write to one course until the outermost scope exits.
type bulkRecord struct {
	store  *Store
	course keys.CourseKey
	user   string
	force  bool

	// index is the course index as observed when the scope opened; nil for a
	// course being created inside the scope.
	index *types.CourseIndex
	next  *types.CourseIndex
	heads map[string]keys.VersionID

	loaded  map[string]*types.Structure
	staged  map[string]*types.Structure
	defs    map[keys.VersionID]*types.Definition
	defList []*types.Definition
	depth   int

	// gen advances whenever a staged structure may change; snaps holds read
	// copies of staged structures taken at a given gen.
	gen   int
	snaps map[string]snapshot
}

type snapshot struct {
	gen int
	st  *types.Structure
}

func indexID(ck keys.CourseKey) string {
	return ck.Org + "+" + ck.Course + "+" + ck.Run
}

func bulkFrom(ctx context.Context, ck keys.CourseKey) *bulkRecord {
	scopes, _ := ctx.Value(bulkCtxKey{}).(*bulkScopes)
	if scopes == nil {
		return nil
	}
	scopes.mu.Lock()
	defer scopes.mu.Unlock()
	return scopes.byCourse[indexID(ck)]
}

func withBulk(ctx context.Context, rec *bulkRecord) context.Context {
	out := &bulkScopes{byCourse: map[string]*bulkRecord{}}
	if parent, _ := ctx.Value(bulkCtxKey{}).(*bulkScopes); parent != nil {
		parent.mu.Lock()
		for k, v := range parent.byCourse {
			out.byCourse[k] = v
		}
		parent.mu.Unlock()
	}
	out.byCourse[indexID(rec.course)] = rec
	return context.WithValue(ctx, bulkCtxKey{}, out)
}

func (s *Store) openBulk(ctx context.Context, course keys.CourseKey, user string, force bool) (*bulkRecord, error) {
	rec := &bulkRecord{
		store:  s,
		course: course.VersionAgnostic(),
		user:   user,
		force:  force,
		heads:  map[string]keys.VersionID{},
		loaded: map[string]*types.Structure{},
		staged: map[string]*types.Structure{},
		defs:   map[keys.VersionID]*types.Definition{},
		snaps:  map[string]snapshot{},
	}
	idx, err := s.conn.GetCourseIndex(ctx, course, false)
	switch {
	case err == nil:
		rec.index = idx
		for b, v := range idx.Versions {
			rec.heads[b] = v
		}
	case errors.Is(err, mserr.ErrItemNotFound):
	default:
		return nil, err
	}
	return rec, nil
}

// BulkOperations runs fn with every write to course staged into one new
// structure per branch and a single index update on exit. Reads made through
// the context passed to fn see the staged state. Nested calls for the same
// course join the outermost scope. An error from fn discards everything.
func (s *Store) BulkOperations(ctx context.Context, course keys.CourseKey, user string, fn func(ctx context.Context) error) (err error) {
	if !course.HasIndex() {
		return mserr.Insufficient(course, "bulk operations need org, course and run")
	}
	if rec := bulkFrom(ctx, course); rec != nil {
		rec.depth++
		defer func() { rec.depth-- }()
		return fn(ctx)
	}
	ctx, done := s.trace(ctx, "bulk_operations")
	defer func() { done(err) }()

	rec, err := s.openBulk(ctx, course, user, false)
	if err != nil {
		return err
	}
	rec.depth = 1
	if err := fn(withBulk(ctx, rec)); err != nil {
		s.log.Debug("bulk operation discarded", "course", rec.course.String(), "error", err)
		return err
	}
	return s.commit(ctx, rec)
}

// inBulk runs a single write inside the caller's bulk scope if there is one,
// otherwise inside its own. A forced write that loses the index race is
// replayed against the new head.
func (s *Store) inBulk(ctx context.Context, course keys.CourseKey, user string, force bool, op func(ctx context.Context, rec *bulkRecord) error) error {
	if rec := bulkFrom(ctx, course); rec != nil {
		defer rec.invalidate()
		return op(ctx, rec)
	}
	attempts := 1
	if force {
		attempts += s.retries
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var rec *bulkRecord
		rec, err = s.openBulk(ctx, course, user, force)
		if err != nil {
			return err
		}
		rec.depth = 1
		if err = op(withBulk(ctx, rec), rec); err != nil {
			return err
		}
		err = s.commit(ctx, rec)
		if err == nil || !errors.Is(err, mserr.ErrVersionConflict) || attempt == attempts {
			return err
		}
		s.log.Info("forced write lost the race, replaying", "course", rec.course.String(), "attempt", attempt)
	}
	return err
}

func (r *bulkRecord) isHead(branch string, v keys.VersionID) bool {
	if r.heads[branch] == v {
		return true
	}
	st := r.staged[branch]
	return st != nil && st.ID == v
}

// hasIndex reports whether the course exists, or is being created in this scope.
func (r *bulkRecord) hasIndex() bool { return r.index != nil || r.next != nil }

func (r *bulkRecord) hasBranch(branch string) bool {
	if r.staged[branch] != nil {
		return true
	}
	_, ok := r.heads[branch]
	return ok
}

// current returns the staged structure of branch or its head.
func (r *bulkRecord) current(ctx context.Context, branch string) (*types.Structure, error) {
	if st := r.staged[branch]; st != nil {
		return st, nil
	}
	if st := r.loaded[branch]; st != nil {
		return st, nil
	}
	head, ok := r.heads[branch]
	if !ok {
		return nil, mserr.NotFound(branchKey(r.course, branch, ""))
	}
	st, err := r.store.conn.GetStructure(ctx, head)
	if err != nil {
		return nil, err
	}
	r.loaded[branch] = st
	return st, nil
}

// readable returns a structure of branch that later staged writes will not
// touch. Staged structures are copied at most once per write generation.
func (r *bulkRecord) readable(ctx context.Context, branch string) (*types.Structure, error) {
	st := r.staged[branch]
	if st == nil {
		return r.current(ctx, branch)
	}
	if snap, ok := r.snaps[branch]; ok && snap.gen == r.gen {
		return snap.st, nil
	}
	cp := st.Clone()
	r.snaps[branch] = snapshot{gen: r.gen, st: cp}
	return cp, nil
}

func (r *bulkRecord) invalidate() { r.gen++ }

// writable returns the staged structure of branch, deriving it from the head
// on first use.
func (r *bulkRecord) writable(ctx context.Context, branch string) (*types.Structure, error) {
	r.invalidate()
	if st := r.staged[branch]; st != nil {
		return st, nil
	}
	head, err := r.current(ctx, branch)
	if err != nil {
		return nil, err
	}
	st := head.Clone()
	st.ID = keys.NewVersionID()
	st.PreviousVersion = head.ID
	st.OriginalVersion = head.OriginalVersion
	st.EditedBy = r.user
	st.EditedOn = r.store.conn.Now()
	r.staged[branch] = st
	return st, nil
}

// stageNew installs a brand new lineage for branch.
func (r *bulkRecord) stageNew(branch string, root keys.BlockKey) *types.Structure {
	r.invalidate()
	id := keys.NewVersionID()
	st := &types.Structure{
		ID:              id,
		OriginalVersion: id,
		EditedBy:        r.user,
		EditedOn:        r.store.conn.Now(),
		Root:            root,
		Blocks:          map[keys.BlockKey]*types.BlockData{},
	}
	r.staged[branch] = st
	return st
}

// checkPinned rejects writes through a key pinned to a version that is no
// longer the branch head. Forced writes rebase instead.
func (r *bulkRecord) checkPinned(ck keys.CourseKey) error {
	if ck.Version.IsZero() || r.force || r.isHead(ck.Branch, ck.Version) {
		return nil
	}
	return mserr.VersionConflict(branchKey(r.course, ck.Branch, ""), string(ck.Version), string(r.heads[ck.Branch]))
}

func (r *bulkRecord) stageDefinition(d *types.Definition) {
	r.defs[d.ID] = d
	r.defList = append(r.defList, d)
}

func (r *bulkRecord) definition(ctx context.Context, id keys.VersionID) (*types.Definition, error) {
	if d := r.defs[id]; d != nil {
		return d, nil
	}
	return r.store.conn.GetDefinition(ctx, id)
}

func (r *bulkRecord) dirty() bool {
	return len(r.staged) > 0 || r.next != nil
}

func (s *Store) commit(ctx context.Context, rec *bulkRecord) error {
	start := time.Now()
	log := s.log.With(ctxutil.LogFields(ctx)...)
	if !rec.dirty() {
		observability.RecordCommit("noop", time.Since(start))
		return nil
	}
	branches := make([]string, 0, len(rec.staged))
	for b := range rec.staged {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	next := rec.next
	if next == nil {
		next = rec.index.Clone()
	}
	for _, b := range branches {
		next.Versions[b] = rec.staged[b].ID
	}
	next.EditedBy = rec.user

	err := s.conn.Transaction(ctx, func(tc *persistence.Connection) error {
		if len(rec.defList) > 0 {
			if err := tc.InsertDefinitions(ctx, rec.defList); err != nil {
				return err
			}
		}
		for _, b := range branches {
			if err := tc.UpsertStructure(ctx, rec.staged[b]); err != nil {
				return err
			}
		}
		if rec.index == nil {
			return tc.InsertCourseIndex(ctx, next)
		}
		return tc.UpdateCourseIndex(ctx, next, rec.index)
	})
	if err != nil {
		if errors.Is(err, mserr.ErrVersionConflict) && len(branches) > 0 {
			observability.RecordCommit("conflict", time.Since(start))
			b := branches[0]
			actual := ""
			if cur, gerr := s.conn.GetCourseIndex(ctx, rec.course, false); gerr == nil {
				actual = string(cur.Versions[b])
			}
			log.Warn("bulk commit lost the race", "course", rec.course.String(), "branch", b, "expected", rec.heads[b], "actual", actual)
			return mserr.VersionConflict(branchKey(rec.course, b, ""), string(rec.heads[b]), actual)
		}
		observability.RecordCommit("error", time.Since(start))
		return err
	}
	observability.RecordCommit("committed", time.Since(start))
	for _, b := range branches {
		log.Debug("branch advanced",
			"course", rec.course.String(),
			"branch", b,
			"from", rec.heads[b],
			"to", rec.staged[b].ID,
			"edited_by", rec.user,
		)
	}
	return nil
}

// touch stamps the block as edited in the staged structure st.
func (r *bulkRecord) touch(st *types.Structure, k keys.BlockKey) {
	b := st.Blocks[k]
	if b == nil {
		return
	}
	if b.EditInfo.UpdateVersion != st.ID {
		b.EditInfo.PreviousVersion = b.EditInfo.UpdateVersion
		b.EditInfo.UpdateVersion = st.ID
	}
	b.EditInfo.EditedBy = r.user
	b.EditInfo.EditedOn = st.EditedOn
	b.EditInfo.SourceVersion = ""
}

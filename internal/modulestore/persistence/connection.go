// Package persistence is the document-store facade of the modulestore: a
// content-addressed read API over definitions and structures, and a
// compare-and-swap write path for course indexes.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/yungbote/splitstore/internal/data/cache"
	"github.com/yungbote/splitstore/internal/data/db"
	"github.com/yungbote/splitstore/internal/data/repos"
	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/observability"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
	"github.com/yungbote/splitstore/internal/pkg/dbctx"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

// IndexQuery filters course indexes. Every populated field must match.
type IndexQuery struct {
	Branch        string
	Org           string
	SearchTargets map[string]string
}

type Connection struct {
	db          *gorm.DB
	tx          *gorm.DB
	log         *logger.Logger
	courses     repos.CourseIndexRepo
	structures  repos.StructureRepo
	definitions repos.DefinitionRepo
	cache       cache.StructureCache
	now         func() time.Time

	// structures written inside a transaction reach the cache only after commit
	pendingMu sync.Mutex
	pending   []*types.Structure
}

func New(database *gorm.DB, structureCache cache.StructureCache, baseLog *logger.Logger) *Connection {
	if structureCache == nil {
		structureCache = cache.Noop()
	}
	return &Connection{
		db:          database,
		log:         baseLog.With("service", "ModulestoreConnection"),
		courses:     repos.NewCourseIndexRepo(database, baseLog),
		structures:  repos.NewStructureRepo(database, baseLog),
		definitions: repos.NewDefinitionRepo(database, baseLog),
		cache:       structureCache,
		now:         time.Now,
	}
}

// SetClock replaces the wall clock used to stamp last_update and edited_on.
func (c *Connection) SetClock(now func() time.Time) {
	c.now = now
}

// Now is the connection's clock truncated to the precision every backend stores.
func (c *Connection) Now() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

func (c *Connection) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx, Tx: c.tx}
}

// Transaction runs fn against a connection bound to one database transaction.
// Structures upserted inside fn are cached only once the transaction commits.
func (c *Connection) Transaction(ctx context.Context, fn func(tc *Connection) error) error {
	if c.tx != nil {
		return fn(c)
	}
	txc := &Connection{
		db:          c.db,
		log:         c.log,
		courses:     c.courses,
		structures:  c.structures,
		definitions: c.definitions,
		cache:       c.cache,
		now:         c.now,
	}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc.tx = tx
		return fn(txc)
	})
	if err != nil {
		return err
	}
	for _, s := range txc.pending {
		c.cache.Set(ctx, s)
	}
	return nil
}

func (c *Connection) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "persistence."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Connection) GetDefinition(ctx context.Context, id keys.VersionID) (_ *types.Definition, err error) {
	ctx, span := c.startSpan(ctx, "get_definition", attribute.String("definition", string(id)))
	defer func() { endSpan(span, err) }()

	doc, err := c.definitions.Get(c.dbc(ctx), string(id))
	if err != nil {
		return nil, fmt.Errorf("load definition %s: %w", id, err)
	}
	if doc == nil {
		return nil, mserr.NotFoundf("definition %s", id)
	}
	return types.DecodeDefinition(doc)
}

// GetDefinitions returns the definitions found; missing ids are absent from the map.
func (c *Connection) GetDefinitions(ctx context.Context, ids []keys.VersionID) (_ map[keys.VersionID]*types.Definition, err error) {
	ctx, span := c.startSpan(ctx, "get_definitions", attribute.Int("count", len(ids)))
	defer func() { endSpan(span, err) }()

	raw := make([]string, 0, len(ids))
	seen := map[keys.VersionID]bool{}
	for _, id := range ids {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		raw = append(raw, string(id))
	}
	docs, err := c.definitions.GetByIDs(c.dbc(ctx), raw)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	out := make(map[keys.VersionID]*types.Definition, len(docs))
	for _, doc := range docs {
		d, err := types.DecodeDefinition(doc)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, nil
}

// InsertDefinition assigns an id when the definition has none and returns it.
func (c *Connection) InsertDefinition(ctx context.Context, d *types.Definition) (keys.VersionID, error) {
	if err := c.InsertDefinitions(ctx, []*types.Definition{d}); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (c *Connection) InsertDefinitions(ctx context.Context, defs []*types.Definition) (err error) {
	ctx, span := c.startSpan(ctx, "insert_definitions", attribute.Int("count", len(defs)))
	defer func() { endSpan(span, err) }()

	docs := make([]*types.DefinitionDoc, 0, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		if d.ID.IsZero() {
			d.ID = keys.NewVersionID()
		}
		if d.EditInfo.OriginalVersion.IsZero() {
			d.EditInfo.OriginalVersion = d.ID
		}
		doc, err := types.EncodeDefinition(d)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if err := c.definitions.Insert(c.dbc(ctx), docs); err != nil {
		return fmt.Errorf("insert definitions: %w", err)
	}
	observability.RecordDefinitionsWritten(len(docs))
	return nil
}

// GetStructure consults the cache before the structures collection and fills it on a miss.
func (c *Connection) GetStructure(ctx context.Context, id keys.VersionID) (_ *types.Structure, err error) {
	ctx, span := c.startSpan(ctx, "get_structure", attribute.String("structure", string(id)))
	defer func() { endSpan(span, err) }()

	if id.IsZero() {
		return nil, mserr.NotFoundf("structure <empty>")
	}
	if s, ok := c.cache.Get(ctx, id); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return s, nil
	}
	doc, err := c.structures.Get(c.dbc(ctx), string(id))
	if err != nil {
		return nil, fmt.Errorf("load structure %s: %w", id, err)
	}
	if doc == nil {
		return nil, mserr.NotFoundf("structure %s", id)
	}
	s, err := types.DecodeStructure(doc)
	if err != nil {
		return nil, err
	}
	c.cache.Set(ctx, s)
	return s, nil
}

// UpsertStructure writes by id; re-writing an existing id changes nothing.
func (c *Connection) UpsertStructure(ctx context.Context, s *types.Structure) (err error) {
	ctx, span := c.startSpan(ctx, "upsert_structure", attribute.String("structure", string(s.ID)), attribute.Int("blocks", len(s.Blocks)))
	defer func() { endSpan(span, err) }()

	if _, ok := s.Blocks[s.Root]; !ok {
		return mserr.InvalidValue(s.Root, "structure root is not among its blocks")
	}
	doc, err := types.EncodeStructure(s)
	if err != nil {
		return err
	}
	if err := c.structures.Upsert(c.dbc(ctx), doc); err != nil {
		return fmt.Errorf("upsert structure %s: %w", s.ID, err)
	}
	observability.RecordStructureWritten()
	if c.tx != nil {
		c.pendingMu.Lock()
		c.pending = append(c.pending, s)
		c.pendingMu.Unlock()
		return nil
	}
	c.cache.Set(ctx, s)
	return nil
}

// StructureHistory lists every structure sharing an original version, oldest first.
func (c *Connection) StructureHistory(ctx context.Context, original keys.VersionID) ([]keys.VersionID, error) {
	ids, err := c.structures.ListIDsByOriginalVersion(c.dbc(ctx), string(original))
	if err != nil {
		return nil, fmt.Errorf("list structure history: %w", err)
	}
	out := make([]keys.VersionID, len(ids))
	for i, id := range ids {
		out[i] = keys.VersionID(id)
	}
	return out, nil
}

// GetCourseIndex never touches the structure cache: indexes are mutable.
func (c *Connection) GetCourseIndex(ctx context.Context, course keys.CourseKey, ignoreCase bool) (_ *types.CourseIndex, err error) {
	ctx, span := c.startSpan(ctx, "get_course_index", attribute.String("course", course.VersionAgnostic().String()))
	defer func() { endSpan(span, err) }()

	doc, err := c.courses.Get(c.dbc(ctx), course.Org, course.Course, course.Run, ignoreCase)
	if err != nil {
		return nil, fmt.Errorf("load course index: %w", err)
	}
	if doc == nil {
		return nil, mserr.NotFound(course.VersionAgnostic())
	}
	return types.DecodeCourseIndex(doc)
}

func (c *Connection) FindMatchingCourseIndexes(ctx context.Context, q IndexQuery) (_ []*types.CourseIndex, err error) {
	ctx, span := c.startSpan(ctx, "find_matching_course_indexes", attribute.String("branch", q.Branch))
	defer func() { endSpan(span, err) }()

	docs, err := c.courses.Find(c.dbc(ctx), repos.CourseIndexFilter{
		Branch:        q.Branch,
		Org:           q.Org,
		SearchTargets: q.SearchTargets,
	})
	if err != nil {
		return nil, fmt.Errorf("find course indexes: %w", err)
	}
	out := make([]*types.CourseIndex, 0, len(docs))
	for _, doc := range docs {
		ci, err := types.DecodeCourseIndex(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, nil
}

// InsertCourseIndex stamps id and last_update. A taken (org, course, run) is
// DuplicateCourse.
func (c *Connection) InsertCourseIndex(ctx context.Context, ci *types.CourseIndex) (err error) {
	ctx, span := c.startSpan(ctx, "insert_course_index", attribute.String("course", ci.CourseKey().String()))
	defer func() { endSpan(span, err) }()

	if ci.ID == "" {
		ci.ID = keys.NewVersionID().String()
	}
	ci.LastUpdate = c.Now()
	doc, err := types.EncodeCourseIndex(ci)
	if err != nil {
		return err
	}
	if err := c.courses.Insert(c.dbc(ctx), doc); err != nil {
		if db.IsUniqueViolation(err) {
			return &mserr.Error{Kind: mserr.ErrDuplicateCourse, Key: ci.CourseKey().String(), Err: err}
		}
		return fmt.Errorf("insert course index: %w", err)
	}
	return nil
}

// UpdateCourseIndex writes next. With from set the write only lands if the stored
// last_update still equals from.LastUpdate, otherwise it fails with
// VersionConflict. next.LastUpdate is restamped and strictly increases.
func (c *Connection) UpdateCourseIndex(ctx context.Context, next, from *types.CourseIndex) (err error) {
	ctx, span := c.startSpan(ctx, "update_course_index", attribute.String("course", next.CourseKey().String()), attribute.Bool("conditional", from != nil))
	defer func() { endSpan(span, err) }()

	stamp := c.Now()
	if from != nil && !stamp.After(from.LastUpdate) {
		stamp = from.LastUpdate.Add(time.Microsecond)
	}
	prev := next.LastUpdate
	next.LastUpdate = stamp
	doc, err := types.EncodeCourseIndex(next)
	if err != nil {
		next.LastUpdate = prev
		return err
	}
	if from == nil {
		if err := c.courses.Replace(c.dbc(ctx), doc); err != nil {
			next.LastUpdate = prev
			return fmt.Errorf("replace course index: %w", err)
		}
		return nil
	}
	ok, err := c.courses.CompareAndSwap(c.dbc(ctx), doc, from.LastUpdate)
	if err != nil {
		next.LastUpdate = prev
		return fmt.Errorf("update course index: %w", err)
	}
	if !ok {
		next.LastUpdate = prev
		actual := "<deleted>"
		if cur, gerr := c.GetCourseIndex(ctx, next.CourseKey(), false); gerr == nil {
			actual = cur.LastUpdate.Format(time.RFC3339Nano)
		}
		c.log.Warn("course index compare-and-swap lost",
			"course", next.CourseKey().String(),
			"expected", from.LastUpdate,
			"actual", actual,
		)
		return mserr.VersionConflict(next.CourseKey(), from.LastUpdate.Format(time.RFC3339Nano), actual)
	}
	return nil
}

func (c *Connection) DeleteCourseIndex(ctx context.Context, course keys.CourseKey) (err error) {
	ctx, span := c.startSpan(ctx, "delete_course_index", attribute.String("course", course.VersionAgnostic().String()))
	defer func() { endSpan(span, err) }()

	n, err := c.courses.Delete(c.dbc(ctx), course.Org, course.Course, course.Run)
	if err != nil {
		return fmt.Errorf("delete course index: %w", err)
	}
	if n == 0 {
		return mserr.NotFound(course.VersionAgnostic())
	}
	return nil
}

// IsNotFound reports whether err is an ItemNotFound of any origin, gorm included.
func IsNotFound(err error) bool {
	return errors.Is(err, mserr.ErrItemNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

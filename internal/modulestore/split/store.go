// Package split is the versioned course modulestore. Every write produces a new
// immutable structure; a course index maps each branch to its head structure
// and moves only through compare-and-swap. Reads fold inheritable settings
// down the course DAG on the fly.
package split

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/persistence"
	"github.com/yungbote/splitstore/internal/modulestore/xfields"
	"github.com/yungbote/splitstore/internal/observability"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

// DefaultAutoPublishCategories are published the moment they are written to draft.
var DefaultAutoPublishCategories = []string{"chapter", "sequential", "about", "course_info", "static_tab"}

type Config struct {
	AutoPublishCategories []string
	// ForceRetries bounds how often a forced write is replayed after losing a race.
	ForceRetries int
}

func DefaultConfig() Config {
	return Config{
		AutoPublishCategories: append([]string{}, DefaultAutoPublishCategories...),
		ForceRetries:          5,
	}
}

type Store struct {
	conn             *persistence.Connection
	reg              *xfields.Registry
	log              *logger.Logger
	autoPublishTypes map[string]bool
	retries          int
}

func New(conn *persistence.Connection, reg *xfields.Registry, baseLog *logger.Logger, cfg Config) *Store {
	if reg == nil {
		reg = xfields.Default()
	}
	auto := make(map[string]bool, len(cfg.AutoPublishCategories))
	for _, c := range cfg.AutoPublishCategories {
		auto[c] = true
	}
	retries := cfg.ForceRetries
	if retries <= 0 {
		retries = 5
	}
	return &Store{
		conn:             conn,
		reg:              reg,
		log:              baseLog.With("service", "SplitStore"),
		autoPublishTypes: auto,
		retries:          retries,
	}
}

func (s *Store) Registry() *xfields.Registry { return s.reg }

// IsAutoPublished reports whether writes of blockType to draft are published immediately.
func (s *Store) IsAutoPublished(blockType string) bool { return s.autoPublishTypes[blockType] }

// trace opens a span and returns the matching finisher:
//
//	ctx, done := s.trace(ctx, "get_item")
//	defer func() { done(err) }()
func (s *Store) trace(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "modulestore."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		observability.ObserveOperation(op, start, &err)
	}
}

// branchKey is the course key a block lives under at a given structure.
func branchKey(course keys.CourseKey, branch string, version keys.VersionID) keys.CourseKey {
	return keys.CourseKey{Org: course.Org, Course: course.Course, Run: course.Run, Branch: branch, Version: version}
}

// requireBranch rejects writes that do not name a branch.
func requireBranch(ck keys.CourseKey) error {
	if !ck.HasIndex() {
		return mserr.Insufficient(ck, "writes need org, course and run")
	}
	if ck.Branch == "" {
		return mserr.Insufficient(ck, "writes need a branch")
	}
	return nil
}

// view is one resolved read target: a structure snapshot and the course key
// (branch and version filled in) its blocks are addressed under.
type view struct {
	st     *types.Structure
	course keys.CourseKey
	rec    *bulkRecord
	res    *resolverCache
}

func (s *Store) resolve(ctx context.Context, ck keys.CourseKey) (*view, error) {
	if ck.HasIndex() && ck.Branch != "" {
		if rec := bulkFrom(ctx, ck); rec != nil && (ck.Version.IsZero() || rec.isHead(ck.Branch, ck.Version)) {
			st, err := rec.readable(ctx, ck.Branch)
			if err != nil {
				return nil, err
			}
			return &view{st: st, course: branchKey(ck, ck.Branch, st.ID), rec: rec, res: newResolverCache(st, s.reg)}, nil
		}
		if ck.Version.IsZero() {
			idx, err := s.conn.GetCourseIndex(ctx, ck, false)
			if err != nil {
				return nil, err
			}
			head, ok := idx.Versions[ck.Branch]
			if !ok {
				return nil, mserr.NotFound(ck)
			}
			st, err := s.conn.GetStructure(ctx, head)
			if err != nil {
				return nil, err
			}
			return &view{st: st, course: branchKey(ck, ck.Branch, st.ID), res: newResolverCache(st, s.reg)}, nil
		}
	}
	if !ck.Version.IsZero() {
		st, err := s.conn.GetStructure(ctx, ck.Version)
		if err != nil {
			return nil, err
		}
		return &view{st: st, course: ck, res: newResolverCache(st, s.reg)}, nil
	}
	return nil, mserr.Insufficient(ck, "need a branch or a version")
}

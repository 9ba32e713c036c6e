// Package splittest builds modulestores and fixture courses for tests.
package splittest

import (
	"context"
	_ "embed"
	"fmt"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/splitstore/internal/data/cache"
	"github.com/yungbote/splitstore/internal/data/repos/testutil"
	"github.com/yungbote/splitstore/internal/domain/keys"
	"github.com/yungbote/splitstore/internal/modulestore/persistence"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/modulestore/xfields"
)

//go:embed greekhero.yaml
var greekHeroYAML []byte

// NewStore returns a store over a private database with the default block set.
func NewStore(tb testing.TB) *split.Store {
	tb.Helper()
	return NewStoreWithCache(tb, nil)
}

func NewStoreWithCache(tb testing.TB, c cache.StructureCache) *split.Store {
	tb.Helper()
	conn := persistence.New(testutil.DB(tb), c, testutil.Logger(tb))
	return split.New(conn, xfields.Default(), testutil.Logger(tb), split.DefaultConfig())
}

type Node struct {
	Type     string         `yaml:"type"`
	ID       string         `yaml:"id"`
	Fields   map[string]any `yaml:"fields"`
	Children []Node         `yaml:"children"`
}

type CourseSpec struct {
	Org      string `yaml:"org"`
	Course   string `yaml:"course"`
	Run      string `yaml:"run"`
	User     string `yaml:"user"`
	Root     Node   `yaml:"root"`
	Detached []Node `yaml:"detached"`
}

// Fixture is a loaded course: the draft course key and every block by id.
type Fixture struct {
	Course keys.CourseKey
	User   string
	Blocks map[string]keys.UsageKey
}

// Block returns the draft usage key of the block with the given id.
func (f *Fixture) Block(tb testing.TB, id string) keys.UsageKey {
	tb.Helper()
	u, ok := f.Blocks[id]
	if !ok {
		tb.Fatalf("fixture has no block %q", id)
	}
	return u
}

func ParseCourse(raw []byte) (*CourseSpec, error) {
	var spec CourseSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &spec, nil
}

// GreekHero loads the GreekHero course onto draft.
func GreekHero(tb testing.TB, ctx context.Context, store *split.Store) *Fixture {
	tb.Helper()
	spec, err := ParseCourse(greekHeroYAML)
	if err != nil {
		tb.Fatalf("%v", err)
	}
	f, err := Load(ctx, store, spec)
	if err != nil {
		tb.Fatalf("load GreekHero: %v", err)
	}
	return f
}

// Load creates the course and all of its blocks through the public write
// API, as one bulk operation after the course itself.
func Load(ctx context.Context, store *split.Store, spec *CourseSpec) (*Fixture, error) {
	root, err := store.CreateCourse(ctx, spec.User, spec.Org, spec.Course, spec.Run, split.CourseOptions{Fields: spec.Root.Fields})
	if err != nil {
		return nil, err
	}
	course := root.Location().Course.ForBranch(keys.DraftBranch)
	f := &Fixture{Course: course, User: spec.User, Blocks: map[string]keys.UsageKey{}}
	f.Blocks[root.BlockKey().ID] = keys.MakeUsageKey(course, root.BlockKey())

	var create func(ctx context.Context, parent keys.UsageKey, n Node) error
	create = func(ctx context.Context, parent keys.UsageKey, n Node) error {
		b, err := store.CreateChild(ctx, spec.User, parent, n.Type, split.CreateOptions{BlockID: n.ID, Fields: n.Fields})
		if err != nil {
			return fmt.Errorf("create %s/%s: %w", n.Type, n.ID, err)
		}
		u := keys.MakeUsageKey(course, b.BlockKey())
		f.Blocks[n.ID] = u
		for _, c := range n.Children {
			if err := create(ctx, u, c); err != nil {
				return err
			}
		}
		return nil
	}
	err = store.BulkOperations(ctx, course, spec.User, func(ctx context.Context) error {
		for _, c := range spec.Root.Children {
			if err := create(ctx, f.Blocks[root.BlockKey().ID], c); err != nil {
				return err
			}
		}
		for _, d := range spec.Detached {
			b, err := store.CreateItem(ctx, spec.User, course, d.Type, split.CreateOptions{BlockID: d.ID, Fields: d.Fields})
			if err != nil {
				return fmt.Errorf("create %s/%s: %w", d.Type, d.ID, err)
			}
			f.Blocks[d.ID] = keys.MakeUsageKey(course, b.BlockKey())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

package split

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
)

// Condition matches a field value. The zero Condition with Exists unset
// requires an exact (JSON) match against Equals.
type Condition struct {
	Equals any
	In     []any
	NotIn  []any
	// Exists, when non-nil, matches on presence alone.
	Exists *bool
}

func Eq(v any) Condition { return Condition{Equals: v} }

func In(vs ...any) Condition { return Condition{In: vs} }

func NotIn(vs ...any) Condition { return Condition{NotIn: vs} }

func Exists(b bool) Condition { return Condition{Exists: &b} }

func (c Condition) match(v any, present bool) bool {
	if c.Exists != nil {
		return present == *c.Exists
	}
	if c.In != nil {
		if !present {
			return false
		}
		for _, want := range c.In {
			if jsonMatch(want, v) {
				return true
			}
		}
		return false
	}
	if c.NotIn != nil {
		if !present {
			return true
		}
		for _, bad := range c.NotIn {
			if jsonMatch(bad, v) {
				return false
			}
		}
		return true
	}
	if re, ok := c.Equals.(*regexp.Regexp); ok {
		str, isStr := v.(string)
		return present && isStr && re.MatchString(str)
	}
	return present && jsonMatch(c.Equals, v)
}

func jsonMatch(want, got any) bool {
	norm, err := types.NormalizeValue(want)
	if err != nil {
		return false
	}
	return types.JSONEqual(norm, got)
}

// ItemQuery filters GetItems. Qualifiers match on "category" (block type) and
// "name" (block id); each accepts a string, a []string or a *regexp.Regexp.
// Settings match explicit settings; Content matches definition fields.
type ItemQuery struct {
	Qualifiers map[string]any
	Settings   map[string]Condition
	Content    map[string]Condition
}

const definitionFetchChunk = 100

// GetItems returns the blocks of the course matching q, ordered by block key.
func (s *Store) GetItems(ctx context.Context, course keys.CourseKey, q ItemQuery) (_ []*Block, err error) {
	ctx, done := s.trace(ctx, "get_items", attribute.String("course", course.String()))
	defer func() { done(err) }()

	v, err := s.resolve(ctx, course)
	if err != nil {
		return nil, err
	}
	var candidates []keys.BlockKey
	for _, k := range v.st.SortedKeys() {
		ok, err := matchQualifiers(k, q.Qualifiers)
		if err != nil {
			return nil, err
		}
		if !ok || !matchFields(v.st.Blocks[k].Fields, q.Settings) {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(q.Content) > 0 {
		candidates, err = s.filterByContent(ctx, v, candidates, q.Content)
		if err != nil {
			return nil, err
		}
	}
	out := make([]*Block, 0, len(candidates))
	for _, k := range candidates {
		b, err := s.newBlock(v, k)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func matchQualifiers(k keys.BlockKey, qs map[string]any) (bool, error) {
	for name, want := range qs {
		var got string
		switch name {
		case "category", "block_type":
			got = k.Type
		case "name", "block_id":
			got = k.ID
		default:
			return false, fmt.Errorf("get_items: unknown qualifier %q", name)
		}
		if !matchString(want, got) {
			return false, nil
		}
	}
	return true, nil
}

func matchString(want any, got string) bool {
	switch w := want.(type) {
	case string:
		return w == got
	case []string:
		for _, s := range w {
			if s == got {
				return true
			}
		}
		return false
	case *regexp.Regexp:
		return w.MatchString(got)
	}
	return false
}

func matchFields(fields map[string]any, conds map[string]Condition) bool {
	for name, c := range conds {
		v, ok := fields[name]
		if !c.match(v, ok) {
			return false
		}
	}
	return true
}

// filterByContent loads the candidates' definitions in parallel chunks and
// keeps the blocks whose content matches.
func (s *Store) filterByContent(ctx context.Context, v *view, candidates []keys.BlockKey, conds map[string]Condition) ([]keys.BlockKey, error) {
	seen := map[keys.VersionID]bool{}
	var ids []keys.VersionID
	for _, k := range candidates {
		id := v.st.Blocks[k].DefinitionID
		if id.IsZero() || seen[id] {
			continue
		}
		if v.rec != nil && v.rec.defs[id] != nil {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	chunks := make([]map[keys.VersionID]*types.Definition, (len(ids)+definitionFetchChunk-1)/definitionFetchChunk)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range chunks {
		i := i
		lo := i * definitionFetchChunk
		hi := min(lo+definitionFetchChunk, len(ids))
		g.Go(func() error {
			defs, err := s.conn.GetDefinitions(gctx, ids[lo:hi])
			if err != nil {
				return err
			}
			chunks[i] = defs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	defs := map[keys.VersionID]*types.Definition{}
	for _, c := range chunks {
		for id, d := range c {
			defs[id] = d
		}
	}
	if v.rec != nil {
		for id, d := range v.rec.defs {
			defs[id] = d
		}
	}

	var out []keys.BlockKey
	for _, k := range candidates {
		var content map[string]any
		if d := defs[v.st.Blocks[k].DefinitionID]; d != nil {
			content = d.Fields
		}
		if matchFields(content, conds) {
			out = append(out, k)
		}
	}
	return out, nil
}

package split

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/inheritance"
	"github.com/yungbote/splitstore/internal/modulestore/xfields"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

// resolverCache builds the parent map of a snapshot the first time a block
// read needs it and shares it across every block of the view.
type resolverCache struct {
	once sync.Once
	st   *types.Structure
	reg  *xfields.Registry
	r    *inheritance.Resolver
}

func newResolverCache(st *types.Structure, reg *xfields.Registry) *resolverCache {
	return &resolverCache{st: st, reg: reg}
}

func (c *resolverCache) get() *inheritance.Resolver {
	c.once.Do(func() { c.r = inheritance.NewResolver(c.st, c.reg) })
	return c.r
}

// DefinitionLoader fetches a block's definition on first content access.
// A failed fetch is retried on the next call.
type DefinitionLoader struct {
	mu    sync.Mutex
	id    keys.VersionID
	fetch func(ctx context.Context, id keys.VersionID) (*types.Definition, error)
	def   *types.Definition
}

func newDefinitionLoader(id keys.VersionID, fetch func(ctx context.Context, id keys.VersionID) (*types.Definition, error)) *DefinitionLoader {
	return &DefinitionLoader{id: id, fetch: fetch}
}

func (l *DefinitionLoader) ID() keys.VersionID { return l.id }

// Loaded reports whether the definition has been fetched.
func (l *DefinitionLoader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.def != nil
}

func (l *DefinitionLoader) Load(ctx context.Context) (*types.Definition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.def != nil {
		return l.def, nil
	}
	if l.id.IsZero() {
		return nil, mserr.NotFoundf("definition (none)")
	}
	d, err := l.fetch(ctx, l.id)
	if err != nil {
		return nil, err
	}
	l.def = d
	return d, nil
}

// Block is a read-side view of one block plus any unsaved edits. Settings
// resolve through inheritance; content fields load the definition lazily.
type Block struct {
	store    *Store
	location keys.UsageKey
	key      keys.BlockKey
	data     *types.BlockData
	bt       *xfields.BlockType
	res      *resolverCache
	def      *DefinitionLoader

	// content holds the edited content fields; nil until a content field is written.
	content map[string]any
}

func (s *Store) newBlock(v *view, k keys.BlockKey) (*Block, error) {
	data, ok := v.st.Blocks[k]
	if !ok {
		return nil, mserr.NotFound(keys.MakeUsageKey(v.course, k))
	}
	rec := v.rec
	conn := s.conn
	fetch := func(ctx context.Context, id keys.VersionID) (*types.Definition, error) {
		if rec != nil {
			if d := rec.defs[id]; d != nil {
				return d, nil
			}
		}
		return conn.GetDefinition(ctx, id)
	}
	return &Block{
		store:    s,
		location: keys.MakeUsageKey(v.course, k),
		key:      k,
		data:     data.Clone(),
		bt:       s.reg.Lookup(data.BlockType),
		res:      v.res,
		def:      newDefinitionLoader(data.DefinitionID, fetch),
	}, nil
}

// Location is the usage key of the block, pinned to the structure it was read from.
func (b *Block) Location() keys.UsageKey { return b.location }

func (b *Block) Category() string { return b.data.BlockType }

func (b *Block) BlockKey() keys.BlockKey { return b.key }

func (b *Block) DefinitionKey() keys.DefinitionKey {
	return keys.DefinitionKey{BlockType: b.data.BlockType, ID: b.data.DefinitionID}
}

func (b *Block) Definition() *DefinitionLoader { return b.def }

func (b *Block) EditInfo() types.BlockEditInfo { return b.data.EditInfo }

func (b *Block) EditedBy() string { return b.data.EditInfo.EditedBy }

func (b *Block) SourceVersion() keys.VersionID { return b.data.EditInfo.SourceVersion }

func (b *Block) PreviousVersion() keys.VersionID { return b.data.EditInfo.PreviousVersion }

func (b *Block) UpdateVersion() keys.VersionID { return b.data.EditInfo.UpdateVersion }

// StructureVersion is the id of the structure the block was read from.
func (b *Block) StructureVersion() keys.VersionID { return b.location.Course.Version }

func (b *Block) HasChildren() bool { return b.bt.HasChildren || len(b.data.Children) > 0 }

func (b *Block) Children() []keys.UsageKey {
	out := make([]keys.UsageKey, 0, len(b.data.Children))
	for _, c := range b.data.Children {
		out = append(out, keys.MakeUsageKey(b.location.Course, c))
	}
	return out
}

func (b *Block) ChildKeys() []keys.BlockKey {
	return append([]keys.BlockKey{}, b.data.Children...)
}

// Explicit returns the settings set directly on this block.
func (b *Block) Explicit() map[string]any {
	out := types.CloneFields(b.data.Fields)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (b *Block) IsExplicit(name string) bool {
	_, ok := b.data.Fields[name]
	return ok
}

func (b *Block) DisplayName() string {
	if v, ok := b.Setting(xfields.DisplayNameField).(string); ok {
		return v
	}
	return ""
}

// Setting resolves a settings-scope field; see Resolution for the lookup order.
func (b *Block) Setting(name string) any {
	return b.Resolve(name).Value
}

func (b *Block) Resolve(name string) inheritance.Resolution {
	r := b.res.get().ResolveData(b.key, b.data, name)
	if r.Source != inheritance.SourceNone {
		r.Value = b.fromStored(b.bt.Field(name).Kind, r.Value)
	}
	return r
}

// Inherited returns the values this block would pick up from its ancestors.
func (b *Block) Inherited() map[string]any {
	return b.res.get().Inherited(b.key)
}

// Get returns the effective value of any field, loading the definition for
// content fields.
func (b *Block) Get(ctx context.Context, name string) (any, error) {
	f := b.bt.Field(name)
	switch f.Scope {
	case xfields.ScopeChildren:
		return b.Children(), nil
	case xfields.ScopeContent:
		content, err := b.contentFields(ctx)
		if err != nil {
			return nil, err
		}
		if v, ok := content[name]; ok {
			return b.fromStored(f.Kind, types.CloneValue(v)), nil
		}
		if f.Default != nil {
			return b.fromStored(f.Kind, types.CloneValue(f.Default)), nil
		}
		return nil, nil
	default:
		return b.Setting(name), nil
	}
}

// Content returns a copy of the block's content fields.
func (b *Block) Content(ctx context.Context) (map[string]any, error) {
	c, err := b.contentFields(ctx)
	if err != nil {
		return nil, err
	}
	out := types.CloneFields(c)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (b *Block) contentFields(ctx context.Context) (map[string]any, error) {
	if b.content != nil {
		return b.content, nil
	}
	if b.data.DefinitionID.IsZero() {
		return map[string]any{}, nil
	}
	d, err := b.def.Load(ctx)
	if err != nil {
		return nil, err
	}
	return d.Fields, nil
}

// Set records an edit; nothing is written until UpdateItem.
func (b *Block) Set(ctx context.Context, name string, value any) error {
	f := b.bt.Field(name)
	if f.Scope == xfields.ScopeChildren {
		return b.setChildrenValue(value)
	}
	stored, err := toStored(f.Kind, value)
	if err != nil {
		return mserr.InvalidValue(b.location, fmt.Sprintf("field %s: %v", name, err))
	}
	if f.Scope == xfields.ScopeContent {
		if err := b.editContent(ctx); err != nil {
			return err
		}
		b.content[name] = stored
		return nil
	}
	if b.data.Fields == nil {
		b.data.Fields = map[string]any{}
	}
	b.data.Fields[name] = stored
	return nil
}

// Unset removes an explicit value so inheritance and defaults apply again.
func (b *Block) Unset(ctx context.Context, name string) error {
	f := b.bt.Field(name)
	switch f.Scope {
	case xfields.ScopeChildren:
		b.data.Children = nil
	case xfields.ScopeContent:
		if err := b.editContent(ctx); err != nil {
			return err
		}
		delete(b.content, name)
	default:
		delete(b.data.Fields, name)
	}
	return nil
}

// SetChildren replaces the ordered children list.
func (b *Block) SetChildren(children []keys.UsageKey) {
	out := make([]keys.BlockKey, 0, len(children))
	for _, c := range children {
		out = append(out, c.BlockKey())
	}
	b.data.Children = out
}

func (b *Block) setChildrenValue(value any) error {
	ks, err := blockKeyList(value)
	if err != nil {
		return mserr.InvalidValue(b.location, "children: "+err.Error())
	}
	b.data.Children = ks
	return nil
}

func (b *Block) editContent(ctx context.Context) error {
	if b.content != nil {
		return nil
	}
	c, err := b.contentFields(ctx)
	if err != nil {
		return err
	}
	b.content = types.CloneFields(c)
	if b.content == nil {
		b.content = map[string]any{}
	}
	return nil
}

// fromStored maps stored block references back into the block's course.
func (b *Block) fromStored(kind xfields.Kind, v any) any {
	course := b.location.Course
	switch kind {
	case xfields.KindReference:
		if k, ok := keys.BlockKeyFromValue(v); ok {
			return keys.MakeUsageKey(course, k)
		}
	case xfields.KindReferenceList:
		if list, ok := v.([]any); ok {
			out := make([]keys.UsageKey, 0, len(list))
			for _, e := range list {
				if k, ok := keys.BlockKeyFromValue(e); ok {
					out = append(out, keys.MakeUsageKey(course, k))
				}
			}
			return out
		}
	case xfields.KindReferenceMap:
		if m, ok := v.(map[string]any); ok {
			out := make(map[string]keys.UsageKey, len(m))
			for name, e := range m {
				if k, ok := keys.BlockKeyFromValue(e); ok {
					out[name] = keys.MakeUsageKey(course, k)
				}
			}
			return out
		}
	}
	return v
}

// toStored normalizes a caller value into the JSON shape it is persisted in.
// References are stored as block keys so they survive a move between branches.
func toStored(kind xfields.Kind, v any) (any, error) {
	switch kind {
	case xfields.KindReference:
		if v == nil {
			return nil, nil
		}
		k, err := blockKeyOf(v)
		if err != nil {
			return nil, err
		}
		return types.NormalizeValue(k)
	case xfields.KindReferenceList:
		ks, err := blockKeyList(v)
		if err != nil {
			return nil, err
		}
		return types.NormalizeValue(ks)
	case xfields.KindReferenceMap:
		out := map[string]keys.BlockKey{}
		switch t := v.(type) {
		case map[string]keys.UsageKey:
			for name, u := range t {
				out[name] = u.BlockKey()
			}
		case map[string]keys.BlockKey:
			for name, k := range t {
				out[name] = k
			}
		case map[string]any:
			for name, e := range t {
				k, err := blockKeyOf(e)
				if err != nil {
					return nil, err
				}
				out[name] = k
			}
		case nil:
		default:
			return nil, fmt.Errorf("want a map of references, got %T", v)
		}
		return types.NormalizeValue(out)
	}
	return types.NormalizeValue(v)
}

func blockKeyOf(v any) (keys.BlockKey, error) {
	switch t := v.(type) {
	case keys.UsageKey:
		return t.BlockKey(), nil
	case *keys.UsageKey:
		return t.BlockKey(), nil
	case string:
		u, err := keys.ParseUsageKey(t)
		if err != nil {
			return keys.BlockKey{}, err
		}
		return u.BlockKey(), nil
	}
	if k, ok := keys.BlockKeyFromValue(v); ok {
		return k, nil
	}
	return keys.BlockKey{}, fmt.Errorf("not a block reference: %T", v)
}

func blockKeyList(v any) ([]keys.BlockKey, error) {
	switch t := v.(type) {
	case nil:
		return []keys.BlockKey{}, nil
	case []keys.BlockKey:
		return append([]keys.BlockKey{}, t...), nil
	case []keys.UsageKey:
		out := make([]keys.BlockKey, 0, len(t))
		for _, u := range t {
			out = append(out, u.BlockKey())
		}
		return out, nil
	case []any:
		out := make([]keys.BlockKey, 0, len(t))
		for _, e := range t {
			k, err := blockKeyOf(e)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
		return out, nil
	}
	return nil, fmt.Errorf("want a list of references, got %T", v)
}

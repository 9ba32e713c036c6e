// Package xfields declares block types and their field schemas: which scope
// each field is stored in, which fields hold references to other blocks, and
// which settings are inherited down the course DAG.
package xfields

import (
	"sort"
	"sync"
)

// Scope says where a field value lives.
type Scope int

const (
	// ScopeSettings values live on the structure's BlockData.Fields.
	ScopeSettings Scope = iota
	// ScopeContent values live on the block's Definition.
	ScopeContent
	// ScopeChildren is the ordered children list.
	ScopeChildren
)

func (s Scope) String() string {
	switch s {
	case ScopeContent:
		return "content"
	case ScopeChildren:
		return "children"
	default:
		return "settings"
	}
}

// Kind distinguishes plain values from references to other blocks.
type Kind int

const (
	KindValue Kind = iota
	KindReference
	KindReferenceList
	// KindReferenceMap is a string-keyed map of references.
	KindReferenceMap
)

func (k Kind) IsReference() bool { return k != KindValue }

type Field struct {
	Name        string
	Scope       Scope
	Kind        Kind
	Default     any
	Inheritable bool
}

const (
	ChildrenField    = "children"
	DisplayNameField = "display_name"
)

// inheritable lists the settings every block inherits from its nearest ancestor.
var inheritable = []Field{
	{Name: "start", Default: "2030-01-01T00:00:00Z"},
	{Name: "due"},
	{Name: "graceperiod"},
	{Name: "visible_to_staff_only", Default: false},
	{Name: "group_access", Default: map[string]any{}},
	{Name: "showanswer", Default: "finished"},
	{Name: "rerandomize", Default: "never"},
	{Name: "max_attempts"},
	{Name: "days_early_for_beta"},
}

var inheritableSet = func() map[string]Field {
	out := make(map[string]Field, len(inheritable))
	for _, f := range inheritable {
		f.Scope = ScopeSettings
		f.Kind = KindValue
		f.Inheritable = true
		out[f.Name] = f
	}
	return out
}()

// IsInheritable reports whether name is one of the inherited settings.
func IsInheritable(name string) bool {
	_, ok := inheritableSet[name]
	return ok
}

// InheritableFields returns the inherited setting names, sorted.
func InheritableFields() []string {
	out := make([]string, 0, len(inheritableSet))
	for name := range inheritableSet {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BlockType is the schema of one block category.
type BlockType struct {
	Name        string
	HasChildren bool
	// Detached blocks live outside the children tree (about pages, tabs).
	Detached bool
	fields   map[string]Field
}

func NewBlockType(name string, hasChildren, detached bool, fields ...Field) *BlockType {
	bt := &BlockType{Name: name, HasChildren: hasChildren, Detached: detached, fields: map[string]Field{}}
	bt.fields[DisplayNameField] = Field{Name: DisplayNameField, Scope: ScopeSettings}
	for name, f := range inheritableSet {
		bt.fields[name] = f
	}
	if hasChildren {
		bt.fields[ChildrenField] = Field{Name: ChildrenField, Scope: ScopeChildren, Kind: KindReferenceList}
	}
	for _, f := range fields {
		bt.fields[f.Name] = f
	}
	return bt
}

// Field returns the declared field. Undeclared names are treated as plain settings.
func (bt *BlockType) Field(name string) Field {
	if f, ok := bt.fields[name]; ok {
		return f
	}
	return Field{Name: name, Scope: ScopeSettings}
}

func (bt *BlockType) Declared(name string) bool {
	_, ok := bt.fields[name]
	return ok
}

// ReferenceFields lists non-children reference fields, sorted by name.
func (bt *BlockType) ReferenceFields() []Field {
	var out []Field
	for _, f := range bt.fields {
		if f.Kind.IsReference() && f.Scope != ScopeChildren {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Split partitions caller-supplied fields by scope. children is nil when the
// input carried no children entry.
func (bt *BlockType) Split(fields map[string]any) (content, settings map[string]any, children any, hasChildren bool) {
	content = map[string]any{}
	settings = map[string]any{}
	for name, v := range fields {
		switch bt.Field(name).Scope {
		case ScopeContent:
			content[name] = v
		case ScopeChildren:
			children, hasChildren = v, true
		default:
			settings[name] = v
		}
	}
	return content, settings, children, hasChildren
}

// Registry maps block type names to schemas. Unknown names resolve to a
// generic leaf type that stores every field as a setting.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*BlockType
}

func NewRegistry(types ...*BlockType) *Registry {
	r := &Registry{types: map[string]*BlockType{}}
	for _, bt := range types {
		r.Register(bt)
	}
	return r
}

func (r *Registry) Register(bt *BlockType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[bt.Name] = bt
}

func (r *Registry) Lookup(name string) *BlockType {
	r.mu.RLock()
	bt, ok := r.types[name]
	r.mu.RUnlock()
	if ok {
		return bt
	}
	return NewBlockType(name, false, false)
}

// DetachedTypes lists the registered detached block types, sorted.
func (r *Registry) DetachedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, bt := range r.types {
		if bt.Detached {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Default returns the course-authoring block set.
func Default() *Registry {
	content := func(name string) Field { return Field{Name: name, Scope: ScopeContent} }
	setting := func(name string, def any) Field { return Field{Name: name, Scope: ScopeSettings, Default: def} }
	return NewRegistry(
		NewBlockType("course", true, false,
			setting("advertised_start", nil),
			setting("wiki_slug", nil),
			setting("tabs", []any{}),
			content("textbooks"),
		),
		NewBlockType("chapter", true, false),
		NewBlockType("sequential", true, false,
			setting("format", nil),
			setting("graded", false),
		),
		NewBlockType("vertical", true, false),
		NewBlockType("problem", false, false,
			content("data"),
			setting("weight", nil),
		),
		NewBlockType("html", false, false,
			content("data"),
		),
		NewBlockType("video", false, false,
			setting("youtube_id_1_0", ""),
			content("transcripts"),
		),
		NewBlockType("about", false, true, content("data")),
		NewBlockType("course_info", false, true, content("data"), content("items")),
		NewBlockType("static_tab", false, true, content("data")),
		NewBlockType("split_test", true, false,
			setting("user_partition_id", -1),
			Field{Name: "group_id_to_child", Scope: ScopeSettings, Kind: KindReferenceMap, Default: map[string]any{}},
		),
		NewBlockType("conditional", true, false,
			Field{Name: "sources_list", Scope: ScopeContent, Kind: KindReferenceList, Default: []any{}},
			setting("conditional_attr", "is_attempted"),
		),
		NewBlockType("library_content", true, false,
			Field{Name: "source_block", Scope: ScopeSettings, Kind: KindReference},
		),
	)
}

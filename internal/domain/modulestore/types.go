package modulestore

import (
	"sort"
	"time"

	"github.com/yungbote/splitstore/internal/domain/keys"
)

// SchemaVersion is stamped on every stored document. Documents carrying any other
// value are rejected on read.
const SchemaVersion = 1

// DefinitionEditInfo records who produced a definition and its lineage.
type DefinitionEditInfo struct {
	EditedBy        string         `json:"edited_by"`
	EditedOn        time.Time      `json:"edited_on"`
	PreviousVersion keys.VersionID `json:"previous_version,omitempty"`
	OriginalVersion keys.VersionID `json:"original_version,omitempty"`
}

// Definition is the immutable content payload of a block.
type Definition struct {
	ID       keys.VersionID
	Type     string
	Fields   map[string]any
	EditInfo DefinitionEditInfo
}

func (d *Definition) Key() keys.DefinitionKey {
	return keys.DefinitionKey{BlockType: d.Type, ID: d.ID}
}

// BlockEditInfo records the structure versions a block was touched in.
type BlockEditInfo struct {
	EditedBy        string         `json:"edited_by"`
	EditedOn        time.Time      `json:"edited_on"`
	PreviousVersion keys.VersionID `json:"previous_version,omitempty"`
	UpdateVersion   keys.VersionID `json:"update_version,omitempty"`
	SourceVersion   keys.VersionID `json:"source_version,omitempty"`
}

// BlockData is one node of a structure. Fields holds settings; children are kept
// apart in order.
type BlockData struct {
	BlockType    string
	DefinitionID keys.VersionID
	Fields       map[string]any
	Children     []keys.BlockKey
	Defaults     map[string]any
	EditInfo     BlockEditInfo
	Asides       []map[string]any
}

func (b *BlockData) HasChild(k keys.BlockKey) bool {
	for _, c := range b.Children {
		if c == k {
			return true
		}
	}
	return false
}

func (b *BlockData) Clone() *BlockData {
	if b == nil {
		return nil
	}
	out := *b
	out.Fields = CloneFields(b.Fields)
	out.Defaults = CloneFields(b.Defaults)
	if b.Children != nil {
		out.Children = append([]keys.BlockKey{}, b.Children...)
	}
	if b.Asides != nil {
		out.Asides = make([]map[string]any, len(b.Asides))
		for i, a := range b.Asides {
			out.Asides[i] = CloneFields(a)
		}
	}
	return &out
}

// Structure is an immutable snapshot of a whole course DAG.
type Structure struct {
	ID              keys.VersionID
	PreviousVersion keys.VersionID
	OriginalVersion keys.VersionID
	EditedBy        string
	EditedOn        time.Time
	Root            keys.BlockKey
	Blocks          map[keys.BlockKey]*BlockData
}

func (s *Structure) Block(k keys.BlockKey) (*BlockData, bool) {
	b, ok := s.Blocks[k]
	return b, ok
}

// SortedKeys lists block keys in (type, id) order; every walk that must be
// deterministic iterates this.
func (s *Structure) SortedKeys() []keys.BlockKey {
	out := make([]keys.BlockKey, 0, len(s.Blocks))
	for k := range s.Blocks {
		out = append(out, k)
	}
	keys.SortBlockKeys(out)
	return out
}

// Clone deep-copies the snapshot; copy-on-write starts here.
func (s *Structure) Clone() *Structure {
	if s == nil {
		return nil
	}
	out := *s
	out.Blocks = make(map[keys.BlockKey]*BlockData, len(s.Blocks))
	for k, b := range s.Blocks {
		out.Blocks[k] = b.Clone()
	}
	return &out
}

// Descendants returns every block reachable from root through children, root included.
func (s *Structure) Descendants(root keys.BlockKey) map[keys.BlockKey]bool {
	seen := map[keys.BlockKey]bool{}
	stack := []keys.BlockKey{root}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[k] {
			continue
		}
		b, ok := s.Blocks[k]
		if !ok {
			continue
		}
		seen[k] = true
		stack = append(stack, b.Children...)
	}
	return seen
}

// CourseIndex is the mutable record of branch heads for one course.
type CourseIndex struct {
	ID            string
	Org           string
	Course        string
	Run           string
	Versions      map[string]keys.VersionID
	SearchTargets map[string]any
	LastUpdate    time.Time
	EditedBy      string
}

func (ci *CourseIndex) CourseKey() keys.CourseKey {
	return keys.CourseKey{Org: ci.Org, Course: ci.Course, Run: ci.Run}
}

// Branches lists the branch names that currently have a head, sorted.
func (ci *CourseIndex) Branches() []string {
	out := make([]string, 0, len(ci.Versions))
	for b := range ci.Versions {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func (ci *CourseIndex) Clone() *CourseIndex {
	if ci == nil {
		return nil
	}
	out := *ci
	out.Versions = make(map[string]keys.VersionID, len(ci.Versions))
	for b, v := range ci.Versions {
		out.Versions[b] = v
	}
	out.SearchTargets = CloneFields(ci.SearchTargets)
	return &out
}

// HistoryInfo is the lineage summary returned for structures and definitions.
type HistoryInfo struct {
	OriginalVersion keys.VersionID
	PreviousVersion keys.VersionID
	EditedBy        string
	EditedOn        time.Time
}

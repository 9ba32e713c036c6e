// Package keys holds the opaque identifiers of the split modulestore: course keys,
// usage keys (course scoped), block keys (structure scoped), definition keys,
// version ids and in-memory local ids.
package keys

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

const (
	DraftBranch     = "draft"
	PublishedBranch = "published"
)

// Branches is the closed set of branch names a course index may carry.
var Branches = []string{DraftBranch, PublishedBranch}

func ValidBranch(b string) bool {
	for _, known := range Branches {
		if b == known {
			return true
		}
	}
	return false
}

const (
	coursePrefix     = "course-v1:"
	usagePrefix      = "block-v1:"
	definitionPrefix = "def-v1:"
)

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9_\-~.]+$`)
	versionPattern = regexp.MustCompile(`^[0-9a-fA-F]{24,64}$`)
)

// ValidID reports whether s may be used as an org, course, run, block type or block id.
func ValidID(s string) bool { return idPattern.MatchString(s) }

// VersionID names a structure or a definition.
type VersionID string

func NewVersionID() VersionID {
	return VersionID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func ParseVersionID(s string) (VersionID, error) {
	s = strings.TrimSpace(s)
	if !versionPattern.MatchString(s) {
		return "", mserr.InvalidKey(s, "version id must be hex")
	}
	return VersionID(strings.ToLower(s)), nil
}

func (v VersionID) String() string { return string(v) }

func (v VersionID) IsZero() bool { return v == "" }

// CourseKey identifies a course and optionally a branch and/or a structure version.
type CourseKey struct {
	Org     string
	Course  string
	Run     string
	Branch  string
	Version VersionID
}

func NewCourseKey(org, course, run, branch string, version VersionID) (CourseKey, error) {
	k := CourseKey{Org: org, Course: course, Run: run, Branch: branch, Version: version}
	if err := k.validate(); err != nil {
		return CourseKey{}, err
	}
	return k, nil
}

// MustCourseKey panics on invalid input; meant for constants and tests.
func MustCourseKey(org, course, run, branch string) CourseKey {
	k, err := NewCourseKey(org, course, run, branch, "")
	if err != nil {
		panic(err)
	}
	return k
}

func (k CourseKey) validate() error {
	hasAny := k.Org != "" || k.Course != "" || k.Run != ""
	if hasAny && !k.HasIndex() {
		return mserr.InvalidKey(k.String(), "org, course and run must be given together")
	}
	if !hasAny && k.Version.IsZero() {
		return mserr.InvalidKey(k.String(), "need org/course/run or a version")
	}
	for _, part := range []string{k.Org, k.Course, k.Run} {
		if hasAny && !ValidID(part) {
			return mserr.InvalidKey(k.String(), fmt.Sprintf("illegal characters in %q", part))
		}
	}
	if k.Branch != "" && !ValidBranch(k.Branch) {
		return mserr.InvalidKey(k.String(), fmt.Sprintf("unknown branch %q", k.Branch))
	}
	if !k.Version.IsZero() && !versionPattern.MatchString(string(k.Version)) {
		return mserr.InvalidKey(k.String(), "version id must be hex")
	}
	return nil
}

// HasIndex reports whether the key names a course index (org, course and run are set).
func (k CourseKey) HasIndex() bool { return k.Org != "" && k.Course != "" && k.Run != "" }

func (k CourseKey) IsZero() bool { return k == CourseKey{} }

// ForBranch moves the key to another branch. A version names a snapshot of one
// branch, so it is dropped.
func (k CourseKey) ForBranch(branch string) CourseKey {
	k.Branch = branch
	k.Version = ""
	return k
}

func (k CourseKey) ForVersion(v VersionID) CourseKey {
	k.Version = v
	return k
}

// VersionAgnostic strips both version and branch.
func (k CourseKey) VersionAgnostic() CourseKey {
	k.Version = ""
	k.Branch = ""
	return k
}

// BranchAgnostic strips only the branch.
func (k CourseKey) BranchAgnostic() CourseKey {
	k.Branch = ""
	return k
}

// Equal compares org/course/run exactly; branch and version only when both sides set them.
func (k CourseKey) Equal(o CourseKey) bool {
	if k.Org != o.Org || k.Course != o.Course || k.Run != o.Run {
		return false
	}
	if k.Branch != "" && o.Branch != "" && k.Branch != o.Branch {
		return false
	}
	if k.Version != "" && o.Version != "" && k.Version != o.Version {
		return false
	}
	return true
}

func (k CourseKey) body() string {
	var parts []string
	if k.Org != "" || k.Course != "" || k.Run != "" {
		parts = append(parts, k.Org, k.Course, k.Run)
	}
	if k.Branch != "" {
		parts = append(parts, "branch@"+k.Branch)
	}
	if k.Version != "" {
		parts = append(parts, "version@"+string(k.Version))
	}
	return strings.Join(parts, "+")
}

func (k CourseKey) String() string { return coursePrefix + k.body() }

func (k CourseKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CourseKey) UnmarshalText(b []byte) error {
	parsed, err := ParseCourseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseCourseKey(s string) (CourseKey, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, coursePrefix) {
		return CourseKey{}, mserr.InvalidKey(s, "missing course-v1: prefix")
	}
	fields, err := parseBody(s, strings.TrimPrefix(raw, coursePrefix), "branch", "version")
	if err != nil {
		return CourseKey{}, err
	}
	return fields.courseKey(s)
}

// BlockKey is a structure-local block reference.
type BlockKey struct {
	Type string
	ID   string
}

func NewBlockKey(blockType, id string) (BlockKey, error) {
	if !ValidID(blockType) || !ValidID(id) {
		return BlockKey{}, mserr.InvalidKey(blockType+"+"+id, "illegal block type or id")
	}
	return BlockKey{Type: blockType, ID: id}, nil
}

func (b BlockKey) String() string { return "type@" + b.Type + "+block@" + b.ID }

func (b BlockKey) IsZero() bool { return b == BlockKey{} }

// Less orders by type, then id.
func (b BlockKey) Less(o BlockKey) bool {
	if b.Type != o.Type {
		return b.Type < o.Type
	}
	return b.ID < o.ID
}

func (b BlockKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{b.Type, b.ID})
}

func (b *BlockKey) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("block key: want [type, id], got %d elements", len(pair))
	}
	b.Type, b.ID = pair[0], pair[1]
	return nil
}

func SortBlockKeys(ks []BlockKey) {
	sort.Slice(ks, func(i, j int) bool { return ks[i].Less(ks[j]) })
}

// BlockKeyFromValue accepts the in-memory and the decoded-JSON forms of a stored reference.
func BlockKeyFromValue(v any) (BlockKey, bool) {
	switch t := v.(type) {
	case BlockKey:
		return t, true
	case *BlockKey:
		if t == nil {
			return BlockKey{}, false
		}
		return *t, true
	case [2]string:
		return BlockKey{Type: t[0], ID: t[1]}, true
	case []string:
		if len(t) == 2 {
			return BlockKey{Type: t[0], ID: t[1]}, true
		}
	case []any:
		if len(t) == 2 {
			bt, ok1 := t[0].(string)
			id, ok2 := t[1].(string)
			if ok1 && ok2 {
				return BlockKey{Type: bt, ID: id}, true
			}
		}
	}
	return BlockKey{}, false
}

// UsageKey is a course-scoped block reference.
type UsageKey struct {
	Course    CourseKey
	BlockType string
	BlockID   string
}

func NewUsageKey(course CourseKey, blockType, blockID string) (UsageKey, error) {
	if _, err := NewBlockKey(blockType, blockID); err != nil {
		return UsageKey{}, err
	}
	return UsageKey{Course: course, BlockType: blockType, BlockID: blockID}, nil
}

// MakeUsageKey maps a structure-local key into a course.
func MakeUsageKey(course CourseKey, b BlockKey) UsageKey {
	return UsageKey{Course: course, BlockType: b.Type, BlockID: b.ID}
}

func (u UsageKey) BlockKey() BlockKey { return BlockKey{Type: u.BlockType, ID: u.BlockID} }

func (u UsageKey) CourseKey() CourseKey { return u.Course }

func (u UsageKey) IsZero() bool { return u == UsageKey{} }

func (u UsageKey) ForBranch(branch string) UsageKey {
	u.Course = u.Course.ForBranch(branch)
	return u
}

func (u UsageKey) ForVersion(v VersionID) UsageKey {
	u.Course = u.Course.ForVersion(v)
	return u
}

func (u UsageKey) VersionAgnostic() UsageKey {
	u.Course = u.Course.VersionAgnostic()
	return u
}

func (u UsageKey) BranchAgnostic() UsageKey {
	u.Course = u.Course.BranchAgnostic()
	return u
}

// MapIntoCourse keeps the block identity and swaps the course.
func (u UsageKey) MapIntoCourse(course CourseKey) UsageKey {
	u.Course = course
	return u
}

func (u UsageKey) Equal(o UsageKey) bool {
	return u.BlockType == o.BlockType && u.BlockID == o.BlockID && u.Course.Equal(o.Course)
}

func (u UsageKey) String() string {
	body := u.Course.body()
	if body != "" {
		body += "+"
	}
	return usagePrefix + body + "type@" + u.BlockType + "+block@" + u.BlockID
}

func (u UsageKey) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *UsageKey) UnmarshalText(b []byte) error {
	parsed, err := ParseUsageKey(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func ParseUsageKey(s string) (UsageKey, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, usagePrefix) {
		return UsageKey{}, mserr.InvalidKey(s, "missing block-v1: prefix")
	}
	fields, err := parseBody(s, strings.TrimPrefix(raw, usagePrefix), "branch", "version", "type", "block")
	if err != nil {
		return UsageKey{}, err
	}
	if fields.tagged["type"] == "" || fields.tagged["block"] == "" {
		return UsageKey{}, mserr.InvalidKey(s, "usage key needs type@ and block@")
	}
	course, err := fields.courseKey(s)
	if err != nil {
		return UsageKey{}, err
	}
	return NewUsageKey(course, fields.tagged["type"], fields.tagged["block"])
}

// DefinitionKey references a definition document.
type DefinitionKey struct {
	BlockType string
	ID        VersionID
}

func (d DefinitionKey) String() string {
	return definitionPrefix + string(d.ID) + "+type@" + d.BlockType
}

func (d DefinitionKey) IsZero() bool { return d.ID.IsZero() }

func ParseDefinitionKey(s string) (DefinitionKey, error) {
	raw := strings.TrimSpace(s)
	if !strings.HasPrefix(raw, definitionPrefix) {
		return DefinitionKey{}, mserr.InvalidKey(s, "missing def-v1: prefix")
	}
	parts := strings.Split(strings.TrimPrefix(raw, definitionPrefix), "+")
	if len(parts) != 2 || !strings.HasPrefix(parts[1], "type@") {
		return DefinitionKey{}, mserr.InvalidKey(s, "want def-v1:<id>+type@<type>")
	}
	id, err := ParseVersionID(parts[0])
	if err != nil {
		return DefinitionKey{}, mserr.InvalidKey(s, "bad definition id")
	}
	bt := strings.TrimPrefix(parts[1], "type@")
	if !ValidID(bt) {
		return DefinitionKey{}, mserr.InvalidKey(s, "bad block type")
	}
	return DefinitionKey{BlockType: bt, ID: id}, nil
}

// LocalID names a block that exists only in memory. It never equals a persisted id:
// its string form contains ':' which ValidID rejects.
type LocalID struct {
	seq uint64
}

var localSeq atomic.Uint64

func NewLocalID() LocalID { return LocalID{seq: localSeq.Add(1)} }

func (l LocalID) IsZero() bool { return l.seq == 0 }

func (l LocalID) String() string { return fmt.Sprintf("local:%d", l.seq) }

type parsedBody struct {
	positional []string
	tagged     map[string]string
}

func parseBody(original, body string, tags ...string) (parsedBody, error) {
	out := parsedBody{tagged: map[string]string{}}
	if body == "" {
		return out, mserr.InvalidKey(original, "empty key")
	}
	allowed := map[string]bool{}
	for _, t := range tags {
		allowed[t] = true
	}
	for _, tok := range strings.Split(body, "+") {
		name, value, tagged := strings.Cut(tok, "@")
		if !tagged {
			if len(out.tagged) > 0 {
				return out, mserr.InvalidKey(original, "positional part after tagged part")
			}
			out.positional = append(out.positional, tok)
			continue
		}
		if !allowed[name] {
			return out, mserr.InvalidKey(original, fmt.Sprintf("unknown tag %q", name))
		}
		if _, dup := out.tagged[name]; dup || value == "" {
			return out, mserr.InvalidKey(original, fmt.Sprintf("bad %s@ part", name))
		}
		out.tagged[name] = value
	}
	if n := len(out.positional); n != 0 && n != 3 {
		return out, mserr.InvalidKey(original, "want org+course+run")
	}
	return out, nil
}

func (p parsedBody) courseKey(original string) (CourseKey, error) {
	var k CourseKey
	if len(p.positional) == 3 {
		k.Org, k.Course, k.Run = p.positional[0], p.positional[1], p.positional[2]
	}
	k.Branch = p.tagged["branch"]
	if v := p.tagged["version"]; v != "" {
		vid, err := ParseVersionID(v)
		if err != nil {
			return CourseKey{}, mserr.InvalidKey(original, "bad version")
		}
		k.Version = vid
	}
	if err := k.validate(); err != nil {
		return CourseKey{}, mserr.InvalidKey(original, err.Error())
	}
	return k, nil
}

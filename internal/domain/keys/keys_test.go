package keys

import (
	"encoding/json"
	"errors"
	"testing"

	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

func TestCourseKeyRoundTrip(t *testing.T) {
	v := NewVersionID()
	cases := []CourseKey{
		{Org: "testx", Course: "GreekHero", Run: "run"},
		{Org: "testx", Course: "GreekHero", Run: "run", Branch: DraftBranch},
		{Org: "testx", Course: "GreekHero", Run: "run", Branch: PublishedBranch, Version: v},
		{Version: v},
	}
	for _, want := range cases {
		got, err := ParseCourseKey(want.String())
		if err != nil {
			t.Fatalf("ParseCourseKey(%q): %v", want.String(), err)
		}
		if got != want {
			t.Fatalf("round trip: want=%+v got=%+v", want, got)
		}
	}
}

func TestParseCourseKeyRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"testx+GreekHero+run",
		"course-v1:",
		"course-v1:testx+GreekHero",
		"course-v1:testx+Greek Hero+run",
		"course-v1:testx+GreekHero+run+branch@nope",
		"course-v1:testx+GreekHero+run+version@xyz",
		"course-v1:testx+GreekHero+run+color@red",
		"course-v1:branch@draft",
	}
	for _, s := range bad {
		if _, err := ParseCourseKey(s); !errors.Is(err, mserr.ErrInvalidKey) {
			t.Fatalf("ParseCourseKey(%q): want ErrInvalidKey got %v", s, err)
		}
	}
}

func TestUsageKeyRoundTripAndConversions(t *testing.T) {
	course := MustCourseKey("testx", "GreekHero", "run", DraftBranch)
	u, err := NewUsageKey(course, "problem", "problem1")
	if err != nil {
		t.Fatalf("NewUsageKey: %v", err)
	}
	parsed, err := ParseUsageKey(u.String())
	if err != nil {
		t.Fatalf("ParseUsageKey(%q): %v", u.String(), err)
	}
	if parsed != u {
		t.Fatalf("round trip: want=%+v got=%+v", u, parsed)
	}
	bk := u.BlockKey()
	if bk != (BlockKey{Type: "problem", ID: "problem1"}) {
		t.Fatalf("BlockKey: got %+v", bk)
	}
	if back := MakeUsageKey(u.CourseKey(), bk); back != u {
		t.Fatalf("MakeUsageKey: want=%+v got=%+v", u, back)
	}
	if got := u.ForBranch(PublishedBranch).Course.Branch; got != PublishedBranch {
		t.Fatalf("ForBranch: got %q", got)
	}
	if got := u.ForVersion(NewVersionID()).ForBranch(PublishedBranch).Course.Version; got != "" {
		t.Fatalf("ForBranch kept version %q", got)
	}
}

func TestAgnosticForms(t *testing.T) {
	v := NewVersionID()
	k := MustCourseKey("o", "c", "r", DraftBranch).ForVersion(v)
	if va := k.VersionAgnostic(); va.Branch != "" || va.Version != "" {
		t.Fatalf("VersionAgnostic kept %+v", va)
	}
	if ba := k.BranchAgnostic(); ba.Branch != "" || ba.Version != v {
		t.Fatalf("BranchAgnostic: got %+v", ba)
	}
}

func TestEqualIgnoresUnspecifiedFields(t *testing.T) {
	v := NewVersionID()
	full := MustCourseKey("o", "c", "r", DraftBranch).ForVersion(v)
	if !full.Equal(full.VersionAgnostic()) {
		t.Fatalf("version agnostic key should equal the full key")
	}
	if full.Equal(full.ForBranch(PublishedBranch)) {
		t.Fatalf("different branches must not be equal")
	}
	if full.Equal(MustCourseKey("o", "c", "other", "")) {
		t.Fatalf("different runs must not be equal")
	}
}

func TestDefinitionKeyRoundTrip(t *testing.T) {
	d := DefinitionKey{BlockType: "problem", ID: NewVersionID()}
	got, err := ParseDefinitionKey(d.String())
	if err != nil {
		t.Fatalf("ParseDefinitionKey: %v", err)
	}
	if got != d {
		t.Fatalf("round trip: want=%+v got=%+v", d, got)
	}
	if _, err := ParseDefinitionKey("def-v1:zz+type@problem"); !errors.Is(err, mserr.ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
}

func TestBlockKeyJSON(t *testing.T) {
	b := BlockKey{Type: "html", ID: "shared"}
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `["html","shared"]` {
		t.Fatalf("Marshal: got %s", raw)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got, ok := BlockKeyFromValue(decoded); !ok || got != b {
		t.Fatalf("BlockKeyFromValue: ok=%v got=%+v", ok, got)
	}
}

func TestLocalIDNeverParsesAsPersisted(t *testing.T) {
	l1, l2 := NewLocalID(), NewLocalID()
	if l1 == l2 {
		t.Fatalf("local ids must be unique")
	}
	if ValidID(l1.String()) {
		t.Fatalf("local id %q must not be a valid persisted id", l1.String())
	}
	if _, err := NewBlockKey("html", l1.String()); err == nil {
		t.Fatalf("NewBlockKey accepted a local id")
	}
}

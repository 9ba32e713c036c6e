package split

import (
	"context"
	"testing"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

func bk(id string) keys.BlockKey { return keys.BlockKey{Type: "html", ID: id} }

func idsOf(ks []keys.BlockKey) []string {
	out := make([]string, 0, len(ks))
	for _, k := range ks {
		out = append(out, k.ID)
	}
	return out
}

func equalIDs(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tree builds a structure from parent -> children id lists; "root" is the root.
func tree(edges map[string][]string) *types.Structure {
	st := &types.Structure{ID: keys.NewVersionID(), Root: bk("root"), Blocks: map[keys.BlockKey]*types.BlockData{}}
	add := func(id string) {
		if _, ok := st.Blocks[bk(id)]; !ok {
			st.Blocks[bk(id)] = &types.BlockData{BlockType: "html"}
		}
	}
	for p, cs := range edges {
		add(p)
		for _, c := range cs {
			add(c)
			st.Blocks[bk(p)].Children = append(st.Blocks[bk(p)].Children, bk(c))
		}
	}
	return st
}

func TestInsertAt(t *testing.T) {
	base := []keys.BlockKey{bk("a"), bk("b"), bk("c")}
	cases := []struct {
		pos  int
		want []string
	}{
		{0, []string{"a", "b", "c", "x"}},
		{1, []string{"x", "a", "b", "c"}},
		{3, []string{"a", "b", "x", "c"}},
		{4, []string{"a", "b", "c", "x"}},
	}
	for _, tc := range cases {
		got := idsOf(insertAt(append([]keys.BlockKey{}, base...), bk("x"), tc.pos))
		if !equalIDs(got, tc.want...) {
			t.Fatalf("insertAt(%d): want=%v got=%v", tc.pos, tc.want, got)
		}
	}
}

func TestInsertInSourceOrder(t *testing.T) {
	source := []keys.BlockKey{bk("a"), bk("b"), bk("c"), bk("d")}

	got := idsOf(insertInSourceOrder([]keys.BlockKey{bk("a"), bk("d")}, source, bk("c")))
	if !equalIDs(got, "a", "c", "d") {
		t.Fatalf("after nearest sibling: got=%v", got)
	}
	got = idsOf(insertInSourceOrder([]keys.BlockKey{bk("c"), bk("d")}, source, bk("a")))
	if !equalIDs(got, "a", "c", "d") {
		t.Fatalf("no preceding sibling: got=%v", got)
	}
	got = idsOf(insertInSourceOrder([]keys.BlockKey{bk("z"), bk("a")}, source, bk("b")))
	if !equalIDs(got, "z", "a", "b") {
		t.Fatalf("destination-only siblings: got=%v", got)
	}
}

func TestPublishClosure(t *testing.T) {
	st := tree(map[string][]string{
		"root": {"a", "b"},
		"a":    {"a1", "shared"},
		"b":    {"shared", "b1"},
		"b1":   {"b11"},
	})

	got := publishClosure(st, []keys.BlockKey{bk("root")}, []keys.BlockKey{bk("b")}, false)
	for _, id := range []string{"root", "a", "a1", "shared"} {
		if !got[bk(id)] {
			t.Fatalf("closure missing %s: %v", id, got)
		}
	}
	for _, id := range []string{"b", "b1", "b11"} {
		if got[bk(id)] {
			t.Fatalf("closure entered excluded %s", id)
		}
	}

	got = publishClosure(st, []keys.BlockKey{bk("a"), bk("b1")}, nil, true)
	if len(got) != 2 || !got[bk("a")] || !got[bk("b1")] {
		t.Fatalf("excludeAll: want roots only got=%v", got)
	}
}

func TestDeleteSubtreeKeepsSharedDescendants(t *testing.T) {
	st := tree(map[string][]string{
		"root": {"a", "b"},
		"a":    {"a1", "shared"},
		"a1":   {"a11"},
		"b":    {"shared"},
	})
	rec := &bulkRecord{user: "tester"}

	removed := deleteSubtree(rec, st, bk("a"))
	if removed != 3 {
		t.Fatalf("removed: want=3 got=%d", removed)
	}
	for _, id := range []string{"a", "a1", "a11"} {
		if _, ok := st.Blocks[bk(id)]; ok {
			t.Fatalf("%s survived", id)
		}
	}
	if _, ok := st.Blocks[bk("shared")]; !ok {
		t.Fatalf("shared was still referenced by b")
	}
	root := st.Blocks[bk("root")]
	if !equalIDs(idsOf(root.Children), "b") {
		t.Fatalf("root children: got=%v", idsOf(root.Children))
	}
	if root.EditInfo.EditedBy != "tester" || root.EditInfo.UpdateVersion != st.ID {
		t.Fatalf("unlinked parent not stamped: %+v", root.EditInfo)
	}
}

func TestHasCycle(t *testing.T) {
	st := tree(map[string][]string{"root": {"a"}, "a": {"b"}, "b": {"c"}})
	if hasCycle(st, st.Root) {
		t.Fatalf("acyclic tree reported a cycle")
	}
	st.Blocks[bk("c")].Children = []keys.BlockKey{bk("a")}
	if !hasCycle(st, st.Root) {
		t.Fatalf("a -> b -> c -> a not detected")
	}
}

func TestIsAutoPublished(t *testing.T) {
	s := New(nil, nil, logger.Nop(), Config{AutoPublishCategories: []string{"chapter", "about"}})
	for typ, want := range map[string]bool{"chapter": true, "about": true, "problem": false} {
		if got := s.IsAutoPublished(typ); got != want {
			t.Fatalf("IsAutoPublished(%s): want=%v got=%v", typ, want, got)
		}
	}
}

func TestReadableCopiesOncePerGeneration(t *testing.T) {
	ctx := context.Background()
	staged := tree(map[string][]string{"root": {"a"}})
	rec := &bulkRecord{
		staged: map[string]*types.Structure{keys.DraftBranch: staged},
		snaps:  map[string]snapshot{},
	}

	first, err := rec.readable(ctx, keys.DraftBranch)
	if err != nil {
		t.Fatalf("readable: %v", err)
	}
	if first == staged {
		t.Fatalf("readable must not hand out the staged structure")
	}
	again, _ := rec.readable(ctx, keys.DraftBranch)
	if again != first {
		t.Fatalf("same generation: want the cached copy")
	}

	st, err := rec.writable(ctx, keys.DraftBranch)
	if err != nil || st != staged {
		t.Fatalf("writable: want the staged structure, err=%v", err)
	}
	st.Blocks[bk("root")].Children = append(st.Blocks[bk("root")].Children, bk("b"))
	st.Blocks[bk("b")] = &types.BlockData{BlockType: "html"}

	if got := idsOf(first.Blocks[bk("root")].Children); !equalIDs(got, "a") {
		t.Fatalf("earlier copy changed: got=%v", got)
	}
	after, _ := rec.readable(ctx, keys.DraftBranch)
	if after == first {
		t.Fatalf("new generation: want a fresh copy")
	}
	if got := idsOf(after.Blocks[bk("root")].Children); !equalIDs(got, "a", "b") {
		t.Fatalf("fresh copy: want=[a b] got=%v", got)
	}
}

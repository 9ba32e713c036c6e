package split_test

import (
	"errors"
	"regexp"
	"testing"

	"github.com/yungbote/splitstore/internal/data/cache"
	"github.com/yungbote/splitstore/internal/domain/keys"
	"github.com/yungbote/splitstore/internal/modulestore/split"
	"github.com/yungbote/splitstore/internal/modulestore/splittest"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

func TestCopyErrors(t *testing.T) {
	ctx, store, f := greekHero(t)

	_, err := store.GetCourse(ctx, f.Course.ForBranch(keys.PublishedBranch))
	if !errors.Is(err, mserr.ErrItemNotFound) {
		t.Fatalf("unpublished branch: want ErrItemNotFound got=%v", err)
	}
	err = store.Copy(ctx, user, split.CopyRequest{
		Source:       f.Course,
		Dest:         keys.MustCourseKey("testx", "Nowhere", "run", keys.PublishedBranch),
		SubtreeRoots: []keys.UsageKey{f.Block(t, "course")},
	})
	if !errors.Is(err, mserr.ErrItemNotFound) {
		t.Fatalf("missing destination index: want ErrItemNotFound got=%v", err)
	}
	err = store.Copy(ctx, user, split.CopyRequest{
		Source:       f.Course,
		Dest:         f.Course.ForBranch(keys.PublishedBranch),
		SubtreeRoots: []keys.UsageKey{f.Block(t, "chapter1")},
	})
	if !errors.Is(err, mserr.ErrInvalidValue) {
		t.Fatalf("first publish without root: want ErrInvalidValue got=%v", err)
	}
	err = store.Copy(ctx, user, split.CopyRequest{
		Source:       f.Course,
		Dest:         f.Course.ForBranch(keys.PublishedBranch),
		SubtreeRoots: []keys.UsageKey{keys.MakeUsageKey(f.Course, keys.BlockKey{Type: "chapter", ID: "missing"})},
	})
	if !errors.Is(err, mserr.ErrItemNotFound) {
		t.Fatalf("missing subtree root: want ErrItemNotFound got=%v", err)
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	ctx, store, f := greekHero(t)
	published := f.Course.ForBranch(keys.PublishedBranch)

	if err := store.Publish(ctx, user, f.Course); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	first, err := store.GetCourse(ctx, published)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if err := store.Publish(ctx, user, f.Course); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	second, err := store.GetCourse(ctx, published)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	if first.StructureVersion() != second.StructureVersion() {
		t.Fatalf("publish of an unchanged draft: want=%s got=%s", first.StructureVersion(), second.StructureVersion())
	}

	// A published branch starts its own lineage.
	info, err := store.GetCourseHistoryInfo(ctx, published)
	if err != nil {
		t.Fatalf("GetCourseHistoryInfo: %v", err)
	}
	if info.OriginalVersion != second.StructureVersion() || !info.PreviousVersion.IsZero() {
		t.Fatalf("published lineage: got=%+v", info)
	}
	for _, id := range []string{"chapter1", "problem3_2", "html_intro", "chapter3"} {
		if ok, err := store.HasItem(ctx, f.Block(t, id).ForBranch(keys.PublishedBranch)); err != nil || !ok {
			t.Fatalf("%s published: ok=%v err=%v", id, ok, err)
		}
	}
	if ok, _ := store.HasItem(ctx, f.Block(t, "overview").ForBranch(keys.PublishedBranch)); ok {
		t.Fatalf("detached block outside the root closure was published")
	}
}

func TestCopyWithExclusions(t *testing.T) {
	ctx, store, f := greekHero(t)
	published := f.Course.ForBranch(keys.PublishedBranch)

	err := store.Copy(ctx, user, split.CopyRequest{
		Source:       f.Course,
		Dest:         published,
		SubtreeRoots: []keys.UsageKey{f.Block(t, "course")},
		Exclude:      []keys.UsageKey{f.Block(t, "chapter2")},
	})
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	root, err := store.GetCourse(ctx, published)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	kids := root.ChildKeys()
	if len(kids) != 2 || kids[0].ID != "chapter1" || kids[1].ID != "chapter3" {
		t.Fatalf("published root children: got=%v", kids)
	}
	for _, id := range []string{"chapter2", "chapter2_vert1", "html_intro"} {
		if ok, _ := store.HasItem(ctx, f.Block(t, id).ForBranch(keys.PublishedBranch)); ok {
			t.Fatalf("%s was excluded but published", id)
		}
	}

	// Publishing chapter2 later slots it back between its source siblings.
	err = store.Copy(ctx, user, split.CopyRequest{
		Source:       f.Course,
		Dest:         published,
		SubtreeRoots: []keys.UsageKey{f.Block(t, "chapter2")},
	})
	if err != nil {
		t.Fatalf("Copy chapter2: %v", err)
	}
	root, err = store.GetCourse(ctx, published)
	if err != nil {
		t.Fatalf("GetCourse: %v", err)
	}
	kids = root.ChildKeys()
	if len(kids) != 3 || kids[1].ID != "chapter2" {
		t.Fatalf("source order: got=%v", kids)
	}
	if ok, _ := store.HasItem(ctx, f.Block(t, "html_intro").ForBranch(keys.PublishedBranch)); !ok {
		t.Fatalf("html_intro missing after publishing its chapter")
	}
}

func TestAutoPublishAfterPublish(t *testing.T) {
	ctx, store, f := greekHero(t)
	if err := store.Publish(ctx, user, f.Course); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ch, err := store.GetItem(ctx, f.Block(t, "chapter1"))
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if err := ch.Set(ctx, "display_name", "Heracles"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.UpdateItem(ctx, user, ch, split.UpdateOptions{}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	pub, err := store.GetItem(ctx, f.Block(t, "chapter1").ForBranch(keys.PublishedBranch))
	if err != nil {
		t.Fatalf("published chapter1: %v", err)
	}
	if pub.DisplayName() != "Heracles" {
		t.Fatalf("auto-published rename: got=%q", pub.DisplayName())
	}
	if kids := pub.ChildKeys(); len(kids) != 1 || kids[0].ID != "chapter1_seq1" {
		t.Fatalf("auto-publish kept children: got=%v", kids)
	}

	seq := f.Block(t, "chapter1_seq1")
	p, err := store.CreateChild(ctx, user, seq, "problem", split.CreateOptions{BlockID: "draft_only"})
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if ok, _ := store.HasItem(ctx, p.Location().ForBranch(keys.PublishedBranch)); ok {
		t.Fatalf("problems are not auto-published")
	}
	changed, err := store.HasChanges(ctx, seq)
	if err != nil || !changed {
		t.Fatalf("HasChanges sequential: want true got=%v err=%v", changed, err)
	}
	changed, err = store.HasChanges(ctx, f.Block(t, "chapter2"))
	if err != nil || changed {
		t.Fatalf("HasChanges chapter2: want false got=%v err=%v", changed, err)
	}

	if err := store.DeleteItem(ctx, user, f.Block(t, "chapter3"), split.DeleteOptions{}); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if ok, _ := store.HasItem(ctx, f.Block(t, "chapter3").ForBranch(keys.PublishedBranch)); ok {
		t.Fatalf("deleted chapter still published")
	}

	if err := store.Publish(ctx, user, f.Course); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	changed, err = store.HasChanges(ctx, f.Block(t, "course"))
	if err != nil || changed {
		t.Fatalf("HasChanges after publish: want false got=%v err=%v", changed, err)
	}
}

func TestRevertToPublished(t *testing.T) {
	ctx, store, f := greekHero(t)
	u := f.Block(t, "problem1")

	if changed, err := store.HasChanges(ctx, u); err != nil || !changed {
		t.Fatalf("HasChanges before any publish: want true got=%v err=%v", changed, err)
	}
	if err := store.Publish(ctx, user, f.Course); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	p, err := store.GetItem(ctx, u)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if err := p.Set(ctx, "display_name", "Scratch"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := p.Set(ctx, "data", "<problem>scratch</problem>"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := store.UpdateItem(ctx, user, p, split.UpdateOptions{}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	if changed, err := store.HasChanges(ctx, u); err != nil || !changed {
		t.Fatalf("HasChanges after edit: want true got=%v err=%v", changed, err)
	}

	if err := store.RevertToPublished(ctx, user, u); err != nil {
		t.Fatalf("RevertToPublished: %v", err)
	}
	p, err = store.GetItem(ctx, u)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if p.DisplayName() != "Problem 1" {
		t.Fatalf("display_name after revert: got=%q", p.DisplayName())
	}
	if v, _ := p.Get(ctx, "data"); v != "<problem><p>Which labor came first?</p></problem>" {
		t.Fatalf("data after revert: got=%v", v)
	}
	if changed, err := store.HasChanges(ctx, u); err != nil || changed {
		t.Fatalf("HasChanges after revert: want false got=%v err=%v", changed, err)
	}

	fresh, err := store.CreateChild(ctx, user, f.Block(t, "chapter1_seq1"), "problem", split.CreateOptions{})
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	err = store.RevertToPublished(ctx, user, fresh.Location())
	if !errors.Is(err, mserr.ErrItemNotFound) {
		t.Fatalf("revert of a never-published block: want ErrItemNotFound got=%v", err)
	}
}

func TestGetItems(t *testing.T) {
	ctx, store, f := greekHero(t)

	cases := []struct {
		name string
		q    split.ItemQuery
		want []string
	}{
		{"category", split.ItemQuery{Qualifiers: map[string]any{"category": "problem"}}, []string{"problem1", "problem3_2"}},
		{"name regexp", split.ItemQuery{Qualifiers: map[string]any{"name": regexp.MustCompile(`^chapter\d$`)}}, []string{"chapter1", "chapter2", "chapter3"}},
		{"category list", split.ItemQuery{Qualifiers: map[string]any{"category": []string{"about", "static_tab"}}}, []string{"overview", "syllabus"}},
		{"setting exists", split.ItemQuery{Settings: map[string]split.Condition{"graceperiod": split.Exists(true)}}, []string{"chapter1", "problem1"}},
		{"setting equals", split.ItemQuery{Settings: map[string]split.Condition{"format": split.Eq("Homework")}}, []string{"chapter1_seq1"}},
		{"setting in", split.ItemQuery{
			Qualifiers: map[string]any{"category": "chapter"},
			Settings:   map[string]split.Condition{"display_name": split.In("Hercules", "Hercules gets a break")},
		}, []string{"chapter1", "chapter3"}},
		{"setting not in", split.ItemQuery{
			Qualifiers: map[string]any{"category": "chapter"},
			Settings:   map[string]split.Condition{"visible_to_staff_only": split.NotIn(true)},
		}, []string{"chapter1", "chapter2"}},
		{"content regexp", split.ItemQuery{Content: map[string]split.Condition{"data": split.Eq(regexp.MustCompile("hydra"))}}, []string{"problem3_2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks, err := store.GetItems(ctx, f.Course, tc.q)
			if err != nil {
				t.Fatalf("GetItems: %v", err)
			}
			got := make([]string, 0, len(blocks))
			for _, b := range blocks {
				got = append(got, b.BlockKey().ID)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("want=%v got=%v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("want=%v got=%v", tc.want, got)
				}
			}
		})
	}

	if _, err := store.GetItems(ctx, f.Course, split.ItemQuery{Qualifiers: map[string]any{"color": "red"}}); err == nil {
		t.Fatalf("unknown qualifier: want error")
	}
}

func TestCachedStoreKeepsSnapshotsImmutable(t *testing.T) {
	mc, err := cache.NewMemoryCache(10_000)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	t.Cleanup(mc.Close)
	store := splittest.NewStoreWithCache(t, mc)
	ctx := t.Context()
	f := splittest.GreekHero(t, ctx, store)

	p, err := store.GetItem(ctx, f.Block(t, "problem1"))
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	pinned := p.Location()
	if err := p.Set(ctx, "display_name", "Unsaved"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	again, err := store.GetItem(ctx, pinned)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if again.DisplayName() != "Problem 1" {
		t.Fatalf("unsaved edit leaked into the snapshot: %q", again.DisplayName())
	}
	if _, err := store.UpdateItem(ctx, user, p, split.UpdateOptions{}); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	old, err := store.GetItem(ctx, pinned)
	if err != nil {
		t.Fatalf("GetItem pinned: %v", err)
	}
	if old.DisplayName() != "Problem 1" {
		t.Fatalf("pinned version changed: %q", old.DisplayName())
	}
	head, err := store.GetItem(ctx, f.Block(t, "problem1"))
	if err != nil {
		t.Fatalf("GetItem head: %v", err)
	}
	if head.DisplayName() != "Unsaved" {
		t.Fatalf("head: got=%q", head.DisplayName())
	}
}

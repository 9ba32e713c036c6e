package testutil

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
)

// SeedStructure stores a one-block structure rooted at a course block and returns it.
func SeedStructure(tb testing.TB, ctx context.Context, tx *gorm.DB, editedBy string) *types.Structure {
	tb.Helper()
	id := keys.NewVersionID()
	root := keys.BlockKey{Type: "course", ID: "course"}
	s := &types.Structure{
		ID:              id,
		OriginalVersion: id,
		EditedBy:        editedBy,
		EditedOn:        time.Now().UTC().Truncate(time.Microsecond),
		Root:            root,
		Blocks: map[keys.BlockKey]*types.BlockData{
			root: {
				BlockType:    "course",
				DefinitionID: keys.NewVersionID(),
				Fields:       map[string]any{"display_name": "Seeded"},
				EditInfo: types.BlockEditInfo{
					EditedBy:      editedBy,
					EditedOn:      time.Now().UTC().Truncate(time.Microsecond),
					UpdateVersion: id,
				},
			},
		},
	}
	doc, err := types.EncodeStructure(s)
	if err != nil {
		tb.Fatalf("encode structure: %v", err)
	}
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed structure: %v", err)
	}
	return s
}

// SeedCourseIndex stores an index whose draft branch points at head.
func SeedCourseIndex(tb testing.TB, ctx context.Context, tx *gorm.DB, org, course, run string, head keys.VersionID) *types.CourseIndex {
	tb.Helper()
	ci := &types.CourseIndex{
		ID:            keys.NewVersionID().String(),
		Org:           org,
		Course:        course,
		Run:           run,
		Versions:      map[string]keys.VersionID{keys.DraftBranch: head},
		SearchTargets: map[string]any{"wiki_slug": org + "." + course + "." + run},
		LastUpdate:    time.Now().UTC().Truncate(time.Microsecond),
		EditedBy:      "seed",
	}
	doc, err := types.EncodeCourseIndex(ci)
	if err != nil {
		tb.Fatalf("encode course index: %v", err)
	}
	if err := tx.WithContext(ctx).Create(doc).Error; err != nil {
		tb.Fatalf("seed course index: %v", err)
	}
	return ci
}

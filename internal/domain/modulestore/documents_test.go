package modulestore

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/splitstore/internal/domain/keys"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

func sampleStructure() *Structure {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := keys.NewVersionID()
	root := keys.BlockKey{Type: "course", ID: "course"}
	chapter := keys.BlockKey{Type: "chapter", ID: "chapter1"}
	return &Structure{
		ID:              id,
		OriginalVersion: id,
		EditedBy:        "1",
		EditedOn:        now,
		Root:            root,
		Blocks: map[keys.BlockKey]*BlockData{
			root: {
				BlockType:    "course",
				DefinitionID: keys.NewVersionID(),
				Fields:       map[string]any{"display_name": "Greek Hero"},
				Children:     []keys.BlockKey{chapter},
				EditInfo:     BlockEditInfo{EditedBy: "1", EditedOn: now, UpdateVersion: id},
			},
			chapter: {
				BlockType:    "chapter",
				DefinitionID: keys.NewVersionID(),
				Fields:       map[string]any{"graceperiod": "2 hours"},
				Defaults:     map[string]any{"display_name": "Chapter"},
				EditInfo:     BlockEditInfo{EditedBy: "1", EditedOn: now, UpdateVersion: id},
			},
		},
	}
}

func TestStructureRoundTrip(t *testing.T) {
	s := sampleStructure()
	raw, err := MarshalStructure(s)
	if err != nil {
		t.Fatalf("MarshalStructure: %v", err)
	}
	got, err := UnmarshalStructure(raw)
	if err != nil {
		t.Fatalf("UnmarshalStructure: %v", err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownSchemaVersion(t *testing.T) {
	doc, err := EncodeStructure(sampleStructure())
	if err != nil {
		t.Fatalf("EncodeStructure: %v", err)
	}
	doc.SchemaVersion = SchemaVersion + 1
	if _, err := DecodeStructure(doc); !errors.Is(err, mserr.ErrSchemaMismatch) {
		t.Fatalf("DecodeStructure: want ErrSchemaMismatch got %v", err)
	}

	def := &DefinitionDoc{ID: "x", BlockType: "problem"}
	if _, err := DecodeDefinition(def); !errors.Is(err, mserr.ErrSchemaMismatch) {
		t.Fatalf("DecodeDefinition with missing schema_version: want ErrSchemaMismatch got %v", err)
	}
	idx := &CourseIndexDoc{ID: "x", SchemaVersion: 7}
	if _, err := DecodeCourseIndex(idx); !errors.Is(err, mserr.ErrSchemaMismatch) {
		t.Fatalf("DecodeCourseIndex: want ErrSchemaMismatch got %v", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := sampleStructure()
	c := s.Clone()
	c.Blocks[s.Root].Fields["display_name"] = "changed"
	c.Blocks[s.Root].Children = append(c.Blocks[s.Root].Children, keys.BlockKey{Type: "html", ID: "x"})
	if s.Blocks[s.Root].Fields["display_name"] != "Greek Hero" {
		t.Fatalf("clone shares field maps")
	}
	if len(s.Blocks[s.Root].Children) != 1 {
		t.Fatalf("clone shares children")
	}
}

func TestNormalizeFieldsMatchesStorageShape(t *testing.T) {
	in := map[string]any{"max_attempts": 3, "ref": keys.BlockKey{Type: "html", ID: "h"}}
	got, err := NormalizeFields(in)
	if err != nil {
		t.Fatalf("NormalizeFields: %v", err)
	}
	if got["max_attempts"] != float64(3) {
		t.Fatalf("max_attempts: got %#v", got["max_attempts"])
	}
	if bk, ok := keys.BlockKeyFromValue(got["ref"]); !ok || bk.ID != "h" {
		t.Fatalf("ref: got %#v", got["ref"])
	}
	if !JSONEqual(in, got) {
		t.Fatalf("JSONEqual should treat normalized values as equal")
	}
}

func TestDescendantsToleratesSharedChildren(t *testing.T) {
	s := sampleStructure()
	shared := keys.BlockKey{Type: "html", ID: "shared"}
	ch2 := keys.BlockKey{Type: "chapter", ID: "chapter2"}
	s.Blocks[shared] = &BlockData{BlockType: "html"}
	s.Blocks[ch2] = &BlockData{BlockType: "chapter", Children: []keys.BlockKey{shared}}
	s.Blocks[keys.BlockKey{Type: "chapter", ID: "chapter1"}].Children = []keys.BlockKey{shared}
	s.Blocks[s.Root].Children = append(s.Blocks[s.Root].Children, ch2)
	got := s.Descendants(s.Root)
	if len(got) != 4 || !got[shared] {
		t.Fatalf("Descendants: got %v", got)
	}
}

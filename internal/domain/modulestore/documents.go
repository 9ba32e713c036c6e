package modulestore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/splitstore/internal/domain/keys"
	mserr "github.com/yungbote/splitstore/internal/pkg/errors"
)

const childrenField = "children"

// CourseIndexDoc is the stored shape of a course index.
type CourseIndexDoc struct {
	ID            string         `gorm:"column:id;primaryKey" json:"_id"`
	Org           string         `gorm:"column:org;not null;uniqueIndex:idx_course_index_org_course_run" json:"org"`
	Course        string         `gorm:"column:course;not null;uniqueIndex:idx_course_index_org_course_run" json:"course"`
	Run           string         `gorm:"column:run;not null;uniqueIndex:idx_course_index_org_course_run" json:"run"`
	Versions      datatypes.JSON `gorm:"column:versions" json:"versions"`
	SearchTargets datatypes.JSON `gorm:"column:search_targets" json:"search_targets"`
	LastUpdate    time.Time      `gorm:"column:last_update;not null;index" json:"last_update"`
	EditedBy      string         `gorm:"column:edited_by" json:"edited_by"`
	SchemaVersion int            `gorm:"column:schema_version;not null" json:"schema_version"`
}

func (CourseIndexDoc) TableName() string { return "course_index" }

// StructureDoc is the stored shape of a structure.
type StructureDoc struct {
	ID              string         `gorm:"column:id;primaryKey" json:"_id"`
	Root            datatypes.JSON `gorm:"column:root;not null" json:"root"`
	PreviousVersion string         `gorm:"column:previous_version;index" json:"previous_version"`
	OriginalVersion string         `gorm:"column:original_version;index" json:"original_version"`
	EditedBy        string         `gorm:"column:edited_by" json:"edited_by"`
	EditedOn        time.Time      `gorm:"column:edited_on" json:"edited_on"`
	Blocks          datatypes.JSON `gorm:"column:blocks;not null" json:"blocks"`
	SchemaVersion   int            `gorm:"column:schema_version;not null" json:"schema_version"`
}

func (StructureDoc) TableName() string { return "structures" }

// DefinitionDoc is the stored shape of a definition.
type DefinitionDoc struct {
	ID            string         `gorm:"column:id;primaryKey" json:"_id"`
	BlockType     string         `gorm:"column:block_type;not null;index" json:"block_type"`
	Fields        datatypes.JSON `gorm:"column:fields" json:"fields"`
	EditInfo      datatypes.JSON `gorm:"column:edit_info" json:"edit_info"`
	SchemaVersion int            `gorm:"column:schema_version;not null" json:"schema_version"`
}

func (DefinitionDoc) TableName() string { return "definitions" }

type blockWire struct {
	BlockID    string           `json:"block_id"`
	BlockType  string           `json:"block_type"`
	Definition keys.VersionID   `json:"definition"`
	Fields     map[string]any   `json:"fields"`
	Defaults   map[string]any   `json:"defaults,omitempty"`
	EditInfo   BlockEditInfo    `json:"edit_info"`
	Asides     []map[string]any `json:"asides,omitempty"`
}

func EncodeStructure(s *Structure) (*StructureDoc, error) {
	root, err := json.Marshal(s.Root)
	if err != nil {
		return nil, fmt.Errorf("encode structure %s root: %w", s.ID, err)
	}
	wires := make([]blockWire, 0, len(s.Blocks))
	for _, k := range s.SortedKeys() {
		b := s.Blocks[k]
		fields := CloneFields(b.Fields)
		if fields == nil {
			fields = map[string]any{}
		}
		if len(b.Children) > 0 {
			fields[childrenField] = b.Children
		}
		wires = append(wires, blockWire{
			BlockID:    k.ID,
			BlockType:  k.Type,
			Definition: b.DefinitionID,
			Fields:     fields,
			Defaults:   b.Defaults,
			EditInfo:   b.EditInfo,
			Asides:     b.Asides,
		})
	}
	blocks, err := json.Marshal(wires)
	if err != nil {
		return nil, fmt.Errorf("encode structure %s blocks: %w", s.ID, err)
	}
	return &StructureDoc{
		ID:              string(s.ID),
		Root:            datatypes.JSON(root),
		PreviousVersion: string(s.PreviousVersion),
		OriginalVersion: string(s.OriginalVersion),
		EditedBy:        s.EditedBy,
		EditedOn:        s.EditedOn.UTC(),
		Blocks:          datatypes.JSON(blocks),
		SchemaVersion:   SchemaVersion,
	}, nil
}

func DecodeStructure(doc *StructureDoc) (*Structure, error) {
	if doc.SchemaVersion != SchemaVersion {
		return nil, &mserr.SchemaMismatchError{Collection: "structures", ID: doc.ID, Found: doc.SchemaVersion, Want: SchemaVersion}
	}
	var root keys.BlockKey
	if err := json.Unmarshal(doc.Root, &root); err != nil {
		return nil, fmt.Errorf("decode structure %s root: %w", doc.ID, err)
	}
	var wires []blockWire
	if err := json.Unmarshal(doc.Blocks, &wires); err != nil {
		return nil, fmt.Errorf("decode structure %s blocks: %w", doc.ID, err)
	}
	s := &Structure{
		ID:              keys.VersionID(doc.ID),
		PreviousVersion: keys.VersionID(doc.PreviousVersion),
		OriginalVersion: keys.VersionID(doc.OriginalVersion),
		EditedBy:        doc.EditedBy,
		EditedOn:        doc.EditedOn.UTC(),
		Root:            root,
		Blocks:          make(map[keys.BlockKey]*BlockData, len(wires)),
	}
	for _, w := range wires {
		fields := w.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		var children []keys.BlockKey
		if raw, ok := fields[childrenField]; ok {
			list, _ := raw.([]any)
			for _, c := range list {
				ck, ok := keys.BlockKeyFromValue(c)
				if !ok {
					return nil, fmt.Errorf("decode structure %s: bad child %v of %s", doc.ID, c, w.BlockID)
				}
				children = append(children, ck)
			}
			delete(fields, childrenField)
		}
		s.Blocks[keys.BlockKey{Type: w.BlockType, ID: w.BlockID}] = &BlockData{
			BlockType:    w.BlockType,
			DefinitionID: w.Definition,
			Fields:       fields,
			Children:     children,
			Defaults:     w.Defaults,
			EditInfo:     w.EditInfo,
			Asides:       w.Asides,
		}
	}
	return s, nil
}

// MarshalStructure produces the cache payload for a structure.
func MarshalStructure(s *Structure) ([]byte, error) {
	doc, err := EncodeStructure(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func UnmarshalStructure(raw []byte) (*Structure, error) {
	var doc StructureDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal structure: %w", err)
	}
	return DecodeStructure(&doc)
}

func EncodeDefinition(d *Definition) (*DefinitionDoc, error) {
	fields := d.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	rawFields, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode definition %s fields: %w", d.ID, err)
	}
	rawEdit, err := json.Marshal(d.EditInfo)
	if err != nil {
		return nil, fmt.Errorf("encode definition %s edit info: %w", d.ID, err)
	}
	return &DefinitionDoc{
		ID:            string(d.ID),
		BlockType:     d.Type,
		Fields:        datatypes.JSON(rawFields),
		EditInfo:      datatypes.JSON(rawEdit),
		SchemaVersion: SchemaVersion,
	}, nil
}

func DecodeDefinition(doc *DefinitionDoc) (*Definition, error) {
	if doc.SchemaVersion != SchemaVersion {
		return nil, &mserr.SchemaMismatchError{Collection: "definitions", ID: doc.ID, Found: doc.SchemaVersion, Want: SchemaVersion}
	}
	d := &Definition{ID: keys.VersionID(doc.ID), Type: doc.BlockType, Fields: map[string]any{}}
	if len(doc.Fields) > 0 {
		if err := json.Unmarshal(doc.Fields, &d.Fields); err != nil {
			return nil, fmt.Errorf("decode definition %s fields: %w", doc.ID, err)
		}
	}
	if len(doc.EditInfo) > 0 {
		if err := json.Unmarshal(doc.EditInfo, &d.EditInfo); err != nil {
			return nil, fmt.Errorf("decode definition %s edit info: %w", doc.ID, err)
		}
	}
	d.EditInfo.EditedOn = d.EditInfo.EditedOn.UTC()
	return d, nil
}

func EncodeCourseIndex(ci *CourseIndex) (*CourseIndexDoc, error) {
	versions := map[string]string{}
	for b, v := range ci.Versions {
		versions[b] = string(v)
	}
	rawVersions, err := json.Marshal(versions)
	if err != nil {
		return nil, fmt.Errorf("encode course index versions: %w", err)
	}
	targets := ci.SearchTargets
	if targets == nil {
		targets = map[string]any{}
	}
	rawTargets, err := json.Marshal(targets)
	if err != nil {
		return nil, fmt.Errorf("encode course index search targets: %w", err)
	}
	return &CourseIndexDoc{
		ID:            ci.ID,
		Org:           ci.Org,
		Course:        ci.Course,
		Run:           ci.Run,
		Versions:      datatypes.JSON(rawVersions),
		SearchTargets: datatypes.JSON(rawTargets),
		LastUpdate:    ci.LastUpdate.UTC(),
		EditedBy:      ci.EditedBy,
		SchemaVersion: SchemaVersion,
	}, nil
}

func DecodeCourseIndex(doc *CourseIndexDoc) (*CourseIndex, error) {
	if doc.SchemaVersion != SchemaVersion {
		return nil, &mserr.SchemaMismatchError{Collection: "course_index", ID: doc.ID, Found: doc.SchemaVersion, Want: SchemaVersion}
	}
	versions := map[string]string{}
	if len(doc.Versions) > 0 {
		if err := json.Unmarshal(doc.Versions, &versions); err != nil {
			return nil, fmt.Errorf("decode course index %s versions: %w", doc.ID, err)
		}
	}
	ci := &CourseIndex{
		ID:            doc.ID,
		Org:           doc.Org,
		Course:        doc.Course,
		Run:           doc.Run,
		Versions:      make(map[string]keys.VersionID, len(versions)),
		SearchTargets: map[string]any{},
		LastUpdate:    doc.LastUpdate.UTC(),
		EditedBy:      doc.EditedBy,
	}
	for b, v := range versions {
		ci.Versions[b] = keys.VersionID(v)
	}
	if len(doc.SearchTargets) > 0 {
		if err := json.Unmarshal(doc.SearchTargets, &ci.SearchTargets); err != nil {
			return nil, fmt.Errorf("decode course index %s search targets: %w", doc.ID, err)
		}
	}
	return ci, nil
}

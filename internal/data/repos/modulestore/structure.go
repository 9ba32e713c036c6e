package modulestore

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/pkg/dbctx"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type StructureRepo interface {
	Upsert(dbc dbctx.Context, doc *types.StructureDoc) error
	Get(dbc dbctx.Context, id string) (*types.StructureDoc, error)
	ListIDsByOriginalVersion(dbc dbctx.Context, originalVersion string) ([]string, error)
	Count(dbc dbctx.Context) (int64, error)
}

type structureRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStructureRepo(db *gorm.DB, baseLog *logger.Logger) StructureRepo {
	return &structureRepo{db: db, log: baseLog.With("repo", "StructureRepo")}
}

// Upsert writes by id. A structure id names exactly one snapshot, so an existing
// row is left alone.
func (r *structureRepo) Upsert(dbc dbctx.Context, doc *types.StructureDoc) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(doc).Error
}

func (r *structureRepo) Get(dbc dbctx.Context, id string) (*types.StructureDoc, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	row := &types.StructureDoc{}
	if err := t.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(row).Error; err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return row, nil
}

func (r *structureRepo) ListIDsByOriginalVersion(dbc dbctx.Context, originalVersion string) ([]string, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var ids []string
	if strings.TrimSpace(originalVersion) == "" {
		return ids, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Model(&types.StructureDoc{}).
		Where("original_version = ?", originalVersion).
		Order("edited_on ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *structureRepo) Count(dbc dbctx.Context) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var n int64
	if err := t.WithContext(dbc.Ctx).Model(&types.StructureDoc{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

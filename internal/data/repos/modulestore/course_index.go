package modulestore

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/pkg/dbctx"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

// CourseIndexFilter selects course indexes. Empty fields do not filter.
type CourseIndexFilter struct {
	Branch        string
	Org           string
	SearchTargets map[string]string
}

type CourseIndexRepo interface {
	Insert(dbc dbctx.Context, doc *types.CourseIndexDoc) error
	Get(dbc dbctx.Context, org, course, run string, ignoreCase bool) (*types.CourseIndexDoc, error)
	Find(dbc dbctx.Context, filter CourseIndexFilter) ([]*types.CourseIndexDoc, error)
	// CompareAndSwap replaces the row only if its last_update still equals expected.
	CompareAndSwap(dbc dbctx.Context, doc *types.CourseIndexDoc, expected time.Time) (bool, error)
	Replace(dbc dbctx.Context, doc *types.CourseIndexDoc) error
	Delete(dbc dbctx.Context, org, course, run string) (int64, error)
}

type courseIndexRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseIndexRepo(db *gorm.DB, baseLog *logger.Logger) CourseIndexRepo {
	return &courseIndexRepo{db: db, log: baseLog.With("repo", "CourseIndexRepo")}
}

func (r *courseIndexRepo) Insert(dbc dbctx.Context, doc *types.CourseIndexDoc) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if doc == nil {
		return nil
	}
	return t.WithContext(dbc.Ctx).Create(doc).Error
}

func (r *courseIndexRepo) Get(dbc dbctx.Context, org, course, run string, ignoreCase bool) (*types.CourseIndexDoc, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx)
	if ignoreCase {
		q = q.Where("lower(org) = lower(?) AND lower(course) = lower(?) AND lower(run) = lower(?)", org, course, run)
	} else {
		q = q.Where("org = ? AND course = ? AND run = ?", org, course, run)
	}
	row := &types.CourseIndexDoc{}
	if err := q.Order("id ASC").Limit(1).Find(row).Error; err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	return row, nil
}

func (r *courseIndexRepo) Find(dbc dbctx.Context, filter CourseIndexFilter) ([]*types.CourseIndexDoc, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	q := t.WithContext(dbc.Ctx).Model(&types.CourseIndexDoc{})
	if b := strings.TrimSpace(filter.Branch); b != "" {
		q = q.Where(datatypes.JSONQuery("versions").HasKey(b))
	}
	if o := strings.TrimSpace(filter.Org); o != "" {
		q = q.Where("org = ?", o)
	}
	for key, value := range filter.SearchTargets {
		q = q.Where(datatypes.JSONQuery("search_targets").Equals(value, key))
	}
	var results []*types.CourseIndexDoc
	if err := q.Order("org ASC, course ASC, run ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *courseIndexRepo) CompareAndSwap(dbc dbctx.Context, doc *types.CourseIndexDoc, expected time.Time) (bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	res := t.WithContext(dbc.Ctx).
		Model(&types.CourseIndexDoc{}).
		Where("id = ? AND last_update = ?", doc.ID, expected.UTC()).
		Updates(map[string]any{
			"versions":       doc.Versions,
			"search_targets": doc.SearchTargets,
			"last_update":    doc.LastUpdate.UTC(),
			"edited_by":      doc.EditedBy,
			"schema_version": doc.SchemaVersion,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *courseIndexRepo) Replace(dbc dbctx.Context, doc *types.CourseIndexDoc) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx).
		Model(&types.CourseIndexDoc{}).
		Where("id = ?", doc.ID).
		Updates(map[string]any{
			"versions":       doc.Versions,
			"search_targets": doc.SearchTargets,
			"last_update":    doc.LastUpdate.UTC(),
			"edited_by":      doc.EditedBy,
			"schema_version": doc.SchemaVersion,
		}).Error
}

func (r *courseIndexRepo) Delete(dbc dbctx.Context, org, course, run string) (int64, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	res := t.WithContext(dbc.Ctx).
		Where("org = ? AND course = ? AND run = ?", org, course, run).
		Delete(&types.CourseIndexDoc{})
	return res.RowsAffected, res.Error
}

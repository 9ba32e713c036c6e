package modulestore

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/pkg/dbctx"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type DefinitionRepo interface {
	Insert(dbc dbctx.Context, docs []*types.DefinitionDoc) error
	Get(dbc dbctx.Context, id string) (*types.DefinitionDoc, error)
	GetByIDs(dbc dbctx.Context, ids []string) ([]*types.DefinitionDoc, error)
}

type definitionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDefinitionRepo(db *gorm.DB, baseLog *logger.Logger) DefinitionRepo {
	return &definitionRepo{db: db, log: baseLog.With("repo", "DefinitionRepo")}
}

// Insert is idempotent: definitions are content addressed and never rewritten.
func (r *definitionRepo) Insert(dbc dbctx.Context, docs []*types.DefinitionDoc) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if len(docs) == 0 {
		return nil
	}
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&docs).Error
}

func (r *definitionRepo) Get(dbc dbctx.Context, id string) (*types.DefinitionDoc, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	row := &types.DefinitionDoc{}
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

func (r *definitionRepo) GetByIDs(dbc dbctx.Context, ids []string) ([]*types.DefinitionDoc, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var results []*types.DefinitionDoc
	if len(ids) == 0 {
		return results, nil
	}
	if err := t.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

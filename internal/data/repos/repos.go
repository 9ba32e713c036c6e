package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/splitstore/internal/data/repos/modulestore"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

type CourseIndexRepo = modulestore.CourseIndexRepo
type CourseIndexFilter = modulestore.CourseIndexFilter
type StructureRepo = modulestore.StructureRepo
type DefinitionRepo = modulestore.DefinitionRepo

func NewCourseIndexRepo(db *gorm.DB, baseLog *logger.Logger) CourseIndexRepo {
	return modulestore.NewCourseIndexRepo(db, baseLog)
}
func NewStructureRepo(db *gorm.DB, baseLog *logger.Logger) StructureRepo {
	return modulestore.NewStructureRepo(db, baseLog)
}
func NewDefinitionRepo(db *gorm.DB, baseLog *logger.Logger) DefinitionRepo {
	return modulestore.NewDefinitionRepo(db, baseLog)
}

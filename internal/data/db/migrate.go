package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	types "github.com/yungbote/splitstore/internal/domain/modulestore"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.CourseIndexDoc{},
		&types.StructureDoc{},
		&types.DefinitionDoc{},
	)
}

// EnsureModulestoreIndexes adds the indexes AutoMigrate cannot express.
func EnsureModulestoreIndexes(db *gorm.DB) error {
	// Case-insensitive course lookups (get_course_index with ignore_case).
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_course_index_lower_ocr
		ON course_index (lower(org), lower(course), lower(run));
	`).Error; err != nil {
		return fmt.Errorf("create idx_course_index_lower_ocr: %w", err)
	}
	if db.Dialector.Name() == DriverPostgres {
		if err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_course_index_versions
			ON course_index USING GIN (versions);
		`).Error; err != nil {
			return fmt.Errorf("create idx_course_index_versions: %w", err)
		}
	}
	return nil
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating modulestore collections...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureModulestoreIndexes(s.db); err != nil {
		s.log.Error("Modulestore index migration failed", "error", err)
		return err
	}
	return nil
}

// IsUniqueViolation recognises unique-constraint failures from every supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Package migrations holds the versioned schema changes applied after AutoMigrate.
package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

type migration struct {
	version string
	apply   func(*gorm.DB) error
}

var all = []migration{
	{"v1.1.0", V1_1_0_AddSessionTimeIndex},
	{"v1.2.0", V1_2_0_AddUpstreamStatusColumn},
}

// Run applies every migration in order. Each one is idempotent.
func Run(db *gorm.DB) error {
	for _, m := range all {
		if err := m.apply(db); err != nil {
			return fmt.Errorf("migration %s: %w", m.version, err)
		}
	}
	return nil
}

// hasColumn reports whether table has column, using the dialect's catalog.
func hasColumn(db *gorm.DB, table, column string) bool {
	switch db.Dialector.Name() {
	case "mysql":
		var count int64
		db.Raw(`
			SELECT COUNT(*)
			FROM information_schema.COLUMNS
			WHERE TABLE_SCHEMA = DATABASE()
			AND TABLE_NAME = ?
			AND COLUMN_NAME = ?
		`, table, column).Count(&count)
		return count > 0
	case "sqlite":
		type columnInfo struct {
			Name string
		}
		var columns []columnInfo
		db.Raw("PRAGMA table_info(" + table + ")").Scan(&columns)
		for _, col := range columns {
			if col.Name == column {
				return true
			}
		}
		return false
	default:
		var count int64
		db.Raw(`
			SELECT COUNT(*)
			FROM information_schema.columns
			WHERE table_name = ?
			AND column_name = ?
		`, table, column).Count(&count)
		return count > 0
	}
}

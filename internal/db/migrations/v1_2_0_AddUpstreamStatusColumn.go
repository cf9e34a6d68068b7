package migrations

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// V1_2_0_AddUpstreamStatusColumn adds the upstream_status column to request_logs.
// The column is excluded from AutoMigrate so databases created by earlier
// versions get it here.
func V1_2_0_AddUpstreamStatusColumn(db *gorm.DB) error {
	if hasColumn(db, "request_logs", "upstream_status") {
		logrus.Info("Column upstream_status already exists in request_logs table, skipping v1.2.0...")
		return nil
	}

	logrus.Info("Adding upstream_status column to request_logs table...")
	if err := db.Exec("ALTER TABLE request_logs ADD COLUMN upstream_status INTEGER DEFAULT 0").Error; err != nil {
		return err
	}

	logrus.Info("Migration v1.2.0 completed successfully")
	return nil
}

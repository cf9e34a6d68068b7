package migrations

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const sessionTimeIndex = "idx_request_logs_session_time"

// V1_1_0_AddSessionTimeIndex adds a composite index for per-session history queries.
func V1_1_0_AddSessionTimeIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex("request_logs", sessionTimeIndex) {
		logrus.Debug("Index idx_request_logs_session_time already exists, skipping v1.1.0...")
		return nil
	}

	logrus.Info("Creating idx_request_logs_session_time on request_logs...")
	return db.Exec("CREATE INDEX " + sessionTimeIndex + " ON request_logs (session_key, timestamp)").Error
}

// Package db opens the request log database and applies the schema.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"doubao-api/internal/db/migrations"
	"doubao-api/internal/models"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialect names returned by DetectDialect.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// DetectDialect picks the driver for dsn.
func DetectDialect(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return DialectPostgres
	case strings.Contains(dsn, "@tcp("):
		return DialectMySQL
	default:
		return DialectSQLite
	}
}

// NewDB opens the database for dsn and migrates the schema. An empty dsn
// returns a nil DB, which disables request logging.
func NewDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, nil
	}

	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if db.Dialector.Name() == DialectSQLite {
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	logrus.WithField("dialect", db.Dialector.Name()).Info("Database connected")
	return db, nil
}

// Migrate creates the tables and applies the versioned migrations.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.RequestLog{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return migrations.Run(db)
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	switch DetectDialect(dsn) {
	case DialectPostgres:
		return postgres.Open(dsn), nil
	case DialectMySQL:
		cfg, err := mysqldriver.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		return mysql.Open(cfg.FormatDSN()), nil
	default:
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.Open(dsn), nil
	}
}

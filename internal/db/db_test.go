package db

import (
	"path/filepath"
	"testing"
	"time"

	"doubao-api/internal/db/migrations"
	"doubao-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDialect(t *testing.T) {
	tests := map[string]string{
		"":                                     DialectSQLite,
		"data/doubao.db":                       DialectSQLite,
		"postgres://u:p@localhost:5432/doubao": DialectPostgres,
		"host=localhost user=u dbname=doubao":  DialectPostgres,
		"user:pass@tcp(127.0.0.1:3306)/doubao": DialectMySQL,
		"file::memory:?cache=shared":           DialectSQLite,
	}
	for dsn, want := range tests {
		assert.Equal(t, want, DetectDialect(dsn), dsn)
	}
}

func TestNewDB_EmptyDSN(t *testing.T) {
	db, err := NewDB("")
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestNewDB_InvalidMySQLDSN(t *testing.T) {
	_, err := NewDB("user@tcp(bad")
	assert.Error(t, err)
}

func TestNewDB_SQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs.db")
	db, err := NewDB(path)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&models.RequestLog{}))
	assert.True(t, db.Migrator().HasColumn(&models.RequestLog{}, "upstream_status"))
	assert.True(t, db.Migrator().HasIndex("request_logs", "idx_request_logs_session_time"))

	entry := &models.RequestLog{
		RequestID:      "chatcmpl-1",
		Timestamp:      time.Now(),
		Flow:           models.FlowChat,
		Outcome:        models.OutcomeFailed,
		UpstreamStatus: 403,
		Metadata:       map[string]any{"fallback": true},
	}
	require.NoError(t, db.Create(entry).Error)

	var got models.RequestLog
	require.NoError(t, db.First(&got, "request_id = ?", "chatcmpl-1").Error)
	assert.Equal(t, 403, got.UpstreamStatus)
	assert.Equal(t, true, got.Metadata["fallback"])

	// Migrations are idempotent.
	require.NoError(t, migrations.Run(db))
}

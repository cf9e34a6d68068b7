package services

import (
	"path/filepath"
	"testing"
	"time"

	"doubao-api/internal/db"
	"doubao-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogService_NilIsNoOp(t *testing.T) {
	svc := NewRequestLogService(nil, DefaultWorkerPoolConfig())
	assert.Nil(t, svc)

	assert.NoError(t, svc.Record(logEntry(1)))
	assert.Equal(t, WorkerPoolMetrics{}, svc.Metrics())
	svc.Stop()
}

func TestRequestLogService_PersistsEntries(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)

	svc := NewRequestLogService(database, WorkerPoolConfig{WorkerCount: 1, QueueCapacity: 10})
	require.NotNil(t, svc)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(logEntry(i)))
	}
	require.NoError(t, svc.Record(nil))
	svc.Stop()

	var count int64
	require.NoError(t, database.Model(&models.RequestLog{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
	assert.Equal(t, int64(3), svc.Metrics().ProcessedCount)
}

func TestGormLogProcessor_Persist(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)

	entry := &models.RequestLog{
		RequestID:  "img-1",
		Timestamp:  time.Now(),
		Flow:       models.FlowImage,
		SessionKey: "img:bob",
		Outcome:    models.OutcomeSuccess,
		Metadata:   map[string]any{"images": 2},
	}
	require.NoError(t, NewGormLogProcessor(database).Persist(entry))
	assert.NotZero(t, entry.ID)
}

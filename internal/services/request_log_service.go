// Package services holds the request log persistence.
package services

import (
	"doubao-api/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormLogProcessor inserts request logs with gorm.
type GormLogProcessor struct {
	db *gorm.DB
}

// NewGormLogProcessor creates a GormLogProcessor.
func NewGormLogProcessor(db *gorm.DB) *GormLogProcessor {
	return &GormLogProcessor{db: db}
}

// Persist implements LogProcessor.
func (p *GormLogProcessor) Persist(entry *models.RequestLog) error {
	return p.db.Create(entry).Error
}

// RequestLogService records request logs asynchronously. A nil service drops
// every entry, which is how a deployment without a database runs.
type RequestLogService struct {
	pool *WorkerPool
}

// NewRequestLogService starts the worker pool. It returns nil when db is nil.
func NewRequestLogService(db *gorm.DB, config WorkerPoolConfig) *RequestLogService {
	if db == nil {
		logrus.Info("No database configured, request logging disabled")
		return nil
	}
	return newRequestLogService(NewGormLogProcessor(db), config)
}

func newRequestLogService(processor LogProcessor, config WorkerPoolConfig) *RequestLogService {
	pool := NewWorkerPool(config, processor, logrus.WithField("service", "request_log"))
	pool.Start()
	return &RequestLogService{pool: pool}
}

// Record queues entry for persistence.
func (s *RequestLogService) Record(entry *models.RequestLog) error {
	if s == nil || entry == nil {
		return nil
	}
	s.pool.Submit(entry)
	return nil
}

// Metrics returns the worker pool counters.
func (s *RequestLogService) Metrics() WorkerPoolMetrics {
	if s == nil {
		return WorkerPoolMetrics{}
	}
	return s.pool.GetMetrics()
}

// Stop drains pending entries and stops the workers.
func (s *RequestLogService) Stop() {
	if s == nil {
		return
	}
	s.pool.Stop()
}

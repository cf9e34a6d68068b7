package services

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"doubao-api/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	WorkerCount    int           // Number of worker goroutines (default: 2)
	QueueCapacity  int           // Task queue capacity (default: 1000)
	MaxRetries     int           // Max retry attempts for transient errors (default: 3)
	RetryBaseDelay time.Duration // Base delay for exponential backoff (default: 100ms)
}

// DefaultWorkerPoolConfig returns default configuration
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount:    2,
		QueueCapacity:  1000,
		MaxRetries:     3,
		RetryBaseDelay: 100 * time.Millisecond,
	}
}

// WorkerPoolMetrics holds metrics for monitoring
type WorkerPoolMetrics struct {
	QueueLength    int64
	ProcessedCount int64
	ErrorCount     int64
}

// LogProcessor persists one request log entry.
type LogProcessor interface {
	Persist(entry *models.RequestLog) error
}

// WorkerPool writes request logs from a bounded queue on a fixed set of workers.
type WorkerPool struct {
	config    WorkerPoolConfig
	taskChan  chan *models.RequestLog
	stopChan  chan struct{}
	wg        sync.WaitGroup
	processor LogProcessor
	logger    *logrus.Entry

	queueLength    atomic.Int64
	processedCount atomic.Int64
	errorCount     atomic.Int64

	// mu guards running. Submit holds it shared across the enqueue so Stop
	// never drains while an entry is still being queued.
	mu      sync.RWMutex
	running bool
}

// NewWorkerPool creates a new worker pool with the given configuration
func NewWorkerPool(config WorkerPoolConfig, processor LogProcessor, logger *logrus.Entry) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = defaults.QueueCapacity
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = defaults.RetryBaseDelay
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &WorkerPool{
		config:    config,
		taskChan:  make(chan *models.RequestLog, config.QueueCapacity),
		stopChan:  make(chan struct{}),
		processor: processor,
		logger:    logger.WithField("component", "worker_pool"),
	}
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		wp.logger.Warn("Worker pool already running")
		return
	}
	wp.running = true

	wp.logger.WithFields(logrus.Fields{
		"worker_count":   wp.config.WorkerCount,
		"queue_capacity": wp.config.QueueCapacity,
	}).Info("Starting worker pool")

	for i := 0; i < wp.config.WorkerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Submit queues an entry. When the queue is full the entry is written
// synchronously so no log is dropped.
func (wp *WorkerPool) Submit(entry *models.RequestLog) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.running {
		wp.logger.Warn("Cannot submit task: worker pool not running")
		return false
	}

	select {
	case wp.taskChan <- entry:
		currentLen := wp.queueLength.Add(1)
		threshold := int64(float64(wp.config.QueueCapacity) * 0.8)
		if currentLen >= threshold {
			wp.logger.WithFields(logrus.Fields{
				"queue_length": currentLen,
				"capacity":     wp.config.QueueCapacity,
			}).Warn("Task queue approaching capacity")
		}
		return true
	default:
		wp.logger.WithField("request_id", entry.RequestID).Warn("Task queue full, writing request log synchronously")
		wp.processTask(entry, wp.logger)
		return true
	}
}

// Stop gracefully shuts down the worker pool
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		wp.logger.Warn("Worker pool already stopped")
		return
	}
	wp.running = false
	wp.mu.Unlock()

	wp.logger.Info("Stopping worker pool...")

	close(wp.stopChan)
	wp.wg.Wait()
	wp.drainRemainingTasks()

	wp.logger.WithFields(logrus.Fields{
		"processed": wp.processedCount.Load(),
		"errors":    wp.errorCount.Load(),
	}).Info("Worker pool stopped")
}

// GetMetrics returns current metrics snapshot
func (wp *WorkerPool) GetMetrics() WorkerPoolMetrics {
	return WorkerPoolMetrics{
		QueueLength:    wp.queueLength.Load(),
		ProcessedCount: wp.processedCount.Load(),
		ErrorCount:     wp.errorCount.Load(),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	logger := wp.logger.WithField("worker_id", id)
	logger.Debug("Worker started")

	for {
		select {
		case <-wp.stopChan:
			logger.Debug("Worker received stop signal")
			return
		case entry := <-wp.taskChan:
			wp.queueLength.Add(-1)
			wp.processTask(entry, logger)
		}
	}
}

// processTask writes one entry, retrying transient errors with exponential backoff.
func (wp *WorkerPool) processTask(entry *models.RequestLog, logger *logrus.Entry) {
	var err error
	for attempt := 0; attempt <= wp.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := wp.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
			logger.WithFields(logrus.Fields{
				"request_id": entry.RequestID,
				"attempt":    attempt,
				"delay":      delay,
			}).Debug("Retrying request log write")
			time.Sleep(delay)
		}

		err = wp.processor.Persist(entry)
		if err == nil {
			wp.processedCount.Add(1)
			return
		}

		if isPermanentError(err) {
			logger.WithFields(logrus.Fields{
				"request_id": entry.RequestID,
				"error":      err,
			}).Error("Permanent error writing request log, not retrying")
			wp.errorCount.Add(1)
			wp.processedCount.Add(1)
			return
		}

		logger.WithFields(logrus.Fields{
			"request_id": entry.RequestID,
			"attempt":    attempt + 1,
			"error":      err,
		}).Warn("Transient error writing request log")
	}

	logger.WithFields(logrus.Fields{
		"request_id":  entry.RequestID,
		"max_retries": wp.config.MaxRetries,
		"error":       err,
	}).Error("All retries exhausted for request log")
	wp.errorCount.Add(1)
	wp.processedCount.Add(1)
}

// drainRemainingTasks processes any tasks left in the queue after stop signal
func (wp *WorkerPool) drainRemainingTasks() {
	remaining := 0
	for {
		select {
		case entry := <-wp.taskChan:
			remaining++
			wp.queueLength.Add(-1)
			wp.processTask(entry, wp.logger)
		default:
			if remaining > 0 {
				wp.logger.WithField("count", remaining).Info("Drained remaining tasks")
			}
			return
		}
	}
}

// isPermanentError checks if an error should not be retried
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrInvalidField) || errors.Is(err, gorm.ErrModelValueRequired) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "record not found") || strings.Contains(errStr, "no such table")
}

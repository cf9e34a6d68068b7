// Package scheduler runs the periodic session reaper and account recovery.
package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reaper removes sessions idle for longer than ttl.
type Reaper interface {
	ReapExpired(ttl time.Duration) int
}

// Recoverer probes unhealthy accounts whose cooldown has elapsed.
type Recoverer interface {
	Recover(ctx context.Context) int
}

// Config holds the sweep intervals.
type Config struct {
	SessionTTL       time.Duration
	ReapInterval     time.Duration
	RecoveryInterval time.Duration
}

// Scheduler owns the two background loops.
type Scheduler struct {
	reaper    Reaper
	recoverer Recoverer
	config    Config
	logger    *logrus.Entry
}

// New creates a Scheduler.
func New(reaper Reaper, recoverer Recoverer, config Config) *Scheduler {
	return &Scheduler{
		reaper:    reaper,
		recoverer: recoverer,
		config:    config,
		logger:    logrus.WithField("component", "scheduler"),
	}
}

// Run blocks until ctx is done. A sweep that panics is logged and the loop continues.
// A non-positive interval disables that sweep only.
func (s *Scheduler) Run(ctx context.Context) {
	// a nil channel never fires, which keeps a disabled sweep out of the select
	var reapC, recoverC <-chan time.Time
	if s.config.ReapInterval > 0 {
		ticker := time.NewTicker(s.config.ReapInterval)
		defer ticker.Stop()
		reapC = ticker.C
	}
	if s.config.RecoveryInterval > 0 {
		ticker := time.NewTicker(s.config.RecoveryInterval)
		defer ticker.Stop()
		recoverC = ticker.C
	}
	if reapC == nil && recoverC == nil {
		s.logger.Warn("Scheduler disabled: non-positive intervals")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"reap_interval":     s.config.ReapInterval,
		"recovery_interval": s.config.RecoveryInterval,
		"session_ttl":       s.config.SessionTTL,
	}).Info("Scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-reapC:
			s.ReapOnce()
		case <-recoverC:
			s.RecoverOnce(ctx)
		}
	}
}

// ReapOnce runs one session sweep.
func (s *Scheduler) ReapOnce() {
	s.safely("reap", func() {
		if removed := s.reaper.ReapExpired(s.config.SessionTTL); removed > 0 {
			s.logger.WithField("removed", removed).Info("Expired sessions removed")
		}
	})
}

// RecoverOnce runs one account recovery sweep.
func (s *Scheduler) RecoverOnce(ctx context.Context) {
	s.safely("recover", func() {
		if restored := s.recoverer.Recover(ctx); restored > 0 {
			s.logger.WithField("restored", restored).Info("Accounts restored")
		}
	})
}

func (s *Scheduler) safely(sweep string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"sweep": sweep,
				"panic": r,
			}).Error("Scheduled sweep panicked")
		}
	}()
	fn()
}

// Package accountpool selects the upstream account serving a session and tracks
// account health and load.
package accountpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/models"
	"doubao-api/internal/session"

	"github.com/sirupsen/logrus"
)

// DefaultCooldown is the time an unhealthy account waits before a recovery probe.
const DefaultCooldown = 30 * time.Minute

// Prober checks whether an account is usable again.
type Prober interface {
	Probe(ctx context.Context, acc *models.Account) error
}

// Lease is the result of a successful Select. It must be released exactly once.
type Lease struct {
	Index   int
	Key     string
	Account models.Account
}

// Status is a point-in-time view of one account.
type Status struct {
	Index             int
	Key               string
	Healthy           bool
	ActiveConnections int
	LastFailure       time.Time
	LastError         string
}

type accountState struct {
	account     models.Account
	key         string
	healthy     bool
	active      int
	lastFailure time.Time
	lastError   string
}

// Registry holds the account pool. Selection, release and health changes are
// serialized by one mutex so that picking the least loaded account and
// incrementing its counter happen atomically.
type Registry struct {
	mu       sync.Mutex
	accounts []*accountState
	byKey    map[string]int
	sessions *session.Registry
	prober   Prober
	cooldown time.Duration
	now      func() time.Time
	logger   *logrus.Entry
}

// NewRegistry builds the pool from the configured accounts. Accounts sharing a key are kept once.
func NewRegistry(accounts []models.Account, sessions *session.Registry, prober Prober, cooldown time.Duration) *Registry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	r := &Registry{
		byKey:    make(map[string]int, len(accounts)),
		sessions: sessions,
		prober:   prober,
		cooldown: cooldown,
		now:      time.Now,
		logger:   logrus.WithField("component", "account_pool"),
	}
	for _, acc := range accounts {
		key := acc.Key()
		if _, dup := r.byKey[key]; dup {
			r.logger.WithField("account", key).Warn("Duplicate account ignored")
			continue
		}
		r.byKey[key] = len(r.accounts)
		r.accounts = append(r.accounts, &accountState{account: acc, key: key, healthy: true})
	}

	r.logger.WithField("accounts", len(r.accounts)).Info("Account pool initialized")
	return r
}

// Select returns the account serving sessionKey and increments its load.
// A session keeps its bound account while that account is healthy; otherwise
// the healthy account with the fewest active connections is chosen, ties going
// to the lowest index, and the session is bound to it.
func (r *Registry) Select(sessionKey string) (Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.sessions.Binding(sessionKey); ok && idx >= 0 && idx < len(r.accounts) && r.accounts[idx].healthy {
		return r.lease(idx), nil
	}

	best := -1
	for i, st := range r.accounts {
		if !st.healthy {
			continue
		}
		if best < 0 || st.active < r.accounts[best].active {
			best = i
		}
	}
	if best < 0 {
		return Lease{}, app_errors.ErrNoHealthyAccount
	}

	r.sessions.Bind(sessionKey, best)
	r.logger.WithFields(logrus.Fields{
		"session": sessionKey,
		"account": r.accounts[best].key,
	}).Debug("Session bound to account")
	return r.lease(best), nil
}

// lease increments the load of the account at idx. Caller holds r.mu.
func (r *Registry) lease(idx int) Lease {
	st := r.accounts[idx]
	st.active++
	return Lease{Index: idx, Key: st.key, Account: st.account}
}

// Release decrements the load of the account, never below zero.
func (r *Registry) Release(accountKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byKey[accountKey]
	if !ok {
		return
	}
	if st := r.accounts[idx]; st.active > 0 {
		st.active--
	}
}

// MarkUnhealthy takes the account out of rotation and drops every session bound to it.
func (r *Registry) MarkUnhealthy(accountKey string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.byKey[accountKey]
	if !ok {
		return
	}
	st := r.accounts[idx]
	st.healthy = false
	st.lastFailure = r.now()
	if cause != nil {
		st.lastError = cause.Error()
	}
	dropped := r.sessions.DropSessionsBoundTo(idx)

	r.logger.WithFields(logrus.Fields{
		"account":          accountKey,
		"error":            st.lastError,
		"dropped_sessions": dropped,
	}).Warn("Account marked unhealthy")
}

// Recover probes every account that has been unhealthy for at least the cooldown
// window. A successful probe restores the account with a zero load. Probe
// failures and panics are logged and leave the account for the next pass.
func (r *Registry) Recover(ctx context.Context) int {
	type candidate struct {
		idx         int
		account     models.Account
		key         string
		lastFailure time.Time
	}

	r.mu.Lock()
	now := r.now()
	var candidates []candidate
	for i, st := range r.accounts {
		if st.healthy || now.Sub(st.lastFailure) < r.cooldown {
			continue
		}
		candidates = append(candidates, candidate{idx: i, account: st.account, key: st.key, lastFailure: st.lastFailure})
	}
	r.mu.Unlock()

	recovered := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		acc := c.account
		if err := r.probe(ctx, &acc); err != nil {
			r.logger.WithFields(logrus.Fields{
				"account": c.key,
				"error":   err,
			}).Warn("Account recovery probe failed")
			continue
		}

		r.mu.Lock()
		st := r.accounts[c.idx]
		// a failure recorded while probing wins
		if !st.healthy && st.lastFailure.Equal(c.lastFailure) {
			st.healthy = true
			st.active = 0
			st.lastError = ""
			recovered++
			r.logger.WithField("account", c.key).Info("Account recovered")
		}
		r.mu.Unlock()
	}
	return recovered
}

func (r *Registry) probe(ctx context.Context, acc *models.Account) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panicked: %v", p)
		}
	}()
	if r.prober == nil {
		return nil
	}
	return r.prober.Probe(ctx, acc)
}

// HealthSummary returns the number of healthy accounts and the pool size.
func (r *Registry) HealthSummary() (healthy, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.accounts {
		if st.healthy {
			healthy++
		}
	}
	return healthy, len(r.accounts)
}

// Snapshot returns the status of every account in configuration order.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Status, len(r.accounts))
	for i, st := range r.accounts {
		out[i] = Status{
			Index:             i,
			Key:               st.key,
			Healthy:           st.healthy,
			ActiveConnections: st.active,
			LastFailure:       st.lastFailure,
			LastError:         st.lastError,
		}
	}
	return out
}

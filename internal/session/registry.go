// Package session tracks logical sessions, their upstream conversation id and
// the account each one is bound to.
package session

import (
	"sync"
	"time"

	"doubao-api/internal/models"

	"github.com/sirupsen/logrus"
)

// Record is a snapshot of one session.
type Record struct {
	Key            string
	ConversationID string
	CreatedAt      time.Time
	LastActive     time.Time
}

// Registry holds the session records and the session to account bindings.
// The bindings map is separate so a binding can be revoked without touching
// the conversation state.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*Record
	bindings map[string]int
	now      func() time.Time
	logger   *logrus.Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		records:  make(map[string]*Record),
		bindings: make(map[string]int),
		now:      time.Now,
		logger:   logrus.WithField("component", "session_registry"),
	}
}

// GetOrCreate returns the session, creating it with a pending conversation when absent.
// Every call refreshes the activity time.
func (r *Registry) GetOrCreate(key string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.records[key]
	if !ok {
		rec = &Record{
			Key:            key,
			ConversationID: models.ConversationPending,
			CreatedAt:      now,
		}
		r.records[key] = rec
	}
	if now.After(rec.LastActive) {
		rec.LastActive = now
	}
	return *rec
}

// Get returns the session without refreshing it.
func (r *Registry) Get(key string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ConversationFor returns the conversation id of the session when it is bound to
// accountIndex, and the pending sentinel otherwise. A conversation belongs to the
// account that created it and is meaningless on any other.
func (r *Registry) ConversationFor(key string, accountIndex int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return models.ConversationPending
	}
	if idx, bound := r.bindings[key]; !bound || idx != accountIndex {
		return models.ConversationPending
	}
	return rec.ConversationID
}

// UpdateConversationID stores the conversation id assigned by the upstream
// account at accountIndex. It returns false when the session no longer exists
// or is now bound to another account, for example because the account was
// marked unhealthy while the call was running.
func (r *Registry) UpdateConversationID(key, conversationID string, accountIndex int) bool {
	if conversationID == "" || conversationID == models.ConversationPending {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok {
		return false
	}
	if idx, bound := r.bindings[key]; !bound || idx != accountIndex {
		return false
	}
	if rec.ConversationID != conversationID {
		r.logger.WithFields(logrus.Fields{
			"session":         key,
			"conversation_id": conversationID,
		}).Debug("Conversation id assigned")
	}
	rec.ConversationID = conversationID
	if now := r.now(); now.After(rec.LastActive) {
		rec.LastActive = now
	}
	return true
}

// Binding returns the account index the session is bound to.
func (r *Registry) Binding(key string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.bindings[key]
	return idx, ok
}

// Bind binds the session to the account index, replacing any previous binding.
func (r *Registry) Bind(key string, accountIndex int) {
	r.mu.Lock()
	r.bindings[key] = accountIndex
	r.mu.Unlock()
}

// DropSessionsBoundTo removes every session bound to the account, together with its record.
func (r *Registry) DropSessionsBoundTo(accountIndex int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for key, idx := range r.bindings {
		if idx != accountIndex {
			continue
		}
		delete(r.bindings, key)
		delete(r.records, key)
		dropped++
	}
	return dropped
}

// ReapExpired removes every session idle for strictly longer than ttl.
func (r *Registry) ReapExpired(ttl time.Duration) int {
	r.mu.RLock()
	candidates := make([]string, 0)
	now := r.now()
	for key, rec := range r.records {
		if now.Sub(rec.LastActive) > ttl {
			candidates = append(candidates, key)
		}
	}
	r.mu.RUnlock()

	reaped := 0
	for _, key := range candidates {
		r.mu.Lock()
		// the session may have been touched since the snapshot
		if rec, ok := r.records[key]; ok && r.now().Sub(rec.LastActive) > ttl {
			delete(r.records, key)
			delete(r.bindings, key)
			reaped++
		}
		r.mu.Unlock()
	}
	return reaped
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

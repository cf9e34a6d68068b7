package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// Store is a small key-value store with per-key expiry.
type Store interface {
	// Set stores value under key. A ttl of zero means the key never expires.
	Set(key string, value []byte, ttl time.Duration) error

	// Get returns the value for key or ErrNotFound.
	Get(key string) ([]byte, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error

	// Exists reports whether the key is present.
	Exists(key string) (bool, error)

	// Close releases the underlying resources.
	Close() error
}

package store

import (
	"github.com/sirupsen/logrus"
)

// NewStore returns a RedisStore when dsn is set, otherwise a MemoryStore.
func NewStore(dsn string) (Store, error) {
	if dsn == "" {
		logrus.Info("REDIS_DSN not set, using in-memory token store")
		return NewMemoryStore(), nil
	}

	s, err := NewRedisStore(dsn)
	if err != nil {
		return nil, err
	}
	logrus.Info("Connected to Redis token store")
	return s, nil
}

package signature

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"doubao-api/internal/models"
	"doubao-api/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const msTokenKeyPrefix = "mstoken:"

// TokenSource hands out the msToken for an account, caching generated tokens in the store.
type TokenSource struct {
	store  store.Store
	logger *logrus.Entry
}

// NewTokenSource creates a TokenSource over s.
func NewTokenSource(s store.Store) *TokenSource {
	return &TokenSource{
		store:  s,
		logger: logrus.WithField("component", "token_source"),
	}
}

// MsToken returns the configured token of the account, or the cached one, or a new one.
func (t *TokenSource) MsToken(ctx context.Context, acc *models.Account) (string, error) {
	if tok := strings.TrimSpace(acc.MsToken); tok != "" {
		return tok, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := msTokenKeyPrefix + acc.Key()
	cached, err := t.store.Get(key)
	if err == nil && len(cached) > 0 {
		return string(cached), nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("read cached msToken: %w", err)
	}

	tok := GenerateMsToken()
	if err := t.store.Set(key, []byte(tok), 0); err != nil {
		return "", fmt.Errorf("cache msToken: %w", err)
	}
	t.logger.WithField("account", acc.Key()).Info("Generated msToken for account")
	return tok, nil
}

// Probe checks that a token can be obtained for the account.
func (t *TokenSource) Probe(ctx context.Context, acc *models.Account) error {
	tok, err := t.MsToken(ctx, acc)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("empty msToken")
	}
	return nil
}

// GenerateMsToken returns "s-" followed by 30 hex characters.
func GenerateMsToken() string {
	return "s-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:30]
}

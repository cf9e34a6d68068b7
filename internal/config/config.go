// Package config loads the service configuration from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"doubao-api/internal/models"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds every runtime setting of the service.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Pool      PoolConfig
	Signature SignatureConfig
	Log       LogConfig

	APIKey      string
	RedisDSN    string
	DatabaseDSN string
	Accounts    []models.Account
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host               string
	Port               int
	ChatStreamTimeout  time.Duration
	ImageStreamTimeout time.Duration
	GracefulShutdown   time.Duration
}

// UpstreamConfig holds the upstream endpoint settings.
type UpstreamConfig struct {
	BaseURL        string
	DefaultModel   string
	ImageModel     string
	RequestTimeout time.Duration
	UserAgent      string
	FallbackReply  string
}

// PoolConfig holds account pool and session settings.
type PoolConfig struct {
	SessionTTL       time.Duration
	ReapInterval     time.Duration
	Cooldown         time.Duration
	RecoveryInterval time.Duration
}

// SignatureConfig holds the URL signer settings.
type SignatureConfig struct {
	ServiceURL string
	ABogus     string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Defaults
const (
	DefaultAPIKey        = "sk-doubao-default-key"
	DefaultBaseURL       = "https://www.doubao.com"
	DefaultModel         = "doubao-pro-chat"
	DefaultImageModel    = "Seedream 4.0"
	DefaultABogus        = "s-7d10B3a4C5e6F7g8"
	DefaultFallbackReply = "您好！我是豆包AI助手，很高兴为您服务。"
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"
)

// NewConfig loads .env (if present) and builds the configuration from the environment.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file, using environment only")
	}
	return Load(os.Getenv)
}

// Load builds the configuration from a lookup function.
func Load(getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}

	cfg := &Config{
		Server: ServerConfig{
			Host:               env.str("HOST", "0.0.0.0"),
			Port:               env.int("PORT", 3001),
			ChatStreamTimeout:  env.seconds("CHAT_STREAM_TIMEOUT", 180),
			ImageStreamTimeout: env.seconds("IMAGE_STREAM_TIMEOUT", 300),
			GracefulShutdown:   env.seconds("GRACEFUL_SHUTDOWN_TIMEOUT", 10),
		},
		Upstream: UpstreamConfig{
			BaseURL:        strings.TrimSuffix(env.str("DOUBAO_BASE_URL", DefaultBaseURL), "/"),
			DefaultModel:   env.str("DOUBAO_DEFAULT_MODEL", DefaultModel),
			ImageModel:     env.str("DOUBAO_IMAGE_MODEL", DefaultImageModel),
			RequestTimeout: env.seconds("REQUEST_TIMEOUT", 180),
			UserAgent:      env.str("DOUBAO_USER_AGENT", DefaultUserAgent),
			FallbackReply:  env.str("FALLBACK_REPLY", DefaultFallbackReply),
		},
		Pool: PoolConfig{
			SessionTTL:       env.seconds("SESSION_TTL", 3600),
			ReapInterval:     env.seconds("SESSION_REAP_INTERVAL", 3600),
			Cooldown:         env.seconds("ACCOUNT_COOLDOWN", 1800),
			RecoveryInterval: env.seconds("ACCOUNT_RECOVERY_INTERVAL", 300),
		},
		Signature: SignatureConfig{
			ServiceURL: env.str("SIGNATURE_SERVICE_URL", ""),
			ABogus:     env.str("SIGNATURE_A_BOGUS", DefaultABogus),
		},
		Log: LogConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", "text"),
		},
		APIKey:      env.str("API_KEY", DefaultAPIKey),
		RedisDSN:    env.str("REDIS_DSN", ""),
		DatabaseDSN: env.str("DATABASE_DSN", ""),
	}
	if env.err != nil {
		return nil, env.err
	}

	accounts, err := loadAccounts(getenv("DOUBAO_ACCOUNTS"), getenv("DOUBAO_ACCOUNTS_FILE"))
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("no doubao accounts configured (DOUBAO_ACCOUNTS or DOUBAO_ACCOUNTS_FILE)"))
	}
	for i, acc := range c.Accounts {
		if strings.TrimSpace(acc.Cookie) == "" {
			errs = append(errs, fmt.Errorf("account %d has an empty cookie", i))
		}
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("API_KEY must not be empty"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Server.Port))
	}
	durations := map[string]time.Duration{
		"CHAT_STREAM_TIMEOUT":       c.Server.ChatStreamTimeout,
		"IMAGE_STREAM_TIMEOUT":      c.Server.ImageStreamTimeout,
		"REQUEST_TIMEOUT":           c.Upstream.RequestTimeout,
		"SESSION_TTL":               c.Pool.SessionTTL,
		"SESSION_REAP_INTERVAL":     c.Pool.ReapInterval,
		"ACCOUNT_COOLDOWN":          c.Pool.Cooldown,
		"ACCOUNT_RECOVERY_INTERVAL": c.Pool.RecoveryInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func loadAccounts(inline, path string) ([]models.Account, error) {
	raw := strings.TrimSpace(inline)
	if raw == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read accounts file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return nil, nil
	}

	var accounts []models.Account
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	return accounts, nil
}

// envReader reads typed values and remembers the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) int(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
		return def
	}
	return n
}

func (r *envReader) seconds(key string, def int) time.Duration {
	return time.Duration(r.int(key, def)) * time.Second
}

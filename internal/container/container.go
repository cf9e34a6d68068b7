// Package container wires the application with dig.
package container

import (
	"net/http"

	"doubao-api/internal/accountpool"
	"doubao-api/internal/config"
	"doubao-api/internal/db"
	"doubao-api/internal/doubao"
	"doubao-api/internal/i18n"
	"doubao-api/internal/metrics"
	"doubao-api/internal/proxy"
	"doubao-api/internal/router"
	"doubao-api/internal/scheduler"
	"doubao-api/internal/services"
	"doubao-api/internal/session"
	"doubao-api/internal/signature"
	"doubao-api/internal/store"
	"doubao-api/internal/transformer"

	"go.uber.org/dig"
	"gorm.io/gorm"
)

// App is the assembled application.
type App struct {
	dig.In

	Config     *config.Config
	Store      store.Store
	RequestLog *services.RequestLogService
	Scheduler  *scheduler.Scheduler
	Server     *proxy.Server
}

// BuildContainer registers every constructor. cfg is provided as is.
func BuildContainer(cfg *config.Config) (*dig.Container, error) {
	c := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		func(cfg *config.Config) (store.Store, error) { return store.NewStore(cfg.RedisDSN) },
		func(cfg *config.Config) signature.Signer {
			return signature.NewSigner(cfg.Signature.ServiceURL, cfg.Signature.ABogus)
		},
		signature.NewTokenSource,
		session.NewRegistry,
		func(cfg *config.Config, sessions *session.Registry, tokens *signature.TokenSource) *accountpool.Registry {
			return accountpool.NewRegistry(cfg.Accounts, sessions, tokens, cfg.Pool.Cooldown)
		},
		func(cfg *config.Config) *doubao.Client {
			return doubao.NewClient(cfg.Upstream.UserAgent, cfg.Upstream.RequestTimeout)
		},
		transformer.NewTranslator,
		func(cfg *config.Config) (*gorm.DB, error) { return db.NewDB(cfg.DatabaseDSN) },
		func(database *gorm.DB) *services.RequestLogService {
			return services.NewRequestLogService(database, services.DefaultWorkerPoolConfig())
		},
		func(pool *accountpool.Registry, sessions *session.Registry, requestLog *services.RequestLogService) *metrics.Metrics {
			m := metrics.New(pool, sessions)
			if requestLog != nil {
				m.WatchRequestLog(requestLog)
			}
			return m
		},
		newRouter,
		i18n.New,
		func(cfg *config.Config, r *router.Router, tr *i18n.Translator, m *metrics.Metrics) *proxy.Server {
			return proxy.NewServer(r, proxy.Config{
				APIKey:             cfg.APIKey,
				DefaultModel:       cfg.Upstream.DefaultModel,
				ImageModel:         cfg.Upstream.ImageModel,
				ChatStreamTimeout:  cfg.Server.ChatStreamTimeout,
				ImageStreamTimeout: cfg.Server.ImageStreamTimeout,
			}, tr, metricsHandler(m))
		},
		func(cfg *config.Config, sessions *session.Registry, pool *accountpool.Registry) *scheduler.Scheduler {
			return scheduler.New(sessions, pool, scheduler.Config{
				SessionTTL:       cfg.Pool.SessionTTL,
				ReapInterval:     cfg.Pool.ReapInterval,
				RecoveryInterval: cfg.Pool.RecoveryInterval,
			})
		},
	}

	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type routerParams struct {
	dig.In

	Config     *config.Config
	Pool       *accountpool.Registry
	Sessions   *session.Registry
	Signer     signature.Signer
	Tokens     *signature.TokenSource
	Client     *doubao.Client
	Translator *transformer.Translator
	RequestLog *services.RequestLogService
	Metrics    *metrics.Metrics
}

func newRouter(p routerParams) *router.Router {
	opts := []router.Option{router.WithObserver(p.Metrics)}
	if p.RequestLog != nil {
		opts = append(opts, router.WithRecorder(p.RequestLog))
	}
	return router.NewRouter(p.Pool, p.Sessions, p.Signer, p.Tokens, p.Client, p.Translator, router.Settings{
		BaseURL:       p.Config.Upstream.BaseURL,
		DefaultModel:  p.Config.Upstream.DefaultModel,
		ImageModel:    p.Config.Upstream.ImageModel,
		FallbackReply: p.Config.Upstream.FallbackReply,
	}, opts...)
}

func metricsHandler(m *metrics.Metrics) http.Handler {
	if m == nil {
		return nil
	}
	return m.Handler()
}

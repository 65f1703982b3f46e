// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillhq/pagemd/internal/api"
	"github.com/quillhq/pagemd/internal/browser"
	"github.com/quillhq/pagemd/internal/cache"
	"github.com/quillhq/pagemd/internal/config"
	"github.com/quillhq/pagemd/internal/extract"
	"github.com/quillhq/pagemd/internal/inference"
	"github.com/quillhq/pagemd/internal/logging"
	"github.com/quillhq/pagemd/internal/pipeline"
	"github.com/quillhq/pagemd/internal/quota"
	"github.com/quillhq/pagemd/internal/social"
)

// App holds the shared, long-lived services for the service. It is built once
// at startup and torn down by Close.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Store    cache.Store
	Sessions *browser.Manager
	Server   *api.Server
}

// New wires every service from configuration, failing fast when a critical
// dependency cannot be initialized.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	limiter := quota.New(quota.Config{
		RequestsPerMinute: cfg.Quota.RequestsPerMinute,
		Burst:             cfg.Quota.Burst,
	})

	sessions := browser.NewManager(browser.Config{
		UserAgent:       cfg.Browser.UserAgent,
		LaunchRetries:   cfg.Browser.LaunchRetries,
		LaunchRetryWait: time.Duration(cfg.Browser.LaunchRetryWaitMs) * time.Millisecond,
		IdleTick:        time.Duration(cfg.Browser.IdleTickSec) * time.Second,
		IdleMax:         time.Duration(cfg.Browser.IdleMaxSec) * time.Second,
	}, logger.Named("browser"))

	extractor := extract.New(sessions, extract.Config{
		NavTimeout: cfg.NavTimeout(),
		UserAgent:  cfg.Browser.UserAgent,
	}, logger.Named("extract"))

	posts := social.NewFetcher(social.Config{
		BaseURL: cfg.Social.SyndicationURL,
	}, logger.Named("social"))

	var cleaner pipeline.Cleaner
	if cfg.Inference.Enabled {
		filter, err := inference.NewFilter(cfg.Inference.APIKey, logger.Named("inference"),
			inference.WithBaseURL(cfg.Inference.BaseURL),
			inference.WithModel(cfg.Inference.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("init inference filter: %w", err)
		}
		cleaner = filter
	}

	coordinator := pipeline.New(sessions, extractor, posts, cleaner, store, limiter,
		pipeline.Config{
			CacheTTL:        cfg.CacheTTL(),
			MaxSubpages:     cfg.Crawler.MaxSubpages,
			LLMChargeChecks: cfg.Quota.LLMChargeChecks,
			NavTimeout:      cfg.NavTimeout(),
		}, logger.Named("pipeline"))

	server := api.NewServer(coordinator, cfg, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("cache_provider", cfg.Cache.Provider),
		zap.Bool("inference_enabled", cfg.Inference.Enabled),
	)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Sessions: sessions,
		Server:   server,
	}, nil
}

func newStore(cfg config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Cache.Provider {
	case "sqlite":
		logger.Info("using sqlite cache", zap.String("path", cfg.Cache.SQLitePath))
		store, err := cache.NewSQLiteStore(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite cache: %w", err)
		}
		return store, nil
	case "memory":
		logger.Info("using in-memory cache")
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache provider: %s", cfg.Cache.Provider)
	}
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.Sessions.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("error closing cache store", zap.Error(err))
	}
	if err := a.Logger.Sync(); err != nil {
		// Best effort; stderr sync failures are expected on some platforms.
		_ = err
	}
}

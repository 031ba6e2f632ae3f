package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/service/graph"
	"github.com/ifuryst/lolify/internal/service/media"
)

// App holds the wired components shared by the HTTP server and the CLI.
type App struct {
	DB           *gorm.DB
	Store        *PostStore
	Hasher       *media.Hasher
	Publisher    *graph.Publisher
	Quota        QuotaReader
	Guard        InflightGuard
	Worker       *PublishWorker
	Dispatcher   *Dispatcher
	QuotaMonitor *QuotaMonitor

	closers []func() error
}

func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app := &App{DB: db, Store: NewPostStore(db, logger)}
	app.closers = append(app.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	guard, err := newGuard(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Guard = guard
	if rg, ok := guard.(*RedisGuard); ok {
		app.closers = append(app.closers, rg.Close)
	}

	timeout := config.Duration(cfg.Graph.Timeout, 30*time.Second)
	clientOpts := []graph.Option{
		graph.WithUserAgent(cfg.Graph.UserAgent),
		graph.WithTimeout(timeout),
		graph.WithLogger(logger),
	}
	pageClient := graph.NewClient(cfg.Graph.PageBaseURL, cfg.Graph.AccessToken, clientOpts...)
	accountClient := graph.NewClient(cfg.Graph.AccountBaseURL, cfg.Graph.AccessToken, clientOpts...)
	app.closers = append(app.closers,
		func() error { pageClient.Close(); return nil },
		func() error { accountClient.Close(); return nil },
	)

	var accounts graph.AccountSource = graph.NewAccountResolver(pageClient, logger)
	if cfg.Graph.InstagramAccountID != "" {
		accounts = graph.StaticAccount(cfg.Graph.InstagramAccountID)
	}

	app.Publisher = graph.NewPublisher(accountClient, accounts, cfg.Graph.PageID, PollPolicy(&cfg.Publisher), logger)
	app.Quota = app.Publisher
	app.Hasher = media.NewHasher(media.Options{
		TempDir:  cfg.Media.TempDir,
		MaxBytes: cfg.Media.MaxDownloadBytes,
		Timeout:  config.Duration(cfg.Media.DownloadTimeout, 5*time.Minute),
	}, logger)

	app.Worker = NewPublishWorker(&cfg.Publisher, app.Publisher, app.Store, app.Guard, logger)
	app.Dispatcher = NewDispatcher(cfg.Meta.VerifyToken, app.Hasher, app.Store, app.Guard, app.Worker, logger)
	app.QuotaMonitor = NewQuotaMonitor(app.Quota, logger, config.Duration(cfg.Publisher.QuotaCheckInterval, 0))

	return app, nil
}

// PollPolicy builds the container poll bounds from configuration.
func PollPolicy(cfg *config.PublisherConfig) graph.PollPolicy {
	def := graph.DefaultPollPolicy()
	policy := graph.PollPolicy{
		InitialInterval: config.Duration(cfg.PollInitial, def.InitialInterval),
		MaxInterval:     config.Duration(cfg.PollMax, def.MaxInterval),
		Multiplier:      cfg.PollMultiplier,
		Jitter:          def.Jitter,
		MaxAttempts:     cfg.PollMaxAttempts,
		Timeout:         config.Duration(cfg.PollTimeout, def.Timeout),
	}
	if cfg.PollJitter != nil {
		policy.Jitter = *cfg.PollJitter
	}
	if policy.Multiplier == 0 {
		policy.Multiplier = def.Multiplier
	}
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	return policy
}

func newGuard(cfg *config.Config) (InflightGuard, error) {
	if cfg.Inflight.Driver != "redis" {
		return NewMemoryGuard(), nil
	}
	ttl := GuardTTL(
		config.Duration(cfg.Inflight.TTL, 15*time.Minute),
		cfg.Publisher.QueueSize,
		PollPolicy(&cfg.Publisher).Timeout,
	)
	guard, err := NewRedisGuard(cfg.Inflight.RedisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inflight guard: %w", err)
	}
	return guard, nil
}

// Start launches the background workers.
func (a *App) Start(ctx context.Context) error {
	if rg, ok := a.Guard.(*RedisGuard); ok {
		if err := rg.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}
	a.Worker.Start(ctx)
	a.QuotaMonitor.Start(ctx)
	return nil
}

// Stop halts the background workers. Close must still be called.
func (a *App) Stop() {
	if a.QuotaMonitor != nil {
		a.QuotaMonitor.Stop()
	}
	if a.Worker != nil {
		a.Worker.Stop()
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

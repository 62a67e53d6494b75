// Package app wires the configured adapters into a LifecycleService. It is
// shared by the server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/blackmichael/listing-lifecycle/internal/cache"
	"github.com/blackmichael/listing-lifecycle/internal/config"
	"github.com/blackmichael/listing-lifecycle/internal/domain"
	"github.com/blackmichael/listing-lifecycle/internal/memstore"
	"github.com/blackmichael/listing-lifecycle/internal/notify"
	"github.com/blackmichael/listing-lifecycle/internal/sqlstore"
)

// Store is everything the service needs from persistence.
type Store interface {
	domain.ListingRepository
	domain.RunRepository
	domain.CursorRepository
}

// App holds the wired service and the resources it owns.
type App struct {
	Service *domain.LifecycleService
	Store   Store
	// SQL is nil for the memory driver.
	SQL *sqlstore.Store

	closers []io.Closer
}

// Build opens the store, dispatcher and cache selected by cfg and creates the
// lifecycle service. Call Close to release them.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policy, err := cfg.Policy()
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	if err := a.openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}

	dispatcher, err := a.openDispatcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	var statsCache domain.StatsCache
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client)
		statsCache = cache.NewRedisStatsCache(client, cfg.StatsCacheTTL)
		logger.Info("stats cache enabled", "ttl", cfg.StatsCacheTTL)
	}

	a.Service, err = domain.NewLifecycleService(domain.ServiceDeps{
		Policy:     policy,
		Listings:   a.Store,
		Runs:       a.Store,
		Cursors:    a.Store,
		Cache:      statsCache,
		Dispatcher: dispatcher,
		BatchLimit: cfg.BatchLimit,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create lifecycle service: %w", err)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DatabaseDriver == config.DatabaseMemory {
		a.Store = memstore.New()
		logger.Warn("using in-memory store; state is lost on exit")
		return nil
	}

	store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, store)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	a.Store = store
	a.SQL = store
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)
	return nil
}

func (a *App) openDispatcher(cfg *config.Config, logger *slog.Logger) (domain.NotificationDispatcher, error) {
	switch cfg.NotifyDriver {
	case config.NotifyWebhook:
		return notify.NewWebhookDispatcher(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken)
	case config.NotifyKafka:
		d, err := notify.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, d)
		return d, nil
	default:
		return notify.NewLogDispatcher(logger), nil
	}
}

// Close releases every resource opened by Build, most recent first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/listing-lifecycle/internal/app"
	"github.com/blackmichael/listing-lifecycle/internal/config"
	"github.com/blackmichael/listing-lifecycle/internal/httpserver"
	"github.com/blackmichael/listing-lifecycle/internal/listingfeed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.CronSecret == "" {
		logger.Warn("EXPIRATION_CRON_SECRET is not set; the trigger endpoint will refuse requests")
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Mirror publish and sold events from the authoring service
	if cfg.ListingFeedURL != "" {
		subscriber := listingfeed.NewSubscriber(cfg.ListingFeedURL, a.Service, logger)
		go func() {
			if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("listing subscriber exited with error", "error", err)
			}
		}()
	}

	// The external scheduler is the primary trigger; the timer is optional
	if cfg.RunInterval > 0 {
		go a.Service.StartSchedule(ctx, cfg.RunInterval)
		logger.Info("in-process expiration timer enabled", "interval", cfg.RunInterval)
	}

	server := httpserver.NewServer(cfg, a.Service, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "env", cfg.Env, "database", cfg.DatabaseDriver, "notify", cfg.NotifyDriver)

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

// Package main runs the PunchOut gateway daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirosfoundation/go-punchout/internal/auditlog"
	"github.com/sirosfoundation/go-punchout/internal/config"
	"github.com/sirosfoundation/go-punchout/internal/export"
	"github.com/sirosfoundation/go-punchout/internal/janitor"
	"github.com/sirosfoundation/go-punchout/internal/metrics"
	"github.com/sirosfoundation/go-punchout/internal/punchout"
	"github.com/sirosfoundation/go-punchout/internal/registry"
	"github.com/sirosfoundation/go-punchout/internal/secrets"
	"github.com/sirosfoundation/go-punchout/internal/server"
	"github.com/sirosfoundation/go-punchout/internal/session"
	"github.com/sirosfoundation/go-punchout/internal/storage/mongodb"
	"github.com/sirosfoundation/go-punchout/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := mongodb.NewStore(ctx, &mongodb.Config{
		URI:      cfg.Storage.MongoDB.URI,
		Database: cfg.Storage.MongoDB.Database,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("connecting storage: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	secretStore, err := secrets.NewStore(&cfg.Secrets)
	if err != nil {
		return fmt.Errorf("initializing secret store: %w", err)
	}

	m := metrics.New()
	reg := registry.New(store, secretStore, logger)
	sessions := session.NewManager(store, &session.Config{
		TTL:    cfg.PunchOut.SessionTTL,
		Logger: logger,
	})
	client := transport.NewClient(&transport.Config{
		Timeout: cfg.PunchOut.DeliveryTimeout,
	})
	audit := auditlog.New(store, logger)

	engine := punchout.NewEngine(store, reg, sessions, client, audit, m, punchout.Options{
		BaseURL:         cfg.Server.BaseURL,
		DeliveryTimeout: cfg.PunchOut.DeliveryTimeout,
		Logger:          logger,
	})

	jan := janitor.New(store, sessions, export.New(store), m, &janitor.Config{
		LogRetention: time.Duration(cfg.Retention.LogDays) * 24 * time.Hour,
		Logger:       logger,
	})
	if err := jan.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer jan.Stop()

	srv := server.New(cfg, store, engine, m, logger)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

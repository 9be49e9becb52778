package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codepulse/internal/adapters/config"
	"codepulse/internal/adapters/errors/noop"
	"codepulse/internal/adapters/errors/sentry"
	"codepulse/internal/bootstrap"
	"codepulse/pkg/errors"
	"codepulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	log := logger.Get()
	log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	errorTracker := initErrorTracker(cfg, log)
	logger.SetErrorTracker(errorTracker)

	container, err := bootstrap.Build(cfg, errorTracker)
	if err != nil {
		log.Fatalf("Failed to build container: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.HealthCheck(ctx); err != nil {
		log.Warnf("Startup health check: %v", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- container.Start(ctx)
	}()

	log.Info("System initialized successfully")

	// Wait for shutdown signal or server failure
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Infof("Received signal %s, shutting down", s)
	case err := <-serverErr:
		if err != nil {
			log.Errorw("HTTP server failed", "error", err)
		}
	}

	bootstrap.NewLifecycle().Shutdown(container, cancel)
}

// initErrorTracker initializes error tracking (Sentry or no-op)
func initErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return noop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return noop.New()
	}

	log.Info("Error tracking initialized (Sentry)")
	return tracker
}

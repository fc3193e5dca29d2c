package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chanrelay/internal/config"
	"chanrelay/internal/constants"
	"chanrelay/internal/database"
	"chanrelay/internal/retry"
	"chanrelay/internal/service"
	"chanrelay/internal/tracing"
	"chanrelay/pkg/media"
	"chanrelay/pkg/telegram"
	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chanrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chanrelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Initialize database with exponential backoff retry
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	if err := db.CleanupOldUsers(ctx, cfg.RetentionDays); err != nil {
		logger.Warnf("Failed to clean up inactive users: %v", err)
	}

	stager, err := media.NewStager(cfg.Media.StagingDir, cfg.Media.MaxSizeMB)
	if err != nil {
		return fmt.Errorf("failed to initialize media stager: %w", err)
	}
	if err := stager.CleanupOldFiles(24 * time.Hour); err != nil {
		logger.Warnf("Failed to reclaim stale staging files: %v", err)
	}

	factory := telegram.NewFactory(telegram.ClientConfig{
		BaseURL:   cfg.Gateway.BaseURL,
		EventsURL: cfg.Gateway.EventsURL,
		APIKey:    cfg.Gateway.APIKey,
		Timeout:   time.Duration(cfg.Gateway.HTTPTimeoutSec) * time.Second,
	}, logger)

	filter := service.NewIngestFilter(db, logger)

	// The session manager is the executor's client provider, so wire the
	// supervisor and pump first and close the loop afterwards.
	var sessions *service.SessionManager
	executor := service.NewTransferExecutor(service.ClientProviderFunc(func(userID int64) (types.Client, error) {
		return sessions.ClientFor(userID)
	}), db, stager, logger)
	supervisor := service.NewQueueSupervisor(executor, logger)
	pump := service.NewEventPump(filter, supervisor, logger)
	sessions = service.NewSessionManager(db, factory, supervisor, pump, logger)

	admin := service.NewAdminService(db, sessions, supervisor, filter, logger, cfg.OwnerID)

	if err := sessions.RestoreSessions(ctx); err != nil {
		logger.Warnf("Session restore incomplete: %v", err)
	}

	server := NewServer(cfg, admin, sessions, logger)
	serverErrCh := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	pump.StopAll()
	supervisor.ShutdownAll(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spellyaohui/NicePT-Helper/internal/api"
	"github.com/spellyaohui/NicePT-Helper/internal/config"
	"github.com/spellyaohui/NicePT-Helper/internal/controllers"
	"github.com/spellyaohui/NicePT-Helper/internal/models"
	"github.com/spellyaohui/NicePT-Helper/internal/scheduler"
	"github.com/spellyaohui/NicePT-Helper/internal/services/login"
	"github.com/spellyaohui/NicePT-Helper/internal/utils"
	"go.opentelemetry.io/otel"
)

const loginSessionTTL = 10 * time.Minute

func serve(parent context.Context) error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger and tracing
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithField("version", Version).Info("Starting NicePT Helper")
	logger.WithField("config_dir", cfg.ConfigDir).Info("Configuration loaded")

	if cfg.TracingEnabled {
		tp := utils.NewTracerProvider("nicept-helper", logger)
		otel.SetTracerProvider(tp)
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to flush spans")
			}
		}()
		logger.Info("Tracing enabled")
	}

	// 3. Initialize database
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.WithField("path", cfg.DatabaseFile).Info("Database initialized")

	// 4. Initialize controllers
	clients := controllers.NewClientFactory(cfg, logger)
	locker := utils.NewKeyedLocker()

	rules := controllers.NewRuleEngine(db, clients, locker, logger)
	accounts := controllers.NewAccountService(db, clients, locker, logger)
	status := controllers.NewStatusSyncer(db, clients, locker, logger)
	autoDelete := controllers.NewAutoDeleteEngine(db, clients, locker, logger)
	hr := controllers.NewHRTracker(db, clients, locker, logger)
	stats := controllers.NewStatsCollector(db, clients, cfg.TrendRetention, logger)
	downloaders := controllers.NewDownloaderService(db, clients, logger)
	logger.Info("Controllers initialized")

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// 5. Initialize scheduler
	jobs := scheduler.NewJobs(rules, accounts, status, autoDelete, hr, stats)
	sched := scheduler.NewScheduler(db, jobs, autoDelete, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 6. Initialize HTTP server
	server := api.NewServer(cfg, api.Services{
		DB:          db,
		Accounts:    accounts,
		Downloaders: downloaders,
		HR:          hr,
		Stats:       stats,
		Scheduler:   sched,
		Login:       login.NewManager(cfg.UserAgent, cfg.RequestTimeout, loginSessionTTL, logger),
	}, logger)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 7. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("NicePT Helper is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("NicePT Helper stopped")
	return nil
}

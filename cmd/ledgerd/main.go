package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ledgerd/internal/amqp"
	"ledgerd/internal/budget"
	"ledgerd/internal/config"
	"ledgerd/internal/ledger"
	"ledgerd/internal/log"
	"ledgerd/internal/services"
	"ledgerd/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: "ledgerd",
	})
	log.SetDefault(logger)

	logger.Info("Starting ledgerd")

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Notification delivery is optional: without a broker the ledger still
	// runs, it just stops telling anyone about budget events.
	var notifier services.Notifier
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without notifications", "error", err)
		} else {
			defer amqpClient.Close()
			notifier = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled - notifications will not be delivered")
	}

	walletLedger := ledger.New(repo, cfg.LockWaitTimeout)
	evaluator := budget.NewEvaluator(repo)

	txService := services.NewTransactionService(repo, walletLedger, evaluator, notifier)
	engine := services.NewScheduleEngine(repo, txService, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Schedule engine configured",
		"interval", cfg.SchedulerInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()

	// Catch up on anything that came due while the service was down.
	logger.Info("Running initial schedule tick...")
	completed, failed, skipped := engine.Tick(ctx, time.Now())
	logger.Info("Initial tick complete",
		"completed", completed,
		"failed", failed,
		"skipped", skipped)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				completed, failed, skipped := engine.Tick(ctx, now)
				if completed+failed+skipped > 0 {
					logger.Info("Schedule tick complete",
						"completed", completed,
						"failed", failed,
						"skipped", skipped,
						"next_check", now.Add(cfg.SchedulerInterval).Format("15:04:05"))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Shutting down ledgerd...")
	cancel()

	// Give an in-flight tick a moment to finish its current schedule.
	time.Sleep(2 * time.Second)
	logger.Info("Ledgerd shutdown complete")
}

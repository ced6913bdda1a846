package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vinetrace/vine-ledger/internal/adapter"
	"github.com/vinetrace/vine-ledger/internal/config"
	"github.com/vinetrace/vine-ledger/internal/ledger"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Sweeper")

	// Connect to database. The sweeper only reads, so point it at the replica
	// when one is configured.
	readDSN := ""
	if cfg.Database.ReadHost != "" {
		readDSN = cfg.Database.ReadDSN()
	}
	db, err := store.OpenDB(cfg.Database.DSN(), readDSN)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store, verifier, and clock
	dataStore := store.NewPGStore(db)
	verifier := ledger.NewVerifier(dataStore)
	clock := adapter.NewClock()

	// Initialize chain integrity sweeper
	integritySweeperConfig := &sweeper.ChainIntegritySweeperConfig{
		BatchSize:      cfg.IntegritySweeper.BatchSize,
		WorkerPoolSize: cfg.IntegritySweeper.Worker.WorkerPoolSize,
	}
	integritySweeper := sweeper.NewChainIntegritySweeper(integritySweeperConfig, dataStore, verifier, clock)

	logger.InfoCtx(ctx, "Initialized chain integrity sweeper",
		zap.Int("batch_size", cfg.IntegritySweeper.BatchSize),
		zap.Int("worker_pool_size", cfg.IntegritySweeper.Worker.WorkerPoolSize),
	)

	// Start the sweeper in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := integritySweeper.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.ErrorCtx(ctx, err)
	}

	// Cancel context to stop the sweeper
	cancel()

	// Give the sweeper time to shut down gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	if err := integritySweeper.Stop(shutdownCtx); err != nil {
		logger.ErrorCtx(shutdownCtx, err)
	}

	logger.InfoCtx(shutdownCtx, "Sweeper stopped")
}

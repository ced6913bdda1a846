package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/vinetrace/vine-ledger/internal/adapter"
	"github.com/vinetrace/vine-ledger/internal/ledger"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/store"
)

const (
	SWEEP_CYCLE_INTERVAL = 30 * time.Minute // Time to sleep between sweep cycles
)

// ChainIntegritySweeperConfig holds configuration for the chain integrity sweeper
type ChainIntegritySweeperConfig struct {
	BatchSize      int // Chains to fetch per page
	WorkerPoolSize int // Concurrent verification workers
}

// chainIntegritySweeper continuously re-verifies every active chain. A chain
// that fails verification is logged and reported, never modified; the log
// itself is append-only and repairs happen out of band.
type chainIntegritySweeper struct {
	config    *ChainIntegritySweeperConfig
	store     store.Store
	verifier  ledger.Verifier
	pool      pond.Pool
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewChainIntegritySweeper creates a new chain integrity sweeper
func NewChainIntegritySweeper(
	config *ChainIntegritySweeperConfig,
	st store.Store,
	verifier ledger.Verifier,
	clock adapter.Clock,
) Sweeper {
	return &chainIntegritySweeper{
		config:    config,
		store:     st,
		verifier:  verifier,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the sweeper's name
func (s *chainIntegritySweeper) Name() string {
	return "chain-integrity-sweeper"
}

// Start begins the sweeper's main loop
func (s *chainIntegritySweeper) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sweeper already running")
	}
	defer func() {
		s.running.Store(false)
		close(s.stoppedCh) // Signal that we've stopped
	}()

	logger.InfoCtx(ctx, "Starting chain integrity sweeper",
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("worker_pool_size", s.config.WorkerPoolSize),
	)

	s.pool = pond.NewPool(
		s.config.WorkerPoolSize,
		pond.WithQueueSize(s.config.BatchSize),
		pond.WithContext(ctx),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Chain integrity sweeper stopping due to context cancellation", zap.Error(ctx.Err()))
			s.cleanup()
			return nil
		case <-s.stopChan:
			logger.InfoCtx(ctx, "Chain integrity sweeper stop requested")
			s.cleanup()
			return nil
		default:
			if err := s.runSweepCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err)
				}
			}
		}
	}
}

// cleanup stops the worker pool and waits for tasks to complete
func (s *chainIntegritySweeper) cleanup() {
	if s.pool != nil {
		s.pool.StopAndWait()
	}
}

// Stop gracefully stops the sweeper with timeout support
func (s *chainIntegritySweeper) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "Stopping chain integrity sweeper")

	close(s.stopChan)

	select {
	case <-s.stoppedCh:
		logger.InfoCtx(ctx, "Chain integrity sweeper stopped gracefully")
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Chain integrity sweeper stop interrupted by context timeout")
		return ctx.Err()
	}
}

// runSweepCycle verifies every active chain once, paging through the store
func (s *chainIntegritySweeper) runSweepCycle(ctx context.Context) error {
	startTime := s.clock.Now()
	// ULID gives each sweep run a unique, time-sortable ID for log correlation
	runID := ulid.MustNewDefault(startTime).String()

	logger.InfoCtx(ctx, "Starting integrity sweep cycle", zap.String("run_id", runID))

	var totalChains, validCount, brokenCount, errorCount atomic.Int32

	offset := 0
	for {
		chains, err := s.store.ListActiveChains(ctx, offset, s.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list active chains: %w", err)
		}
		if len(chains) == 0 {
			break
		}
		offset += len(chains)

		for _, chain := range chains {
			totalChains.Add(1)
			s.pool.Submit(func() {
				s.verifyChain(ctx, runID, chain.ID, &validCount, &brokenCount, &errorCount)
			})
		}
	}

	// Wait for all verifications to complete, then recreate the pool for the
	// next cycle
	s.pool.StopAndWait()
	s.pool = pond.NewPool(
		s.config.WorkerPoolSize,
		pond.WithQueueSize(s.config.BatchSize),
		pond.WithContext(ctx),
	)

	duration := s.clock.Since(startTime)
	logger.InfoCtx(ctx, "Integrity sweep cycle completed",
		zap.String("run_id", runID),
		zap.Duration("duration", duration),
		zap.Int32("total_chains", totalChains.Load()),
		zap.Int32("valid", validCount.Load()),
		zap.Int32("broken", brokenCount.Load()),
		zap.Int32("errors", errorCount.Load()),
	)

	if !s.sleep(ctx, SWEEP_CYCLE_INTERVAL) {
		return ctx.Err() // Context canceled during sleep
	}

	return nil
}

// verifyChain verifies a single chain and updates the cycle counters
func (s *chainIntegritySweeper) verifyChain(ctx context.Context, runID, chainID string, validCount, brokenCount, errorCount *atomic.Int32) {
	result, err := s.verifier.VerifyChainIntegrity(ctx, chainID)
	if err != nil {
		errorCount.Add(1)
		logger.ErrorCtx(ctx, err,
			zap.String("run_id", runID),
			zap.String("chain_id", chainID),
		)
		return
	}

	if result.Valid {
		validCount.Add(1)
		return
	}

	brokenCount.Add(1)
	logger.ErrorCtx(ctx, fmt.Errorf("CRITICAL: chain failed integrity verification: %s", result.Reason),
		zap.String("run_id", runID),
		zap.String("chain_id", chainID),
		zap.Int64("broken_at", result.BrokenAt),
		zap.Int("node_count", result.NodeCount),
	)
}

// sleep sleeps for the given duration but can be interrupted by context
// cancellation or a stop request. Returns true if sleep completed normally.
func (s *chainIntegritySweeper) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-s.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	}
}

package sweeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/mocks"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
	"github.com/vinetrace/vine-ledger/internal/sweeper"
)

// testSweeperMocks contains all the mocks needed for testing the sweeper
type testSweeperMocks struct {
	ctrl     *gomock.Controller
	store    store.Store
	verifier *mocks.MockVerifier
	clock    *mocks.MockClock
	sweeper  sweeper.Sweeper
}

// setupTestSweeper creates all the mocks and sweeper for testing
func setupTestSweeper(t *testing.T) *testSweeperMocks {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: true,
	})
	if err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	ctrl := gomock.NewController(t)

	tm := &testSweeperMocks{
		ctrl:     ctrl,
		store:    store.NewMemoryStore(),
		verifier: mocks.NewMockVerifier(ctrl),
		clock:    mocks.NewMockClock(ctrl),
	}

	config := &sweeper.ChainIntegritySweeperConfig{
		BatchSize:      10,
		WorkerPoolSize: 2,
	}

	tm.sweeper = sweeper.NewChainIntegritySweeper(
		config,
		tm.store,
		tm.verifier,
		tm.clock,
	)

	return tm
}

// tearDownTestSweeper cleans up the test mocks
func tearDownTestSweeper(mocks *testSweeperMocks) {
	mocks.ctrl.Finish()
}

// expectSweepClock wires the clock so cycles complete quickly and the
// inter-cycle sleep can be interrupted by Stop
func expectSweepClock(tm *testSweeperMocks) {
	now := time.Now()
	tm.clock.EXPECT().Now().Return(now).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(time.Second).AnyTimes()
	tm.clock.EXPECT().After(gomock.Any()).DoAndReturn(func(d time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		go func() {
			time.Sleep(50 * time.Millisecond)
			ch <- time.Now()
		}()
		return ch
	}).AnyTimes()
}

// seedChain inserts an active chain row the sweeper will page over
func seedChain(t *testing.T, st store.Store, blockID string) string {
	t.Helper()
	input := storeChainInput(blockID)
	require.NoError(t, st.CreateChain(context.Background(), input))
	return input.Chain.ID
}

func storeChainInput(blockID string) store.CreateChainInput {
	chainID := "chain-" + blockID
	genesisHash := "hash-" + blockID
	now := time.Now().UTC()
	return store.CreateChainInput{
		Chain: schema.Chain{
			ID:              chainID,
			BlockID:         blockID,
			Season:          "2025",
			SeasonType:      domain.SeasonTypeCalendar,
			GenesisHash:     genesisHash,
			CurrentHeadHash: genesisHash,
			Active:          true,
			Origin:          domain.ChainOriginManual,
			CreatedBy:       "tester",
			CreatedAt:       now,
		},
		Genesis: schema.Node{
			ID:           "node-" + blockID,
			ChainID:      chainID,
			Kind:         domain.NodeKindGenesis,
			ParentHashes: []byte("[]"),
			Hash:         genesisHash,
			Payload:      []byte(`{}`),
			Sequence:     1,
			ConfirmedAt:  now,
			ConfirmedBy:  "tester",
			CreatedAt:    now,
		},
	}
}

func TestChainIntegritySweeper_Name(t *testing.T) {
	mocks := setupTestSweeper(t)
	defer tearDownTestSweeper(mocks)

	assert.Equal(t, "chain-integrity-sweeper", mocks.sweeper.Name())
}

func TestChainIntegritySweeper_VerifiesActiveChains(t *testing.T) {
	mocks := setupTestSweeper(t)
	defer tearDownTestSweeper(mocks)

	ctx := context.Background()

	validID := seedChain(t, mocks.store, "block-valid")
	brokenID := seedChain(t, mocks.store, "block-broken")
	failingID := seedChain(t, mocks.store, "block-error")

	expectSweepClock(mocks)

	// Each active chain gets verified every cycle; a broken chain is reported,
	// never touched
	mocks.verifier.EXPECT().
		VerifyChainIntegrity(gomock.Any(), validID).
		Return(domain.VerificationResult{Valid: true, NodeCount: 3}, nil).
		MinTimes(1)
	mocks.verifier.EXPECT().
		VerifyChainIntegrity(gomock.Any(), brokenID).
		Return(domain.VerificationResult{
			Valid:     false,
			NodeCount: 4,
			BrokenAt:  2,
			Reason:    domain.ReasonHashMismatch,
		}, nil).
		MinTimes(1)
	mocks.verifier.EXPECT().
		VerifyChainIntegrity(gomock.Any(), failingID).
		Return(domain.VerificationResult{}, errors.New("store unavailable")).
		MinTimes(1)

	// Start sweeper in goroutine and stop it after processing
	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = mocks.sweeper.Stop(ctx)
	}()

	err := mocks.sweeper.Start(ctx)
	require.NoError(t, err)

	// The broken chain's row is untouched by the sweep
	chain, err := mocks.store.GetChain(ctx, brokenID)
	require.NoError(t, err)
	assert.True(t, chain.Active)
}

func TestChainIntegritySweeper_NoActiveChains(t *testing.T) {
	mocks := setupTestSweeper(t)
	defer tearDownTestSweeper(mocks)

	ctx := context.Background()
	expectSweepClock(mocks)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = mocks.sweeper.Stop(ctx)
	}()

	err := mocks.sweeper.Start(ctx)
	require.NoError(t, err)
}

func TestChainIntegritySweeper_StartTwice(t *testing.T) {
	mocks := setupTestSweeper(t)
	defer tearDownTestSweeper(mocks)

	ctx := context.Background()
	expectSweepClock(mocks)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = mocks.sweeper.Start(ctx)
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	err := mocks.sweeper.Start(ctx)
	assert.ErrorContains(t, err, "already running")

	require.NoError(t, mocks.sweeper.Stop(ctx))
}

func TestChainIntegritySweeper_StopWhenNotRunning(t *testing.T) {
	mocks := setupTestSweeper(t)
	defer tearDownTestSweeper(mocks)

	assert.NoError(t, mocks.sweeper.Stop(context.Background()))
}

func TestChainIntegritySweeper_StopOnContextCancel(t *testing.T) {
	mocks := setupTestSweeper(t)
	defer tearDownTestSweeper(mocks)

	ctx, cancel := context.WithCancel(context.Background())
	expectSweepClock(mocks)

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := mocks.sweeper.Start(ctx)
	require.NoError(t, err)
}

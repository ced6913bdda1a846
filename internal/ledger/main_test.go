package ledger_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/ledger"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/mocks"
	"github.com/vinetrace/vine-ledger/internal/privacy"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// ledgerFixture wires the real engine services over the in-memory store with
// a frozen clock, so chain timestamps are deterministic across a test.
type ledgerFixture struct {
	store    store.Store
	clock    *mocks.MockClock
	manager  ledger.Manager
	builder  ledger.Builder
	verifier ledger.Verifier
	tracer   ledger.Tracer
	now      time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	ctrl := gomock.NewController(t)

	st := store.NewMemoryStore()
	clock := mocks.NewMockClock(ctrl)
	now := time.Date(2025, 4, 12, 9, 30, 0, 0, time.UTC)
	clock.EXPECT().Now().Return(now).AnyTimes()

	verifier := ledger.NewVerifier(st)
	return &ledgerFixture{
		store:    st,
		clock:    clock,
		manager:  ledger.NewManager(st, clock),
		builder:  ledger.NewBuilder(st, privacy.NewFilter(), clock),
		verifier: verifier,
		tracer:   ledger.NewTracer(st, verifier),
		now:      now,
	}
}

func (f *ledgerFixture) createChain(t *testing.T, blockID, season string) *schema.Chain {
	t.Helper()
	chain, err := f.manager.CreateChainForBlock(context.Background(), ledger.CreateChainInput{
		BlockID: blockID,
		Season:  season,
		Actor:   "user-1",
	})
	require.NoError(t, err)
	return chain
}

func (f *ledgerFixture) appendTask(t *testing.T, chainID string, data map[string]any) *schema.Node {
	t.Helper()
	node, err := f.builder.AppendNode(context.Background(), ledger.AppendInput{
		ChainID:      chainID,
		Kind:         domain.NodeKindTask,
		Source:       domain.SourceRef{Kind: domain.SourceKindTask, ID: "task-" + chainID[:8]},
		EventType:    domain.EventTypeSprayApplication,
		Data:         data,
		PrivacyLevel: domain.PrivacyFull,
		Actor:        "user-1",
		ConfirmedAt:  f.now,
	})
	require.NoError(t, err)
	return node
}

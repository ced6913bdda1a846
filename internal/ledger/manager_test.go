package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinetrace/vine-ledger/internal/canonical"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/ledger"
)

func TestCreateChainForBlock(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	companyID := "company-1"
	chain, err := f.manager.CreateChainForBlock(ctx, ledger.CreateChainInput{
		BlockID:   "block-1",
		CompanyID: &companyID,
		Season:    "2025",
		Actor:     "user-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, chain.ID)
	assert.Equal(t, "block-1", chain.BlockID)
	assert.Equal(t, "2025", chain.Season)
	assert.True(t, chain.Active)
	assert.Equal(t, &companyID, chain.CompanyID)
	assert.True(t, canonical.IsDigest(chain.GenesisHash))

	// The head starts at the genesis hash and defaults fill in
	assert.Equal(t, chain.GenesisHash, chain.CurrentHeadHash)
	assert.Equal(t, domain.SeasonTypeCalendar, chain.SeasonType)
	assert.Equal(t, domain.ChainOriginManual, chain.Origin)

	// Genesis node is written with the chain
	count, err := f.store.CountNodes(ctx, chain.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// A freshly created chain verifies clean
	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 1, result.NodeCount)
}

func TestCreateChainForBlock_ActiveChainConflict(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.createChain(t, "block-1", "2025")

	_, err := f.manager.CreateChainForBlock(ctx, ledger.CreateChainInput{
		BlockID: "block-1",
		Season:  "2025",
		Actor:   "user-2",
	})
	assert.ErrorIs(t, err, domain.ErrChainConflict)
}

func TestCreateChainForBlock_ConcurrentCreates(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.CreateChainForBlock(ctx, ledger.CreateChainInput{
				BlockID: "block-1",
				Season:  "2025",
				Actor:   "user-1",
			})
		}(i)
	}
	wg.Wait()

	// Exactly one racer wins; everyone else sees the conflict
	var won, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrChainConflict):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, conflicted)

	chain, err := f.store.GetActiveChain(ctx, "block-1", "2025")
	require.NoError(t, err)
	require.NotNil(t, chain)

	count, err := f.store.CountNodes(ctx, chain.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestCreateChainForBlock_OtherSeasonAllowed(t *testing.T) {
	f := newLedgerFixture(t)

	first := f.createChain(t, "block-1", "2025")
	second := f.createChain(t, "block-1", "2026")

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.GenesisHash, second.GenesisHash)
}

func TestArchiveChainForSeason(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")

	archived, err := f.manager.ArchiveChainForSeason(ctx, "block-1", "2025", "user-2", "season ended")
	require.NoError(t, err)

	assert.Equal(t, chain.ID, archived.ID)
	assert.False(t, archived.Active)
	require.NotNil(t, archived.ArchiveReason)
	assert.Equal(t, "season ended", *archived.ArchiveReason)
	require.NotNil(t, archived.ArchivedBy)
	assert.Equal(t, "user-2", *archived.ArchivedBy)
	assert.NotNil(t, archived.ArchivedAt)

	// Archival is terminal for appends
	_, err = f.builder.AppendNode(ctx, ledger.AppendInput{
		ChainID:      chain.ID,
		Kind:         domain.NodeKindTask,
		Source:       domain.SourceRef{Kind: domain.SourceKindTask, ID: "task-1"},
		EventType:    domain.EventTypeSprayApplication,
		Data:         map[string]any{"product": "sulfur"},
		PrivacyLevel: domain.PrivacyFull,
		Actor:        "user-1",
		ConfirmedAt:  f.now,
	})
	assert.ErrorIs(t, err, domain.ErrChainArchived)

	// The archived chain frees the (block, season) slot for a new one
	replacement := f.createChain(t, "block-1", "2025")
	assert.NotEqual(t, chain.ID, replacement.ID)
}

func TestArchiveChainForSeason_NoActiveChain(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.manager.ArchiveChainForSeason(context.Background(), "block-1", "2025", "user-1", "season ended")
	assert.ErrorIs(t, err, domain.ErrChainNotFound)
}

func TestHandleCompanyReassignment(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	oldCompany := "company-1"
	original, err := f.manager.CreateChainForBlock(ctx, ledger.CreateChainInput{
		BlockID:   "block-1",
		CompanyID: &oldCompany,
		Season:    "2025",
		Actor:     "user-1",
	})
	require.NoError(t, err)
	f.appendTask(t, original.ID, map[string]any{"product": "sulfur", "date": "2025-04-01"})

	fresh, err := f.manager.HandleCompanyReassignment(ctx, ledger.ReassignmentInput{
		BlockID:    "block-1",
		OldCompany: "company-1",
		NewCompany: "company-2",
		Season:     "2025",
		Actor:      "admin-1",
	})
	require.NoError(t, err)

	// The new owner starts over from a fresh genesis
	assert.NotEqual(t, original.ID, fresh.ID)
	assert.NotEqual(t, original.GenesisHash, fresh.GenesisHash)
	assert.True(t, fresh.Active)
	require.NotNil(t, fresh.CompanyID)
	assert.Equal(t, "company-2", *fresh.CompanyID)
	assert.Equal(t, domain.ChainOriginAssignment, fresh.Origin)
	assert.Equal(t, fresh.GenesisHash, fresh.CurrentHeadHash)

	// The old owner's chain is archived, its history intact
	archived, err := f.store.GetChain(ctx, original.ID)
	require.NoError(t, err)
	assert.False(t, archived.Active)
	count, err := f.store.CountNodes(ctx, original.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	result, err := f.verifier.VerifyChainIntegrity(ctx, archived.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestHandleCompanyReassignment_WrongOldCompany(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	owner := "company-1"
	_, err := f.manager.CreateChainForBlock(ctx, ledger.CreateChainInput{
		BlockID:   "block-1",
		CompanyID: &owner,
		Season:    "2025",
		Actor:     "user-1",
	})
	require.NoError(t, err)

	_, err = f.manager.HandleCompanyReassignment(ctx, ledger.ReassignmentInput{
		BlockID:    "block-1",
		OldCompany: "company-9",
		NewCompany: "company-2",
		Season:     "2025",
		Actor:      "admin-1",
	})
	assert.ErrorContains(t, err, "owned by")
}

func TestHandleCompanyReassignment_NoActiveChain(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.manager.HandleCompanyReassignment(context.Background(), ledger.ReassignmentInput{
		BlockID:    "block-1",
		OldCompany: "company-1",
		NewCompany: "company-2",
		Season:     "2025",
		Actor:      "admin-1",
	})
	assert.ErrorIs(t, err, domain.ErrChainNotFound)
}

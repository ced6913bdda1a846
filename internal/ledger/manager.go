// Package ledger implements the chain/DAG engine of the traceability log:
// chain lifecycle, node construction and hashing, integrity verification,
// and provenance tracing.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vinetrace/vine-ledger/internal/adapter"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

// Manager owns chain lifecycle: creation, archival, and reassignment when a
// block changes owning company. Archival is terminal; a reassigned block
// always starts over from a fresh genesis so provenance never spans owners.
//
//go:generate mockgen -source=manager.go -destination=../mocks/ledger_manager.go -package=mocks -mock_names=Manager=MockManager
type Manager interface {
	// CreateChainForBlock opens a new chain for a (block, season) pair.
	// Returns domain.ErrChainConflict if an active chain already exists.
	CreateChainForBlock(ctx context.Context, input CreateChainInput) (*schema.Chain, error)
	// ArchiveChainForSeason archives the active chain for a (block, season)
	// pair; every subsequent append against it fails with ErrChainArchived.
	ArchiveChainForSeason(ctx context.Context, blockID, season, actor, reason string) (*schema.Chain, error)
	// HandleCompanyReassignment archives the old owner's chain and opens a
	// fresh one for the new owner in a single transaction.
	HandleCompanyReassignment(ctx context.Context, input ReassignmentInput) (*schema.Chain, error)
}

// CreateChainInput describes a chain to open
type CreateChainInput struct {
	BlockID    string
	CompanyID  *string
	Season     string
	SeasonType domain.SeasonType
	Actor      string
	Origin     domain.ChainOrigin
}

// ReassignmentInput describes a block ownership change within a season
type ReassignmentInput struct {
	BlockID    string
	OldCompany string
	NewCompany string
	Season     string
	SeasonType domain.SeasonType
	Actor      string
}

type manager struct {
	store store.Store
	clock adapter.Clock
}

// NewManager creates a new chain lifecycle manager
func NewManager(st store.Store, clock adapter.Clock) Manager {
	return &manager{store: st, clock: clock}
}

// buildChain constructs the chain row and its genesis node. The genesis hash
// covers {block_id, season, chain_id, created_at}; the chain's head starts at
// the genesis hash and the genesis node stores the hashed document as its
// payload so the hash is recomputable from the node row alone.
func (m *manager) buildChain(input CreateChainInput) (store.CreateChainInput, error) {
	chainID := uuid.NewString()
	createdAt := m.clock.Now().UTC()

	seasonType := input.SeasonType
	if seasonType == "" {
		seasonType = domain.SeasonTypeCalendar
	}
	origin := input.Origin
	if origin == "" {
		origin = domain.ChainOriginManual
	}

	genesisHash, genesisDoc, err := ComputeGenesisHash(input.BlockID, input.Season, chainID, createdAt)
	if err != nil {
		return store.CreateChainInput{}, err
	}

	return store.CreateChainInput{
		Chain: schema.Chain{
			ID:              chainID,
			BlockID:         input.BlockID,
			CompanyID:       input.CompanyID,
			Season:          input.Season,
			SeasonType:      seasonType,
			GenesisHash:     genesisHash,
			CurrentHeadHash: genesisHash,
			Active:          true,
			Origin:          origin,
			CreatedBy:       input.Actor,
			CreatedAt:       createdAt,
		},
		Genesis: schema.Node{
			ID:           uuid.NewString(),
			ChainID:      chainID,
			Kind:         domain.NodeKindGenesis,
			ParentHashes: []byte("[]"),
			Hash:         genesisHash,
			Payload:      genesisDoc,
			Sequence:     1,
			ConfirmedAt:  createdAt,
			ConfirmedBy:  input.Actor,
			CreatedAt:    createdAt,
		},
	}, nil
}

// CreateChainForBlock opens a new chain for a (block, season) pair
func (m *manager) CreateChainForBlock(ctx context.Context, input CreateChainInput) (*schema.Chain, error) {
	existing, err := m.store.GetActiveChain(ctx, input.BlockID, input.Season)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrChainConflict
	}

	create, err := m.buildChain(input)
	if err != nil {
		return nil, err
	}

	// The store re-checks uniqueness; a concurrent creator losing the race
	// here still surfaces ErrChainConflict rather than a second active chain.
	if err := m.store.CreateChain(ctx, create); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Chain created",
		zap.String("chain_id", create.Chain.ID),
		zap.String("block_id", input.BlockID),
		zap.String("season", input.Season),
		zap.String("origin", string(create.Chain.Origin)),
	)

	chain := create.Chain
	return &chain, nil
}

// ArchiveChainForSeason archives the active chain for a (block, season) pair
func (m *manager) ArchiveChainForSeason(ctx context.Context, blockID, season, actor, reason string) (*schema.Chain, error) {
	chain, err := m.store.GetActiveChain(ctx, blockID, season)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, domain.ErrChainNotFound
	}

	err = m.store.ArchiveChain(ctx, store.ArchiveChainInput{
		ChainID: chain.ID,
		Actor:   actor,
		Reason:  reason,
		At:      m.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Chain archived",
		zap.String("chain_id", chain.ID),
		zap.String("block_id", blockID),
		zap.String("season", season),
		zap.String("reason", reason),
	)

	return m.store.GetChain(ctx, chain.ID)
}

// HandleCompanyReassignment archives the old owner's chain for the season and
// creates a fresh chain owned by the new company. Both sides commit or roll
// back together; an ownership change never continues an existing hash chain.
func (m *manager) HandleCompanyReassignment(ctx context.Context, input ReassignmentInput) (*schema.Chain, error) {
	current, err := m.store.GetActiveChain(ctx, input.BlockID, input.Season)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrChainNotFound
	}
	if current.CompanyID != nil && *current.CompanyID != input.OldCompany {
		return nil, fmt.Errorf("chain %s is owned by %s, not %s", current.ID, *current.CompanyID, input.OldCompany)
	}

	newCompany := input.NewCompany
	create, err := m.buildChain(CreateChainInput{
		BlockID:    input.BlockID,
		CompanyID:  &newCompany,
		Season:     input.Season,
		SeasonType: input.SeasonType,
		Actor:      input.Actor,
		Origin:     domain.ChainOriginAssignment,
	})
	if err != nil {
		return nil, err
	}

	err = m.store.ReassignChain(ctx, store.ReassignChainInput{
		Archive: store.ArchiveChainInput{
			ChainID: current.ID,
			Actor:   input.Actor,
			Reason:  fmt.Sprintf("block reassigned from company %s to %s", input.OldCompany, input.NewCompany),
			At:      m.clock.Now().UTC(),
		},
		NewChain: create,
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Chain reassigned",
		zap.String("archived_chain_id", current.ID),
		zap.String("new_chain_id", create.Chain.ID),
		zap.String("block_id", input.BlockID),
		zap.String("old_company", input.OldCompany),
		zap.String("new_company", input.NewCompany),
	)

	chain := create.Chain
	return &chain, nil
}

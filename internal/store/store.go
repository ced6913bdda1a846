package store

import (
	"context"
	"time"

	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

// CreateChainInput carries a fully-built chain row plus its genesis node.
// Both rows commit in one transaction; a chain never exists without sequence 1.
type CreateChainInput struct {
	Chain   schema.Chain
	Genesis schema.Node
}

// ArchiveChainInput carries archive metadata for a chain
type ArchiveChainInput struct {
	ChainID string
	Actor   string
	Reason  string
	At      time.Time
}

// ReassignChainInput archives one chain and creates its successor atomically.
// Used when a block changes owning company mid-season: the old owner's chain
// ends and the new owner starts from a fresh genesis.
type ReassignChainInput struct {
	Archive  ArchiveChainInput
	NewChain CreateChainInput
}

// AppendNodeInput carries one node + event append. ExpectedHead is the head
// hash the caller observed; the append only commits if the chain head still
// equals it (optimistic compare-and-swap).
type AppendNodeInput struct {
	ChainID      string
	Node         schema.Node
	Event        schema.Event
	ExpectedHead string
}

// ChainSnapshot exposes one consistent read of a chain and its nodes.
// NextBatch pages nodes in ascending sequence order; all batches and the
// chain row come from the same snapshot, so a concurrent in-flight append
// can never make a verification run report a half-applied state.
type ChainSnapshot interface {
	// Chain returns the chain row as of the snapshot
	Chain() *schema.Chain
	// NextBatch returns up to limit nodes after the previously returned ones,
	// ordered by sequence; an empty slice signals the end of the chain
	NextBatch(limit int) ([]schema.Node, error)
}

// Store defines the interface for traceability log persistence
type Store interface {
	// CreateChain persists a chain and its genesis node in one transaction.
	// Returns domain.ErrChainConflict if an active chain already exists for
	// the same (block, season) pair.
	CreateChain(ctx context.Context, input CreateChainInput) error
	// GetChain retrieves a chain by ID; domain.ErrChainNotFound when missing
	GetChain(ctx context.Context, chainID string) (*schema.Chain, error)
	// GetActiveChain retrieves the active chain for a (block, season) pair, nil when none
	GetActiveChain(ctx context.Context, blockID, season string) (*schema.Chain, error)
	// GetLatestChainByBlock retrieves the most recent chain for a block,
	// preferring an active one; domain.ErrChainNotFound when the block has no chains
	GetLatestChainByBlock(ctx context.Context, blockID string) (*schema.Chain, error)
	// ListActiveChains pages active chains for background verification sweeps
	ListActiveChains(ctx context.Context, offset, limit int) ([]schema.Chain, error)
	// ArchiveChain marks a chain inactive and records archive metadata.
	// Returns domain.ErrChainArchived when the chain is already archived.
	ArchiveChain(ctx context.Context, input ArchiveChainInput) error
	// ReassignChain archives one chain and creates its successor in one transaction
	ReassignChain(ctx context.Context, input ReassignChainInput) error

	// AppendNode persists a node and its event and advances the chain head in
	// one transaction. Returns domain.ErrChainArchived for inactive chains and
	// domain.ErrHeadConflict when the head no longer equals ExpectedHead.
	AppendNode(ctx context.Context, input AppendNodeInput) error
	// CountNodes returns the number of nodes in a chain
	CountNodes(ctx context.Context, chainID string) (int64, error)
	// GetNodeByHash retrieves a node of a chain by its hash;
	// domain.ErrNodeNotFound when no node of the chain carries it
	GetNodeByHash(ctx context.Context, chainID, hash string) (*schema.Node, error)
	// ListNodes pages nodes ordered by sequence, starting after afterSequence
	ListNodes(ctx context.Context, chainID string, afterSequence int64, limit int) ([]schema.Node, error)
	// ListNodesWithEvents loads a chain's full node sequence with event snapshots preloaded
	ListNodesWithEvents(ctx context.Context, chainID string) ([]schema.Node, error)
	// LastNodeTime returns the confirmation time of a chain's newest node, nil for empty chains
	LastNodeTime(ctx context.Context, chainID string) (*time.Time, error)
	// WithChainSnapshot runs fn against one consistent view of the chain and its nodes
	WithChainSnapshot(ctx context.Context, chainID string, fn func(snap ChainSnapshot) error) error

	// CreateFruitReceived persists a terminal fruit batch record
	CreateFruitReceived(ctx context.Context, fruit *schema.FruitReceived) error
	// GetFruitReceived retrieves a fruit batch by ID; domain.ErrFruitNotFound when missing
	GetFruitReceived(ctx context.Context, fruitID string) (*schema.FruitReceived, error)
	// FruitStats returns the batch count and total delivered volume for a chain
	FruitStats(ctx context.Context, chainID string) (int64, float64, error)
}

package ledger

import (
	"context"
	"encoding/json"

	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

// ReasonProvenanceMismatch flags a FruitReceived record whose stored
// provenance hash no longer matches a recomputation from the node sequence
const ReasonProvenanceMismatch = "provenance hash mismatch"

// Tracer assembles a fruit batch's full upstream chain with a
// verified-integrity flag, and serves cheap per-block chain summaries.
//
//go:generate mockgen -source=tracer.go -destination=../mocks/ledger_tracer.go -package=mocks -mock_names=Tracer=MockTracer
type Tracer interface {
	// GetProvenanceTrace resolves a fruit batch, verifies its chain, and
	// returns the privacy-filtered key events of the upstream log. Returns
	// domain.ErrFruitNotFound for unknown batches.
	GetProvenanceTrace(ctx context.Context, fruitID string) (*domain.ProvenanceTrace, error)
	// GetChainByBlock returns a read-only summary of a block's latest chain
	// with no integrity recomputation, for dashboard-style lookups.
	GetChainByBlock(ctx context.Context, blockID string) (*domain.ChainSummary, error)
}

type tracer struct {
	store    store.Store
	verifier Verifier
}

// NewTracer creates a new provenance tracer
func NewTracer(st store.Store, v Verifier) Tracer {
	return &tracer{store: st, verifier: v}
}

// GetProvenanceTrace assembles the full upstream story of one fruit batch
func (t *tracer) GetProvenanceTrace(ctx context.Context, fruitID string) (*domain.ProvenanceTrace, error) {
	fruit, err := t.store.GetFruitReceived(ctx, fruitID)
	if err != nil {
		return nil, err
	}

	chain, err := t.store.GetChain(ctx, fruit.ChainID)
	if err != nil {
		return nil, err
	}

	verification, err := t.verifier.VerifyChainIntegrity(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	nodes, err := t.store.ListNodesWithEvents(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	// Recompute the provenance hash over the node sequence up to the batch's
	// terminal node; the stored value must be independently reproducible.
	if verification.Valid {
		if reason := t.checkProvenanceHash(fruit.NodeID, fruit.ProvenanceHash, chain.ID, nodes); reason != "" {
			verification.Valid = false
			verification.Reason = reason
		}
	}

	trace := &domain.ProvenanceTrace{
		FruitID:        fruit.ID,
		ChainID:        chain.ID,
		BlockID:        chain.BlockID,
		Season:         chain.Season,
		ProvenanceHash: fruit.ProvenanceHash,
		Verification:   verification,
		KeyEvents:      buildKeyEvents(nodes),
	}

	return trace, nil
}

// checkProvenanceHash recomputes the stored provenance digest over the node
// sequence up to and including the batch's terminal node; returns "" on match
func (t *tracer) checkProvenanceHash(nodeID, storedHash, chainID string, nodes []schema.Node) string {
	var hashes []string
	found := false
	for _, n := range nodes {
		hashes = append(hashes, n.Hash)
		if n.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		return ReasonProvenanceMismatch
	}

	recomputed, err := ComputeProvenanceHash(chainID, hashes)
	if err != nil || recomputed != storedHash {
		return ReasonProvenanceMismatch
	}
	return ""
}

// buildKeyEvents projects task and observation nodes into the trace summary.
// Only the hashed payload is surfaced - the privacy boundary established at
// append time - never the full event snapshot.
func buildKeyEvents(nodes []schema.Node) []domain.KeyEvent {
	var events []domain.KeyEvent
	for _, n := range nodes {
		if n.Kind != domain.NodeKindTask && n.Kind != domain.NodeKindObservation {
			continue
		}

		var eventType domain.EventType
		if n.Event != nil {
			eventType = n.Event.EventType
		}

		events = append(events, domain.KeyEvent{
			Sequence:    n.Sequence,
			Kind:        n.Kind,
			EventType:   eventType,
			ConfirmedAt: n.ConfirmedAt,
			Payload:     unmarshalPayload(n.Payload),
		})
	}
	return events
}

// GetChainByBlock returns a read-only summary of a block's latest chain
func (t *tracer) GetChainByBlock(ctx context.Context, blockID string) (*domain.ChainSummary, error) {
	chain, err := t.store.GetLatestChainByBlock(ctx, blockID)
	if err != nil {
		return nil, err
	}

	nodeCount, err := t.store.CountNodes(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	fruitBatches, fruitVolume, err := t.store.FruitStats(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	lastActivity, err := t.store.LastNodeTime(ctx, chain.ID)
	if err != nil {
		return nil, err
	}

	return &domain.ChainSummary{
		ChainID:      chain.ID,
		BlockID:      chain.BlockID,
		Season:       chain.Season,
		SeasonType:   chain.SeasonType,
		Active:       chain.Active,
		NodeCount:    int(nodeCount),
		GenesisHash:  chain.GenesisHash,
		HeadHash:     chain.CurrentHeadHash,
		FruitBatches: int(fruitBatches),
		FruitVolume:  fruitVolume,
		LastActivity: lastActivity,
	}, nil
}

// unmarshalPayload decodes a node's hashed payload document
func unmarshalPayload(raw []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}

package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vinetrace/vine-ledger/internal/adapter"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/logger"
	"github.com/vinetrace/vine-ledger/internal/privacy"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

const (
	// defaultMaxAppendRetries bounds how often a losing writer retries after
	// a concurrent append advanced the chain head first
	defaultMaxAppendRetries = 5
	// appendRetryInitialInterval is the first backoff delay between retries
	appendRetryInitialInterval = 20 * time.Millisecond
)

// Builder appends confirmed events as hash-linked nodes. Each append is an
// optimistic compare-and-swap on the chain head: the builder reads the head,
// computes the node hash on top of it, and lets the store reject the write if
// another append won in between. Contention per chain is rare, so losing
// writers simply re-read and retry a bounded number of times.
//
//go:generate mockgen -source=builder.go -destination=../mocks/ledger_builder.go -package=mocks -mock_names=Builder=MockBuilder
type Builder interface {
	// AppendNode appends one confirmed event to a chain. Returns
	// domain.ErrChainArchived for archived chains and domain.ErrHeadConflict
	// once retries are exhausted under contention.
	AppendNode(ctx context.Context, input AppendInput) (*schema.Node, error)
	// RecordFruitReceived appends the terminal fruit_received node and
	// creates the FruitReceived record referencing it.
	RecordFruitReceived(ctx context.Context, input FruitDeliveryInput) (*schema.FruitReceived, *schema.Node, error)
}

// AppendInput describes one confirmed event to append
type AppendInput struct {
	ChainID      string
	Kind         domain.NodeKind
	Source       domain.SourceRef
	EventType    domain.EventType
	Data         map[string]any
	PrivacyLevel domain.PrivacyLevel
	Actor        string
	ConfirmedAt  time.Time
	// ExtraParents adds parent hashes beyond the current head, turning the
	// node into an explicit merge node. Each hash must resolve to an existing
	// node of the same chain or the append fails with domain.ErrUnknownParent.
	// Only fruit_received appends use this; ordinary confirmations always
	// extend the head alone.
	ExtraParents []string
}

// FruitDeliveryInput describes a terminal fruit delivery
type FruitDeliveryInput struct {
	ChainID      string
	Source       domain.SourceRef
	Data         map[string]any
	PrivacyLevel domain.PrivacyLevel
	Actor        string
	DeliveredAt  time.Time
	VolumeKg     float64
	QualityGrade *string
	Metrics      map[string]any
	ExtraParents []string
}

type builder struct {
	store      store.Store
	filter     privacy.Filter
	clock      adapter.Clock
	maxRetries uint64
}

// NewBuilder creates a new node builder
func NewBuilder(st store.Store, filter privacy.Filter, clock adapter.Clock) Builder {
	return &builder{store: st, filter: filter, clock: clock, maxRetries: defaultMaxAppendRetries}
}

// AppendNode appends one confirmed event to a chain
func (b *builder) AppendNode(ctx context.Context, input AppendInput) (*schema.Node, error) {
	if !domain.IsValidNodeKind(input.Kind) || input.Kind == domain.NodeKindGenesis {
		return nil, fmt.Errorf("invalid node kind for append: %s", input.Kind)
	}

	hashedFields, payload, err := b.filter.Classify(input.EventType, input.Data, input.PrivacyLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to classify event: %w", err)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var appended *schema.Node
	operation := func() error {
		node, err := b.tryAppend(ctx, input, payloadJSON, hashedFields)
		if err != nil {
			if errors.Is(err, domain.ErrHeadConflict) {
				logger.DebugCtx(ctx, "Append lost head race, retrying",
					zap.String("chain_id", input.ChainID))
				return err
			}
			return backoff.Permanent(err)
		}
		appended = node
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(appendRetryInitialInterval),
		), b.maxRetries),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Node appended",
		zap.String("chain_id", input.ChainID),
		zap.String("node_id", appended.ID),
		zap.String("kind", string(input.Kind)),
		zap.Int64("sequence", appended.Sequence),
	)

	return appended, nil
}

// tryAppend performs one optimistic append attempt against the current head
func (b *builder) tryAppend(ctx context.Context, input AppendInput, payloadJSON []byte, hashedFields []string) (*schema.Node, error) {
	chain, err := b.store.GetChain(ctx, input.ChainID)
	if err != nil {
		return nil, err
	}
	if !chain.Active {
		return nil, domain.ErrChainArchived
	}

	count, err := b.store.CountNodes(ctx, input.ChainID)
	if err != nil {
		return nil, err
	}
	sequence := count + 1

	// Parent set: the current head, plus any explicit merge parents. Every
	// parent must name an already-existing node of this chain, which is what
	// keeps the structure acyclic without any cycle detection. Nodes are never
	// deleted, so a hash that resolves here stays resolvable even when the
	// append retries under a new head.
	parents := []string{chain.CurrentHeadHash}
	seen := map[string]struct{}{chain.CurrentHeadHash: {}}
	for _, p := range input.ExtraParents {
		if _, ok := seen[p]; ok {
			continue
		}
		if _, err := b.store.GetNodeByHash(ctx, input.ChainID, p); err != nil {
			if errors.Is(err, domain.ErrNodeNotFound) {
				return nil, fmt.Errorf("extra parent %s: %w", p, domain.ErrUnknownParent)
			}
			return nil, err
		}
		seen[p] = struct{}{}
		parents = append(parents, p)
	}

	source := input.Source
	hash, err := ComputeNodeHash(parents, payloadJSON, sequence, input.Kind, &source, input.ConfirmedAt)
	if err != nil {
		return nil, err
	}

	parentsJSON, err := json.Marshal(parents)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parent hashes: %w", err)
	}
	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event snapshot: %w", err)
	}
	fieldsJSON, err := json.Marshal(hashedFields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hashed fields: %w", err)
	}

	now := b.clock.Now().UTC()
	node := schema.Node{
		ID:           uuid.NewString(),
		ChainID:      input.ChainID,
		Kind:         input.Kind,
		SourceKind:   &source.Kind,
		SourceID:     &source.ID,
		ParentHashes: parentsJSON,
		Hash:         hash,
		Payload:      payloadJSON,
		Sequence:     sequence,
		ConfirmedAt:  input.ConfirmedAt.UTC(),
		ConfirmedBy:  input.Actor,
		CreatedAt:    now,
	}
	event := schema.Event{
		ID:           uuid.NewString(),
		NodeID:       node.ID,
		EventType:    input.EventType,
		Data:         dataJSON,
		PrivacyLevel: input.PrivacyLevel,
		HashedFields: fieldsJSON,
		CreatedAt:    now,
	}

	err = b.store.AppendNode(ctx, store.AppendNodeInput{
		ChainID:      input.ChainID,
		Node:         node,
		Event:        event,
		ExpectedHead: chain.CurrentHeadHash,
	})
	if err != nil {
		return nil, err
	}

	return &node, nil
}

// RecordFruitReceived appends the terminal fruit_received node and creates the
// FruitReceived record. The record's provenance hash digests the chain's full
// ordered node-hash list as of the append, so it can be recomputed later from
// the node sequence without trusting the stored value.
func (b *builder) RecordFruitReceived(ctx context.Context, input FruitDeliveryInput) (*schema.FruitReceived, *schema.Node, error) {
	node, err := b.AppendNode(ctx, AppendInput{
		ChainID:      input.ChainID,
		Kind:         domain.NodeKindFruitReceived,
		Source:       input.Source,
		EventType:    domain.EventTypeFruitDelivery,
		Data:         input.Data,
		PrivacyLevel: input.PrivacyLevel,
		Actor:        input.Actor,
		ConfirmedAt:  input.DeliveredAt,
		ExtraParents: input.ExtraParents,
	})
	if err != nil {
		return nil, nil, err
	}

	nodes, err := b.store.ListNodes(ctx, input.ChainID, 0, 0)
	if err != nil {
		return nil, nil, err
	}
	// Truncate at the terminal node: an append racing in behind the delivery
	// must not leak into this batch's provenance summary.
	hashes := make([]string, 0, len(nodes))
	for _, n := range nodes {
		hashes = append(hashes, n.Hash)
		if n.ID == node.ID {
			break
		}
	}

	provenanceHash, err := ComputeProvenanceHash(input.ChainID, hashes)
	if err != nil {
		return nil, nil, err
	}

	chain, err := b.store.GetChain(ctx, input.ChainID)
	if err != nil {
		return nil, nil, err
	}

	var metricsJSON []byte
	if input.Metrics != nil {
		metricsJSON, err = json.Marshal(input.Metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal delivery metrics: %w", err)
		}
	}

	fruit := schema.FruitReceived{
		ID:             uuid.NewString(),
		ChainID:        input.ChainID,
		BlockID:        chain.BlockID,
		NodeID:         node.ID,
		VolumeKg:       input.VolumeKg,
		QualityGrade:   input.QualityGrade,
		Metrics:        metricsJSON,
		ProvenanceHash: provenanceHash,
		DeliveredAt:    input.DeliveredAt.UTC(),
		ConfirmedBy:    input.Actor,
		CreatedAt:      b.clock.Now().UTC(),
	}
	if err := b.store.CreateFruitReceived(ctx, &fruit); err != nil {
		return nil, nil, err
	}

	logger.InfoCtx(ctx, "Fruit batch recorded",
		zap.String("fruit_id", fruit.ID),
		zap.String("chain_id", input.ChainID),
		zap.String("node_id", node.ID),
		zap.Float64("volume_kg", input.VolumeKg),
	)

	return &fruit, node, nil
}

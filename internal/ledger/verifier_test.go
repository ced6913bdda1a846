package ledger_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinetrace/vine-ledger/internal/canonical"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/ledger"
	"github.com/vinetrace/vine-ledger/internal/store"
	"github.com/vinetrace/vine-ledger/internal/store/schema"
)

// fakeDigest returns a well-formed hash that matches no real node content
func fakeDigest(t *testing.T, seed string) string {
	t.Helper()
	digest, err := canonical.Digest(map[string]any{"seed": seed})
	require.NoError(t, err)
	return digest
}

// appendRaw writes a crafted node row directly, bypassing the builder. The
// store checks head and sequence monotonicity but never hash correctness,
// which is exactly the gap verification exists to close.
func appendRaw(t *testing.T, f *ledgerFixture, chainID string, node schema.Node) {
	t.Helper()
	chain, err := f.store.GetChain(context.Background(), chainID)
	require.NoError(t, err)

	node.ID = uuid.NewString()
	node.ChainID = chainID
	node.ConfirmedBy = "attacker"
	node.CreatedAt = f.now
	err = f.store.AppendNode(context.Background(), store.AppendNodeInput{
		ChainID:      chainID,
		Node:         node,
		Event:        schema.Event{ID: uuid.NewString(), NodeID: node.ID},
		ExpectedHead: chain.CurrentHeadHash,
	})
	require.NoError(t, err)
}

func marshalParents(t *testing.T, parents []string) []byte {
	t.Helper()
	raw, err := json.Marshal(parents)
	require.NoError(t, err)
	return raw
}

func TestVerifyChainIntegrity_ValidChain(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")
	for i := 0; i < 5; i++ {
		f.appendTask(t, chain.ID, map[string]any{"pass": i})
	}

	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, 6, result.NodeCount)
	assert.Zero(t, result.BrokenAt)
	assert.Empty(t, result.Reason)
}

func TestVerifyChainIntegrity_UnknownChain(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.verifier.VerifyChainIntegrity(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrChainNotFound)
}

func TestVerifyChainIntegrity_HashMismatch(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")
	appendRaw(t, f, chain.ID, schema.Node{
		Kind:         domain.NodeKindTask,
		ParentHashes: marshalParents(t, []string{chain.GenesisHash}),
		Hash:         fakeDigest(t, "forged content"),
		Payload:      []byte(`{"product":"sulfur"}`),
		Sequence:     2,
		ConfirmedAt:  f.now,
	})

	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.EqualValues(t, 2, result.BrokenAt)
	assert.Equal(t, domain.ReasonHashMismatch, result.Reason)
}

func TestVerifyChainIntegrity_UnknownParent(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")
	appendRaw(t, f, chain.ID, schema.Node{
		Kind:         domain.NodeKindTask,
		ParentHashes: marshalParents(t, []string{chain.GenesisHash, fakeDigest(t, "phantom parent")}),
		Hash:         fakeDigest(t, "node with phantom parent"),
		Payload:      []byte(`{"product":"sulfur"}`),
		Sequence:     2,
		ConfirmedAt:  f.now,
	})

	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.EqualValues(t, 2, result.BrokenAt)
	assert.Equal(t, domain.ReasonUnknownParent, result.Reason)
}

func TestVerifyChainIntegrity_SequenceGap(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")
	appendRaw(t, f, chain.ID, schema.Node{
		Kind:         domain.NodeKindTask,
		ParentHashes: marshalParents(t, []string{chain.GenesisHash}),
		Hash:         fakeDigest(t, "skipped a slot"),
		Payload:      []byte(`{"product":"sulfur"}`),
		Sequence:     3,
		ConfirmedAt:  f.now,
	})

	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.EqualValues(t, 3, result.BrokenAt)
	assert.Equal(t, domain.ReasonSequenceGap, result.Reason)
}

func TestVerifyChainIntegrity_SecondGenesis(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")
	appendRaw(t, f, chain.ID, schema.Node{
		Kind:         domain.NodeKindGenesis,
		ParentHashes: []byte("[]"),
		Hash:         fakeDigest(t, "second genesis"),
		Payload:      []byte(`{}`),
		Sequence:     2,
		ConfirmedAt:  f.now,
	})

	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonSequenceGap, result.Reason)
}

func TestVerifyChainIntegrity_MalformedParentList(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	chain := f.createChain(t, "block-1", "2025")
	appendRaw(t, f, chain.ID, schema.Node{
		Kind:         domain.NodeKindTask,
		ParentHashes: []byte(`{not a list`),
		Hash:         fakeDigest(t, "garbled parents"),
		Payload:      []byte(`{"product":"sulfur"}`),
		Sequence:     2,
		ConfirmedAt:  f.now,
	})

	result, err := f.verifier.VerifyChainIntegrity(ctx, chain.ID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonMalformedPayload, result.Reason)
}

func TestVerifyChainIntegrity_BadGenesis(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// A chain whose genesis hash does not match its stored payload
	forged := fakeDigest(t, "forged genesis")
	chainID := uuid.NewString()
	err := f.store.CreateChain(ctx, store.CreateChainInput{
		Chain: schema.Chain{
			ID:              chainID,
			BlockID:         "block-x",
			Season:          "2025",
			SeasonType:      domain.SeasonTypeCalendar,
			GenesisHash:     forged,
			CurrentHeadHash: forged,
			Active:          true,
			Origin:          domain.ChainOriginManual,
			CreatedBy:       "attacker",
			CreatedAt:       f.now,
		},
		Genesis: schema.Node{
			ID:           uuid.NewString(),
			ChainID:      chainID,
			Kind:         domain.NodeKindGenesis,
			ParentHashes: []byte("[]"),
			Hash:         forged,
			Payload:      []byte(`{"block_id":"block-x"}`),
			Sequence:     1,
			ConfirmedAt:  f.now,
			ConfirmedBy:  "attacker",
			CreatedAt:    f.now,
		},
	})
	require.NoError(t, err)

	result, err := f.verifier.VerifyChainIntegrity(ctx, chainID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.EqualValues(t, 1, result.BrokenAt)
	assert.Equal(t, domain.ReasonBadGenesis, result.Reason)
}

func TestVerifyChainIntegrity_StaleHead(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// A structurally sound genesis, but the chain's head pointer names a hash
	// that no node carries
	chainID := uuid.NewString()
	genesisHash, genesisDoc, err := ledger.ComputeGenesisHash("block-y", "2025", chainID, f.now)
	require.NoError(t, err)

	err = f.store.CreateChain(ctx, store.CreateChainInput{
		Chain: schema.Chain{
			ID:              chainID,
			BlockID:         "block-y",
			Season:          "2025",
			SeasonType:      domain.SeasonTypeCalendar,
			GenesisHash:     genesisHash,
			CurrentHeadHash: fakeDigest(t, "dangling head"),
			Active:          true,
			Origin:          domain.ChainOriginManual,
			CreatedBy:       "attacker",
			CreatedAt:       f.now,
		},
		Genesis: schema.Node{
			ID:           uuid.NewString(),
			ChainID:      chainID,
			Kind:         domain.NodeKindGenesis,
			ParentHashes: []byte("[]"),
			Hash:         genesisHash,
			Payload:      genesisDoc,
			Sequence:     1,
			ConfirmedAt:  f.now,
			ConfirmedBy:  "attacker",
			CreatedAt:    f.now,
		},
	})
	require.NoError(t, err)

	result, err := f.verifier.VerifyChainIntegrity(ctx, chainID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonStaleHead, result.Reason)
}

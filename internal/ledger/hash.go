package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinetrace/vine-ledger/internal/canonical"
	"github.com/vinetrace/vine-ledger/internal/domain"
)

// genesisPayload is the document hashed into a chain's genesis node. It is
// also stored as the genesis node's payload, so verification can recompute
// the genesis hash from the node row alone.
type genesisPayload struct {
	BlockID   string `json:"block_id"`
	Season    string `json:"season"`
	ChainID   string `json:"chain_id"`
	CreatedAt string `json:"created_at"`
}

// nodeDigest is the canonical document hashed into a non-genesis node. The
// payload is embedded as raw JSON so recomputation from a stored row passes
// the exact same bytes through canonicalization as the original append did.
type nodeDigest struct {
	ParentHashes []string          `json:"parent_hashes"`
	Payload      json.RawMessage   `json:"payload"`
	Sequence     int64             `json:"sequence"`
	Kind         domain.NodeKind   `json:"kind"`
	Source       *domain.SourceRef `json:"source,omitempty"`
	ConfirmedAt  string            `json:"confirmed_at"`
}

// hashTime fixes the timestamp formatting that enters a digest
func hashTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ComputeGenesisHash returns the genesis digest for a new chain together with
// the payload document that produced it
func ComputeGenesisHash(blockID, season, chainID string, createdAt time.Time) (string, []byte, error) {
	payload := genesisPayload{
		BlockID:   blockID,
		Season:    season,
		ChainID:   chainID,
		CreatedAt: hashTime(createdAt),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal genesis payload: %w", err)
	}

	hash, err := canonical.DigestRaw(raw)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash genesis payload: %w", err)
	}

	return hash, raw, nil
}

// ComputeNodeHash returns the content hash of a non-genesis node. Identical
// logical content always yields an identical digest: the document is
// canonicalized (RFC 8785) before hashing, so key order and number formatting
// in payloadJSON never change the result.
func ComputeNodeHash(
	parents []string,
	payloadJSON []byte,
	sequence int64,
	kind domain.NodeKind,
	source *domain.SourceRef,
	confirmedAt time.Time,
) (string, error) {
	if parents == nil {
		parents = []string{}
	}

	doc := nodeDigest{
		ParentHashes: parents,
		Payload:      json.RawMessage(payloadJSON),
		Sequence:     sequence,
		Kind:         kind,
		Source:       source,
		ConfirmedAt:  hashTime(confirmedAt),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node digest: %w", err)
	}

	hash, err := canonical.DigestRaw(raw)
	if err != nil {
		return "", fmt.Errorf("failed to hash node digest: %w", err)
	}

	return hash, nil
}

// ComputeProvenanceHash digests a chain's ordered node-hash list. The value
// stored on a FruitReceived record must be reproducible by anyone holding the
// chain's node sequence, without trusting the stored value.
func ComputeProvenanceHash(chainID string, nodeHashes []string) (string, error) {
	if nodeHashes == nil {
		nodeHashes = []string{}
	}

	hash, err := canonical.Digest(map[string]any{
		"chain_id":    chainID,
		"node_hashes": nodeHashes,
	})
	if err != nil {
		return "", fmt.Errorf("failed to hash provenance summary: %w", err)
	}

	return hash, nil
}

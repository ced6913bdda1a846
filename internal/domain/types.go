package domain

import (
	"time"
)

// SeasonType distinguishes how a season identifier is interpreted.
type SeasonType string

const (
	// SeasonTypeCalendar groups events by calendar year (e.g., "2025")
	SeasonTypeCalendar SeasonType = "calendar"
	// SeasonTypeHarvest groups events by harvest campaign, which may span a year boundary
	SeasonTypeHarvest SeasonType = "harvest"
)

// NodeKind identifies the variant of a chain node
type NodeKind string

const (
	// NodeKindGenesis is the first node of every chain; it has no parents
	NodeKindGenesis NodeKind = "genesis"
	// NodeKindTask records a confirmed field task (spray, prune, irrigate, ...)
	NodeKindTask NodeKind = "task"
	// NodeKindObservation records a confirmed field observation
	NodeKindObservation NodeKind = "observation"
	// NodeKindFruitReceived terminates a chain segment for one fruit batch
	NodeKindFruitReceived NodeKind = "fruit_received"
)

// IsValidNodeKind checks if a node kind is valid
func IsValidNodeKind(kind NodeKind) bool {
	return kind == NodeKindGenesis ||
		kind == NodeKindTask ||
		kind == NodeKindObservation ||
		kind == NodeKindFruitReceived
}

// SourceKind identifies which collaborator entity produced an event
type SourceKind string

const (
	SourceKindTask        SourceKind = "task"
	SourceKindObservation SourceKind = "observation"
	SourceKindDelivery    SourceKind = "delivery"
	SourceKindAssignment  SourceKind = "assignment"
)

// SourceRef is a polymorphic reference to the originating record of a node.
// The referenced entity lives outside the traceability store; the ledger only
// keeps the discriminator and identifier so integrity checks never need a join.
type SourceRef struct {
	Kind SourceKind `json:"kind"`
	ID   string     `json:"id"`
}

// PrivacyLevel controls how much of an event's data enters the hashed payload
type PrivacyLevel string

const (
	// PrivacyFull hashes and stores every top-level field verbatim
	PrivacyFull PrivacyLevel = "full"
	// PrivacySummary projects a per-event-type allow-list of fields
	PrivacySummary PrivacyLevel = "summary"
	// PrivacyHashOnly reduces the public payload to a single digest of the full data
	PrivacyHashOnly PrivacyLevel = "hash_only"
)

// IsValidPrivacyLevel checks if a privacy level is valid
func IsValidPrivacyLevel(level PrivacyLevel) bool {
	return level == PrivacyFull || level == PrivacySummary || level == PrivacyHashOnly
}

// EventType identifies the kind of field activity behind a node.
// The set grows with the producing collaborators; the privacy filter falls
// back to hash_only semantics for types it has no allow-list for.
type EventType string

const (
	EventTypeSprayApplication EventType = "spray_application"
	EventTypePruning          EventType = "pruning"
	EventTypeCanopyManagement EventType = "canopy_management"
	EventTypeIrrigation       EventType = "irrigation"
	EventTypeHarvest          EventType = "harvest"
	EventTypePestObservation  EventType = "pest_observation"
	EventTypeDiseaseObserv    EventType = "disease_observation"
	EventTypePhenologyObserv  EventType = "phenology_observation"
	EventTypeFruitDelivery    EventType = "fruit_delivery"
)

// ChainOrigin records whether a chain was created explicitly by an operator
// or automatically when a block was assigned to a company for a season.
type ChainOrigin string

const (
	ChainOriginManual     ChainOrigin = "manual"
	ChainOriginAssignment ChainOrigin = "assignment"
)

// Verification failure reasons reported by the integrity verifier
const (
	ReasonBadGenesis       = "bad genesis"
	ReasonHashMismatch     = "hash mismatch"
	ReasonUnknownParent    = "unknown parent hash"
	ReasonSequenceGap      = "sequence gap or duplicate"
	ReasonStaleHead        = "stale head pointer"
	ReasonMalformedPayload = "malformed payload"
)

// VerificationResult is the outcome of a chain integrity scan.
// An invalid chain is a result, not an error: the verifier never mutates or
// repairs data, it only points at the first node that broke and why.
type VerificationResult struct {
	Valid     bool   `json:"valid"`
	NodeCount int    `json:"node_count"`
	BrokenAt  int64  `json:"broken_at,omitempty"` // sequence of the offending node, 0 when valid
	Reason    string `json:"reason,omitempty"`
}

// ChainSummary is a cheap read-only view of one block's chain for dashboards.
// No integrity recomputation happens on this path.
type ChainSummary struct {
	ChainID      string     `json:"chain_id"`
	BlockID      string     `json:"block_id"`
	Season       string     `json:"season"`
	SeasonType   SeasonType `json:"season_type"`
	Active       bool       `json:"active"`
	NodeCount    int        `json:"node_count"`
	GenesisHash  string     `json:"genesis_hash"`
	HeadHash     string     `json:"head_hash"`
	FruitBatches int        `json:"fruit_batches"`
	FruitVolume  float64    `json:"fruit_volume_kg"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// KeyEvent is one privacy-filtered entry of a provenance trace. Only fields
// that were folded into the node's hashed payload at append time appear here;
// the full event snapshot never crosses this boundary.
type KeyEvent struct {
	Sequence    int64          `json:"sequence"`
	Kind        NodeKind       `json:"kind"`
	EventType   EventType      `json:"event_type"`
	ConfirmedAt time.Time      `json:"confirmed_at"`
	Payload     map[string]any `json:"payload"`
}

// ProvenanceTrace is the full upstream story of one fruit batch.
type ProvenanceTrace struct {
	FruitID        string             `json:"fruit_id"`
	ChainID        string             `json:"chain_id"`
	BlockID        string             `json:"block_id"`
	Season         string             `json:"season"`
	ProvenanceHash string             `json:"provenance_hash"`
	Verification   VerificationResult `json:"verification"`
	KeyEvents      []KeyEvent         `json:"key_events"`
}

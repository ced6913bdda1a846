package schema

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/vinetrace/vine-ledger/internal/domain"
)

// Node represents the nodes table - one confirmed event in a chain.
// Nodes are created exactly once at confirmation time and never mutated or
// deleted; corrections require a new node. Parent references are content
// hashes rather than foreign keys, so a chain verifies from its own rows.
type Node struct {
	// ID is the node's unique identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// ChainID references the owning chain
	ChainID string `gorm:"column:chain_id;not null;type:text;uniqueIndex:idx_nodes_chain_sequence,priority:1"`
	// Kind is the node variant (genesis, task, observation, fruit_received)
	Kind domain.NodeKind `gorm:"column:kind;not null;type:text"`
	// SourceKind discriminates the originating collaborator record (nil for genesis)
	SourceKind *domain.SourceKind `gorm:"column:source_kind;type:text"`
	// SourceID identifies the originating record within its kind (nil for genesis)
	SourceID *string `gorm:"column:source_id;type:text"`
	// ParentHashes is the ordered JSON list of parent node hashes; empty for genesis
	ParentHashes datatypes.JSON `gorm:"column:parent_hashes;not null;type:jsonb"`
	// Hash is this node's content hash; globally unique across all chains
	Hash string `gorm:"column:hash;not null;uniqueIndex;type:text"`
	// Payload is the canonicalized document that was hashed into Hash
	Payload datatypes.JSON `gorm:"column:payload;not null;type:jsonb"`
	// Sequence is the strictly increasing per-chain position, 1..N with no gaps
	Sequence int64 `gorm:"column:sequence;not null;uniqueIndex:idx_nodes_chain_sequence,priority:2"`
	// ConfirmedAt is when the originating record reached its confirmed state
	ConfirmedAt time.Time `gorm:"column:confirmed_at;not null;type:timestamptz"`
	// ConfirmedBy is the actor that confirmed the originating record
	ConfirmedBy string `gorm:"column:confirmed_by;not null;type:text"`
	// CreatedAt is the timestamp when this row was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Event *Event `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Node model
func (Node) TableName() string {
	return "nodes"
}

// Parents decodes the ordered parent hash list
func (n *Node) Parents() ([]string, error) {
	if len(n.ParentHashes) == 0 {
		return nil, nil
	}
	var parents []string
	if err := json.Unmarshal(n.ParentHashes, &parents); err != nil {
		return nil, err
	}
	return parents, nil
}

// SourceRef rebuilds the polymorphic source reference, nil for genesis nodes
func (n *Node) SourceRef() *domain.SourceRef {
	if n.SourceKind == nil || n.SourceID == nil {
		return nil
	}
	return &domain.SourceRef{Kind: *n.SourceKind, ID: *n.SourceID}
}

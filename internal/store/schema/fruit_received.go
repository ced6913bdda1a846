package schema

import (
	"time"

	"gorm.io/datatypes"
)

// FruitReceived represents the fruit_received table - the terminal record that
// bridges a chain to downstream (non-traceability) systems. It holds
// non-owning references to its chain and node; deleting a batch never touches
// the log itself. ProvenanceHash summarizes the upstream chain state at
// creation time and is recomputable from the chain's node sequence alone.
type FruitReceived struct {
	// ID is the fruit batch's unique identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// ChainID references the chain this batch was harvested under
	ChainID string `gorm:"column:chain_id;not null;type:text;index"`
	// BlockID references the source vineyard block
	BlockID string `gorm:"column:block_id;not null;type:text;index"`
	// NodeID references the fruit_received node terminating the chain for this batch
	NodeID string `gorm:"column:node_id;not null;uniqueIndex;type:text"`
	// VolumeKg is the delivered fruit weight in kilograms
	VolumeKg float64 `gorm:"column:volume_kg;not null"`
	// QualityGrade is the assessed grade at the weighbridge, if recorded
	QualityGrade *string `gorm:"column:quality_grade;type:text"`
	// Metrics holds additional delivery/quality measurements as JSON
	Metrics datatypes.JSON `gorm:"column:metrics;type:jsonb"`
	// ProvenanceHash is the digest of the chain's ordered node-hash list at creation time
	ProvenanceHash string `gorm:"column:provenance_hash;not null;type:text"`
	// DeliveredAt is when the delivery was confirmed at the winery
	DeliveredAt time.Time `gorm:"column:delivered_at;not null;type:timestamptz"`
	// ConfirmedBy is the actor that confirmed the delivery
	ConfirmedBy string `gorm:"column:confirmed_by;not null;type:text"`
	// CreatedAt is the timestamp when this row was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the FruitReceived model
func (FruitReceived) TableName() string {
	return "fruit_received"
}

package schema

import (
	"time"

	"github.com/vinetrace/vine-ledger/internal/domain"
)

// Chain represents the chains table - one tamper-evident log per (vineyard block, season).
// At most one chain per (block_id, season) may be active at any time; the partial
// unique index below enforces the invariant at the database level.
type Chain struct {
	// ID is the chain's unique identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// BlockID references the vineyard block this chain records
	BlockID string `gorm:"column:block_id;not null;type:text;uniqueIndex:idx_chains_block_season_active,where:active = true;index:idx_chains_block_season,priority:1"`
	// CompanyID references the owning company; nil while a block is between owners
	CompanyID *string `gorm:"column:company_id;type:text"`
	// Season is the harvest-year grouping identifier (e.g., "2025")
	Season string `gorm:"column:season;not null;type:text;uniqueIndex:idx_chains_block_season_active,where:active = true;index:idx_chains_block_season,priority:2"`
	// SeasonType records how the season identifier is interpreted (calendar, harvest)
	SeasonType domain.SeasonType `gorm:"column:season_type;not null;type:text;default:calendar"`
	// GenesisHash is the hash of the chain's first node
	GenesisHash string `gorm:"column:genesis_hash;not null;uniqueIndex;type:text"`
	// CurrentHeadHash is the hash of the highest-sequence node; appends CAS on this column
	CurrentHeadHash string `gorm:"column:current_head_hash;not null;type:text"`
	// Active indicates whether the chain still accepts appends
	Active bool `gorm:"column:active;not null;default:true"`
	// Origin records whether the chain was created manually or by an assignment workflow
	Origin domain.ChainOrigin `gorm:"column:origin;not null;type:text;default:manual"`
	// CreatedBy is the actor that initiated chain creation
	CreatedBy string `gorm:"column:created_by;not null;type:text"`
	// ArchivedAt is set once when the chain is archived; archived chains are never resurrected
	ArchivedAt *time.Time `gorm:"column:archived_at;type:timestamptz"`
	// ArchivedBy is the actor that archived the chain
	ArchivedBy *string `gorm:"column:archived_by;type:text"`
	// ArchiveReason explains why the chain was archived (season end, reassignment, ...)
	ArchiveReason *string `gorm:"column:archive_reason;type:text"`
	// CreatedAt is the timestamp when this chain was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Nodes []Node `gorm:"foreignKey:ChainID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Chain model
func (Chain) TableName() string {
	return "chains"
}

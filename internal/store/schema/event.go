package schema

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/vinetrace/vine-ledger/internal/domain"
)

// Event represents the events table - the full-fidelity snapshot behind a node,
// decoupled from the hashed payload. The node's hashed payload must be
// derivable solely from the fields named in HashedFields; nothing outside that
// list may influence the hash.
type Event struct {
	// ID is the event's unique identifier (UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// NodeID references the owning node; each node owns at most one event
	NodeID string `gorm:"column:node_id;not null;uniqueIndex;type:text"`
	// EventType identifies the kind of field activity (spray_application, harvest, ...)
	EventType domain.EventType `gorm:"column:event_type;not null;type:text"`
	// Data is the complete event snapshot as confirmed by the collaborator
	Data datatypes.JSON `gorm:"column:data;not null;type:jsonb"`
	// PrivacyLevel is the visibility level that was applied at append time
	PrivacyLevel domain.PrivacyLevel `gorm:"column:privacy_level;not null;type:text"`
	// HashedFields is the JSON list of field names folded into the node's hashed payload
	HashedFields datatypes.JSON `gorm:"column:hashed_fields;not null;type:jsonb"`
	// CreatedAt is the timestamp when this row was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Event model
func (Event) TableName() string {
	return "events"
}

// Fields decodes the hashed field-name list
func (e *Event) Fields() ([]string, error) {
	var fields []string
	if err := json.Unmarshal(e.HashedFields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

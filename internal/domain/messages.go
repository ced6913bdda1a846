package domain

import "time"

// TraceEventKind routes a collaborator message to the right ledger operation
type TraceEventKind string

const (
	// TraceEventTaskConfirmed arrives when a field task reaches its immutable confirmed state
	TraceEventTaskConfirmed TraceEventKind = "task_confirmed"
	// TraceEventObservationConfirmed arrives when an observation is confirmed
	TraceEventObservationConfirmed TraceEventKind = "observation_confirmed"
	// TraceEventFruitDelivered arrives when a fruit delivery is confirmed at the winery
	TraceEventFruitDelivered TraceEventKind = "fruit_delivered"
	// TraceEventBlockAssigned arrives when a block is first assigned to a company for a season
	TraceEventBlockAssigned TraceEventKind = "block_assigned"
	// TraceEventBlockReassigned arrives when a block changes owning company mid-season
	TraceEventBlockReassigned TraceEventKind = "block_reassigned"
	// TraceEventSeasonEnded arrives when a season closes for a block
	TraceEventSeasonEnded TraceEventKind = "season_ended"
)

// TraceEvent is the normalized message collaborators publish to the
// traceability stream. Confirmation workflows publish exactly once per
// record, only after it reaches its confirmed state - never on draft or edit.
type TraceEvent struct {
	Kind       TraceEventKind `json:"kind"`
	BlockID    string         `json:"block_id"`
	Season     string         `json:"season"`
	SeasonType SeasonType     `json:"season_type,omitempty"`
	Actor      string         `json:"actor"`

	// Assignment fields (block_assigned / block_reassigned / season_ended)
	CompanyID  *string `json:"company_id,omitempty"`
	OldCompany string  `json:"old_company,omitempty"`
	NewCompany string  `json:"new_company,omitempty"`
	Reason     string  `json:"reason,omitempty"`

	// Confirmation fields (task_confirmed / observation_confirmed / fruit_delivered)
	SourceKind   SourceKind     `json:"source_kind,omitempty"`
	SourceID     string         `json:"source_id,omitempty"`
	EventType    EventType      `json:"event_type,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	PrivacyLevel PrivacyLevel   `json:"privacy_level,omitempty"`
	ConfirmedAt  time.Time      `json:"confirmed_at,omitempty"`

	// Delivery fields (fruit_delivered)
	VolumeKg     float64        `json:"volume_kg,omitempty"`
	QualityGrade *string        `json:"quality_grade,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	// HarvestParents lists node hashes of harvest events this delivery
	// aggregates, appended as extra parents of the fruit_received node
	HarvestParents []string `json:"harvest_parents,omitempty"`
}

// Valid performs structural validation before a message reaches the ledger
func (e *TraceEvent) Valid() bool {
	if e.BlockID == "" || e.Season == "" || e.Actor == "" {
		return false
	}

	switch e.Kind {
	case TraceEventTaskConfirmed, TraceEventObservationConfirmed:
		return e.SourceID != "" && e.EventType != "" && !e.ConfirmedAt.IsZero()
	case TraceEventFruitDelivered:
		return e.SourceID != "" && !e.ConfirmedAt.IsZero() && e.VolumeKg > 0
	case TraceEventBlockAssigned:
		return e.CompanyID != nil
	case TraceEventBlockReassigned:
		return e.OldCompany != "" && e.NewCompany != ""
	case TraceEventSeasonEnded:
		return true
	default:
		return false
	}
}

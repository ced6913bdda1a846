// Package privacy decides how much of a confirmed event's data enters the
// hashed, publicly traceable payload of its chain node versus staying in the
// internal-only snapshot.
package privacy

import (
	"fmt"
	"sort"

	"github.com/vinetrace/vine-ledger/internal/canonical"
	"github.com/vinetrace/vine-ledger/internal/domain"
)

// DigestField is the single payload key used at the hash_only level
const DigestField = "digest"

// Filter classifies event data into (hashed fields, public payload) per the
// configured privacy level. It is a strategy object selected by event type so
// the node builder never carries per-event conditionals.
//
//go:generate mockgen -source=filter.go -destination=../mocks/privacy_filter.go -package=mocks -mock_names=Filter=MockPrivacyFilter
type Filter interface {
	// Classify returns the ordered list of field names folded into the hashed
	// payload and the payload itself. The payload is derivable solely from
	// the returned fields; nothing outside them may influence the node hash.
	Classify(eventType domain.EventType, data map[string]any, level domain.PrivacyLevel) ([]string, map[string]any, error)
}

type filter struct {
	allowLists map[domain.EventType][]string
}

// DefaultAllowLists is the per-event-type projection used at the summary
// level: what a downstream buyer may see about an event. Costs, internal
// notes, and operator details never appear here.
var DefaultAllowLists = map[domain.EventType][]string{
	domain.EventTypeSprayApplication: {"product", "date", "area_ha", "target"},
	domain.EventTypePruning:          {"method", "date", "area_ha"},
	domain.EventTypeCanopyManagement: {"activity", "date", "area_ha"},
	domain.EventTypeIrrigation:       {"date", "volume_l", "method"},
	domain.EventTypeHarvest:          {"date", "variety", "volume_kg", "method"},
	domain.EventTypePestObservation:  {"pest", "date", "severity"},
	domain.EventTypeDiseaseObserv:    {"disease", "date", "severity"},
	domain.EventTypePhenologyObserv:  {"stage", "date"},
	domain.EventTypeFruitDelivery:    {"date", "variety", "volume_kg", "destination"},
}

// NewFilter creates a filter with the default per-event-type allow-lists
func NewFilter() Filter {
	return NewFilterWithAllowLists(DefaultAllowLists)
}

// NewFilterWithAllowLists creates a filter with custom summary projections
func NewFilterWithAllowLists(allowLists map[domain.EventType][]string) Filter {
	return &filter{allowLists: allowLists}
}

// Classify applies the configured privacy level to one event's data
func (f *filter) Classify(eventType domain.EventType, data map[string]any, level domain.PrivacyLevel) ([]string, map[string]any, error) {
	if !domain.IsValidPrivacyLevel(level) {
		return nil, nil, fmt.Errorf("unknown privacy level: %s", level)
	}

	switch level {
	case domain.PrivacyFull:
		return f.classifyFull(data)
	case domain.PrivacySummary:
		allowed, ok := f.allowLists[eventType]
		if !ok {
			// No projection is configured for this event type; expose a
			// digest instead of guessing which fields are safe.
			return f.classifyHashOnly(data)
		}
		return f.classifySummary(data, allowed)
	default:
		return f.classifyHashOnly(data)
	}
}

func (f *filter) classifyFull(data map[string]any) ([]string, map[string]any, error) {
	fields := make([]string, 0, len(data))
	payload := make(map[string]any, len(data))
	for k, v := range data {
		fields = append(fields, k)
		payload[k] = v
	}
	sort.Strings(fields)
	return fields, payload, nil
}

func (f *filter) classifySummary(data map[string]any, allowed []string) ([]string, map[string]any, error) {
	fields := make([]string, 0, len(allowed))
	payload := make(map[string]any, len(allowed))
	for _, k := range allowed {
		v, ok := data[k]
		if !ok {
			continue
		}
		fields = append(fields, k)
		payload[k] = v
	}
	sort.Strings(fields)
	return fields, payload, nil
}

func (f *filter) classifyHashOnly(data map[string]any) ([]string, map[string]any, error) {
	digest, err := canonical.Digest(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to digest event data: %w", err)
	}
	return []string{DigestField}, map[string]any{DigestField: digest}, nil
}

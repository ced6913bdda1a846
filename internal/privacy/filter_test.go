package privacy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinetrace/vine-ledger/internal/canonical"
	"github.com/vinetrace/vine-ledger/internal/domain"
	"github.com/vinetrace/vine-ledger/internal/privacy"
)

var sprayData = map[string]any{
	"product":       "copper sulfate",
	"date":          "2025-04-12",
	"area_ha":       2.5,
	"target":        "downy mildew",
	"operator":      "crew-7",
	"cost_estimate": 1240.50,
}

func TestClassify_FullExposesEverything(t *testing.T) {
	f := privacy.NewFilter()

	fields, payload, err := f.Classify(domain.EventTypeSprayApplication, sprayData, domain.PrivacyFull)
	require.NoError(t, err)

	assert.Equal(t, []string{"area_ha", "cost_estimate", "date", "operator", "product", "target"}, fields)
	assert.Equal(t, sprayData, payload)
}

func TestClassify_SummaryProjectsAllowList(t *testing.T) {
	f := privacy.NewFilter()

	fields, payload, err := f.Classify(domain.EventTypeSprayApplication, sprayData, domain.PrivacySummary)
	require.NoError(t, err)

	assert.Equal(t, []string{"area_ha", "date", "product", "target"}, fields)
	assert.Equal(t, map[string]any{
		"product": "copper sulfate",
		"date":    "2025-04-12",
		"area_ha": 2.5,
		"target":  "downy mildew",
	}, payload)

	// Sensitive fields never leak into the public payload
	assert.NotContains(t, payload, "operator")
	assert.NotContains(t, payload, "cost_estimate")
}

func TestClassify_SummarySkipsAbsentFields(t *testing.T) {
	f := privacy.NewFilter()

	fields, payload, err := f.Classify(domain.EventTypePruning, map[string]any{
		"method": "spur",
		"date":   "2025-07-02",
	}, domain.PrivacySummary)
	require.NoError(t, err)

	assert.Equal(t, []string{"date", "method"}, fields)
	assert.Len(t, payload, 2)
}

func TestClassify_SummaryUnknownTypeFallsBackToHashOnly(t *testing.T) {
	f := privacy.NewFilterWithAllowLists(map[domain.EventType][]string{})

	fields, payload, err := f.Classify(domain.EventTypeHarvest, sprayData, domain.PrivacySummary)
	require.NoError(t, err)

	assert.Equal(t, []string{privacy.DigestField}, fields)
	digest, ok := payload[privacy.DigestField].(string)
	require.True(t, ok)
	assert.True(t, canonical.IsDigest(digest))
}

func TestClassify_HashOnly(t *testing.T) {
	f := privacy.NewFilter()

	fields, payload, err := f.Classify(domain.EventTypeSprayApplication, sprayData, domain.PrivacyHashOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{privacy.DigestField}, fields)
	require.Len(t, payload, 1)

	digest, ok := payload[privacy.DigestField].(string)
	require.True(t, ok)
	assert.True(t, canonical.IsDigest(digest))

	// The digest is the canonical digest of the full data, so holders of the
	// original event can verify it
	expected, err := canonical.Digest(sprayData)
	require.NoError(t, err)
	assert.Equal(t, expected, digest)
}

func TestClassify_HashOnlyStableAcrossCalls(t *testing.T) {
	f := privacy.NewFilter()

	_, first, err := f.Classify(domain.EventTypeIrrigation, sprayData, domain.PrivacyHashOnly)
	require.NoError(t, err)
	_, second, err := f.Classify(domain.EventTypeIrrigation, sprayData, domain.PrivacyHashOnly)
	require.NoError(t, err)

	assert.Equal(t, first[privacy.DigestField], second[privacy.DigestField])
}

func TestClassify_UnknownPrivacyLevel(t *testing.T) {
	f := privacy.NewFilter()

	_, _, err := f.Classify(domain.EventTypeSprayApplication, sprayData, domain.PrivacyLevel("redacted"))
	assert.ErrorContains(t, err, "unknown privacy level")
}

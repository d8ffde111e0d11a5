package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineSingleResult(t *testing.T) {
	conf, reason, meta := combine([]subResult{
		{Confidence: 0.8, Reason: "solo", Metadata: map[string]any{"k": "v"}},
	})
	assert.InDelta(t, 0.8, conf, 1e-9)
	assert.Equal(t, "solo", reason)
	assert.Equal(t, "v", meta["k"])
}

func TestCombineBumpsAndCaps(t *testing.T) {
	conf, reason, _ := combine([]subResult{
		{Confidence: 0.7, Reason: "second"},
		{Confidence: 0.9, Reason: "first"},
		{Confidence: 0.5, Reason: "third"},
	})
	// Primary 0.9 plus 0.05 per extra method, capped at 0.99.
	assert.InDelta(t, 0.99, conf, 1e-9)
	assert.Equal(t, "first", reason)
}

func TestCombineTieKeepsFirst(t *testing.T) {
	_, reason, _ := combine([]subResult{
		{Confidence: 0.8, Reason: "earlier"},
		{Confidence: 0.8, Reason: "later"},
	})
	assert.Equal(t, "earlier", reason)
}

func TestCombinePrimaryMetadataWins(t *testing.T) {
	_, _, meta := combine([]subResult{
		{Confidence: 0.9, Reason: "primary", Metadata: map[string]any{"type": "domain"}},
		{Confidence: 0.6, Reason: "secondary", Metadata: map[string]any{"type": "urlPath"}},
	})
	assert.Equal(t, "domain", meta["type"])
}

func TestCombineMergesStringLists(t *testing.T) {
	_, _, meta := combine([]subResult{
		{Confidence: 0.9, Metadata: map[string]any{"methods": []string{"a", "b"}}},
		{Confidence: 0.7, Metadata: map[string]any{"methods": []string{"b", "c"}}},
	})
	merged, ok := meta["methods"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, merged)
}

func TestScanTexts(t *testing.T) {
	texts := scanTexts(map[string]any{
		"command": "rm -rf /",
		"query":   "DROP TABLE t",
		"url":     "https://example.com",
		"count":   3,
		"path":    "",
	})
	assert.ElementsMatch(t, []string{"rm -rf /", "DROP TABLE t"}, texts)
	assert.Nil(t, scanTexts(nil))
}

package detectors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

func customDetector(t *testing.T, rules ...config.CustomRule) *CustomRuleDetector {
	t.Helper()
	d, err := NewCustomRuleDetector(rules)
	require.NoError(t, err)
	return d
}

func TestCustomRuleMatchesToolName(t *testing.T) {
	d := customDetector(t, config.CustomRule{
		Name:       "no-shell",
		Expression: `toolName == "shell"`,
		Severity:   string(contracts.SeverityHigh),
		Action:     string(contracts.ActionBlock),
		Confidence: 0.9,
	})

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{"command": "ls"}))
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, contracts.CategoryCustom, det.Category)
	assert.Equal(t, "no-shell", det.Metadata["ruleName"])
	assert.Equal(t, string(contracts.ActionBlock), det.Metadata["action"])
	assert.InDelta(t, 0.9, det.Confidence, 1e-9)
}

func TestCustomRuleInspectsToolInput(t *testing.T) {
	d := customDetector(t, config.CustomRule{
		Name:       "no-sudo",
		Expression: `toolInput.command.contains("sudo")`,
		Severity:   string(contracts.SeverityCritical),
		Action:     string(contracts.ActionBlock),
	})

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{"command": "sudo reboot"}))
	require.NoError(t, err)
	require.NotNil(t, det)
	// Unset confidence falls back to 0.8.
	assert.InDelta(t, 0.8, det.Confidence, 1e-9)

	det, err = d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{"command": "whoami"}))
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestCustomRuleStrongestWins(t *testing.T) {
	d := customDetector(t,
		config.CustomRule{Name: "weak", Expression: `toolName == "shell"`, Confidence: 0.6},
		config.CustomRule{Name: "strong", Expression: `toolName == "shell"`, Confidence: 0.95},
	)

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{}))
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "strong", det.Metadata["ruleName"])
}

func TestCustomRuleDisabledSkipped(t *testing.T) {
	f := false
	d := customDetector(t, config.CustomRule{
		Name:       "off",
		Expression: `toolName == "shell"`,
		Enabled:    &f,
	})

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{}))
	require.NoError(t, err)
	assert.Nil(t, det)
}

func TestCustomRuleBadExpressionIsolated(t *testing.T) {
	d := customDetector(t,
		config.CustomRule{Name: "broken", Expression: `toolName ==`},
		config.CustomRule{Name: "good", Expression: `toolName == "shell"`, Confidence: 0.7},
	)

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{}))
	require.NoError(t, err)
	require.NotNil(t, det)
	assert.Equal(t, "good", det.Metadata["ruleName"])
	assert.Equal(t, []string{"broken"}, det.Metadata["failedRules"])
}

func TestCustomRuleAllFailedReportsError(t *testing.T) {
	d := customDetector(t, config.CustomRule{Name: "broken", Expression: `toolName ==`})

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{}))
	require.Error(t, err)
	assert.Nil(t, det)
}

func TestCustomRuleNonBoolExpression(t *testing.T) {
	d := customDetector(t, config.CustomRule{Name: "non-bool", Expression: `toolName`})

	det, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{}))
	require.Error(t, err)
	assert.Nil(t, det)
}

func TestCustomRuleProgramCacheReuse(t *testing.T) {
	d := customDetector(t, config.CustomRule{Name: "cached", Expression: `toolName == "shell"`})

	for i := 0; i < 3; i++ {
		_, err := d.Detect(context.Background(), contracts.NewToolCallContext("shell", map[string]any{}))
		require.NoError(t, err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	assert.Len(t, d.prgCache, 1)
}

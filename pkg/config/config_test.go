package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "1.0", c.Version)
	assert.True(t, *c.Global.Enabled)
	assert.Equal(t, "info", c.Global.LogLevel)
	assert.Equal(t, 100.0, c.Rules.Purchase.SpendLimits.PerTransaction)
	assert.Equal(t, 500.0, c.Rules.Purchase.SpendLimits.Daily)
	assert.Equal(t, string(contracts.ActionConfirm), c.Rules.Destructive.Action)
	assert.Equal(t, 300, c.Approval.Native.Timeout)
	assert.Equal(t, "_clawsec_confirm", c.Approval.AgentConfirm.ParameterName)
	assert.False(t, c.Approval.Webhook.Enabled)
	assert.Equal(t, 60, c.Approval.CleanupInterval)
	assert.Equal(t, 0.5, *c.Rules.Sanitization.MinConfidence)
	require.NoError(t, Validate(c))
}

func TestParse_EmptyYieldsDefaults(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Approval.Native.Timeout, c.Approval.Native.Timeout)
}

func TestParse_PartialOverride(t *testing.T) {
	doc := []byte(`
rules:
  website:
    mode: allowlist
    allowlist: ["*.example.com"]
  destructive:
    shell:
      enabled: false
approval:
  native:
    timeout: 60
`)
	c, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "allowlist", c.Rules.Website.Mode)
	assert.Equal(t, []string{"*.example.com"}, c.Rules.Website.Allowlist)
	assert.False(t, *c.Rules.Destructive.Shell.Enabled)
	assert.True(t, *c.Rules.Destructive.Cloud.Enabled) // untouched default
	assert.Equal(t, 60, c.Approval.Native.Timeout)
	// Severity/action fall back to defaults.
	assert.Equal(t, string(contracts.SeverityHigh), c.Rules.Website.Severity)
}

func TestParse_ArraysReplaceNotConcat(t *testing.T) {
	base, err := Parse([]byte(`
rules:
  website:
    blocklist: ["a.com", "b.com"]
`))
	require.NoError(t, err)
	layered, err := Parse([]byte(`
rules:
  website:
    blocklist: ["c.com"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, base.Rules.Website.Blocklist)
	assert.Equal(t, []string{"c.com"}, layered.Rules.Website.Blocklist)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative per-transaction", func(c *Config) { c.Rules.Purchase.SpendLimits.PerTransaction = -1 }, "perTransaction"},
		{"negative daily", func(c *Config) { c.Rules.Purchase.SpendLimits.Daily = -1 }, "daily"},
		{"zero native timeout", func(c *Config) { c.Approval.Native.Timeout = 0 }, "approval.native.timeout"},
		{"negative webhook timeout", func(c *Config) { c.Approval.Webhook.Timeout = -5 }, "approval.webhook.timeout"},
		{"bad webhook url", func(c *Config) { c.Approval.Webhook.URL = "not a url" }, "approval.webhook.url"},
		{"enabled webhook without url", func(c *Config) { c.Approval.Webhook.Enabled = true }, "approval.webhook.url"},
		{"bad severity", func(c *Config) { c.Rules.Secrets.Severity = "fatal" }, "rules.secrets.severity"},
		{"bad action", func(c *Config) { c.Rules.Website.Action = "maybe" }, "rules.website.action"},
		{"bad mode", func(c *Config) { c.Rules.Website.Mode = "greylist" }, "rules.website.mode"},
		{"bad log level", func(c *Config) { c.Global.LogLevel = "verbose" }, "global.logLevel"},
		{"bad version", func(c *Config) { c.Version = "9.0" }, "version"},
		{"minConfidence out of range", func(c *Config) { c.Rules.Sanitization.MinConfidence = float64Ptr(1.5) }, "minConfidence"},
		{"negative cleanup interval", func(c *Config) { c.Approval.CleanupInterval = -1 }, "approval.cleanupInterval"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := Validate(c)
			require.Error(t, err)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Field, tc.field)
		})
	}
}

func TestDiscover_WalksUpAndPrefersOrder(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	// Parent holds a .clawsec.yml; the walk should find it from the leaf.
	parentFile := filepath.Join(root, ".clawsec.yml")
	require.NoError(t, os.WriteFile(parentFile, []byte("version: \"1.0\"\n"), 0o644))
	assert.Equal(t, parentFile, Discover(nested))

	// A clawsec.yaml in the leaf wins over anything above, and over
	// lower-preference names in the same directory.
	leafHidden := filepath.Join(nested, ".clawsec.yaml")
	require.NoError(t, os.WriteFile(leafHidden, []byte(""), 0o644))
	leafMain := filepath.Join(nested, "clawsec.yaml")
	require.NoError(t, os.WriteFile(leafMain, []byte(""), 0o644))
	assert.Equal(t, leafMain, Discover(nested))
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, c.Server.Port)
}

func TestLoadFile_EmptyFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawsec.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.True(t, *c.Global.Enabled)
}

func TestParse_CustomRules(t *testing.T) {
	c, err := Parse([]byte(`
rules:
  custom:
    - name: no-prod-db
      expression: 'toolName == "Bash" && toolInput.command.contains("prod-db")'
      severity: critical
      action: block
`))
	require.NoError(t, err)
	require.Len(t, c.Rules.Custom, 1)
	assert.True(t, *c.Rules.Custom[0].Enabled)
	assert.Equal(t, 0.8, c.Rules.Custom[0].Confidence)
}

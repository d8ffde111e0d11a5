// Package config defines the engine configuration schema, its defaults,
// upward-walking file discovery, and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// SupportedVersions is the config version compatibility range.
const SupportedVersions = ">=1.0.0 <2.0.0"

// Config is the root configuration document.
type Config struct {
	Version       string              `yaml:"version" json:"version"`
	Global        GlobalConfig        `yaml:"global" json:"global"`
	LLM           LLMConfig           `yaml:"llm" json:"llm"`
	Rules         RulesConfig         `yaml:"rules" json:"rules"`
	Approval      ApprovalConfig      `yaml:"approval" json:"approval"`
	Cache         CacheConfig         `yaml:"cache" json:"cache"`
	Server        ServerConfig        `yaml:"server" json:"server"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// GlobalConfig holds engine-wide switches.
type GlobalConfig struct {
	Enabled  *bool  `yaml:"enabled" json:"enabled"`
	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// LLMConfig controls the advisory LLM-assist hook. The engine is sound
// with it disabled.
type LLMConfig struct {
	Enabled *bool   `yaml:"enabled" json:"enabled"`
	Model   *string `yaml:"model" json:"model"`
}

// RulesConfig holds the per-category detector rules.
type RulesConfig struct {
	Purchase     PurchaseRule     `yaml:"purchase" json:"purchase"`
	Website      WebsiteRule      `yaml:"website" json:"website"`
	Destructive  DestructiveRule  `yaml:"destructive" json:"destructive"`
	Secrets      SecretsRule      `yaml:"secrets" json:"secrets"`
	Exfiltration ExfiltrationRule `yaml:"exfiltration" json:"exfiltration"`
	Sanitization SanitizationRule `yaml:"sanitization" json:"sanitization"`
	Custom       []CustomRule     `yaml:"custom" json:"custom"`
}

// RuleBase carries the fields shared by every category rule.
type RuleBase struct {
	Enabled  *bool  `yaml:"enabled" json:"enabled"`
	Severity string `yaml:"severity" json:"severity"`
	Action   string `yaml:"action" json:"action"`
}

// SpendLimits bound purchase amounts per transaction and per rolling day.
type SpendLimits struct {
	PerTransaction float64 `yaml:"perTransaction" json:"perTransaction"`
	Daily          float64 `yaml:"daily" json:"daily"`
}

// PurchaseDomains configures the purchase domain sub-detector.
type PurchaseDomains struct {
	Mode      string   `yaml:"mode" json:"mode"` // blocklist | allowlist
	Blocklist []string `yaml:"blocklist" json:"blocklist"`
}

// PurchaseRule configures the purchase detector.
type PurchaseRule struct {
	RuleBase    `yaml:",inline"`
	SpendLimits *SpendLimits    `yaml:"spendLimits" json:"spendLimits"`
	Domains     PurchaseDomains `yaml:"domains" json:"domains"`
}

// WebsiteRule configures the website detector.
type WebsiteRule struct {
	RuleBase  `yaml:",inline"`
	Mode      string   `yaml:"mode" json:"mode"` // blocklist | allowlist
	Blocklist []string `yaml:"blocklist" json:"blocklist"`
	Allowlist []string `yaml:"allowlist" json:"allowlist"`
}

// SubDetectorToggle enables or disables one destructive sub-detector.
type SubDetectorToggle struct {
	Enabled *bool `yaml:"enabled" json:"enabled"`
}

// DestructiveRule configures the destructive-command detector.
type DestructiveRule struct {
	RuleBase `yaml:",inline"`
	Shell    SubDetectorToggle `yaml:"shell" json:"shell"`
	Cloud    SubDetectorToggle `yaml:"cloud" json:"cloud"`
	Code     SubDetectorToggle `yaml:"code" json:"code"`
}

// SecretsRule configures the secrets detector.
type SecretsRule struct {
	RuleBase `yaml:",inline"`
}

// ExfiltrationRule configures the exfiltration detector.
type ExfiltrationRule struct {
	RuleBase `yaml:",inline"`
}

// SanitizationCategories toggles the four injection categories.
type SanitizationCategories struct {
	InstructionOverride *bool `yaml:"instructionOverride" json:"instructionOverride"`
	SystemLeak          *bool `yaml:"systemLeak" json:"systemLeak"`
	Jailbreak           *bool `yaml:"jailbreak" json:"jailbreak"`
	EncodedPayload      *bool `yaml:"encodedPayload" json:"encodedPayload"`
}

// SanitizationRule configures the output-path sanitization detector.
type SanitizationRule struct {
	RuleBase      `yaml:",inline"`
	MinConfidence *float64               `yaml:"minConfidence" json:"minConfidence"`
	RedactMatches bool                   `yaml:"redactMatches" json:"redactMatches"`
	Categories    SanitizationCategories `yaml:"categories" json:"categories"`
}

// CustomRule is a user-defined CEL expression over the tool-call context.
// The expression sees `toolName` (string) and `toolInput` (map).
type CustomRule struct {
	Name       string  `yaml:"name" json:"name"`
	Expression string  `yaml:"expression" json:"expression"`
	Severity   string  `yaml:"severity" json:"severity"`
	Action     string  `yaml:"action" json:"action"`
	Enabled    *bool   `yaml:"enabled" json:"enabled"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// ApprovalConfig holds the three approval transports.
type ApprovalConfig struct {
	Native       NativeApproval       `yaml:"native" json:"native"`
	AgentConfirm AgentConfirmApproval `yaml:"agentConfirm" json:"agentConfirm"`
	Webhook      WebhookApproval      `yaml:"webhook" json:"webhook"`
	// CleanupInterval is the background sweep period in seconds; 0 disables
	// the sweeper and records expire lazily on access.
	CleanupInterval int `yaml:"cleanupInterval" json:"cleanupInterval"`
	// RemoveOnExpiry drops expired records during sweeps instead of
	// retaining them in the expired state.
	RemoveOnExpiry bool `yaml:"removeOnExpiry" json:"removeOnExpiry"`
}

// NativeApproval configures the in-process operator transport.
type NativeApproval struct {
	Enabled *bool `yaml:"enabled" json:"enabled"`
	Timeout int   `yaml:"timeout" json:"timeout"` // seconds
}

// AgentConfirmApproval configures the agent-retry confirmation transport.
type AgentConfirmApproval struct {
	Enabled       *bool  `yaml:"enabled" json:"enabled"`
	ParameterName string `yaml:"parameterName" json:"parameterName"`
}

// WebhookApproval configures the external webhook transport.
type WebhookApproval struct {
	Enabled             bool              `yaml:"enabled" json:"enabled"`
	URL                 string            `yaml:"url" json:"url"`
	Timeout             int               `yaml:"timeout" json:"timeout"` // seconds
	Headers             map[string]string `yaml:"headers" json:"headers"`
	CallbackURLTemplate string            `yaml:"callbackUrlTemplate" json:"callbackUrlTemplate"`
}

// CacheConfig controls the analyzer result cache.
type CacheConfig struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	TTLMs   int         `yaml:"ttlMs" json:"ttlMs"`
	Redis   RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig selects a shared Redis backend for the result cache.
// Empty Addr keeps the cache in-process.
type RedisConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	DB   int    `yaml:"db" json:"db"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host      string  `yaml:"host" json:"host"`
	Port      int     `yaml:"port" json:"port"`
	RateLimit float64 `yaml:"rateLimit" json:"rateLimit"` // requests/sec, 0 = unlimited
	RateBurst int     `yaml:"rateBurst" json:"rateBurst"`
	// AuthSecret enables HS256 bearer auth on the operator endpoints when
	// non-empty.
	AuthSecret string `yaml:"authSecret" json:"authSecret"`
}

// ObservabilityConfig controls the OpenTelemetry provider.
type ObservabilityConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SampleRate   float64 `yaml:"sampleRate" json:"sampleRate"`
	Insecure     bool    `yaml:"insecure" json:"insecure"`
}

func boolPtr(b bool) *bool          { return &b }
func float64Ptr(f float64) *float64 { return &f }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Global:  GlobalConfig{Enabled: boolPtr(true), LogLevel: "info"},
		LLM:     LLMConfig{Enabled: boolPtr(true), Model: nil},
		Rules: RulesConfig{
			Purchase: PurchaseRule{
				RuleBase:    RuleBase{Enabled: boolPtr(true), Severity: string(contracts.SeverityHigh), Action: string(contracts.ActionBlock)},
				SpendLimits: &SpendLimits{PerTransaction: 100, Daily: 500},
				Domains:     PurchaseDomains{Mode: "blocklist"},
			},
			Website: WebsiteRule{
				RuleBase: RuleBase{Enabled: boolPtr(true), Severity: string(contracts.SeverityHigh), Action: string(contracts.ActionBlock)},
				Mode:     "blocklist",
			},
			Destructive: DestructiveRule{
				RuleBase: RuleBase{Enabled: boolPtr(true), Severity: string(contracts.SeverityCritical), Action: string(contracts.ActionConfirm)},
				Shell:    SubDetectorToggle{Enabled: boolPtr(true)},
				Cloud:    SubDetectorToggle{Enabled: boolPtr(true)},
				Code:     SubDetectorToggle{Enabled: boolPtr(true)},
			},
			Secrets: SecretsRule{
				RuleBase: RuleBase{Enabled: boolPtr(true), Severity: string(contracts.SeverityCritical), Action: string(contracts.ActionBlock)},
			},
			Exfiltration: ExfiltrationRule{
				RuleBase: RuleBase{Enabled: boolPtr(true), Severity: string(contracts.SeverityHigh), Action: string(contracts.ActionBlock)},
			},
			Sanitization: SanitizationRule{
				RuleBase:      RuleBase{Enabled: boolPtr(true), Severity: string(contracts.SeverityHigh), Action: string(contracts.ActionBlock)},
				MinConfidence: float64Ptr(0.5),
				RedactMatches: false,
				Categories: SanitizationCategories{
					InstructionOverride: boolPtr(true),
					SystemLeak:          boolPtr(true),
					Jailbreak:           boolPtr(true),
					EncodedPayload:      boolPtr(true),
				},
			},
		},
		Approval: ApprovalConfig{
			Native:          NativeApproval{Enabled: boolPtr(true), Timeout: 300},
			AgentConfirm:    AgentConfirmApproval{Enabled: boolPtr(true), ParameterName: "_clawsec_confirm"},
			Webhook:         WebhookApproval{Enabled: false, Timeout: 30},
			CleanupInterval: 60,
		},
		Cache:  CacheConfig{Enabled: true, TTLMs: 5000},
		Server: ServerConfig{Host: "127.0.0.1", Port: 3180, RateLimit: 0, RateBurst: 64},
		Observability: ObservabilityConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// applyDefaults fills unset optional fields with the built-in defaults.
// Arrays present in the file replace the defaults; they are never merged.
func applyDefaults(c *Config) {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Global.Enabled == nil {
		c.Global.Enabled = d.Global.Enabled
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = d.Global.LogLevel
	}
	if c.LLM.Enabled == nil {
		c.LLM.Enabled = d.LLM.Enabled
	}

	applyRuleBase(&c.Rules.Purchase.RuleBase, d.Rules.Purchase.RuleBase)
	if c.Rules.Purchase.SpendLimits == nil {
		c.Rules.Purchase.SpendLimits = d.Rules.Purchase.SpendLimits
	}
	if c.Rules.Purchase.Domains.Mode == "" {
		c.Rules.Purchase.Domains.Mode = d.Rules.Purchase.Domains.Mode
	}

	applyRuleBase(&c.Rules.Website.RuleBase, d.Rules.Website.RuleBase)
	if c.Rules.Website.Mode == "" {
		c.Rules.Website.Mode = d.Rules.Website.Mode
	}

	applyRuleBase(&c.Rules.Destructive.RuleBase, d.Rules.Destructive.RuleBase)
	if c.Rules.Destructive.Shell.Enabled == nil {
		c.Rules.Destructive.Shell.Enabled = d.Rules.Destructive.Shell.Enabled
	}
	if c.Rules.Destructive.Cloud.Enabled == nil {
		c.Rules.Destructive.Cloud.Enabled = d.Rules.Destructive.Cloud.Enabled
	}
	if c.Rules.Destructive.Code.Enabled == nil {
		c.Rules.Destructive.Code.Enabled = d.Rules.Destructive.Code.Enabled
	}

	applyRuleBase(&c.Rules.Secrets.RuleBase, d.Rules.Secrets.RuleBase)
	applyRuleBase(&c.Rules.Exfiltration.RuleBase, d.Rules.Exfiltration.RuleBase)

	applyRuleBase(&c.Rules.Sanitization.RuleBase, d.Rules.Sanitization.RuleBase)
	if c.Rules.Sanitization.MinConfidence == nil {
		c.Rules.Sanitization.MinConfidence = d.Rules.Sanitization.MinConfidence
	}
	sc, sd := &c.Rules.Sanitization.Categories, d.Rules.Sanitization.Categories
	if sc.InstructionOverride == nil {
		sc.InstructionOverride = sd.InstructionOverride
	}
	if sc.SystemLeak == nil {
		sc.SystemLeak = sd.SystemLeak
	}
	if sc.Jailbreak == nil {
		sc.Jailbreak = sd.Jailbreak
	}
	if sc.EncodedPayload == nil {
		sc.EncodedPayload = sd.EncodedPayload
	}

	for i := range c.Rules.Custom {
		cr := &c.Rules.Custom[i]
		if cr.Enabled == nil {
			cr.Enabled = boolPtr(true)
		}
		if cr.Severity == "" {
			cr.Severity = string(contracts.SeverityMedium)
		}
		if cr.Action == "" {
			cr.Action = string(contracts.ActionWarn)
		}
		if cr.Confidence == 0 {
			cr.Confidence = 0.8
		}
	}

	if c.Approval.Native.Enabled == nil {
		c.Approval.Native.Enabled = d.Approval.Native.Enabled
	}
	if c.Approval.Native.Timeout == 0 {
		c.Approval.Native.Timeout = d.Approval.Native.Timeout
	}
	if c.Approval.AgentConfirm.Enabled == nil {
		c.Approval.AgentConfirm.Enabled = d.Approval.AgentConfirm.Enabled
	}
	if c.Approval.AgentConfirm.ParameterName == "" {
		c.Approval.AgentConfirm.ParameterName = d.Approval.AgentConfirm.ParameterName
	}
	if c.Approval.Webhook.Timeout == 0 {
		c.Approval.Webhook.Timeout = d.Approval.Webhook.Timeout
	}
	if c.Approval.CleanupInterval == 0 {
		c.Approval.CleanupInterval = d.Approval.CleanupInterval
	}

	if c.Cache.TTLMs == 0 {
		c.Cache.TTLMs = d.Cache.TTLMs
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Observability.OTLPEndpoint == "" {
		c.Observability.OTLPEndpoint = d.Observability.OTLPEndpoint
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = d.Observability.SampleRate
	}
}

func applyRuleBase(r *RuleBase, d RuleBase) {
	if r.Enabled == nil {
		r.Enabled = d.Enabled
	}
	if r.Severity == "" {
		r.Severity = d.Severity
	}
	if r.Action == "" {
		r.Action = d.Action
	}
}

// Parse unmarshals and validates a YAML document, applying defaults.
// Empty input yields the defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ConfigurationError{Field: "(document)", Reason: err.Error()}
	}
	applyDefaults(&c)
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and parses a config file. A missing or empty file yields
// the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	if len(data) == 0 {
		return Default(), nil
	}
	return Parse(data)
}

// fileNames is the discovery preference order within one directory.
var fileNames = []string{"clawsec.yaml", "clawsec.yml", ".clawsec.yaml", ".clawsec.yml"}

// Discover walks from startDir up to the filesystem root and returns the
// first config file found, or "" when none exists.
func Discover(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Load discovers and loads configuration starting from startDir.
func Load(startDir string) (*Config, error) {
	path := Discover(startDir)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// ConfigurationError names the rejected field so the caller can act
// without log access.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Validate rejects negative limits, negative timeouts, malformed webhook
// URLs, enum mismatches, and incompatible versions.
func Validate(c *Config) error {
	if c.Version != "" {
		v, err := semver.NewVersion(c.Version)
		if err != nil {
			return &ConfigurationError{Field: "version", Reason: fmt.Sprintf("not a version: %q", c.Version)}
		}
		constraint, err := semver.NewConstraint(SupportedVersions)
		if err != nil {
			return fmt.Errorf("internal version constraint: %w", err)
		}
		if !constraint.Check(v) {
			return &ConfigurationError{Field: "version", Reason: fmt.Sprintf("%q outside supported range %s", c.Version, SupportedVersions)}
		}
	}

	switch c.Global.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigurationError{Field: "global.logLevel", Reason: fmt.Sprintf("unknown level %q", c.Global.LogLevel)}
	}

	type named struct {
		field string
		base  RuleBase
	}
	for _, r := range []named{
		{"rules.purchase", c.Rules.Purchase.RuleBase},
		{"rules.website", c.Rules.Website.RuleBase},
		{"rules.destructive", c.Rules.Destructive.RuleBase},
		{"rules.secrets", c.Rules.Secrets.RuleBase},
		{"rules.exfiltration", c.Rules.Exfiltration.RuleBase},
		{"rules.sanitization", c.Rules.Sanitization.RuleBase},
	} {
		if _, err := contracts.ParseSeverity(r.base.Severity); err != nil {
			return &ConfigurationError{Field: r.field + ".severity", Reason: err.Error()}
		}
		if _, err := contracts.ParseAction(r.base.Action); err != nil {
			return &ConfigurationError{Field: r.field + ".action", Reason: err.Error()}
		}
	}

	if sl := c.Rules.Purchase.SpendLimits; sl != nil {
		if sl.PerTransaction < 0 {
			return &ConfigurationError{Field: "rules.purchase.spendLimits.perTransaction", Reason: "must be >= 0"}
		}
		if sl.Daily < 0 {
			return &ConfigurationError{Field: "rules.purchase.spendLimits.daily", Reason: "must be >= 0"}
		}
	}
	switch c.Rules.Purchase.Domains.Mode {
	case "blocklist", "allowlist":
	default:
		return &ConfigurationError{Field: "rules.purchase.domains.mode", Reason: fmt.Sprintf("unknown mode %q", c.Rules.Purchase.Domains.Mode)}
	}
	switch c.Rules.Website.Mode {
	case "blocklist", "allowlist":
	default:
		return &ConfigurationError{Field: "rules.website.mode", Reason: fmt.Sprintf("unknown mode %q", c.Rules.Website.Mode)}
	}

	if mc := c.Rules.Sanitization.MinConfidence; mc != nil && (*mc < 0 || *mc > 1) {
		return &ConfigurationError{Field: "rules.sanitization.minConfidence", Reason: "must be in [0,1]"}
	}

	for i, cr := range c.Rules.Custom {
		field := fmt.Sprintf("rules.custom[%d]", i)
		if cr.Name == "" {
			return &ConfigurationError{Field: field + ".name", Reason: "required"}
		}
		if cr.Expression == "" {
			return &ConfigurationError{Field: field + ".expression", Reason: "required"}
		}
		if _, err := contracts.ParseSeverity(cr.Severity); err != nil {
			return &ConfigurationError{Field: field + ".severity", Reason: err.Error()}
		}
		if _, err := contracts.ParseAction(cr.Action); err != nil {
			return &ConfigurationError{Field: field + ".action", Reason: err.Error()}
		}
		if cr.Confidence < 0 || cr.Confidence > 1 {
			return &ConfigurationError{Field: field + ".confidence", Reason: "must be in [0,1]"}
		}
	}

	if c.Approval.Native.Timeout <= 0 {
		return &ConfigurationError{Field: "approval.native.timeout", Reason: "must be > 0"}
	}
	if c.Approval.Webhook.Timeout < 0 {
		return &ConfigurationError{Field: "approval.webhook.timeout", Reason: "must be >= 0"}
	}
	if c.Approval.Webhook.URL != "" {
		u, err := url.Parse(c.Approval.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigurationError{Field: "approval.webhook.url", Reason: fmt.Sprintf("not an http(s) URL: %q", c.Approval.Webhook.URL)}
		}
	}
	if c.Approval.Webhook.Enabled && c.Approval.Webhook.URL == "" {
		return &ConfigurationError{Field: "approval.webhook.url", Reason: "required when webhook approval is enabled"}
	}
	if c.Approval.CleanupInterval < 0 {
		return &ConfigurationError{Field: "approval.cleanupInterval", Reason: "must be >= 0"}
	}

	if c.Cache.TTLMs < 0 {
		return &ConfigurationError{Field: "cache.ttlMs", Reason: "must be >= 0"}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ConfigurationError{Field: "server.port", Reason: "must be in [0,65535]"}
	}
	if c.Server.RateLimit < 0 {
		return &ConfigurationError{Field: "server.rateLimit", Reason: "must be >= 0"}
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return &ConfigurationError{Field: "observability.sampleRate", Reason: "must be in [0,1]"}
	}
	return nil
}

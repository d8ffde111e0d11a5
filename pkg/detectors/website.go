package detectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
	"github.com/clawsec-labs/clawsec/pkg/patterns"
)

// siteCategory classifies a domain into a built-in threat family.
type siteCategory struct {
	name     string // malware | phishing | gambling | adult
	severity contracts.Severity
}

var (
	dangerousSeverity = contracts.SeverityCritical
	warningSeverity   = contracts.SeverityMedium
)

// Keyword families for domain classification. Dangerous families force
// critical severity, warning families force medium.
var (
	malwareKeywords  = []string{"crack", "keygen", "warez", "nulled", "serials", "malware"}
	phishingPatterns = []string{
		// Homograph / typosquat shapes of high-value brands. Double-star
		// globs so the match can cross label boundaries.
		"**paypa1**", "**g00gle**", "**micr0soft**",
		"**amaz0n**", "**faceb00k**", "**app1e**",
	}
	suspiciousTLDs   = []string{"tk", "ml", "ga", "cf", "gq"}
	gamblingKeywords = []string{"casino", "poker", "slots", "roulette", "betting", "gambl", "wager", "lottery"}
	adultKeywords    = []string{"porn", "xxx", "nsfw", "hentai", "xvideos", "redtube"}
)

// WebsiteDetector evaluates the context URL against the configured mode
// (blocklist or allowlist) and the built-in category families.
type WebsiteDetector struct {
	rule config.WebsiteRule
}

// NewWebsiteDetector builds the detector from its rule.
func NewWebsiteDetector(rule config.WebsiteRule) *WebsiteDetector {
	return &WebsiteDetector{rule: rule}
}

func (d *WebsiteDetector) Name() string { return string(contracts.CategoryWebsite) }

// Detect applies the mode verdict, then folds a category hit into it.
// The mode verdict stays authoritative for confidence and the matched
// pattern; the category can only escalate.
func (d *WebsiteDetector) Detect(_ context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error) {
	if d.rule.Enabled == nil || !*d.rule.Enabled {
		return nil, nil
	}
	domain := patterns.ExtractDomain(tcc.URL)
	if domain == "" {
		return nil, nil
	}

	modeDet := d.modeVerdict(domain, tcc.URL)
	catDet := d.categoryVerdict(domain, tcc.URL)

	switch {
	case modeDet == nil:
		return catDet, nil
	case catDet == nil:
		return modeDet, nil
	default:
		return mergeSiteVerdicts(modeDet, catDet), nil
	}
}

// mergeSiteVerdicts combines a mode verdict with a category hit on the
// same domain. The mode verdict keeps its reason, confidence, and
// matchedPattern; the category contributes its classification and can
// raise severity and confidence, never lower them.
func mergeSiteVerdicts(mode, cat *contracts.Detection) *contracts.Detection {
	merged := *mode
	merged.Metadata = make(map[string]any, len(mode.Metadata)+1)
	for k, v := range mode.Metadata {
		merged.Metadata[k] = v
	}
	if name, ok := cat.Metadata["websiteCategory"]; ok {
		merged.Metadata["websiteCategory"] = name
	}
	if cat.Severity.Rank() > merged.Severity.Rank() {
		merged.Severity = cat.Severity
	}
	if cat.Confidence > merged.Confidence {
		merged.Confidence = cat.Confidence
	}
	merged.Reason = mode.Reason + "; " + cat.Reason
	return &merged
}

func (d *WebsiteDetector) modeVerdict(domain, rawURL string) *contracts.Detection {
	sev := contracts.Severity(d.rule.Severity)
	switch d.rule.Mode {
	case "allowlist":
		if len(d.rule.Allowlist) == 0 {
			// Empty allowlist blocks everything.
			return &contracts.Detection{
				Category:   contracts.CategoryWebsite,
				Severity:   sev,
				Confidence: 0.99,
				Reason:     fmt.Sprintf("domain %s blocked: allowlist mode with empty allowlist", domain),
				Metadata:   map[string]any{"domain": domain, "url": rawURL, "mode": "allowlist"},
			}
		}
		if _, ok := patterns.MatchAnyDomain(domain, d.rule.Allowlist); ok {
			return nil
		}
		return &contracts.Detection{
			Category:   contracts.CategoryWebsite,
			Severity:   sev,
			Confidence: 0.95,
			Reason:     fmt.Sprintf("domain %s is not in the allowlist", domain),
			Metadata:   map[string]any{"domain": domain, "url": rawURL, "mode": "allowlist"},
		}
	default: // blocklist
		m, ok := patterns.MatchAnyDomain(domain, d.rule.Blocklist)
		if !ok {
			return nil
		}
		return &contracts.Detection{
			Category:   contracts.CategoryWebsite,
			Severity:   sev,
			Confidence: m.Confidence,
			Reason:     fmt.Sprintf("domain %s matches blocklist pattern %q", domain, m.Pattern),
			Metadata:   map[string]any{"domain": domain, "url": rawURL, "mode": "blocklist", "matchedPattern": m.Pattern},
		}
	}
}

func (d *WebsiteDetector) categoryVerdict(domain, rawURL string) *contracts.Detection {
	cat, pattern, conf := classifyDomain(domain)
	if cat == nil {
		return nil
	}
	return &contracts.Detection{
		Category:   contracts.CategoryWebsite,
		Severity:   cat.severity,
		Confidence: conf,
		Reason:     fmt.Sprintf("domain %s classified as %s (%s)", domain, cat.name, pattern),
		Metadata: map[string]any{
			"domain":          domain,
			"url":             rawURL,
			"websiteCategory": cat.name,
			"matchedPattern":  pattern,
		},
	}
}

// classifyDomain returns the first matching category family.
// Dangerous categories (malware, phishing) are checked before warning
// categories (gambling, adult) so the stronger verdict wins.
func classifyDomain(domain string) (*siteCategory, string, float64) {
	for _, kw := range malwareKeywords {
		if strings.Contains(domain, kw) {
			return &siteCategory{name: "malware", severity: dangerousSeverity}, kw, 0.85
		}
	}
	for _, p := range phishingPatterns {
		if m, ok := patterns.MatchDomain(domain, p); ok {
			return &siteCategory{name: "phishing", severity: dangerousSeverity}, m.Pattern, 0.9
		}
	}
	if tld := lastLabel(domain); tld != "" {
		for _, s := range suspiciousTLDs {
			if tld == s {
				return &siteCategory{name: "phishing", severity: dangerousSeverity}, "." + s, 0.7
			}
		}
	}
	for _, kw := range gamblingKeywords {
		if strings.Contains(domain, kw) {
			return &siteCategory{name: "gambling", severity: warningSeverity}, kw, 0.8
		}
	}
	for _, kw := range adultKeywords {
		if strings.Contains(domain, kw) {
			return &siteCategory{name: "adult", severity: warningSeverity}, kw, 0.8
		}
	}
	return nil, "", 0
}

func lastLabel(domain string) string {
	idx := strings.LastIndexByte(domain, '.')
	if idx < 0 || idx == len(domain)-1 {
		return ""
	}
	return domain[idx+1:]
}

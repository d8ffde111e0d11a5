package detectors

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// secretPattern is one high-signal token shape.
type secretPattern struct {
	kind       string
	re         *regexp.Regexp
	confidence float64
}

var secretPatterns = []secretPattern{
	{"aws-access-key", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`), 0.98},
	{"private-key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |ENCRYPTED )?PRIVATE KEY-----`), 0.99},
	// OpenAI / Anthropic style bearer tokens with a minimum length.
	{"api-token", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`), 0.95},
	{"github-token", regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`), 0.97},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`), 0.95},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{5,}\b`), 0.9},
	{"api-key", regexp.MustCompile(`(?i)\bapi[_-]?key\s*[:=]\s*["']?[A-Za-z0-9_\-]{16,}`), 0.85},
}

// SecretMatch is one located secret occurrence within a text.
type SecretMatch struct {
	Kind  string
	Start int
	End   int
}

// ScanSecrets locates every secret-shaped span in text, longest-first and
// non-overlapping.
func ScanSecrets(text string) []SecretMatch {
	var out []SecretMatch
	claimed := make([]bool, len(text))
	for _, p := range secretPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			overlap := false
			for i := loc[0]; i < loc[1] && i < len(claimed); i++ {
				if claimed[i] {
					overlap = true
					break
				}
			}
			if overlap {
				continue
			}
			for i := loc[0]; i < loc[1] && i < len(claimed); i++ {
				claimed[i] = true
			}
			out = append(out, SecretMatch{Kind: p.kind, Start: loc[0], End: loc[1]})
		}
	}
	return out
}

// RedactSecrets replaces every secret span with a short typed marker.
// The returned slice describes each replacement.
func RedactSecrets(text string) (string, []SecretMatch) {
	matches := ScanSecrets(text)
	if len(matches) == 0 {
		return text, nil
	}
	// Replace back-to-front so earlier offsets stay valid.
	ordered := make([]SecretMatch, len(matches))
	copy(ordered, matches)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Start > ordered[i].Start {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	result := text
	for _, m := range ordered {
		result = result[:m.Start] + "[REDACTED:" + m.Kind + "]" + result[m.End:]
	}
	return result, matches
}

// SecretsDetector flags secret material in tool input. The same pattern
// tables drive the output-filter redaction pass.
type SecretsDetector struct {
	rule config.SecretsRule
}

// NewSecretsDetector builds the detector from its rule.
func NewSecretsDetector(rule config.SecretsRule) *SecretsDetector {
	return &SecretsDetector{rule: rule}
}

func (d *SecretsDetector) Name() string { return string(contracts.CategorySecrets) }

// Detect walks every string in the tool input and reports the strongest
// secret-shaped hit.
func (d *SecretsDetector) Detect(_ context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error) {
	if d.rule.Enabled == nil || !*d.rule.Enabled {
		return nil, nil
	}

	bestConf := 0.0
	bestKind := ""
	kinds := map[string]bool{}
	for _, text := range collectStrings(tcc.ToolInput, 0) {
		for _, p := range secretPatterns {
			if p.re.MatchString(text) {
				kinds[p.kind] = true
				if p.confidence > bestConf {
					bestConf = p.confidence
					bestKind = p.kind
				}
			}
		}
	}
	if bestKind == "" {
		return nil, nil
	}

	kindList := make([]string, 0, len(kinds))
	for k := range kinds {
		kindList = append(kindList, k)
	}
	sort.Strings(kindList)
	return &contracts.Detection{
		Category:   contracts.CategorySecrets,
		Severity:   contracts.Severity(d.rule.Severity),
		Confidence: bestConf,
		Reason:     fmt.Sprintf("tool input contains %s material", bestKind),
		Metadata:   map[string]any{"type": bestKind, "kinds": kindList},
	}, nil
}

// collectStrings walks a value tree gathering string leaves. Depth-limited;
// unknown shapes contribute nothing.
func collectStrings(v any, depth int) []string {
	if depth > 6 {
		return nil
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case map[string]any:
		var out []string
		for _, inner := range x {
			out = append(out, collectStrings(inner, depth+1)...)
		}
		return out
	case []any:
		var out []string
		for _, inner := range x {
			out = append(out, collectStrings(inner, depth+1)...)
		}
		return out
	}
	return nil
}

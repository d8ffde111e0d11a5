package detectors

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// Injection categories.
const (
	InjectionInstructionOverride = "instructionOverride"
	InjectionSystemLeak          = "systemLeak"
	InjectionJailbreak           = "jailbreak"
	InjectionEncodedPayload      = "encodedPayload"
)

// injectionPattern is one prompt-injection shape within a category.
type injectionPattern struct {
	category   string
	re         *regexp.Regexp
	confidence float64
}

var injectionPatterns = []injectionPattern{
	// Instruction override.
	{InjectionInstructionOverride, regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|messages|directions)\b`), 0.9},
	{InjectionInstructionOverride, regexp.MustCompile(`(?i)\bdisregard\s+(all\s+|any\s+)?(previous|prior|above|your)\s+(instructions|rules|guidelines)\b`), 0.9},
	{InjectionInstructionOverride, regexp.MustCompile(`(?i)\bforget\s+(everything|all)\s+(you|above|before)\b`), 0.8},
	{InjectionInstructionOverride, regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`), 0.75},
	{InjectionInstructionOverride, regexp.MustCompile(`(?i)\byou\s+must\s+now\s+(only\s+)?(respond|act|behave|obey)\b`), 0.8},
	{InjectionInstructionOverride, regexp.MustCompile(`(?i)\boverride\s+(your\s+)?(instructions|system\s+prompt|safety)\b`), 0.85},

	// System prompt leak.
	{InjectionSystemLeak, regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|display)\s+(me\s+)?(your\s+)?(full\s+|entire\s+|original\s+)?(system\s+prompt|initial\s+instructions|hidden\s+instructions)\b`), 0.85},
	{InjectionSystemLeak, regexp.MustCompile(`(?i)\bwhat\s+(are|were)\s+your\s+(original\s+|initial\s+|system\s+)?instructions\b`), 0.75},
	{InjectionSystemLeak, regexp.MustCompile(`(?i)\bverbatim\b[^.]*\bsystem\s+prompt\b`), 0.8},

	// Jailbreak.
	{InjectionJailbreak, regexp.MustCompile(`(?i)\b(DAN|developer)\s+mode\b`), 0.85},
	{InjectionJailbreak, regexp.MustCompile(`(?i)\bjailbreak\b`), 0.8},
	{InjectionJailbreak, regexp.MustCompile(`(?i)\bpretend\s+(you\s+are|to\s+be)\s+(an?\s+)?(ai|model|assistant)?\s*(with(out)?|free\s+of)\s+(no\s+)?(restrictions|limits|filters|guidelines)\b`), 0.85},
	{InjectionJailbreak, regexp.MustCompile(`(?i)\bact\s+as\s+if\s+you\s+have\s+no\s+(restrictions|rules|guidelines|filters)\b`), 0.85},
	{InjectionJailbreak, regexp.MustCompile(`(?i)\byou\s+(have|are)\s+no\s+(longer\s+)?(bound|restricted|limited)\s+by\b`), 0.8},

	// Encoded payload.
	{InjectionEncodedPayload, regexp.MustCompile(`\b[A-Za-z0-9+/]{120,}={0,2}\b`), 0.65},
	{InjectionEncodedPayload, regexp.MustCompile(`(?i)\bdecode\s+(this|the\s+following)\s+(base64|hex|rot13)\b`), 0.75},
	{InjectionEncodedPayload, regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){8,}`), 0.7},
	{InjectionEncodedPayload, regexp.MustCompile(`(?:&#x?[0-9a-fA-F]{2,6};){8,}`), 0.7},
}

// InjectionMatch is one located injection span within the folded text.
type InjectionMatch struct {
	Category   string
	Confidence float64
	Start      int
	End        int
}

// SanitizationScanner scans tool output for prompt-injection content.
// It is not part of the input fan-out; the output filter drives it.
type SanitizationScanner struct {
	rule config.SanitizationRule
}

// NewSanitizationScanner builds the scanner from its rule.
func NewSanitizationScanner(rule config.SanitizationRule) *SanitizationScanner {
	return &SanitizationScanner{rule: rule}
}

// Enabled reports whether the scanner participates in output filtering.
func (s *SanitizationScanner) Enabled() bool {
	return s.rule.Enabled != nil && *s.rule.Enabled
}

// RedactMatches reports whether matched spans should be redacted instead
// of blocking the whole output.
func (s *SanitizationScanner) RedactMatches() bool { return s.rule.RedactMatches }

// Action returns the configured rule action.
func (s *SanitizationScanner) Action() string { return s.rule.Action }

func (s *SanitizationScanner) minConfidence() float64 {
	if s.rule.MinConfidence != nil {
		return *s.rule.MinConfidence
	}
	return 0.5
}

func (s *SanitizationScanner) categoryEnabled(cat string) bool {
	c := s.rule.Categories
	var toggle *bool
	switch cat {
	case InjectionInstructionOverride:
		toggle = c.InstructionOverride
	case InjectionSystemLeak:
		toggle = c.SystemLeak
	case InjectionJailbreak:
		toggle = c.Jailbreak
	case InjectionEncodedPayload:
		toggle = c.EncodedPayload
	}
	// Categories default on; only an explicit false disables.
	return toggle == nil || *toggle
}

// FoldText normalizes text for scanning: NFKC collapses fullwidth and
// compatibility forms that evade ASCII-oriented patterns.
func FoldText(text string) string {
	return norm.NFKC.String(text)
}

// Scan folds the text and returns every enabled-category match at or above
// the confidence floor, plus the folded text the spans index into.
func (s *SanitizationScanner) Scan(text string) (string, []InjectionMatch) {
	folded := FoldText(text)
	minConf := s.minConfidence()

	var out []InjectionMatch
	for _, p := range injectionPatterns {
		if p.confidence < minConf || !s.categoryEnabled(p.category) {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(folded, -1) {
			out = append(out, InjectionMatch{
				Category:   p.category,
				Confidence: p.confidence,
				Start:      loc[0],
				End:        loc[1],
			})
		}
	}
	return folded, out
}

// Evaluate converts scan hits into a single detection, or nil when clean.
func (s *SanitizationScanner) Evaluate(text string) (*contracts.Detection, string, []InjectionMatch) {
	if !s.Enabled() {
		return nil, text, nil
	}
	folded, matches := s.Scan(text)
	if len(matches) == 0 {
		return nil, folded, nil
	}

	best := matches[0]
	cats := map[string]bool{}
	for _, m := range matches {
		cats[m.Category] = true
		if m.Confidence > best.Confidence {
			best = m
		}
	}
	catList := make([]string, 0, len(cats))
	for _, c := range []string{InjectionInstructionOverride, InjectionSystemLeak, InjectionJailbreak, InjectionEncodedPayload} {
		if cats[c] {
			catList = append(catList, c)
		}
	}

	conf := best.Confidence + 0.05*float64(len(cats)-1)
	if conf > 0.99 {
		conf = 0.99
	}
	return &contracts.Detection{
		Category:   contracts.CategorySanitization,
		Severity:   contracts.Severity(s.rule.Severity),
		Confidence: conf,
		Reason:     fmt.Sprintf("tool output contains %s content", strings.Join(catList, ", ")),
		Metadata:   map[string]any{"categories": catList, "matchCount": len(matches)},
	}, folded, matches
}

// RedactInjections replaces each matched span in the folded text with a
// category marker. Spans are applied back-to-front.
func RedactInjections(folded string, matches []InjectionMatch) string {
	ordered := make([]InjectionMatch, len(matches))
	copy(ordered, matches)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Start > ordered[i].Start {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	result := folded
	prevStart := len(folded) + 1
	for _, m := range ordered {
		if m.End > prevStart {
			// Overlapping span already rewritten.
			continue
		}
		result = result[:m.Start] + "[REMOVED:" + m.Category + "]" + result[m.End:]
		prevStart = m.Start
	}
	return result
}

// Package outputfilter post-processes tool output before it reaches the
// agent: prompt-injection sanitization first, then secret redaction.
package outputfilter

import (
	"log/slog"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
	"github.com/clawsec-labs/clawsec/pkg/detectors"
)

// Result is the filtered view of one tool output.
type Result struct {
	Allowed bool   `json:"allowed"`
	Output  string `json:"output"`
	// Detection is set when the sanitization stage matched.
	Detection          *contracts.Detection `json:"detection,omitempty"`
	RedactedInjections int                  `json:"redactedInjections,omitempty"`
	RedactedSecrets    int                  `json:"redactedSecrets,omitempty"`
}

// Filter runs the two-stage output pass.
type Filter struct {
	sanitizer      *detectors.SanitizationScanner
	secretsEnabled bool
	logger         *slog.Logger
}

// New builds the filter from the rules config.
func New(rules config.RulesConfig, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		sanitizer:      detectors.NewSanitizationScanner(rules.Sanitization),
		secretsEnabled: rules.Secrets.Enabled != nil && *rules.Secrets.Enabled,
		logger:         logger,
	}
}

// Apply filters one tool output. Non-string outputs are canonically
// stringified first. Stage one may reject the whole output (block) or
// replace matched spans (redactMatches); stage two redacts secret-shaped
// spans with typed markers. A fault in the secrets scan logs and returns
// the text unfiltered by that stage.
func (f *Filter) Apply(output any) Result {
	text := contracts.Stringify(output)
	result := Result{Allowed: true, Output: text}

	if f.sanitizer.Enabled() {
		det, folded, matches := f.sanitizer.Evaluate(text)
		if det != nil {
			result.Detection = det
			switch {
			case f.sanitizer.RedactMatches():
				result.Output = detectors.RedactInjections(folded, matches)
				result.RedactedInjections = len(matches)
			case f.sanitizer.Action() == string(contracts.ActionBlock):
				result.Allowed = false
				result.Output = ""
				return result
			}
		}
	}

	if f.secretsEnabled {
		result.Output, result.RedactedSecrets = f.redactSecrets(result.Output)
	}
	return result
}

// redactSecrets wraps the scan so a pattern fault cannot take the output
// path down. Fail-open: the unredacted text is returned on panic.
func (f *Filter) redactSecrets(text string) (out string, redacted int) {
	out = text
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("secrets output scan failed, passing output through",
				slog.Any("panic", r))
			out = text
			redacted = 0
		}
	}()
	cleaned, matches := detectors.RedactSecrets(text)
	return cleaned, len(matches)
}

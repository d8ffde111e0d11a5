// Package detectors implements the category detectors of the rule engine.
// Each detector inspects a normalized tool-call context and emits at most
// one Detection; the analyzer composes them into a single decision.
package detectors

import (
	"context"
	"sort"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// Detector is the single capability every category detector satisfies.
// A disabled detector returns (nil, nil) without inspecting its input.
type Detector interface {
	Name() string
	Detect(ctx context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error)
}

// scanFields are the tool-input keys whose string values are scanned by the
// text-oriented detectors.
var scanFields = []string{"command", "query", "script", "code", "content", "bash", "path"}

// scanTexts collects the scannable free-text values of a tool input.
// Unknown shapes yield no text, never a failure.
func scanTexts(input map[string]any) []string {
	if input == nil {
		return nil
	}
	var out []string
	for _, f := range scanFields {
		if s, ok := input[f].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// subResult is one sub-detector hit prior to combination.
type subResult struct {
	Confidence float64
	Reason     string
	Metadata   map[string]any
}

// combine merges sub-detector hits per the combination rule: the primary is
// the highest-confidence hit and the combined confidence is
// min(0.99, c1 + 0.05*(n-1)). Metadata unions; list-valued entries dedup.
func combine(subs []subResult) (float64, string, map[string]any) {
	if len(subs) == 0 {
		return 0, "", nil
	}
	sorted := make([]subResult, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	primary := sorted[0]

	conf := primary.Confidence + 0.05*float64(len(subs)-1)
	if conf > 0.99 {
		conf = 0.99
	}

	meta := make(map[string]any)
	for i := len(sorted) - 1; i >= 0; i-- {
		for k, v := range sorted[i].Metadata {
			if existing, ok := meta[k]; ok {
				if merged, ok := mergeStringLists(existing, v); ok {
					meta[k] = merged
					continue
				}
			}
			meta[k] = v
		}
	}
	return conf, primary.Reason, meta
}

// mergeStringLists unions two []string metadata values preserving order.
func mergeStringLists(a, b any) ([]string, bool) {
	as, aok := a.([]string)
	bs, bok := b.([]string)
	if !aok || !bok {
		return nil, false
	}
	seen := make(map[string]bool, len(as)+len(bs))
	out := make([]string, 0, len(as)+len(bs))
	for _, s := range append(append([]string{}, as...), bs...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, true
}

package detectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// CustomRuleDetector evaluates user-defined CEL expressions over the
// tool-call context. Expressions see `toolName` (string) and `toolInput`
// (dynamic map) and must yield a bool. Compiled programs are cached per
// expression; a rule that fails to compile or evaluate is skipped so one
// bad expression cannot take down the analysis.
type CustomRuleDetector struct {
	rules []config.CustomRule

	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCustomRuleDetector builds the detector and its CEL environment.
func NewCustomRuleDetector(rules []config.CustomRule) (*CustomRuleDetector, error) {
	env, err := cel.NewEnv(
		cel.Variable("toolName", cel.StringType),
		cel.Variable("toolInput", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CustomRuleDetector{
		rules:    rules,
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

func (d *CustomRuleDetector) Name() string { return string(contracts.CategoryCustom) }

// Detect evaluates every enabled rule and reports the strongest match.
// Ties keep the earlier rule.
func (d *CustomRuleDetector) Detect(_ context.Context, tcc *contracts.ToolCallContext) (*contracts.Detection, error) {
	if len(d.rules) == 0 {
		return nil, nil
	}

	input := map[string]any{
		"toolName":  tcc.ToolName,
		"toolInput": tcc.ToolInput,
	}

	var best *contracts.Detection
	var failed []string
	for _, rule := range d.rules {
		if rule.Enabled != nil && !*rule.Enabled {
			continue
		}
		matched, err := d.evaluateExpr(rule.Expression, input)
		if err != nil {
			failed = append(failed, rule.Name)
			continue
		}
		if !matched {
			continue
		}
		conf := rule.Confidence
		if conf <= 0 {
			conf = 0.8
		}
		det := &contracts.Detection{
			Category:   contracts.CategoryCustom,
			Severity:   contracts.Severity(rule.Severity),
			Confidence: conf,
			Reason:     fmt.Sprintf("custom rule %q matched", rule.Name),
			Metadata: map[string]any{
				"ruleName": rule.Name,
				"action":   rule.Action,
			},
		}
		if best == nil || det.Confidence > best.Confidence {
			best = det
		}
	}
	if best != nil && len(failed) > 0 {
		best.Metadata["failedRules"] = failed
	}
	if best == nil && len(failed) == len(d.rules) && len(failed) > 0 {
		return nil, fmt.Errorf("all %d custom rules failed to evaluate", len(failed))
	}
	return best, nil
}

func (d *CustomRuleDetector) evaluateExpr(expr string, input map[string]any) (bool, error) {
	d.mu.RLock()
	prg, hit := d.prgCache[expr]
	d.mu.RUnlock()

	if !hit {
		d.mu.Lock()
		if prg, hit = d.prgCache[expr]; !hit {
			ast, issues := d.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				d.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := d.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				d.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			d.prgCache[expr] = p
			prg = p
		}
		d.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not yield a bool")
	}
	return val, nil
}

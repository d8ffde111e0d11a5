// Package analyzer fans a tool call out to the category detectors, merges
// their detections into a single verdict, and optionally short-circuits
// repeated identical calls through a result cache.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
	"github.com/clawsec-labs/clawsec/pkg/detectors"
	"github.com/clawsec-labs/clawsec/pkg/ledger"
)

// Analyzer owns the input-path detector set and the decision merge.
type Analyzer struct {
	cfg       *config.Config
	detectors []detectors.Detector
	cache     Cache
	cacheTTL  time.Duration
	logger    *slog.Logger
	clock     func() time.Time
}

// New builds the analyzer from config, wiring the purchase detector to the
// shared spend ledger. The sanitization scanner is output-path only and is
// not part of the fan-out.
func New(cfg *config.Config, l *ledger.Ledger, cache Cache, logger *slog.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dets := []detectors.Detector{
		detectors.NewPurchaseDetector(cfg.Rules.Purchase, l),
		detectors.NewWebsiteDetector(cfg.Rules.Website),
		detectors.NewDestructiveDetector(cfg.Rules.Destructive),
		detectors.NewSecretsDetector(cfg.Rules.Secrets),
		detectors.NewExfiltrationDetector(cfg.Rules.Exfiltration),
	}
	if len(cfg.Rules.Custom) > 0 {
		cd, err := detectors.NewCustomRuleDetector(cfg.Rules.Custom)
		if err != nil {
			return nil, fmt.Errorf("build custom rule detector: %w", err)
		}
		dets = append(dets, cd)
	}

	ttl := time.Duration(cfg.Cache.TTLMs) * time.Millisecond
	return &Analyzer{
		cfg:       cfg,
		detectors: dets,
		cache:     cache,
		cacheTTL:  ttl,
		logger:    logger,
		clock:     time.Now,
	}, nil
}

// WithClock replaces the time source. Test hook.
func (a *Analyzer) WithClock(clock func() time.Time) *Analyzer {
	a.clock = clock
	return a
}

// Analyze evaluates one tool call. A detector that fails or panics is
// dropped from the merge; it never takes the analysis down with it.
func (a *Analyzer) Analyze(ctx context.Context, tcc *contracts.ToolCallContext) contracts.AnalysisResult {
	start := a.clock()

	if a.cfg.Global.Enabled != nil && !*a.cfg.Global.Enabled {
		return contracts.AnalysisResult{Action: contracts.ActionAllow, DurationMs: a.sinceMs(start)}
	}

	key := ""
	if a.cache != nil {
		key = Fingerprint(tcc)
		if key != "" {
			if res, ok := a.cache.Get(ctx, key); ok {
				res.Cached = true
				res.DurationMs = a.sinceMs(start)
				return *res
			}
		}
	}

	found := a.fanOut(ctx, tcc)

	result := contracts.AnalysisResult{
		Action:     contracts.ActionAllow,
		Detections: found,
	}
	if len(found) > 0 {
		primary := primaryDetection(found)
		result.PrimaryDetection = primary
		result.Action = a.actionFor(primary)
	}
	result.DurationMs = a.sinceMs(start)

	if a.cache != nil && key != "" {
		a.cache.Set(ctx, key, result, a.cacheTTL)
	}
	return result
}

// fanOut runs every detector concurrently and collects the successes in
// detector registration order.
func (a *Analyzer) fanOut(ctx context.Context, tcc *contracts.ToolCallContext) []contracts.Detection {
	results := make([]*contracts.Detection, len(a.detectors))

	var wg sync.WaitGroup
	for i, det := range a.detectors {
		wg.Add(1)
		go func(i int, det detectors.Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("detector panicked",
						slog.String("detector", det.Name()),
						slog.Any("panic", r))
				}
			}()
			d, err := det.Detect(ctx, tcc)
			if err != nil {
				a.logger.Error("detector failed",
					slog.String("detector", det.Name()),
					slog.String("error", err.Error()))
				return
			}
			results[i] = d
		}(i, det)
	}
	wg.Wait()

	var found []contracts.Detection
	for _, d := range results {
		if d != nil {
			found = append(found, *d)
		}
	}
	return found
}

// primaryDetection picks the highest confidence, breaking ties by higher
// severity and then by production order.
func primaryDetection(found []contracts.Detection) *contracts.Detection {
	best := 0
	for i := 1; i < len(found); i++ {
		switch {
		case found[i].Confidence > found[best].Confidence:
			best = i
		case found[i].Confidence == found[best].Confidence &&
			found[i].Severity.Rank() > found[best].Severity.Rank():
			best = i
		}
	}
	cp := found[best]
	return &cp
}

// actionFor maps the primary detection to the configured rule action.
// A website category that forced critical severity escalates a weaker
// configured action to block. An exceeded spend limit keeps the rule's
// configured action untouched.
func (a *Analyzer) actionFor(primary *contracts.Detection) contracts.Action {
	var raw string
	switch primary.Category {
	case contracts.CategoryPurchase:
		raw = a.cfg.Rules.Purchase.Action
	case contracts.CategoryWebsite:
		raw = a.cfg.Rules.Website.Action
	case contracts.CategoryDestructive:
		raw = a.cfg.Rules.Destructive.Action
	case contracts.CategorySecrets:
		raw = a.cfg.Rules.Secrets.Action
	case contracts.CategoryExfiltration:
		raw = a.cfg.Rules.Exfiltration.Action
	case contracts.CategorySanitization:
		raw = a.cfg.Rules.Sanitization.Action
	case contracts.CategoryCustom:
		raw, _ = primary.Meta("action").(string)
	}

	action, err := contracts.ParseAction(raw)
	if err != nil {
		// Misconfiguration fails closed.
		action = contracts.ActionBlock
	}

	if primary.Category == contracts.CategoryWebsite &&
		primary.Severity == contracts.SeverityCritical &&
		action.Allows() {
		action = contracts.ActionBlock
	}
	return action
}

func (a *Analyzer) sinceMs(start time.Time) float64 {
	return float64(a.clock().Sub(start)) / float64(time.Millisecond)
}

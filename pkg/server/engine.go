// Package server exposes the policy engine over HTTP: one analysis
// endpoint for tool calls, operator endpoints for pending approvals, a
// webhook callback sink, and an output-filter pass for tool results.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clawsec-labs/clawsec/pkg/analyzer"
	"github.com/clawsec-labs/clawsec/pkg/approval"
	"github.com/clawsec-labs/clawsec/pkg/audit"
	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
	"github.com/clawsec-labs/clawsec/pkg/ledger"
	"github.com/clawsec-labs/clawsec/pkg/observability"
	"github.com/clawsec-labs/clawsec/pkg/outputfilter"
)

// Engine owns every stateful component of one running instance: the
// approval store, the spend ledger, the analyzer with its cache, the
// three approval transports, the output filter, the audit collector,
// and the observability provider. No package-level mutable state.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  func() time.Time

	store        *approval.Store
	ledger       *ledger.Ledger
	analyzer     *analyzer.Analyzer
	native       *approval.NativeTransport
	agentConfirm *approval.AgentConfirmTransport
	webhook      *approval.WebhookTransport
	filter       *outputfilter.Filter
	auditLog     audit.Collector
	obs          *observability.Provider
	sweeper      *approval.Sweeper
}

// NewEngine wires the engine from a validated config.
func NewEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store := approval.NewStore().WithRemoveOnExpiry(cfg.Approval.RemoveOnExpiry)
	spend := ledger.New()

	an, err := analyzer.New(cfg, spend, analyzer.NewCacheFromConfig(cfg.Cache), logger)
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}

	obs, err := observability.New(ctx, cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		clock:        time.Now,
		store:        store,
		ledger:       spend,
		analyzer:     an,
		native:       approval.NewNativeTransport(store),
		agentConfirm: approval.NewAgentConfirmTransport(cfg.Approval.AgentConfirm, store),
		webhook:      approval.NewWebhookTransport(cfg.Approval.Webhook, store),
		filter:       outputfilter.New(cfg.Rules, logger),
		auditLog:     audit.NewLog(),
		obs:          obs,
	}

	if interval := time.Duration(cfg.Approval.CleanupInterval) * time.Second; interval > 0 {
		e.sweeper = approval.NewSweeper(store, interval, logger)
		e.sweeper.Start()
	}
	return e, nil
}

// WithClock replaces the engine's time source and propagates it to the
// components that stamp records. Test hook.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.store.WithClock(clock)
	e.ledger.WithClock(clock)
	e.analyzer.WithClock(clock)
	e.webhook.WithClock(clock)
	return e
}

// Reset clears the approval store and the spend ledger. Test hook.
func (e *Engine) Reset() {
	e.store.Clear()
	e.ledger.Reset()
}

// Close stops the sweeper and flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	return e.obs.Shutdown(ctx)
}

// AnalyzeOutcome is the engine-level result of one /analyze call before
// it is shaped onto the wire.
type AnalyzeOutcome struct {
	Allowed bool
	Message string
	Pending *contracts.PendingApprovalRecord
	Result  contracts.AnalysisResult
}

// AnalyzeToolCall runs the full input-path decision for one tool call:
// agent confirmation, detector fan-out, approval registration, and the
// synchronous webhook round trip when one is configured.
func (e *Engine) AnalyzeToolCall(ctx context.Context, toolName string, toolInput map[string]any) AnalyzeOutcome {
	if cr := e.agentConfirm.Confirm(toolInput); cr.Confirmed {
		return e.resolveAgentConfirm(ctx, toolName, toolInput, cr)
	}

	tcc := contracts.NewToolCallContext(toolName, toolInput)
	res := e.analyzer.Analyze(ctx, tcc)

	outcome := AnalyzeOutcome{Allowed: res.Action.Allows(), Result: res}
	if res.PrimaryDetection != nil {
		outcome.Message = decisionMessage(res.Action, res.PrimaryDetection)
	}

	if res.Action == contracts.ActionConfirm || res.Action == contracts.ActionAgentConfirm {
		outcome = e.registerApproval(ctx, tcc, outcome)
	}

	e.auditLog.Record(audit.Event{
		Kind:     "decision",
		ToolName: toolName,
		Action:   string(res.Action),
		Details:  decisionDetails(&res),
	})
	e.obs.RecordAnalysis(ctx, string(res.Action), outcome.Allowed,
		time.Duration(res.DurationMs*float64(time.Millisecond)))
	return outcome
}

// resolveAgentConfirm consumes a confirmation token carried in the tool
// input. A valid token approves the referenced record and lets the call
// through; an invalid one keeps the call blocked with the rejection
// reason.
func (e *Engine) resolveAgentConfirm(ctx context.Context, toolName string, toolInput map[string]any, cr approval.ConfirmResult) AnalyzeOutcome {
	stripped := e.agentConfirm.StripConfirmParameter(toolInput)
	tcc := contracts.NewToolCallContext(toolName, stripped)
	res := e.analyzer.Analyze(ctx, tcc)

	if !cr.Valid {
		e.logger.Warn("agent confirmation rejected",
			slog.String("tool", toolName),
			slog.String("reason", cr.Error))
		return AnalyzeOutcome{
			Allowed: false,
			Message: "Confirmation rejected: " + cr.Error,
			Result:  res,
		}
	}

	e.auditLog.Record(audit.Event{
		Kind:     "approval",
		ToolName: toolName,
		Action:   "approved",
		Actor:    "agent",
		RecordID: cr.ApprovalID,
	})
	e.obs.PendingDelta(ctx, -1)
	return AnalyzeOutcome{
		Allowed: true,
		Message: "Approved via agent confirmation",
		Result:  res,
	}
}

// registerApproval creates the pending record for a confirm action and,
// when the webhook transport is enabled, runs the synchronous request.
// A webhook error leaves the record pending for the other transports.
func (e *Engine) registerApproval(ctx context.Context, tcc *contracts.ToolCallContext, outcome AnalyzeOutcome) AnalyzeOutcome {
	now := e.clock()
	rec := &contracts.PendingApprovalRecord{
		ID:        approval.GenerateID(now),
		CreatedAt: contracts.EpochMs(now),
		ExpiresAt: contracts.EpochMs(now) + int64(e.cfg.Approval.Native.Timeout)*1000,
		Detection: *outcome.Result.PrimaryDetection,
		ToolCall:  *tcc,
		Status:    contracts.StatusPending,
	}
	e.store.Add(rec)
	e.obs.PendingDelta(ctx, 1)
	outcome.Pending = rec

	if !e.webhook.Enabled() {
		return outcome
	}

	wr := e.webhook.Request(ctx, rec)
	switch {
	case wr.Decided && wr.Approved:
		outcome.Allowed = true
		outcome.Pending = nil
		outcome.Message = "Approved by " + wr.ApprovedBy
		e.auditLog.Record(audit.Event{Kind: "approval", Action: "approved", Actor: wr.ApprovedBy, RecordID: rec.ID})
		e.obs.PendingDelta(ctx, -1)
	case wr.Decided:
		outcome.Allowed = false
		outcome.Pending = nil
		outcome.Message = denialMessage(wr.ApprovedBy, wr.Reason)
		e.auditLog.Record(audit.Event{Kind: "approval", Action: "denied", Actor: wr.ApprovedBy, RecordID: rec.ID})
		e.obs.PendingDelta(ctx, -1)
	case wr.Waiting:
		e.logger.Info("webhook accepted, waiting for callback", slog.String("record", rec.ID))
	case wr.Error != "":
		// The record stays pending; native approval can still resolve it.
		e.logger.Error("webhook approval request failed",
			slog.String("record", rec.ID),
			slog.String("error", wr.Error))
	}
	return outcome
}

// Approve resolves a pending record through the native transport.
func (e *Engine) Approve(ctx context.Context, id, userID string) approval.Outcome {
	out := e.native.HandleApprove(id, userID)
	if out.Success {
		e.auditLog.Record(audit.Event{
			Kind:     "approval",
			Action:   "approved",
			Actor:    out.Record.ApprovedBy,
			RecordID: out.Record.ID,
		})
		e.obs.PendingDelta(ctx, -1)
		e.recordApprovedSpend(out.Record)
	}
	return out
}

// Deny resolves a pending record through the native transport.
func (e *Engine) Deny(ctx context.Context, id string) approval.Outcome {
	out := e.native.HandleDeny(id)
	if out.Success {
		e.auditLog.Record(audit.Event{
			Kind:     "approval",
			Action:   "denied",
			RecordID: out.Record.ID,
		})
		e.obs.PendingDelta(ctx, -1)
	}
	return out
}

// Callback applies an asynchronous webhook decision.
func (e *Engine) Callback(ctx context.Context, id string, response approval.CallbackResponse) approval.Outcome {
	out := e.webhook.HandleCallback(id, response)
	if out.Success {
		action := "denied"
		if response.Approved {
			action = "approved"
			e.recordApprovedSpend(out.Record)
		}
		e.auditLog.Record(audit.Event{
			Kind:     "approval",
			Action:   action,
			Actor:    out.Record.ApprovedBy,
			RecordID: out.Record.ID,
		})
		e.obs.PendingDelta(ctx, -1)
	}
	return out
}

// FilterOutput runs the two-stage output filter over one tool result.
func (e *Engine) FilterOutput(toolName string, output any) outputfilter.Result {
	res := e.filter.Apply(output)
	if res.Detection != nil || res.RedactedSecrets > 0 {
		e.auditLog.Record(audit.Event{
			Kind:     "outputFilter",
			ToolName: toolName,
			Details: map[string]any{
				"allowed":            res.Allowed,
				"redactedInjections": res.RedactedInjections,
				"redactedSecrets":    res.RedactedSecrets,
			},
		})
	}
	return res
}

// PendingCount reports the number of live pending approvals.
func (e *Engine) PendingCount() int {
	return len(e.store.GetPending())
}

// recordApprovedSpend posts the purchase amount to the ledger when an
// approved record came from the purchase detector. Approve-and-execute
// is the only path that commits spend.
func (e *Engine) recordApprovedSpend(rec *contracts.PendingApprovalRecord) {
	if rec == nil || rec.Detection.Category != contracts.CategoryPurchase {
		return
	}
	amount, ok := rec.Detection.Meta("amount").(float64)
	if !ok || amount <= 0 {
		return
	}
	domain, _ := rec.Detection.Meta("domain").(string)
	e.ledger.Record(amount, domain, "")
}

func decisionMessage(action contracts.Action, primary *contracts.Detection) string {
	switch action {
	case contracts.ActionBlock:
		return "Blocked: " + primary.Reason
	case contracts.ActionConfirm, contracts.ActionAgentConfirm:
		return "Approval required: " + primary.Reason
	case contracts.ActionWarn:
		return "Warning: " + primary.Reason
	default:
		return primary.Reason
	}
}

func denialMessage(denier, reason string) string {
	msg := "Denied by " + denier
	if reason != "" {
		msg += ": " + reason
	}
	return msg
}

func decisionDetails(res *contracts.AnalysisResult) map[string]any {
	details := map[string]any{
		"detections": len(res.Detections),
		"cached":     res.Cached,
	}
	if res.PrimaryDetection != nil {
		details["category"] = string(res.PrimaryDetection.Category)
		details["confidence"] = res.PrimaryDetection.Confidence
	}
	return details
}

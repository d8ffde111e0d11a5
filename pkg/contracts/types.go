// Package contracts defines the shared data model of the policy engine:
// severities, actions, threat categories, detections, and the records
// exchanged between the analyzer, the spend ledger, and the approval store.
package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity orders detections for escalation and message formatting.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a numeric order for comparison: critical > high > medium > low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ParseSeverity rejects anything outside the closed set.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Action is the engine's verdict for one tool call.
type Action string

const (
	ActionBlock        Action = "block"
	ActionConfirm      Action = "confirm"
	ActionAgentConfirm Action = "agent-confirm"
	ActionWarn         Action = "warn"
	ActionLog          Action = "log"
	// ActionAllow is the absence-of-detection default and is never written
	// in configuration files.
	ActionAllow Action = "allow"
)

// Allows reports whether the action lets the tool call proceed.
func (a Action) Allows() bool {
	switch a {
	case ActionAllow, ActionLog, ActionWarn:
		return true
	case ActionBlock, ActionConfirm, ActionAgentConfirm:
		return false
	}
	// Unknown actions are a programming error, not a silent allow.
	panic(fmt.Sprintf("contracts: unknown action %q", string(a)))
}

// ParseAction rejects anything outside the closed set.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionBlock, ActionConfirm, ActionAgentConfirm, ActionWarn, ActionLog, ActionAllow:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ThreatCategory identifies which detector family produced a detection.
type ThreatCategory string

const (
	CategoryPurchase     ThreatCategory = "purchase"
	CategoryWebsite      ThreatCategory = "website"
	CategoryDestructive  ThreatCategory = "destructive"
	CategorySecrets      ThreatCategory = "secrets"
	CategoryExfiltration ThreatCategory = "exfiltration"
	CategorySanitization ThreatCategory = "sanitization"
	CategoryCustom       ThreatCategory = "custom"
)

// ToolCallContext is the normalized, immutable view of one tool invocation.
// URL is hoisted from toolInput.url when present. ToolOutput is set only on
// the output-filter path.
type ToolCallContext struct {
	ToolName   string         `json:"toolName"`
	ToolInput  map[string]any `json:"toolInput"`
	URL        string         `json:"url,omitempty"`
	ToolOutput string         `json:"toolOutput,omitempty"`
}

// NewToolCallContext builds a context for one evaluation, hoisting the url
// field out of the input when it is a string.
func NewToolCallContext(toolName string, toolInput map[string]any) *ToolCallContext {
	tcc := &ToolCallContext{ToolName: toolName, ToolInput: toolInput}
	if u, ok := toolInput["url"].(string); ok {
		tcc.URL = u
	}
	return tcc
}

// Detection is a single signal emitted by one detector.
type Detection struct {
	Category   ThreatCategory `json:"category"`
	Severity   Severity       `json:"severity"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Meta returns a metadata value, tolerating a nil map.
func (d *Detection) Meta(key string) any {
	if d == nil || d.Metadata == nil {
		return nil
	}
	return d.Metadata[key]
}

// AnalysisResult is the merged verdict for one tool call.
// PrimaryDetection is present iff Detections is non-empty and is the
// highest-confidence detection (ties: higher severity, then first-produced).
type AnalysisResult struct {
	Action           Action      `json:"action"`
	Detections       []Detection `json:"detections"`
	PrimaryDetection *Detection  `json:"primaryDetection,omitempty"`
	Cached           bool        `json:"cached"`
	DurationMs       float64     `json:"durationMs"`
}

// SpendRecord is one entry in the rolling spend ledger.
type SpendRecord struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	Timestamp     int64   `json:"timestamp"` // epoch-ms
	Approved      bool    `json:"approved"`
	TransactionID string  `json:"transactionId,omitempty"`
	Domain        string  `json:"domain,omitempty"`
}

// ApprovalStatus is the state of a pending approval record.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusDenied   ApprovalStatus = "denied"
	StatusExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status can never change again.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusExpired
}

// PendingApprovalRecord holds state for a human/agent/webhook decision.
// Invariants: CreatedAt <= ExpiresAt; once Status is terminal it cannot
// change; pending records whose ExpiresAt <= now transition to expired
// lazily on read.
type PendingApprovalRecord struct {
	ID         string          `json:"id"`
	CreatedAt  int64           `json:"createdAt"` // epoch-ms
	ExpiresAt  int64           `json:"expiresAt"` // epoch-ms
	Detection  Detection       `json:"detection"`
	ToolCall   ToolCallContext `json:"toolCall"`
	Status     ApprovalStatus  `json:"status"`
	ApprovedAt int64           `json:"approvedAt,omitempty"` // epoch-ms
	ApprovedBy string          `json:"approvedBy,omitempty"`
}

// Clone returns a deep-enough copy for safe hand-off across goroutines.
// Metadata and tool input maps are copied one level deep; detectors never
// mutate nested values after emission.
func (r *PendingApprovalRecord) Clone() *PendingApprovalRecord {
	cp := *r
	if r.Detection.Metadata != nil {
		cp.Detection.Metadata = make(map[string]any, len(r.Detection.Metadata))
		for k, v := range r.Detection.Metadata {
			cp.Detection.Metadata[k] = v
		}
	}
	if r.ToolCall.ToolInput != nil {
		cp.ToolCall.ToolInput = make(map[string]any, len(r.ToolCall.ToolInput))
		for k, v := range r.ToolCall.ToolInput {
			cp.ToolCall.ToolInput[k] = v
		}
	}
	return &cp
}

// EpochMs converts a time to epoch milliseconds.
func EpochMs(t time.Time) int64 { return t.UnixMilli() }

// Stringify renders an arbitrary tool output as a string, using canonical
// JSON for non-string values. Traversals tolerate any shape.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// webhookPayload is the outbound POST body.
type webhookPayload struct {
	ID          string              `json:"id"`
	Detection   contracts.Detection `json:"detection"`
	ToolCall    webhookToolCall     `json:"toolCall"`
	Timestamp   int64               `json:"timestamp"` // epoch-ms
	ExpiresAt   int64               `json:"expiresAt"` // epoch-ms
	CallbackURL string              `json:"callbackUrl,omitempty"`
}

type webhookToolCall struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// WebhookResult is the interpreted outcome of one outbound request.
// Exactly one of Decided, Waiting, or a non-empty Error holds.
type WebhookResult struct {
	Decided    bool   `json:"decided"`
	Approved   bool   `json:"approved,omitempty"`
	ApprovedBy string `json:"approvedBy,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Waiting    bool   `json:"waiting,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WebhookTransport forwards approval requests to an external endpoint and
// applies sync decisions to the store. Any transport or protocol error
// leaves the store untouched.
type WebhookTransport struct {
	cfg    config.WebhookApproval
	store  *Store
	client *http.Client
	clock  func() time.Time
}

// NewWebhookTransport wires the transport to its config and store.
func NewWebhookTransport(cfg config.WebhookApproval, store *Store) *WebhookTransport {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookTransport{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: timeout},
		clock:  time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (t *WebhookTransport) WithClock(clock func() time.Time) *WebhookTransport {
	t.clock = clock
	return t
}

// Enabled reports whether a webhook endpoint is configured.
func (t *WebhookTransport) Enabled() bool {
	return t.cfg.Enabled && t.cfg.URL != ""
}

// Request posts the approval request and interprets the response. A 200
// with a well-formed body decides synchronously; a 202 leaves the record
// pending for HandleCallback.
func (t *WebhookTransport) Request(ctx context.Context, record *contracts.PendingApprovalRecord) WebhookResult {
	payload := webhookPayload{
		ID:        record.ID,
		Detection: record.Detection,
		ToolCall:  webhookToolCall{Name: record.ToolCall.ToolName, Input: record.ToolCall.ToolInput},
		Timestamp: contracts.EpochMs(t.clock()),
		ExpiresAt: record.ExpiresAt,
	}
	if t.cfg.CallbackURLTemplate != "" {
		payload.CallbackURL = strings.ReplaceAll(t.cfg.CallbackURLTemplate, "{id}", record.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return WebhookResult{Error: fmt.Sprintf("Network error: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Sprintf("Network error: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			seconds := int(t.client.Timeout / time.Second)
			return WebhookResult{Error: fmt.Sprintf(
				"Request timeout: Webhook did not respond within %d seconds", seconds)}
		}
		return WebhookResult{Error: fmt.Sprintf("Network error: %v", err)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK:
		return t.applySyncDecision(record.ID, raw)
	case resp.StatusCode == http.StatusAccepted:
		return WebhookResult{Waiting: true}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return WebhookResult{Error: fmt.Sprintf("Client error (%d): %s", resp.StatusCode, extractError(raw))}
	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		return WebhookResult{Error: fmt.Sprintf("Server error (%d): %s", resp.StatusCode, extractError(raw))}
	default:
		return WebhookResult{Error: fmt.Sprintf("Unexpected status code: %d", resp.StatusCode)}
	}
}

// applySyncDecision parses a 200 body and drives the store. The body must
// be a JSON object with a boolean "approved".
func (t *WebhookTransport) applySyncDecision(id string, raw []byte) WebhookResult {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return WebhookResult{Error: "Invalid response format"}
	}
	approved, ok := body["approved"].(bool)
	if !ok {
		return WebhookResult{Error: "Invalid response format"}
	}

	approvedBy, _ := body["approvedBy"].(string)
	if approvedBy == "" {
		approvedBy = "webhook"
	}
	reason, _ := body["reason"].(string)

	if approved {
		t.store.Approve(id, approvedBy)
	} else {
		t.store.Deny(id)
	}
	return WebhookResult{Decided: true, Approved: approved, ApprovedBy: approvedBy, Reason: reason}
}

// CallbackResponse is the body of an async webhook callback.
type CallbackResponse struct {
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approvedBy,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// HandleCallback resolves a record from an async callback, mirroring the
// native handler's guards and messages.
func (t *WebhookTransport) HandleCallback(id string, response CallbackResponse) Outcome {
	id = strings.TrimSpace(id)
	if id == "" {
		return Outcome{Message: "Invalid approval ID"}
	}
	record := t.store.Get(id)
	if record == nil {
		return Outcome{Message: fmt.Sprintf("Approval request %s not found", id)}
	}
	switch record.Status {
	case contracts.StatusExpired:
		return Outcome{Message: "Approval request has expired", Record: record}
	case contracts.StatusApproved:
		return Outcome{Message: "Approval request already approved", Record: record}
	case contracts.StatusDenied:
		return Outcome{Message: "Approval request already denied", Record: record}
	}

	approver := response.ApprovedBy
	if approver == "" {
		approver = "webhook"
	}
	if response.Approved {
		if !t.store.Approve(id, approver) {
			return t.HandleCallback(id, response)
		}
		return Outcome{Success: true, Message: fmt.Sprintf("Approved by %s", approver), Record: t.store.Get(id)}
	}
	if !t.store.Deny(id) {
		return t.HandleCallback(id, response)
	}
	msg := fmt.Sprintf("Denied by %s", approver)
	if response.Reason != "" {
		msg += ": " + response.Reason
	}
	return Outcome{Success: true, Message: msg, Record: t.store.Get(id)}
}

// extractError pulls an error string from a response body: a JSON object's
// "error" or "message" field, otherwise the raw text.
func extractError(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body["error"].(string); ok && s != "" {
			return s
		}
		if s, ok := body["message"].(string); ok && s != "" {
			return s
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "no response body"
	}
	return text
}

// isClientTimeout detects the http.Client deadline shape.
func isClientTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

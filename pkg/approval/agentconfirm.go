package approval

import (
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/config"
)

// ConfirmResult describes one agent-confirm inspection of a tool input.
type ConfirmResult struct {
	Confirmed  bool   `json:"confirmed"`
	Valid      bool   `json:"valid"`
	ApprovalID string `json:"approvalId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AgentConfirmTransport consumes the confirmation parameter an agent adds
// when retrying a previously blocked call. The id alone is the key: the
// retry payload is not fingerprint-bound to the original request.
type AgentConfirmTransport struct {
	cfg   config.AgentConfirmApproval
	store *Store
}

// NewAgentConfirmTransport wires the transport to its config and store.
func NewAgentConfirmTransport(cfg config.AgentConfirmApproval, store *Store) *AgentConfirmTransport {
	return &AgentConfirmTransport{cfg: cfg, store: store}
}

// ParameterName returns the configured confirm-parameter key.
func (t *AgentConfirmTransport) ParameterName() string {
	if t.cfg.ParameterName != "" {
		return t.cfg.ParameterName
	}
	return "_clawsec_confirm"
}

func (t *AgentConfirmTransport) enabled() bool {
	return t.cfg.Enabled != nil && *t.cfg.Enabled
}

// Confirm inspects the tool input for the confirmation parameter and, when
// present and valid, approves the referenced record as "agent".
func (t *AgentConfirmTransport) Confirm(toolInput map[string]any) ConfirmResult {
	if !t.enabled() {
		return ConfirmResult{Error: "disabled"}
	}
	raw, present := toolInput[t.ParameterName()]
	if !present {
		return ConfirmResult{}
	}

	id, ok := raw.(string)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return ConfirmResult{Confirmed: true, Error: "approval ID must be a non-empty string"}
	}

	record := t.store.Get(id)
	if record == nil {
		return ConfirmResult{Confirmed: true, Error: "approval request not found"}
	}
	if !t.store.Approve(id, "agent") {
		return ConfirmResult{Confirmed: true, Error: "approval request is no longer pending"}
	}
	return ConfirmResult{Confirmed: true, Valid: true, ApprovalID: id}
}

// StripConfirmParameter returns a new input map without the confirmation
// parameter. The original map is untouched.
func (t *AgentConfirmTransport) StripConfirmParameter(toolInput map[string]any) map[string]any {
	name := t.ParameterName()
	out := make(map[string]any, len(toolInput))
	for k, v := range toolInput {
		if k == name {
			continue
		}
		out[k] = v
	}
	return out
}

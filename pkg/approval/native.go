package approval

import (
	"fmt"
	"strings"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// Outcome is the result of one operator-side approve or deny call.
type Outcome struct {
	Success bool                             `json:"success"`
	Message string                           `json:"message"`
	Record  *contracts.PendingApprovalRecord `json:"record,omitempty"`
}

// NativeTransport exposes the in-process operator surface over the store.
type NativeTransport struct {
	store *Store
}

// NewNativeTransport wires the transport to its store.
func NewNativeTransport(store *Store) *NativeTransport {
	return &NativeTransport{store: store}
}

// HandleApprove approves a pending record. The id is trimmed first; the
// default approver is "operator".
func (t *NativeTransport) HandleApprove(id, userID string) Outcome {
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

	approver := userID
	if approver == "" {
		approver = "operator"
	}
	if !t.store.Approve(id, approver) {
		// Lost a concurrent race; re-read for the terminal message.
		return t.HandleApprove(id, userID)
	}
	return Outcome{
		Success: true,
		Message: fmt.Sprintf("Approved by %s", approver),
		Record:  t.store.Get(id),
	}
}

// HandleDeny denies a pending record. No denier is recorded.
func (t *NativeTransport) HandleDeny(id string) Outcome {
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
		return Outcome{Message: "Approval request already approved and cannot be denied", Record: record}
	case contracts.StatusDenied:
		return Outcome{Message: "Approval request already denied", Record: record}
	}

	if !t.store.Deny(id) {
		return t.HandleDeny(id)
	}
	return Outcome{
		Success: true,
		Message: "Denied",
		Record:  t.store.Get(id),
	}
}

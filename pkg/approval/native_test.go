package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

func TestNativeApproveHappyPath(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	tr := NewNativeTransport(s)

	out := tr.HandleApprove("approval-a", "alice")
	require.True(t, out.Success)
	assert.Contains(t, out.Message, "Approved")
	require.NotNil(t, out.Record)
	assert.Equal(t, contracts.StatusApproved, out.Record.Status)
	assert.Equal(t, "alice", out.Record.ApprovedBy)
}

func TestNativeApproveTrimsAndDefaultsApprover(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	tr := NewNativeTransport(s)

	out := tr.HandleApprove("  approval-a  ", "")
	require.True(t, out.Success)
	assert.Equal(t, "operator", out.Record.ApprovedBy)
}

func TestNativeApproveFailureMessages(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	tr := NewNativeTransport(s)

	assert.Contains(t, tr.HandleApprove("", "").Message, "Invalid")
	assert.Contains(t, tr.HandleApprove("   ", "").Message, "Invalid")
	assert.Contains(t, tr.HandleApprove("approval-nope", "").Message, "not found")

	s.Add(testRecord("approval-stale", now, time.Second))
	now = now.Add(time.Minute)
	assert.Contains(t, tr.HandleApprove("approval-stale", "").Message, "expired")
}

func TestNativeSecondApproveReportsAlready(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	tr := NewNativeTransport(s)

	require.True(t, tr.HandleApprove("approval-a", "alice").Success)
	out := tr.HandleApprove("approval-a", "bob")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "already approved")
	// First decision untouched.
	assert.Equal(t, "alice", s.Get("approval-a").ApprovedBy)
}

func TestNativeDeny(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	tr := NewNativeTransport(s)

	out := tr.HandleDeny("approval-a")
	require.True(t, out.Success)
	assert.Equal(t, contracts.StatusDenied, out.Record.Status)

	again := tr.HandleDeny("approval-a")
	assert.False(t, again.Success)
	assert.Contains(t, again.Message, "already denied")
}

func TestNativeDenyOnApprovedCannotBeDenied(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	tr := NewNativeTransport(s)

	require.True(t, tr.HandleApprove("approval-a", "alice").Success)
	out := tr.HandleDeny("approval-a")
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "cannot be denied")
	assert.Contains(t, out.Message, "already approved")
}

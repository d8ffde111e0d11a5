package approval

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

func testRecord(id string, now time.Time, ttl time.Duration) *contracts.PendingApprovalRecord {
	return &contracts.PendingApprovalRecord{
		ID:        id,
		CreatedAt: contracts.EpochMs(now),
		ExpiresAt: contracts.EpochMs(now.Add(ttl)),
		Detection: contracts.Detection{
			Category:   contracts.CategoryDestructive,
			Severity:   contracts.SeverityCritical,
			Confidence: 0.98,
			Reason:     "recursive file removal",
		},
		ToolCall: contracts.ToolCallContext{
			ToolName:  "shell",
			ToolInput: map[string]any{"command": "rm -rf /tmp/test"},
		},
		Status: contracts.StatusPending,
	}
}

func fixedClockStore(now *time.Time) *Store {
	return NewStore().WithClock(func() time.Time { return *now })
}

func TestStoreAddGetRoundTrip(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	got := s.Get("approval-a")
	require.NotNil(t, got)
	assert.Equal(t, contracts.StatusPending, got.Status)
	assert.Nil(t, s.Get("approval-missing"))
}

func TestStoreAddUpserts(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	r := testRecord("approval-a", now, 2*time.Minute)
	r.Detection.Reason = "replaced"
	s.Add(r)

	assert.Equal(t, 1, s.Size())
	assert.Equal(t, "replaced", s.Get("approval-a").Detection.Reason)
}

func TestStoreLazyExpiry(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	now = now.Add(time.Minute) // expiresAt == now counts as expired
	got := s.Get("approval-a")
	require.NotNil(t, got)
	assert.Equal(t, contracts.StatusExpired, got.Status)

	// Expired is terminal.
	assert.False(t, s.Approve("approval-a", "operator"))
	assert.False(t, s.Deny("approval-a"))
}

func TestStoreApproveLifecycle(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	require.True(t, s.Approve("approval-a", "alice"))
	got := s.Get("approval-a")
	assert.Equal(t, contracts.StatusApproved, got.Status)
	assert.Equal(t, "alice", got.ApprovedBy)
	assert.Equal(t, contracts.EpochMs(now), got.ApprovedAt)

	// Terminal states are immutable.
	assert.False(t, s.Approve("approval-a", "bob"))
	assert.False(t, s.Deny("approval-a"))
	assert.Equal(t, "alice", s.Get("approval-a").ApprovedBy)
}

func TestStoreDenyRecordsNoApprover(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	require.True(t, s.Deny("approval-a"))
	got := s.Get("approval-a")
	assert.Equal(t, contracts.StatusDenied, got.Status)
	assert.Empty(t, got.ApprovedBy)
}

func TestStoreGetPendingFiltersAndExpires(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-live", now, time.Hour))
	s.Add(testRecord("approval-stale", now, time.Second))
	s.Add(testRecord("approval-done", now, time.Hour))
	s.Approve("approval-done", "op")

	now = now.Add(time.Minute)
	pending := s.GetPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "approval-live", pending[0].ID)
	assert.Equal(t, contracts.StatusExpired, s.Get("approval-stale").Status)
}

func TestStoreCleanupRemoveOnExpiry(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now).WithRemoveOnExpiry(true)
	s.Add(testRecord("approval-stale", now, time.Second))
	s.Add(testRecord("approval-live", now, time.Hour))

	now = now.Add(time.Minute)
	removed := s.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Size())
	assert.Nil(t, s.Get("approval-stale"))
}

func TestStoreCleanupRetainsTerminalByDefault(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-stale", now, time.Second))

	now = now.Add(time.Minute)
	assert.Equal(t, 0, s.Cleanup())
	require.NotNil(t, s.Get("approval-stale"))
	assert.Equal(t, contracts.StatusExpired, s.Get("approval-stale").Status)
}

func TestStoreRemoveIdempotent(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	s.Remove("approval-a")
	s.Remove("approval-a")
	assert.Equal(t, 0, s.Size())
}

func TestStoreClear(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))
	s.Add(testRecord("approval-b", now, time.Minute))
	s.Clear()
	assert.Equal(t, 0, s.Size())
}

func TestStoreGetReturnsCopy(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	got := s.Get("approval-a")
	got.Status = contracts.StatusDenied
	got.ToolCall.ToolInput["command"] = "mutated"

	fresh := s.Get("approval-a")
	assert.Equal(t, contracts.StatusPending, fresh.Status)
	assert.Equal(t, "rm -rf /tmp/test", fresh.ToolCall.ToolInput["command"])
}

func TestStoreConcurrentApproveSingleWinner(t *testing.T) {
	now := time.Now()
	s := fixedClockStore(&now)
	s.Add(testRecord("approval-a", now, time.Minute))

	const racers = 32
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				wins <- s.Approve("approval-a", "racer")
			} else {
				wins <- s.Deny("approval-a")
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	winners := 0
	for w := range wins {
		if w {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.True(t, s.Get("approval-a").Status.Terminal())
}

func TestGenerateIDShape(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateID(now)
		parts := strings.SplitN(id, "-", 3)
		require.Len(t, parts, 3)
		assert.Equal(t, "approval", parts[0])
		assert.GreaterOrEqual(t, len(parts[2]), 8)
		for _, c := range parts[1] + parts[2] {
			assert.Contains(t, "0123456789abcdefghijklmnopqrstuvwxyz", string(c))
		}
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

// Property: whatever interleaving of operations runs, a record observed in
// a terminal state never changes status again.
func TestStoreTerminalStatesStableProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)
	properties.Property("terminal status never changes", prop.ForAll(
		func(kinds []int, minutes []int) bool {
			now := time.Unix(1_700_000_000, 0)
			s := fixedClockStore(&now)
			s.Add(testRecord("approval-p", now, 2*time.Minute))

			var terminal contracts.ApprovalStatus
			for i, k := range kinds {
				switch k % 4 {
				case 0:
					s.Approve("approval-p", "op")
				case 1:
					s.Deny("approval-p")
				case 2:
					if i < len(minutes) {
						now = now.Add(time.Duration(minutes[i]%4) * time.Minute)
					}
				case 3:
					s.Cleanup()
				}
				got := s.Get("approval-p")
				if got == nil {
					return true
				}
				if terminal != "" && got.Status != terminal {
					return false
				}
				if got.Status.Terminal() {
					terminal = got.Status
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.SliceOf(gen.IntRange(0, 3)),
	))
	properties.TestingRun(t)
}

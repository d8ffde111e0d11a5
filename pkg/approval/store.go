// Package approval holds the pending-approval state machine and the three
// transports that drive it: native operator calls, agent-retry
// confirmation, and the external webhook.
package approval

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// GenerateID produces an approval id: "approval-" + base36 epoch-ms +
// "-" + at least 8 random base36 characters.
func GenerateID(now time.Time) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 10)
	max := big.NewInt(int64(len(alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// Degenerate fallback keeps ids unique enough via the clock.
			suffix[i] = alphabet[now.UnixNano()%36]
			continue
		}
		suffix[i] = alphabet[n.Int64()]
	}
	return "approval-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + string(suffix)
}

// Store is the in-memory approval record registry. All transitions are
// atomic per record; pending records expire lazily on read.
type Store struct {
	mu      sync.Mutex
	records map[string]*contracts.PendingApprovalRecord
	clock   func() time.Time

	// removeOnExpiry makes Cleanup delete terminal records too.
	removeOnExpiry bool
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*contracts.PendingApprovalRecord),
		clock:   time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// WithRemoveOnExpiry makes Cleanup drop terminal records instead of
// retaining them for read-after-decision.
func (s *Store) WithRemoveOnExpiry(remove bool) *Store {
	s.removeOnExpiry = remove
	return s
}

// Add upserts a record by id.
func (s *Store) Add(record *contracts.PendingApprovalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
}

// Get returns a copy of the record, transitioning pending past-deadline
// records to expired first. Missing ids return nil.
func (s *Store) Get(id string) *contracts.PendingApprovalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	s.expireLocked(r)
	return r.Clone()
}

// Approve transitions pending → approved. Returns false when the record
// is missing, expired, or already terminal.
func (s *Store) Approve(id, approvedBy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return false
	}
	s.expireLocked(r)
	if r.Status != contracts.StatusPending {
		return false
	}
	r.Status = contracts.StatusApproved
	r.ApprovedAt = contracts.EpochMs(s.clock())
	r.ApprovedBy = approvedBy
	return true
}

// Deny transitions pending → denied. Same guards as Approve; no approver
// is recorded.
func (s *Store) Deny(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return false
	}
	s.expireLocked(r)
	if r.Status != contracts.StatusPending {
		return false
	}
	r.Status = contracts.StatusDenied
	return true
}

// Remove deletes a record. Idempotent.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// GetPending returns copies of the records still pending after lazy
// expiry.
func (s *Store) GetPending() []*contracts.PendingApprovalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*contracts.PendingApprovalRecord
	for _, r := range s.records {
		s.expireLocked(r)
		if r.Status == contracts.StatusPending {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Cleanup expires overdue pending records and, with removeOnExpiry,
// deletes every terminal record. Returns the number of removed records.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.records {
		s.expireLocked(r)
		if s.removeOnExpiry && r.Status.Terminal() {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of records, any status.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear drops everything.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*contracts.PendingApprovalRecord)
}

// expireLocked applies the lazy pending → expired transition.
func (s *Store) expireLocked(r *contracts.PendingApprovalRecord) {
	if r.Status == contracts.StatusPending && r.ExpiresAt <= contracts.EpochMs(s.clock()) {
		r.Status = contracts.StatusExpired
	}
}

// Package ledger implements the rolling spend ledger consulted by the
// purchase detector: an append-only transaction log with a 24-hour
// sliding window and per-transaction / daily limit checks.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// Window is the sliding window over which approved spend accumulates.
const Window = 24 * time.Hour

// Limit kinds reported by CheckLimits.
const (
	ExceededPerTransaction = "perTransaction"
	ExceededDaily          = "daily"
)

// Limits bound a single transaction and the rolling daily total.
type Limits struct {
	PerTransaction float64
	Daily          float64
}

// Ledger is safe for concurrent use. Entries are append-only except for
// window-based eviction.
type Ledger struct {
	mu      sync.Mutex
	entries []contracts.SpendRecord
	seq     uint64
	clock   func() time.Time
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Record appends an approved spend entry and returns it. Negative amounts
// are clamped to zero; the ledger invariant is non-negative amounts.
func (l *Ledger) Record(amount float64, domain, transactionID string) contracts.SpendRecord {
	if amount < 0 {
		amount = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	l.seq++
	rec := contracts.SpendRecord{
		ID:            fmt.Sprintf("spend-%d-%d", now.UnixMilli(), l.seq),
		Amount:        amount,
		Timestamp:     now.UnixMilli(),
		Approved:      true,
		TransactionID: transactionID,
		Domain:        domain,
	}
	l.evictLocked(now)
	l.entries = append(l.entries, rec)
	return rec
}

// DailyTotal sums approved entries whose timestamp falls in the trailing
// 24-hour window ending at now.
func (l *Ledger) DailyTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyTotalLocked(l.clock())
}

func (l *Ledger) dailyTotalLocked(now time.Time) float64 {
	cutoff := now.Add(-Window).UnixMilli()
	total := 0.0
	for _, e := range l.entries {
		if e.Approved && e.Timestamp >= cutoff {
			total += e.Amount
		}
	}
	return total
}

// CheckLimits evaluates amount against the limits in order: per-transaction
// first, then daily. Amounts exactly at a limit are allowed. The returned
// exceeded kind is "" when both checks pass; the current daily total is
// returned either way.
func (l *Ledger) CheckLimits(amount float64, limits Limits) (exceeded string, dailyTotal float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dailyTotal = l.dailyTotalLocked(l.clock())
	if amount > limits.PerTransaction {
		return ExceededPerTransaction, dailyTotal
	}
	if dailyTotal+amount > limits.Daily {
		return ExceededDaily, dailyTotal
	}
	return "", dailyTotal
}

// Size returns the number of retained entries.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears the ledger. Test support.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// evictLocked drops entries older than the window.
func (l *Ledger) evictLocked(now time.Time) {
	cutoff := now.Add(-Window).UnixMilli()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Timestamp >= cutoff {
			kept = append(kept, e)
		}
	}
	l.entries = kept
}

// Package audit records engine decisions and approval outcomes as a
// tamper-evident, hash-chained sequence. Persistence stays outside the
// engine; this package ships the interface and an in-memory collector.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Event is one auditable occurrence: an analysis decision, an approval
// transition, or an output-filter intervention.
type Event struct {
	Kind     string         `json:"kind"` // decision | approval | outputFilter
	ToolName string         `json:"toolName,omitempty"`
	Action   string         `json:"action,omitempty"`
	Actor    string         `json:"actor,omitempty"`
	RecordID string         `json:"recordId,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Collector receives events. Implementations must be safe for concurrent
// use by the server handlers.
type Collector interface {
	Record(event Event)
}

// Entry is one chained log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`

	// PreviousHash links the entry to its predecessor; the first entry
	// carries an empty value.
	PreviousHash string `json:"previousHash"`
	// Hash is the SHA-256 of the JCS-canonicalized entry, Hash excluded.
	Hash string `json:"hash"`
}

// Log is the in-memory reference collector.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	clock   func() time.Time
}

// NewLog builds an empty log.
func NewLog() *Log {
	return &Log{clock: time.Now}
}

// WithClock replaces the time source. Test hook.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Record appends the event. A canonicalization failure drops the entry;
// auditing never blocks the decision path.
func (l *Log) Record(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := ""
	if len(l.entries) > 0 {
		prevHash = l.entries[len(l.entries)-1].Hash
	}
	entry := Entry{
		ID:           uuid.NewString(),
		Timestamp:    l.clock().UTC(),
		Event:        event,
		PreviousHash: prevHash,
	}
	hash, err := computeEntryHash(&entry)
	if err != nil {
		return
	}
	entry.Hash = hash
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the chain.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Size returns the number of entries.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// VerifyChain recomputes every hash and link. Returns the index of the
// first broken entry on failure.
func (l *Log) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		entry := l.entries[i]
		if i == 0 {
			if entry.PreviousHash != "" {
				return fmt.Errorf("audit: first entry has non-empty previous hash")
			}
		} else if entry.PreviousHash != l.entries[i-1].Hash {
			return fmt.Errorf("audit: chain broken at index %d: previous hash mismatch", i)
		}

		computed, err := computeEntryHash(&entry)
		if err != nil {
			return fmt.Errorf("audit: recompute hash at index %d: %w", i, err)
		}
		if computed != entry.Hash {
			return fmt.Errorf("audit: integrity failure at index %d", i)
		}
	}
	return nil
}

// Discard is a no-op collector for disabled auditing.
type Discard struct{}

func (Discard) Record(Event) {}

// computeEntryHash hashes the JCS-canonical form of the entry with the
// Hash field zeroed.
func computeEntryHash(e *Entry) (string, error) {
	shadow := *e
	shadow.Hash = ""
	raw, err := json.Marshal(shadow)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

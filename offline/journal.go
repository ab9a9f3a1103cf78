/*
journal.go - Offline write journal

PURPOSE:
  Durable FIFO of mutations accepted while the store was unreachable.
  Entries are replayed in Seq order by the Replayer.

LIFECYCLE:
  pending --Ack--> removed
  pending --Retry--> pending (attempts+1, last error kept)
  pending --Reject--> rejected (kept for inspection, never replayed)

SEE ALSO:
  - store/sqlite: SQLite-backed Journal (offline_queue table)
  - queue.go: the producer
  - replay.go: the consumer
*/
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/reception-ledger/reception"
)

// Domain is the projection a queued write belongs to. It selects the
// conflict policy applied on replay.
type Domain string

const (
	DomainFinancials Domain = "financials"
	DomainMirror     Domain = "mirror"
	DomainActivities Domain = "activities"
	DomainLoans      Domain = "loans"
)

// Op is the deferrable operation an entry replays.
type Op string

const (
	OpSaveFinancialsRoom   Op = "saveFinancialsRoom"
	OpAddToAllTransactions Op = "addToAllTransactions"
	OpAddActivity          Op = "addActivity"
	OpSaveLoan             Op = "saveLoan"
)

// EntryStatus is the journal state of an entry.
type EntryStatus string

const (
	StatusPending  EntryStatus = "pending"
	StatusRejected EntryStatus = "rejected"
)

// Entry is one queued mutation.
type Entry struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Domain     Domain          `json:"domain"`
	Op         Op              `json:"op"`
	Payload    json.RawMessage `json:"payload"`
	Actor      reception.Actor `json:"actor"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	Status     EntryStatus     `json:"status"`
}

// ErrEntryNotFound is returned when acking or failing an unknown entry.
var ErrEntryNotFound = errors.New("journal entry not found")

// Journal persists queued entries.
type Journal interface {
	// Append stores e as pending and assigns its Seq.
	Append(ctx context.Context, e Entry) (Entry, error)
	// Pending returns up to limit pending entries in Seq order. limit <= 0
	// returns all of them.
	Pending(ctx context.Context, limit int) ([]Entry, error)
	Ack(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, cause error) error
	Reject(ctx context.Context, id string, reason string) error
	// Rejected returns entries that will never be replayed.
	Rejected(ctx context.Context) ([]Entry, error)
}

// =============================================================================
// IN-MEMORY JOURNAL
// =============================================================================

// MemoryJournal is a Journal kept in process memory. Entries do not survive
// a restart; use the SQLite journal on terminals.
type MemoryJournal struct {
	mu      sync.Mutex
	seq     int64
	entries map[string]*Entry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]*Entry)}
}

func (j *MemoryJournal) Append(_ context.Context, e Entry) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, dup := j.entries[e.ID]; dup {
		return Entry{}, fmt.Errorf("journal entry %s already exists", e.ID)
	}
	j.seq++
	e.Seq = j.seq
	e.Status = StatusPending
	j.entries[e.ID] = &e
	return e, nil
}

func (j *MemoryJournal) Pending(_ context.Context, limit int) ([]Entry, error) {
	return j.list(StatusPending, limit), nil
}

func (j *MemoryJournal) Rejected(_ context.Context) ([]Entry, error) {
	return j.list(StatusRejected, 0), nil
}

func (j *MemoryJournal) list(status EntryStatus, limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		if e.Status == status {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (j *MemoryJournal) Ack(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[id]; !ok {
		return fmt.Errorf("ack %s: %w", id, ErrEntryNotFound)
	}
	delete(j.entries, id)
	return nil
}

func (j *MemoryJournal) Retry(_ context.Context, id string, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return fmt.Errorf("retry %s: %w", id, ErrEntryNotFound)
	}
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	return nil
}

func (j *MemoryJournal) Reject(_ context.Context, id string, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return fmt.Errorf("reject %s: %w", id, ErrEntryNotFound)
	}
	e.Attempts++
	e.LastError = reason
	e.Status = StatusRejected
	return nil
}

package knowledge

import (
	"sync"
	"time"

	"github.com/efebarandurmaz/lodestone/internal/vector"
)

// Op is the kind of mutation recorded in the history log.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// HistoryEntry is one append-only record of a mutation. Before and After
// are snapshots of the record around the mutation; Before is nil for
// creates and After is nil for deletes.
type HistoryEntry struct {
	MemoryID string         `json:"memory_id"`
	Op       Op             `json:"operation"`
	Before   *vector.Record `json:"before,omitempty"`
	After    *vector.Record `json:"after,omitempty"`
	At       time.Time      `json:"timestamp"`
}

// historyLog is the collection's append-only mutation record. Entries are
// never modified or removed except by a full reset, which wipes the
// collection they describe.
type historyLog struct {
	mu      sync.Mutex
	entries map[string][]HistoryEntry
}

func newHistoryLog() *historyLog {
	return &historyLog{entries: make(map[string][]HistoryEntry)}
}

func (l *historyLog) append(e HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[e.MemoryID] = append(l.entries[e.MemoryID], e)
}

// forID returns the entries for an id in chronological order. Unknown ids
// yield an empty slice.
func (l *historyLog) forID(id string) []HistoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.entries[id]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

func (l *historyLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string][]HistoryEntry)
}

// Package metrics collects in-process counters for the retrieval engine.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Engine accumulates counters across the lifetime of one Knowledge
// instance. All methods are safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	startedAt time.Time

	ingests      int
	chunksStored int
	ingestTime   time.Duration

	searches   int
	results    int
	searchTime time.Duration

	deletes int
	updates int
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Uptime       time.Duration `json:"uptime_ms"`
	Ingests      int           `json:"ingests"`
	ChunksStored int           `json:"chunks_stored"`
	IngestTime   time.Duration `json:"ingest_time_ms"`
	Searches     int           `json:"searches"`
	Results      int           `json:"results"`
	SearchTime   time.Duration `json:"search_time_ms"`
	Updates      int           `json:"updates"`
	Deletes      int           `json:"deletes"`
}

// New starts a fresh counter set.
func New() *Engine {
	return &Engine{startedAt: time.Now()}
}

// RecordIngest counts one ingest that stored the given number of chunks.
func (e *Engine) RecordIngest(chunks int, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ingests++
	e.chunksStored += chunks
	e.ingestTime += d
}

// RecordSearch counts one search and its result count.
func (e *Engine) RecordSearch(results int, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.searches++
	e.results += results
	e.searchTime += d
}

// RecordUpdate counts one record update.
func (e *Engine) RecordUpdate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updates++
}

// RecordDelete counts n deleted records.
func (e *Engine) RecordDelete(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deletes += n
}

// Snapshot returns a copy of the current counters.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Uptime:       time.Since(e.startedAt),
		Ingests:      e.ingests,
		ChunksStored: e.chunksStored,
		IngestTime:   e.ingestTime,
		Searches:     e.searches,
		Results:      e.results,
		SearchTime:   e.searchTime,
		Updates:      e.updates,
		Deletes:      e.deletes,
	}
}

// JSON renders the snapshot as indented JSON.
func (e *Engine) JSON() ([]byte, error) {
	return json.MarshalIndent(e.Snapshot(), "", "  ")
}

// PrintSummary writes a human-readable summary.
func (e *Engine) PrintSummary(w io.Writer) {
	s := e.Snapshot()
	fmt.Fprintf(w, "uptime:    %s\n", s.Uptime.Round(time.Millisecond))
	fmt.Fprintf(w, "ingests:   %d (%d chunks, %s)\n", s.Ingests, s.ChunksStored, s.IngestTime.Round(time.Millisecond))
	fmt.Fprintf(w, "searches:  %d (%d results, %s)\n", s.Searches, s.Results, s.SearchTime.Round(time.Millisecond))
	fmt.Fprintf(w, "updates:   %d\n", s.Updates)
	fmt.Fprintf(w, "deletes:   %d\n", s.Deletes)
}

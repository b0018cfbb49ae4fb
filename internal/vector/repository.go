// Package vector defines the storage contract for embedded knowledge records.
package vector

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record id does not exist in the collection.
var ErrNotFound = errors.New("vector: record not found")

// ErrDimensionMismatch is returned when a record's vector length does not
// match the collection's configured embedding dimension.
var ErrDimensionMismatch = errors.New("vector: embedding dimension mismatch")

// Scope partitions a shared collection into isolated logical namespaces.
// An empty field means unscoped.
type Scope struct {
	UserID  string
	AgentID string
	RunID   string
}

// IsZero reports whether no scope field is set.
func (s Scope) IsZero() bool {
	return s.UserID == "" && s.AgentID == "" && s.RunID == ""
}

// Record is a stored retrieval unit: one chunk of text with its embedding.
type Record struct {
	ID         string
	Text       string
	Vector     []float32
	Source     string
	Scope      Scope
	Metadata   map[string]string
	ChunkIndex int
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Vector != nil {
		out.Vector = make([]float32, len(r.Vector))
		copy(out.Vector, r.Vector)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Filter restricts queries and bulk deletes. Scope fields match by exact
// equality; an empty field is a wildcard. Metadata entries must all match.
type Filter struct {
	Scope    Scope
	Metadata map[string]string
}

// Matches reports whether the record satisfies every set filter field.
func (f Filter) Matches(r Record) bool {
	if f.Scope.UserID != "" && f.Scope.UserID != r.Scope.UserID {
		return false
	}
	if f.Scope.AgentID != "" && f.Scope.AgentID != r.Scope.AgentID {
		return false
	}
	if f.Scope.RunID != "" && f.Scope.RunID != r.Scope.RunID {
		return false
	}
	for k, v := range f.Metadata {
		if r.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Candidate is a single match from a similarity query.
type Candidate struct {
	Record
	Score float32
}

// Repository provides vector storage and filtered similarity search for one
// collection. Upsert with an existing id replaces the stored record, so it
// doubles as the update path. Implementations must make a single Upsert call
// atomic with respect to concurrent queries.
type Repository interface {
	// Upsert inserts or replaces records as one atomic batch.
	Upsert(ctx context.Context, recs []Record) error
	// Query returns up to k candidates ordered by descending similarity,
	// ties broken by most recent CreatedAt.
	Query(ctx context.Context, vec []float32, f Filter, k int) ([]Candidate, error)
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// Delete removes the record with the given id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// DeleteByFilter removes all matching records and returns them.
	DeleteByFilter(ctx context.Context, f Filter) ([]Record, error)
	// List returns all matching records in no particular order.
	List(ctx context.Context, f Filter) ([]Record, error)
	// Reset drops every record in the collection. Resetting an empty
	// collection is a no-op.
	Reset(ctx context.Context) error
	// Close releases resources.
	Close() error
}

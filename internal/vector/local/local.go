// Package local implements vector.Repository on chromem-go, a pure Go
// embedded vector database. Suitable for single-process deployments and
// tests; no external service required.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/efebarandurmaz/lodestone/internal/vector"
)

const defaultOverFetchFactor = 3

// Config configures the embedded store.
type Config struct {
	// Collection is the logical collection name.
	Collection string
	// Dimensions is the fixed embedding dimension; every vector is
	// validated against it.
	Dimensions int
	// OverFetchFactor multiplies the requested k before post-filtering
	// and tie-break ordering (default 3).
	OverFetchFactor int
	// PersistPath enables on-disk persistence when non-empty.
	PersistPath string
}

// Store is an embedded chromem-backed repository.
//
// chromem answers similarity queries; an authoritative record table backs
// exact CRUD, listing and deterministic tie-breaking. Both are guarded by
// one lock so a batch Upsert is atomic with respect to readers.
type Store struct {
	mu        sync.RWMutex
	db        *chromem.DB
	col       *chromem.Collection
	records   map[string]vector.Record
	name      string
	dims      int
	overFetch int
}

// New creates or opens an embedded store.
func New(cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("local: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Collection == "" {
		cfg.Collection = "knowledge"
	}
	if cfg.OverFetchFactor <= 0 {
		cfg.OverFetchFactor = defaultOverFetchFactor
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("local: open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("local: create collection: %w", err)
	}

	return &Store{
		db:        db,
		col:       col,
		records:   make(map[string]vector.Record),
		name:      cfg.Collection,
		dims:      cfg.Dimensions,
		overFetch: cfg.OverFetchFactor,
	}, nil
}

// Upsert inserts or replaces records as one atomic batch. A rejected batch
// leaves the store unchanged.
func (s *Store) Upsert(ctx context.Context, recs []vector.Record) error {
	docs := make([]chromem.Document, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return fmt.Errorf("local: record %d has an empty id", i)
		}
		if len(r.Vector) != s.dims {
			return fmt.Errorf("%w: record %s has %d dimensions, collection expects %d",
				vector.ErrDimensionMismatch, r.ID, len(r.Vector), s.dims)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: r.Vector,
			Metadata:  docMetadata(r),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, doc := range docs {
		if err := s.col.AddDocument(ctx, doc); err != nil {
			s.rollback(ctx, docs[:i])
			return fmt.Errorf("local: add document %s: %w", doc.ID, err)
		}
	}
	for _, r := range recs {
		s.records[r.ID] = r.Clone()
	}
	return nil
}

// rollback undoes documents added by a failed batch: replaced documents are
// restored from the record table, new ones are removed. Caller holds s.mu.
func (s *Store) rollback(ctx context.Context, added []chromem.Document) {
	for _, doc := range added {
		if prev, ok := s.records[doc.ID]; ok {
			_ = s.col.AddDocument(ctx, chromem.Document{
				ID:        prev.ID,
				Content:   prev.Text,
				Embedding: prev.Vector,
				Metadata:  docMetadata(prev),
			})
		} else {
			_ = s.col.Delete(ctx, nil, nil, doc.ID)
		}
	}
}

// Query returns up to k candidates ordered by descending similarity,
// ties broken by most recent CreatedAt.
func (s *Store) Query(ctx context.Context, vec []float32, f vector.Filter, k int) ([]vector.Candidate, error) {
	if len(vec) != s.dims {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, collection expects %d",
			vector.ErrDimensionMismatch, len(vec), s.dims)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem rejects nResults larger than the matching document count, so
	// clamp against the authoritative record table.
	matching := 0
	for _, rec := range s.records {
		if f.Matches(rec) {
			matching++
		}
	}
	if matching == 0 {
		return nil, nil
	}
	n := k * s.overFetch
	if n > matching {
		n = matching
	}

	results, err := s.col.QueryEmbedding(ctx, vec, n, whereClause(f), nil)
	if err != nil {
		return nil, fmt.Errorf("local: query: %w", err)
	}

	cands := make([]vector.Candidate, 0, len(results))
	for _, res := range results {
		rec, ok := s.records[res.ID]
		if !ok || !f.Matches(rec) {
			continue
		}
		cands = append(cands, vector.Candidate{Record: rec.Clone(), Score: res.Similarity})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].CreatedAt.After(cands[j].CreatedAt)
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (vector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return vector.Record{}, fmt.Errorf("%w: %s", vector.ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", vector.ErrNotFound, id)
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("local: delete %s: %w", id, err)
	}
	delete(s.records, id)
	return nil
}

// DeleteByFilter removes all matching records and returns them.
func (s *Store) DeleteByFilter(ctx context.Context, f vector.Filter) ([]vector.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []vector.Record
	for id, rec := range s.records {
		if !f.Matches(rec) {
			continue
		}
		if err := s.col.Delete(ctx, nil, nil, id); err != nil {
			return nil, fmt.Errorf("local: delete %s: %w", id, err)
		}
		deleted = append(deleted, rec.Clone())
		delete(s.records, id)
	}
	sort.Slice(deleted, func(i, j int) bool {
		return deleted[i].CreatedAt.Before(deleted[j].CreatedAt)
	})
	return deleted, nil
}

// List returns all matching records.
func (s *Store) List(ctx context.Context, f vector.Filter) ([]vector.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []vector.Record
	for _, rec := range s.records {
		if f.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Reset drops every record in the collection.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("local: drop collection: %w", err)
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, nil)
	if err != nil {
		return fmt.Errorf("local: recreate collection: %w", err)
	}
	s.col = col
	s.records = make(map[string]vector.Record)
	return nil
}

// Close releases resources. The embedded store holds everything in memory
// (or flushed to disk already), so there is nothing to release.
func (s *Store) Close() error {
	return nil
}

// docMetadata flattens scope and caller metadata into chromem's string map.
// Caller metadata keys are prefixed so they cannot collide with scope keys.
func docMetadata(r vector.Record) map[string]string {
	md := map[string]string{"source": r.Source}
	if r.Scope.UserID != "" {
		md["user_id"] = r.Scope.UserID
	}
	if r.Scope.AgentID != "" {
		md["agent_id"] = r.Scope.AgentID
	}
	if r.Scope.RunID != "" {
		md["run_id"] = r.Scope.RunID
	}
	for k, v := range r.Metadata {
		md["meta."+k] = v
	}
	return md
}

// whereClause builds chromem's equality filter from the set filter fields.
func whereClause(f vector.Filter) map[string]string {
	where := make(map[string]string)
	if f.Scope.UserID != "" {
		where["user_id"] = f.Scope.UserID
	}
	if f.Scope.AgentID != "" {
		where["agent_id"] = f.Scope.AgentID
	}
	if f.Scope.RunID != "" {
		where["run_id"] = f.Scope.RunID
	}
	for k, v := range f.Metadata {
		where["meta."+k] = v
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

var _ vector.Repository = (*Store)(nil)

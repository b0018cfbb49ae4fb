package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/efebarandurmaz/lodestone/internal/vector"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Collection: "test", Dimensions: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func rec(id string, vec []float32, scope vector.Scope, created time.Time) vector.Record {
	return vector.Record{
		ID:        id,
		Text:      "text for " + id,
		Vector:    vec,
		Source:    "src",
		Scope:     scope,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestUpsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := s.Upsert(ctx, []vector.Record{
		rec("a", []float32{1, 0, 0}, vector.Scope{}, now),
		rec("b", []float32{0, 1, 0}, vector.Scope{}, now),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cands, err := s.Query(ctx, []float32{1, 0, 0}, vector.Filter{}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].ID != "a" {
		t.Errorf("expected best match 'a', got %q with score %f", cands[0].ID, cands[0].Score)
	}
	if cands[0].Score <= cands[1].Score {
		t.Errorf("candidates not ordered by score: %f, %f", cands[0].Score, cands[1].Score)
	}
}

func TestUpsertRejectedBatchLeavesStoreUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := s.Upsert(ctx, []vector.Record{
		rec("ok", []float32{1, 0, 0}, vector.Scope{}, now),
		rec("bad", []float32{1, 0}, vector.Scope{}, now),
	})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := s.Get(ctx, "ok"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("rejected batch committed a record: %v", err)
	}
	recs, err := s.List(ctx, vector.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty store after rejected batch, got %d records", len(recs))
	}

	err = s.Upsert(ctx, []vector.Record{
		rec("ok", []float32{1, 0, 0}, vector.Scope{}, now),
		rec("", []float32{0, 1, 0}, vector.Scope{}, now),
	})
	if err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := s.Get(ctx, "ok"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("rejected batch committed a record: %v", err)
	}
}

func TestQueryScopeIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := s.Upsert(ctx, []vector.Record{
		rec("ua", []float32{1, 0, 0}, vector.Scope{UserID: "alice"}, now),
		rec("ub", []float32{1, 0, 0}, vector.Scope{UserID: "bob"}, now),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cands, err := s.Query(ctx, []float32{1, 0, 0}, vector.Filter{Scope: vector.Scope{UserID: "alice"}}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cands) != 1 || cands[0].ID != "ua" {
		t.Fatalf("scope leak: got %+v", cands)
	}

	// Empty scope is a wildcard and sees both.
	cands, err = s.Query(ctx, []float32{1, 0, 0}, vector.Filter{}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("wildcard scope: expected 2, got %d", len(cands))
	}
}

func TestQueryMetadataFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := rec("a", []float32{1, 0, 0}, vector.Scope{}, now)
	a.Metadata = map[string]string{"lang": "go"}
	b := rec("b", []float32{1, 0, 0}, vector.Scope{}, now)
	b.Metadata = map[string]string{"lang": "rust"}
	if err := s.Upsert(ctx, []vector.Record{a, b}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cands, err := s.Query(ctx, []float32{1, 0, 0}, vector.Filter{Metadata: map[string]string{"lang": "go"}}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cands) != 1 || cands[0].ID != "a" {
		t.Fatalf("metadata filter: got %+v", cands)
	}
}

func TestQueryTieBreakByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	err := s.Upsert(ctx, []vector.Record{
		rec("old", []float32{1, 0, 0}, vector.Scope{}, older),
		rec("new", []float32{1, 0, 0}, vector.Scope{}, newer),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	cands, err := s.Query(ctx, []float32{1, 0, 0}, vector.Filter{}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].ID != "new" {
		t.Errorf("tie should break to the most recent record, got %q first", cands[0].ID)
	}
}

func TestQueryDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Query(context.Background(), []float32{1, 0}, vector.Filter{}, 1)
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	err := s.Upsert(context.Background(), []vector.Record{
		rec("bad", []float32{1, 0}, vector.Scope{}, time.Now()),
	})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	orig := rec("a", []float32{1, 0, 0}, vector.Scope{}, now)
	if err := s.Upsert(ctx, []vector.Record{orig}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	updated := orig
	updated.Text = "replaced"
	updated.Vector = []float32{0, 1, 0}
	if err := s.Upsert(ctx, []vector.Record{updated}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "replaced" {
		t.Errorf("record not replaced: %q", got.Text)
	}

	recs, err := s.List(ctx, vector.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("upsert duplicated the record: %d entries", len(recs))
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, vector.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []vector.Record{rec("a", []float32{1, 0, 0}, vector.Scope{}, time.Now())}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, vector.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, vector.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestDeleteByFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	err := s.Upsert(ctx, []vector.Record{
		rec("ua", []float32{1, 0, 0}, vector.Scope{UserID: "alice"}, now),
		rec("ub", []float32{0, 1, 0}, vector.Scope{UserID: "bob"}, now),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	deleted, err := s.DeleteByFilter(ctx, vector.Filter{Scope: vector.Scope{UserID: "alice"}})
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if len(deleted) != 1 || deleted[0].ID != "ua" {
		t.Fatalf("expected only alice's record deleted, got %+v", deleted)
	}
	if _, err := s.Get(ctx, "ub"); err != nil {
		t.Errorf("bob's record should survive: %v", err)
	}
}

func TestResetIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, []vector.Record{rec("a", []float32{1, 0, 0}, vector.Scope{}, time.Now())}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	recs, err := s.List(ctx, vector.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty store after reset, got %d records", len(recs))
	}

	// Resetting an empty store succeeds.
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("second Reset: %v", err)
	}

	// The store is usable after reset.
	if err := s.Upsert(ctx, []vector.Record{rec("b", []float32{0, 1, 0}, vector.Scope{}, time.Now())}); err != nil {
		t.Fatalf("Upsert after reset: %v", err)
	}
}

func TestQueryEmptyStore(t *testing.T) {
	s := newTestStore(t)
	cands, err := s.Query(context.Background(), []float32{1, 0, 0}, vector.Filter{}, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %d", len(cands))
	}
}

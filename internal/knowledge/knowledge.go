// Package knowledge is the retrieval engine facade: it ingests sources,
// chunks and embeds them, persists the chunks in a vector repository, and
// answers scoped semantic queries with optional reranking. Every mutation
// is recorded in an append-only history log.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/lodestone/internal/chunker"
	"github.com/efebarandurmaz/lodestone/internal/embed"
	"github.com/efebarandurmaz/lodestone/internal/metrics"
	"github.com/efebarandurmaz/lodestone/internal/observability"
	"github.com/efebarandurmaz/lodestone/internal/rerank"
	"github.com/efebarandurmaz/lodestone/internal/vector"
)

// ErrIngestion wraps non-cancellation failures during the chunk, embed, or
// persist stages of an ingest. No partial chunk batch is ever visible when
// it is returned.
var ErrIngestion = errors.New("knowledge: ingestion failed")

const (
	// DefaultSearchLimit is used when a search limit is zero or negative.
	DefaultSearchLimit = 5

	defaultOverFetchFactor = 3
)

// Params configures a Knowledge instance. Repository, Embedder, and Chunker
// are required; the rest have working defaults.
type Params struct {
	Collection      string
	Repository      vector.Repository
	Embedder        *embed.Gateway
	Chunker         chunker.Chunker
	Reranker        *rerank.Gateway
	Normalizer      Normalizer
	Metrics         *metrics.Engine
	OverFetchFactor int
	Logger          *slog.Logger
}

// Knowledge is the retrieval engine for one collection.
type Knowledge struct {
	collection string
	repo       vector.Repository
	embedder   *embed.Gateway
	chunker    chunker.Chunker
	reranker   *rerank.Gateway
	normalizer Normalizer
	history    *historyLog
	metrics    *metrics.Engine
	overFetch  int
	logger     *slog.Logger

	// commitMu is held across every repository commit and its history
	// append, so concurrent writers to the same id produce entries in
	// commit order.
	commitMu sync.Mutex
}

// New creates a Knowledge instance from Params.
func New(p Params) (*Knowledge, error) {
	if p.Repository == nil {
		return nil, errors.New("knowledge: repository is required")
	}
	if p.Embedder == nil {
		return nil, errors.New("knowledge: embedder is required")
	}
	if p.Chunker == nil {
		return nil, errors.New("knowledge: chunker is required")
	}
	if p.Collection == "" {
		p.Collection = "knowledge"
	}
	if p.Normalizer == nil {
		p.Normalizer = PlainNormalizer{}
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}
	if p.OverFetchFactor <= 0 {
		p.OverFetchFactor = defaultOverFetchFactor
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Knowledge{
		collection: p.Collection,
		repo:       p.Repository,
		embedder:   p.Embedder,
		chunker:    p.Chunker,
		reranker:   p.Reranker,
		normalizer: p.Normalizer,
		history:    newHistoryLog(),
		metrics:    p.Metrics,
		overFetch:  p.OverFetchFactor,
		logger:     p.Logger,
	}, nil
}

// Result is a single search hit.
type Result struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float32           `json:"score"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Stats summarizes the collection contents.
type Stats struct {
	Collection      string `json:"collection"`
	TotalChunks     int    `json:"total_chunks"`
	DistinctSources int    `json:"distinct_sources"`
}

// Update describes a partial record update. Nil fields are left unchanged.
type Update struct {
	Text     *string
	Metadata map[string]string
}

// Add ingests a source reference: a path to a plain-text file, or literal
// text. Returns the ids of the stored chunks. Unsupported file formats
// return ErrUnsupportedFormat.
func (k *Knowledge) Add(ctx context.Context, source string, scope vector.Scope, metadata map[string]string) ([]string, error) {
	ctx, span := observability.StartIngestSpan(ctx, k.collection, source)
	defer span.End()

	norm, err := k.normalizer.Normalize(ctx, source)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	ids, err := k.ingest(ctx, norm.Text, norm.SourceID, scope, metadata)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordIngestResult(span, len(ids))
	return ids, nil
}

// Store ingests literal text directly, without source resolution.
func (k *Knowledge) Store(ctx context.Context, content string, scope vector.Scope, metadata map[string]string) ([]string, error) {
	source := textSourceID(content)
	ctx, span := observability.StartIngestSpan(ctx, k.collection, source)
	defer span.End()

	ids, err := k.ingest(ctx, content, source, scope, metadata)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordIngestResult(span, len(ids))
	return ids, nil
}

// ingest runs the staged pipeline: chunk, embed, then commit the whole
// batch in a single repository upsert. A failure at any stage leaves the
// collection untouched.
func (k *Knowledge) ingest(ctx context.Context, text, source string, scope vector.Scope, metadata map[string]string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	start := time.Now()

	chunks, err := k.chunker.Chunk(ctx, text)
	if err != nil {
		return nil, k.ingestErr(ctx, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	// Semantic strategies arrive with vectors already attached; the rest
	// are embedded here in one batch.
	var missing []int
	for i := range chunks {
		if chunks[i].Vector == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = chunks[idx].Text
		}
		vecs, err := k.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, k.ingestErr(ctx, err)
		}
		for i, idx := range missing {
			chunks[idx].Vector = vecs[i]
		}
	}

	now := time.Now().UTC()
	recs := make([]vector.Record, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		meta := make(map[string]string, len(metadata))
		for mk, mv := range metadata {
			meta[mk] = mv
		}
		recs[i] = vector.Record{
			ID:         uuid.NewString(),
			Text:       c.Text,
			Vector:     c.Vector,
			Source:     source,
			Scope:      scope,
			Metadata:   meta,
			ChunkIndex: c.Index,
			ChunkCount: len(chunks),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		ids[i] = recs[i].ID
	}

	k.commitMu.Lock()
	if err := k.repo.Upsert(ctx, recs); err != nil {
		k.commitMu.Unlock()
		return nil, k.ingestErr(ctx, err)
	}
	for i := range recs {
		after := recs[i].Clone()
		k.history.append(HistoryEntry{
			MemoryID: recs[i].ID,
			Op:       OpCreate,
			After:    &after,
			At:       now,
		})
	}
	k.commitMu.Unlock()

	k.metrics.RecordIngest(len(recs), time.Since(start))
	k.logger.Debug("ingested source",
		"collection", k.collection, "source", source, "chunks", len(recs))
	return ids, nil
}

// ingestErr classifies a pipeline failure. Cancellation and deadline errors
// surface unchanged; everything else is wrapped in ErrIngestion.
func (k *Knowledge) ingestErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrIngestion, err)
}

// Search embeds the query and returns up to limit results within scope,
// best first. When rerank is enabled and a reranker is configured, the
// repository is over-fetched and candidates are cross-scored before the
// final cut.
func (k *Knowledge) Search(ctx context.Context, query string, scope vector.Scope, limit int, rerankOn bool) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	useRerank := rerankOn && k.reranker != nil
	ctx, span := observability.StartSearchSpan(ctx, k.collection, limit, useRerank)
	defer span.End()
	start := time.Now()

	qvec, err := k.embedder.EmbedOne(ctx, query)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	fetch := limit
	if useRerank {
		fetch = limit * k.overFetch
	}
	cands, err := k.repo.Query(ctx, qvec, vector.Filter{Scope: scope}, fetch)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	if useRerank {
		cands = k.reranker.Rerank(ctx, query, cands)
	}
	if len(cands) > limit {
		cands = cands[:limit]
	}

	results := make([]Result, len(cands))
	for i, c := range cands {
		results[i] = Result{
			ID:       c.ID,
			Text:     c.Text,
			Score:    c.Score,
			Source:   c.Source,
			Metadata: c.Metadata,
		}
	}
	k.metrics.RecordSearch(len(results), time.Since(start))
	if len(results) > 0 {
		observability.RecordSearchResult(span, len(results), results[0].Score)
	} else {
		observability.RecordSearchResult(span, 0, 0)
	}
	return results, nil
}

// GetContext searches and formats the hits as a provenance-annotated
// context block for prompt assembly.
func (k *Knowledge) GetContext(ctx context.Context, query string, scope vector.Scope, limit int) (string, error) {
	results, err := k.Search(ctx, query, scope, limit, true)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Relevant knowledge:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] source=%s score=%.3f\n%s\n\n", i+1, r.Source, r.Score, r.Text)
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

// Get returns the record with the given id, or vector.ErrNotFound.
func (k *Knowledge) Get(ctx context.Context, id string) (vector.Record, error) {
	return k.repo.Get(ctx, id)
}

// GetAll lists every record within scope.
func (k *Knowledge) GetAll(ctx context.Context, scope vector.Scope) ([]vector.Record, error) {
	return k.repo.List(ctx, vector.Filter{Scope: scope})
}

// UpdateRecord applies a partial update to a stored record. A text change
// re-embeds before persisting; a metadata change replaces the metadata map
// wholesale. Returns the updated record.
func (k *Knowledge) UpdateRecord(ctx context.Context, id string, upd Update) (vector.Record, error) {
	before, err := k.repo.Get(ctx, id)
	if err != nil {
		return vector.Record{}, err
	}

	after := before.Clone()
	changed := false

	if upd.Text != nil && *upd.Text != before.Text {
		after.Text = *upd.Text
		vec, err := k.embedder.EmbedOne(ctx, after.Text)
		if err != nil {
			return vector.Record{}, err
		}
		after.Vector = vec
		changed = true
	}
	if upd.Metadata != nil {
		meta := make(map[string]string, len(upd.Metadata))
		for mk, mv := range upd.Metadata {
			meta[mk] = mv
		}
		after.Metadata = meta
		changed = true
	}
	if !changed {
		return before, nil
	}

	now := time.Now().UTC()
	after.UpdatedAt = now

	k.commitMu.Lock()
	if err := k.repo.Upsert(ctx, []vector.Record{after}); err != nil {
		k.commitMu.Unlock()
		return vector.Record{}, err
	}
	beforeSnap := before.Clone()
	afterSnap := after.Clone()
	k.history.append(HistoryEntry{
		MemoryID: id,
		Op:       OpUpdate,
		Before:   &beforeSnap,
		After:    &afterSnap,
		At:       now,
	})
	k.commitMu.Unlock()
	k.metrics.RecordUpdate()
	return after, nil
}

// Delete removes a record by id, or returns vector.ErrNotFound.
func (k *Knowledge) Delete(ctx context.Context, id string) error {
	before, err := k.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	k.commitMu.Lock()
	if err := k.repo.Delete(ctx, id); err != nil {
		k.commitMu.Unlock()
		return err
	}
	snap := before.Clone()
	k.history.append(HistoryEntry{
		MemoryID: id,
		Op:       OpDelete,
		Before:   &snap,
		At:       time.Now().UTC(),
	})
	k.commitMu.Unlock()
	k.metrics.RecordDelete(1)
	return nil
}

// DeleteAll removes every record within scope and returns how many were
// deleted. Deleting an empty scope is a no-op.
func (k *Knowledge) DeleteAll(ctx context.Context, scope vector.Scope) (int, error) {
	k.commitMu.Lock()
	removed, err := k.repo.DeleteByFilter(ctx, vector.Filter{Scope: scope})
	if err != nil {
		k.commitMu.Unlock()
		return 0, err
	}
	now := time.Now().UTC()
	for i := range removed {
		snap := removed[i].Clone()
		k.history.append(HistoryEntry{
			MemoryID: removed[i].ID,
			Op:       OpDelete,
			Before:   &snap,
			At:       now,
		})
	}
	k.commitMu.Unlock()
	k.metrics.RecordDelete(len(removed))
	return len(removed), nil
}

// Reset drops the entire collection and its history. Resetting an empty
// collection succeeds.
func (k *Knowledge) Reset(ctx context.Context) error {
	k.commitMu.Lock()
	if err := k.repo.Reset(ctx); err != nil {
		k.commitMu.Unlock()
		return err
	}
	k.history.reset()
	k.commitMu.Unlock()
	k.logger.Info("collection reset", "collection", k.collection)
	return nil
}

// History returns the mutation entries for a record id in chronological
// order. Unknown ids yield an empty slice, not an error: the log outlives
// deleted records.
func (k *Knowledge) History(id string) []HistoryEntry {
	return k.history.forID(id)
}

// Stats reports collection totals.
func (k *Knowledge) Stats(ctx context.Context) (Stats, error) {
	recs, err := k.repo.List(ctx, vector.Filter{})
	if err != nil {
		return Stats{}, err
	}
	sources := make(map[string]struct{}, len(recs))
	for i := range recs {
		sources[recs[i].Source] = struct{}{}
	}
	return Stats{
		Collection:      k.collection,
		TotalChunks:     len(recs),
		DistinctSources: len(sources),
	}, nil
}

// Metrics returns a snapshot of the engine's operation counters.
func (k *Knowledge) Metrics() metrics.Snapshot {
	return k.metrics.Snapshot()
}

// Close releases the repository and embedder resources.
func (k *Knowledge) Close() error {
	err := k.repo.Close()
	k.embedder.Close()
	return err
}

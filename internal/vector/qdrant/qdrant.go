// Package qdrant implements vector.Repository against a remote Qdrant
// service over gRPC. The external contract is identical to the embedded
// backend: scope filters are evaluated server-side via payload match
// conditions, and an over-fetched candidate superset is re-checked and
// re-ordered client-side so tie-breaking stays deterministic.
package qdrant

import (
	"context"
	"fmt"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/efebarandurmaz/lodestone/internal/vector"
)

const (
	defaultOverFetchFactor = 3
	scrollPageSize         = 256
)

// Config configures the remote store.
type Config struct {
	Host            string
	Port            int
	Collection      string
	Dimensions      int
	OverFetchFactor int
}

// Store is a Qdrant-backed repository.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dims        int
	overFetch   int
}

// New connects to Qdrant and creates the collection if it does not exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Collection == "" {
		cfg.Collection = "knowledge"
	}
	if cfg.OverFetchFactor <= 0 {
		cfg.OverFetchFactor = defaultOverFetchFactor
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		dims:        cfg.Dimensions,
		overFetch:   cfg.OverFetchFactor,
	}
	if err := s.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: s.collection,
	})
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Upsert inserts or replaces records as one atomic batch.
func (s *Store) Upsert(ctx context.Context, recs []vector.Record) error {
	for _, r := range recs {
		if len(r.Vector) != s.dims {
			return fmt.Errorf("%w: record %s has %d dimensions, collection expects %d",
				vector.ErrDimensionMismatch, r.ID, len(r.Vector), s.dims)
		}
	}

	points := make([]*pb.PointStruct, len(recs))
	for i, r := range recs {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: payloadFromRecord(r),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
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

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(k * s.overFetch),
		Filter:         filterConditions(f),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	cands := make([]vector.Candidate, 0, len(resp.Result))
	for _, pt := range resp.Result {
		rec := recordFromPayload(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
		if !f.Matches(rec) {
			continue
		}
		cands = append(cands, vector.Candidate{Record: rec, Score: pt.GetScore()})
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
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return vector.Record{}, fmt.Errorf("qdrant: get: %w", err)
	}
	if len(resp.Result) == 0 {
		return vector.Record{}, fmt.Errorf("%w: %s", vector.ErrNotFound, id)
	}
	pt := resp.Result[0]
	return recordFromPayload(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData()), nil
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.deleteIDs(ctx, []string{id})
}

// DeleteByFilter removes all matching records and returns them.
func (s *Store) DeleteByFilter(ctx context.Context, f vector.Filter) ([]vector.Record, error) {
	matched, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}

	ids := make([]string, len(matched))
	for i, r := range matched {
		ids[i] = r.ID
	}
	if err := s.deleteIDs(ctx, ids); err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// List returns all matching records by scrolling the collection.
func (s *Store) List(ctx context.Context, f vector.Filter) ([]vector.Record, error) {
	var out []vector.Record
	var offset *pb.PointId
	limit := uint32(scrollPageSize)

	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filterConditions(f),
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll: %w", err)
		}
		for _, pt := range resp.Result {
			rec := recordFromPayload(pt.GetId().GetUuid(), pt.GetPayload(), pt.GetVectors().GetVector().GetData())
			if f.Matches(rec) {
				out = append(out, rec)
			}
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return out, nil
		}
		offset = resp.NextPageOffset
	}
}

// Reset drops and recreates the collection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant: drop collection: %w", err)
	}
	return s.ensureCollection(ctx)
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) deleteIDs(ctx context.Context, ids []string) error {
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pointIDs}},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete points: %w", err)
	}
	return nil
}

func payloadFromRecord(r vector.Record) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"text":        strValue(r.Text),
		"source":      strValue(r.Source),
		"chunk_index": intValue(int64(r.ChunkIndex)),
		"chunk_count": intValue(int64(r.ChunkCount)),
		"created_at":  intValue(r.CreatedAt.UnixNano()),
		"updated_at":  intValue(r.UpdatedAt.UnixNano()),
	}
	if r.Scope.UserID != "" {
		payload["user_id"] = strValue(r.Scope.UserID)
	}
	if r.Scope.AgentID != "" {
		payload["agent_id"] = strValue(r.Scope.AgentID)
	}
	if r.Scope.RunID != "" {
		payload["run_id"] = strValue(r.Scope.RunID)
	}
	for k, v := range r.Metadata {
		payload["meta."+k] = strValue(v)
	}
	return payload
}

func recordFromPayload(id string, payload map[string]*pb.Value, vec []float32) vector.Record {
	rec := vector.Record{
		ID:         id,
		Vector:     vec,
		Text:       payload["text"].GetStringValue(),
		Source:     payload["source"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		ChunkCount: int(payload["chunk_count"].GetIntegerValue()),
		CreatedAt:  time.Unix(0, payload["created_at"].GetIntegerValue()),
		UpdatedAt:  time.Unix(0, payload["updated_at"].GetIntegerValue()),
		Scope: vector.Scope{
			UserID:  payload["user_id"].GetStringValue(),
			AgentID: payload["agent_id"].GetStringValue(),
			RunID:   payload["run_id"].GetStringValue(),
		},
	}
	for k, v := range payload {
		if len(k) > 5 && k[:5] == "meta." {
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]string)
			}
			rec.Metadata[k[5:]] = v.GetStringValue()
		}
	}
	return rec
}

// filterConditions translates the set filter fields to server-side payload
// match conditions. Nil when the filter is empty so Qdrant skips filtering.
func filterConditions(f vector.Filter) *pb.Filter {
	var must []*pb.Condition
	addKeyword := func(key, val string) {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   key,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: val}},
				},
			},
		})
	}
	if f.Scope.UserID != "" {
		addKeyword("user_id", f.Scope.UserID)
	}
	if f.Scope.AgentID != "" {
		addKeyword("agent_id", f.Scope.AgentID)
	}
	if f.Scope.RunID != "" {
		addKeyword("run_id", f.Scope.RunID)
	}
	for k, v := range f.Metadata {
		addKeyword("meta."+k, v)
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}
}

var _ vector.Repository = (*Store)(nil)

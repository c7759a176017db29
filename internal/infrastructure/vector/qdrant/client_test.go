package qdrant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
)

type mockPoints struct {
	mu sync.Mutex

	stored       map[uint64]*pb.PointStruct
	upserts      []*pb.UpsertPoints
	searches     []*pb.SearchPoints
	fieldIndexes []string
	searchResp   *pb.SearchResponse
	searchErrs   []error
	upsertErr    error
}

func newMockPoints() *mockPoints {
	return &mockPoints{stored: make(map[uint64]*pb.PointStruct)}
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, in)
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	for _, point := range in.GetPoints() {
		m.stored[point.GetId().GetNum()] = point
	}
	return &pb.PointsOperationResponse{}, nil
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, in)
	if len(m.searchErrs) > 0 {
		err := m.searchErrs[0]
		m.searchErrs = m.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.searchResp, nil
}

func (m *mockPoints) Count(_ context.Context, _ *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &pb.CountResponse{Result: &pb.CountResult{Count: uint64(len(m.stored))}}, nil
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldIndexes = append(m.fieldIndexes, in.GetFieldName())
	return &pb.PointsOperationResponse{}, nil
}

type mockCollections struct {
	existing  *pb.VectorParams
	creates   []*pb.CreateCollection
	listCalls int
	listErr   error
	// racedBy simulates a collection created by another process after List.
	racedBy *pb.VectorParams
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	if m.existing != nil {
		resp.Collections = []*pb.CollectionDescription{{Name: "ev_reviews"}}
	}
	return resp, nil
}

func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return &pb.GetCollectionInfoResponse{
		Result: &pb.CollectionInfo{
			Config: &pb.CollectionConfig{
				Params: &pb.CollectionParams{
					VectorsConfig: &pb.VectorsConfig{
						Config: &pb.VectorsConfig_Params{Params: m.existing},
					},
				},
			},
		},
	}, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.creates = append(m.creates, in)
	if m.racedBy != nil {
		m.existing = m.racedBy
		return nil, status.Errorf(codes.AlreadyExists, "collection %s already exists", in.GetCollectionName())
	}
	m.existing = in.GetVectorsConfig().GetParams()
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func reviewSpec() domain.CollectionSpec {
	return domain.CollectionSpec{
		Name:      "ev_reviews",
		Dimension: 3,
		Metric:    domain.MetricL2,
		Index:     domain.IndexParams{Kind: domain.IndexHNSW, M: 16, EfConstruct: 128},
	}
}

func TestEnsureCollectionCreatesOnce(t *testing.T) {
	points := newMockPoints()
	cols := &mockCollections{}
	store := NewWithClients(points, cols, "ev_reviews")

	for i := 0; i < 2; i++ {
		if err := store.EnsureCollection(context.Background(), reviewSpec()); err != nil {
			t.Fatalf("EnsureCollection() error = %v", err)
		}
	}

	if len(cols.creates) != 1 || cols.listCalls != 1 {
		t.Fatalf("expected one create and one list, got creates=%d lists=%d", len(cols.creates), cols.listCalls)
	}
	created := cols.creates[0]
	params := created.GetVectorsConfig().GetParams()
	if params.GetSize() != 3 || params.GetDistance() != pb.Distance_Euclid {
		t.Fatalf("unexpected vector params: %+v", params)
	}
	if created.GetHnswConfig().GetM() != 16 || created.GetHnswConfig().GetEfConstruct() != 128 {
		t.Fatalf("unexpected hnsw config: %+v", created.GetHnswConfig())
	}
	if len(points.fieldIndexes) != 2 || points.fieldIndexes[0] != payloadReviewID || points.fieldIndexes[1] != payloadItemID {
		t.Fatalf("unexpected payload indexes: %v", points.fieldIndexes)
	}
}

func TestEnsureCollectionToleratesConcurrentCreate(t *testing.T) {
	points := newMockPoints()
	cols := &mockCollections{racedBy: &pb.VectorParams{Size: 3, Distance: pb.Distance_Euclid}}
	store := NewWithClients(points, cols, "ev_reviews")

	if err := store.EnsureCollection(context.Background(), reviewSpec()); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if len(cols.creates) != 1 {
		t.Fatalf("expected one create attempt, got %d", len(cols.creates))
	}
	if len(points.fieldIndexes) != 2 {
		t.Fatalf("expected payload indexes after lost create race, got %v", points.fieldIndexes)
	}
}

func TestEnsureCollectionConcurrentCreateStillChecksDimension(t *testing.T) {
	cols := &mockCollections{racedBy: &pb.VectorParams{Size: 768, Distance: pb.Distance_Euclid}}
	store := NewWithClients(newMockPoints(), cols, "ev_reviews")

	err := store.EnsureCollection(context.Background(), reviewSpec())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnsureCollectionRejectsDimensionMismatch(t *testing.T) {
	cols := &mockCollections{existing: &pb.VectorParams{Size: 768, Distance: pb.Distance_Euclid}}
	store := NewWithClients(newMockPoints(), cols, "ev_reviews")

	err := store.EnsureCollection(context.Background(), reviewSpec())
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(cols.creates) != 0 {
		t.Fatalf("existing collection must not be recreated")
	}
}

func TestEnsureCollectionRejectsMetricMismatch(t *testing.T) {
	cols := &mockCollections{existing: &pb.VectorParams{Size: 3, Distance: pb.Distance_Cosine}}
	store := NewWithClients(newMockPoints(), cols, "ev_reviews")

	if err := store.EnsureCollection(context.Background(), reviewSpec()); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnsureCollectionFlatDisablesGraph(t *testing.T) {
	cols := &mockCollections{}
	store := NewWithClients(newMockPoints(), cols, "ev_reviews")
	spec := reviewSpec()
	spec.Metric = domain.MetricCosine
	spec.Index = domain.IndexParams{Kind: domain.IndexFlat}

	if err := store.EnsureCollection(context.Background(), spec); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	created := cols.creates[0]
	if created.GetHnswConfig() == nil || created.GetHnswConfig().GetM() != 0 {
		t.Fatalf("expected m=0 for flat index, got %+v", created.GetHnswConfig())
	}
	if created.GetVectorsConfig().GetParams().GetDistance() != pb.Distance_Cosine {
		t.Fatalf("expected cosine distance")
	}
}

func TestUpsertKeysPointsByReviewID(t *testing.T) {
	points := newMockPoints()
	store := NewWithClients(points, &mockCollections{}, "ev_reviews")
	records := []domain.VectorRecord{
		{ReviewID: 10, ItemID: 1, Embedding: []float32{0.1, 0.2, 0.3}},
		{ReviewID: 11, ItemID: domain.UnknownItemID, Embedding: []float32{0.4, 0.5, 0.6}},
	}

	for i := 0; i < 2; i++ {
		if err := store.Upsert(context.Background(), records); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 points after repeated upsert, got %d", count)
	}
	point := points.stored[10]
	if point.GetPayload()[payloadItemID].GetIntegerValue() != 1 || point.GetPayload()[payloadReviewID].GetIntegerValue() != 10 {
		t.Fatalf("unexpected payload: %+v", point.GetPayload())
	}
	if !points.upserts[0].GetWait() {
		t.Fatalf("expected synchronous upsert")
	}
}

func TestUpsertRejectsInvalidRecords(t *testing.T) {
	store := NewWithClients(newMockPoints(), &mockCollections{}, "ev_reviews")

	if err := store.Upsert(context.Background(), []domain.VectorRecord{{ReviewID: -1, Embedding: []float32{1}}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative id, got %v", err)
	}
	if err := store.Upsert(context.Background(), []domain.VectorRecord{{ReviewID: 1}}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty embedding, got %v", err)
	}
	if err := store.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("expected empty upsert to be a no-op, got %v", err)
	}
}

func TestSearchMapsHitsAndParams(t *testing.T) {
	points := newMockPoints()
	points.searchResp = &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 13}},
			Score: 0.12,
			Payload: map[string]*pb.Value{
				payloadReviewID: integerValue(13),
				payloadItemID:   integerValue(4),
			},
		},
		{
			Id:    &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 10}},
			Score: 0.5,
		},
	}}
	store := NewWithClients(points, &mockCollections{}, "ev_reviews")

	hits, err := store.Search(context.Background(), domain.SearchQuery{
		Vector: []float32{0.1, 0.2, 0.3},
		K:      5,
		Metric: domain.MetricL2,
		Params: domain.SearchParams{HnswEf: 64},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 || hits[0].ReviewID != 13 || hits[0].ItemID != 4 || hits[1].ReviewID != 10 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	req := points.searches[0]
	if req.GetLimit() != 5 || req.GetParams().GetHnswEf() != 64 || req.GetParams().GetExact() {
		t.Fatalf("unexpected search request: %+v", req)
	}
}

func TestSearchUsesExactScanForFlatCollections(t *testing.T) {
	points := newMockPoints()
	points.searchResp = &pb.SearchResponse{}
	store := NewWithClients(points, &mockCollections{}, "ev_reviews")
	spec := reviewSpec()
	spec.Index = domain.IndexParams{Kind: domain.IndexFlat}
	if err := store.EnsureCollection(context.Background(), spec); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}

	if _, err := store.Search(context.Background(), domain.SearchQuery{Vector: []float32{1, 2, 3}, K: 3, Metric: domain.MetricL2}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if !points.searches[0].GetParams().GetExact() {
		t.Fatalf("expected exact search on flat collection")
	}

	_, err := store.Search(context.Background(), domain.SearchQuery{Vector: []float32{1, 2, 3}, K: 3, Metric: domain.MetricCosine})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected metric mismatch to be rejected, got %v", err)
	}
}

func TestSearchRejectsInvalidQuery(t *testing.T) {
	store := NewWithClients(newMockPoints(), &mockCollections{}, "ev_reviews")

	if _, err := store.Search(context.Background(), domain.SearchQuery{Vector: []float32{1}, K: 0}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for k=0, got %v", err)
	}
	if _, err := store.Search(context.Background(), domain.SearchQuery{K: 5}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty vector, got %v", err)
	}
}

func TestSearchRetriesUnavailable(t *testing.T) {
	points := newMockPoints()
	points.searchErrs = []error{status.Error(codes.Unavailable, "connection refused"), nil}
	points.searchResp = &pb.SearchResponse{}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      false,
	})
	store := NewWithClients(points, &mockCollections{}, "ev_reviews", WithExecutor(executor))

	if _, err := store.Search(context.Background(), domain.SearchQuery{Vector: []float32{1}, K: 1}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(points.searches) != 2 {
		t.Fatalf("expected 2 search attempts, got %d", len(points.searches))
	}
}

func TestUnavailableErrorsAreTemporary(t *testing.T) {
	points := newMockPoints()
	points.upsertErr = status.Error(codes.Unavailable, "qdrant down")
	store := NewWithClients(points, &mockCollections{}, "ev_reviews")

	err := store.Upsert(context.Background(), []domain.VectorRecord{{ReviewID: 1, Embedding: []float32{1}}})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}

	cols := &mockCollections{listErr: status.Error(codes.InvalidArgument, "bad")}
	err = NewWithClients(newMockPoints(), cols, "ev_reviews").EnsureCollection(context.Background(), reviewSpec())
	if err == nil || errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

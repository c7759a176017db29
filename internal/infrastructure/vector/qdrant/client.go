package qdrant

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
)

const (
	payloadReviewID = "review_id"
	payloadItemID   = "item_id"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store keeps one review vector per point. The point id is the review id,
// so re-ingesting a review overwrites its previous vector.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	executor    *resilience.Executor

	ensureMu sync.Mutex
	ensured  *domain.CollectionSpec
}

type Option func(*Store)

func WithExecutor(executor *resilience.Executor) Option {
	return func(s *Store) {
		s.executor = executor
	}
}

// Dial connects to the Qdrant gRPC endpoint (usually port 6334).
func Dial(addr, collection string, opts ...Option) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s: %w", addr, err)
	}
	store := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, opts...)
	store.conn = conn
	return store, nil
}

func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, opts ...Option) *Store {
	s := &Store{
		points:      points,
		collections: collections,
		collection:  collection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) Collection() string {
	return s.collection
}

// EnsureCollection creates the collection and its payload indexes when absent.
// An existing collection must match the requested dimension and metric.
func (s *Store) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if spec.Name == "" {
		spec.Name = s.collection
	}
	if spec.Name != s.collection {
		return domain.WrapError(domain.ErrInvalidInput, "ensure collection",
			fmt.Errorf("store is bound to collection %q, got %q", s.collection, spec.Name))
	}
	if spec.Dimension <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "ensure collection", fmt.Errorf("dimension must be positive"))
	}
	distance, err := distanceFor(spec.Metric)
	if err != nil {
		return err
	}

	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured != nil && s.ensured.Dimension == spec.Dimension && s.ensured.Metric == spec.Metric {
		return nil
	}

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if err := s.checkExisting(ctx, spec, distance); err != nil {
			return err
		}
	} else if err := s.create(ctx, spec, distance); err != nil {
		return err
	}

	if err := s.ensurePayloadIndexes(ctx); err != nil {
		return err
	}
	ensured := spec
	s.ensured = &ensured
	return nil
}

func (s *Store) collectionExists(ctx context.Context) (bool, error) {
	var list *pb.ListCollectionsResponse
	err := s.call(ctx, "list_collections", func(ctx context.Context) error {
		var err error
		list, err = s.collections.List(ctx, &pb.ListCollectionsRequest{})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("qdrant list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) checkExisting(ctx context.Context, spec domain.CollectionSpec, distance pb.Distance) error {
	var info *pb.GetCollectionInfoResponse
	err := s.call(ctx, "get_collection", func(ctx context.Context) error {
		var err error
		info, err = s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		return err
	})
	if err != nil {
		return fmt.Errorf("qdrant get collection %s: %w", s.collection, err)
	}

	params := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("qdrant collection %s has no single unnamed vector config", s.collection)
	}
	if params.GetSize() != uint64(spec.Dimension) {
		return domain.WrapError(domain.ErrInvalidInput, "ensure collection",
			fmt.Errorf("collection %s has dimension %d, want %d", s.collection, params.GetSize(), spec.Dimension))
	}
	if params.GetDistance() != distance {
		return domain.WrapError(domain.ErrInvalidInput, "ensure collection",
			fmt.Errorf("collection %s uses %s distance, want %s", s.collection, params.GetDistance(), distance))
	}
	return nil
}

func (s *Store) create(ctx context.Context, spec domain.CollectionSpec, distance pb.Distance) error {
	req := &pb.CreateCollection{
		CollectionName: s.collection,
		HnswConfig:     hnswConfigFor(spec.Index),
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: distance,
				},
			},
		},
	}
	err := s.call(ctx, "create_collection", func(ctx context.Context) error {
		_, err := s.collections.Create(ctx, req)
		return err
	})
	if status.Code(err) == codes.AlreadyExists {
		// Another process created it between list and create.
		return s.checkExisting(ctx, spec, distance)
	}
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *Store) ensurePayloadIndexes(ctx context.Context) error {
	wait := true
	fieldType := pb.FieldType_FieldTypeInteger
	for _, field := range []string{payloadReviewID, payloadItemID} {
		req := &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			Wait:           &wait,
			FieldName:      field,
			FieldType:      &fieldType,
		}
		err := s.call(ctx, "create_field_index", func(ctx context.Context) error {
			_, err := s.points.CreateFieldIndex(ctx, req)
			return err
		})
		if err != nil {
			return fmt.Errorf("qdrant create payload index %s: %w", field, err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if r.ReviewID < 0 {
			return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", fmt.Errorf("negative review id %d", r.ReviewID))
		}
		if len(r.Embedding) == 0 {
			return domain.WrapError(domain.ErrInvalidInput, "qdrant upsert", fmt.Errorf("review %d has empty embedding", r.ReviewID))
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: uint64(r.ReviewID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				payloadReviewID: integerValue(r.ReviewID),
				payloadItemID:   integerValue(r.ItemID),
			},
		}
	}

	wait := true
	req := &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	}
	err := s.call(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.points.Upsert(ctx, req)
		return err
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %d points: %w", len(records), err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, query domain.SearchQuery) ([]domain.ReviewHit, error) {
	if query.K <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant search", fmt.Errorf("k must be positive"))
	}
	if len(query.Vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant search", fmt.Errorf("query vector is empty"))
	}

	exact := query.Params.Exact
	s.ensureMu.Lock()
	if s.ensured != nil {
		if query.Metric != "" && query.Metric != s.ensured.Metric {
			s.ensureMu.Unlock()
			return nil, domain.WrapError(domain.ErrInvalidInput, "qdrant search",
				fmt.Errorf("query metric %s differs from collection metric %s", query.Metric, s.ensured.Metric))
		}
		if s.ensured.Index.Kind == domain.IndexFlat {
			exact = true
		}
	}
	s.ensureMu.Unlock()

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query.Vector,
		Limit:          uint64(query.K),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Params:         searchParamsFor(query.Params.HnswEf, exact),
	}

	var resp *pb.SearchResponse
	err := s.call(ctx, "search", func(ctx context.Context) error {
		var err error
		resp, err = s.points.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]domain.ReviewHit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		reviewID, ok := integerPayload(point.GetPayload(), payloadReviewID)
		if !ok {
			reviewID = int64(point.GetId().GetNum())
		}
		itemID, _ := integerPayload(point.GetPayload(), payloadItemID)
		out = append(out, domain.ReviewHit{
			ReviewID: reviewID,
			ItemID:   itemID,
			Score:    point.GetScore(),
		})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (uint64, error) {
	exact := true
	var resp *pb.CountResponse
	err := s.call(ctx, "count", func(ctx context.Context) error {
		var err error
		resp, err = s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

func (s *Store) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if s.executor == nil {
		return wrapTemporaryIfNeeded("qdrant "+operation, fn(ctx))
	}
	err := s.executor.Execute(ctx, "qdrant."+operation, fn, classifyQdrantError)
	return wrapTemporaryIfNeeded("qdrant "+operation, err)
}

func distanceFor(metric domain.Metric) (pb.Distance, error) {
	switch metric {
	case domain.MetricL2, "":
		return pb.Distance_Euclid, nil
	case domain.MetricCosine:
		return pb.Distance_Cosine, nil
	default:
		return pb.Distance_UnknownDistance, domain.WrapError(domain.ErrInvalidInput, "qdrant distance",
			fmt.Errorf("unsupported metric %q", metric))
	}
}

// hnswConfigFor maps build parameters. FLAT sets m=0, which disables graph
// construction so every search is a full scan.
func hnswConfigFor(params domain.IndexParams) *pb.HnswConfigDiff {
	if params.Kind == domain.IndexFlat {
		m := uint64(0)
		return &pb.HnswConfigDiff{M: &m}
	}
	if params.M == 0 && params.EfConstruct == 0 {
		return nil
	}
	cfg := &pb.HnswConfigDiff{}
	if params.M > 0 {
		m := params.M
		cfg.M = &m
	}
	if params.EfConstruct > 0 {
		ef := params.EfConstruct
		cfg.EfConstruct = &ef
	}
	return cfg
}

func searchParamsFor(hnswEf uint64, exact bool) *pb.SearchParams {
	if hnswEf == 0 && !exact {
		return nil
	}
	params := &pb.SearchParams{}
	if hnswEf > 0 {
		ef := hnswEf
		params.HnswEf = &ef
	}
	if exact {
		params.Exact = &exact
	}
	return params
}

func integerValue(v int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: v}}
}

func integerPayload(payload map[string]*pb.Value, key string) (int64, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, false
	}
	switch kind := v.GetKind().(type) {
	case *pb.Value_IntegerValue:
		return kind.IntegerValue, true
	case *pb.Value_DoubleValue:
		return int64(kind.DoubleValue), true
	default:
		return 0, false
	}
}

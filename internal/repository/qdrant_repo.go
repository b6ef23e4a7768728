package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultVectorDimension = 1024

// exercisePointSpace namespaces the deterministic point ids of exercises.
var exercisePointSpace = uuid.MustParse("6f1c2b0e-3a5d-4f7e-9c61-2d8b4e0a7c13")

// QdrantConnectionConfig holds configuration for the Qdrant connection.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // enables TLS
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository stores exercise search-text vectors.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository connects to a local (insecure) or cloud (TLS + API
// key) Qdrant instance.
// Parameters:
//   - cfg: connection settings.
//
// Returns:
//   - *QdrantRepository: repository bound to cfg.Collection.
//   - error: non-nil if the client cannot be created.
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dim := cfg.VectorDimension
	if dim <= 0 {
		dim = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS13,
		})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: dim,
	}, nil
}

// Close closes the gRPC connection.
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it does not exist and checks
// the vector size of an existing one.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if size := vectors.GetParams().GetSize(); size > 0 {
		return size, true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if size := params.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// ExercisePayload is stored with each exercise vector.
type ExercisePayload struct {
	ExerciseID uint
	DocumentID uint
	Number     int
	Title      string
}

// ExercisePointID returns the deterministic point id of an exercise.
func ExercisePointID(exerciseID uint) string {
	return uuid.NewSHA1(exercisePointSpace, []byte(fmt.Sprintf("exercise:%d", exerciseID))).String()
}

// Upsert inserts or replaces the vector of one exercise.
func (r *QdrantRepository) Upsert(ctx context.Context, vector []float32, payload *ExercisePayload) error {
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: ExercisePointID(payload.ExerciseID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
			},
			Payload: map[string]*pb.Value{
				"exercise_id": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.ExerciseID)}},
				"document_id": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.DocumentID)}},
				"number":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.Number)}},
				"title":       {Kind: &pb.Value_StringValue{StringValue: payload.Title}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}

// VectorHit is one similarity search result.
type VectorHit struct {
	ExerciseID uint
	Score      float32
}

// Search returns the exercises closest to vector, optionally restricted to
// one document.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int, documentID uint) ([]VectorHit, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if documentID != 0 {
		req.Filter = documentFilter(documentID)
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]VectorHit, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		id := scored.GetPayload()["exercise_id"].GetIntegerValue()
		if id <= 0 {
			continue
		}
		hits = append(hits, VectorHit{ExerciseID: uint(id), Score: scored.GetScore()})
	}
	return hits, nil
}

// DeleteByDocument removes every vector of a document.
func (r *QdrantRepository) DeleteByDocument(ctx context.Context, documentID uint) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: documentFilter(documentID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points of document %d: %w", documentID, err)
	}
	return nil
}

func documentFilter(documentID uint) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   "document_id",
					Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(documentID)}},
				},
			},
		}},
	}
}

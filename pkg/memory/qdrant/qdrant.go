// Package qdrant mirrors the memory matrix into a Qdrant collection and
// serves similarity search from it.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/reasoningbank/pkg/memory"
)

const payloadMemoryID = "memory_id"

// Index implements memory.Searcher and memory.Mirror over one collection.
type Index struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dim         uint64
}

var (
	_ memory.Searcher = (*Index)(nil)
	_ memory.Mirror   = (*Index)(nil)
)

// New dials addr and ensures collection exists with cosine distance and
// vectors of size dim.
func New(ctx context.Context, addr, collection string, dim int) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %w", err)
	}
	idx := NewWithConn(conn, collection, dim)
	if err := idx.ensureCollection(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return idx, nil
}

// NewWithConn builds an Index over an existing connection without
// touching the server.
func NewWithConn(conn *grpc.ClientConn, collection string, dim int) *Index {
	return &Index{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dim:         uint64(dim),
	}
}

// Close closes the underlying connection.
func (x *Index) Close() error {
	if x.conn == nil {
		return nil
	}
	return x.conn.Close()
}

func (x *Index) ensureCollection(ctx context.Context) error {
	resp, err := x.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: x.collection})
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !resp.GetResult().GetExists() {
		return x.createCollection(ctx)
	}
	info, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: x.collection})
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}
	// A collection built for another embedding model rejects every upsert.
	size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size == x.dim {
		return nil
	}
	if _, err := x.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: x.collection}); err != nil {
		return fmt.Errorf("failed to delete collection with vector size %d: %w", size, err)
	}
	return x.createCollection(ctx)
}

func (x *Index) createCollection(ctx context.Context) error {
	_, err := x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     x.dim,
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

// PointID maps a memory id to a stable Qdrant UUID.
func PointID(memoryID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
}

// Upsert implements memory.Mirror.
func (x *Index) Upsert(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(ids))
	for i, id := range ids {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: map[string]*pb.Value{
				payloadMemoryID: {Kind: &pb.Value_StringValue{StringValue: id}},
			},
		}
	}

	wait := true
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Reset implements memory.Mirror by recreating the collection.
func (x *Index) Reset(ctx context.Context) error {
	if _, err := x.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: x.collection}); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return x.createCollection(ctx)
}

// Search implements memory.Searcher. Qdrant applies the limit and score
// threshold server side and returns hits by descending score.
func (x *Index) Search(ctx context.Context, query []float32, topK int, threshold float64) ([]memory.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	scoreThreshold := float32(threshold)
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         query,
		Limit:          uint64(topK),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]memory.Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetPayload()[payloadMemoryID].GetStringValue()
		if id == "" {
			continue
		}
		hits = append(hits, memory.Hit{MemoryID: id, Score: float64(r.GetScore())})
	}
	return hits, nil
}

package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/efebarandurmaz/snapcheck/internal/vector"
)

// Inspector implements vector.Inspector over the service's gRPC API.
type Inspector struct {
	conn        *grpc.ClientConn
	ownsConn    bool
	apiKey      string
	service     pb.QdrantClient
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// New dials the gRPC port of the service.
func New(host string, port int, apiKey string) (*Inspector, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	in := NewFromConn(conn, apiKey)
	in.ownsConn = true
	return in, nil
}

// NewFromConn wraps an existing connection. Close leaves conn open.
func NewFromConn(conn *grpc.ClientConn, apiKey string) *Inspector {
	return &Inspector{
		conn:        conn,
		apiKey:      apiKey,
		service:     pb.NewQdrantClient(conn),
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}
}

func (in *Inspector) Health(ctx context.Context) (vector.HealthInfo, error) {
	resp, err := in.service.HealthCheck(in.outgoing(ctx), &pb.HealthCheckRequest{})
	if err != nil {
		return vector.HealthInfo{}, fmt.Errorf("qdrant health: %w", err)
	}
	return vector.HealthInfo{
		Title:   resp.GetTitle(),
		Version: resp.GetVersion(),
		Commit:  resp.GetCommit(),
	}, nil
}

func (in *Inspector) CollectionExists(ctx context.Context, collection string) (bool, error) {
	resp, err := in.collections.CollectionExists(in.outgoing(ctx), &pb.CollectionExistsRequest{
		CollectionName: collection,
	})
	if err != nil {
		return false, fmt.Errorf("qdrant collection exists %s: %w", collection, err)
	}
	return resp.GetResult().GetExists(), nil
}

func (in *Inspector) CountPoints(ctx context.Context, collection string) (uint64, error) {
	exact := true
	resp, err := in.points.Count(in.outgoing(ctx), &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count %s: %w", collection, err)
	}
	return resp.GetResult().GetCount(), nil
}

func (in *Inspector) Close() error {
	if !in.ownsConn {
		return nil
	}
	return in.conn.Close()
}

func (in *Inspector) outgoing(ctx context.Context) context.Context {
	if in.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", in.apiKey)
}

var _ vector.Inspector = (*Inspector)(nil)

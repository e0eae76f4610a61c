package qdrant

import (
	"context"
	"net"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeService struct {
	pb.UnimplementedQdrantServer
}

func (fakeService) HealthCheck(context.Context, *pb.HealthCheckRequest) (*pb.HealthCheckReply, error) {
	return &pb.HealthCheckReply{Title: "qdrant - vector search engine", Version: "1.13.0"}, nil
}

type fakeCollections struct {
	pb.UnimplementedCollectionsServer
	names map[string]bool
}

func (f fakeCollections) CollectionExists(_ context.Context, req *pb.CollectionExistsRequest) (*pb.CollectionExistsResponse, error) {
	return &pb.CollectionExistsResponse{
		Result: &pb.CollectionExists{Exists: f.names[req.GetCollectionName()]},
	}, nil
}

type fakePoints struct {
	pb.UnimplementedPointsServer
	counts map[string]uint64
	keys   chan string
}

func (f fakePoints) Count(ctx context.Context, req *pb.CountPoints) (*pb.CountResponse, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("api-key"); len(v) > 0 {
			f.keys <- v[0]
		}
	}
	if !req.GetExact() {
		return nil, status.Error(codes.InvalidArgument, "exact count required")
	}
	n, ok := f.counts[req.GetCollectionName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "collection not found")
	}
	return &pb.CountResponse{Result: &pb.CountResult{Count: n}}, nil
}

func newInspector(t *testing.T, apiKey string) (*Inspector, chan string) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	keys := make(chan string, 8)

	srv := grpc.NewServer()
	pb.RegisterQdrantServer(srv, fakeService{})
	pb.RegisterCollectionsServer(srv, fakeCollections{names: map[string]bool{"cities_r1": true}})
	pb.RegisterPointsServer(srv, fakePoints{counts: map[string]uint64{"cities_r1": 2}, keys: keys})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewFromConn(conn, apiKey), keys
}

func TestHealth(t *testing.T) {
	in, _ := newInspector(t, "")
	info, err := in.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.13.0", info.Version)
	assert.Empty(t, info.Commit)
}

func TestCollectionExists(t *testing.T) {
	in, _ := newInspector(t, "")
	ctx := context.Background()

	ok, err := in.CollectionExists(ctx, "cities_r1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = in.CollectionExists(ctx, "cities_r9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCountPoints(t *testing.T) {
	in, keys := newInspector(t, "secret")
	ctx := context.Background()

	n, err := in.CountPoints(ctx, "cities_r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.Equal(t, "secret", <-keys)

	_, err = in.CountPoints(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestClose_BorrowedConnStaysOpen(t *testing.T) {
	in, _ := newInspector(t, "")
	require.NoError(t, in.Close())

	_, err := in.Health(context.Background())
	assert.NoError(t, err)
}

package snapshot

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/snapcheck/internal/collection"
	"github.com/efebarandurmaz/snapcheck/internal/qdranttest"
	"github.com/efebarandurmaz/snapcheck/internal/rest"
)

type fixture struct {
	srv         *qdranttest.Server
	snapshots   *Manager
	collections *collection.Client
}

func setup(t *testing.T, opts ...qdranttest.Option) *fixture {
	t.Helper()
	srv := qdranttest.NewServer(opts...)
	t.Cleanup(srv.Close)
	rc, err := rest.New(rest.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)

	f := &fixture{srv: srv, snapshots: NewManager(rc), collections: collection.NewClient(rc)}
	ctx := context.Background()
	require.NoError(t, f.collections.Create(ctx, "src", collection.VectorConfig{Size: 4, Distance: collection.DistanceDot}))
	_, err = f.collections.UpsertPoints(ctx, "src", []collection.Point{
		{ID: collection.NumID(1), Vector: []float32{0.19, 0.81, 0.75, 0.11}, Payload: map[string]any{"city": "London"}},
		{ID: collection.NumID(2), Vector: []float32{0.05, 0.61, 0.76, 0.74}, Payload: map[string]any{"city": "Berlin"}},
	}, true)
	require.NoError(t, err)
	return f
}

func TestCreate_ReturnsDescriptor(t *testing.T) {
	f := setup(t)
	desc, err := f.snapshots.Create(context.Background(), "src")
	require.NoError(t, err)
	assert.NotEmpty(t, desc.Name)
	assert.Equal(t, "src", desc.Collection)
	assert.NotEmpty(t, desc.Checksum)
}

func TestCreate_DistinctNames(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)
	b, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)
	assert.NotEqual(t, a.Name, b.Name)

	listed, err := f.snapshots.List(ctx, "src")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestCreate_MissingName(t *testing.T) {
	f := setup(t, qdranttest.WithoutSnapshotName())
	_, err := f.snapshots.Create(context.Background(), "src")
	assert.ErrorIs(t, err, rest.ErrMissingField)
	assert.Contains(t, err.Error(), "result.name")
}

func TestCreate_UnknownCollection(t *testing.T) {
	f := setup(t)
	_, err := f.snapshots.Create(context.Background(), "ghost")
	assert.ErrorIs(t, err, rest.ErrNotFound)
}

func TestDownload_VerifiesChecksum(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	desc, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)

	blob, err := f.snapshots.Download(ctx, desc)
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
	assert.Equal(t, desc.Checksum, blob.Checksum())

	tampered := *desc
	tampered.Checksum = "deadbeef"
	_, err = f.snapshots.Download(ctx, &tampered)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDownload_NotFound(t *testing.T) {
	f := setup(t)
	_, err := f.snapshots.Download(context.Background(), &Descriptor{Name: "nope.snapshot", Collection: "src"})
	assert.ErrorIs(t, err, rest.ErrNotFound)
}

func TestRoundTrip_BothRecoveryPaths(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	desc, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)
	blob, err := f.snapshots.Download(ctx, desc)
	require.NoError(t, err)

	location, err := LocationURL(f.srv.URL, desc.Collection, desc.Name)
	require.NoError(t, err)

	require.NoError(t, f.snapshots.Recover(ctx, RecoveryRequest{Target: "src_r1", Location: location}))
	require.NoError(t, f.snapshots.Recover(ctx, RecoveryRequest{Target: "src_r2", Blob: blob, BlobName: desc.Name}))

	for _, name := range []string{"src_r1", "src_r2"} {
		info, err := f.collections.Info(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, uint64(2), info.PointsCount, name)
	}
	assert.Equal(t, f.srv.Points("src"), f.srv.Points("src_r2"))
}

func TestRecover_WithPriority(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	desc, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)
	blob, err := f.snapshots.Download(ctx, desc)
	require.NoError(t, err)

	require.NoError(t, f.snapshots.RecoverFromBlob(ctx, "src_p", "", blob, PrioritySnapshot))
	_, err = f.collections.Info(ctx, "src_p")
	require.NoError(t, err)
}

func TestRecover_UploadFailureSurfaces(t *testing.T) {
	f := setup(t, qdranttest.WithFailure("POST /collections/{name}/snapshots/upload", http.StatusInternalServerError))
	ctx := context.Background()
	desc, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)
	blob, err := f.snapshots.Download(ctx, desc)
	require.NoError(t, err)

	err = f.snapshots.RecoverFromBlob(ctx, "src_r2", desc.Name, blob, PriorityDefault)
	var svcErr *rest.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
}

func TestRecoveryRequest_Validate(t *testing.T) {
	assert.Error(t, RecoveryRequest{Target: "t"}.Validate())
	assert.Error(t, RecoveryRequest{Target: "t", Location: "http://x", Blob: Blob("b")}.Validate())
	assert.Error(t, RecoveryRequest{Location: "http://x"}.Validate())
	assert.NoError(t, RecoveryRequest{Target: "t", Blob: Blob("b")}.Validate())
}

func TestDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	desc, err := f.snapshots.Create(ctx, "src")
	require.NoError(t, err)
	require.NoError(t, f.snapshots.Delete(ctx, desc))

	listed, err := f.snapshots.List(ctx, "src")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestLocationURL(t *testing.T) {
	loc, err := LocationURL("http://localhost:6333/", "my coll", "snap-1.snapshot")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:6333/collections/my%20coll/snapshots/snap-1.snapshot", loc)

	loc, err = LocationURL("http://h:1/base", "C", "a/b?c")
	require.NoError(t, err)
	assert.Equal(t, "http://h:1/base/collections/C/snapshots/a%2Fb%3Fc", loc)

	_, err = LocationURL("localhost", "c", "s")
	assert.ErrorIs(t, err, rest.ErrInvalidArgument)
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("replica")
	require.NoError(t, err)
	assert.Equal(t, PriorityReplica, p)

	_, err = ParsePriority("eventually")
	assert.Error(t, err)
}

func TestStore_SaveLoadList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	desc := &Descriptor{Name: "src-1.snapshot", Collection: "src"}
	entry, err := store.Save(desc, "run-1", Blob("snapshot-bytes"))
	require.NoError(t, err)
	assert.Equal(t, ContentHash([]byte("snapshot-bytes")), entry.ContentHash)
	assert.FileExists(t, filepath.Join(dir, "objects", entry.ContentHash[:2], entry.ContentHash[2:]))

	blob, err := store.Load(entry)
	require.NoError(t, err)
	assert.Equal(t, Blob("snapshot-bytes"), blob)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	entries := reopened.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-1", entries[0].RunID)
}

func TestNewStore_RejectsCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	index := `{"entries":[{"name":"src-1.snapshot","collection":"src","content_hash":""}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), []byte(index), 0o644))

	_, err := NewStore(dir)
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid content hash")

	_, err = (&Store{rootDir: dir}).Load(ArchiveEntry{ContentHash: "ab"})
	assert.ErrorContains(t, err, "invalid content hash")
}

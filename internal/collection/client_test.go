package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/snapcheck/internal/qdranttest"
	"github.com/efebarandurmaz/snapcheck/internal/rest"
)

func newClient(t *testing.T, opts ...qdranttest.Option) (*Client, *qdranttest.Server) {
	t.Helper()
	srv := qdranttest.NewServer(opts...)
	t.Cleanup(srv.Close)
	rc, err := rest.New(rest.Options{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return NewClient(rc), srv
}

func cityPoints() []Point {
	return []Point{
		{ID: NumID(1), Vector: []float32{0.19, 0.81, 0.75, 0.11}, Payload: map[string]any{"city": "London"}},
		{ID: NumID(2), Vector: []float32{0.05, 0.61, 0.76, 0.74}, Payload: map[string]any{"city": "Berlin"}},
	}
}

func TestCreate_AllDistances(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	for _, size := range []int{1, 4, 128} {
		for _, d := range Distances {
			name := fmt.Sprintf("c_%d_%s", size, d)
			require.NoError(t, c.Create(ctx, name, VectorConfig{Size: size, Distance: d}))
			info, err := c.Info(ctx, name)
			require.NoError(t, err, name)
			assert.Equal(t, uint64(0), info.PointsCount)
		}
	}
}

func TestCreate_AlreadyExistsIsFatal(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	cfg := VectorConfig{Size: 4, Distance: DistanceDot}

	require.NoError(t, c.Create(ctx, "dup", cfg))
	err := c.Create(ctx, "dup", cfg)

	var svcErr *rest.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
}

func TestCreate_InvalidConfig(t *testing.T) {
	c, _ := newClient(t)
	err := c.Create(context.Background(), "bad", VectorConfig{Size: 0, Distance: DistanceDot})
	assert.ErrorIs(t, err, rest.ErrInvalidArgument)

	err = c.Create(context.Background(), "bad", VectorConfig{Size: 4, Distance: "Hamming"})
	assert.ErrorIs(t, err, rest.ErrInvalidArgument)
}

func TestUpsertPoints_WaitAcknowledgesCount(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "cities", VectorConfig{Size: 4, Distance: DistanceDot}))

	ack, err := c.UpsertPoints(ctx, "cities", cityPoints(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Count)
	assert.Equal(t, StatusCompleted, ack.Status)

	n, ok := srv.PointCount("cities")
	require.True(t, ok)
	assert.Equal(t, 2, n)

	count, err := c.Count(ctx, "cities")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestUpsertPoints_NoWaitAccepts(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "cities", VectorConfig{Size: 4, Distance: DistanceCosine}))

	ack, err := c.UpsertPoints(ctx, "cities", cityPoints(), false)
	require.NoError(t, err)
	assert.Equal(t, "acknowledged", ack.Status)
}

func TestUpsertPoints_DimensionMismatch(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "cities", VectorConfig{Size: 3, Distance: DistanceDot}))

	_, err := c.UpsertPoints(ctx, "cities", cityPoints(), true)
	var svcErr *rest.ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusBadRequest, svcErr.StatusCode)
}

func TestInfo_NotFound(t *testing.T) {
	c, _ := newClient(t)
	_, err := c.Info(context.Background(), "ghost")
	assert.ErrorIs(t, err, rest.ErrNotFound)
}

func TestDelete(t *testing.T) {
	c, srv := newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "tmp", VectorConfig{Size: 2, Distance: DistanceEuclid}))
	require.NoError(t, c.Delete(ctx, "tmp"))
	assert.Empty(t, srv.CollectionNames())
}

func TestPointID_JSON(t *testing.T) {
	b, err := json.Marshal([]PointID{NumID(7), StringID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26")})
	require.NoError(t, err)
	assert.JSONEq(t, `[7,"5c56c793-69f3-4fbf-87e6-c4bf54c28c26"]`, string(b))

	var ids []PointID
	require.NoError(t, json.Unmarshal(b, &ids))
	assert.Equal(t, "7", ids[0].String())
	assert.Equal(t, "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", ids[1].String())
}

func TestParseDistance(t *testing.T) {
	d, err := ParseDistance("euclidean")
	require.NoError(t, err)
	assert.Equal(t, DistanceEuclid, d)

	_, err = ParseDistance("hamming")
	assert.Error(t, err)
}

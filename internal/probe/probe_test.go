package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/snapcheck/internal/qdranttest"
	"github.com/efebarandurmaz/snapcheck/internal/rest"
)

func newProbe(t *testing.T, srv *qdranttest.Server, attempts int) *Probe {
	t.Helper()
	c, err := rest.New(rest.Options{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	return New(c, Config{MaxAttempts: attempts, Interval: time.Millisecond}, nil)
}

func TestWaitUntilReady_Immediate(t *testing.T) {
	srv := qdranttest.NewServer()
	defer srv.Close()

	require.NoError(t, newProbe(t, srv, 3).WaitUntilReady(context.Background()))
	assert.Equal(t, 1, srv.ReadinessCalls())
}

func TestWaitUntilReady_AfterRetries(t *testing.T) {
	srv := qdranttest.NewServer(qdranttest.WithReadyAfter(2))
	defer srv.Close()

	require.NoError(t, newProbe(t, srv, 5).WaitUntilReady(context.Background()))
	assert.Equal(t, 3, srv.ReadinessCalls())
}

func TestWaitUntilReady_BoundedAttempts(t *testing.T) {
	srv := qdranttest.NewServer(qdranttest.NeverReady())
	defer srv.Close()

	err := newProbe(t, srv, 4).WaitUntilReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rest.ErrServiceUnavailable)
	assert.Equal(t, 4, srv.ReadinessCalls())
}

func TestWaitUntilReady_RejectsZeroAttempts(t *testing.T) {
	srv := qdranttest.NewServer()
	defer srv.Close()

	err := newProbe(t, srv, 0).WaitUntilReady(context.Background())
	assert.ErrorIs(t, err, rest.ErrInvalidArgument)
	assert.Zero(t, srv.ReadinessCalls())
}

func TestWaitUntilReady_ContextCancelled(t *testing.T) {
	srv := qdranttest.NewServer(qdranttest.NeverReady())
	defer srv.Close()

	c, err := rest.New(rest.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	p := New(c, Config{MaxAttempts: 1000, Interval: 50 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	err = p.WaitUntilReady(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, rest.ErrServiceUnavailable)
	assert.Less(t, srv.ReadinessCalls(), 1000)
}

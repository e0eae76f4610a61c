package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c, err := New(Options{BaseURL: ts.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(Options{BaseURL: "localhost:6333"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDoJSON_DecodesResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/demo", r.URL.Path)
		w.Write([]byte(`{"result":{"status":"green","points_count":2},"status":"ok","time":0.1}`))
	})

	var out struct {
		Status      string `json:"status"`
		PointsCount int    `json:"points_count"`
	}
	err := c.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: Path("collections", "demo")}, &out)
	require.NoError(t, err)
	assert.Equal(t, "green", out.Status)
	assert.Equal(t, 2, out.PointsCount)
}

func TestDoJSON_MissingResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","time":0.1}`))
	})

	var out map[string]any
	err := c.DoJSON(context.Background(), Request{Method: http.MethodPost, Path: "/x"}, &out)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDo_ServiceErrorCarriesStatusAndMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":{"error":"Collection already exists"},"time":0}`))
	})

	err := c.DoJSON(context.Background(), Request{Method: http.MethodPut, Path: "/collections/a"}, nil)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusConflict, svcErr.StatusCode)
	assert.Equal(t, "Collection already exists", svcErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "status 409")
}

func TestDo_NotFoundMatchesSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/collections/missing"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDo_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := New(Options{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Zero(t, svcErr.StatusCode)
	assert.Contains(t, err.Error(), "transport")
}

func TestDo_SendsAPIKeyAndQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"result":true}`))
	}))
	defer ts.Close()

	c, err := New(Options{BaseURL: ts.URL, APIKey: "secret"})
	require.NoError(t, err)

	err = c.DoJSON(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/collections/a/points",
		Query:  map[string][]string{"wait": {"true"}},
		JSON:   map[string]any{"points": []any{}},
	}, nil)
	require.NoError(t, err)
}

func TestDoRaw_ReturnsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0x1f, 0x8b, 0x00})
	})

	b, err := c.DoRaw(context.Background(), Request{Method: http.MethodGet, Path: "/blob"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b, 0x00}, b)
}

func TestDoJSON_ResponseTooLarge(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"` + strings.Repeat("a", 64) + `"}`))
	}))
	defer ts.Close()

	c, err := New(Options{BaseURL: ts.URL, MaxResponseBytes: 16})
	require.NoError(t, err)

	var out string
	err = c.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/"}, &out)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestJoinURLPath(t *testing.T) {
	tests := []struct {
		base, suffix, want string
	}{
		{"", "", "/"},
		{"", "/collections", "/collections"},
		{"/api/", "collections/a", "/api/collections/a"},
		{"/api", "", "/api"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinURLPath(tt.base, tt.suffix), "base=%q suffix=%q", tt.base, tt.suffix)
	}
}

func TestPath_KeepsSegmentsOpaque(t *testing.T) {
	assert.Equal(t, "/collections/my%20coll/snapshots/a%2Fb%3Fc", Path("collections", "my coll", "snapshots", "a/b?c"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/collections/{name}/snapshots/{snapshot}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.PathValue("name") + "|" + r.PathValue("snapshot")))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, err := New(Options{BaseURL: ts.URL + "/api"})
	require.NoError(t, err)

	b, err := c.DoRaw(context.Background(), Request{
		Method: http.MethodGet,
		Path:   Path("collections", "C", "snapshots", "a/b?c"),
	})
	require.NoError(t, err)
	assert.Equal(t, "C|a/b?c", string(b))
}

// Package collection creates collections and loads points into them.
package collection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/efebarandurmaz/snapcheck/internal/rest"
)

// StatusCompleted is the upsert status reported once points are indexed.
const StatusCompleted = "completed"

// Client wraps the collection and points endpoints.
type Client struct {
	rest *rest.Client
}

// NewClient creates a Client.
func NewClient(c *rest.Client) *Client {
	return &Client{rest: c}
}

// Create makes a new collection. A pre-existing collection is an error.
func (c *Client) Create(ctx context.Context, name string, cfg VectorConfig) error {
	if name == "" {
		return fmt.Errorf("%w: empty collection name", rest.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", rest.ErrInvalidArgument, err)
	}
	body := map[string]any{"vectors": cfg}
	if err := c.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodPut,
		Path:   rest.Path("collections", name),
		JSON:   body,
	}, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// UpsertPoints inserts or replaces points. With wait set the call only
// succeeds once the service reports the operation completed.
func (c *Client) UpsertPoints(ctx context.Context, name string, points []Point, wait bool) (*Ack, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points to upsert", rest.ErrInvalidArgument)
	}
	var ack Ack
	err := c.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodPut,
		Path:   rest.Path("collections", name, "points"),
		Query:  url.Values{"wait": {strconv.FormatBool(wait)}},
		JSON:   map[string]any{"points": points},
	}, &ack)
	if err != nil {
		return nil, fmt.Errorf("upsert into %s: %w", name, err)
	}
	if wait && ack.Status != StatusCompleted {
		return nil, fmt.Errorf("upsert into %s: %w", name, &rest.ServiceError{
			Method:     http.MethodPut,
			Path:       rest.Path("collections", name, "points"),
			StatusCode: http.StatusOK,
			Message:    fmt.Sprintf("operation %d status %q, want %q", ack.OperationID, ack.Status, StatusCompleted),
		})
	}
	ack.Count = len(points)
	return &ack, nil
}

// Info fetches collection metadata. A missing collection matches rest.ErrNotFound.
func (c *Client) Info(ctx context.Context, name string) (*Info, error) {
	var info Info
	if err := c.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   rest.Path("collections", name),
	}, &info); err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	return &info, nil
}

// Delete drops a collection.
func (c *Client) Delete(ctx context.Context, name string) error {
	if err := c.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   rest.Path("collections", name),
	}, nil); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Count returns the exact number of points in a collection.
func (c *Client) Count(ctx context.Context, name string) (uint64, error) {
	var out struct {
		Count uint64 `json:"count"`
	}
	if err := c.rest.DoJSON(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   rest.Path("collections", name, "points", "count"),
		JSON:   map[string]bool{"exact": true},
	}, &out); err != nil {
		return 0, fmt.Errorf("count points in %s: %w", name, err)
	}
	return out.Count, nil
}

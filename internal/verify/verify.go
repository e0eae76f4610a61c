// Package verify checks that restored collections are usable.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/snapcheck/internal/collection"
)

// ErrCountMismatch means a restored collection holds a different number of
// points than the source did.
var ErrCountMismatch = errors.New("point count mismatch")

// PointCounter returns the exact number of points in a collection.
type PointCounter interface {
	CountPoints(ctx context.Context, collection string) (uint64, error)
}

// InfoReader fetches collection metadata.
type InfoReader interface {
	Info(ctx context.Context, name string) (*collection.Info, error)
}

// RESTCounter counts points through the REST count endpoint.
type RESTCounter struct {
	Client *collection.Client
}

func (c RESTCounter) CountPoints(ctx context.Context, name string) (uint64, error) {
	return c.Client.Count(ctx, name)
}

// Runner performs the acceptance checks on a collection.
type Runner struct {
	info    InfoReader
	counter PointCounter
	logger  *slog.Logger
}

// NewRunner creates a Runner. counter may be nil when strict checks are off.
func NewRunner(info InfoReader, counter PointCounter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{info: info, counter: counter, logger: logger}
}

// AssertCollectionExists succeeds when the collection's metadata can be
// retrieved. A missing collection matches rest.ErrNotFound.
func (r *Runner) AssertCollectionExists(ctx context.Context, name string) (*collection.Info, error) {
	info, err := r.info.Info(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", name, err)
	}
	r.logger.Info("collection verified", "collection", name, "status", info.Status, "points", info.PointsCount)
	return info, nil
}

// AssertPointCount requires the collection to hold exactly want points.
func (r *Runner) AssertPointCount(ctx context.Context, name string, want uint64) error {
	if r.counter == nil {
		return fmt.Errorf("verify %s: no point counter configured", name)
	}
	got, err := r.counter.CountPoints(ctx, name)
	if err != nil {
		return fmt.Errorf("verify %s: %w", name, err)
	}
	if got != want {
		return fmt.Errorf("verify %s: %w: want %d, got %d", name, ErrCountMismatch, want, got)
	}
	r.logger.Info("point count verified", "collection", name, "count", got)
	return nil
}

// Package vector defines read-only views of a running vector service that
// the verification step uses alongside the REST API.
package vector

import "context"

// HealthInfo identifies the service that answered a health check.
type HealthInfo struct {
	Title   string
	Version string
	Commit  string
}

// Inspector reads collection state over a side channel.
type Inspector interface {
	// Health checks that the service answers.
	Health(ctx context.Context) (HealthInfo, error)
	// CollectionExists reports whether the named collection is present.
	CollectionExists(ctx context.Context, collection string) (bool, error)
	// CountPoints returns the exact number of points in a collection.
	CountPoints(ctx context.Context, collection string) (uint64, error)
	// Close releases resources.
	Close() error
}

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/snapcheck/internal/collection"
	"github.com/efebarandurmaz/snapcheck/internal/config"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
)

// Recovery methods.
const (
	MethodLocation = "location"
	MethodUpload   = "upload"
)

// Plan is the immutable input of one round-trip run.
type Plan struct {
	Source  string
	Vectors collection.VectorConfig
	Points  []collection.Point
	// LocationBase is how the service reaches its own API.
	LocationBase string
	Priority     snapshot.Priority
	Concurrent   bool
	Strict       bool

	CleanupCollections bool
	CleanupSnapshot    bool
}

// Target is one recovery destination.
type Target struct {
	Name   string
	Method string
}

// Targets returns the location and upload recovery targets.
func (p Plan) Targets() []Target {
	return []Target{
		{Name: p.Source + "_r1", Method: MethodLocation},
		{Name: p.Source + "_r2", Method: MethodUpload},
	}
}

// Validate rejects plans that cannot run or whose collections would collide.
func (p Plan) Validate() error {
	var errs []error
	if p.Source == "" {
		errs = append(errs, errors.New("source collection name is empty"))
	}
	if err := p.Vectors.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(p.Points) == 0 {
		errs = append(errs, errors.New("no points to upsert"))
	}
	ids := make(map[collection.PointID]int, len(p.Points))
	for i, pt := range p.Points {
		if len(pt.Vector) != p.Vectors.Size {
			errs = append(errs, fmt.Errorf("point %d (id %s) has %d dimensions, want %d", i, pt.ID, len(pt.Vector), p.Vectors.Size))
		}
		// The service keeps one point per id, so duplicates would shrink the source.
		if first, dup := ids[pt.ID]; dup {
			errs = append(errs, fmt.Errorf("point %d repeats id %s of point %d", i, pt.ID, first))
			continue
		}
		ids[pt.ID] = i
	}
	if p.LocationBase == "" {
		errs = append(errs, errors.New("location base is empty"))
	}

	seen := map[string]bool{p.Source: true}
	for _, t := range p.Targets() {
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("recovery target %q collides with another collection in the run", t.Name))
		}
		seen[t.Name] = true
	}
	return errors.Join(errs...)
}

// SamplePoints is the built-in two-city data set.
func SamplePoints() []collection.Point {
	return []collection.Point{
		{ID: collection.NumID(1), Vector: []float32{0.19, 0.81, 0.75, 0.11}, Payload: map[string]any{"city": "London"}},
		{ID: collection.NumID(2), Vector: []float32{0.05, 0.61, 0.76, 0.74}, Payload: map[string]any{"city": "Berlin"}},
	}
}

// LoadPoints reads a JSON array of points.
func LoadPoints(path string) ([]collection.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}
	var points []collection.Point
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("decode points %s: %w", path, err)
	}
	return points, nil
}

// NewCollectionName returns a fresh source collection name.
func NewCollectionName() string {
	return "snapcheck_" + uuid.NewString()[:8]
}

// PlanFromConfig builds a plan from loaded configuration.
func PlanFromConfig(cfg *config.Config) (Plan, error) {
	distance, err := collection.ParseDistance(cfg.Collection.Distance)
	if err != nil {
		return Plan{}, err
	}
	priority, err := snapshot.ParsePriority(cfg.Recovery.Priority)
	if err != nil {
		return Plan{}, err
	}

	points := SamplePoints()
	if cfg.Collection.PointsFile != "" {
		if points, err = LoadPoints(cfg.Collection.PointsFile); err != nil {
			return Plan{}, err
		}
	}

	name := cfg.Collection.Name
	if name == "" {
		name = NewCollectionName()
	}

	plan := Plan{
		Source:             name,
		Vectors:            collection.VectorConfig{Size: cfg.Collection.VectorSize, Distance: distance},
		Points:             points,
		LocationBase:       cfg.LocationBase(),
		Priority:           priority,
		Concurrent:         cfg.Recovery.Concurrent,
		Strict:             cfg.Verify.Strict,
		CleanupCollections: cfg.Cleanup.Collections,
		CleanupSnapshot:    cfg.Cleanup.Snapshots,
	}
	return plan, plan.Validate()
}

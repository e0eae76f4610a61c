package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/snapcheck/internal/collection"
	"github.com/efebarandurmaz/snapcheck/internal/metrics"
	"github.com/efebarandurmaz/snapcheck/internal/observability"
	"github.com/efebarandurmaz/snapcheck/internal/orchestrator"
	"github.com/efebarandurmaz/snapcheck/internal/rest"
	"github.com/efebarandurmaz/snapcheck/internal/snapshot"
)

// Dependencies holds the clients shared by every activity.
type Dependencies struct {
	Gate        orchestrator.ReadinessGate
	Collections orchestrator.Collections
	Snapshots   orchestrator.Snapshots
	Verifier    orchestrator.Verifier
	// Archive holds downloaded snapshots so blobs never enter workflow history.
	Archive *snapshot.Store
	// Counters is optional.
	Counters *observability.RunCounters
	Logger   *slog.Logger
}

// Activities are the round-trip steps as Temporal activities.
type Activities struct {
	deps Dependencies
}

// NewActivities creates Activities. Archive is required.
func NewActivities(deps Dependencies) (*Activities, error) {
	if deps.Archive == nil {
		return nil, errors.New("temporal activities need a snapshot archive")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Activities{deps: deps}, nil
}

// RecoverInput describes one recovery.
type RecoverInput struct {
	Target   string
	Method   string
	Location string
	Entry    snapshot.ArchiveEntry
	Priority snapshot.Priority
}

// VerifyInput describes one target check.
type VerifyInput struct {
	Target string
	Method string
	Strict bool
	Want   uint64
}

// CleanupInput lists what a run created.
type CleanupInput struct {
	Collections []string
	Snapshot    *snapshot.Descriptor
}

func (a *Activities) WaitReady(ctx context.Context) error {
	return a.deps.Gate.WaitUntilReady(ctx)
}

// CreateSource creates the source collection. An existing collection is an error.
func (a *Activities) CreateSource(ctx context.Context, name string, vectors collection.VectorConfig) error {
	return a.deps.Collections.Create(ctx, name, vectors)
}

// UpsertPoints inserts points and waits until they are indexed.
func (a *Activities) UpsertPoints(ctx context.Context, name string, points []collection.Point) (int, error) {
	ack, err := a.deps.Collections.UpsertPoints(ctx, name, points, true)
	if err != nil {
		return 0, err
	}
	return ack.Count, nil
}

func (a *Activities) CreateSnapshot(ctx context.Context, source string) (*snapshot.Descriptor, error) {
	return a.deps.Snapshots.Create(ctx, source)
}

// ArchiveSnapshot downloads the snapshot and stores it in the archive.
func (a *Activities) ArchiveSnapshot(ctx context.Context, desc *snapshot.Descriptor, runID string) (snapshot.ArchiveEntry, error) {
	blob, err := a.deps.Snapshots.Download(ctx, desc)
	if err != nil {
		return snapshot.ArchiveEntry{}, err
	}
	entry, err := a.deps.Archive.Save(desc, runID, blob)
	if err != nil {
		return snapshot.ArchiveEntry{}, fmt.Errorf("archive snapshot: %w", err)
	}
	if a.deps.Counters != nil {
		a.deps.Counters.ObserveSnapshot(entry.Size)
	}
	a.deps.Logger.Info("snapshot archived", "snapshot", desc.Name, "run_id", runID, "bytes", entry.Size)
	return entry, nil
}

// Recover restores the archived snapshot into in.Target.
func (a *Activities) Recover(ctx context.Context, in RecoverInput) error {
	req := snapshot.RecoveryRequest{Target: in.Target, Priority: in.Priority}
	switch in.Method {
	case orchestrator.MethodLocation:
		req.Location = in.Location
	case orchestrator.MethodUpload:
		blob, err := a.deps.Archive.Load(in.Entry)
		if err != nil {
			return fmt.Errorf("load archived snapshot: %w", err)
		}
		req.Blob = blob
		req.BlobName = in.Entry.Name
	default:
		return fmt.Errorf("%w: unknown recovery method %q", rest.ErrInvalidArgument, in.Method)
	}
	err := a.deps.Snapshots.Recover(ctx, req)
	if a.deps.Counters != nil {
		a.deps.Counters.ObserveRecovery(in.Method, err)
	}
	return err
}

// Verify checks one recovered collection.
func (a *Activities) Verify(ctx context.Context, in VerifyInput) (metrics.TargetStats, error) {
	info, err := a.deps.Verifier.AssertCollectionExists(ctx, in.Target)
	if err != nil {
		return metrics.TargetStats{}, err
	}
	if in.Strict {
		if err := a.deps.Verifier.AssertPointCount(ctx, in.Target, in.Want); err != nil {
			return metrics.TargetStats{}, err
		}
	}
	return metrics.TargetStats{Name: in.Target, Method: in.Method, Verified: true, Points: info.PointsCount}, nil
}

// Cleanup deletes what the run created. Missing resources are ignored.
func (a *Activities) Cleanup(ctx context.Context, in CleanupInput) error {
	var errs []error
	if in.Snapshot != nil {
		if err := a.deps.Snapshots.Delete(ctx, in.Snapshot); err != nil && !errors.Is(err, rest.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	for i := len(in.Collections) - 1; i >= 0; i-- {
		if err := a.deps.Collections.Delete(ctx, in.Collections[i]); err != nil && !errors.Is(err, rest.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

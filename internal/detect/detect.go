// Package detect implements snapshot-based change detection against a
// remote table. A run streams the table once, classifies every feature
// against the stored snapshot hashes and records review diffs; the caller
// wraps each run in one transaction so partial runs never commit.
package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/hash"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/quality"
	"github.com/driftwatch/driftwatch/internal/source"
)

// SnapshotWriter is the snapshot access one run needs, bound to the run's
// transaction by the caller.
type SnapshotWriter interface {
	ListRefs(ctx context.Context, datasetID uuid.UUID) ([]model.SnapshotRef, error)
	Insert(ctx context.Context, snap *model.Snapshot) error
	RelaxGeometryColumn(ctx context.Context) error
}

// DiffWriter records diffs and answers the pending-change idempotence
// probe.
type DiffWriter interface {
	Insert(ctx context.Context, d *model.Diff) error
	ExistsPendingForGeometry(ctx context.Context, datasetID uuid.UUID, geometryHash string) (bool, error)
}

// Publisher receives the diffs of a committed run; a nil publisher is a
// no-op.
type Publisher interface {
	PublishDiff(ctx context.Context, ds *model.Dataset, d *model.Diff)
}

type Detector struct {
	Reader source.Reader
	Scorer *quality.Scorer
	SRID   int
	Now    func() time.Time
	Log    *slog.Logger
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Run executes one change-detection pass for the dataset. The first run
// against an empty snapshot set is a baseline: every feature becomes a
// snapshot and no diffs are recorded.
func (d *Detector) Run(ctx context.Context, ds *model.Dataset, snaps SnapshotWriter, diffs DiffWriter) (model.RunStats, error) {
	started := d.now()
	stats := model.RunStats{DatasetID: ds.ID}

	refs, err := snaps.ListRefs(ctx, ds.ID)
	if err != nil {
		return stats, err
	}
	stats.Baseline = len(refs) == 0

	// hash indexes over everything already snapshotted
	byComposite := make(map[string]model.SnapshotRef, len(refs))
	byGeometry := make(map[string]model.SnapshotRef, len(refs))
	for _, r := range refs {
		byComposite[r.CompositeHash] = r
		byGeometry[r.GeometryHash] = r
	}

	run := &runState{
		ctx:      ctx,
		detector: d,
		dataset:  ds,
		snaps:    snaps,
		diffs:    diffs,
		now:      started,

		byComposite: byComposite,
		byGeometry:  byGeometry,
		observed:    make(map[string]bool, len(refs)),
		consumed:    make(map[uuid.UUID]bool),
		stats:       &stats,
	}

	table := source.Table{
		ConnectionURL:  ds.ConnectionURL,
		Schema:         ds.SchemaName,
		Name:           ds.TableName,
		GeometryColumn: ds.GeometryColumn,
	}
	if err := d.Reader.Stream(ctx, table, run.observe); err != nil {
		return stats, err
	}

	if !stats.Baseline {
		if err := run.recordDeletions(ctx); err != nil {
			return stats, err
		}
	}

	stats.Duration = d.now().Sub(started)
	if d.Log != nil {
		d.Log.InfoContext(ctx, "change detection finished",
			slog.String("dataset", ds.Name),
			slog.Bool("baseline", stats.Baseline),
			slog.Int("features", stats.FeaturesRead),
			slog.Int("snapshots", stats.SnapshotsCreated),
			slog.Int("diffs", stats.DiffsCreated),
			slog.Duration("took", stats.Duration))
	}
	return stats, nil
}

type runState struct {
	ctx      context.Context
	detector *Detector
	dataset  *model.Dataset
	snaps    SnapshotWriter
	diffs    DiffWriter
	now      time.Time

	byComposite map[string]model.SnapshotRef
	byGeometry  map[string]model.SnapshotRef
	// composite hashes seen in the remote table this run
	observed map[string]bool
	// stored snapshots replaced by an UPDATED diff this run
	consumed map[uuid.UUID]bool

	relaxed bool
	stats   *model.RunStats
}

// observe classifies one streamed feature.
func (r *runState) observe(f *model.SourceFeature) error {
	ctx := r.ctx
	r.stats.FeaturesRead++

	attrHash := hash.Attributes(f.Attributes)
	composite := hash.Composite(f.GeometryHash, attrHash)
	r.observed[composite] = true

	if _, ok := r.byComposite[composite]; ok {
		return nil // unchanged
	}

	if r.stats.Baseline {
		_, err := r.insertSnapshot(ctx, f, attrHash, composite)
		return err
	}

	old, updated := r.byGeometry[f.GeometryHash]

	// a new geometry only surfaces for review when the scorer flags it;
	// attribute-only updates always do, the geometry itself is unchanged
	score, _ := r.detector.Scorer.Score(f)
	if !updated && !r.detector.Scorer.ShouldFlag(f, score) {
		_, err := r.insertSnapshot(ctx, f, attrHash, composite)
		return err
	}

	// an unreviewed diff for this geometry means the change is already
	// awaiting review; re-observing it must not pile up duplicates
	pending, err := r.diffs.ExistsPendingForGeometry(ctx, r.dataset.ID, f.GeometryHash)
	if err != nil {
		return err
	}

	snapID, err := r.insertSnapshot(ctx, f, attrHash, composite)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	diff := &model.Diff{
		ID:              uuid.New(),
		DatasetID:       r.dataset.ID,
		NewSnapshotID:   &snapID,
		ConfidenceScore: score,
		Status:          model.ReviewPending,
		CreatedAt:       r.now,
	}

	if updated {
		// same geometry, different attributes
		diff.Type = model.DiffUpdated
		diff.AttributesChanged = true
		oldID := old.ID
		diff.OldSnapshotID = &oldID
		r.consumed[old.ID] = true
	} else {
		diff.Type = model.DiffNew
		diff.GeometryChanged = true
	}

	if err := r.diffs.Insert(ctx, diff); err != nil {
		return err
	}
	r.record(diff)
	return nil
}

// recordDeletions flags stored snapshots whose composite was not observed
// and whose geometry was not consumed by an update. A vanished feature is
// certain, so the confidence is 1.
func (r *runState) recordDeletions(ctx context.Context) error {
	for composite, ref := range r.byComposite {
		if r.observed[composite] || r.consumed[ref.ID] {
			continue
		}
		pending, err := r.diffs.ExistsPendingForGeometry(ctx, r.dataset.ID, ref.GeometryHash)
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		oldID := ref.ID
		diff := &model.Diff{
			ID:              uuid.New(),
			DatasetID:       r.dataset.ID,
			Type:            model.DiffDeleted,
			OldSnapshotID:   &oldID,
			GeometryChanged: true,
			ConfidenceScore: 1.0,
			Status:          model.ReviewPending,
			CreatedAt:       r.now,
		}
		if err := r.diffs.Insert(ctx, diff); err != nil {
			return err
		}
		r.record(diff)
	}
	return nil
}

// insertSnapshot writes the snapshot, relaxing the geometry column typmod
// once per run when the remote data does not fit it.
func (r *runState) insertSnapshot(ctx context.Context, f *model.SourceFeature, attrHash, composite string) (uuid.UUID, error) {
	snap := &model.Snapshot{
		ID:             uuid.New(),
		DatasetID:      r.dataset.ID,
		SourceID:       f.SourceID,
		GeometryHash:   f.GeometryHash,
		AttributesHash: attrHash,
		CompositeHash:  composite,
		GeometryWKB:    f.GeometryWKB,
		SRID:           r.detector.SRID,
		Attributes:     f.Attributes,
		CreatedAt:      r.now,
	}

	err := r.snaps.Insert(ctx, snap)
	if err != nil && errs.KindOf(err) == errs.KindSchemaMismatch && !r.relaxed {
		r.relaxed = true
		if d := r.detector; d.Log != nil {
			d.Log.WarnContext(ctx, "relaxing snapshot geometry column",
				slog.String("dataset", r.dataset.Name))
		}
		if rerr := r.snaps.RelaxGeometryColumn(ctx); rerr != nil {
			return uuid.Nil, rerr
		}
		err = r.snaps.Insert(ctx, snap)
	}
	if err != nil {
		return uuid.Nil, err
	}
	r.stats.SnapshotsCreated++
	return snap.ID, nil
}

// record keeps the created diff on the run stats; publishing to external
// consumers happens only after the caller commits the transaction.
func (r *runState) record(diff *model.Diff) {
	r.stats.DiffsCreated++
	r.stats.Diffs = append(r.stats.Diffs, *diff)
}

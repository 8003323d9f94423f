package quality

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/store"
)

// SnapshotSource is the snapshot access the runner needs.
type SnapshotSource interface {
	ListQualityRows(ctx context.Context, datasetID uuid.UUID) ([]store.QualityRow, error)
	CountByGeometryHash(ctx context.Context, datasetID uuid.UUID, hash string, exclude uuid.UUID, sampleLimit int) (int, []uuid.UUID, error)
	CountByCompositeHash(ctx context.Context, datasetID uuid.UUID, hash string, exclude uuid.UUID) (int, error)
	CountSpatialEquals(ctx context.Context, datasetID uuid.UUID, id uuid.UUID, geometryHash string) (int, error)
}

// FindingSink is where a run's findings land.
type FindingSink interface {
	DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error
	InsertMany(ctx context.Context, findings []model.Finding) error
}

// Progress reports run advancement to the status registry.
type Progress func(current, total int, phase string)

// Runner executes every enabled check category over a dataset's snapshots.
// Each run replaces the dataset's previous findings wholesale; the caller
// binds snapshot access and the finding sink to one transaction so the
// delete and the insert commit together.
type Runner struct {
	Checks config.Categories
	Limits config.Thresholds
	Now    func() time.Time
	Log    *slog.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *Runner) Run(ctx context.Context, datasetID uuid.UUID, snaps SnapshotSource, sink FindingSink, progress Progress) (model.CheckSummary, error) {
	if progress == nil {
		progress = func(int, int, string) {}
	}
	summary := model.NewCheckSummary()

	progress(0, 0, "loading")
	rows, err := snaps.ListQualityRows(ctx, datasetID)
	if err != nil {
		return summary, err
	}

	if err := sink.DeleteByDataset(ctx, datasetID); err != nil {
		return summary, err
	}

	total := len(rows)
	now := r.now()
	findings := make([]model.Finding, 0, total*4)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		f := viewFromRow(row)

		var outcomes []outcome
		if r.Checks.Validity {
			outcomes = append(outcomes, checkValidity(&f, r.Limits)...)
		}
		if r.Checks.Topology {
			outcomes = append(outcomes, checkTopology(&f, r.Limits)...)
		}
		if r.Checks.Area {
			outcomes = append(outcomes, checkSize(&f, r.Limits))
		}
		if r.Checks.TypeSpecific {
			outcomes = append(outcomes, checkGeomType(&f, r.Limits))
		}
		if r.Checks.Duplicate {
			dup, err := r.checkDuplicate(ctx, snaps, datasetID, row)
			if err != nil {
				return summary, err
			}
			outcomes = append(outcomes, dup...)
		}

		for _, o := range outcomes {
			finding := model.Finding{
				ID:         uuid.New(),
				DatasetID:  datasetID,
				SnapshotID: row.ID,
				Category:   o.Category,
				Result:     o.Result,
				Message:    o.Message,
				Details:    o.Details,
				CreatedAt:  now,
			}
			findings = append(findings, finding)
			summary.Add(finding)
		}
		progress(i+1, total, "checking")
	}

	progress(total, total, "saving")
	if err := sink.InsertMany(ctx, findings); err != nil {
		return summary, err
	}

	if r.Log != nil {
		r.Log.InfoContext(ctx, "quality run finished",
			slog.String("dataset", datasetID.String()),
			slog.Int("snapshots", total),
			slog.Int("findings", summary.Total),
			slog.Int("failed", summary.Failed))
	}
	return summary, nil
}

// checkDuplicate runs the three duplicate probes independently and emits
// one finding per hit: an identical feature is an import bug, a shared or
// spatially equal geometry is worth a look.
func (r *Runner) checkDuplicate(ctx context.Context, snaps SnapshotSource, datasetID uuid.UUID, row store.QualityRow) ([]outcome, error) {
	var out []outcome

	nComposite, err := snaps.CountByCompositeHash(ctx, datasetID, row.CompositeHash, row.ID)
	if err != nil {
		return nil, err
	}
	if nComposite > 0 {
		out = append(out, fail(model.CheckDuplicate, "exact duplicate feature",
			map[string]any{"duplicates": nComposite}))
	}

	nGeom, samples, err := snaps.CountByGeometryHash(ctx, datasetID, row.GeometryHash, row.ID, r.Limits.MaxDuplicateSamples)
	if err != nil {
		return nil, err
	}
	if nGeom > 0 {
		ids := make([]string, 0, len(samples))
		for _, id := range samples {
			ids = append(ids, id.String())
		}
		out = append(out, warn(model.CheckDuplicate,
			fmt.Sprintf("geometry shared by %d other snapshots", nGeom),
			map[string]any{"duplicates": nGeom, "samples": ids}))
	}

	nEqual, err := snaps.CountSpatialEquals(ctx, datasetID, row.ID, row.GeometryHash)
	if err != nil {
		return nil, err
	}
	if nEqual > 0 {
		out = append(out, warn(model.CheckDuplicate, "spatially identical geometry under different encoding",
			map[string]any{"duplicates": nEqual}))
	}

	if len(out) == 0 {
		out = append(out, pass(model.CheckDuplicate, "no duplicates"))
	}
	return out, nil
}

// viewFromRow adapts a stored snapshot's derived scalars to the shape the
// category testers and the scorer share with change detection.
func viewFromRow(row store.QualityRow) model.SourceFeature {
	return model.SourceFeature{
		SourceID:       row.SourceID,
		GeometryHash:   row.GeometryHash,
		IsValid:        row.IsValid,
		ValidityReason: row.ValidityReason,
		IsSimple:       row.IsSimple,
		IsClean:        row.IsValid && row.IsSimple,
		Area:           row.Area,
		Length:         row.Length,
		NumPoints:      row.NumPoints,
		GeomType:       row.GeomType,
		IsCCWOriented:  row.IsCCWOriented,
		MinX:           row.MinX,
		MaxX:           row.MaxX,
		MinY:           row.MinY,
		MaxY:           row.MaxY,
	}
}

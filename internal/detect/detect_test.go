package detect

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/hash"
	"github.com/driftwatch/driftwatch/internal/model"
	"github.com/driftwatch/driftwatch/internal/quality"
	"github.com/driftwatch/driftwatch/internal/source"
)

type fakeReader struct {
	features []model.SourceFeature
}

func (r *fakeReader) Stream(_ context.Context, _ source.Table, fn func(*model.SourceFeature) error) error {
	for i := range r.features {
		if err := fn(&r.features[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeReader) Ping(_ context.Context, _ source.Table) error { return nil }

type fakeSnaps struct {
	refs     []model.SnapshotRef
	inserted []model.Snapshot

	failInserts int // first n inserts fail with a schema mismatch
	relaxCalls  int
}

func (s *fakeSnaps) ListRefs(_ context.Context, _ uuid.UUID) ([]model.SnapshotRef, error) {
	return s.refs, nil
}

func (s *fakeSnaps) Insert(_ context.Context, snap *model.Snapshot) error {
	if s.failInserts > 0 {
		s.failInserts--
		return errs.New(errs.KindSchemaMismatch, "geometry does not fit column")
	}
	s.inserted = append(s.inserted, *snap)
	return nil
}

func (s *fakeSnaps) RelaxGeometryColumn(_ context.Context) error {
	s.relaxCalls++
	return nil
}

type fakeDiffs struct {
	inserted []model.Diff
	// geometry hashes with an unreviewed diff already recorded
	pending map[string]bool
}

func (d *fakeDiffs) Insert(_ context.Context, diff *model.Diff) error {
	d.inserted = append(d.inserted, *diff)
	return nil
}

func (d *fakeDiffs) ExistsPendingForGeometry(_ context.Context, _ uuid.UUID, geometryHash string) (bool, error) {
	return d.pending[geometryHash], nil
}

func feature(geomHash string, attrs map[string]any) model.SourceFeature {
	return model.SourceFeature{
		Attributes:   attrs,
		GeometryWKB:  []byte{0x01},
		GeometryHash: geomHash,
		IsValid:      true,
		IsSimple:     true,
		IsClean:      true,
		Area:         100,
		NumPoints:    5,
		GeomType:     "POLYGON",
		MinX:         0, MaxX: 1, MinY: 0, MaxY: 1,
	}
}

func refFor(f model.SourceFeature) model.SnapshotRef {
	a := hash.Attributes(f.Attributes)
	return model.SnapshotRef{
		ID:             uuid.New(),
		GeometryHash:   f.GeometryHash,
		AttributesHash: a,
		CompositeHash:  hash.Composite(f.GeometryHash, a),
	}
}

func newDetector(r *fakeReader) *Detector {
	return &Detector{
		Reader: r,
		Scorer: quality.NewScorer(config.DefaultThresholds()),
		SRID:   4326,
		Now:    func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) },
	}
}

func dataset() *model.Dataset {
	return &model.Dataset{
		ID:             uuid.New(),
		Name:           "parcels",
		SchemaName:     "public",
		TableName:      "parcels",
		GeometryColumn: "geom",
	}
}

func TestRun_Baseline(t *testing.T) {
	reader := &fakeReader{features: []model.SourceFeature{
		feature("g1", map[string]any{"name": "a"}),
		feature("g2", map[string]any{"name": "b"}),
	}}
	snaps := &fakeSnaps{}
	diffs := &fakeDiffs{}

	stats, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !stats.Baseline {
		t.Fatal("empty snapshot set must be a baseline run")
	}
	if len(snaps.inserted) != 2 {
		t.Fatalf("snapshots: got %d", len(snaps.inserted))
	}
	if len(diffs.inserted) != 0 {
		t.Fatalf("baseline must record no diffs, got %d", len(diffs.inserted))
	}
}

func TestRun_Unchanged(t *testing.T) {
	f := feature("g1", map[string]any{"name": "a"})
	reader := &fakeReader{features: []model.SourceFeature{f}}
	snaps := &fakeSnaps{refs: []model.SnapshotRef{refFor(f)}}
	diffs := &fakeDiffs{}

	stats, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.Baseline {
		t.Fatal("existing snapshots mean no baseline")
	}
	if len(snaps.inserted) != 0 || len(diffs.inserted) != 0 {
		t.Fatalf("unchanged feature wrote %d snapshots, %d diffs",
			len(snaps.inserted), len(diffs.inserted))
	}
}

func TestRun_AttributeChangeIsUpdated(t *testing.T) {
	old := feature("g1", map[string]any{"name": "a"})
	ref := refFor(old)

	changed := feature("g1", map[string]any{"name": "b"})
	reader := &fakeReader{features: []model.SourceFeature{changed}}
	snaps := &fakeSnaps{refs: []model.SnapshotRef{ref}}
	diffs := &fakeDiffs{}

	_, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(diffs.inserted) != 1 {
		t.Fatalf("diffs: got %d, want 1", len(diffs.inserted))
	}
	d := diffs.inserted[0]
	if d.Type != model.DiffUpdated {
		t.Fatalf("type: got %s", d.Type)
	}
	if !d.AttributesChanged || d.GeometryChanged {
		t.Fatalf("flags: attrs=%v geom=%v", d.AttributesChanged, d.GeometryChanged)
	}
	if d.OldSnapshotID == nil || *d.OldSnapshotID != ref.ID {
		t.Fatalf("old snapshot link: %v", d.OldSnapshotID)
	}
	if d.NewSnapshotID == nil {
		t.Fatal("updated diff must link its new snapshot")
	}
	// the old snapshot was replaced, not deleted
	for _, dd := range diffs.inserted {
		if dd.Type == model.DiffDeleted {
			t.Fatal("update must not co-produce a deletion")
		}
	}
}

func TestRun_NewAndDeleted(t *testing.T) {
	gone := feature("g1", map[string]any{"name": "a"})
	ref := refFor(gone)

	arrived := feature("g2", map[string]any{"name": "b"})
	arrived.IsValid = false
	arrived.ValidityReason = "Ring Self-intersection"
	reader := &fakeReader{features: []model.SourceFeature{arrived}}
	snaps := &fakeSnaps{refs: []model.SnapshotRef{ref}}
	diffs := &fakeDiffs{}

	stats, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(diffs.inserted) != 2 {
		t.Fatalf("diffs: got %d, want NEW and DELETED", len(diffs.inserted))
	}
	// the run hands its diffs back so they can be published after commit
	if len(stats.Diffs) != 2 || stats.DiffsCreated != 2 {
		t.Fatalf("stats carry %d diffs (count %d), want 2", len(stats.Diffs), stats.DiffsCreated)
	}

	byType := map[model.DiffType]model.Diff{}
	for _, d := range diffs.inserted {
		byType[d.Type] = d
	}
	if _, ok := byType[model.DiffNew]; !ok {
		t.Fatal("missing NEW diff")
	}
	del, ok := byType[model.DiffDeleted]
	if !ok {
		t.Fatal("missing DELETED diff")
	}
	if del.ConfidenceScore != 1.0 {
		t.Fatalf("deletion confidence: got %g, want 1.0", del.ConfidenceScore)
	}
	if del.OldSnapshotID == nil || *del.OldSnapshotID != ref.ID {
		t.Fatalf("deletion must link the vanished snapshot: %v", del.OldSnapshotID)
	}
}

func TestRun_PendingDiffBlocksDuplicate(t *testing.T) {
	f := feature("g2", map[string]any{"name": "b"})
	f.IsValid = false
	f.ValidityReason = "Self-intersection"
	existing := feature("g1", map[string]any{"name": "a"})

	reader := &fakeReader{features: []model.SourceFeature{f}}
	snaps := &fakeSnaps{refs: []model.SnapshotRef{refFor(existing)}}
	diffs := &fakeDiffs{pending: map[string]bool{"g2": true, "g1": true}}

	_, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(diffs.inserted) != 0 {
		t.Fatalf("pending geometries must not be re-flagged, got %d diffs", len(diffs.inserted))
	}
	// the change itself is still recorded
	if len(snaps.inserted) != 1 {
		t.Fatalf("snapshots: got %d, want 1", len(snaps.inserted))
	}
}

func TestRun_UnremarkableNewGeometryNotSurfaced(t *testing.T) {
	existing := feature("g1", map[string]any{"name": "a"})
	arrived := feature("g2", map[string]any{"name": "b"})

	reader := &fakeReader{features: []model.SourceFeature{existing, arrived}}
	snaps := &fakeSnaps{refs: []model.SnapshotRef{refFor(existing)}}
	diffs := &fakeDiffs{}

	_, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(snaps.inserted) != 1 {
		t.Fatalf("snapshots: got %d, want 1", len(snaps.inserted))
	}
	if len(diffs.inserted) != 0 {
		t.Fatalf("a clean new geometry scores under the threshold, got %d diffs", len(diffs.inserted))
	}
}

func TestRun_SchemaRelaxRetry(t *testing.T) {
	reader := &fakeReader{features: []model.SourceFeature{
		feature("g1", map[string]any{"name": "a"}),
	}}
	snaps := &fakeSnaps{failInserts: 1}
	diffs := &fakeDiffs{}

	_, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run should recover from the typmod mismatch: %v", err)
	}
	if snaps.relaxCalls != 1 {
		t.Fatalf("relax calls: got %d, want 1", snaps.relaxCalls)
	}
	if len(snaps.inserted) != 1 {
		t.Fatalf("retried insert missing: %d", len(snaps.inserted))
	}
}

func TestRun_SecondMismatchPropagates(t *testing.T) {
	reader := &fakeReader{features: []model.SourceFeature{
		feature("g1", map[string]any{"name": "a"}),
		feature("g2", map[string]any{"name": "b"}),
	}}
	// every insert fails: the retry after relaxing fails too
	snaps := &fakeSnaps{failInserts: 10}
	diffs := &fakeDiffs{}

	_, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if errs.KindOf(err) != errs.KindSchemaMismatch {
		t.Fatalf("got %v, want the mismatch to surface", err)
	}
	if snaps.relaxCalls != 1 {
		t.Fatalf("relaxation is one-shot, got %d calls", snaps.relaxCalls)
	}
}

func TestRun_ProblematicGeometryScoresHigh(t *testing.T) {
	bad := feature("g2", map[string]any{"name": "b"})
	bad.IsValid = false
	bad.ValidityReason = "Self-intersection"

	existing := feature("g1", map[string]any{"name": "a"})
	reader := &fakeReader{features: []model.SourceFeature{bad}}
	snaps := &fakeSnaps{refs: []model.SnapshotRef{refFor(existing)}}
	diffs := &fakeDiffs{}

	_, err := newDetector(reader).Run(context.Background(), dataset(), snaps, diffs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var newDiff *model.Diff
	for i := range diffs.inserted {
		if diffs.inserted[i].Type == model.DiffNew {
			newDiff = &diffs.inserted[i]
		}
	}
	if newDiff == nil {
		t.Fatal("missing NEW diff")
	}
	if newDiff.ConfidenceScore != 0.95 {
		t.Fatalf("invalid geometry confidence: got %g", newDiff.ConfidenceScore)
	}
}

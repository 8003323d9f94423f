package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

type SnapshotStore struct {
	q Queryer
}

const snapshotCols = `id, dataset_id, source_id, geometry_hash,
	attributes_hash, composite_hash, created_at`

// Insert writes one immutable snapshot row. The geometry travels as WKB
// and is materialised server-side; a typmod violation surfaces as
// KindSchemaMismatch so the caller can relax the column and retry once.
func (s *SnapshotStore) Insert(ctx context.Context, snap *model.Snapshot) error {
	var attrs any
	if snap.Attributes != nil {
		b, err := json.Marshal(snap.Attributes)
		if err != nil {
			return errs.Wrap(errs.KindLocalStore, fmt.Errorf("encode attributes: %w", err))
		}
		attrs = b
	}
	srid := snap.SRID
	if srid == 0 {
		srid = 4326
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO geometry_snapshots
			(id, dataset_id, source_id, geometry_hash, attributes_hash,
			 composite_hash, geometry, attributes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, ST_GeomFromWKB($7, $8), $9, $10)`,
		snap.ID, snap.DatasetID, snap.SourceID, snap.GeometryHash,
		snap.AttributesHash, snap.CompositeHash,
		snap.GeometryWKB, srid, attrs, snap.CreatedAt)
	return storeErr("insert snapshot", err)
}

// RelaxGeometryColumn drops the typmod so mixed dimensionalities and SRIDs
// can coexist. One-shot per process start; idempotent on the server.
func (s *SnapshotStore) RelaxGeometryColumn(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx,
		`ALTER TABLE geometry_snapshots ALTER COLUMN geometry TYPE geometry`)
	return storeErr("relax geometry column", err)
}

// ListRefs preloads the hash triple of every snapshot of a dataset, which
// is all the change detector needs in memory.
func (s *SnapshotStore) ListRefs(ctx context.Context, datasetID uuid.UUID) ([]model.SnapshotRef, error) {
	out := []model.SnapshotRef{}
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT id, geometry_hash, attributes_hash, composite_hash
		FROM geometry_snapshots WHERE dataset_id = $1`, datasetID)
	return out, storeErr("list snapshot refs", err)
}

func (s *SnapshotStore) Get(ctx context.Context, id uuid.UUID) (*model.Snapshot, error) {
	row := struct {
		model.Snapshot
		Attrs []byte `db:"attributes"`
	}{}
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT `+snapshotCols+`, attributes
		FROM geometry_snapshots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindValidation, "snapshot not found")
	}
	if err != nil {
		return nil, storeErr("get snapshot", err)
	}
	if len(row.Attrs) > 0 {
		if err := json.Unmarshal(row.Attrs, &row.Snapshot.Attributes); err != nil {
			return nil, errs.Wrap(errs.KindLocalStore, fmt.Errorf("decode attributes: %w", err))
		}
	}
	return &row.Snapshot, nil
}

func (s *SnapshotStore) Count(ctx context.Context, datasetID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n,
		`SELECT COUNT(*) FROM geometry_snapshots WHERE dataset_id = $1`, datasetID)
	return n, storeErr("count snapshots", err)
}

func (s *SnapshotStore) DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM geometry_snapshots WHERE dataset_id = $1`, datasetID)
	return storeErr("delete snapshots", err)
}

func (s *SnapshotStore) TruncateAll(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `TRUNCATE geometry_snapshots`)
	return storeErr("truncate snapshots", err)
}

// GeoJSON renders one snapshot's geometry, sidestepping WKB decoding on
// our side entirely.
func (s *SnapshotStore) GeoJSON(ctx context.Context, id uuid.UUID) (string, error) {
	var gj string
	err := sqlx.GetContext(ctx, s.q, &gj,
		`SELECT ST_AsGeoJSON(geometry) FROM geometry_snapshots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.New(errs.KindValidation, "snapshot not found")
	}
	return gj, storeErr("snapshot geojson", err)
}

// QualityRow is what the quality runner pulls per snapshot: the stored
// hashes plus scalars derived from the stored geometry.
type QualityRow struct {
	ID            uuid.UUID `db:"id"`
	SourceID      *string   `db:"source_id"`
	GeometryHash  string    `db:"geometry_hash"`
	CompositeHash string    `db:"composite_hash"`

	IsValid        bool    `db:"is_valid"`
	ValidityReason string  `db:"validity_reason"`
	IsSimple       bool    `db:"is_simple"`
	Area           float64 `db:"geom_area"`
	Length         float64 `db:"geom_length"`
	NumPoints      int     `db:"num_points"`
	GeomType       string  `db:"geom_type"`
	IsCCWOriented  *bool   `db:"is_ccw"`

	MinX float64 `db:"min_x"`
	MaxX float64 `db:"max_x"`
	MinY float64 `db:"min_y"`
	MaxY float64 `db:"max_y"`
}

// ListQualityRows streams every snapshot of a dataset with the scalars the
// category testers consume, derived in the same SELECT.
func (s *SnapshotStore) ListQualityRows(ctx context.Context, datasetID uuid.UUID) ([]QualityRow, error) {
	out := []QualityRow{}
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT
			id, source_id, geometry_hash, composite_hash,
			ST_IsValid(geometry) AS is_valid,
			ST_IsValidReason(geometry) AS validity_reason,
			ST_IsSimple(geometry) AS is_simple,
			ST_Area(geometry) AS geom_area,
			ST_Length(geometry) AS geom_length,
			ST_NPoints(geometry) AS num_points,
			GeometryType(geometry) AS geom_type,
			CASE WHEN GeometryType(geometry) IN ('POLYGON','MULTIPOLYGON')
				THEN ST_IsPolygonCCW(geometry) END AS is_ccw,
			ST_XMin(geometry) AS min_x,
			ST_XMax(geometry) AS max_x,
			ST_YMin(geometry) AS min_y,
			ST_YMax(geometry) AS max_y
		FROM geometry_snapshots
		WHERE dataset_id = $1
		ORDER BY created_at`, datasetID)
	return out, storeErr("list quality rows", err)
}

// CountByGeometryHash reports how many snapshots of the dataset share the
// geometry hash, with up to sampleLimit other snapshot ids as evidence.
func (s *SnapshotStore) CountByGeometryHash(ctx context.Context, datasetID uuid.UUID, hash string, exclude uuid.UUID, sampleLimit int) (int, []uuid.UUID, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `
		SELECT COUNT(*) FROM geometry_snapshots
		WHERE dataset_id = $1 AND geometry_hash = $2 AND id <> $3`,
		datasetID, hash, exclude)
	if err != nil {
		return 0, nil, storeErr("count by geometry hash", err)
	}
	if n == 0 || sampleLimit <= 0 {
		return n, nil, nil
	}
	samples := []uuid.UUID{}
	err = sqlx.SelectContext(ctx, s.q, &samples, `
		SELECT id FROM geometry_snapshots
		WHERE dataset_id = $1 AND geometry_hash = $2 AND id <> $3
		ORDER BY created_at LIMIT $4`,
		datasetID, hash, exclude, sampleLimit)
	return n, samples, storeErr("sample by geometry hash", err)
}

// CountByCompositeHash counts full-row duplicates of one snapshot.
func (s *SnapshotStore) CountByCompositeHash(ctx context.Context, datasetID uuid.UUID, hash string, exclude uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `
		SELECT COUNT(*) FROM geometry_snapshots
		WHERE dataset_id = $1 AND composite_hash = $2 AND id <> $3`,
		datasetID, hash, exclude)
	return n, storeErr("count by composite hash", err)
}

// CountSpatialEquals finds snapshots whose geometry is spatially equal to
// the given one while hashing differently, e.g. reordered vertices. The
// bounding-box operator keeps the probe on the GiST index.
func (s *SnapshotStore) CountSpatialEquals(ctx context.Context, datasetID uuid.UUID, id uuid.UUID, geometryHash string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `
		SELECT COUNT(*)
		FROM geometry_snapshots a
		JOIN geometry_snapshots b
			ON b.dataset_id = a.dataset_id
			AND b.id <> a.id
			AND b.geometry_hash <> $3
			AND a.geometry ~= b.geometry
			AND ST_Equals(a.geometry, b.geometry)
		WHERE a.id = $2 AND a.dataset_id = $1`,
		datasetID, id, geometryHash)
	return n, storeErr("count spatial equals", err)
}

package store

import (
	"context"
	"fmt"
)

// Schema objects are created create-if-missing at boot; the snapshot
// geometry column starts with a typmod and gets relaxed to plain
// `geometry` the first time a dataset delivers mixed dimensionality.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS datasets (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		host VARCHAR(255) NOT NULL,
		port INTEGER NOT NULL DEFAULT 5432,
		database VARCHAR(255) NOT NULL,
		schema_name VARCHAR(255) NOT NULL DEFAULT 'public',
		table_name VARCHAR(255) NOT NULL,
		geometry_column VARCHAR(255) NOT NULL DEFAULT 'geom',
		ssl_mode VARCHAR(20) NOT NULL DEFAULT 'prefer',
		connection_url TEXT NOT NULL,
		check_interval_minutes INTEGER NOT NULL DEFAULT 60,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_check_at TIMESTAMPTZ,
		connection_status VARCHAR(20) NOT NULL DEFAULT 'unknown',
		connection_error TEXT,
		last_connection_test TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_active ON datasets (is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_name ON datasets (name)`,

	`CREATE TABLE IF NOT EXISTS geometry_snapshots (
		id UUID PRIMARY KEY,
		dataset_id UUID NOT NULL,
		source_id VARCHAR(255),
		geometry_hash CHAR(32) NOT NULL,
		attributes_hash CHAR(32) NOT NULL,
		composite_hash CHAR(32) NOT NULL,
		geometry geometry(Geometry, 4326) NOT NULL,
		attributes JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_dataset ON geometry_snapshots (dataset_id)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_geom_hash ON geometry_snapshots (dataset_id, geometry_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_composite_hash ON geometry_snapshots (dataset_id, composite_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_geom ON geometry_snapshots USING GIST (geometry)`,

	`CREATE TABLE IF NOT EXISTS geometry_diffs (
		id UUID PRIMARY KEY,
		dataset_id UUID NOT NULL,
		diff_type VARCHAR(10) NOT NULL,
		old_snapshot_id UUID,
		new_snapshot_id UUID,
		geometry_changed BOOLEAN NOT NULL DEFAULT FALSE,
		attributes_changed BOOLEAN NOT NULL DEFAULT FALSE,
		confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
		reviewed_by VARCHAR(255),
		reviewed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_diffs_dataset ON geometry_diffs (dataset_id)`,
	`CREATE INDEX IF NOT EXISTS idx_diffs_status ON geometry_diffs (dataset_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_diffs_type ON geometry_diffs (diff_type)`,

	`CREATE TABLE IF NOT EXISTS spatial_findings (
		id UUID PRIMARY KEY,
		dataset_id UUID NOT NULL,
		snapshot_id UUID NOT NULL,
		category VARCHAR(20) NOT NULL,
		result VARCHAR(10) NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		details JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_dataset ON spatial_findings (dataset_id)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_snapshot ON spatial_findings (snapshot_id)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_result ON spatial_findings (dataset_id, result)`,
}

var dropDDL = []string{
	`DROP TABLE IF EXISTS spatial_findings`,
	`DROP TABLE IF EXISTS geometry_diffs`,
	`DROP TABLE IF EXISTS geometry_snapshots`,
	`DROP TABLE IF EXISTS datasets`,
}

// storage hints are best-effort; TOAST strategy and index fill factors are
// tuning, not correctness.
var optimizeDDL = []string{
	`ALTER TABLE geometry_snapshots ALTER COLUMN geometry SET STORAGE EXTERNAL`,
	`ALTER TABLE geometry_snapshots ALTER COLUMN attributes SET STORAGE MAIN`,
	`ALTER INDEX idx_snapshots_geom SET (fillfactor = 90)`,
}

func (s *Store) EnsureExtension(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS postgis`)
	return storeErr("ensure postgis", err)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("ensure schema", err)
		}
	}
	return nil
}

func (s *Store) DropSchema(ctx context.Context) error {
	for _, stmt := range dropDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("drop schema", err)
		}
	}
	return nil
}

// OptimizeStorage applies the storage hints, returning the first error
// without stopping; callers log and move on.
func (s *Store) OptimizeStorage(ctx context.Context) error {
	var first error
	for _, stmt := range optimizeDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && first == nil {
			first = fmt.Errorf("optimize: %w", err)
		}
	}
	return first
}

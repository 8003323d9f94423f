package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

type DatasetStore struct {
	q Queryer
}

const datasetCols = `id, name, description, host, port, database, schema_name,
	table_name, geometry_column, ssl_mode, connection_url,
	check_interval_minutes, is_active, last_check_at,
	connection_status, connection_error, last_connection_test,
	created_at, updated_at`

func (s *DatasetStore) Insert(ctx context.Context, d *model.Dataset) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO datasets (`+datasetCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		d.ID, d.Name, d.Description, d.Host, d.Port, d.Database, d.SchemaName,
		d.TableName, d.GeometryColumn, d.SSLMode, d.ConnectionURL,
		d.CheckIntervalMinutes, d.IsActive, d.LastCheckAt,
		d.ConnectionStatus, d.ConnectionError, d.LastConnectionTest,
		d.CreatedAt, d.UpdatedAt)
	return storeErr("insert dataset", err)
}

func (s *DatasetStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Dataset, error) {
	var d model.Dataset
	err := sqlx.GetContext(ctx, s.q, &d,
		`SELECT `+datasetCols+` FROM datasets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindValidation, "dataset not found")
	}
	if err != nil {
		return nil, storeErr("get dataset", err)
	}
	return &d, nil
}

func (s *DatasetStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.Dataset, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + datasetCols + ` FROM datasets`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	out := []model.Dataset{}
	err := sqlx.SelectContext(ctx, s.q, &out, q, limit, offset)
	return out, storeErr("list datasets", err)
}

// ListActive returns the datasets the scheduler considers each tick.
func (s *DatasetStore) ListActive(ctx context.Context) ([]model.Dataset, error) {
	out := []model.Dataset{}
	err := sqlx.SelectContext(ctx, s.q, &out,
		`SELECT `+datasetCols+` FROM datasets WHERE is_active ORDER BY created_at`)
	return out, storeErr("list active datasets", err)
}

func (s *DatasetStore) Update(ctx context.Context, d *model.Dataset) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE datasets SET
			name = $2, description = $3, host = $4, port = $5, database = $6,
			schema_name = $7, table_name = $8, geometry_column = $9,
			ssl_mode = $10, connection_url = $11,
			check_interval_minutes = $12, is_active = $13, updated_at = $14
		WHERE id = $1`,
		d.ID, d.Name, d.Description, d.Host, d.Port, d.Database,
		d.SchemaName, d.TableName, d.GeometryColumn,
		d.SSLMode, d.ConnectionURL,
		d.CheckIntervalMinutes, d.IsActive, d.UpdatedAt)
	if err != nil {
		return storeErr("update dataset", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindValidation, "dataset not found")
	}
	return nil
}

// SoftDelete deactivates a dataset; its history stays queryable.
func (s *DatasetStore) SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE datasets SET is_active = FALSE, updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return storeErr("deactivate dataset", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindValidation, "dataset not found")
	}
	return nil
}

// UpdateCheckResult records the outcome of one change-detection attempt.
func (s *DatasetStore) UpdateCheckResult(ctx context.Context, id uuid.UUID, checkedAt time.Time, status string, connErr *string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE datasets SET
			last_check_at = $2,
			connection_status = $3,
			connection_error = $4,
			last_connection_test = $2,
			updated_at = $2
		WHERE id = $1`,
		id, checkedAt, status, connErr)
	return storeErr("update check result", err)
}

// UpdateConnectionTest records a standalone connectivity probe without
// touching last_check_at.
func (s *DatasetStore) UpdateConnectionTest(ctx context.Context, id uuid.UUID, testedAt time.Time, status string, connErr *string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE datasets SET
			connection_status = $3,
			connection_error = $4,
			last_connection_test = $2,
			updated_at = $2
		WHERE id = $1`,
		id, testedAt, status, connErr)
	return storeErr("update connection test", err)
}

// ResetMonitoringState nulls the monitoring fields so the next eligibility
// pass treats the dataset as never checked. A nil id resets every dataset.
func (s *DatasetStore) ResetMonitoringState(ctx context.Context, id *uuid.UUID, now time.Time) error {
	q := `UPDATE datasets SET
		last_check_at = NULL,
		connection_status = 'unknown',
		connection_error = NULL,
		last_connection_test = NULL,
		updated_at = $1`
	args := []any{now}
	if id != nil {
		q += ` WHERE id = $2`
		args = append(args, *id)
	}
	_, err := s.q.ExecContext(ctx, q, args...)
	return storeErr("reset monitoring state", err)
}

func (s *DatasetStore) Count(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `SELECT COUNT(*) FROM datasets`)
	return n, storeErr("count datasets", err)
}

// HealthRow is one dataset's monitoring summary.
type HealthRow struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	ConnectionStatus string     `db:"connection_status" json:"connection_status"`
	LastCheckAt      *time.Time `db:"last_check_at" json:"last_check_at,omitempty"`
	Snapshots        int        `db:"snapshots" json:"snapshots"`
	PendingDiffs     int        `db:"pending_diffs" json:"pending_diffs"`
}

// Health summarises every dataset's monitoring state in one query.
func (s *DatasetStore) Health(ctx context.Context) ([]HealthRow, error) {
	out := []HealthRow{}
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT
			d.id, d.name, d.is_active, d.connection_status, d.last_check_at,
			(SELECT COUNT(*) FROM geometry_snapshots s WHERE s.dataset_id = d.id) AS snapshots,
			(SELECT COUNT(*) FROM geometry_diffs g
				WHERE g.dataset_id = d.id AND g.status = 'PENDING') AS pending_diffs
		FROM datasets d
		ORDER BY d.created_at`)
	return out, storeErr("dataset health", err)
}

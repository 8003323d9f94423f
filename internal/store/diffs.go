package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

type DiffStore struct {
	q Queryer
}

const diffCols = `id, dataset_id, diff_type, old_snapshot_id, new_snapshot_id,
	geometry_changed, attributes_changed, confidence_score,
	status, reviewed_by, reviewed_at, created_at`

func (s *DiffStore) Insert(ctx context.Context, d *model.Diff) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO geometry_diffs (`+diffCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.DatasetID, d.Type, d.OldSnapshotID, d.NewSnapshotID,
		d.GeometryChanged, d.AttributesChanged, d.ConfidenceScore,
		d.Status, d.ReviewedBy, d.ReviewedAt, d.CreatedAt)
	return storeErr("insert diff", err)
}

func (s *DiffStore) Get(ctx context.Context, id uuid.UUID) (*model.Diff, error) {
	var d model.Diff
	err := sqlx.GetContext(ctx, s.q, &d,
		`SELECT `+diffCols+` FROM geometry_diffs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindValidation, "diff not found")
	}
	if err != nil {
		return nil, storeErr("get diff", err)
	}
	return &d, nil
}

func (s *DiffStore) List(ctx context.Context, f model.DiffFilter) ([]model.Diff, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.DatasetID != nil {
		add("dataset_id = $%d", *f.DatasetID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Type != nil {
		add("diff_type = $%d", *f.Type)
	}

	q := `SELECT ` + diffCols + ` FROM geometry_diffs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(f.Limit)
	}
	if f.Offset > 0 {
		q += ` OFFSET ` + strconv.Itoa(f.Offset)
	}

	out := []model.Diff{}
	err := sqlx.SelectContext(ctx, s.q, &out, q, args...)
	return out, storeErr("list diffs", err)
}

// UpdateReview transitions one pending diff. The status guard in the WHERE
// clause makes review one-shot: a second attempt matches zero rows.
func (s *DiffStore) UpdateReview(ctx context.Context, id uuid.UUID, status model.ReviewStatus, reviewer string, at time.Time) error {
	if status != model.ReviewAccepted && status != model.ReviewRejected {
		return errs.New(errs.KindValidation, "review status must be ACCEPTED or REJECTED")
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE geometry_diffs
		SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND status = 'PENDING'`,
		id, status, reviewer, at)
	if err != nil {
		return storeErr("review diff", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindValidation, "diff not found or already reviewed")
	}
	return nil
}

// BatchUpdateReview reviews many pending diffs in one statement, returning
// how many actually transitioned.
func (s *DiffStore) BatchUpdateReview(ctx context.Context, ids []uuid.UUID, status model.ReviewStatus, reviewer string, at time.Time) (int, error) {
	if status != model.ReviewAccepted && status != model.ReviewRejected {
		return 0, errs.New(errs.KindValidation, "review status must be ACCEPTED or REJECTED")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{status, reviewer, at}
	ph := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		ph = append(ph, fmt.Sprintf("$%d", len(args)))
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE geometry_diffs
		SET status = $1, reviewed_by = $2, reviewed_at = $3
		WHERE status = 'PENDING' AND id IN (`+strings.Join(ph, ",")+`)`,
		args...)
	if err != nil {
		return 0, storeErr("batch review diffs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *DiffStore) CountPending(ctx context.Context, datasetID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n, `
		SELECT COUNT(*) FROM geometry_diffs
		WHERE dataset_id = $1 AND status = 'PENDING'`, datasetID)
	return n, storeErr("count pending diffs", err)
}

// ExistsPendingForGeometry reports whether any pending diff already points
// at a snapshot with this geometry hash. Re-observing an unreviewed change
// must not pile up duplicate diffs.
func (s *DiffStore) ExistsPendingForGeometry(ctx context.Context, datasetID uuid.UUID, geometryHash string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.q, &exists, `
		SELECT EXISTS (
			SELECT 1
			FROM geometry_diffs d
			JOIN geometry_snapshots s
				ON s.id = COALESCE(d.new_snapshot_id, d.old_snapshot_id)
			WHERE d.dataset_id = $1
				AND d.status = 'PENDING'
				AND s.geometry_hash = $2
		)`, datasetID, geometryHash)
	return exists, storeErr("pending for geometry", err)
}

// DiffStat is one (type, status) bucket in a dataset's diff summary.
type DiffStat struct {
	Type   model.DiffType     `db:"diff_type"`
	Status model.ReviewStatus `db:"status"`
	Count  int                `db:"n"`
}

func (s *DiffStore) StatsByDataset(ctx context.Context, datasetID uuid.UUID) ([]DiffStat, error) {
	out := []DiffStat{}
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT diff_type, status, COUNT(*) AS n
		FROM geometry_diffs
		WHERE dataset_id = $1
		GROUP BY diff_type, status`, datasetID)
	return out, storeErr("diff stats", err)
}

func (s *DiffStore) DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM geometry_diffs WHERE dataset_id = $1`, datasetID)
	return storeErr("delete diffs", err)
}

func (s *DiffStore) TruncateAll(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `TRUNCATE geometry_diffs`)
	return storeErr("truncate diffs", err)
}

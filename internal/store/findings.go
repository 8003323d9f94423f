package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

type FindingStore struct {
	q Queryer
}

// InsertMany writes a run's findings in chunks of one multi-row statement
// each. A quality run deletes the dataset's previous findings first, so
// the table always holds exactly one run per dataset.
func (s *FindingStore) InsertMany(ctx context.Context, findings []model.Finding) error {
	const chunk = 200
	for start := 0; start < len(findings); start += chunk {
		end := min(start+chunk, len(findings))
		batch := findings[start:end]

		var (
			vals []string
			args []any
		)
		for _, f := range batch {
			var details any
			if f.Details != nil {
				b, err := json.Marshal(f.Details)
				if err != nil {
					return errs.Wrap(errs.KindLocalStore, fmt.Errorf("encode details: %w", err))
				}
				details = b
			}
			base := len(args)
			args = append(args, f.ID, f.DatasetID, f.SnapshotID,
				f.Category, f.Result, f.Message, details, f.CreatedAt)
			vals = append(vals, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8))
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO spatial_findings
				(id, dataset_id, snapshot_id, category, result, message, details, created_at)
			VALUES `+strings.Join(vals, ","), args...)
		if err != nil {
			return storeErr("insert findings", err)
		}
	}
	return nil
}

func (s *FindingStore) DeleteByDataset(ctx context.Context, datasetID uuid.UUID) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM spatial_findings WHERE dataset_id = $1`, datasetID)
	return storeErr("delete findings", err)
}

func (s *FindingStore) TruncateAll(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx, `TRUNCATE spatial_findings`)
	return storeErr("truncate findings", err)
}

func (s *FindingStore) ListByDataset(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]model.Finding, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []struct {
		model.Finding
		Raw []byte `db:"details"`
	}{}
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, dataset_id, snapshot_id, category, result, message, details, created_at
		FROM spatial_findings
		WHERE dataset_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, datasetID, limit, offset)
	if err != nil {
		return nil, storeErr("list findings", err)
	}
	out := make([]model.Finding, 0, len(rows))
	for _, r := range rows {
		f := r.Finding
		if len(r.Raw) > 0 {
			if err := json.Unmarshal(r.Raw, &f.Details); err != nil {
				return nil, errs.Wrap(errs.KindLocalStore, fmt.Errorf("decode details: %w", err))
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// FindingStat is one (category, result) bucket.
type FindingStat struct {
	Category model.CheckCategory `db:"category"`
	Result   model.CheckResult   `db:"result"`
	Count    int                 `db:"n"`
}

func (s *FindingStore) Summarize(ctx context.Context, datasetID uuid.UUID) ([]FindingStat, error) {
	out := []FindingStat{}
	err := sqlx.SelectContext(ctx, s.q, &out, `
		SELECT category, result, COUNT(*) AS n
		FROM spatial_findings
		WHERE dataset_id = $1
		GROUP BY category, result`, datasetID)
	return out, storeErr("summarize findings", err)
}

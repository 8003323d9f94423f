package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TableUsage is the on-disk footprint of one service table.
type TableUsage struct {
	Table      string `db:"table_name" json:"table"`
	TotalBytes int64  `db:"total_bytes" json:"total_bytes"`
	TableBytes int64  `db:"table_bytes" json:"table_bytes"`
	IndexBytes int64  `db:"index_bytes" json:"index_bytes"`
	RowCount   int64  `db:"row_count" json:"row_count"`
}

// StorageUsage reports size and estimated row count for the four service
// tables. Row counts come from the planner statistics, not COUNT(*).
func (s *Store) StorageUsage(ctx context.Context) ([]TableUsage, error) {
	out := []TableUsage{}
	err := sqlx.SelectContext(ctx, s.db, &out, `
		SELECT
			c.relname AS table_name,
			pg_total_relation_size(c.oid) AS total_bytes,
			pg_relation_size(c.oid) AS table_bytes,
			pg_indexes_size(c.oid) AS index_bytes,
			GREATEST(c.reltuples::bigint, 0) AS row_count
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
			AND c.relkind = 'r'
			AND c.relname IN ('datasets', 'geometry_snapshots', 'geometry_diffs', 'spatial_findings')
		ORDER BY total_bytes DESC`)
	return out, storeErr("storage usage", err)
}

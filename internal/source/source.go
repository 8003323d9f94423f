// Package source streams features from an externally managed PostGIS
// table. All geometry scalars are derived server-side in one SELECT so
// the service never decodes WKB itself.
package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/driftwatch/driftwatch/internal/errs"
	"github.com/driftwatch/driftwatch/internal/model"
)

// Reader is the remote-table access the change detector and the API's
// connection test depend on.
type Reader interface {
	// Stream calls fn for every non-NULL-geometry row of the table.
	Stream(ctx context.Context, src Table, fn func(*model.SourceFeature) error) error
	// Ping verifies connectivity and that the table is selectable.
	Ping(ctx context.Context, src Table) error
}

// Table identifies the remote table to read.
type Table struct {
	ConnectionURL  string
	Schema         string
	Name           string
	GeometryColumn string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// aliases the SELECT adds on top of the table's own columns; they are
// stripped back out of the attribute map.
var derivedAliases = []string{
	"geometry_wkb", "geometry_hash",
	"is_valid", "validity_reason", "is_simple", "is_topologically_clean",
	"geom_area", "geom_length", "num_points", "geom_type", "is_ccw_oriented",
	"min_x", "max_x", "min_y", "max_y",
}

func (t Table) validate() error {
	for _, id := range []string{t.Schema, t.Name, t.GeometryColumn} {
		if !identRe.MatchString(id) {
			return errs.New(errs.KindValidation, "invalid identifier %q", id)
		}
	}
	return nil
}

func quote(id string) string {
	return `"` + id + `"`
}

// buildQuery assembles the streaming SELECT. Identifiers are validated
// then quoted; everything else is constant SQL.
func buildQuery(t Table) string {
	g := quote(t.GeometryColumn)
	return fmt.Sprintf(`SELECT t.*,
	ST_AsBinary(t.%[1]s) AS geometry_wkb,
	MD5(ST_AsBinary(t.%[1]s)) AS geometry_hash,
	ST_IsValid(t.%[1]s) AS is_valid,
	ST_IsValidReason(t.%[1]s) AS validity_reason,
	ST_IsSimple(t.%[1]s) AS is_simple,
	(ST_IsValid(t.%[1]s) AND ST_IsSimple(t.%[1]s)) AS is_topologically_clean,
	ST_Area(t.%[1]s) AS geom_area,
	ST_Length(t.%[1]s) AS geom_length,
	ST_NPoints(t.%[1]s) AS num_points,
	GeometryType(t.%[1]s) AS geom_type,
	CASE WHEN GeometryType(t.%[1]s) IN ('POLYGON','MULTIPOLYGON')
		THEN ST_IsPolygonCCW(t.%[1]s) END AS is_ccw_oriented,
	ST_XMin(t.%[1]s) AS min_x,
	ST_XMax(t.%[1]s) AS max_x,
	ST_YMin(t.%[1]s) AS min_y,
	ST_YMax(t.%[1]s) AS max_y
FROM %[2]s.%[3]s t
WHERE t.%[1]s IS NOT NULL`,
		g, quote(t.Schema), quote(t.Name))
}

// PgxReader reads remote tables with one short-lived connection per run.
type PgxReader struct{}

func NewReader() *PgxReader { return &PgxReader{} }

var _ Reader = (*PgxReader)(nil)

func (r *PgxReader) connect(ctx context.Context, url string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteSource, fmt.Errorf("connect: %w", err))
	}
	return conn, nil
}

func (r *PgxReader) Ping(ctx context.Context, src Table) error {
	if err := src.validate(); err != nil {
		return err
	}
	conn, err := r.connect(ctx, src.ConnectionURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	var n int64
	err = conn.QueryRow(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s.%s WHERE %s IS NOT NULL`,
		quote(src.Schema), quote(src.Name), quote(src.GeometryColumn))).Scan(&n)
	if err != nil {
		return errs.Wrap(errs.KindRemoteSource, fmt.Errorf("probe table: %w", err))
	}
	return nil
}

func (r *PgxReader) Stream(ctx context.Context, src Table, fn func(*model.SourceFeature) error) error {
	if err := src.validate(); err != nil {
		return err
	}
	conn, err := r.connect(ctx, src.ConnectionURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, buildQuery(src))
	if err != nil {
		return errs.Wrap(errs.KindRemoteSource, fmt.Errorf("query table: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return errs.Wrap(errs.KindRemoteSource, fmt.Errorf("read row: %w", err))
		}
		feat, err := featureFromRow(cols, vals, src.GeometryColumn)
		if err != nil {
			return err
		}
		if err := fn(feat); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.KindRemoteSource, fmt.Errorf("stream: %w", err))
	}
	return nil
}

// featureFromRow splits one result row into derived scalars and the
// table's own attribute columns. The geometry column itself never enters
// the attribute map; the WKB alias is the canonical geometry carrier.
func featureFromRow(cols []string, vals []any, geomCol string) (*model.SourceFeature, error) {
	reserved := make(map[string]bool, len(derivedAliases)+1)
	for _, a := range derivedAliases {
		reserved[a] = true
	}
	reserved[geomCol] = true

	f := &model.SourceFeature{Attributes: make(map[string]any)}
	for i, c := range cols {
		v := vals[i]
		switch c {
		case "geometry_wkb":
			b, ok := v.([]byte)
			if !ok || len(b) == 0 {
				return nil, errs.New(errs.KindRemoteSource, "row missing geometry bytes")
			}
			f.GeometryWKB = b
		case "geometry_hash":
			f.GeometryHash, _ = v.(string)
		case "is_valid":
			f.IsValid, _ = v.(bool)
		case "validity_reason":
			f.ValidityReason, _ = v.(string)
		case "is_simple":
			f.IsSimple, _ = v.(bool)
		case "is_topologically_clean":
			f.IsClean, _ = v.(bool)
		case "geom_area":
			f.Area = toFloat(v)
		case "geom_length":
			f.Length = toFloat(v)
		case "num_points":
			f.NumPoints = int(toInt(v))
		case "geom_type":
			f.GeomType, _ = v.(string)
		case "is_ccw_oriented":
			if b, ok := v.(bool); ok {
				f.IsCCWOriented = &b
			}
		case "min_x":
			f.MinX = toFloat(v)
		case "max_x":
			f.MaxX = toFloat(v)
		case "min_y":
			f.MinY = toFloat(v)
		case "max_y":
			f.MaxY = toFloat(v)
		default:
			if !reserved[c] {
				f.Attributes[c] = v
			}
		}
	}
	if f.GeometryHash == "" {
		return nil, errs.New(errs.KindRemoteSource, "row missing geometry hash")
	}

	// display identifier only; change detection keys on hashes
	for _, key := range []string{"id", "gid"} {
		if v, ok := f.Attributes[key]; ok && v != nil {
			s := fmt.Sprint(v)
			if strings.TrimSpace(s) != "" {
				f.SourceID = &s
				break
			}
		}
	}
	return f, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	}
	return 0
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

package model

// SourceFeature is one row streamed from the remote table: the raw
// attribute columns plus the scalars the reader derives server-side.
type SourceFeature struct {
	// non-geometry columns, reader-internal aliases already stripped
	Attributes map[string]any

	// id or gid column when the table has one
	SourceID *string

	GeometryWKB  []byte
	GeometryHash string

	IsValid        bool
	ValidityReason string
	IsSimple       bool
	// IsValid && IsSimple, computed in the same SELECT
	IsClean bool

	Area      float64
	Length    float64
	NumPoints int
	GeomType  string

	// nil for non-polygons
	IsCCWOriented *bool

	MinX, MaxX float64
	MinY, MaxY float64
}

// Polygonal reports whether the feature is a (multi)polygon.
func (f *SourceFeature) Polygonal() bool {
	switch f.GeomType {
	case "POLYGON", "MULTIPOLYGON", "ST_Polygon", "ST_MultiPolygon":
		return true
	}
	return false
}

// Linear reports whether the feature is a (multi)linestring.
func (f *SourceFeature) Linear() bool {
	switch f.GeomType {
	case "LINESTRING", "MULTILINESTRING", "ST_LineString", "ST_MultiLineString":
		return true
	}
	return false
}

// Puntal reports whether the feature is a (multi)point.
func (f *SourceFeature) Puntal() bool {
	switch f.GeomType {
	case "POINT", "MULTIPOINT", "ST_Point", "ST_MultiPoint":
		return true
	}
	return false
}

package quality

import (
	"fmt"
	"math"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/model"
)

// outcome is one category verdict before it becomes a Finding row.
type outcome struct {
	Category model.CheckCategory
	Result   model.CheckResult
	Message  string
	Details  map[string]any
}

func pass(cat model.CheckCategory, msg string) outcome {
	return outcome{Category: cat, Result: model.ResultPass, Message: msg}
}

func warn(cat model.CheckCategory, msg string, details map[string]any) outcome {
	return outcome{Category: cat, Result: model.ResultWarning, Message: msg, Details: details}
}

func fail(cat model.CheckCategory, msg string, details map[string]any) outcome {
	return outcome{Category: cat, Result: model.ResultFail, Message: msg, Details: details}
}

// checkValidity covers the server validity verdict, coordinate
// plausibility and the structural minimum per geometry type. One finding
// per defect, so a geometry can fail validity more than once.
func checkValidity(f *model.SourceFeature, l config.Thresholds) []outcome {
	var out []outcome
	if f.IsValid {
		out = append(out, pass(model.CheckValidity, "geometry is valid"))
	} else {
		out = append(out, fail(model.CheckValidity, "invalid geometry",
			map[string]any{"reason": f.ValidityReason}))
	}

	for _, c := range []float64{f.MinX, f.MaxX, f.MinY, f.MaxY} {
		if math.Abs(c) > l.MaxCoordinateMagnitude || math.IsNaN(c) || math.IsInf(c, 0) {
			out = append(out, fail(model.CheckValidity, "coordinates outside plausible range",
				map[string]any{
					"bbox":          []float64{f.MinX, f.MinY, f.MaxX, f.MaxY},
					"max_magnitude": l.MaxCoordinateMagnitude,
				}))
			break
		}
	}

	switch {
	case f.Polygonal() && f.NumPoints < l.MinPolygonPoints:
		out = append(out, fail(model.CheckValidity, "polygon below minimum point count",
			map[string]any{"num_points": f.NumPoints, "minimum": l.MinPolygonPoints}))
	case f.Linear() && f.NumPoints < l.MinLinestringPoints:
		out = append(out, fail(model.CheckValidity, "linestring below minimum point count",
			map[string]any{"num_points": f.NumPoints, "minimum": l.MinLinestringPoints}))
	case (f.GeomType == "POINT" || f.GeomType == "ST_Point") && f.NumPoints != l.PointExactPoints:
		out = append(out, fail(model.CheckValidity, "point with unexpected vertex count",
			map[string]any{"num_points": f.NumPoints}))
	case !f.Polygonal() && !f.Linear() && !f.Puntal():
		out = append(out, warn(model.CheckValidity, "unrecognised geometry type",
			map[string]any{"geom_type": f.GeomType}))
	}
	return out
}

// checkTopology covers simplicity and the combined cleanliness flag; very
// complex geometries are flagged and skipped rather than stalling the run.
func checkTopology(f *model.SourceFeature, l config.Thresholds) []outcome {
	if f.NumPoints > l.MaxPointsForTopology {
		return []outcome{warn(model.CheckTopology,
			fmt.Sprintf("%d points exceeds the topology limit", f.NumPoints),
			map[string]any{"num_points": f.NumPoints, "limit": l.MaxPointsForTopology})}
	}

	var out []outcome
	if f.IsSimple {
		out = append(out, pass(model.CheckTopology, "geometry is simple"))
	} else {
		out = append(out, fail(model.CheckTopology, "geometry is not simple",
			map[string]any{"num_points": f.NumPoints}))
	}
	if !f.IsClean {
		var failed []string
		if !f.IsValid {
			failed = append(failed, "validity")
		}
		if !f.IsSimple {
			failed = append(failed, "simplicity")
		}
		out = append(out, fail(model.CheckTopology, "geometry is not topologically clean",
			map[string]any{"failed": failed}))
	}
	return out
}

// checkSize covers area and length plausibility, sliver detection and
// vertex density.
func checkSize(f *model.SourceFeature, l config.Thresholds) outcome {
	switch {
	case f.Polygonal():
		return checkPolygonSize(f, l)
	case f.Linear():
		return checkLineSize(f, l)
	}
	return pass(model.CheckArea, "size checks not applicable")
}

func checkPolygonSize(f *model.SourceFeature, l config.Thresholds) outcome {
	if f.Area == 0 {
		return fail(model.CheckArea, "polygon has zero area", nil)
	}
	if f.Area < l.SmallAreaThreshold {
		return warn(model.CheckArea, "suspiciously small area",
			map[string]any{"area": f.Area, "threshold": l.SmallAreaThreshold})
	}
	if f.Area > l.LargeAreaThreshold {
		return warn(model.CheckArea, "suspiciously large area",
			map[string]any{"area": f.Area, "threshold": l.LargeAreaThreshold})
	}

	// sliver test: area relative to bounding box
	bbox := (f.MaxX - f.MinX) * (f.MaxY - f.MinY)
	if bbox > 0 {
		compactness := f.Area / bbox
		if compactness < l.MinCompactnessRatio {
			return warn(model.CheckArea, "sliver polygon",
				map[string]any{"compactness": compactness})
		}
	}

	if f.Area >= l.MinAreaForDensityCheck {
		density := float64(f.NumPoints) / f.Area
		if density > l.MaxPointDensityPerArea {
			return warn(model.CheckArea, "over-digitised polygon",
				map[string]any{"density": density})
		}
		if density < l.MinPointDensityPerArea {
			return warn(model.CheckArea, "under-digitised polygon",
				map[string]any{"density": density})
		}
	}
	return pass(model.CheckArea, "area within expected bounds")
}

func checkLineSize(f *model.SourceFeature, l config.Thresholds) outcome {
	if f.Length == 0 {
		return fail(model.CheckArea, "linestring has zero length", nil)
	}
	if f.Length < l.SmallLengthThreshold {
		return warn(model.CheckArea, "suspiciously short linestring",
			map[string]any{"length": f.Length, "threshold": l.SmallLengthThreshold})
	}
	if f.Length > l.LargeLengthThreshold {
		return warn(model.CheckArea, "suspiciously long linestring",
			map[string]any{"length": f.Length, "threshold": l.LargeLengthThreshold})
	}
	if f.Length >= l.MinLengthForDensityCheck {
		density := float64(f.NumPoints) / f.Length
		if density > l.MaxPointDensityPerLength {
			return warn(model.CheckArea, "over-digitised linestring",
				map[string]any{"density": density})
		}
		if density < l.MinPointDensityPerLength {
			return warn(model.CheckArea, "under-digitised linestring",
				map[string]any{"density": density})
		}
	}
	return pass(model.CheckArea, "length within expected bounds")
}

// checkGeomType runs the per-type structural checks; the category in the
// finding names the geometry family.
func checkGeomType(f *model.SourceFeature, l config.Thresholds) outcome {
	switch {
	case f.Polygonal():
		if f.NumPoints < l.MinPolygonPoints {
			return fail(model.CheckPolygon, "polygon with too few points",
				map[string]any{"num_points": f.NumPoints, "minimum": l.MinPolygonPoints})
		}
		if f.IsCCWOriented != nil && !*f.IsCCWOriented {
			return warn(model.CheckPolygon, "exterior ring is clockwise", nil)
		}
		return pass(model.CheckPolygon, "polygon structure ok")

	case f.Linear():
		if f.NumPoints < l.MinLinestringPoints {
			return fail(model.CheckLinestring, "linestring with too few points",
				map[string]any{"num_points": f.NumPoints, "minimum": l.MinLinestringPoints})
		}
		return pass(model.CheckLinestring, "linestring structure ok")

	case f.Puntal():
		if f.GeomType == "POINT" || f.GeomType == "ST_Point" {
			if f.NumPoints != l.PointExactPoints {
				return fail(model.CheckPoint, "point with unexpected vertex count",
					map[string]any{"num_points": f.NumPoints})
			}
		}
		return pass(model.CheckPoint, "point structure ok")
	}
	return pass(model.CheckPolygon, "type checks not applicable")
}

// Package quality scores geometry trustworthiness and runs the per-dataset
// check categories. The same scorer gates which detected changes become
// review diffs, so quality and change detection flag by one rulebook.
package quality

import (
	"math"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/model"
)

// Scorer turns geometry signals into a confidence score in [0,1]. Higher
// means more confident the geometry is problematic.
type Scorer struct {
	Limits config.Thresholds
}

func NewScorer(limits config.Thresholds) *Scorer {
	return &Scorer{Limits: limits}
}

// Score evaluates one feature. Critical defects (invalid or degenerate
// geometry) return their tier directly; complexity discounts never soften
// them. Everything else accumulates by max, then the discounts apply.
func (s *Scorer) Score(f *model.SourceFeature) (float64, []string) {
	l := s.Limits

	if !f.IsValid {
		return l.InvalidConfidence, []string{"invalid geometry: " + f.ValidityReason}
	}
	if reason, tier, ok := s.degenerate(f); ok {
		return tier, []string{reason}
	}

	cur := l.DefaultConfidence
	var reasons []string
	bump := func(tier float64, reason string) {
		cur = math.Max(cur, tier)
		reasons = append(reasons, reason)
	}

	if !f.IsSimple {
		bump(l.NonSimpleConfidence, "geometry is not simple")
	}
	if !f.IsClean {
		bump(l.UncleanConfidence, "geometry is not topologically clean")
	}
	if s.zeroSize(f) {
		bump(l.ZeroSizeConfidence, "zero-size geometry")
	}
	if s.suspiciousCoords(f) {
		bump(l.SuspiciousCoordConf, "coordinates outside plausible range")
	}
	switch {
	case f.Polygonal() && f.Area > 10*l.LargeAreaThreshold,
		f.Linear() && f.Length > 10*l.LargeLengthThreshold:
		bump(l.VeryLargeGeometryConf, "extremely large geometry")
	case f.Polygonal() && f.Area > l.LargeAreaThreshold,
		f.Linear() && f.Length > l.LargeLengthThreshold:
		bump(l.LargeGeometryConfidence, "unusually large geometry")
	}

	switch {
	case f.NumPoints > l.VeryComplexPointsLimit:
		cur *= l.VeryComplexDiscount
	case f.NumPoints > l.ComplexPointThreshold:
		cur *= l.ComplexDiscount
	}
	return cur, reasons
}

// Problematic is the single flagging predicate: scores at or above the
// threshold surface as review diffs and failing findings.
func (s *Scorer) Problematic(score float64) bool {
	return score >= s.Limits.ProblematicThreshold
}

// ShouldFlag decides whether a changed feature surfaces for review. A
// critical defect always surfaces, even when the complexity discounts
// pushed the numeric score under the threshold.
func (s *Scorer) ShouldFlag(f *model.SourceFeature, score float64) bool {
	if !f.IsValid || !f.IsSimple || !f.IsClean {
		return true
	}
	if f.Polygonal() && f.Area <= 0 {
		return true
	}
	if f.Linear() && f.Length <= 0 {
		return true
	}
	if _, _, ok := s.degenerate(f); ok {
		return true
	}
	return s.Problematic(score)
}

func (s *Scorer) degenerate(f *model.SourceFeature) (string, float64, bool) {
	l := s.Limits
	switch {
	case f.Polygonal() && f.NumPoints < l.MinPolygonPoints:
		return "polygon with too few points", l.InsufficientConfidence, true
	case f.Linear() && f.NumPoints < l.MinLinestringPoints:
		return "linestring with too few points", l.InsufficientConfidence, true
	case f.Polygonal() && f.Area == 0:
		return "polygon with zero area", l.DegenerateConfidence, true
	case f.Linear() && f.Length == 0:
		return "linestring with zero length", l.DegenerateConfidence, true
	}
	return "", 0, false
}

// zeroSize means no measurable extent at all; a tiny positive area is an
// ordinary geometry, not a defect.
func (s *Scorer) zeroSize(f *model.SourceFeature) bool {
	if f.Polygonal() {
		return f.Area <= 0
	}
	if f.Linear() {
		return f.Length <= 0
	}
	return false
}

func (s *Scorer) suspiciousCoords(f *model.SourceFeature) bool {
	m := s.Limits.MaxCoordinateMagnitude
	for _, c := range []float64{f.MinX, f.MaxX, f.MinY, f.MaxY} {
		if math.Abs(c) > m || math.IsNaN(c) || math.IsInf(c, 0) {
			return true
		}
	}
	return false
}

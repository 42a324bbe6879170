package policy

import (
	"fmt"

	"github.com/TecharoHQ/tracecaptcha/lib/align"
)

// ShapeResult is the outcome of checking alignment metrics against the shape
// thresholds.
type ShapeResult struct {
	Pass bool
	// Failures maps each violated threshold to a short description of the
	// measured value.
	Failures map[string]string
}

// Tolerances returns the per-point distances align.Result.Measure needs.
func (pc *ParsedConfig) Tolerances() align.Tolerances {
	return align.Tolerances{
		OutlierDistance:  pc.Shape.OutlierDistance,
		CoverageDistance: pc.Shape.CoverageDistance,
	}
}

// EvaluateShape checks every geometric threshold. A stroke passes only when
// all of them hold.
func (pc *ParsedConfig) EvaluateShape(m align.Metrics) ShapeResult {
	s := pc.Shape
	failures := map[string]string{}

	if m.ShapeDistance > s.MaxDistance {
		failures["max_distance"] = fmt.Sprintf("%.4f > %g", m.ShapeDistance, s.MaxDistance)
	}

	if m.MaxDeviation > s.MaxDeviation {
		failures["max_deviation"] = fmt.Sprintf("%.4f > %g", m.MaxDeviation, s.MaxDeviation)
	}

	if m.AverageDeviation > s.MaxAverageDeviation {
		failures["max_average_deviation"] = fmt.Sprintf("%.4f > %g", m.AverageDeviation, s.MaxAverageDeviation)
	}

	if m.OutlierFraction > s.MaxOutlierFraction {
		failures["max_outlier_fraction"] = fmt.Sprintf("%.4f > %g", m.OutlierFraction, s.MaxOutlierFraction)
	}

	if m.Coverage < s.MinCoverage {
		failures["min_coverage"] = fmt.Sprintf("%.4f < %g", m.Coverage, s.MinCoverage)
	}

	if s.SizeCheckEnabled() && (m.SizeRatio < s.MinSizeRatio || m.SizeRatio > s.MaxSizeRatio) {
		failures["size_ratio"] = fmt.Sprintf("%.4f outside [%g, %g]", m.SizeRatio, s.MinSizeRatio, s.MaxSizeRatio)
	}

	for check := range failures {
		shapeFailures.WithLabelValues(check).Inc()
	}

	return ShapeResult{
		Pass:     len(failures) == 0,
		Failures: failures,
	}
}

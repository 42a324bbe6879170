package align

import (
	"math"

	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
)

// Tolerances are the distances, in normalized units, used to classify
// individual points when measuring a Result.
type Tolerances struct {
	// OutlierDistance is the deviation above which a point is an outlier.
	OutlierDistance float64
	// CoverageDistance is the index-aligned distance within which a template
	// point counts as covered.
	CoverageDistance float64
}

// Metrics describe how closely an aligned stroke follows its template.
type Metrics struct {
	ShapeDistance    float64 `json:"shape_distance"`
	MaxDeviation     float64 `json:"max_deviation"`
	AverageDeviation float64 `json:"average_deviation"`
	OutlierFraction  float64 `json:"outlier_fraction"`
	Coverage         float64 `json:"coverage"`
	SizeRatio        float64 `json:"size_ratio"`
}

// Measure computes the deviation metrics of r. Deviation is the distance of
// each rotated user point from the template polyline; coverage compares
// index-aligned pairs.
func (r *Result) Measure(tol Tolerances) Metrics {
	m := Metrics{
		ShapeDistance: r.ShapeDistance,
		SizeRatio:     r.SizeRatio,
	}

	n := len(r.Rotated)
	if n == 0 {
		return m
	}

	var sum float64
	var outliers, covered int
	for i, p := range r.Rotated {
		dev := geometry.PointToPolylineDistance(p, r.Template)
		if math.IsInf(dev, 1) {
			// single point template
			dev = geometry.Distance(p, r.Template[0])
		}

		m.MaxDeviation = max(m.MaxDeviation, dev)
		sum += dev

		if dev > tol.OutlierDistance {
			outliers++
		}

		if i < len(r.Template) && geometry.Distance(p, r.Template[i]) <= tol.CoverageDistance {
			covered++
		}
	}

	m.AverageDeviation = sum / float64(n)
	m.OutlierFraction = float64(outliers) / float64(n)
	m.Coverage = float64(covered) / float64(n)

	return m
}

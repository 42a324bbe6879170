package config

import (
	"errors"
	"fmt"
)

var (
	ErrShapeThresholdNotPositive = errors.New("config.Shape: threshold must be greater than zero")
	ErrShapeFractionOutOfRange   = errors.New("config.Shape: fraction must be between 0 and 1")
	ErrShapeSizeRatioInverted    = errors.New("config.Shape: max_size_ratio must not be below min_size_ratio")
	ErrShapeSizeRatioNegative    = errors.New("config.Shape: min_size_ratio must not be negative")
)

// Shape holds the geometric acceptance thresholds. Every distance is in
// normalized units, where the template has an RMS radius of one.
type Shape struct {
	// MaxDistance is the largest accepted RMS distance after alignment.
	MaxDistance float64 `json:"max_distance"`
	// MaxDeviation is the largest accepted distance of any single point from
	// the template outline.
	MaxDeviation float64 `json:"max_deviation"`
	// MaxAverageDeviation is the largest accepted mean distance from the
	// template outline.
	MaxAverageDeviation float64 `json:"max_average_deviation"`
	// OutlierDistance is the deviation past which a point counts as an
	// outlier.
	OutlierDistance float64 `json:"outlier_distance"`
	// MaxOutlierFraction is the largest accepted fraction of outliers.
	MaxOutlierFraction float64 `json:"max_outlier_fraction"`
	// CoverageDistance is how close a stroke point must be to its matching
	// template point for that template point to count as covered.
	CoverageDistance float64 `json:"coverage_distance"`
	// MinCoverage is the smallest accepted covered fraction.
	MinCoverage float64 `json:"min_coverage"`
	// MinSizeRatio and MaxSizeRatio bound the area of the drawn bounding box
	// relative to the template's. A zero MinSizeRatio disables the check.
	MinSizeRatio float64 `json:"min_size_ratio"`
	MaxSizeRatio float64 `json:"max_size_ratio"`
}

// SizeCheckEnabled reports whether the size ratio window is enforced.
func (s Shape) SizeCheckEnabled() bool {
	return s.MinSizeRatio > 0
}

func (s Shape) Valid() error {
	var errs []error

	for _, pos := range []struct {
		name  string
		value float64
	}{
		{"max_distance", s.MaxDistance},
		{"max_deviation", s.MaxDeviation},
		{"max_average_deviation", s.MaxAverageDeviation},
		{"outlier_distance", s.OutlierDistance},
		{"coverage_distance", s.CoverageDistance},
	} {
		if !(pos.value > 0) {
			errs = append(errs, fmt.Errorf("%w: %s is %v", ErrShapeThresholdNotPositive, pos.name, pos.value))
		}
	}

	for _, frac := range []struct {
		name  string
		value float64
	}{
		{"max_outlier_fraction", s.MaxOutlierFraction},
		{"min_coverage", s.MinCoverage},
	} {
		if !(frac.value >= 0 && frac.value <= 1) {
			errs = append(errs, fmt.Errorf("%w: %s is %v", ErrShapeFractionOutOfRange, frac.name, frac.value))
		}
	}

	if s.MinSizeRatio < 0 {
		errs = append(errs, fmt.Errorf("%w: got %v", ErrShapeSizeRatioNegative, s.MinSizeRatio))
	}

	if s.SizeCheckEnabled() && s.MaxSizeRatio < s.MinSizeRatio {
		errs = append(errs, fmt.Errorf("%w: window is [%v, %v]", ErrShapeSizeRatioInverted, s.MinSizeRatio, s.MaxSizeRatio))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: shape thresholds are not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

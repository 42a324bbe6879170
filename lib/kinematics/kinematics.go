// Package kinematics extracts motion statistics from a stroke. The numbers it
// produces feed the bot likelihood score; none of them decide anything on
// their own.
package kinematics

import (
	"math"

	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
)

// minElapsed floors the time between two samples, in milliseconds, so that
// duplicate timestamps do not produce infinite speeds.
const minElapsed = 0.001

// Timing holds the time based statistics of a stroke.
type Timing struct {
	// Duration is the time between the first and last sample in milliseconds.
	Duration float64 `json:"duration_ms"`
	// Speeds is the speed of every segment in units per millisecond.
	Speeds      []float64 `json:"-"`
	MeanSpeed   float64   `json:"mean_speed"`
	SpeedStdDev float64   `json:"speed_stddev"`
}

// SpeedVariation is the coefficient of variation of the segment speeds. It
// is zero when the stroke did not move.
func (t *Timing) SpeedVariation() float64 {
	if t == nil || t.MeanSpeed == 0 {
		return 0
	}
	return t.SpeedStdDev / t.MeanSpeed
}

// Metrics is the result of Analyze.
type Metrics struct {
	// Timing is nil when any sample lacks a timestamp.
	Timing *Timing `json:"timing,omitempty"`
	// AngleVariance is the standard deviation of the heading change between
	// consecutive segments, in radians.
	AngleVariance float64 `json:"angle_variance"`
	// MeanJitter is the mean perpendicular deviation of every interior sample
	// from the midpoint of its two neighbours, measured across the chord
	// joining them.
	MeanJitter float64 `json:"mean_jitter"`
}

// HasTiming reports whether timing statistics are available.
func (m Metrics) HasTiming() bool {
	return m.Timing != nil
}

// Analyze computes the motion statistics of points. Callers pass the
// resampled and normalized stroke so that distances are comparable between
// strokes of different size.
func Analyze(points []geometry.Point) Metrics {
	var result Metrics

	if geometry.Stroke(points).Timed() {
		result.Timing = timing(points)
	}

	result.AngleVariance = angleVariance(points)
	result.MeanJitter = meanJitter(points)

	return result
}

func timing(points []geometry.Point) *Timing {
	t := &Timing{
		Duration: points[len(points)-1].Time() - points[0].Time(),
	}

	if len(points) < 2 {
		return t
	}

	t.Speeds = make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		dt := max(points[i].Time()-points[i-1].Time(), minElapsed)
		t.Speeds = append(t.Speeds, geometry.Distance(points[i-1], points[i])/dt)
	}

	t.MeanSpeed, t.SpeedStdDev = meanStdDev(t.Speeds)
	return t
}

func angleVariance(points []geometry.Point) float64 {
	var headings []float64
	for i := 1; i < len(points); i++ {
		dx := points[i].X - points[i-1].X
		dy := points[i].Y - points[i-1].Y
		if dx == 0 && dy == 0 {
			continue
		}
		headings = append(headings, math.Atan2(dy, dx))
	}

	if len(headings) < 2 {
		return 0
	}

	diffs := make([]float64, 0, len(headings)-1)
	for i := 1; i < len(headings); i++ {
		diffs = append(diffs, wrapAngle(headings[i]-headings[i-1]))
	}

	_, sd := meanStdDev(diffs)
	return sd
}

// wrapAngle maps a into (-π, π].
func wrapAngle(a float64) float64 {
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

func meanJitter(points []geometry.Point) float64 {
	if len(points) < 3 {
		return 0
	}

	var sum float64
	for i := 1; i < len(points)-1; i++ {
		prev, next := points[i-1], points[i+1]
		mid := geometry.Pt((prev.X+next.X)/2, (prev.Y+next.Y)/2)

		// deviation across the chord between the neighbours
		cx, cy := next.X-prev.X, next.Y-prev.Y
		if chord := math.Hypot(cx, cy); chord > 0 {
			sum += math.Abs((points[i].X-mid.X)*cy-(points[i].Y-mid.Y)*cx) / chord
		} else {
			sum += geometry.Distance(points[i], mid)
		}
	}

	return sum / float64(len(points)-2)
}

// meanStdDev returns the mean and population standard deviation of v.
func meanStdDev(v []float64) (mean, sd float64) {
	if len(v) == 0 {
		return 0, 0
	}

	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))

	for _, x := range v {
		sd += (x - mean) * (x - mean)
	}
	sd = math.Sqrt(sd / float64(len(v)))

	return mean, sd
}

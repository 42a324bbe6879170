// Package geometry holds the 2-D point types and pure helpers the trace
// verifier is built on.
package geometry

import "math"

// Point is one sample of a stroke. T is the time in milliseconds since the
// start of the stroke and is nil when the drawing surface did not report it.
type Point struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	T *float64 `json:"t,omitempty"`
}

// Pt builds an untimed point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// TimedPt builds a point with a timestamp.
func TimedPt(x, y, t float64) Point {
	return Point{X: x, Y: y, T: &t}
}

// HasTime reports whether the point carries a timestamp.
func (p Point) HasTime() bool {
	return p.T != nil
}

// Time returns the timestamp or zero when there is none.
func (p Point) Time() float64 {
	if p.T == nil {
		return 0
	}
	return *p.T
}

// Finite reports whether both coordinates (and the timestamp, if any) are
// real numbers.
func (p Point) Finite() bool {
	if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
		return false
	}

	if p.T != nil && (math.IsNaN(*p.T) || math.IsInf(*p.T, 0)) {
		return false
	}

	return true
}

// Stroke is an ordered sequence of points as drawn.
type Stroke []Point

// Timed reports whether every point of the stroke has a timestamp. An empty
// stroke is not timed.
func (s Stroke) Timed() bool {
	if len(s) == 0 {
		return false
	}

	for _, p := range s {
		if !p.HasTime() {
			return false
		}
	}

	return true
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// PointToSegmentDistance returns the distance from p to the closest point of
// the segment ab.
func PointToSegmentDistance(p, a, b Point) float64 {
	dx := b.X - a.X
	dy := b.Y - a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return Distance(p, a)
	}

	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = max(0, min(1, t))

	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

// PointToPolylineDistance returns the minimum distance from p to any segment
// of poly. A polyline with fewer than two points has no segments and yields
// +Inf.
func PointToPolylineDistance(p Point, poly []Point) float64 {
	if len(poly) < 2 {
		return math.Inf(1)
	}

	best := math.Inf(1)
	for i := 1; i < len(poly); i++ {
		if d := PointToSegmentDistance(p, poly[i-1], poly[i]); d < best {
			best = d
		}
	}

	return best
}

// Box is an axis-aligned bounding box.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Box) Width() float64  { return b.MaxX - b.MinX }
func (b Box) Height() float64 { return b.MaxY - b.MinY }
func (b Box) Area() float64   { return b.Width() * b.Height() }

// BoundingBox returns the smallest axis-aligned box containing every point.
// The zero Box is returned for an empty input.
func BoundingBox(points []Point) Box {
	if len(points) == 0 {
		return Box{}
	}

	result := Box{
		MinX: points[0].X, MinY: points[0].Y,
		MaxX: points[0].X, MaxY: points[0].Y,
	}

	for _, p := range points[1:] {
		result.MinX = min(result.MinX, p.X)
		result.MinY = min(result.MinY, p.Y)
		result.MaxX = max(result.MaxX, p.X)
		result.MaxY = max(result.MaxY, p.Y)
	}

	return result
}

// Centroid returns the mean of the points. The origin is returned for an
// empty input.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}

	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}

	n := float64(len(points))
	return Point{X: sx / n, Y: sy / n}
}

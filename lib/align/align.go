// Package align superimposes a drawn stroke onto a shape template. Both
// sequences are centered, scaled to unit RMS radius and the stroke is then
// rotated onto the template with the best proper rotation, so the remaining
// difference is purely one of shape.
package align

import (
	"errors"
	"fmt"
	"math"

	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
)

var (
	ErrEmpty          = errors.New("align: empty sequence")
	ErrLengthMismatch = errors.New("align: sequences differ in length")
)

// scaleFloor keeps the normalization finite for strokes that collapse onto a
// single point.
const scaleFloor = 1e-9

// rankEpsilon is the ratio between the small and large eigenvalue of HᵀH
// below which the covariance is treated as rank deficient.
const rankEpsilon = 1e-12

// Matrix is a 2×2 matrix applied to row vectors: p' = p·M.
type Matrix [2][2]float64

// Identity is the identity rotation.
var Identity = Matrix{{1, 0}, {0, 1}}

// Apply returns p·m. The timestamp of p is carried over untouched.
func (m Matrix) Apply(p geometry.Point) geometry.Point {
	return geometry.Point{
		X: p.X*m[0][0] + p.Y*m[1][0],
		Y: p.X*m[0][1] + p.Y*m[1][1],
		T: p.T,
	}
}

// Det is the determinant of m.
func (m Matrix) Det() float64 {
	return m[0][0]*m[1][1] - m[0][1]*m[1][0]
}

// Angle is the rotation angle in radians m applies to a row vector.
func (m Matrix) Angle() float64 {
	return math.Atan2(m[0][1], m[0][0])
}

func rotationFor(theta float64) Matrix {
	c, s := math.Cos(theta), math.Sin(theta)
	return Matrix{{c, s}, {-s, c}}
}

// Result is the outcome of Align.
type Result struct {
	// Rotated is the normalized user sequence after rotation.
	Rotated []geometry.Point
	// Template is the normalized template sequence.
	Template []geometry.Point
	// Rotation is the matrix that was applied to the normalized user sequence.
	Rotation Matrix
	// ShapeDistance is the root-mean-square distance between index-aligned
	// points of Rotated and Template.
	ShapeDistance float64
	// SizeRatio is the bounding box area of the user input divided by that of
	// the template input, measured before scale normalization with the user
	// input turned into the template's frame. Zero when the template has no
	// area.
	SizeRatio float64
}

// Normalize translates points so their centroid sits at the origin and
// scales them so their RMS distance from the origin is one. Timestamps are
// preserved.
func Normalize(points []geometry.Point) []geometry.Point {
	if len(points) == 0 {
		return nil
	}

	c := geometry.Centroid(points)

	result := make([]geometry.Point, len(points))
	var sumSq float64
	for i, p := range points {
		x, y := p.X-c.X, p.Y-c.Y
		result[i] = geometry.Point{X: x, Y: y, T: p.T}
		sumSq += x*x + y*y
	}

	scale := max(math.Sqrt(sumSq/float64(len(points))), scaleFloor)
	for i := range result {
		result[i].X /= scale
		result[i].Y /= scale
	}

	return result
}

// Align superimposes user onto template. Both must already be resampled to
// the same number of points.
func Align(user, template []geometry.Point) (*Result, error) {
	if len(user) == 0 || len(template) == 0 {
		return nil, ErrEmpty
	}

	if len(user) != len(template) {
		return nil, fmt.Errorf("%w: %d user points, %d template points", ErrLengthMismatch, len(user), len(template))
	}

	p := Normalize(user)
	q := Normalize(template)

	rot := optimalRotation(p, q)

	rotated := make([]geometry.Point, len(p))
	var sumSq float64
	for i := range p {
		rotated[i] = rot.Apply(p[i])
		dx := rotated[i].X - q[i].X
		dy := rotated[i].Y - q[i].Y
		sumSq += dx*dx + dy*dy
	}

	var sizeRatio float64
	if ta := geometry.BoundingBox(template).Area(); ta > 0 {
		sizeRatio = geometry.BoundingBox(unrotate(user, rot)).Area() / ta
	}

	return &Result{
		Rotated:       rotated,
		Template:      q,
		Rotation:      rot,
		ShapeDistance: math.Sqrt(sumSq / float64(len(p))),
		SizeRatio:     sizeRatio,
	}, nil
}

// unrotate centers points without scaling them and applies rot, so the
// bounding box is taken in the template's orientation.
func unrotate(points []geometry.Point, rot Matrix) []geometry.Point {
	c := geometry.Centroid(points)

	result := make([]geometry.Point, len(points))
	for i, p := range points {
		result[i] = rot.Apply(geometry.Pt(p.X-c.X, p.Y-c.Y))
	}
	return result
}

// optimalRotation finds the proper rotation R minimizing Σ|pᵢR − qᵢ|². It
// takes the orthogonal polar factor U = H(HᵀH)^(-1/2) of the cross
// covariance H = Σ pᵢᵀqᵢ. A reflection is turned into a rotation by negating
// its second column. When HᵀH is rank deficient the polar factor is not
// unique and the closed-form optimal angle is used instead.
func optimalRotation(p, q []geometry.Point) Matrix {
	var h Matrix
	var dot, cross float64
	for i := range p {
		h[0][0] += p[i].X * q[i].X
		h[0][1] += p[i].X * q[i].Y
		h[1][0] += p[i].Y * q[i].X
		h[1][1] += p[i].Y * q[i].Y

		dot += p[i].X*q[i].X + p[i].Y*q[i].Y
		cross += p[i].X*q[i].Y - p[i].Y*q[i].X
	}

	// S = HᵀH, symmetric positive semi-definite.
	s00 := h[0][0]*h[0][0] + h[1][0]*h[1][0]
	s01 := h[0][0]*h[0][1] + h[1][0]*h[1][1]
	s11 := h[0][1]*h[0][1] + h[1][1]*h[1][1]

	tr := s00 + s11
	det := s00*s11 - s01*s01
	disc := math.Sqrt(max(0, tr*tr/4-det))
	e1 := tr/2 + disc
	e2 := tr/2 - disc

	if e1 <= 0 || e2 <= rankEpsilon*e1 {
		return rotationFor(math.Atan2(cross, dot))
	}

	// Eigenvector of the larger eigenvalue. Of the two algebraically
	// equivalent candidates the longer one is numerically stable.
	ax, ay := e1-s11, s01
	if bx, by := s01, e1-s00; math.Hypot(bx, by) > math.Hypot(ax, ay) {
		ax, ay = bx, by
	}

	v1x, v1y := 1.0, 0.0
	if n := math.Hypot(ax, ay); n > rankEpsilon*tr {
		v1x, v1y = ax/n, ay/n
	}
	v2x, v2y := -v1y, v1x

	i1 := 1 / math.Sqrt(e1)
	i2 := 1 / math.Sqrt(e2)

	// S^(-1/2) = v1v1ᵀ/√e1 + v2v2ᵀ/√e2
	inv00 := v1x*v1x*i1 + v2x*v2x*i2
	inv01 := v1x*v1y*i1 + v2x*v2y*i2
	inv11 := v1y*v1y*i1 + v2y*v2y*i2

	u := Matrix{
		{h[0][0]*inv00 + h[0][1]*inv01, h[0][0]*inv01 + h[0][1]*inv11},
		{h[1][0]*inv00 + h[1][1]*inv01, h[1][0]*inv01 + h[1][1]*inv11},
	}

	if u.Det() < 0 {
		u[0][1] = -u[0][1]
		u[1][1] = -u[1][1]
	}

	return u
}

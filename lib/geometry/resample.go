package geometry

// Resample converts a stroke into exactly n points spaced uniformly along its
// arc length. Timestamps are interpolated when every input point has one and
// dropped otherwise. A stroke with zero arc length yields n copies of its
// first point. n below 2 is treated as 2; an empty stroke yields nil.
func Resample(stroke []Point, n int) []Point {
	if len(stroke) == 0 {
		return nil
	}

	if n < 2 {
		n = 2
	}

	timed := Stroke(stroke).Timed()

	dist := make([]float64, len(stroke))
	for i := 1; i < len(stroke); i++ {
		dist[i] = dist[i-1] + Distance(stroke[i-1], stroke[i])
	}
	total := dist[len(dist)-1]

	result := make([]Point, n)

	if total == 0 {
		first := stroke[0]
		for i := range result {
			result[i] = Point{X: first.X, Y: first.Y}
			if timed {
				t := first.Time()
				result[i].T = &t
			}
		}
		return result
	}

	j := 0
	for i := range n {
		target := float64(i) / float64(n-1) * total
		for j < len(dist)-2 && dist[j+1] < target {
			j++
		}

		a, b := stroke[j], stroke[j+1]
		segLen := dist[j+1] - dist[j]

		var u float64
		if segLen > 0 {
			u = (target - dist[j]) / segLen
		}

		p := Point{
			X: a.X + u*(b.X-a.X),
			Y: a.Y + u*(b.Y-a.Y),
		}

		if timed {
			t := a.Time() + u*(b.Time()-a.Time())
			p.T = &t
		}

		result[i] = p
	}

	return result
}

package verify

import (
	"errors"
	"fmt"

	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
)

var (
	ErrNoStroke          = errors.New("verify: no stroke")
	ErrNotFinite         = errors.New("verify: stroke has a non-finite value")
	ErrTimeGoesBackwards = errors.New("verify: timestamps decrease")
)

func validStroke(stroke geometry.Stroke) error {
	if stroke == nil {
		return ErrNoStroke
	}

	last := -1
	for i, p := range stroke {
		if !p.Finite() {
			return fmt.Errorf("%w: point %d", ErrNotFinite, i)
		}

		if !p.HasTime() {
			continue
		}

		if last >= 0 && p.Time() < stroke[last].Time() {
			return fmt.Errorf("%w: point %d", ErrTimeGoesBackwards, i)
		}
		last = i
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrChallengeTTLDoesNotParse = errors.New("config.Challenge: ttl does not parse as a Duration, see https://pkg.go.dev/time#ParseDuration (formatted like 2m -> 2 minutes)")
	ErrChallengeTTLNotPositive  = errors.New("config.Challenge: ttl must be greater than zero")
	ErrChallengeRotationRange   = errors.New("config.Challenge: max_rotation must be between 0 and 180 degrees")
	ErrChallengeScaleRange      = errors.New("config.Challenge: scale window must satisfy 0 < min_scale <= max_scale")
	ErrChallengeEmptyShapeName  = errors.New("config.Challenge: shape names must not be empty")
)

type challengeFileConfig struct {
	TimeToLive  string   `json:"ttl"`
	MaxRotation float64  `json:"max_rotation"`
	MinScale    float64  `json:"min_scale"`
	MaxScale    float64  `json:"max_scale"`
	Shapes      []string `json:"shapes,omitempty"`
}

func (c *challengeFileConfig) Valid() error {
	var errs []error

	if ttl, err := time.ParseDuration(c.TimeToLive); err != nil {
		errs = append(errs, fmt.Errorf("%w: ParseDuration(%q) returned: %w", ErrChallengeTTLDoesNotParse, c.TimeToLive, err))
	} else if ttl <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %s", ErrChallengeTTLNotPositive, ttl))
	}

	if c.MaxRotation < 0 || c.MaxRotation > 180 {
		errs = append(errs, fmt.Errorf("%w: got %v", ErrChallengeRotationRange, c.MaxRotation))
	}

	if !(c.MinScale > 0) || c.MaxScale < c.MinScale {
		errs = append(errs, fmt.Errorf("%w: got [%v, %v]", ErrChallengeScaleRange, c.MinScale, c.MaxScale))
	}

	for _, s := range c.Shapes {
		if s == "" {
			errs = append(errs, ErrChallengeEmptyShapeName)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: challenge settings are not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

func (c *challengeFileConfig) parse() Challenge {
	ttl, _ := time.ParseDuration(c.TimeToLive)

	return Challenge{
		TimeToLive:  ttl,
		MaxRotation: c.MaxRotation,
		MinScale:    c.MinScale,
		MaxScale:    c.MaxScale,
		Shapes:      c.Shapes,
	}
}

// Challenge controls how challenges are issued.
type Challenge struct {
	// TimeToLive is how long an issued challenge may be answered.
	TimeToLive time.Duration
	// MaxRotation bounds the display rotation hint, in degrees either way.
	MaxRotation float64
	// MinScale and MaxScale bound the display scale hint.
	MinScale, MaxScale float64
	// Shapes restricts issuance to these templates. Empty means every loaded
	// template.
	Shapes []string
}

func (c Challenge) fileConfig() challengeFileConfig {
	return challengeFileConfig{
		TimeToLive:  c.TimeToLive.String(),
		MaxRotation: c.MaxRotation,
		MinScale:    c.MinScale,
		MaxScale:    c.MaxScale,
		Shapes:      c.Shapes,
	}
}

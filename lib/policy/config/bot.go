package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrBotThresholdNotPositive = errors.New("config.Bot: threshold must be greater than zero")
	ErrNegativeWeight          = errors.New("config.Bot: weight must not be negative")
	ErrDurationDoesNotParse    = errors.New("config.Bot: duration does not parse, see https://pkg.go.dev/time#ParseDuration (formatted like 400ms or 1s)")
	ErrRuleMustHaveName        = errors.New("config.BotRule: must set name")
	ErrRuleInvalidName         = errors.New("config.BotRule: name must be lower_snake_case")
	ErrRuleNameReserved        = errors.New("config.BotRule: name collides with a built-in signal")
	ErrRuleNameDuplicate       = errors.New("config.BotRule: name is used more than once")
	ErrRuleMustHaveExpression  = errors.New("config.BotRule: must set expression")
)

// Names of the built-in bot signals.
const (
	SignalTooFast       = "too_fast"
	SignalConstantSpeed = "constant_speed"
	SignalTooSmooth     = "too_smooth"
	SignalTooStraight   = "too_straight"
	SignalExactMatch    = "exact_match"
	SignalMissingTiming = "missing_timing"
)

// BuiltinSignals lists the built-in bot signals in the order they are
// evaluated.
var BuiltinSignals = []string{
	SignalTooFast,
	SignalConstantSpeed,
	SignalTooSmooth,
	SignalTooStraight,
	SignalExactMatch,
	SignalMissingTiming,
}

var ruleNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

type tooFastFileConfig struct {
	MinDuration string  `json:"min_duration"`
	Weight      float64 `json:"weight"`
}

// TooFast flags strokes drawn faster than a person can trace.
type TooFast struct {
	MinDuration time.Duration
	Weight      float64
}

// ConstantSpeed flags strokes whose speed barely varies.
type ConstantSpeed struct {
	// MaxVariation is the speed coefficient of variation (stddev / mean)
	// below which the stroke is flagged.
	MaxVariation float64 `json:"max_variation"`
	Weight       float64 `json:"weight"`
}

// TooSmooth flags strokes with almost no hand tremor.
type TooSmooth struct {
	MinJitter float64 `json:"min_jitter"`
	Weight    float64 `json:"weight"`
}

// TooStraight flags strokes whose heading barely changes.
type TooStraight struct {
	MinAngleVariance float64 `json:"min_angle_variance"`
	Weight           float64 `json:"weight"`
}

// ExactMatch flags strokes that reproduce the template too faithfully.
type ExactMatch struct {
	MaxDistance float64 `json:"max_distance"`
	Weight      float64 `json:"weight"`
}

// MissingTiming is the penalty for strokes without timestamps.
type MissingTiming struct {
	Weight float64 `json:"weight"`
}

// BotRule is a custom CEL signal. When Expression evaluates to true, Weight
// is added to the bot score and a signal called Name is raised.
type BotRule struct {
	Name       string            `json:"name"`
	Expression *ExpressionOrList `json:"expression"`
	Weight     float64           `json:"weight"`
}

func (r BotRule) Valid() error {
	var errs []error

	if r.Name == "" {
		errs = append(errs, ErrRuleMustHaveName)
	} else if !ruleNameRegex.MatchString(r.Name) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrRuleInvalidName, r.Name))
	}

	for _, builtin := range BuiltinSignals {
		if r.Name == builtin {
			errs = append(errs, fmt.Errorf("%w: %q", ErrRuleNameReserved, r.Name))
		}
	}

	if r.Expression == nil {
		errs = append(errs, ErrRuleMustHaveExpression)
	} else if err := r.Expression.Valid(); err != nil {
		errs = append(errs, err)
	}

	if r.Weight < 0 {
		errs = append(errs, fmt.Errorf("%w: %v", ErrNegativeWeight, r.Weight))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: bot rule %q is not valid:\n%w", r.Name, errors.Join(errs...))
	}

	return nil
}

type botFileConfig struct {
	Threshold     float64           `json:"threshold"`
	TooFast       tooFastFileConfig `json:"too_fast"`
	ConstantSpeed ConstantSpeed     `json:"constant_speed"`
	TooSmooth     TooSmooth         `json:"too_smooth"`
	TooStraight   TooStraight       `json:"too_straight"`
	ExactMatch    ExactMatch        `json:"exact_match"`
	MissingTiming MissingTiming     `json:"missing_timing"`
	Rules         []BotRule         `json:"rules,omitempty"`
}

func (b *botFileConfig) Valid() error {
	var errs []error

	if !(b.Threshold > 0) {
		errs = append(errs, fmt.Errorf("%w: got %v", ErrBotThresholdNotPositive, b.Threshold))
	}

	if _, err := time.ParseDuration(b.TooFast.MinDuration); err != nil {
		errs = append(errs, fmt.Errorf("%w: too_fast.min_duration: ParseDuration(%q) returned: %w", ErrDurationDoesNotParse, b.TooFast.MinDuration, err))
	}

	for _, w := range []struct {
		name  string
		value float64
	}{
		{SignalTooFast, b.TooFast.Weight},
		{SignalConstantSpeed, b.ConstantSpeed.Weight},
		{SignalTooSmooth, b.TooSmooth.Weight},
		{SignalTooStraight, b.TooStraight.Weight},
		{SignalExactMatch, b.ExactMatch.Weight},
		{SignalMissingTiming, b.MissingTiming.Weight},
	} {
		if w.value < 0 {
			errs = append(errs, fmt.Errorf("%w: %s.weight is %v", ErrNegativeWeight, w.name, w.value))
		}
	}

	seen := map[string]bool{}
	for i, r := range b.Rules {
		if err := r.Valid(); err != nil {
			errs = append(errs, fmt.Errorf("rule %d: %w", i, err))
		}

		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrRuleNameDuplicate, r.Name))
		}
		seen[r.Name] = true
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: bot scoring is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

func (b *botFileConfig) parse() Bot {
	minDuration, _ := time.ParseDuration(b.TooFast.MinDuration)

	return Bot{
		Threshold: b.Threshold,
		TooFast: TooFast{
			MinDuration: minDuration,
			Weight:      b.TooFast.Weight,
		},
		ConstantSpeed: b.ConstantSpeed,
		TooSmooth:     b.TooSmooth,
		TooStraight:   b.TooStraight,
		ExactMatch:    b.ExactMatch,
		MissingTiming: b.MissingTiming,
		Rules:         b.Rules,
	}
}

// Bot holds the weights and floors of the additive bot likelihood score.
type Bot struct {
	// Threshold is the score at or above which a stroke is flagged as
	// automated.
	Threshold     float64
	TooFast       TooFast
	ConstantSpeed ConstantSpeed
	TooSmooth     TooSmooth
	TooStraight   TooStraight
	ExactMatch    ExactMatch
	MissingTiming MissingTiming
	Rules         []BotRule
}

func (b Bot) fileConfig() botFileConfig {
	return botFileConfig{
		Threshold: b.Threshold,
		TooFast: tooFastFileConfig{
			MinDuration: b.TooFast.MinDuration.String(),
			Weight:      b.TooFast.Weight,
		},
		ConstantSpeed: b.ConstantSpeed,
		TooSmooth:     b.TooSmooth,
		TooStraight:   b.TooStraight,
		ExactMatch:    b.ExactMatch,
		MissingTiming: b.MissingTiming,
		Rules:         b.Rules,
	}
}

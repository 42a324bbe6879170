package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TecharoHQ/tracecaptcha/lib/kinematics"
	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
)

// BotScore is the additive bot likelihood of a stroke.
type BotScore struct {
	Score     float64
	Threshold float64
	// Signals maps every raised signal to a short description of the value
	// that raised it.
	Signals map[string]string
}

// Automated reports whether the score reached the threshold.
func (bs BotScore) Automated() bool {
	return bs.Score >= bs.Threshold
}

func (bs BotScore) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Float64("score", bs.Score),
		slog.Float64("threshold", bs.Threshold),
	}

	for name, detail := range bs.Signals {
		attrs = append(attrs, slog.String(name, detail))
	}

	return slog.GroupValue(attrs...)
}

func (bs *BotScore) raise(name string, weight float64, detail string) {
	bs.Score += weight
	bs.Signals[name] = detail
	signalsRaised.WithLabelValues(name).Inc()
}

// Score adds up the weights of every suspicious motion trait of a stroke.
// kin must be computed on the normalized stroke, shapeDistance is the RMS
// distance after alignment and points the raw point count. Custom rules run
// after the built-in signals and can see which of them were raised.
func (pc *ParsedConfig) Score(ctx context.Context, kin kinematics.Metrics, shapeDistance float64, points int) (BotScore, error) {
	b := pc.Bot
	result := BotScore{
		Threshold: b.Threshold,
		Signals:   map[string]string{},
	}

	if kin.HasTiming() {
		duration := time.Duration(kin.Timing.Duration * float64(time.Millisecond))
		if duration < b.TooFast.MinDuration {
			result.raise(config.SignalTooFast, b.TooFast.Weight, fmt.Sprintf("%s < %s", duration.Round(time.Millisecond), b.TooFast.MinDuration))
		}

		if cv := kin.Timing.SpeedVariation(); cv < b.ConstantSpeed.MaxVariation {
			result.raise(config.SignalConstantSpeed, b.ConstantSpeed.Weight, fmt.Sprintf("%.4f < %g", cv, b.ConstantSpeed.MaxVariation))
		}
	}

	if kin.MeanJitter < b.TooSmooth.MinJitter {
		result.raise(config.SignalTooSmooth, b.TooSmooth.Weight, fmt.Sprintf("%.5f < %g", kin.MeanJitter, b.TooSmooth.MinJitter))
	}

	if kin.AngleVariance < b.TooStraight.MinAngleVariance {
		result.raise(config.SignalTooStraight, b.TooStraight.Weight, fmt.Sprintf("%.4f < %g", kin.AngleVariance, b.TooStraight.MinAngleVariance))
	}

	if shapeDistance < b.ExactMatch.MaxDistance {
		result.raise(config.SignalExactMatch, b.ExactMatch.Weight, fmt.Sprintf("%.5f < %g", shapeDistance, b.ExactMatch.MaxDistance))
	}

	if !kin.HasTiming() {
		result.raise(config.SignalMissingTiming, b.MissingTiming.Weight, "no timestamps")
	}

	if len(pc.Rules) == 0 {
		return result, nil
	}

	input := ruleInput(kin, shapeDistance, points, result.Signals)
	for _, rule := range pc.Rules {
		hit, err := rule.Check(ctx, input)
		if err != nil {
			return result, fmt.Errorf("policy: can't evaluate rule %s: %w", rule.Name, err)
		}

		if hit {
			result.raise(rule.Name, rule.Weight, rule.String())
		}
	}

	return result, nil
}

func ruleInput(kin kinematics.Metrics, shapeDistance float64, points int, raised map[string]string) *RuleInput {
	signals := make(map[string]string, len(raised))
	for k, v := range raised {
		signals[k] = v
	}

	input := &RuleInput{
		AngleVariance: kin.AngleVariance,
		MeanJitter:    kin.MeanJitter,
		ShapeDistance: shapeDistance,
		HasTiming:     kin.HasTiming(),
		Points:        points,
		Signals:       signals,
	}

	if kin.HasTiming() {
		input.DurationMS = kin.Timing.Duration
		input.MeanSpeed = kin.Timing.MeanSpeed
		input.SpeedStdDev = kin.Timing.SpeedStdDev
		input.SpeedVariation = kin.Timing.SpeedVariation()
	}

	return input
}

// Package verify decides whether a traced stroke passes a challenge.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/TecharoHQ/tracecaptcha/lib/align"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
	"github.com/TecharoHQ/tracecaptcha/lib/kinematics"
	"github.com/TecharoHQ/tracecaptcha/lib/policy"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
)

var ErrBadTemplate = errors.New("verify: template is unusable")

// Verifier runs strokes through alignment and bot scoring. It is safe for
// concurrent use; the ledger is the only state it shares between calls.
type Verifier struct {
	policy *policy.ParsedConfig
	ledger *challenge.Ledger
	logger *slog.Logger
}

func New(pc *policy.ParsedConfig, ledger *challenge.Ledger, lg *slog.Logger) *Verifier {
	if lg == nil {
		lg = slog.Default()
	}

	return &Verifier{
		policy: pc,
		ledger: ledger,
		logger: lg.With("subsystem", "verify"),
	}
}

// Verify checks stroke against tmpl for the challenge challengeID.
//
// Malformed or short strokes are rejected without touching the ledger. Every
// attempt that gets past the challenge check consumes the challenge, pass or
// fail. The error is non-nil only for faults the caller can't fix: a broken
// template or a failing store.
func (v *Verifier) Verify(ctx context.Context, stroke geometry.Stroke, tmpl *shape.Template, challengeID string) (*Verdict, error) {
	if tmpl == nil || len(tmpl.Points) < 2 {
		return nil, ErrBadTemplate
	}

	if verdict := v.Precheck(stroke); verdict != nil {
		return verdict, nil
	}

	unlock := v.ledger.Lock(challengeID)
	defer unlock()

	if _, err := v.ledger.Validate(ctx, challengeID, tmpl); err != nil {
		if challenge.Invalid(err) {
			v.logger.Debug("invalid challenge", "err", err)
			return v.finish(newVerdict(ReasonInvalidChallenge)), nil
		}

		return nil, err
	}

	result, err := v.evaluate(ctx, stroke, tmpl)
	if err != nil {
		return nil, err
	}

	chall, err := v.ledger.Consume(ctx, challengeID)
	if err != nil {
		if challenge.Invalid(err) {
			// another instance sharing the store got there first
			v.logger.Debug("lost consume race", "err", err)
			return v.finish(newVerdict(ReasonInvalidChallenge)), nil
		}

		return nil, err
	}

	result.Challenge = chall
	shapeDistance.Observe(result.ShapeMetrics.ShapeDistance)
	botScore.Observe(result.BotScore)

	return v.finish(result), nil
}

// Precheck runs the checks that need neither a template nor the ledger. It
// returns nil when stroke may go on to be verified, otherwise the rejecting
// verdict.
func (v *Verifier) Precheck(stroke geometry.Stroke) *Verdict {
	if err := validStroke(stroke); err != nil {
		v.logger.Debug("rejecting stroke", "err", err)
		return v.finish(newVerdict(ReasonInvalidInput))
	}

	if len(stroke) < v.policy.MinPoints {
		return v.finish(newVerdict(ReasonTooFewPoints))
	}

	return nil
}

func (v *Verifier) finish(verdict *Verdict) *Verdict {
	verdicts.WithLabelValues(string(verdict.Reason)).Inc()
	v.logger.Debug("verdict", "verdict", verdict)
	return verdict
}

// evaluate runs the geometric and kinematic pipeline. It has no side
// effects.
func (v *Verifier) evaluate(ctx context.Context, stroke geometry.Stroke, tmpl *shape.Template) (*Verdict, error) {
	n := v.policy.ResamplePoints
	user := geometry.Resample(stroke, n)
	reference := geometry.Resample(tmpl.Points, n)

	aligned, err := align.Align(user, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadTemplate, tmpl.Name, err)
	}

	metrics := aligned.Measure(v.policy.Tolerances())
	shapeResult := v.policy.EvaluateShape(metrics)

	kin := kinematics.Analyze(align.Normalize(user))
	score, err := v.policy.Score(ctx, kin, metrics.ShapeDistance, len(stroke))
	if err != nil {
		return nil, err
	}

	var reason Reason
	switch {
	case !shapeResult.Pass:
		reason = ReasonShapeMismatch
	case score.Automated():
		reason = ReasonBotSuspected
	default:
		reason = ReasonPass
	}

	verdict := newVerdict(reason)
	verdict.Success = reason == ReasonPass
	verdict.ShapePass = shapeResult.Pass
	verdict.ShapeMetrics = &metrics
	verdict.BotScore = score.Score
	verdict.BotThreshold = score.Threshold

	maps.Copy(verdict.Signals, score.Signals)
	for check, detail := range shapeResult.Failures {
		verdict.Signals[ShapeSignalPrefix+check] = detail
	}

	return verdict, nil
}

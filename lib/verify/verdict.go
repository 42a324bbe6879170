package verify

import (
	"log/slog"

	"github.com/TecharoHQ/tracecaptcha/lib/align"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
)

// Reason names the stage that decided a verdict.
type Reason string

const (
	ReasonInvalidInput     Reason = "invalid_input"
	ReasonTooFewPoints     Reason = "too_few_points"
	ReasonInvalidChallenge Reason = "invalid_challenge"
	ReasonShapeMismatch    Reason = "shape_mismatch"
	ReasonBotSuspected     Reason = "bot_suspected"
	ReasonPass             Reason = "pass"
)

// Reasons lists every reason in pipeline order.
var Reasons = []Reason{
	ReasonInvalidInput,
	ReasonTooFewPoints,
	ReasonInvalidChallenge,
	ReasonShapeMismatch,
	ReasonBotSuspected,
	ReasonPass,
}

var messages = map[Reason]string{
	ReasonInvalidInput:     "Invalid input",
	ReasonTooFewPoints:     "Path missing or too short",
	ReasonInvalidChallenge: "Invalid or expired challenge",
	ReasonShapeMismatch:    "Trace did not match the shape",
	ReasonBotSuspected:     "Movement looks automated",
	ReasonPass:             "Pass",
}

// Message is the English user-facing text for r.
func (r Reason) Message() string {
	if msg, ok := messages[r]; ok {
		return msg
	}

	return string(r)
}

// ShapeSignalPrefix is prepended to failed geometric checks in
// Verdict.Signals so they can't collide with bot signals.
const ShapeSignalPrefix = "shape."

// Verdict is the outcome of one verification attempt.
type Verdict struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`

	ShapePass    bool           `json:"shape_pass"`
	ShapeMetrics *align.Metrics `json:"shape_metrics,omitempty"`
	BotScore     float64        `json:"bot_score"`
	BotThreshold float64        `json:"bot_threshold"`
	// Signals maps every raised bot signal and every failed shape check to a
	// short description of the value that tripped it.
	Signals map[string]string `json:"signals"`

	// Challenge is the redeemed challenge on completed attempts.
	Challenge *challenge.Challenge `json:"-"`
}

func newVerdict(reason Reason) *Verdict {
	return &Verdict{
		Reason:  reason,
		Message: reason.Message(),
		Signals: map[string]string{},
	}
}

// Rejected is the verdict for an attempt turned away before the pipeline
// ran, such as one naming a shape the server does not know.
func Rejected(reason Reason) *Verdict {
	return newVerdict(reason)
}

// Completed reports whether the attempt ran the full pipeline and used up
// its challenge.
func (v *Verdict) Completed() bool {
	return v.Challenge != nil
}

func (v *Verdict) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Bool("success", v.Success),
		slog.String("reason", string(v.Reason)),
		slog.Bool("shape_pass", v.ShapePass),
		slog.Float64("bot_score", v.BotScore),
	}

	if v.ShapeMetrics != nil {
		attrs = append(attrs, slog.Float64("shape_distance", v.ShapeMetrics.ShapeDistance))
	}

	for name, detail := range v.Signals {
		attrs = append(attrs, slog.String(name, detail))
	}

	return slog.GroupValue(attrs...)
}

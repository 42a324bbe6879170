package config

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/TecharoHQ/tracecaptcha"
)

func TestLoadDefaults(t *testing.T) {
	for _, doc := range []string{"", "{}", "# nothing to see here\n"} {
		c, err := Load(strings.NewReader(doc), "empty.yaml")
		if err != nil {
			t.Fatalf("can't load %q: %v", doc, err)
		}

		if !reflect.DeepEqual(c, Default()) {
			t.Errorf("loading %q did not give the default policy: %+v", doc, c)
		}
	}
}

func TestLoadPartialOverride(t *testing.T) {
	const doc = `
resample_points: 96
shape:
  max_distance: 0.3
  min_size_ratio: 0
bot:
  too_fast:
    min_duration: 250ms
  rules:
    - name: short_and_smooth
      expression:
        all:
          - duration_ms < 600.0
          - mean_jitter < 0.004
      weight: 1.5
challenge:
  ttl: 90s
  shapes: [heart, leaf]
store:
  backend: bbolt
  parameters:
    path: /tmp/tracecaptcha.db
`

	c, err := Load(strings.NewReader(doc), "partial.yaml")
	if err != nil {
		t.Fatalf("can't load: %v", err)
	}

	if c.ResamplePoints != 96 {
		t.Errorf("resample_points: wanted 96, got %d", c.ResamplePoints)
	}

	if c.MinPoints != tracecaptcha.DefaultMinPoints {
		t.Errorf("min_points lost its default: %d", c.MinPoints)
	}

	if c.Shape.MaxDistance != 0.3 {
		t.Errorf("shape.max_distance: wanted 0.3, got %v", c.Shape.MaxDistance)
	}

	if c.Shape.MaxDeviation != DefaultShape.MaxDeviation {
		t.Errorf("shape.max_deviation lost its default: %v", c.Shape.MaxDeviation)
	}

	if c.Shape.SizeCheckEnabled() {
		t.Error("min_size_ratio: 0 should disable the size check")
	}

	if c.Bot.TooFast.MinDuration != 250*time.Millisecond {
		t.Errorf("too_fast.min_duration: wanted 250ms, got %s", c.Bot.TooFast.MinDuration)
	}

	if c.Bot.TooFast.Weight != DefaultBot.TooFast.Weight {
		t.Errorf("too_fast.weight lost its default: %v", c.Bot.TooFast.Weight)
	}

	if len(c.Bot.Rules) != 1 || len(c.Bot.Rules[0].Expression.All) != 2 {
		t.Errorf("custom rule not parsed: %+v", c.Bot.Rules)
	}

	if c.Challenge.TimeToLive != 90*time.Second {
		t.Errorf("challenge.ttl: wanted 90s, got %s", c.Challenge.TimeToLive)
	}

	if !reflect.DeepEqual(c.Challenge.Shapes, []string{"heart", "leaf"}) {
		t.Errorf("challenge.shapes: got %v", c.Challenge.Shapes)
	}

	if c.Store.Backend != "bbolt" {
		t.Errorf("store.backend: wanted bbolt, got %q", c.Store.Backend)
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, tt := range []struct {
		name string
		doc  string
		err  error
	}{
		{
			name: "tiny resample count",
			doc:  "resample_points: 4",
			err:  ErrResamplePointsTooLow,
		},
		{
			name: "tiny min points",
			doc:  "min_points: 1",
			err:  ErrMinPointsTooLow,
		},
		{
			name: "negative distance",
			doc:  "shape: {max_distance: -1}",
			err:  ErrShapeThresholdNotPositive,
		},
		{
			name: "coverage above one",
			doc:  "shape: {min_coverage: 1.5}",
			err:  ErrShapeFractionOutOfRange,
		},
		{
			name: "inverted size window",
			doc:  "shape: {min_size_ratio: 2, max_size_ratio: 1}",
			err:  ErrShapeSizeRatioInverted,
		},
		{
			name: "zero bot threshold",
			doc:  "bot: {threshold: 0}",
			err:  ErrBotThresholdNotPositive,
		},
		{
			name: "bad duration",
			doc:  "bot: {too_fast: {min_duration: taco}}",
			err:  ErrDurationDoesNotParse,
		},
		{
			name: "negative weight",
			doc:  "bot: {too_smooth: {weight: -1}}",
			err:  ErrNegativeWeight,
		},
		{
			name: "rule without name",
			doc:  "bot: {rules: [{expression: has_timing, weight: 1}]}",
			err:  ErrRuleMustHaveName,
		},
		{
			name: "rule with reserved name",
			doc:  "bot: {rules: [{name: too_fast, expression: has_timing, weight: 1}]}",
			err:  ErrRuleNameReserved,
		},
		{
			name: "rule with bad name",
			doc:  "bot: {rules: [{name: Bad-Name, expression: has_timing, weight: 1}]}",
			err:  ErrRuleInvalidName,
		},
		{
			name: "duplicate rules",
			doc:  "bot: {rules: [{name: a, expression: has_timing, weight: 1}, {name: a, expression: has_timing, weight: 1}]}",
			err:  ErrRuleNameDuplicate,
		},
		{
			name: "rule without expression",
			doc:  "bot: {rules: [{name: a, weight: 1}]}",
			err:  ErrRuleMustHaveExpression,
		},
		{
			name: "bad ttl",
			doc:  "challenge: {ttl: forever}",
			err:  ErrChallengeTTLDoesNotParse,
		},
		{
			name: "zero ttl",
			doc:  "challenge: {ttl: 0s}",
			err:  ErrChallengeTTLNotPositive,
		},
		{
			name: "rotation too wide",
			doc:  "challenge: {max_rotation: 270}",
			err:  ErrChallengeRotationRange,
		},
		{
			name: "zero scale",
			doc:  "challenge: {min_scale: 0}",
			err:  ErrChallengeScaleRange,
		},
		{
			name: "empty shape name",
			doc:  `challenge: {shapes: [""]}`,
			err:  ErrChallengeEmptyShapeName,
		},
		{
			name: "unknown store",
			doc:  "store: {backend: taco-salad}",
			err:  ErrUnknownStoreBackend,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc), tt.name+".yaml")
			if !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("invalid error returned")
			}
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(strings.NewReader("shape: [1, 2"), "broken.yaml"); err == nil {
		t.Error("malformed YAML was accepted")
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	orig := Default()
	orig.Bot.Rules = []BotRule{
		{
			Name:       "slow_start",
			Expression: &ExpressionOrList{Any: []string{"duration_ms > 20000.0", "points < 20"}},
			Weight:     0.5,
		},
	}

	data, err := orig.YAML()
	if err != nil {
		t.Fatalf("can't render policy: %v", err)
	}

	got, err := Load(bytes.NewReader(data), "dumped.yaml")
	if err != nil {
		t.Logf("%s", data)
		t.Fatalf("can't load rendered policy: %v", err)
	}

	if !reflect.DeepEqual(got, orig) {
		t.Logf("%s", data)
		t.Errorf("round trip changed the policy:\nwant: %+v\ngot:  %+v", orig, got)
	}
}

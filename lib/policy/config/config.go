// Package config defines the on-disk policy format of the trace verifier:
// geometric thresholds, bot scoring weights, challenge issuance and the
// challenge store.
package config

import (
	"errors"
	"fmt"
	"io"

	"github.com/TecharoHQ/tracecaptcha"
	"k8s.io/apimachinery/pkg/util/yaml"
	sigsyaml "sigs.k8s.io/yaml"
)

var (
	ErrResamplePointsTooLow = errors.New("config: resample_points must be at least 8")
	ErrMinPointsTooLow      = errors.New("config: min_points must be at least 2")
)

// Default values for every policy knob. data/policy.yaml documents the same
// numbers.
var (
	DefaultShape = Shape{
		MaxDistance:         0.25,
		MaxDeviation:        0.6,
		MaxAverageDeviation: 0.15,
		OutlierDistance:     0.2,
		MaxOutlierFraction:  0.15,
		CoverageDistance:    0.3,
		MinCoverage:         0.8,
		MinSizeRatio:        0.25,
		MaxSizeRatio:        4.0,
	}

	DefaultBot = Bot{
		Threshold:     tracecaptcha.DefaultBotThreshold,
		TooFast:       TooFast{MinDuration: tracecaptcha.DefaultMinDuration, Weight: 2.0},
		ConstantSpeed: ConstantSpeed{MaxVariation: 0.1, Weight: 1.0},
		TooSmooth:     TooSmooth{MinJitter: 0.002, Weight: 1.0},
		TooStraight:   TooStraight{MinAngleVariance: 0.05, Weight: 1.0},
		ExactMatch:    ExactMatch{MaxDistance: 0.005, Weight: 1.5},
		MissingTiming: MissingTiming{Weight: 0.5},
	}

	DefaultChallenge = Challenge{
		TimeToLive:  tracecaptcha.DefaultChallengeTTL,
		MaxRotation: 180,
		MinScale:    0.8,
		MaxScale:    1.2,
	}

	DefaultStore = Store{
		Backend: "memory",
	}
)

type fileConfig struct {
	ResamplePoints int                 `json:"resample_points"`
	MinPoints      int                 `json:"min_points"`
	Shape          Shape               `json:"shape"`
	Bot            botFileConfig       `json:"bot"`
	Challenge      challengeFileConfig `json:"challenge"`
	Store          *Store              `json:"store"`
}

func (c *fileConfig) Valid() error {
	var errs []error

	if c.ResamplePoints < 8 {
		errs = append(errs, fmt.Errorf("%w, got: %d", ErrResamplePointsTooLow, c.ResamplePoints))
	}

	if c.MinPoints < 2 {
		errs = append(errs, fmt.Errorf("%w, got: %d", ErrMinPointsTooLow, c.MinPoints))
	}

	if err := c.Shape.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Bot.Valid(); err != nil {
		errs = append(errs, err)
	}

	if err := c.Challenge.Valid(); err != nil {
		errs = append(errs, err)
	}

	if c.Store != nil {
		if err := c.Store.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Default returns the built-in policy.
func Default() *Config {
	store := DefaultStore

	return &Config{
		ResamplePoints: tracecaptcha.DefaultResamplePoints,
		MinPoints:      tracecaptcha.DefaultMinPoints,
		Shape:          DefaultShape,
		Bot:            DefaultBot,
		Challenge:      DefaultChallenge,
		Store:          &store,
	}
}

// Load parses a YAML (or JSON) policy document. Fields the document leaves
// out keep their default values, so an empty document yields Default().
func Load(fin io.Reader, fname string) (*Config, error) {
	c := *Default().fileConfig()

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("can't parse policy config YAML %s: %w", fname, err)
	}

	if err := c.Valid(); err != nil {
		return nil, fmt.Errorf("errors validating policy config %s: %w", fname, err)
	}

	result := &Config{
		ResamplePoints: c.ResamplePoints,
		MinPoints:      c.MinPoints,
		Shape:          c.Shape,
		Bot:            c.Bot.parse(),
		Challenge:      c.Challenge.parse(),
		Store:          c.Store,
	}

	if result.Store == nil {
		store := DefaultStore
		result.Store = &store
	}

	return result, nil
}

// Config is a validated policy.
type Config struct {
	// ResamplePoints is how many points strokes and templates are resampled
	// to before alignment.
	ResamplePoints int
	// MinPoints is the smallest raw stroke accepted.
	MinPoints int
	Shape     Shape
	Bot       Bot
	Challenge Challenge
	Store     *Store
}

func (c *Config) fileConfig() *fileConfig {
	return &fileConfig{
		ResamplePoints: c.ResamplePoints,
		MinPoints:      c.MinPoints,
		Shape:          c.Shape,
		Bot:            c.Bot.fileConfig(),
		Challenge:      c.Challenge.fileConfig(),
		Store:          c.Store,
	}
}

func (c *Config) Valid() error {
	return c.fileConfig().Valid()
}

// YAML renders the policy in the same format Load reads.
func (c *Config) YAML() ([]byte, error) {
	return sigsyaml.Marshal(c.fileConfig())
}

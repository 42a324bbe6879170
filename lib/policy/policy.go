// Package policy turns a validated config.Config into the thresholds and
// compiled rules the verifier runs against.
package policy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signalsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_bot_signals",
		Help: "The number of times each bot signal was raised",
	}, []string{"signal"})

	shapeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracecaptcha_shape_failures",
		Help: "The number of times each shape threshold rejected a stroke",
	}, []string{"check"})

	ErrMisconfiguration = errors.New("[unexpected] policy: administrator misconfiguration")
)

// ParsedConfig is a policy ready for use.
type ParsedConfig struct {
	orig *config.Config

	ResamplePoints int
	MinPoints      int
	Shape          config.Shape
	Bot            config.Bot
	Challenge      config.Challenge
	Store          *config.Store

	Rules []*BotRule
}

// NewParsedConfig copies the plain settings out of orig. Custom rules are
// compiled by ParseConfig.
func NewParsedConfig(orig *config.Config) *ParsedConfig {
	return &ParsedConfig{
		orig:           orig,
		ResamplePoints: orig.ResamplePoints,
		MinPoints:      orig.MinPoints,
		Shape:          orig.Shape,
		Bot:            orig.Bot,
		Challenge:      orig.Challenge,
		Store:          orig.Store,
	}
}

// Config returns the configuration the policy was parsed from.
func (pc *ParsedConfig) Config() *config.Config {
	return pc.orig
}

// Default returns the built-in policy.
func Default() *ParsedConfig {
	// The default policy has no custom rules, so parsing cannot fail.
	result, err := FromConfig(config.Default())
	if err != nil {
		panic(fmt.Sprintf("%v: default policy does not parse: %v", ErrMisconfiguration, err))
	}

	return result
}

// ParseConfig loads, validates and compiles a policy document.
func ParseConfig(ctx context.Context, fin io.Reader, fname string) (*ParsedConfig, error) {
	c, err := config.Load(fin, fname)
	if err != nil {
		return nil, err
	}

	result, err := FromConfig(c)
	if err != nil {
		return nil, fmt.Errorf("errors validating policy config %s: %w", fname, err)
	}

	return result, nil
}

// FromConfig compiles the custom rules of c.
func FromConfig(c *config.Config) (*ParsedConfig, error) {
	result := NewParsedConfig(c)

	var validationErrs []error

	for _, r := range c.Bot.Rules {
		if err := r.Valid(); err != nil {
			validationErrs = append(validationErrs, err)
			continue
		}

		rule, err := NewBotRule(r)
		if err != nil {
			validationErrs = append(validationErrs, fmt.Errorf("while processing rule %s expression: %w", r.Name, err))
			continue
		}

		result.Rules = append(result.Rules, rule)
	}

	if len(validationErrs) > 0 {
		return nil, errors.Join(validationErrs...)
	}

	return result, nil
}

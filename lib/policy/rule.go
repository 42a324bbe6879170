package policy

import (
	"context"
	"fmt"

	"github.com/TecharoHQ/tracecaptcha/lib/policy/config"
	"github.com/TecharoHQ/tracecaptcha/lib/policy/expressions"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// BotRule is a compiled custom bot signal.
type BotRule struct {
	Name    string
	Weight  float64
	src     string
	program cel.Program
}

// NewBotRule compiles the expression of cfg against the bot environment.
func NewBotRule(cfg config.BotRule) (*BotRule, error) {
	env, err := expressions.BotEnvironment()
	if err != nil {
		return nil, err
	}

	var ast *cel.Ast

	switch {
	case len(cfg.Expression.All) != 0:
		ast, err = expressions.Join(env, expressions.JoinAnd, cfg.Expression.All...)
	case len(cfg.Expression.Any) != 0:
		ast, err = expressions.Join(env, expressions.JoinOr, cfg.Expression.Any...)
	default:
		var iss *cel.Issues
		ast, iss = env.Compile(cfg.Expression.Expression)
		if iss != nil && iss.Err() != nil {
			err = iss.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: rule %s must evaluate to a bool, not %s", ErrMisconfiguration, cfg.Name, ast.OutputType())
	}

	program, err := expressions.Compile(env, ast)
	if err != nil {
		return nil, fmt.Errorf("can't compile CEL program: %w", err)
	}

	return &BotRule{
		Name:    cfg.Name,
		Weight:  cfg.Weight,
		src:     cfg.Expression.String(),
		program: program,
	}, nil
}

// String returns the source expression of the rule.
func (br *BotRule) String() string {
	return br.src
}

// Check evaluates the rule against the given variables.
func (br *BotRule) Check(ctx context.Context, vars *RuleInput) (bool, error) {
	result, _, err := br.program.ContextEval(ctx, vars)
	if err != nil {
		return false, err
	}

	if val, ok := result.(types.Bool); ok {
		return bool(val), nil
	}

	return false, nil
}

// RuleInput exposes the motion statistics of a stroke to CEL.
type RuleInput struct {
	DurationMS     float64
	MeanSpeed      float64
	SpeedStdDev    float64
	SpeedVariation float64
	AngleVariance  float64
	MeanJitter     float64
	ShapeDistance  float64
	HasTiming      bool
	Points         int
	Signals        map[string]string
}

func (ri *RuleInput) Parent() cel.Activation { return nil }

func (ri *RuleInput) ResolveName(name string) (any, bool) {
	switch name {
	case expressions.VarDurationMS:
		return ri.DurationMS, true
	case expressions.VarMeanSpeed:
		return ri.MeanSpeed, true
	case expressions.VarSpeedStdDev:
		return ri.SpeedStdDev, true
	case expressions.VarSpeedVariation:
		return ri.SpeedVariation, true
	case expressions.VarAngleVariance:
		return ri.AngleVariance, true
	case expressions.VarMeanJitter:
		return ri.MeanJitter, true
	case expressions.VarShapeDistance:
		return ri.ShapeDistance, true
	case expressions.VarHasTiming:
		return ri.HasTiming, true
	case expressions.VarPoints:
		return ri.Points, true
	case expressions.VarSignals:
		return ri.Signals, true
	default:
		return nil, false
	}
}

// Package expressions builds the CEL environment custom bot rules are
// evaluated in.
package expressions

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// Names of the variables exposed to bot rule expressions.
const (
	VarDurationMS     = "duration_ms"
	VarMeanSpeed      = "mean_speed"
	VarSpeedStdDev    = "speed_stddev"
	VarSpeedVariation = "speed_variation"
	VarAngleVariance  = "angle_variance"
	VarMeanJitter     = "mean_jitter"
	VarShapeDistance  = "shape_distance"
	VarHasTiming      = "has_timing"
	VarPoints         = "points"
	VarSignals        = "signals"
)

// BotEnvironment creates the CEL environment for custom bot rules. Every
// variable a rule may reference is declared up front so that a typo in a
// policy file fails loudly at load time instead of at evaluation time.
//
// Timing variables are zero when the stroke carried no timestamps; rules
// that care should guard on has_timing.
func BotEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Math(),
		ext.Strings(
			ext.StringsLocale("en_US"),
			ext.StringsValidateFormatCalls(true),
		),

		// Variables exposed to CEL programs:
		cel.Variable(VarDurationMS, cel.DoubleType),
		cel.Variable(VarMeanSpeed, cel.DoubleType),
		cel.Variable(VarSpeedStdDev, cel.DoubleType),
		cel.Variable(VarSpeedVariation, cel.DoubleType),
		cel.Variable(VarAngleVariance, cel.DoubleType),
		cel.Variable(VarMeanJitter, cel.DoubleType),
		cel.Variable(VarShapeDistance, cel.DoubleType),
		cel.Variable(VarHasTiming, cel.BoolType),
		cel.Variable(VarPoints, cel.IntType),

		// built-in signals raised so far, name to detail
		cel.Variable(VarSignals, cel.MapType(cel.StringType, cel.StringType)),
	)
}

// Compile takes CEL environment and syntax tree then emits an optimized
// Program for execution.
func Compile(env *cel.Env, ast *cel.Ast) (cel.Program, error) {
	return env.Program(
		ast,
		cel.EvalOptions(
			cel.OptOptimize,
		),
	)
}

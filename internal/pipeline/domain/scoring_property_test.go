package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: 0 <= Score(x) <= 100 for every input.
func TestScoreIsAlwaysWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	stages := AllStages()
	properties.Property("score stays in [0,100]", prop.ForAll(
		func(stageIdx int, value float64, interactions int, idle int) bool {
			score := Score(ScoreInput{
				Stage:            stages[stageIdx],
				EstimatedValue:   value,
				InteractionCount: interactions,
				DaysInactive:     idle,
			})
			return score >= 0 && score <= 100
		},
		gen.IntRange(0, len(stages)-1),
		gen.Float64Range(-1e9, 1e9),
		gen.IntRange(0, 10000),
		gen.IntRange(0, 100000),
	))

	properties.TestingRun(t)
}

// Property: a move is legal exactly when the target is listed by AllowedTargets.
func TestValidateTransitionAgreesWithGraph(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	stages := AllStages()
	properties.Property("validation accepts only adjacent targets", prop.ForAll(
		func(fromIdx, toIdx int) bool {
			from, to := stages[fromIdx], stages[toIdx]
			lead := Lead{CurrentStage: from}
			reason := ValidateTransition(lead, to, completeFields())
			return (reason == "") == CanTransition(from, to)
		},
		gen.IntRange(0, len(stages)-1),
		gen.IntRange(0, len(stages)-1),
	))

	properties.TestingRun(t)
}

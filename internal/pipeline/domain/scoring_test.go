package domain

import (
	"testing"
	"time"
)

func TestScoreNegotiationScenario(t *testing.T) {
	got := Score(ScoreInput{
		Stage:            StageNegotiation,
		EstimatedValue:   100000,
		InteractionCount: 5,
		DaysInactive:     50,
	})
	if got != 75 {
		t.Fatalf("expected score 75, got %d", got)
	}
}

func TestScoreBonusesAndPenaltyAreCapped(t *testing.T) {
	tests := []struct {
		name string
		in   ScoreInput
		want int
	}{
		{"fresh prospect", ScoreInput{Stage: StageProspecting}, 10},
		{"value bonus capped at 15", ScoreInput{Stage: StageSample, EstimatedValue: 1_000_000}, 40},
		{"interaction bonus capped at 15", ScoreInput{Stage: StageQualified, InteractionCount: 40}, 65},
		{"post sale saturates at 100", ScoreInput{Stage: StagePostSale, EstimatedValue: 500000, InteractionCount: 10}, 100},
		{"lost floors at 0", ScoreInput{Stage: StageLost, DaysInactive: 365}, 0},
		{"half-day penalty rounds", ScoreInput{Stage: StageSample, DaysInactive: 3}, 24},
		{"unknown stage has no base", ScoreInput{Stage: "archived"}, 0},
	}

	for _, tc := range tests {
		if got := Score(tc.in); got != tc.want {
			t.Errorf("%s: Score(%+v) = %d, want %d", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestLeadScoreUsesDerivedInactivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -10)
	value := 50000.0
	lead := Lead{
		CurrentStage:      StageQualified,
		EstimatedValue:    &value,
		InteractionCount:  2,
		LastInteractionAt: &last,
		CreatedAt:         now.AddDate(0, -2, 0),
	}

	// 50 + 5 + 6 - 5
	if got := LeadScore(lead, now); got != 56 {
		t.Fatalf("expected 56, got %d", got)
	}
}

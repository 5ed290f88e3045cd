package domain

import (
	"math"
	"time"
)

const (
	maxValueBonus       = 15.0
	valueBonusDivisor   = 10000.0
	pointsPerTouch      = 3.0
	maxInteractionBonus = 15.0
	penaltyPerIdleDay   = 0.5
	maxInactivityMalus  = 20.0
)

var stageBaseScore = map[Stage]float64{
	StageProspecting: 10,
	StageSample:      25,
	StageQualified:   50,
	StageNegotiation: 70,
	StagePostSale:    90,
	StageLost:        5,
}

// ScoreInput carries the fields the score is derived from.
type ScoreInput struct {
	Stage            Stage
	EstimatedValue   float64
	InteractionCount int
	DaysInactive     int
}

// Score computes the lead score. Always within [0, 100].
func Score(in ScoreInput) int {
	base := stageBaseScore[in.Stage]
	valueBonus := math.Min(in.EstimatedValue/valueBonusDivisor, maxValueBonus)
	touchBonus := math.Min(float64(in.InteractionCount)*pointsPerTouch, maxInteractionBonus)
	idlePenalty := math.Min(float64(in.DaysInactive)*penaltyPerIdleDay, maxInactivityMalus)

	raw := math.Round(base + valueBonus + touchBonus - idlePenalty)
	if math.IsNaN(raw) || raw < 0 {
		return 0
	}
	if raw > 100 {
		return 100
	}
	return int(raw)
}

// LeadScore scores a lead as of now.
func LeadScore(l Lead, now time.Time) int {
	return Score(ScoreInput{
		Stage:            l.CurrentStage,
		EstimatedValue:   l.ValueOrZero(),
		InteractionCount: l.InteractionCount,
		DaysInactive:     l.DaysInactive(now),
	})
}

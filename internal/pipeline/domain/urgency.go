package domain

import (
	"math"
	"time"
)

// Urgency describes how close a lead is to breaching its stage deadline.
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyWarning  Urgency = "warning"
	UrgencyCritical Urgency = "critical"
)

const (
	warningDeadlineRatio = 0.83
	idleWarningDays      = 14
)

// WarningThreshold returns the day count at which a stage with deadline d turns to warning.
func WarningThreshold(deadlineDays int) int {
	return int(math.Round(float64(deadlineDays) * warningDeadlineRatio))
}

// ClassifyUrgency derives the urgency of a lead in stage entered at enteredAt.
// Stages without a deadline fall back to inactivity.
func ClassifyUrgency(stage Stage, enteredAt time.Time, daysInactive int, now time.Time) Urgency {
	deadline, ok := StageDeadline(stage)
	if !ok {
		if daysInactive > idleWarningDays {
			return UrgencyWarning
		}
		return UrgencyNormal
	}

	elapsed := DaysBetween(enteredAt, now)
	switch {
	case elapsed >= deadline:
		return UrgencyCritical
	case elapsed >= WarningThreshold(deadline):
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// LeadUrgency classifies a lead as of now.
func LeadUrgency(l Lead, now time.Time) Urgency {
	return ClassifyUrgency(l.CurrentStage, l.StageEnteredAt, l.DaysInactive(now), now)
}

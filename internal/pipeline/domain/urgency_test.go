package domain

import (
	"testing"
	"time"
)

func TestClassifyUrgency(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	daysAgo := func(d int) time.Time { return now.AddDate(0, 0, -d) }

	tests := []struct {
		name  string
		stage Stage
		in    int
		idle  int
		want  Urgency
	}{
		{"negotiation 38 days is warning", StageNegotiation, 38, 0, UrgencyWarning},
		{"negotiation 36 days is normal", StageNegotiation, 36, 0, UrgencyNormal},
		{"negotiation 37 days hits warning threshold", StageNegotiation, 37, 0, UrgencyWarning},
		{"negotiation at deadline is critical", StageNegotiation, 45, 0, UrgencyCritical},
		{"sample 25 days is warning", StageSample, 25, 0, UrgencyWarning},
		{"sample 24 days is normal", StageSample, 24, 0, UrgencyNormal},
		{"sample 31 days is critical", StageSample, 31, 0, UrgencyCritical},
		{"qualified 62 days is warning", StageQualified, 62, 0, UrgencyWarning},
		{"prospecting idle 15 days is warning", StageProspecting, 100, 15, UrgencyWarning},
		{"prospecting idle 14 days is normal", StageProspecting, 100, 14, UrgencyNormal},
		{"post sale never goes critical", StagePostSale, 400, 0, UrgencyNormal},
		{"lost idle falls back to inactivity", StageLost, 10, 30, UrgencyWarning},
	}

	for _, tc := range tests {
		got := ClassifyUrgency(tc.stage, daysAgo(tc.in), tc.idle, now)
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestWarningThreshold(t *testing.T) {
	for deadline, want := range map[int]int{30: 25, 45: 37, 75: 62} {
		if got := WarningThreshold(deadline); got != want {
			t.Errorf("WarningThreshold(%d) = %d, want %d", deadline, got, want)
		}
	}
}

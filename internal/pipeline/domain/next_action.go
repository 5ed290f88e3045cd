package domain

import "time"

// ActionSeverity tags a suggested action.
type ActionSeverity string

const (
	SeverityInfo     ActionSeverity = "info"
	SeverityWarning  ActionSeverity = "warning"
	SeverityCritical ActionSeverity = "critical"
)

// NextAction is a human-readable suggestion for the lead owner.
type NextAction struct {
	Action   string         `json:"action"`
	Severity ActionSeverity `json:"severity"`
}

// escalation is one row of a per-stage threshold table; rows are checked from the last one down.
type escalation struct {
	minDays  int
	action   string
	severity ActionSeverity
}

var (
	sampleEscalations = []escalation{
		{0, "Wait for sample evaluation", SeverityInfo},
		{15, "Follow up on sample", SeverityWarning},
		{25, "Urgent: collect sample feedback", SeverityCritical},
	}
	qualifiedEscalations = []escalation{
		{0, "Prepare proposal", SeverityInfo},
		{30, "Follow up on proposal", SeverityWarning},
		{60, "Urgent: push for a decision", SeverityCritical},
	}
	negotiationEscalations = []escalation{
		{0, "Await counterpart response", SeverityInfo},
		{14, "Follow up negotiation", SeverityWarning},
		{35, "Urgent: close or mark as lost", SeverityCritical},
	}
)

const winBackAfterDays = 60

// AdviseNextAction returns the suggested next step for a lead, or false when there is none.
func AdviseNextAction(l Lead, now time.Time) (NextAction, bool) {
	elapsed := l.DaysInStage(now)

	switch l.CurrentStage {
	case StageProspecting:
		idle := l.DaysInactive(now)
		switch {
		case idle > 7:
			return NextAction{"Call now", SeverityCritical}, true
		case idle > 3:
			return NextAction{"Send a message", SeverityWarning}, true
		default:
			return NextAction{"Send introduction", SeverityInfo}, true
		}
	case StageSample:
		if l.SampleFeedbackAt != nil {
			return NextAction{"Review feedback and qualify", SeverityInfo}, true
		}
		return escalate(sampleEscalations, elapsed), true
	case StageQualified:
		return escalate(qualifiedEscalations, elapsed), true
	case StageNegotiation:
		return escalate(negotiationEscalations, elapsed), true
	case StagePostSale:
		switch {
		case l.DeliveryStatus != DeliveryDelivered:
			return NextAction{"Confirm delivery", SeverityWarning}, true
		case l.BilledAt == nil:
			return NextAction{"Issue invoice", SeverityWarning}, true
		case l.RepurchaseSuggestedAt == nil:
			return NextAction{"Suggest repurchase", SeverityInfo}, true
		}
		return NextAction{}, false
	case StageLost:
		if elapsed >= winBackAfterDays {
			return NextAction{"Ready for win-back", SeverityInfo}, true
		}
		return NextAction{}, false
	}
	return NextAction{}, false
}

func escalate(table []escalation, days int) NextAction {
	for i := len(table) - 1; i >= 0; i-- {
		if days >= table[i].minDays {
			return NextAction{Action: table[i].action, Severity: table[i].severity}
		}
	}
	return NextAction{Action: table[0].action, Severity: table[0].severity}
}

package notification

import (
	"time"

	"github.com/google/uuid"
)

// Severity of a notification candidate.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Kind identifies which source produced a candidate.
type Kind string

const (
	KindStageDeadline    Kind = "stage_deadline"
	KindQuotaRisk        Kind = "quota_risk"
	KindInactiveLead     Kind = "inactive_lead"
	KindTransitionFailed Kind = "transition_failed"
)

// Candidate is an ephemeral alert shown to the sales team.
type Candidate struct {
	ID          int        `json:"id"`
	Severity    Severity   `json:"severity"`
	Kind        Kind       `json:"kind"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	LeadID      *uuid.UUID `json:"leadId,omitempty"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

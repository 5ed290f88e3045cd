package domain

import (
	"fmt"
	"time"

	"crm_pipeline_backend/platform/sanitize"
)

// TransitionFields are the caller-supplied values that accompany a move.
type TransitionFields struct {
	LossCategory    LossCategory `json:"lossCategory,omitempty" validate:"omitempty,loss_category"`
	LossReason      string       `json:"lossReason,omitempty" validate:"max=500"`
	SampleShippedAt *time.Time   `json:"sampleShippedAt,omitempty"`
	ProposalValue   *float64     `json:"proposalValue,omitempty" validate:"omitempty,gte=0"`
	DeliveryStatus  string       `json:"deliveryStatus,omitempty" validate:"omitempty,oneof=pending shipped delivered"`
	Note            string       `json:"note,omitempty" validate:"max=1000"`
}

// ValidateTransition checks a move of lead to target. Returns a non-empty
// reason when the move must be rejected.
func ValidateTransition(l Lead, target Stage, fields TransitionFields) string {
	if !target.IsKnown() {
		return fmt.Sprintf("unknown target stage %q", target)
	}
	if !CanTransition(l.CurrentStage, target) {
		return fmt.Sprintf("cannot move from %s to %s; allowed: %s",
			l.CurrentStage, target, JoinStages(AllowedTargets(l.CurrentStage)))
	}

	switch target {
	case StageLost:
		if sanitize.Text(fields.LossReason) == "" {
			return "a loss reason is required to mark a lead as lost"
		}
		if !IsKnownLossCategory(fields.LossCategory) {
			return fmt.Sprintf("loss category %q is not one of price, deadline, quality, competition, no_response, other", fields.LossCategory)
		}
	case StageSample:
		if fields.SampleShippedAt == nil || fields.SampleShippedAt.IsZero() {
			return "a sample ship date is required to move into sample"
		}
	case StageNegotiation:
		if fields.ProposalValue == nil && l.EstimatedValue == nil {
			return "a proposal value is required to move into negotiation"
		}
	}
	return ""
}

// ApplyTransition returns a copy of l moved to target as of now. It assumes
// ValidateTransition passed.
func ApplyTransition(l Lead, target Stage, fields TransitionFields, now time.Time) Lead {
	next := l.Clone()
	from := l.CurrentStage

	next.PreviousStage = from
	next.CurrentStage = target
	next.StageEnteredAt = now
	next.StageHistory = append(next.StageHistory, StageHistoryEntry{
		Stage:     target,
		EnteredAt: now,
		MovedFrom: from,
	})

	switch target {
	case StageLost:
		next.LossCategory = fields.LossCategory
		next.LossReason = sanitize.Text(fields.LossReason)
		lostAt := now
		next.LostAt = &lostAt
	case StageProspecting:
		if from == StageLost {
			next.LossCategory = ""
			next.LossReason = ""
			next.LostAt = nil
		}
	case StageSample:
		shipped := *fields.SampleShippedAt
		next.SampleShippedAt = &shipped
		next.SampleFeedbackAt = nil
	case StageNegotiation:
		// Omitted proposal value defaults to the estimate.
		if fields.ProposalValue != nil {
			next.ProposalValue = clonePtr(fields.ProposalValue)
		} else {
			next.ProposalValue = clonePtr(l.EstimatedValue)
		}
	case StagePostSale:
		next.DeliveryStatus = DeliveryPending
		next.BilledAt = nil
		next.RepurchaseSuggestedAt = nil
	}

	if fields.DeliveryStatus != "" && target == StagePostSale {
		next.DeliveryStatus = fields.DeliveryStatus
	}

	next.Score = LeadScore(next, now)
	return next
}

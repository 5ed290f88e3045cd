package domain

import (
	"time"

	"github.com/google/uuid"
)

// LossCategory classifies why a lead was lost.
type LossCategory string

const (
	LossPrice       LossCategory = "price"
	LossDeadline    LossCategory = "deadline"
	LossQuality     LossCategory = "quality"
	LossCompetition LossCategory = "competition"
	LossNoResponse  LossCategory = "no_response"
	LossOther       LossCategory = "other"
)

var knownLossCategories = map[LossCategory]struct{}{
	LossPrice:       {},
	LossDeadline:    {},
	LossQuality:     {},
	LossCompetition: {},
	LossNoResponse:  {},
	LossOther:       {},
}

// IsKnownLossCategory reports whether c is one of the accepted loss categories.
func IsKnownLossCategory(c LossCategory) bool {
	_, ok := knownLossCategories[c]
	return ok
}

// Delivery statuses tracked while a lead is in post-sale.
const (
	DeliveryPending   = "pending"
	DeliveryShipped   = "shipped"
	DeliveryDelivered = "delivered"
)

// StageHistoryEntry records one entry into a stage.
type StageHistoryEntry struct {
	Stage     Stage     `json:"stage"`
	EnteredAt time.Time `json:"enteredAt"`
	MovedFrom Stage     `json:"movedFrom,omitempty"`
}

// Lead is a prospective or active account tracked through the pipeline.
type Lead struct {
	ID      uuid.UUID
	Name    string
	Email   string
	OwnerID *uuid.UUID

	CurrentStage   Stage
	StageEnteredAt time.Time
	PreviousStage  Stage
	StageHistory   []StageHistoryEntry

	EstimatedValue    *float64
	Score             int
	InteractionCount  int
	LastInteractionAt *time.Time
	CreatedAt         time.Time

	LossCategory LossCategory
	LossReason   string
	LostAt       *time.Time

	SampleShippedAt       *time.Time
	SampleFeedbackAt      *time.Time
	ProposalValue         *float64
	DeliveryStatus        string
	BilledAt              *time.Time
	RepurchaseSuggestedAt *time.Time
}

// NewLead creates a lead in the prospecting stage.
func NewLead(name string, now time.Time) Lead {
	return Lead{
		ID:             uuid.New(),
		Name:           name,
		CurrentStage:   StageProspecting,
		StageEnteredAt: now,
		CreatedAt:      now,
	}
}

// DisplayName returns the name used in human-readable messages.
func (l Lead) DisplayName() string {
	if l.Name != "" {
		return l.Name
	}
	return l.ID.String()
}

// Clone returns a deep copy so that snapshots never share memory with the live lead.
func (l Lead) Clone() Lead {
	c := l
	c.OwnerID = clonePtr(l.OwnerID)
	c.EstimatedValue = clonePtr(l.EstimatedValue)
	c.LastInteractionAt = clonePtr(l.LastInteractionAt)
	c.LostAt = clonePtr(l.LostAt)
	c.SampleShippedAt = clonePtr(l.SampleShippedAt)
	c.SampleFeedbackAt = clonePtr(l.SampleFeedbackAt)
	c.ProposalValue = clonePtr(l.ProposalValue)
	c.BilledAt = clonePtr(l.BilledAt)
	c.RepurchaseSuggestedAt = clonePtr(l.RepurchaseSuggestedAt)
	if l.StageHistory != nil {
		c.StageHistory = make([]StageHistoryEntry, len(l.StageHistory))
		copy(c.StageHistory, l.StageHistory)
	}
	return c
}

// DaysInactive is the number of whole days since the last interaction,
// falling back to the creation date. Never negative.
func (l Lead) DaysInactive(now time.Time) int {
	ref := l.CreatedAt
	if l.LastInteractionAt != nil {
		ref = *l.LastInteractionAt
	}
	return DaysBetween(ref, now)
}

// DaysInStage is the number of whole days since the lead entered its current stage.
func (l Lead) DaysInStage(now time.Time) int {
	return DaysBetween(l.StageEnteredAt, now)
}

// ValueOrZero returns the estimated value, or zero when it is unknown.
func (l Lead) ValueOrZero() float64 {
	if l.EstimatedValue == nil {
		return 0
	}
	return *l.EstimatedValue
}

// DaysBetween returns whole elapsed days from from to to, clamped at zero.
func DaysBetween(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}

// Task is a follow-up created as a side effect of a transition.
type Task struct {
	ID        uuid.UUID
	LeadID    *uuid.UUID
	Title     string
	Type      string
	Priority  string
	DueAt     time.Time
	CreatedAt time.Time
}

// Activity is an append-only audit entry on a lead.
type Activity struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// SalesRep owns leads and carries a monthly pipeline target.
type SalesRep struct {
	ID            uuid.UUID
	Name          string
	MonthlyTarget float64
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package repository

import (
	"context"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access used for loading and authoritative reloads.
type LeadReader interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	ListLeads(ctx context.Context) ([]domain.Lead, error)
	ListSalesReps(ctx context.Context) ([]domain.SalesRep, error)
}

// LeadWriter persists stage state. Writes are conditional on the lead still
// being in LeadUpdate.ExpectedStage and fail with ErrStaleLead otherwise.
type LeadWriter interface {
	UpdateLead(ctx context.Context, id uuid.UUID, update LeadUpdate) error
	AppendStageHistory(ctx context.Context, id uuid.UUID, entry domain.StageHistoryEntry) error
	// CommitTransition applies the row update and the history entry atomically.
	CommitTransition(ctx context.Context, id uuid.UUID, update LeadUpdate, entry domain.StageHistoryEntry) error
}

// TaskWriter stores follow-up tasks.
type TaskWriter interface {
	InsertTask(ctx context.Context, task domain.Task) error
}

// ActivityLogger records the audit trail on leads.
type ActivityLogger interface {
	InsertActivity(ctx context.Context, activity domain.Activity) error
}

// Store composes everything the pipeline engine needs from persistence.
type Store interface {
	LeadReader
	LeadWriter
	TaskWriter
	ActivityLogger
}

// LeadUpdate is the mutable slice of a lead written on transitions and score refreshes.
type LeadUpdate struct {
	// ExpectedStage is the stage the stored row must still be in.
	ExpectedStage domain.Stage

	CurrentStage          domain.Stage
	PreviousStage         domain.Stage
	StageEnteredAt        time.Time
	Score                 int
	LossCategory          domain.LossCategory
	LossReason            string
	LostAt                *time.Time
	SampleShippedAt       *time.Time
	SampleFeedbackAt      *time.Time
	ProposalValue         *float64
	DeliveryStatus        string
	BilledAt              *time.Time
	RepurchaseSuggestedAt *time.Time
}

// LeadUpdateFrom extracts the persisted stage fields of l.
func LeadUpdateFrom(l domain.Lead) LeadUpdate {
	return LeadUpdate{
		ExpectedStage:         l.CurrentStage,
		CurrentStage:          l.CurrentStage,
		PreviousStage:         l.PreviousStage,
		StageEnteredAt:        l.StageEnteredAt,
		Score:                 l.Score,
		LossCategory:          l.LossCategory,
		LossReason:            l.LossReason,
		LostAt:                l.LostAt,
		SampleShippedAt:       l.SampleShippedAt,
		SampleFeedbackAt:      l.SampleFeedbackAt,
		ProposalValue:         l.ProposalValue,
		DeliveryStatus:        l.DeliveryStatus,
		BilledAt:              l.BilledAt,
		RepurchaseSuggestedAt: l.RepurchaseSuggestedAt,
	}
}

// Ensure Repository implements all interfaces
var (
	_ LeadReader     = (*Repository)(nil)
	_ LeadWriter     = (*Repository)(nil)
	_ TaskWriter     = (*Repository)(nil)
	_ ActivityLogger = (*Repository)(nil)
	_ Store          = (*Repository)(nil)
)

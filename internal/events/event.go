// Package events defines the payloads the pipeline publishes when a lead
// changes stage, fails to change stage, or is marked lost. The bus itself is
// platform/events; it is aliased here so pipeline packages import one path.
package events

import (
	"crm_pipeline_backend/platform/events"
	"crm_pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent = events.NewBaseEvent
	BaseEventAt  = events.BaseEventAt
)

// NewInMemoryBus is the bus the scheduler and the one-shot sweep share with
// their notification and mail subscribers.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// LeadStageChanged is published after a transition has been persisted.
type LeadStageChanged struct {
	BaseEvent
	LeadID    uuid.UUID  `json:"leadId"`
	OwnerID   *uuid.UUID `json:"ownerId,omitempty"`
	LeadName  string     `json:"leadName"`
	Email     string     `json:"email,omitempty"`
	FromStage string     `json:"fromStage"`
	ToStage   string     `json:"toStage"`
	Automatic bool       `json:"automatic"`
}

func (e LeadStageChanged) EventName() string { return "pipeline.lead.stage_changed" }

// LeadMarkedLost is published alongside LeadStageChanged when the target is lost.
type LeadMarkedLost struct {
	BaseEvent
	LeadID       uuid.UUID `json:"leadId"`
	FromStage    string    `json:"fromStage"`
	LossCategory string    `json:"lossCategory"`
	LossReason   string    `json:"lossReason"`
}

func (e LeadMarkedLost) EventName() string { return "pipeline.lead.marked_lost" }

// LeadTransitionFailed is published once per transition whose persistence failed
// and was rolled back.
type LeadTransitionFailed struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	LeadName  string    `json:"leadName"`
	FromStage string    `json:"fromStage"`
	ToStage   string    `json:"toStage"`
	Reason    string    `json:"reason"`
	Reloaded  bool      `json:"reloaded"`
}

func (e LeadTransitionFailed) EventName() string { return "pipeline.lead.transition_failed" }

// DeadlineSweepCompleted is published after every sweep pass.
type DeadlineSweepCompleted struct {
	BaseEvent
	Checked int `json:"checked"`
	Moved   int `json:"moved"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (e DeadlineSweepCompleted) EventName() string { return "pipeline.sweep.completed" }

// NotificationsGenerated is published when the aggregator produced a fresh list.
type NotificationsGenerated struct {
	BaseEvent
	Count int `json:"count"`
}

func (e NotificationsGenerated) EventName() string { return "pipeline.notifications.generated" }

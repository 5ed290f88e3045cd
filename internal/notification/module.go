// Package notification turns pipeline state into ranked alerts and delivers
// them, together with transition failure notices, to a sink.
package notification

import (
	"context"
	"fmt"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/platform/logger"
)

// Module wires the aggregator and failure notices to the event bus.
type Module struct {
	aggregator *Aggregator
	sink       Sink
	bus        events.Bus
	log        *logger.Logger
	now        func() time.Time
}

func New(source LeadSource, sink Sink, bus events.Bus, log *logger.Logger) *Module {
	return &Module{
		aggregator: NewAggregator(source),
		sink:       sink,
		bus:        bus,
		log:        log.WithComponent("notification"),
		now:        time.Now,
	}
}

// SetClock overrides time.Now.
func (m *Module) SetClock(now func() time.Time) { m.now = now }

func (m *Module) Name() string { return "notification" }

// Aggregator exposes the memoized generator for read-only callers.
func (m *Module) Aggregator() *Aggregator { return m.aggregator }

// RegisterHandlers subscribes to the pipeline events that affect notifications.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadTransitionFailed{}.EventName(), m)
	bus.Subscribe(events.LeadStageChanged{}.EventName(), m)
	bus.Subscribe(events.DeadlineSweepCompleted{}.EventName(), m)
}

// Handle implements events.Handler.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadTransitionFailed:
		return m.handleTransitionFailed(ctx, e)
	case events.LeadStageChanged:
		_, err := m.Refresh(ctx)
		return err
	case events.DeadlineSweepCompleted:
		if e.Moved == 0 {
			return nil
		}
		_, err := m.Refresh(ctx)
		return err
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

// handleTransitionFailed delivers the failure straight away; it is not part of the memoized list.
func (m *Module) handleTransitionFailed(ctx context.Context, e events.LeadTransitionFailed) error {
	leadID := e.LeadID
	msg := fmt.Sprintf("Moving %s from %s to %s could not be saved and was undone.", e.LeadName, e.FromStage, e.ToStage)
	if !e.Reloaded {
		msg += " Reload the lead before trying again."
	}
	return m.sink.Deliver(ctx, []Candidate{{
		ID:          1,
		Severity:    SeverityError,
		Kind:        KindTransitionFailed,
		Title:       "Stage change failed",
		Message:     msg,
		LeadID:      &leadID,
		GeneratedAt: e.OccurredAt(),
	}})
}

// Refresh regenerates the alert list and delivers it when it was rebuilt.
// Returns the number of delivered candidates.
func (m *Module) Refresh(ctx context.Context) (int, error) {
	candidates, fresh, err := m.aggregator.generate(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if !fresh {
		return 0, nil
	}
	if err := m.sink.Deliver(ctx, candidates); err != nil {
		m.log.Error("notification delivery failed", "error", err)
		return 0, err
	}
	m.bus.Publish(ctx, events.NotificationsGenerated{
		BaseEvent: events.BaseEventAt(m.now()),
		Count:     len(candidates),
	})
	return len(candidates), nil
}

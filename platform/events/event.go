// Package events carries pipeline notifications from the transition executor
// to the side-effect consumers (owner e-mail, score refresh, audit logging).
// Payload types live in internal/events.
package events

import (
	"context"
	"time"
)

// Event is anything the executor or sweeper announces after a lead changed.
// EventName doubles as the subscription key.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent stamps a pipeline event with the executor clock's reading at the
// moment the transition committed, or failed, so consumers never see wall time
// that disagrees with the lead's StageEnteredAt.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }

// NewBaseEvent is for publishers without an injected clock.
func NewBaseEvent() BaseEvent {
	return BaseEventAt(time.Now())
}

// BaseEventAt stamps the event with t in UTC.
func BaseEventAt(t time.Time) BaseEvent {
	return BaseEvent{Timestamp: t.UTC()}
}

// Handler reacts to one published event. A returned error is logged against
// the event name; it never undoes the transition that produced the event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans pipeline events out to subscribers keyed by Event.EventName.
//
// Publish is used after a committed transition: handlers run in the
// background and their errors are logged only. PublishSync runs handlers in
// subscription order and joins their errors.
type Bus interface {
	Publish(ctx context.Context, event Event)
	PublishSync(ctx context.Context, event Event) error
	Subscribe(eventName string, handler Handler)
}

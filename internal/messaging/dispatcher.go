package messaging

import (
	"context"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/platform/logger"

	"golang.org/x/time/rate"
)

const maxRateWait = 30 * time.Second

// Dispatcher sends the stage entry message for LeadStageChanged events.
type Dispatcher struct {
	sender   Sender
	limiter  *rate.Limiter
	fromName string
	log      *logger.Logger
}

// NewDispatcher limits outbound mail to perMinute messages. Non-positive means unlimited.
func NewDispatcher(sender Sender, perMinute int, fromName string, log *logger.Logger) *Dispatcher {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = perMinute
	}
	return &Dispatcher{
		sender:   sender,
		limiter:  rate.NewLimiter(limit, burst),
		fromName: fromName,
		log:      log.WithComponent("messaging"),
	}
}

func (d *Dispatcher) Name() string { return "messaging" }

// RegisterHandlers subscribes to stage changes.
func (d *Dispatcher) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadStageChanged{}.EventName(), d)
}

// Handle implements events.Handler. It never returns an error.
func (d *Dispatcher) Handle(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadStageChanged)
	if !ok || e.Email == "" {
		return nil
	}

	subject, body, ok, err := renderStageMessage(domain.Stage(e.ToStage), templateData{
		LeadName: e.LeadName,
		FromName: d.fromName,
	})
	if !ok {
		return nil
	}
	if err != nil {
		d.log.SideEffectFailed(e.LeadID.String(), "stage_message", err)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxRateWait)
	defer cancel()
	if err := d.limiter.Wait(waitCtx); err != nil {
		d.log.Warn("stage message dropped by rate limit", "leadId", e.LeadID, "toStage", e.ToStage)
		return nil
	}

	if err := d.sender.Send(ctx, Message{
		To:       e.Email,
		ToName:   e.LeadName,
		Subject:  subject,
		HTMLBody: body,
	}); err != nil {
		d.log.SideEffectFailed(e.LeadID.String(), "stage_message", err)
		return nil
	}

	d.log.Info("stage message sent", "leadId", e.LeadID, "toStage", e.ToStage)
	return nil
}

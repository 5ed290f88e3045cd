package notification

import (
	"context"

	"crm_pipeline_backend/platform/logger"
)

// Sink receives generated notification lists.
type Sink interface {
	Deliver(ctx context.Context, candidates []Candidate) error
}

// LogSink writes every candidate to the structured log.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("notification.sink")}
}

func (s *LogSink) Deliver(ctx context.Context, candidates []Candidate) error {
	log := s.log.WithContext(ctx)
	for _, c := range candidates {
		args := []any{
			"id", c.ID,
			"severity", string(c.Severity),
			"kind", string(c.Kind),
			"title", c.Title,
			"message", c.Message,
		}
		if c.LeadID != nil {
			args = append(args, "leadId", c.LeadID.String())
		}
		switch c.Severity {
		case SeverityError:
			log.Error("pipeline_notification", args...)
		case SeverityWarning:
			log.Warn("pipeline_notification", args...)
		default:
			log.Info("pipeline_notification", args...)
		}
	}
	return nil
}

package scheduler

import (
	"context"
	"time"

	"crm_pipeline_backend/platform/logger"
)

const defaultPipelineRefreshInterval = 15 * time.Minute

// PipelineRefresh periodically recomputes scores and notifications in-process.
// It is the fallback when no Redis is configured for the asynq worker.
type PipelineRefresh struct {
	notifications NotificationRefresher
	scores        ScoreRefresher
	log           *logger.Logger
	interval      time.Duration
	now           func() time.Time
}

func NewPipelineRefresh(notifications NotificationRefresher, scores ScoreRefresher, log *logger.Logger, interval time.Duration) *PipelineRefresh {
	if interval <= 0 {
		interval = defaultPipelineRefreshInterval
	}

	return &PipelineRefresh{
		notifications: notifications,
		scores:        scores,
		log:           log.WithComponent("scheduler.refresh"),
		interval:      interval,
		now:           time.Now,
	}
}

func (r *PipelineRefresh) Run(ctx context.Context) {
	if r == nil {
		return
	}

	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *PipelineRefresh) refresh(ctx context.Context) {
	if r.scores != nil {
		report := r.scores.Refresh(ctx, r.now())
		if report.Failed > 0 {
			r.log.Warn("score refresh had failures", "failed", report.Failed)
		}
	}

	if r.notifications != nil {
		delivered, err := r.notifications.Refresh(ctx)
		if err != nil {
			r.log.Warn("notification refresh failed", "error", err)
			return
		}
		if delivered > 0 {
			r.log.Info("notifications delivered", "count", delivered)
		}
	}
}

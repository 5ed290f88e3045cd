package scheduler

import (
	"context"
	"fmt"
	"time"

	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Entry is one periodic task registration.
type Entry struct {
	Spec string
	Task *asynq.Task
}

// PeriodicEntries lists the cron registrations for the pipeline jobs.
func PeriodicEntries(sweepCron string, refreshEvery time.Duration) ([]Entry, error) {
	sweep, err := NewDeadlineSweepTask(SweepPayload{RequestedBy: "cron"})
	if err != nil {
		return nil, err
	}
	if sweepCron == "" {
		return nil, fmt.Errorf("sweep cron spec is empty")
	}
	if refreshEvery <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive")
	}

	every := "@every " + refreshEvery.String()
	return []Entry{
		{Spec: sweepCron, Task: sweep},
		{Spec: every, Task: NewNotificationsRefreshTask()},
		{Spec: every, Task: NewScoreRefreshTask()},
	}, nil
}

// Cron enqueues the pipeline jobs on a schedule through asynq.
type Cron struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewCron(cfg config.SchedulerConfig, refreshEvery time.Duration, log *logger.Logger) (*Cron, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	entries, err := PeriodicEntries(cfg.GetSweepCron(), refreshEvery)
	if err != nil {
		return nil, err
	}

	log = log.WithComponent("scheduler.cron")
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Warn("periodic task enqueue failed", "error", err)
			}
		},
	})

	queue := queueName(cfg)
	for _, e := range entries {
		if _, err := scheduler.Register(e.Spec, e.Task, asynq.Queue(queue)); err != nil {
			return nil, fmt.Errorf("register %s (%s): %w", e.Task.Type(), e.Spec, err)
		}
	}

	return &Cron{scheduler: scheduler, log: log}, nil
}

func (c *Cron) Run(ctx context.Context) {
	if c == nil || c.scheduler == nil {
		return
	}

	if err := c.scheduler.Start(); err != nil {
		c.log.Error("scheduler cron failed to start", "error", err)
		return
	}
	<-ctx.Done()
	c.scheduler.Shutdown()
}

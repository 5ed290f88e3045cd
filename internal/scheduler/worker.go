package scheduler

import (
	"context"
	"fmt"
	"time"

	"crm_pipeline_backend/internal/pipeline/service"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// DeadlineSweeper runs one deadline sweep.
type DeadlineSweeper interface {
	Sweep(ctx context.Context, now time.Time) service.SweepReport
}

// NotificationRefresher regenerates and delivers the alert list.
type NotificationRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

// ScoreRefresher recomputes stored lead scores.
type ScoreRefresher interface {
	Refresh(ctx context.Context, now time.Time) service.ScoreReport
}

// Jobs are the pipeline operations the worker can run.
type Jobs struct {
	Sweeper       DeadlineSweeper
	Notifications NotificationRefresher
	Scores        ScoreRefresher
	// Sync reloads leads created or moved by other processes. The sweep and
	// score jobs sync on their own; notifications read the lead set directly.
	Sync func(ctx context.Context) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	jobs   Jobs
	log    *logger.Logger
	now    func() time.Time
}

func NewWorker(cfg config.SchedulerConfig, jobs Jobs, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(jobs, log)
	w.server = server
	return w, nil
}

func newWorker(jobs Jobs, log *logger.Logger) *Worker {
	w := &Worker{
		mux:  asynq.NewServeMux(),
		jobs: jobs,
		log:  log.WithComponent("scheduler.worker"),
		now:  time.Now,
	}
	w.mux.HandleFunc(TaskDeadlineSweep, w.handleDeadlineSweep)
	w.mux.HandleFunc(TaskNotificationsRefresh, w.handleNotificationsRefresh)
	w.mux.HandleFunc(TaskScoreRefresh, w.handleScoreRefresh)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleDeadlineSweep(ctx context.Context, task *asynq.Task) error {
	if w.jobs.Sweeper == nil {
		return nil
	}

	payload, err := ParseSweepPayload(task)
	if err != nil {
		return fmt.Errorf("parse sweep payload: %w: %w", err, asynq.SkipRetry)
	}

	now := w.now()
	if payload.AsOf != nil {
		now = *payload.AsOf
	}

	report := w.jobs.Sweeper.Sweep(ctx, now)
	w.log.Info("deadline sweep task finished",
		"requestedBy", payload.RequestedBy,
		"checked", report.Checked,
		"moved", report.Moved,
		"failed", report.Failed,
	)
	if report.Failed > 0 {
		return fmt.Errorf("deadline sweep: %d leads could not be moved", report.Failed)
	}
	return nil
}

func (w *Worker) handleNotificationsRefresh(ctx context.Context, _ *asynq.Task) error {
	if w.jobs.Notifications == nil {
		return nil
	}
	if w.jobs.Sync != nil {
		if err := w.jobs.Sync(ctx); err != nil {
			w.log.Warn("notification refresh using cached leads, sync failed", "error", err)
		}
	}
	_, err := w.jobs.Notifications.Refresh(ctx)
	return err
}

func (w *Worker) handleScoreRefresh(ctx context.Context, _ *asynq.Task) error {
	if w.jobs.Scores == nil {
		return nil
	}
	report := w.jobs.Scores.Refresh(ctx, w.now())
	if report.Updated > 0 || report.Failed > 0 {
		w.log.Info("score refresh finished", "updated", report.Updated, "busy", report.Busy, "failed", report.Failed)
	}
	return nil
}

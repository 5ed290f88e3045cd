package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/messaging"
	"crm_pipeline_backend/internal/notification"
	"crm_pipeline_backend/internal/pipeline"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/internal/scheduler"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/db"
	"crm_pipeline_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	if cfg.GetMigrationsEnabled() {
		if err := db.RunMigrations(ctx, pool, repository.Migrations, repository.MigrationsDir); err != nil {
			log.Error("failed to run migrations", "error", err)
			panic("failed to run migrations: " + err.Error())
		}
	}

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	pipelineModule, err := pipeline.NewModule(repository.New(pool), eventBus, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		panic("failed to initialize pipeline module: " + err.Error())
	}
	if err := withRetry(ctx, log, "pipeline load", 3, time.Second, func() error {
		return pipelineModule.Load(ctx)
	}); err != nil {
		panic("failed to load pipeline: " + err.Error())
	}

	notificationModule := notification.New(pipelineModule.Leads(), notification.NewLogSink(log), eventBus, log)
	notificationModule.RegisterHandlers(eventBus)

	if cfg.IsSMTPEnabled() {
		dispatcher := messaging.NewDispatcher(messaging.NewSMTPSender(cfg), cfg.GetMessagingRatePerMinute(), cfg.GetSMTPFromName(), log)
		dispatcher.RegisterHandlers(eventBus)
	} else {
		log.Info("smtp not configured, stage messages disabled")
	}

	jobs := scheduler.Jobs{
		Sweeper:       pipelineModule.Sweeper(),
		Notifications: notificationModule,
		Scores:        pipelineModule.ScoreKeeper(),
		Sync:          pipelineModule.Sync,
	}

	if !cfg.IsSchedulerEnabled() {
		log.Info("redis not configured, running pipeline jobs in-process")
		runInProcess(ctx, pipelineModule, jobs, cfg.GetNotificationInterval(), log)
		return
	}

	cron, err := scheduler.NewCron(cfg, cfg.GetNotificationInterval(), log)
	if err != nil {
		log.Error("failed to initialize scheduler cron", "error", err)
		panic("failed to initialize scheduler cron: " + err.Error())
	}
	go cron.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, jobs, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}

func runInProcess(ctx context.Context, m *pipeline.Module, jobs scheduler.Jobs, refreshEvery time.Duration, log *logger.Logger) {
	refresh := scheduler.NewPipelineRefresh(jobs.Notifications, jobs.Scores, log, refreshEvery)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Sweeper().Run(ctx)
	}()
	go func() {
		defer wg.Done()
		refresh.Run(ctx)
	}()
	wg.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

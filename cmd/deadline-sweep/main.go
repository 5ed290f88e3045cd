// Command deadline-sweep runs one deadline sweep and exits. With -enqueue it
// hands the sweep to the asynq worker instead of running it in-process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/notification"
	"crm_pipeline_backend/internal/pipeline"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/internal/scheduler"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/db"
	"crm_pipeline_backend/platform/logger"
)

func main() {
	enqueue := flag.Bool("enqueue", false, "enqueue the sweep on the asynq queue instead of running it here")
	asOf := flag.String("as-of", "", "sweep as of this RFC 3339 time instead of now")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	if *asOf != "" {
		parsed, err := time.Parse(time.RFC3339, *asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -as-of: %v\n", err)
			os.Exit(2)
		}
		now = parsed
	}

	if *enqueue {
		os.Exit(enqueueSweep(ctx, cfg, now, *asOf != "", log))
	}
	os.Exit(sweepHere(ctx, cfg, now, log))
}

func enqueueSweep(ctx context.Context, cfg *config.Config, now time.Time, pinned bool, log *logger.Logger) int {
	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to create scheduler client", "error", err)
		return 1
	}
	defer func() { _ = client.Close() }()

	payload := scheduler.SweepPayload{RequestedBy: "deadline-sweep"}
	if pinned {
		payload.AsOf = &now
	}
	if err := client.EnqueueDeadlineSweep(ctx, payload); err != nil {
		log.Error("failed to enqueue deadline sweep", "error", err)
		return 1
	}
	log.Info("deadline sweep enqueued")
	return 0
}

func sweepHere(ctx context.Context, cfg *config.Config, now time.Time, log *logger.Logger) int {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)

	pipelineModule, err := pipeline.NewModule(repository.New(pool), eventBus, cfg, log)
	if err != nil {
		log.Error("failed to initialize pipeline module", "error", err)
		return 1
	}
	notification.New(pipelineModule.Leads(), notification.NewLogSink(log), eventBus, log).RegisterHandlers(eventBus)

	if err := pipelineModule.Load(ctx); err != nil {
		return 1
	}

	report := pipelineModule.Sweeper().Sweep(ctx, now)
	eventBus.Wait()

	log.Info("deadline sweep finished",
		"checked", report.Checked,
		"moved", report.Moved,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	if report.Failed > 0 {
		return 1
	}
	return 0
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/platform/apperr"
	"crm_pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultSweepParallelism = 8

// SweepReport summarizes one pass.
type SweepReport struct {
	Checked int `json:"checked"`
	Moved   int `json:"moved"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Sweeper marks leads lost once they overstay their stage deadline.
type Sweeper struct {
	exec        *Executor
	leads       *LeadSet
	bus         events.Bus
	log         *logger.Logger
	interval    time.Duration
	parallelism int
	now         func() time.Time
	trigger     chan struct{}
	sync        SyncFunc
	mu          sync.Mutex
}

// SyncFunc refreshes the lead set from the store before a batch job runs.
type SyncFunc func(ctx context.Context) error

type SweeperOption func(*Sweeper)

// WithSweepParallelism bounds how many leads are moved concurrently.
func WithSweepParallelism(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithSweepSync refreshes the lead set at the start of every pass.
func WithSweepSync(fn SyncFunc) SweeperOption {
	return func(s *Sweeper) { s.sync = fn }
}

// WithSweepClock overrides time.Now for Run and Trigger.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(exec *Executor, leads *LeadSet, bus events.Bus, log *logger.Logger, interval time.Duration, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		exec:        exec,
		leads:       leads,
		bus:         bus,
		log:         log.WithComponent("pipeline.sweeper"),
		interval:    interval,
		parallelism: defaultSweepParallelism,
		now:         time.Now,
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Overdue reports whether l has stayed in a deadline stage for at least the deadline.
func Overdue(l domain.Lead, now time.Time) bool {
	if l.CurrentStage == domain.StageLost {
		return false
	}
	deadline, ok := domain.StageDeadline(l.CurrentStage)
	if !ok {
		return false
	}
	return l.DaysInStage(now) >= deadline
}

// SweepReason is the loss reason recorded for an auto-lost lead.
func SweepReason(stage domain.Stage) string {
	days, _ := domain.StageDeadline(stage)
	return fmt.Sprintf("No progress in stage %s within the %d-day deadline", stage, days)
}

// Sweep moves every overdue lead to lost. Passes never overlap; a second pass
// right after the first moves nothing.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) SweepReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	// On a failed sync the pass still runs: store writes are conditional on
	// the expected stage, so cached leads cannot overwrite newer rows.
	if s.sync != nil {
		if err := s.sync(ctx); err != nil {
			s.log.Warn("deadline sweep using cached leads, sync failed", "error", err)
		}
	}

	var (
		report   SweepReport
		reportMu sync.Mutex
	)
	count := func(f func(r *SweepReport)) {
		reportMu.Lock()
		f(&report)
		reportMu.Unlock()
	}

	leads := s.leads.All()
	report.Checked = len(leads)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, lead := range leads {
		if !Overdue(lead, now) {
			continue
		}
		id, stage := lead.ID, lead.CurrentStage
		g.Go(func() error {
			err := s.markLost(gctx, id, stage, now)
			switch {
			case err == nil:
				count(func(r *SweepReport) { r.Moved++ })
			case errors.Is(err, errNotDue), apperr.Is(err, apperr.KindConflict):
				count(func(r *SweepReport) { r.Skipped++ })
			default:
				count(func(r *SweepReport) { r.Failed++ })
				s.log.Warn("deadline sweep could not move lead", "leadId", id, "stage", stage, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if report.Moved > 0 || report.Failed > 0 {
		s.log.Info("deadline sweep completed", "checked", report.Checked, "moved", report.Moved, "skipped", report.Skipped, "failed", report.Failed)
	}
	s.bus.Publish(ctx, events.DeadlineSweepCompleted{
		BaseEvent: events.BaseEventAt(now),
		Checked:   report.Checked,
		Moved:     report.Moved,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	})
	return report
}

func (s *Sweeper) markLost(ctx context.Context, id uuid.UUID, stage domain.Stage, now time.Time) error {
	fields := domain.TransitionFields{
		LossCategory: domain.LossNoResponse,
		LossReason:   SweepReason(stage),
	}
	_, err := s.exec.transition(ctx, id, domain.StageLost, fields, OriginSweep, now, func(l domain.Lead) bool {
		return l.CurrentStage == stage && Overdue(l, now)
	})
	return err
}

// Trigger asks Run to sweep as soon as possible. Never blocks.
func (s *Sweeper) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps on start, on every tick and on Trigger until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Warn("deadline sweeper disabled: non-positive interval")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.trigger:
		}
		if ctx.Err() != nil {
			return
		}
		s.Sweep(ctx, s.now())
	}
}

// Package pipeline provides the sales pipeline bounded context module.
// This file wires the in-memory lead set, the transition executor, the
// deadline sweeper and the score keeper on top of a store.
package pipeline

import (
	"context"
	"fmt"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/internal/pipeline/service"
	"crm_pipeline_backend/platform/config"
	"crm_pipeline_backend/platform/logger"
)

// Module is the pipeline bounded context.
type Module struct {
	store    repository.Store
	leads    *service.LeadSet
	executor *service.Executor
	sweeper  *service.Sweeper
	scores   *service.ScoreKeeper
	log      *logger.Logger
}

// NewModule creates the pipeline module. The lead set is empty until Load is called.
func NewModule(store repository.Store, eventBus events.Bus, cfg config.PipelineConfig, log *logger.Logger) (*Module, error) {
	rules, err := domain.LoadFollowUpRules(cfg.GetFollowUpRulesFile())
	if err != nil {
		return nil, fmt.Errorf("follow-up rules: %w", err)
	}

	leads := service.NewLeadSet()
	executor := service.NewExecutor(leads, store, eventBus, log,
		service.WithPersistTimeout(cfg.GetPersistTimeout()),
		service.WithFollowUpRules(rules),
	)

	m := &Module{
		store:    store,
		leads:    leads,
		executor: executor,
		log:      log,
	}
	m.sweeper = service.NewSweeper(executor, leads, eventBus, log, cfg.GetSweepInterval(),
		service.WithSweepParallelism(cfg.GetSweepParallelism()),
		service.WithSweepSync(m.Sync),
	)
	m.scores = service.NewScoreKeeper(executor, log, service.WithScoreSync(m.Sync))
	return m, nil
}

func (m *Module) Name() string { return "pipeline" }

// Load replaces the in-memory leads and reps with the store's contents.
func (m *Module) Load(ctx context.Context) error {
	leads, err := m.store.ListLeads(ctx)
	if err != nil {
		m.log.DatabaseError("pipeline.ListLeads", err)
		return err
	}
	reps, err := m.store.ListSalesReps(ctx)
	if err != nil {
		m.log.DatabaseError("pipeline.ListSalesReps", err)
		return err
	}

	m.leads.Load(leads)
	m.leads.LoadReps(reps)
	m.log.Info("pipeline loaded", "leads", len(leads), "reps", len(reps))
	return nil
}

// Sync merges the store's current leads and reps into the lead set so batch
// jobs see leads created or moved by other processes.
func (m *Module) Sync(ctx context.Context) error {
	leads, err := m.store.ListLeads(ctx)
	if err != nil {
		m.log.DatabaseError("pipeline.ListLeads", err)
		return err
	}
	reps, err := m.store.ListSalesReps(ctx)
	if err != nil {
		m.log.DatabaseError("pipeline.ListSalesReps", err)
		return err
	}

	busy := m.executor.Sync(leads)
	m.leads.LoadReps(reps)
	m.log.Debug("pipeline synced", "leads", len(leads), "busy", busy)
	return nil
}

func (m *Module) Leads() *service.LeadSet           { return m.leads }
func (m *Module) Executor() *service.Executor       { return m.executor }
func (m *Module) Sweeper() *service.Sweeper         { return m.sweeper }
func (m *Module) ScoreKeeper() *service.ScoreKeeper { return m.scores }

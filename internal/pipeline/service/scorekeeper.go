package service

import (
	"context"
	"errors"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// ScoreKeeper recomputes lead scores and writes back only those that changed.
type ScoreKeeper struct {
	exec *Executor
	log  *logger.Logger
	sync SyncFunc
}

type ScoreKeeperOption func(*ScoreKeeper)

// WithScoreSync refreshes the lead set before every refresh.
func WithScoreSync(fn SyncFunc) ScoreKeeperOption {
	return func(k *ScoreKeeper) { k.sync = fn }
}

func NewScoreKeeper(exec *Executor, log *logger.Logger, opts ...ScoreKeeperOption) *ScoreKeeper {
	k := &ScoreKeeper{exec: exec, log: log.WithComponent("pipeline.scores")}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ScoreReport counts the outcome of one refresh.
type ScoreReport struct {
	Updated int `json:"updated"`
	Busy    int `json:"busy"`
	Failed  int `json:"failed"`
}

// Refresh recomputes every score as of now. Leads with an in-flight
// transition, or moved in the store since the last sync, count as busy.
func (k *ScoreKeeper) Refresh(ctx context.Context, now time.Time) ScoreReport {
	if k.sync != nil {
		if err := k.sync(ctx); err != nil {
			k.log.Warn("score refresh using cached leads, sync failed", "error", err)
		}
	}

	var report ScoreReport
	for _, id := range k.exec.leads.IDs() {
		if !k.exec.guard.markRunning(id) {
			report.Busy++
			continue
		}
		updated, err := k.refreshLocked(ctx, id, now)
		k.exec.guard.markComplete(id)

		switch {
		case errors.Is(err, repository.ErrStaleLead):
			report.Busy++
		case err != nil:
			report.Failed++
			k.log.DatabaseError("pipeline.UpdateScore", err)
		case updated:
			report.Updated++
		}
	}
	return report
}

func (k *ScoreKeeper) refreshLocked(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	lead, ok := k.exec.leads.Get(id)
	if !ok {
		return false, nil
	}
	score := domain.LeadScore(lead, now)
	if score == lead.Score {
		return false, nil
	}

	lead.Score = score
	if err := k.exec.store.UpdateLead(ctx, lead.ID, repository.LeadUpdateFrom(lead)); err != nil {
		return false, err
	}
	k.exec.leads.Put(lead)
	return true, nil
}

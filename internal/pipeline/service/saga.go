package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
)

// transitionSaga moves one lead: apply in memory, persist, and undo on failure.
type transitionSaga struct {
	leads *LeadSet
	store repository.Store

	snapshot domain.Lead
	next     domain.Lead
	entry    domain.StageHistoryEntry
}

func newTransitionSaga(leads *LeadSet, store repository.Store, current domain.Lead, target domain.Stage, fields domain.TransitionFields, now time.Time) *transitionSaga {
	next := domain.ApplyTransition(current, target, fields, now)
	return &transitionSaga{
		leads:    leads,
		store:    store,
		snapshot: current.Clone(),
		next:     next,
		entry:    next.StageHistory[len(next.StageHistory)-1],
	}
}

// apply publishes the new state to readers before anything is stored.
func (s *transitionSaga) apply() {
	s.leads.Put(s.next)
}

// persist writes the lead row and the history entry in one store commit,
// conditional on the stored lead still being in the snapshot's stage.
func (s *transitionSaga) persist(ctx context.Context) error {
	update := repository.LeadUpdateFrom(s.next)
	update.ExpectedStage = s.snapshot.CurrentStage
	if err := s.store.CommitTransition(ctx, s.next.ID, update, s.entry); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// rollback restores the pre-transition snapshot.
func (s *transitionSaga) rollback() {
	s.leads.Put(s.snapshot)
}

// reload replaces the lead with the store's copy. Returns false when the
// store could not serve it, leaving the rolled-back snapshot in place.
func (s *transitionSaga) reload(ctx context.Context) (bool, error) {
	fresh, err := s.store.GetLead(ctx, s.snapshot.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("lead %s vanished from the store", s.snapshot.ID)
		}
		return false, err
	}
	s.leads.Put(fresh)
	return true, nil
}

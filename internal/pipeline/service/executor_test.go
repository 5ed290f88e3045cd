package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/platform/apperr"

	"github.com/google/uuid"
)

func TestRequestTransitionAcceptsExactlyTheAdjacentStages(t *testing.T) {
	for _, from := range domain.AllStages() {
		for _, to := range domain.AllStages() {
			lead := leadIn(from, 1)
			h := newHarness(lead)

			_, err := h.exec.RequestTransition(context.Background(), lead.ID, to, completeFields())
			want := domain.CanTransition(from, to)

			if want && err != nil {
				t.Errorf("%s -> %s: expected success, got %v", from, to, err)
			}
			if !want {
				if !apperr.Is(err, apperr.KindValidation) {
					t.Errorf("%s -> %s: expected validation error, got %v", from, to, err)
				}
				got, _ := h.leads.Get(lead.ID)
				if got.CurrentStage != from {
					t.Errorf("%s -> %s: rejected move changed the stage to %s", from, to, got.CurrentStage)
				}
				if h.store.updateCount() != 0 {
					t.Errorf("%s -> %s: rejected move reached the store", from, to)
				}
			}
		}
	}
}

func TestRequestTransitionRejectsIllegalTargetListingAlternatives(t *testing.T) {
	lead := leadIn(domain.StageLost, 3)
	h := newHarness(lead)

	_, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StagePostSale, completeFields())
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "allowed: prospecting") {
		t.Fatalf("expected prospecting as the only legal target, got %q", err.Error())
	}
	allowed, ok := apperr.DetailsOf(err).([]domain.Stage)
	if !ok || len(allowed) != 1 || allowed[0] != domain.StageProspecting {
		t.Fatalf("unexpected details: %#v", apperr.DetailsOf(err))
	}
}

func TestRequestTransitionRoundTrip(t *testing.T) {
	lead := domain.NewLead("Round Trip Ltd", testNow.AddDate(0, 0, -10))
	h := newHarness(lead)
	ctx := context.Background()

	if _, err := h.exec.RequestTransition(ctx, lead.ID, domain.StageSample, completeFields()); err != nil {
		t.Fatalf("to sample: %v", err)
	}
	lost, err := h.exec.RequestTransition(ctx, lead.ID, domain.StageLost, completeFields())
	if err != nil {
		t.Fatalf("to lost: %v", err)
	}
	if lost.LossCategory != domain.LossOther || lost.LossReason != "budget frozen" || lost.LostAt == nil {
		t.Fatalf("loss fields not recorded: %+v", lost)
	}

	back, err := h.exec.RequestTransition(ctx, lead.ID, domain.StageProspecting, domain.TransitionFields{})
	if err != nil {
		t.Fatalf("to prospecting: %v", err)
	}
	if back.LossCategory != "" || back.LossReason != "" || back.LostAt != nil {
		t.Fatalf("loss fields not cleared: %+v", back)
	}
	if len(back.StageHistory) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(back.StageHistory))
	}
	wantStages := []domain.Stage{domain.StageSample, domain.StageLost, domain.StageProspecting}
	for i, entry := range back.StageHistory {
		if entry.Stage != wantStages[i] {
			t.Fatalf("history[%d] = %s, want %s", i, entry.Stage, wantStages[i])
		}
	}
	if len(h.store.history) != 3 {
		t.Fatalf("expected 3 persisted history entries, got %d", len(h.store.history))
	}
}

func TestRequestTransitionRequiresFields(t *testing.T) {
	lead := leadIn(domain.StageQualified, 1)
	h := newHarness(lead)

	_, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StageLost, domain.TransitionFields{LossCategory: domain.LossPrice})
	if !apperr.Is(err, apperr.KindValidation) || !strings.Contains(err.Error(), "loss reason") {
		t.Fatalf("expected missing reason error, got %v", err)
	}

	_, err = h.exec.RequestTransition(context.Background(), lead.ID, domain.StageLost, domain.TransitionFields{LossCategory: "weather", LossReason: "x"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected unknown category to be rejected, got %v", err)
	}
}

func TestRequestTransitionUnknownLead(t *testing.T) {
	h := newHarness()
	_, err := h.exec.RequestTransition(context.Background(), uuid.New(), domain.StageSample, completeFields())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestTransitionSideEffects(t *testing.T) {
	lead := leadIn(domain.StageProspecting, 1)
	h := newHarness(lead)

	moved, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StageSample, completeFields())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.store.tasks) != 2 {
		t.Fatalf("expected 2 follow-up tasks, got %d", len(h.store.tasks))
	}
	if !h.store.tasks[0].DueAt.Equal(testNow.AddDate(0, 0, 15)) {
		t.Fatalf("unexpected first due date %s", h.store.tasks[0].DueAt)
	}
	if len(h.store.activities) != 1 || h.store.activities[0].Action != "stage_changed" {
		t.Fatalf("expected one stage_changed activity, got %+v", h.store.activities)
	}
	changed := h.bus.named(events.LeadStageChanged{}.EventName())
	if len(changed) != 1 {
		t.Fatalf("expected one stage changed event, got %d", len(changed))
	}
	if evt := changed[0].(events.LeadStageChanged); evt.ToStage != "sample" || evt.Automatic {
		t.Fatalf("unexpected event %+v", evt)
	}
	if moved.Score != domain.LeadScore(moved, testNow) {
		t.Fatalf("expected score recomputed on transition")
	}
	if h.store.updates[0].Score != moved.Score {
		t.Fatalf("expected recomputed score to be persisted")
	}
}

func TestSideEffectFailureDoesNotUndoTransition(t *testing.T) {
	lead := leadIn(domain.StageQualified, 1)
	h := newHarness(lead)
	h.store.taskErr = errStoreDown
	h.store.activityErr = errStoreDown

	moved, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StageNegotiation, completeFields())
	if err != nil {
		t.Fatalf("side effect failure must not fail the move: %v", err)
	}
	got, _ := h.leads.Get(lead.ID)
	if got.CurrentStage != domain.StageNegotiation || moved.CurrentStage != domain.StageNegotiation {
		t.Fatalf("expected lead to stay in negotiation, got %s", got.CurrentStage)
	}
	if len(h.bus.named(events.LeadTransitionFailed{}.EventName())) != 0 {
		t.Fatalf("side effect failure must not emit a transition failure")
	}
}

func TestPersistenceFailureRollsBackAndNotifiesOnce(t *testing.T) {
	for name, configure := range map[string]func(*fakeStore){
		"update fails":             func(s *fakeStore) { s.updateErr = errStoreDown },
		"history fails":            func(s *fakeStore) { s.historyErr = errStoreDown },
		"history fails, no reload": func(s *fakeStore) { s.historyErr = errStoreDown; s.getErr = errStoreDown },
	} {
		t.Run(name, func(t *testing.T) {
			lead := leadIn(domain.StageSample, 4)
			lead.StageHistory = []domain.StageHistoryEntry{{Stage: domain.StageSample, EnteredAt: lead.StageEnteredAt, MovedFrom: domain.StageProspecting}}
			h := newHarness(lead)
			configure(h.store)
			before, _ := h.leads.Get(lead.ID)

			_, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StageQualified, completeFields())
			if !apperr.Is(err, apperr.KindPersistence) || !ReloadRequired(err) {
				t.Fatalf("expected persistence error, got %v", err)
			}
			if !errors.Is(err, errStoreDown) {
				t.Fatalf("expected store error to be wrapped, got %v", err)
			}

			after, _ := h.leads.Get(lead.ID)
			if !reflect.DeepEqual(before, after) {
				t.Fatalf("lead not restored:\nbefore %+v\nafter  %+v", before, after)
			}

			failed := h.bus.named(events.LeadTransitionFailed{}.EventName())
			if len(failed) != 1 {
				t.Fatalf("expected exactly one failure event, got %d", len(failed))
			}
			if evt := failed[0].(events.LeadTransitionFailed); evt.LeadID != lead.ID || evt.LeadName != lead.Name {
				t.Fatalf("failure event does not name the lead: %+v", evt)
			}
			if len(h.store.tasks) != 0 || len(h.bus.named(events.LeadStageChanged{}.EventName())) != 0 {
				t.Fatalf("failed move must not run side effects")
			}

			stored := h.store.leads[lead.ID]
			if stored.CurrentStage != domain.StageSample || len(stored.StageHistory) != 1 || len(h.store.history) != 0 {
				t.Fatalf("store must hold no part of the failed move: stage %s, history %d", stored.CurrentStage, len(stored.StageHistory))
			}
		})
	}
}

func TestMoveOfLeadChangedInStoreConflictsAndReloads(t *testing.T) {
	lead := leadIn(domain.StageSample, 4)
	h := newHarness(lead)

	movedElsewhere := lead.Clone()
	movedElsewhere.CurrentStage = domain.StageQualified
	movedElsewhere.PreviousStage = domain.StageSample
	h.store.put(movedElsewhere)

	_, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StageLost, completeFields())
	if !apperr.Is(err, apperr.KindConflict) || !ReloadRequired(err) {
		t.Fatalf("expected reload-required conflict, got %v", err)
	}
	if h.store.updateCount() != 0 {
		t.Fatalf("stale move must not write")
	}
	if got, _ := h.leads.Get(lead.ID); got.CurrentStage != domain.StageQualified {
		t.Fatalf("expected the store's newer copy after reload, got %s", got.CurrentStage)
	}
	if n := len(h.bus.named(events.LeadTransitionFailed{}.EventName())); n != 1 {
		t.Fatalf("expected one failure event, got %d", n)
	}
}

func TestSyncMergesStoreListing(t *testing.T) {
	kept := leadIn(domain.StageSample, 3)
	busy := leadIn(domain.StageQualified, 3)
	gone := leadIn(domain.StageNegotiation, 3)
	h := newHarness(kept, busy, gone)

	added := leadIn(domain.StageProspecting, 1)
	busyInStore := busy.Clone()
	busyInStore.CurrentStage = domain.StageLost
	revision := h.leads.Revision()

	h.exec.guard.markRunning(busy.ID)
	skipped := h.exec.Sync([]domain.Lead{kept, busyInStore, added})
	h.exec.guard.markComplete(busy.ID)

	if skipped != 1 {
		t.Fatalf("expected one busy lead, got %d", skipped)
	}
	if _, ok := h.leads.Get(added.ID); !ok {
		t.Fatalf("lead created elsewhere must be added")
	}
	if _, ok := h.leads.Get(gone.ID); ok {
		t.Fatalf("lead missing from the store must be dropped")
	}
	if got, _ := h.leads.Get(busy.ID); got.CurrentStage != domain.StageQualified {
		t.Fatalf("busy lead must keep its in-memory state, got %s", got.CurrentStage)
	}
	if h.leads.Len() != 3 || h.leads.Revision() == revision {
		t.Fatalf("unexpected lead set after sync: len %d", h.leads.Len())
	}

	revision = h.leads.Revision()
	h.exec.Sync(h.leads.All())
	if h.leads.Revision() != revision {
		t.Fatalf("sync of an unchanged listing must not bump the revision")
	}
}

func TestSagaPhases(t *testing.T) {
	lead := leadIn(domain.StageNegotiation, 2)
	set := NewLeadSet()
	set.Load([]domain.Lead{lead})
	store := newFakeStore(lead)

	saga := newTransitionSaga(set, store, lead, domain.StagePostSale, domain.TransitionFields{}, testNow)
	saga.apply()
	if got, _ := set.Get(lead.ID); got.CurrentStage != domain.StagePostSale {
		t.Fatalf("apply must be visible before persisting, got %s", got.CurrentStage)
	}

	saga.rollback()
	if got, _ := set.Get(lead.ID); !reflect.DeepEqual(got, lead) {
		t.Fatalf("rollback did not restore the snapshot")
	}

	store.getErr = errStoreDown
	if ok, err := saga.reload(context.Background()); ok || err == nil {
		t.Fatalf("expected reload to report failure")
	}
}

func TestConcurrentTransitionOnSameLeadConflicts(t *testing.T) {
	lead := leadIn(domain.StageQualified, 1)
	other := leadIn(domain.StageProspecting, 1)
	h := newHarness(lead, other)
	h.store.block = make(chan struct{})

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = h.exec.RequestTransition(context.Background(), lead.ID, domain.StageNegotiation, completeFields())
	}()

	// Wait until the first move holds the guard.
	for {
		if got, _ := h.leads.Get(lead.ID); got.CurrentStage == domain.StageNegotiation {
			break
		}
	}

	_, err := h.exec.RequestTransition(context.Background(), lead.ID, domain.StageLost, completeFields())
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for a busy lead, got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.exec.RequestTransition(context.Background(), other.ID, domain.StageSample, completeFields())
		done <- err
	}()

	close(h.store.block)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("first move failed: %v", firstErr)
	}
	if err := <-done; err != nil {
		t.Fatalf("unrelated lead must not be blocked: %v", err)
	}
}

func TestReloadReplacesInMemoryLead(t *testing.T) {
	lead := leadIn(domain.StageSample, 3)
	h := newHarness(lead)

	stored := lead.Clone()
	stored.CurrentStage = domain.StageQualified
	h.store.leads[lead.ID] = stored

	got, err := h.exec.Reload(context.Background(), lead.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.CurrentStage != domain.StageQualified {
		t.Fatalf("expected store copy, got %s", got.CurrentStage)
	}

	if _, err := h.exec.Reload(context.Background(), uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

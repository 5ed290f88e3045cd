package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/platform/apperr"
	"crm_pipeline_backend/platform/logger"
	"crm_pipeline_backend/platform/validator"

	playground "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const reloadTimeout = 5 * time.Second

// Origin tells who asked for a transition.
type Origin string

const (
	OriginUser  Origin = "user"
	OriginSweep Origin = "deadline_sweep"
)

// Executor validates and commits stage transitions.
type Executor struct {
	leads    *LeadSet
	store    repository.Store
	bus      events.Bus
	log      *logger.Logger
	guard    *leadGuard
	validate *validator.Validator
	rules    domain.FollowUpRules

	now            func() time.Time
	persistTimeout time.Duration
}

type ExecutorOption func(*Executor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithPersistTimeout bounds the store calls of one transition. Zero disables it.
func WithPersistTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.persistTimeout = d }
}

// WithFollowUpRules replaces the embedded follow-up rule table.
func WithFollowUpRules(rules domain.FollowUpRules) ExecutorOption {
	return func(e *Executor) { e.rules = rules }
}

func NewExecutor(leads *LeadSet, store repository.Store, bus events.Bus, log *logger.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		leads:    leads,
		store:    store,
		bus:      bus,
		log:      log.WithComponent("pipeline.executor"),
		guard:    newLeadGuard(),
		validate: newFieldValidator(),
		rules:    domain.DefaultFollowUpRules(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newFieldValidator() *validator.Validator {
	v := validator.New()
	if err := v.RegisterValidation("loss_category", func(fl playground.FieldLevel) bool {
		return domain.IsKnownLossCategory(domain.LossCategory(fl.Field().String()))
	}); err != nil {
		panic(err)
	}
	return v
}

// ReloadRequired reports whether err means the caller's view of the lead is stale.
func ReloadRequired(err error) bool {
	return apperr.Is(err, apperr.KindPersistence) || errors.Is(err, repository.ErrStaleLead)
}

// RequestTransition moves a lead to target on behalf of a user.
func (e *Executor) RequestTransition(ctx context.Context, leadID uuid.UUID, target domain.Stage, fields domain.TransitionFields) (domain.Lead, error) {
	return e.transition(ctx, leadID, target, fields, OriginUser, e.now(), nil)
}

// errNotDue is returned when a precondition no longer holds once the guard is taken.
var errNotDue = errors.New("lead no longer matches the transition precondition")

func (e *Executor) transition(ctx context.Context, leadID uuid.UUID, target domain.Stage, fields domain.TransitionFields, origin Origin, now time.Time, due func(domain.Lead) bool) (domain.Lead, error) {
	log := e.log.WithContext(ctx)

	if err := e.validate.Struct(fields); err != nil {
		return domain.Lead{}, apperr.Validation(validator.Describe(err)).WithOp("pipeline.RequestTransition")
	}

	if !e.guard.markRunning(leadID) {
		log.TransitionRejected(leadID.String(), "", string(target), "transition already in progress")
		return domain.Lead{}, apperr.Conflict("another transition is in progress for this lead").WithOp("pipeline.RequestTransition")
	}
	defer e.guard.markComplete(leadID)

	current, ok := e.leads.Get(leadID)
	if !ok {
		return domain.Lead{}, apperr.NotFound(fmt.Sprintf("lead %s not found", leadID)).WithOp("pipeline.RequestTransition")
	}

	if due != nil && !due(current) {
		return domain.Lead{}, errNotDue
	}

	if reason := domain.ValidateTransition(current, target, fields); reason != "" {
		log.TransitionRejected(leadID.String(), string(current.CurrentStage), string(target), reason)
		return domain.Lead{}, apperr.Validation(fmt.Sprintf("%s: %s", current.DisplayName(), reason)).
			WithOp("pipeline.RequestTransition").
			WithDetails(domain.AllowedTargets(current.CurrentStage))
	}

	saga := newTransitionSaga(e.leads, e.store, current, target, fields, now)
	saga.apply()

	if err := e.persist(ctx, saga); err != nil {
		return domain.Lead{}, e.fail(ctx, saga, err)
	}

	log.TransitionApplied(leadID.String(), string(current.CurrentStage), string(target))
	e.runSideEffects(ctx, saga.next, current.CurrentStage, fields, origin)
	return saga.next.Clone(), nil
}

func (e *Executor) persist(ctx context.Context, saga *transitionSaga) error {
	if e.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.persistTimeout)
		defer cancel()
	}
	return saga.persist(ctx)
}

// fail rolls back, tries a reload and emits the single failure event.
func (e *Executor) fail(ctx context.Context, saga *transitionSaga, cause error) error {
	log := e.log.WithContext(ctx)
	from, to := saga.snapshot.CurrentStage, saga.next.CurrentStage

	saga.rollback()
	log.TransitionRolledBack(saga.snapshot.ID.String(), string(from), string(to), cause)

	reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
	defer cancel()
	reloaded, err := saga.reload(reloadCtx)
	if err != nil {
		log.SideEffectFailed(saga.snapshot.ID.String(), "reload", err)
	}

	e.bus.Publish(ctx, events.LeadTransitionFailed{
		BaseEvent: events.BaseEventAt(e.now()),
		LeadID:    saga.snapshot.ID,
		LeadName:  saga.snapshot.DisplayName(),
		FromStage: string(from),
		ToStage:   string(to),
		Reason:    cause.Error(),
		Reloaded:  reloaded,
	})

	if errors.Is(cause, repository.ErrStaleLead) {
		return apperr.Wrap(apperr.KindConflict,
			fmt.Sprintf("%s was changed by someone else before the move to %s was saved; reload the lead", saga.snapshot.DisplayName(), to),
			cause,
		).WithOp("pipeline.RequestTransition")
	}
	return apperr.Persistence(
		fmt.Sprintf("could not save the move of %s to %s; reload the lead", saga.snapshot.DisplayName(), to),
		cause,
	).WithOp("pipeline.RequestTransition")
}

func (e *Executor) runSideEffects(ctx context.Context, lead domain.Lead, from domain.Stage, fields domain.TransitionFields, origin Origin) {
	log := e.log.WithContext(ctx)
	leadID := lead.ID.String()
	now := lead.StageEnteredAt

	for _, task := range e.rules.TasksFor(lead, lead.CurrentStage, now) {
		if err := e.store.InsertTask(ctx, task); err != nil {
			log.SideEffectFailed(leadID, "follow_up_task", err)
		}
	}

	meta := map[string]any{
		"fromStage": string(from),
		"toStage":   string(lead.CurrentStage),
		"origin":    string(origin),
	}
	if fields.Note != "" {
		meta["note"] = fields.Note
	}
	if lead.CurrentStage == domain.StageLost {
		meta["lossCategory"] = string(lead.LossCategory)
		meta["lossReason"] = lead.LossReason
	}
	if err := e.store.InsertActivity(ctx, domain.Activity{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Action:    "stage_changed",
		Metadata:  meta,
		CreatedAt: now,
	}); err != nil {
		log.SideEffectFailed(leadID, "activity", err)
	}

	e.bus.Publish(ctx, events.LeadStageChanged{
		BaseEvent: events.BaseEventAt(now),
		LeadID:    lead.ID,
		OwnerID:   lead.OwnerID,
		LeadName:  lead.DisplayName(),
		Email:     lead.Email,
		FromStage: string(from),
		ToStage:   string(lead.CurrentStage),
		Automatic: origin != OriginUser,
	})
	if lead.CurrentStage == domain.StageLost {
		e.bus.Publish(ctx, events.LeadMarkedLost{
			BaseEvent:    events.BaseEventAt(now),
			LeadID:       lead.ID,
			FromStage:    string(from),
			LossCategory: string(lead.LossCategory),
			LossReason:   lead.LossReason,
		})
	}
}

// Reload replaces the in-memory lead with the store's copy.
func (e *Executor) Reload(ctx context.Context, leadID uuid.UUID) (domain.Lead, error) {
	if !e.guard.markRunning(leadID) {
		return domain.Lead{}, apperr.Conflict("another transition is in progress for this lead").WithOp("pipeline.Reload")
	}
	defer e.guard.markComplete(leadID)

	fresh, err := e.store.GetLead(ctx, leadID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Lead{}, apperr.NotFound(fmt.Sprintf("lead %s not found", leadID)).WithOp("pipeline.Reload")
	}
	if err != nil {
		return domain.Lead{}, apperr.Persistence("could not reload lead", err).WithOp("pipeline.Reload")
	}
	e.leads.Put(fresh)
	return fresh.Clone(), nil
}

// Sync merges a fresh store listing into the lead set. Leads with a mutation
// in flight keep their in-memory state until the next sync; leads missing
// from the listing are dropped. Returns how many leads were left alone.
func (e *Executor) Sync(leads []domain.Lead) (busy int) {
	listed := make(map[uuid.UUID]struct{}, len(leads))
	for _, l := range leads {
		listed[l.ID] = struct{}{}
		if !e.guard.markRunning(l.ID) {
			busy++
			continue
		}
		e.leads.Replace(l)
		e.guard.markComplete(l.ID)
	}

	for _, id := range e.leads.IDs() {
		if _, ok := listed[id]; ok {
			continue
		}
		if !e.guard.markRunning(id) {
			busy++
			continue
		}
		e.leads.Remove(id)
		e.guard.markComplete(id)
	}
	return busy
}

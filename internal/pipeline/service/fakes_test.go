package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"crm_pipeline_backend/internal/events"
	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/internal/pipeline/repository"
	"crm_pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

var errStoreDown = errors.New("store unavailable")

type fakeStore struct {
	mu sync.Mutex

	leads      map[uuid.UUID]domain.Lead
	updates    []repository.LeadUpdate
	history    []domain.StageHistoryEntry
	tasks      []domain.Task
	activities []domain.Activity

	updateErr   error
	historyErr  error
	taskErr     error
	activityErr error
	getErr      error

	// block, when set, is received from before UpdateLead returns.
	block chan struct{}
}

func newFakeStore(leads ...domain.Lead) *fakeStore {
	s := &fakeStore{leads: make(map[uuid.UUID]domain.Lead)}
	for _, l := range leads {
		s.leads[l.ID] = l.Clone()
	}
	return s
}

func (s *fakeStore) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Lead{}, s.getErr
	}
	l, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, repository.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *fakeStore) ListLeads(context.Context) ([]domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, l.Clone())
	}
	return out, nil
}

func (s *fakeStore) ListSalesReps(context.Context) ([]domain.SalesRep, error) {
	return nil, nil
}

func (s *fakeStore) UpdateLead(_ context.Context, id uuid.UUID, update repository.LeadUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.applyLocked(id, update)
}

func (s *fakeStore) AppendStageHistory(_ context.Context, _ uuid.UUID, entry domain.StageHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return s.historyErr
	}
	s.history = append(s.history, entry)
	return nil
}

// CommitTransition behaves like a transaction: on any failure nothing is written.
func (s *fakeStore) CommitTransition(_ context.Context, id uuid.UUID, update repository.LeadUpdate, entry domain.StageHistoryEntry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.historyErr != nil {
		return s.historyErr
	}
	if l, ok := s.leads[id]; ok && l.CurrentStage != update.ExpectedStage {
		return repository.ErrStaleLead
	}
	if err := s.applyLocked(id, update); err != nil {
		return err
	}
	if l, ok := s.leads[id]; ok {
		l.StageHistory = append(l.StageHistory, entry)
		s.leads[id] = l
	}
	s.history = append(s.history, entry)
	return nil
}

func (s *fakeStore) applyLocked(id uuid.UUID, update repository.LeadUpdate) error {
	l, ok := s.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	if l.CurrentStage != update.ExpectedStage {
		return repository.ErrStaleLead
	}
	s.updates = append(s.updates, update)
	l.CurrentStage = update.CurrentStage
	l.PreviousStage = update.PreviousStage
	l.StageEnteredAt = update.StageEnteredAt
	l.Score = update.Score
	l.LossCategory = update.LossCategory
	l.LossReason = update.LossReason
	l.LostAt = update.LostAt
	l.SampleShippedAt = update.SampleShippedAt
	l.ProposalValue = update.ProposalValue
	l.DeliveryStatus = update.DeliveryStatus
	s.leads[id] = l
	return nil
}

// put replaces the stored copy of a lead, as another process would.
func (s *fakeStore) put(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = l.Clone()
}

func (s *fakeStore) InsertTask(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskErr != nil {
		return s.taskErr
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *fakeStore) InsertActivity(_ context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activityErr != nil {
		return s.activityErr
	}
	s.activities = append(s.activities, activity)
	return nil
}

func (s *fakeStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) named(name string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

var testNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type harness struct {
	leads *LeadSet
	store *fakeStore
	bus   *recordingBus
	exec  *Executor
}

func newHarness(leads ...domain.Lead) *harness {
	set := NewLeadSet()
	set.Load(leads)
	store := newFakeStore(leads...)
	bus := &recordingBus{}
	exec := NewExecutor(set, store, bus, logger.Discard(), WithClock(fixedClock))
	return &harness{leads: set, store: store, bus: bus, exec: exec}
}

func leadIn(stage domain.Stage, daysInStage int) domain.Lead {
	created := testNow.AddDate(0, 0, -90)
	l := domain.NewLead("Lead "+string(stage), created)
	l.CurrentStage = stage
	l.StageEnteredAt = testNow.AddDate(0, 0, -daysInStage)
	value := 40000.0
	l.EstimatedValue = &value
	return l
}

func completeFields() domain.TransitionFields {
	shipped := testNow.AddDate(0, 0, -1)
	proposal := 42000.0
	return domain.TransitionFields{
		LossCategory:    domain.LossOther,
		LossReason:      "budget frozen",
		SampleShippedAt: &shipped,
		ProposalValue:   &proposal,
	}
}

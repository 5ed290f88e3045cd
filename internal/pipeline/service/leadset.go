package service

import (
	"reflect"
	"slices"
	"sync"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// LeadSet is the in-memory working copy of the pipeline. Readers always get
// clones; every mutation bumps the revision.
type LeadSet struct {
	mu          sync.RWMutex
	leads       map[uuid.UUID]domain.Lead
	order       []uuid.UUID
	reps        []domain.SalesRep
	revision    uint64
	repRevision uint64
}

func NewLeadSet() *LeadSet {
	return &LeadSet{
		leads: make(map[uuid.UUID]domain.Lead),
	}
}

// Load replaces the whole collection, keeping the given order.
func (s *LeadSet) Load(leads []domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leads = make(map[uuid.UUID]domain.Lead, len(leads))
	s.order = make([]uuid.UUID, 0, len(leads))
	for _, l := range leads {
		if _, dup := s.leads[l.ID]; !dup {
			s.order = append(s.order, l.ID)
		}
		s.leads[l.ID] = l.Clone()
	}
	s.bumpLocked()
}

// LoadReps replaces the sales reps. The rep revision only moves when they differ.
func (s *LeadSet) LoadReps(reps []domain.SalesRep) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repRevision > 0 && slices.Equal(s.reps, reps) {
		return
	}
	s.reps = append([]domain.SalesRep(nil), reps...)
	s.repRevision++
}

// Get returns a copy of the lead.
func (s *LeadSet) Get(id uuid.UUID) (domain.Lead, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, false
	}
	return l.Clone(), true
}

// All returns copies of every lead in load order.
func (s *LeadSet) All() []domain.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Lead, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.leads[id].Clone())
	}
	return out
}

// IDs returns lead ids in load order.
func (s *LeadSet) IDs() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uuid.UUID(nil), s.order...)
}

// Reps returns a copy of the sales reps.
func (s *LeadSet) Reps() []domain.SalesRep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.SalesRep(nil), s.reps...)
}

// Put stores l, adding it when unknown.
func (s *LeadSet) Put(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[l.ID]; !ok {
		s.order = append(s.order, l.ID)
	}
	s.leads[l.ID] = l.Clone()
	s.bumpLocked()
}

// Replace stores l like Put, but leaves the revision alone when l equals the
// lead already held. Returns whether anything changed.
func (s *LeadSet) Replace(l domain.Lead) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leads[l.ID]; ok && reflect.DeepEqual(current, l) {
		return false
	}
	if _, ok := s.leads[l.ID]; !ok {
		s.order = append(s.order, l.ID)
	}
	s.leads[l.ID] = l.Clone()
	s.bumpLocked()
	return true
}

// Remove drops the lead with id, if present.
func (s *LeadSet) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[id]; !ok {
		return
	}
	delete(s.leads, id)
	if i := slices.Index(s.order, id); i >= 0 {
		s.order = slices.Delete(s.order, i, i+1)
	}
	s.bumpLocked()
}

// Revision increments on every lead mutation.
func (s *LeadSet) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// RepRevision increments whenever reps are reloaded.
func (s *LeadSet) RepRevision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repRevision
}

func (s *LeadSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *LeadSet) bumpLocked() {
	s.revision++
}

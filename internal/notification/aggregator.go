package notification

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	maxCandidates        = 20
	maxInactiveLeads     = 10
	inactiveAfterDays    = 10
	quotaRiskRatio       = 0.5
	derivedMetricsPeriod = 24 * time.Hour
)

// LeadSource is the read side of the in-memory pipeline.
type LeadSource interface {
	All() []domain.Lead
	Reps() []domain.SalesRep
	Revision() uint64
	RepRevision() uint64
}

// memo is the last generated list and the inputs it was derived from.
type memo struct {
	leadRevision uint64
	repRevision  uint64
	generatedAt  time.Time
	validUntil   time.Time
	candidates   []Candidate
}

func (m *memo) fresh(leadRev, repRev uint64, now time.Time) bool {
	return m != nil &&
		m.leadRevision == leadRev &&
		m.repRevision == repRev &&
		!now.Before(m.generatedAt) &&
		now.Before(m.validUntil)
}

// Aggregator builds the ranked alert list from the pipeline.
type Aggregator struct {
	source LeadSource
	group  singleflight.Group

	mu   sync.Mutex
	last *memo
}

func NewAggregator(source LeadSource) *Aggregator {
	return &Aggregator{source: source}
}

// Generate returns the alert list as of now. The result is reused until a
// lead or rep changes or a day-granular metric could have rolled over.
func (a *Aggregator) Generate(ctx context.Context, now time.Time) ([]Candidate, error) {
	out, _, err := a.generate(ctx, now)
	return out, err
}

func (a *Aggregator) generate(ctx context.Context, now time.Time) ([]Candidate, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	leadRev, repRev := a.source.Revision(), a.source.RepRevision()

	a.mu.Lock()
	if a.last.fresh(leadRev, repRev, now) {
		out := cloneCandidates(a.last.candidates)
		a.mu.Unlock()
		return out, false, nil
	}
	a.mu.Unlock()

	key := fmt.Sprintf("%d/%d", leadRev, repRev)
	v, err, _ := a.group.Do(key, func() (any, error) {
		m := a.build(leadRev, repRev, now)
		a.mu.Lock()
		a.last = m
		a.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, false, err
	}
	m := v.(*memo)
	return cloneCandidates(m.candidates), true, nil
}

func (a *Aggregator) build(leadRev, repRev uint64, now time.Time) *memo {
	leads := a.source.All()
	reps := a.source.Reps()

	candidates := make([]Candidate, 0, maxCandidates)
	candidates = append(candidates, deadlineCandidates(leads, now)...)
	candidates = append(candidates, quotaCandidates(leads, reps)...)
	candidates = append(candidates, inactivityCandidates(leads, now)...)

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	for i := range candidates {
		candidates[i].ID = i + 1
		candidates[i].GeneratedAt = now
	}

	return &memo{
		leadRevision: leadRev,
		repRevision:  repRev,
		generatedAt:  now,
		validUntil:   nextRollover(leads, now),
		candidates:   candidates,
	}
}

// deadlineCandidates lists deadline-stage leads classified warning or critical,
// critical first, most overdue first.
func deadlineCandidates(leads []domain.Lead, now time.Time) []Candidate {
	type scored struct {
		c       Candidate
		urgency domain.Urgency
		elapsed int
	}
	var found []scored
	for _, l := range leads {
		deadline, ok := domain.StageDeadline(l.CurrentStage)
		if !ok {
			continue
		}
		urgency := domain.LeadUrgency(l, now)
		if urgency == domain.UrgencyNormal {
			continue
		}

		id := l.ID
		elapsed := l.DaysInStage(now)
		c := Candidate{LeadID: &id, Kind: KindStageDeadline}
		if urgency == domain.UrgencyCritical {
			c.Severity = SeverityError
			c.Title = "Stage deadline exceeded"
			c.Message = fmt.Sprintf("%s has been in %s for %d days (deadline %d).", l.DisplayName(), l.CurrentStage, elapsed, deadline)
		} else {
			c.Severity = SeverityWarning
			c.Title = "Stage deadline approaching"
			c.Message = fmt.Sprintf("%s has %d days left in %s.", l.DisplayName(), deadline-elapsed, l.CurrentStage)
		}
		found = append(found, scored{c: c, urgency: urgency, elapsed: elapsed})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].urgency != found[j].urgency {
			return found[i].urgency == domain.UrgencyCritical
		}
		return found[i].elapsed > found[j].elapsed
	})

	out := make([]Candidate, 0, len(found))
	for _, f := range found {
		out = append(out, f.c)
	}
	return out
}

// activePipelineStages count toward a rep's open pipeline value.
var activePipelineStages = map[domain.Stage]bool{
	domain.StageProspecting: true,
	domain.StageSample:      true,
	domain.StageQualified:   true,
	domain.StageNegotiation: true,
}

// quotaCandidates flags reps whose open pipeline is under half their monthly target.
func quotaCandidates(leads []domain.Lead, reps []domain.SalesRep) []Candidate {
	active := make(map[uuid.UUID]float64)
	for _, l := range leads {
		if l.OwnerID == nil || !activePipelineStages[l.CurrentStage] {
			continue
		}
		active[*l.OwnerID] += l.ValueOrZero()
	}

	var out []Candidate
	for _, rep := range reps {
		if rep.MonthlyTarget <= 0 {
			continue
		}
		value := active[rep.ID]
		if value >= rep.MonthlyTarget*quotaRiskRatio {
			continue
		}
		out = append(out, Candidate{
			Severity: SeverityWarning,
			Kind:     KindQuotaRisk,
			Title:    "Quota at risk",
			Message: fmt.Sprintf("%s has %.0f in active pipeline against a monthly target of %.0f (%.0f%%).",
				rep.Name, value, rep.MonthlyTarget, value/rep.MonthlyTarget*100),
		})
	}
	return out
}

// inactivityCandidates lists the most inactive open leads, longest silence first.
func inactivityCandidates(leads []domain.Lead, now time.Time) []Candidate {
	type idle struct {
		lead domain.Lead
		days int
	}
	var found []idle
	for _, l := range leads {
		if l.CurrentStage == domain.StageLost {
			continue
		}
		if days := l.DaysInactive(now); days > inactiveAfterDays {
			found = append(found, idle{lead: l, days: days})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].days > found[j].days })
	if len(found) > maxInactiveLeads {
		found = found[:maxInactiveLeads]
	}

	out := make([]Candidate, 0, len(found))
	for _, f := range found {
		id := f.lead.ID
		out = append(out, Candidate{
			Severity: SeverityInfo,
			Kind:     KindInactiveLead,
			Title:    "Inactive lead",
			Message:  fmt.Sprintf("No interaction with %s for %d days.", f.lead.DisplayName(), f.days),
			LeadID:   &id,
		})
	}
	return out
}

// nextRollover is the earliest instant after now at which any whole-day count
// derived from the leads changes.
func nextRollover(leads []domain.Lead, now time.Time) time.Time {
	next := now.Add(derivedMetricsPeriod)
	consider := func(ref time.Time) {
		if ref.IsZero() {
			return
		}
		var at time.Time
		if !now.After(ref) {
			at = ref.Add(derivedMetricsPeriod)
		} else {
			periods := now.Sub(ref) / derivedMetricsPeriod
			at = ref.Add((periods + 1) * derivedMetricsPeriod)
		}
		if at.Before(next) {
			next = at
		}
	}
	for _, l := range leads {
		consider(l.StageEnteredAt)
		if l.LastInteractionAt != nil {
			consider(*l.LastInteractionAt)
		} else {
			consider(l.CreatedAt)
		}
	}
	return next
}

func cloneCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	copy(out, in)
	return out
}

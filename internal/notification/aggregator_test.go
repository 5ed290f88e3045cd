package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"crm_pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu          sync.Mutex
	leads       []domain.Lead
	reps        []domain.SalesRep
	revision    uint64
	repRevision uint64
	reads       int
}

func (s *fakeSource) All() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	out := make([]domain.Lead, len(s.leads))
	for i, l := range s.leads {
		out[i] = l.Clone()
	}
	return out
}

func (s *fakeSource) Reps() []domain.SalesRep { return append([]domain.SalesRep(nil), s.reps...) }
func (s *fakeSource) Revision() uint64        { return s.revision }
func (s *fakeSource) RepRevision() uint64     { return s.repRevision }

func lead(name string, stage domain.Stage, daysInStage, daysInactive int) domain.Lead {
	l := domain.NewLead(name, testNow.AddDate(0, 0, -200))
	l.CurrentStage = stage
	l.StageEnteredAt = testNow.AddDate(0, 0, -daysInStage)
	last := testNow.AddDate(0, 0, -daysInactive)
	l.LastInteractionAt = &last
	return l
}

func TestGenerateOrdersSourcesAndNumbersFromOne(t *testing.T) {
	owner := uuid.New()
	value := 1000.0
	pipelineLead := lead("Owned", domain.StageQualified, 1, 1)
	pipelineLead.OwnerID = &owner
	pipelineLead.EstimatedValue = &value

	source := &fakeSource{
		leads: []domain.Lead{
			lead("Warn", domain.StageNegotiation, 38, 1),
			lead("Crit", domain.StageSample, 31, 1),
			lead("Quiet", domain.StageProspecting, 1, 20),
			pipelineLead,
		},
		reps: []domain.SalesRep{{ID: owner, Name: "Ana", MonthlyTarget: 10000}},
	}

	got, err := NewAggregator(source).Generate(context.Background(), testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	want := []struct {
		kind     Kind
		severity Severity
		mention  string
	}{
		{KindStageDeadline, SeverityError, "Crit"},
		{KindStageDeadline, SeverityWarning, "Warn"},
		{KindQuotaRisk, SeverityWarning, "Ana"},
		{KindInactiveLead, SeverityInfo, "Quiet"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		c := got[i]
		if c.ID != i+1 {
			t.Errorf("candidate %d has id %d", i, c.ID)
		}
		if c.Kind != w.kind || c.Severity != w.severity || !strings.Contains(c.Message, w.mention) {
			t.Errorf("candidate %d = %+v, want %s/%s mentioning %s", i, c, w.kind, w.severity, w.mention)
		}
		if !c.GeneratedAt.Equal(testNow) {
			t.Errorf("candidate %d not stamped with generation time", i)
		}
	}
}

func TestQuotaRiskUsesActivePipelineOnly(t *testing.T) {
	owner := uuid.New()
	mk := func(stage domain.Stage, v float64) domain.Lead {
		l := lead(string(stage), stage, 1, 1)
		l.OwnerID = &owner
		l.EstimatedValue = &v
		return l
	}
	source := &fakeSource{
		leads: []domain.Lead{
			mk(domain.StageNegotiation, 4000),
			mk(domain.StagePostSale, 50000),
			mk(domain.StageLost, 50000),
		},
		reps: []domain.SalesRep{{ID: owner, Name: "Bo", MonthlyTarget: 10000}},
	}

	got := quotaCandidates(source.All(), source.reps)
	if len(got) != 1 {
		t.Fatalf("expected quota risk for 4000 of 10000, got %+v", got)
	}

	source.leads = append(source.leads, mk(domain.StageSample, 1000))
	if got := quotaCandidates(source.All(), source.reps); len(got) != 0 {
		t.Fatalf("5000 of 10000 is not at risk, got %+v", got)
	}
}

func TestInactivityKeepsTopTenDescending(t *testing.T) {
	var leads []domain.Lead
	for i := 0; i < 15; i++ {
		leads = append(leads, lead(fmt.Sprintf("L%02d", i), domain.StageProspecting, 1, 11+i))
	}
	leads = append(leads, lead("Recent", domain.StageProspecting, 1, 10))
	leads = append(leads, lead("Gone", domain.StageLost, 1, 500))

	got := inactivityCandidates(leads, testNow)
	if len(got) != 10 {
		t.Fatalf("expected 10 candidates, got %d", len(got))
	}
	if !strings.Contains(got[0].Message, "L14") || !strings.Contains(got[9].Message, "L05") {
		t.Fatalf("unexpected ranking: first %q last %q", got[0].Message, got[9].Message)
	}
}

func TestInactivityExcludesLostLeads(t *testing.T) {
	lost := lead("Gone", domain.StageLost, 3, 40)
	open := lead("Quiet", domain.StageQualified, 3, 11)

	got, err := NewAggregator(&fakeSource{leads: []domain.Lead{lost, open}}).Generate(context.Background(), testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var inactive []Candidate
	for _, c := range got {
		if c.Kind == KindInactiveLead {
			inactive = append(inactive, c)
		}
	}
	if len(inactive) != 1 || *inactive[0].LeadID != open.ID {
		t.Fatalf("expected only the open lead to be reported inactive, got %+v", inactive)
	}
}

func TestGenerateCapsAtTwenty(t *testing.T) {
	var leads []domain.Lead
	for i := 0; i < 25; i++ {
		leads = append(leads, lead(fmt.Sprintf("S%02d", i), domain.StageSample, 31, 1))
	}
	got, err := NewAggregator(&fakeSource{leads: leads}).Generate(context.Background(), testNow)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != maxCandidates || got[len(got)-1].ID != maxCandidates {
		t.Fatalf("expected %d candidates numbered 1..%d, got %d", maxCandidates, maxCandidates, len(got))
	}
}

func TestGenerateIsMemoizedOnRevisions(t *testing.T) {
	source := &fakeSource{leads: []domain.Lead{lead("A", domain.StageSample, 31, 1)}, revision: 1}
	agg := NewAggregator(source)
	ctx := context.Background()

	if _, fresh, _ := agg.generate(ctx, testNow); !fresh {
		t.Fatalf("first generation must be fresh")
	}
	if _, fresh, _ := agg.generate(ctx, testNow.Add(time.Minute)); fresh {
		t.Fatalf("unchanged inputs must reuse the memo")
	}
	if source.reads != 1 {
		t.Fatalf("expected one read of the leads, got %d", source.reads)
	}

	source.revision++
	if _, fresh, _ := agg.generate(ctx, testNow.Add(time.Minute)); !fresh {
		t.Fatalf("lead revision change must regenerate")
	}

	source.repRevision++
	if _, fresh, _ := agg.generate(ctx, testNow.Add(time.Minute)); !fresh {
		t.Fatalf("rep revision change must regenerate")
	}
}

func TestGenerateRegeneratesWhenDayCountsRollOver(t *testing.T) {
	l := lead("Edge", domain.StageSample, 0, 0)
	l.StageEnteredAt = testNow.Add(-29*24*time.Hour - 23*time.Hour)
	source := &fakeSource{leads: []domain.Lead{l}}
	agg := NewAggregator(source)
	ctx := context.Background()

	before, _, _ := agg.generate(ctx, testNow)
	if len(before) != 1 || before[0].Severity != SeverityWarning {
		t.Fatalf("expected a warning at 29 days, got %+v", before)
	}

	after, fresh, _ := agg.generate(ctx, testNow.Add(2*time.Hour))
	if !fresh {
		t.Fatalf("crossing a day boundary must regenerate")
	}
	if len(after) != 1 || after[0].Severity != SeverityError {
		t.Fatalf("expected the deadline breach after rollover, got %+v", after)
	}
}

func TestGenerateReturnsCopies(t *testing.T) {
	agg := NewAggregator(&fakeSource{leads: []domain.Lead{lead("A", domain.StageSample, 31, 1)}})
	first, _ := agg.Generate(context.Background(), testNow)
	first[0].Title = "mutated"

	second, _ := agg.Generate(context.Background(), testNow)
	if second[0].Title == "mutated" {
		t.Fatalf("memoized list leaked to callers")
	}
}

func TestGenerateHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewAggregator(&fakeSource{}).Generate(ctx, testNow); err == nil {
		t.Fatalf("expected context error")
	}
}

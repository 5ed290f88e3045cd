package service

import (
	"testing"

	"crm_pipeline_backend/internal/pipeline/domain"
)

func TestLeadSetReturnsCopies(t *testing.T) {
	lead := leadIn(domain.StageSample, 2)
	set := NewLeadSet()
	set.Load([]domain.Lead{lead})

	got, _ := set.Get(lead.ID)
	*got.EstimatedValue = 1
	got.Name = "changed"

	again, _ := set.Get(lead.ID)
	if *again.EstimatedValue == 1 || again.Name == "changed" {
		t.Fatalf("mutating a returned lead leaked into the set")
	}
}

func TestLeadSetRevisions(t *testing.T) {
	set := NewLeadSet()
	start := set.Revision()

	lead := leadIn(domain.StageProspecting, 0)
	set.Put(lead)
	if set.Revision() == start {
		t.Fatalf("put must bump the revision")
	}
	if set.Len() != 1 || len(set.All()) != 1 {
		t.Fatalf("expected one lead")
	}

	repRev := set.RepRevision()
	set.LoadReps([]domain.SalesRep{{Name: "Ana"}})
	if set.RepRevision() == repRev || len(set.Reps()) != 1 {
		t.Fatalf("rep reload must bump the rep revision")
	}
}

package precedent

import "testing"

func idStub() func() string {
	n := 0
	return func() string {
		n++
		return "seed-test"
	}
}

func TestDraftSeeds_MeetsThresholds(t *testing.T) {
	decisions := []ApprovedDecision{
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.95},
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.92},
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.91},
	}

	seeds := DraftSeeds(decisions, idStub())
	if len(seeds) != 1 {
		t.Fatalf("expected exactly one drafted seed, got %d", len(seeds))
	}
	if seeds[0].Status != SeedDraft {
		t.Fatalf("expected draft status, got %s", seeds[0].Status)
	}
}

func TestDraftSeeds_BelowMinApprovalsSkipped(t *testing.T) {
	decisions := []ApprovedDecision{
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.99},
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.99},
	}
	if seeds := DraftSeeds(decisions, idStub()); len(seeds) != 0 {
		t.Fatalf("expected no seed with only 2 approvals, got %d", len(seeds))
	}
}

func TestDraftSeeds_BelowMinConfidenceSkipped(t *testing.T) {
	decisions := []ApprovedDecision{
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.5},
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.5},
		{AgentTypeID: "atd_1", Action: "write", RiskBucket: "low", Confidence: 0.5},
	}
	if seeds := DraftSeeds(decisions, idStub()); len(seeds) != 0 {
		t.Fatalf("expected no seed below mean confidence 0.9, got %d", len(seeds))
	}
}

func TestReview_AllPassApproves(t *testing.T) {
	seed := &Seed{Status: SeedDraft}
	Review(seed, ReviewCriteria{true, true, true, true, true}, "reviewer-1", "")
	if seed.Status != SeedApproved {
		t.Fatalf("expected approved, got %s", seed.Status)
	}
}

func TestReview_ViolatesL0Rejected(t *testing.T) {
	seed := &Seed{Status: SeedDraft}
	Review(seed, ReviewCriteria{false, true, true, true, true}, "reviewer-1", "conflicts with platform policy")
	if seed.Status != SeedRejected {
		t.Fatalf("expected rejected, got %s", seed.Status)
	}
}

func TestRecordVeto_DeprecatesAtThreshold(t *testing.T) {
	seed := &Seed{Status: SeedApproved}
	RecordVeto(seed, 2)
	if seed.Status != SeedApproved {
		t.Fatalf("expected still approved after first veto, got %s", seed.Status)
	}
	RecordVeto(seed, 2)
	if seed.Status != SeedDeprecated {
		t.Fatalf("expected deprecated after crossing threshold, got %s", seed.Status)
	}
}

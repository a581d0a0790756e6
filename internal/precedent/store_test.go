package precedent

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "precedent_test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := sql.Open("sqlite", filepath.Join(tmpDir, "precedent.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, false)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStore_SaveAndGetSeed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := &Seed{
		ID:          "seed_1",
		AgentTypeID: "atd_mkt",
		Action:      "write",
		RiskBucket:  "low",
		Principle:   "publishing a reviewed draft is routine",
		SampleSize:  4,
		Status:      SeedDraft,
		DraftedAt:   time.Now().UTC(),
	}
	if err := store.SaveSeed(ctx, seed); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetSeed(ctx, "seed_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.AgentTypeID != "atd_mkt" || got.Status != SeedDraft {
		t.Fatalf("got %+v, want the saved draft back", got)
	}

	missing, err := store.GetSeed(ctx, "seed_nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for an unknown seed")
	}
}

func TestStore_FindApprovedSeed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	draft := &Seed{ID: "seed_d", AgentTypeID: "atd_mkt", Action: "write", RiskBucket: "low", Status: SeedDraft}
	if err := store.SaveSeed(ctx, draft); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	// A draft grants no latitude.
	if got, err := store.FindApprovedSeed(ctx, "atd_mkt", "write"); err != nil || got != nil {
		t.Fatalf("expected no match for draft-only seeds, got %v err %v", got, err)
	}

	approved := &Seed{
		ID: "seed_a", AgentTypeID: "atd_mkt", Action: "write", RiskBucket: "low",
		Status: SeedApproved, ReviewedAt: time.Now().UTC(), ReviewedBy: "genesis",
	}
	if err := store.SaveSeed(ctx, approved); err != nil {
		t.Fatalf("save approved: %v", err)
	}

	got, err := store.FindApprovedSeed(ctx, "atd_mkt", "write")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != "seed_a" {
		t.Fatalf("got %+v, want seed_a", got)
	}

	// Different agent type or action: no latitude.
	if got, _ := store.FindApprovedSeed(ctx, "atd_other", "write"); got != nil {
		t.Fatal("expected no match for a different agent type")
	}
	if got, _ := store.FindApprovedSeed(ctx, "atd_mkt", "destructive"); got != nil {
		t.Fatal("expected no match for a different action")
	}
}

func TestStore_AutoApprovalVetoWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	open := &AutoApproval{
		ApprovalID: "apr_open", SeedID: "seed_a", InstanceID: "inst_1",
		DecidedAt: now, VetoUntil: now.Add(24 * time.Hour),
	}
	if err := store.RecordAutoApproval(ctx, open); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := store.Veto(ctx, "apr_open"); err != nil {
		t.Fatalf("veto within window: %v", err)
	}
	got, err := store.GetAutoApproval(ctx, "apr_open")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Vetoed || got.VetoedAt.IsZero() {
		t.Fatalf("expected vetoed record, got %+v", got)
	}

	// A second veto is a no-op error.
	if err := store.Veto(ctx, "apr_open"); err == nil {
		t.Fatal("expected double veto to fail")
	}

	closed := &AutoApproval{
		ApprovalID: "apr_closed", SeedID: "seed_a", InstanceID: "inst_1",
		DecidedAt: now.Add(-48 * time.Hour), VetoUntil: now.Add(-24 * time.Hour),
	}
	if err := store.RecordAutoApproval(ctx, closed); err != nil {
		t.Fatalf("record closed: %v", err)
	}
	if err := store.Veto(ctx, "apr_closed"); err == nil {
		t.Fatal("expected veto outside window to fail")
	}
}

func TestStore_ListSeeds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, s := range []*Seed{
		{ID: "s1", AgentTypeID: "atd", Action: "write", RiskBucket: "low", Status: SeedDraft},
		{ID: "s2", AgentTypeID: "atd", Action: "write", RiskBucket: "low", Status: SeedApproved},
		{ID: "s3", AgentTypeID: "atd", Action: "write", RiskBucket: "low", Status: SeedDeprecated},
	} {
		if err := store.SaveSeed(ctx, s); err != nil {
			t.Fatalf("save %s: %v", s.ID, err)
		}
	}

	all, err := store.ListSeeds(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d seeds, want 3", len(all))
	}

	drafts, err := store.ListSeeds(ctx, SeedDraft)
	if err != nil {
		t.Fatalf("list drafts: %v", err)
	}
	if len(drafts) != 1 || drafts[0].ID != "s1" {
		t.Fatalf("got %+v, want only s1", drafts)
	}
}

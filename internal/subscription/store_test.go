package subscription

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
	tmpDir, err := os.MkdirTemp("", "subscription_test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := sql.Open("sqlite", filepath.Join(tmpDir, "subscription.db"))
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

func TestHireAndLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst, err := store.Hire(ctx, "tenant-a", "atd_12345678", "db-reader-bot", "DB Reader", "alice")
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	if inst.State != StateDraft {
		t.Fatalf("expected draft, got %s", inst.State)
	}

	if err := store.Transition(ctx, inst.ID, StateProvisioned, ""); err != nil {
		t.Fatalf("transition to provisioned: %v", err)
	}
	if err := store.Transition(ctx, inst.ID, StateActive, ""); err != nil {
		t.Fatalf("transition to active: %v", err)
	}

	got, err := store.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("expected active, got %s", got.State)
	}

	if err := store.Transition(ctx, inst.ID, StateRetired, "no longer needed"); err != nil {
		t.Fatalf("transition to retired: %v", err)
	}
	got, err = store.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get after retire: %v", err)
	}
	if !got.State.IsTerminal() {
		t.Fatalf("expected terminal state, got %s", got.State)
	}
}

func TestTransition_RejectsIllegalEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst, err := store.Hire(ctx, "tenant-a", "atd_12345678", "db-reader-bot", "DB Reader", "alice")
	if err != nil {
		t.Fatalf("hire: %v", err)
	}

	if err := store.Transition(ctx, inst.ID, StateActive, ""); err == nil {
		t.Fatal("expected draft -> active to be rejected (must provision first)")
	}
}

func TestAcquireLease_ExclusiveUntilExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst, err := store.Hire(ctx, "tenant-a", "atd_12345678", "db-reader-bot", "DB Reader", "alice")
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	if err := store.Transition(ctx, inst.ID, StateProvisioned, ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := store.Transition(ctx, inst.ID, StateActive, ""); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := store.AcquireLease(ctx, inst.ID, "worker-1", 50*time.Millisecond); err != nil {
		t.Fatalf("first lease acquisition: %v", err)
	}
	if err := store.AcquireLease(ctx, inst.ID, "worker-2", 50*time.Millisecond); err == nil {
		t.Fatal("expected second worker to fail acquiring an already-held lease")
	}

	time.Sleep(75 * time.Millisecond)

	if err := store.AcquireLease(ctx, inst.ID, "worker-2", 50*time.Millisecond); err != nil {
		t.Fatalf("expected lease acquisition after expiry to succeed: %v", err)
	}
}

func TestConfigureActivate_RequiresGoalsBeforeActivation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst, err := store.Hire(ctx, "tenant-a", "atd_12345678", "db-reader-bot", "DB Reader", "alice")
	if err != nil {
		t.Fatalf("hire: %v", err)
	}

	if err := store.Activate(ctx, inst.ID); err == nil {
		t.Fatal("expected activate to fail before configure")
	}

	if err := store.Configure(ctx, inst.ID, `{"channels":["linkedin"]}`, 1); err != nil {
		t.Fatalf("configure: %v", err)
	}
	got, err := store.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateProvisioned || !got.Configured {
		t.Fatalf("expected provisioned+configured, got state=%s configured=%v", got.State, got.Configured)
	}

	if err := store.Activate(ctx, inst.ID); err == nil {
		t.Fatal("expected activate to fail with no goals posted")
	}

	if err := store.AddGoal(ctx, &Goal{HiredInstanceID: inst.ID, GoalTemplateID: "weekly_blog", Frequency: "weekly"}); err != nil {
		t.Fatalf("add goal: %v", err)
	}
	if err := store.Activate(ctx, inst.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, err = store.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get after activate: %v", err)
	}
	if got.State != StateActive {
		t.Fatalf("expected active, got %s", got.State)
	}
}

func TestResume_RefusesOnAgentTypeVersionChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst, err := store.Hire(ctx, "tenant-a", "atd_12345678", "db-reader-bot", "DB Reader", "alice")
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	if err := store.Configure(ctx, inst.ID, `{}`, 1); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := store.AddGoal(ctx, &Goal{HiredInstanceID: inst.ID, GoalTemplateID: "weekly_blog"}); err != nil {
		t.Fatalf("add goal: %v", err)
	}
	if err := store.Activate(ctx, inst.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Interrupt(ctx, inst.ID, "customer request"); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	if err := store.Resume(ctx, inst.ID, 2); err == nil {
		t.Fatal("expected resume to refuse once the agent type has published a newer version")
	}
	if err := store.Resume(ctx, inst.ID, 1); err != nil {
		t.Fatalf("expected resume at the same agent type version to succeed: %v", err)
	}
}

func TestReleaseLease_RequiresOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst, err := store.Hire(ctx, "tenant-a", "atd_12345678", "db-reader-bot", "DB Reader", "alice")
	if err != nil {
		t.Fatalf("hire: %v", err)
	}
	store.Transition(ctx, inst.ID, StateProvisioned, "")
	store.Transition(ctx, inst.ID, StateActive, "")

	if err := store.AcquireLease(ctx, inst.ID, "worker-1", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := store.ReleaseLease(ctx, inst.ID, "worker-2"); err == nil {
		t.Fatal("expected release by non-owner to fail")
	}
	if err := store.ReleaseLease(ctx, inst.ID, "worker-1"); err != nil {
		t.Fatalf("expected release by owner to succeed: %v", err)
	}
}

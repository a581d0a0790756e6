package budget

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"govcore/internal/audit"

	_ "modernc.org/sqlite"
)

func newTestAccountant(t *testing.T) *Accountant {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "budget_test")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	db, err := sql.Open("sqlite", filepath.Join(tmpDir, "budget.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	auditStore, err := audit.NewStore(audit.StoreConfig{DBPath: filepath.Join(tmpDir, "audit.db")})
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}
	t.Cleanup(func() { auditStore.Close() })

	acct, err := NewAccountant(db, false, auditStore, nil)
	if err != nil {
		t.Fatalf("new accountant: %v", err)
	}
	return acct
}

func TestDebit_IdempotentOnCorrelationAndStep(t *testing.T) {
	acct := newTestAccountant(t)
	ctx := context.Background()

	if _, err := acct.EnsureLedger(ctx, "inst-1", "2026-07-29", 10.0); err != nil {
		t.Fatalf("ensure ledger: %v", err)
	}

	res1, err := acct.Debit(ctx, "inst-1", "2026-07-29", 2.0, "corr-1", "step-1")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !res1.Accepted || res1.Duplicate {
		t.Fatalf("expected first debit accepted and non-duplicate: %+v", res1)
	}

	res2, err := acct.Debit(ctx, "inst-1", "2026-07-29", 2.0, "corr-1", "step-1")
	if err != nil {
		t.Fatalf("retry debit: %v", err)
	}
	if !res2.Duplicate {
		t.Fatalf("expected retried debit to be marked duplicate: %+v", res2)
	}

	ledger, err := acct.Ledger(ctx, "inst-1", "2026-07-29")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.SpentUSD != 2.0 {
		t.Fatalf("expected single charge of 2.0, got %.2f", ledger.SpentUSD)
	}
}

func TestDebit_GatesAt80And95And100(t *testing.T) {
	acct := newTestAccountant(t)
	ctx := context.Background()

	if _, err := acct.EnsureLedger(ctx, "inst-1", "2026-07-29", 10.0); err != nil {
		t.Fatalf("ensure ledger: %v", err)
	}

	res, err := acct.Debit(ctx, "inst-1", "2026-07-29", 8.0, "corr-1", "step-1")
	if err != nil {
		t.Fatalf("debit to 80%%: %v", err)
	}
	if res.GateCrossed != GateWarn {
		t.Fatalf("expected warn gate at 80%%, got %s", res.GateCrossed)
	}

	res, err = acct.Debit(ctx, "inst-1", "2026-07-29", 1.5, "corr-1", "step-2")
	if err != nil {
		t.Fatalf("debit to 95%%: %v", err)
	}
	if res.GateCrossed != GateNotify {
		t.Fatalf("expected notify gate at 95%%, got %s", res.GateCrossed)
	}

	res, err = acct.Debit(ctx, "inst-1", "2026-07-29", 0.5, "corr-1", "step-3")
	if err != nil {
		t.Fatalf("debit to 100%%: %v", err)
	}
	if res.GateCrossed != GateExhausted {
		t.Fatalf("expected exhausted gate at 100%%, got %s", res.GateCrossed)
	}

	zero, err := acct.Debit(ctx, "inst-1", "2026-07-29", 0, "corr-1", "step-4")
	if err != nil {
		t.Fatalf("zero-cost debit at 100%%: %v", err)
	}
	if !zero.Accepted {
		t.Fatal("expected zero-cost debit to succeed even at exactly 100% utilisation")
	}

	refused, err := acct.Debit(ctx, "inst-1", "2026-07-29", 0.01, "corr-1", "step-5")
	if err != nil {
		t.Fatalf("debit beyond 100%%: %v", err)
	}
	if refused.Accepted {
		t.Fatal("expected positive-cost debit beyond exhausted ledger to be refused")
	}
}

func TestGrantEmergency_RaisesEffectiveLimit(t *testing.T) {
	acct := newTestAccountant(t)
	ctx := context.Background()

	if _, err := acct.EnsureLedger(ctx, "inst-1", "2026-07-29", 10.0); err != nil {
		t.Fatalf("ensure ledger: %v", err)
	}
	if _, err := acct.Debit(ctx, "inst-1", "2026-07-29", 10.0, "corr-1", "step-1"); err != nil {
		t.Fatalf("debit to exhaustion: %v", err)
	}

	refused, err := acct.Debit(ctx, "inst-1", "2026-07-29", 1.0, "corr-1", "step-2")
	if err != nil {
		t.Fatalf("debit beyond limit: %v", err)
	}
	if refused.Accepted {
		t.Fatal("expected debit refused before emergency grant")
	}

	if err := acct.GrantEmergency(ctx, "inst-1", "2026-07-29", 5.0, "apr_12345678"); err != nil {
		t.Fatalf("grant emergency: %v", err)
	}

	res, err := acct.Debit(ctx, "inst-1", "2026-07-29", 1.0, "corr-1", "step-2")
	if err != nil {
		t.Fatalf("debit after grant: %v", err)
	}
	if !res.Accepted {
		t.Fatal("expected debit to succeed after emergency grant raised the effective limit")
	}
}

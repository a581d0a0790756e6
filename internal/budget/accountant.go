package budget

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"govcore/internal/audit"
)

// Accountant enforces the per-instance-day budget gates. It persists the
// ledger and every individual debit row, keyed so that a retried debit for
// the same correlation/step is a no-op rather than a second charge — the
// same conditional-write idempotency pattern the approval package's Store
// uses for exactly-once approval resolution.
type Accountant struct {
	db         *sql.DB
	isPostgres bool
	audit      *audit.Store
	notifier   Notifier
}

// NewAccountant creates an Accountant using an already-open database
// connection. notifier may be nil, in which case the 95% gate is recorded
// only as an audit event with no outward notification.
func NewAccountant(db *sql.DB, isPostgres bool, auditStore *audit.Store, notifier Notifier) (*Accountant, error) {
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create budget tables: %w", err)
	}
	return &Accountant{db: db, isPostgres: isPostgres, audit: auditStore, notifier: notifier}, nil
}

func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS budget_ledgers (
		instance_id TEXT NOT NULL,
		day TEXT NOT NULL,
		limit_usd REAL NOT NULL,
		spent_usd REAL NOT NULL DEFAULT 0,
		emergency_grant_usd REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (instance_id, day)
	);

	CREATE TABLE IF NOT EXISTS budget_debits (
		instance_id TEXT NOT NULL,
		day TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		cost_usd REAL NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (instance_id, day, correlation_id, step_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// EnsureLedger creates today's ledger row for an instance if it doesn't
// already exist, with the given daily limit.
func (a *Accountant) EnsureLedger(ctx context.Context, instanceID, day string, limitUSD float64) (*Ledger, error) {
	now := time.Now().UTC()
	_, err := a.db.ExecContext(ctx, rebind(a.isPostgres, `
		INSERT INTO budget_ledgers (instance_id, day, limit_usd, spent_usd, emergency_grant_usd, created_at, updated_at)
		SELECT ?, ?, ?, 0, 0, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM budget_ledgers WHERE instance_id = ? AND day = ?)
	`), instanceID, day, limitUSD, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), instanceID, day)
	if err != nil {
		return nil, fmt.Errorf("ensure ledger: %w", err)
	}
	return a.getLedger(ctx, instanceID, day)
}

func (a *Accountant) getLedger(ctx context.Context, instanceID, day string) (*Ledger, error) {
	row := a.db.QueryRowContext(ctx, rebind(a.isPostgres, `
		SELECT instance_id, day, limit_usd, spent_usd, emergency_grant_usd, created_at, updated_at
		FROM budget_ledgers WHERE instance_id = ? AND day = ?
	`), instanceID, day)

	var l Ledger
	var createdAt, updatedAt string
	if err := row.Scan(&l.InstanceID, &l.Day, &l.LimitUSD, &l.SpentUSD, &l.EmergencyGrantUSD, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no budget ledger for instance %s on %s", instanceID, day)
		}
		return nil, err
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &l, nil
}

// Debit applies a cost to an instance-day's ledger. It is idempotent on
// (instanceID, day, correlationID, stepID): a retried call with the same
// key returns the same result without charging twice. A debit of 0 cost
// always succeeds, even at exactly 100% utilisation — only cost > 0 is
// refused once the ledger is exhausted.
func (a *Accountant) Debit(ctx context.Context, instanceID, day string, costUSD float64, correlationID, stepID string) (DebitResult, error) {
	ledger, err := a.getLedger(ctx, instanceID, day)
	if err != nil {
		return DebitResult{}, err
	}

	if found, err := a.findDebit(ctx, instanceID, day, correlationID, stepID); err != nil {
		return DebitResult{}, err
	} else if found {
		return DebitResult{
			Accepted:    true,
			Duplicate:   true,
			Utilisation: ledger.Utilisation(),
			Ledger:      *ledger,
		}, nil
	}

	preUtil := ledger.Utilisation()
	if costUSD > 0 && preUtil >= ExhaustedThreshold {
		return DebitResult{Accepted: false, Utilisation: preUtil, GateCrossed: GateExhausted, Ledger: *ledger}, nil
	}

	now := time.Now().UTC()
	res, err := a.db.ExecContext(ctx, rebind(a.isPostgres, `
		INSERT INTO budget_debits (instance_id, day, correlation_id, step_id, cost_usd, recorded_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM budget_debits WHERE instance_id = ? AND day = ? AND correlation_id = ? AND step_id = ?
		)
	`), instanceID, day, correlationID, stepID, costUSD, now.Format(time.RFC3339Nano),
		instanceID, day, correlationID, stepID)
	if err != nil {
		return DebitResult{}, fmt.Errorf("insert debit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race to a concurrent identical debit; treat as duplicate.
		ledger, _ = a.getLedger(ctx, instanceID, day)
		return DebitResult{Accepted: true, Duplicate: true, Utilisation: ledger.Utilisation(), Ledger: *ledger}, nil
	}

	_, err = a.db.ExecContext(ctx, rebind(a.isPostgres, `
		UPDATE budget_ledgers SET spent_usd = spent_usd + ?, updated_at = ? WHERE instance_id = ? AND day = ?
	`), costUSD, now.Format(time.RFC3339Nano), instanceID, day)
	if err != nil {
		return DebitResult{}, fmt.Errorf("update ledger: %w", err)
	}

	ledger, err = a.getLedger(ctx, instanceID, day)
	if err != nil {
		return DebitResult{}, err
	}
	postUtil := ledger.Utilisation()
	gate := a.gateFor(preUtil, postUtil)

	if gate != GateNone && a.audit != nil {
		a.recordGateEvent(ctx, instanceID, day, postUtil, gate)
	}
	if gate == GateNotify && a.notifier != nil {
		_ = a.notifier.NotifyBudgetWarning(instanceID, day, postUtil)
	}

	return DebitResult{Accepted: true, Utilisation: postUtil, GateCrossed: gate, Ledger: *ledger}, nil
}

// gateFor reports the highest threshold crossed by this debit, comparing
// utilisation before and after so a gate fires exactly once per crossing.
func (a *Accountant) gateFor(pre, post float64) Gate {
	switch {
	case pre < ExhaustedThreshold && post >= ExhaustedThreshold:
		return GateExhausted
	case pre < NotifyThreshold && post >= NotifyThreshold:
		return GateNotify
	case pre < WarnThreshold && post >= WarnThreshold:
		return GateWarn
	default:
		return GateNone
	}
}

func (a *Accountant) findDebit(ctx context.Context, instanceID, day, correlationID, stepID string) (bool, error) {
	var cost float64
	err := a.db.QueryRowContext(ctx, rebind(a.isPostgres, `
		SELECT cost_usd FROM budget_debits WHERE instance_id = ? AND day = ? AND correlation_id = ? AND step_id = ?
	`), instanceID, day, correlationID, stepID).Scan(&cost)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *Accountant) recordGateEvent(ctx context.Context, instanceID, day string, utilisation float64, gate Gate) {
	label := map[Gate]string{
		GateWarn:      "BUDGET_WARN",
		GateNotify:    "BUDGET_NOTIFY",
		GateExhausted: "BUDGET_EXHAUSTED",
	}[gate]
	evt := &audit.Event{
		EventType: audit.EventTypeBudgetDebit,
		Session:   audit.Session{ID: instanceID, InstanceID: instanceID},
		Input:     audit.Input{UserQuery: fmt.Sprintf("%s: instance %s utilisation %.2f%% on %s", label, instanceID, utilisation*100, day)},
	}
	_ = a.audit.Record(ctx, evt)
}

// GrantEmergency raises an instance-day's effective limit by amountUSD.
// Callers must have already confirmed an APPROVED emergency_budget
// Approval Request before calling this — the Accountant itself does not
// look approvals up, to avoid an import cycle back to the approval package.
func (a *Accountant) GrantEmergency(ctx context.Context, instanceID, day string, amountUSD float64, approvalID string) error {
	now := time.Now().UTC()
	res, err := a.db.ExecContext(ctx, rebind(a.isPostgres, `
		UPDATE budget_ledgers SET emergency_grant_usd = emergency_grant_usd + ?, updated_at = ?
		WHERE instance_id = ? AND day = ?
	`), amountUSD, now.Format(time.RFC3339Nano), instanceID, day)
	if err != nil {
		return fmt.Errorf("grant emergency budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no ledger for instance %s on %s to grant against", instanceID, day)
	}
	if a.audit != nil {
		evt := &audit.Event{
			EventType: audit.EventTypeBudgetDebit,
			Session:   audit.Session{ID: instanceID, InstanceID: instanceID},
			Input:     audit.Input{UserQuery: fmt.Sprintf("emergency budget grant of %.2f USD via approval %s", amountUSD, approvalID)},
		}
		_ = a.audit.Record(ctx, evt)
	}
	return nil
}

// Ledger returns the current ledger for an instance-day.
func (a *Accountant) Ledger(ctx context.Context, instanceID, day string) (*Ledger, error) {
	return a.getLedger(ctx, instanceID, day)
}

// ListDebits returns the recorded debit rows for an instance since a given
// time, most recent first — backs GET /v1/usage/events.
func (a *Accountant) ListDebits(ctx context.Context, instanceID string, since time.Time, limit int) ([]UsageEvent, error) {
	query := `
		SELECT instance_id, day, correlation_id, step_id, cost_usd, recorded_at
		FROM budget_debits WHERE instance_id = ?`
	args := []any{instanceID}
	if !since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, since.Format(time.RFC3339Nano))
	}
	query += " ORDER BY recorded_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, rebind(a.isPostgres, query), args...)
	if err != nil {
		return nil, fmt.Errorf("list debits: %w", err)
	}
	defer rows.Close()

	var out []UsageEvent
	for rows.Next() {
		var ev UsageEvent
		var recordedAt string
		if err := rows.Scan(&ev.InstanceID, &ev.Day, &ev.CorrelationID, &ev.StepID, &ev.CostUSD, &recordedAt); err != nil {
			return nil, err
		}
		ev.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Aggregate buckets an instance's debits by day or by month, most recent
// bucket first — backs GET /v1/usage/aggregate?bucket=day|month.
func (a *Accountant) Aggregate(ctx context.Context, instanceID, bucket string) ([]UsageBucket, error) {
	dayExpr := "day"
	if bucket == "month" {
		dayExpr = "substr(day, 1, 7)"
	}
	query := rebind(a.isPostgres, fmt.Sprintf(`
		SELECT %s AS bucket, SUM(cost_usd), COUNT(*)
		FROM budget_debits WHERE instance_id = ?
		GROUP BY %s ORDER BY %s DESC
	`, dayExpr, dayExpr, dayExpr))

	rows, err := a.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	defer rows.Close()

	var out []UsageBucket
	for rows.Next() {
		var b UsageBucket
		if err := rows.Scan(&b.Bucket, &b.CostUSD, &b.Events); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

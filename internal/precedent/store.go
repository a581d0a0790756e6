package precedent

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Store persists seeds and the auto-approval records created when an
// instance acts on a seed's latitude.
type Store struct {
	db         *sql.DB
	isPostgres bool
}

// NewStore creates a Store using an already-open database connection.
func NewStore(db *sql.DB, isPostgres bool) (*Store, error) {
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create precedent tables: %w", err)
	}
	return &Store{db: db, isPostgres: isPostgres}, nil
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
	CREATE TABLE IF NOT EXISTS precedent_seeds (
		id TEXT PRIMARY KEY,
		agent_type_id TEXT NOT NULL,
		action TEXT NOT NULL,
		risk_bucket TEXT NOT NULL,
		principle TEXT,
		rationale TEXT,
		example TEXT,
		sample_size INTEGER,
		mean_confidence REAL,
		status TEXT NOT NULL,
		reject_reason TEXT,
		false_positive_count INTEGER NOT NULL DEFAULT 0,
		drafted_at TEXT,
		reviewed_at TEXT,
		reviewed_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_precedent_seeds_status ON precedent_seeds(status);

	CREATE TABLE IF NOT EXISTS precedent_auto_approvals (
		approval_id TEXT PRIMARY KEY,
		seed_id TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		decided_at TEXT,
		veto_until TEXT,
		vetoed INTEGER NOT NULL DEFAULT 0,
		vetoed_at TEXT
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveSeed upserts a seed (insert on first save, update thereafter).
func (s *Store) SaveSeed(ctx context.Context, seed *Seed) error {
	_, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO precedent_seeds
			(id, agent_type_id, action, risk_bucket, principle, rationale, example,
			 sample_size, mean_confidence, status, reject_reason, false_positive_count,
			 drafted_at, reviewed_at, reviewed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			reject_reason = excluded.reject_reason,
			false_positive_count = excluded.false_positive_count,
			reviewed_at = excluded.reviewed_at,
			reviewed_by = excluded.reviewed_by
	`), seed.ID, seed.AgentTypeID, seed.Action, seed.RiskBucket, seed.Principle, seed.Rationale, seed.Example,
		seed.SampleSize, seed.MeanConfidence, string(seed.Status), seed.RejectReason, seed.FalsePositiveCount,
		formatTimeOrNull(seed.DraftedAt), formatTimeOrNull(seed.ReviewedAt), seed.ReviewedBy)
	if err != nil {
		return fmt.Errorf("save seed: %w", err)
	}
	return nil
}

// ListByStatus returns every seed in a given status.
func (s *Store) ListByStatus(ctx context.Context, status SeedStatus) ([]*Seed, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, `
		SELECT id, agent_type_id, action, risk_bucket, principle, rationale, example,
			sample_size, mean_confidence, status, reject_reason, false_positive_count,
			drafted_at, reviewed_at, reviewed_by
		FROM precedent_seeds WHERE status = ?
	`), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Seed
	for rows.Next() {
		var seed Seed
		var statusStr string
		var draftedAt, reviewedAt sql.NullString
		if err := rows.Scan(&seed.ID, &seed.AgentTypeID, &seed.Action, &seed.RiskBucket, &seed.Principle,
			&seed.Rationale, &seed.Example, &seed.SampleSize, &seed.MeanConfidence, &statusStr,
			&seed.RejectReason, &seed.FalsePositiveCount, &draftedAt, &reviewedAt, &seed.ReviewedBy); err != nil {
			return nil, err
		}
		seed.Status = SeedStatus(statusStr)
		seed.DraftedAt = parseTimeOrZero(draftedAt)
		seed.ReviewedAt = parseTimeOrZero(reviewedAt)
		out = append(out, &seed)
	}
	return out, rows.Err()
}

// GetSeed loads one seed by ID.
func (s *Store) GetSeed(ctx context.Context, seedID string) (*Seed, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.isPostgres, `
		SELECT id, agent_type_id, action, risk_bucket, principle, rationale, example,
			sample_size, mean_confidence, status, reject_reason, false_positive_count,
			drafted_at, reviewed_at, reviewed_by
		FROM precedent_seeds WHERE id = ?
	`), seedID)

	var seed Seed
	var statusStr string
	var draftedAt, reviewedAt sql.NullString
	err := row.Scan(&seed.ID, &seed.AgentTypeID, &seed.Action, &seed.RiskBucket, &seed.Principle,
		&seed.Rationale, &seed.Example, &seed.SampleSize, &seed.MeanConfidence, &statusStr,
		&seed.RejectReason, &seed.FalsePositiveCount, &draftedAt, &reviewedAt, &seed.ReviewedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get seed: %w", err)
	}
	seed.Status = SeedStatus(statusStr)
	seed.DraftedAt = parseTimeOrZero(draftedAt)
	seed.ReviewedAt = parseTimeOrZero(reviewedAt)
	return &seed, nil
}

// ListSeeds returns every seed, or only those in status when it is non-empty.
func (s *Store) ListSeeds(ctx context.Context, status SeedStatus) ([]*Seed, error) {
	if status != "" {
		return s.ListByStatus(ctx, status)
	}
	var out []*Seed
	for _, st := range []SeedStatus{SeedDraft, SeedApproved, SeedRejected, SeedRevised, SeedDeferred, SeedDeprecated} {
		seeds, err := s.ListByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, seeds...)
	}
	return out, nil
}

// FindApprovedSeed returns an APPROVED seed granting latitude for the given
// {agent_type, action} pair, or nil when none applies. This is the lookup
// the execution engine makes before opening a fresh human approval.
func (s *Store) FindApprovedSeed(ctx context.Context, agentTypeID, action string) (*Seed, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.isPostgres, `
		SELECT id FROM precedent_seeds
		WHERE agent_type_id = ? AND action = ? AND status = 'approved'
		ORDER BY reviewed_at DESC LIMIT 1
	`), agentTypeID, action)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find approved seed: %w", err)
	}
	return s.GetSeed(ctx, id)
}

// RecordAutoApproval persists an informational auto-approval made on a
// seed's authority, opening its veto window.
func (s *Store) RecordAutoApproval(ctx context.Context, a *AutoApproval) error {
	_, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO precedent_auto_approvals (approval_id, seed_id, instance_id, decided_at, veto_until, vetoed, vetoed_at)
		VALUES (?, ?, ?, ?, ?, 0, NULL)
	`), a.ApprovalID, a.SeedID, a.InstanceID, a.DecidedAt.Format(time.RFC3339Nano), a.VetoUntil.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record auto approval: %w", err)
	}
	return nil
}

// GetAutoApproval loads one auto-approval record by its approval ID.
func (s *Store) GetAutoApproval(ctx context.Context, approvalID string) (*AutoApproval, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.isPostgres, `
		SELECT approval_id, seed_id, instance_id, decided_at, veto_until, vetoed, vetoed_at
		FROM precedent_auto_approvals WHERE approval_id = ?
	`), approvalID)

	var a AutoApproval
	var decidedAt, vetoUntil, vetoedAt sql.NullString
	var vetoed int
	err := row.Scan(&a.ApprovalID, &a.SeedID, &a.InstanceID, &decidedAt, &vetoUntil, &vetoed, &vetoedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auto approval: %w", err)
	}
	a.DecidedAt = parseTimeOrZero(decidedAt)
	a.VetoUntil = parseTimeOrZero(vetoUntil)
	a.Vetoed = vetoed != 0
	a.VetoedAt = parseTimeOrZero(vetoedAt)
	return &a, nil
}

// Veto marks an auto-approval as vetoed, provided it's still within its
// veto window.
func (s *Store) Veto(ctx context.Context, approvalID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		UPDATE precedent_auto_approvals SET vetoed = 1, vetoed_at = ?
		WHERE approval_id = ? AND vetoed = 0 AND veto_until > ?
	`), now.Format(time.RFC3339Nano), approvalID, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("veto: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auto approval %s: veto window closed or already vetoed", approvalID)
	}
	return nil
}

func formatTimeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTimeOrZero(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

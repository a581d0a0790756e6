package subscription

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists agent instances. It follows the same dual sqlite/postgres
// rebind convention used throughout the rest of the governance core.
type Store struct {
	db         *sql.DB
	isPostgres bool
}

// NewStore creates a Store using an already-open database connection.
func NewStore(db *sql.DB, isPostgres bool) (*Store, error) {
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create subscription tables: %w", err)
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
	CREATE TABLE IF NOT EXISTS agent_instances (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		agent_type_id TEXT NOT NULL,
		agent_type_name TEXT NOT NULL,
		agent_type_version INTEGER NOT NULL DEFAULT 0,
		display_name TEXT,
		state TEXT NOT NULL,
		hired_by TEXT,
		hired_at TEXT,
		provisioned_at TEXT,
		retired_at TEXT,
		retired_reason TEXT,
		config TEXT NOT NULL DEFAULT '',
		configured INTEGER NOT NULL DEFAULT 0,
		budget_daily_usd REAL NOT NULL DEFAULT 0,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_until TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_instances_tenant ON agent_instances(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_agent_instances_state ON agent_instances(state);

	CREATE TABLE IF NOT EXISTS instance_goals (
		goal_instance_id TEXT PRIMARY KEY,
		hired_instance_id TEXT NOT NULL,
		goal_template_id TEXT NOT NULL,
		frequency TEXT,
		settings TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_instance_goals_instance ON instance_goals(hired_instance_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Hire creates a new instance in StateDraft for the given tenant and
// certified agent type.
func (s *Store) Hire(ctx context.Context, tenantID, agentTypeID, agentTypeName, displayName, hiredBy string) (*Instance, error) {
	now := time.Now().UTC()
	inst := &Instance{
		ID:            "inst_" + uuid.New().String()[:8],
		TenantID:      tenantID,
		AgentTypeID:   agentTypeID,
		AgentTypeName: agentTypeName,
		DisplayName:   displayName,
		State:         StateDraft,
		HiredBy:       hiredBy,
		HiredAt:       now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	metaJSON, _ := json.Marshal(inst.Metadata)
	_, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO agent_instances
			(id, tenant_id, agent_type_id, agent_type_name, display_name, state, hired_by, hired_at, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), inst.ID, inst.TenantID, inst.AgentTypeID, inst.AgentTypeName, inst.DisplayName, string(inst.State),
		inst.HiredBy, formatTimeOrNull(inst.HiredAt), string(metaJSON),
		inst.CreatedAt.Format(time.RFC3339Nano), inst.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("hire instance: %w", err)
	}
	return inst, nil
}

// Configure persists a validated config document and moves the instance
// draft -> provisioned (§4.1's "draft --configure--> provisioned"). Schema
// and required-skill-key validation is the caller's job (certification.
// Registry + ValidateConfig) — by the time Configure is called the config
// is already known-good; this just records it and advances the lifecycle.
func (s *Store) Configure(ctx context.Context, id, configJSON string, agentTypeVersion int) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.State != StateDraft {
		return fmt.Errorf("instance %s: configure requires state draft, got %s", id, inst.State)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		UPDATE agent_instances
		SET config = ?, configured = 1, agent_type_version = ?, state = ?, provisioned_at = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`), configJSON, agentTypeVersion, string(StateProvisioned), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), id, string(StateDraft))
	if err != nil {
		return fmt.Errorf("configure instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %s: configure lost the race, state changed concurrently", id)
	}
	return nil
}

// Activate requires a non-empty goal set (§4.1's "activate requires a
// non-empty goal set") and moves provisioned -> active.
func (s *Store) Activate(ctx context.Context, id string) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.State != StateProvisioned {
		return fmt.Errorf("instance %s: activate requires state provisioned, got %s", id, inst.State)
	}
	goals, err := s.ListGoals(ctx, id)
	if err != nil {
		return err
	}
	if len(goals) == 0 {
		return fmt.Errorf("instance %s: activate requires at least one goal", id)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		UPDATE agent_instances SET state = ?, updated_at = ? WHERE id = ? AND state = ?
	`), string(StateActive), now.Format(time.RFC3339Nano), id, string(StateProvisioned))
	if err != nil {
		return fmt.Errorf("activate instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %s: activate lost the race, state changed concurrently", id)
	}
	return nil
}

// Interrupt moves active -> interrupted, reachable via customer request or
// a budget gate (§4.1).
func (s *Store) Interrupt(ctx context.Context, id, reason string) error {
	return s.Transition(ctx, id, StateInterrupted, reason)
}

// Resume moves interrupted -> active. currentAgentTypeVersion lets the
// caller enforce §4.1's "resumption requires re-validation if the Agent
// Type version has changed": pass 0 to skip the check.
func (s *Store) Resume(ctx context.Context, id string, currentAgentTypeVersion int) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.State != StateInterrupted {
		return fmt.Errorf("instance %s: resume requires state interrupted, got %s", id, inst.State)
	}
	if currentAgentTypeVersion != 0 && inst.AgentTypeVersion != currentAgentTypeVersion {
		return fmt.Errorf("instance %s: agent type has published version %d since this instance was configured at version %d, reconfigure before resuming", id, currentAgentTypeVersion, inst.AgentTypeVersion)
	}
	return s.Transition(ctx, id, StateActive, "")
}

// AddGoal records a standing goal against a hired instance.
func (s *Store) AddGoal(ctx context.Context, g *Goal) error {
	if g.GoalInstanceID == "" {
		g.GoalInstanceID = "goal_" + uuid.New().String()[:8]
	}
	g.CreatedAt = time.Now().UTC()
	settingsJSON, _ := json.Marshal(g.Settings)
	_, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		INSERT INTO instance_goals (goal_instance_id, hired_instance_id, goal_template_id, frequency, settings, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), g.GoalInstanceID, g.HiredInstanceID, g.GoalTemplateID, g.Frequency, string(settingsJSON), g.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add goal: %w", err)
	}
	return nil
}

// ListGoals returns every standing goal posted against a hired instance.
func (s *Store) ListGoals(ctx context.Context, hiredInstanceID string) ([]*Goal, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, `
		SELECT goal_instance_id, hired_instance_id, goal_template_id, frequency, settings, created_at
		FROM instance_goals WHERE hired_instance_id = ? ORDER BY created_at ASC
	`), hiredInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Goal
	for rows.Next() {
		var g Goal
		var settingsRaw, createdAt string
		if err := rows.Scan(&g.GoalInstanceID, &g.HiredInstanceID, &g.GoalTemplateID, &g.Frequency, &settingsRaw, &createdAt); err != nil {
			return nil, err
		}
		if settingsRaw != "" {
			_ = json.Unmarshal([]byte(settingsRaw), &g.Settings)
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &g)
	}
	return out, rows.Err()
}

// Get retrieves an instance by ID.
func (s *Store) Get(ctx context.Context, id string) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.isPostgres, selectColumns+` WHERE id = ?`), id)
	return scanRow(row)
}

// ListByTenant lists every instance belonging to a tenant, optionally
// filtered by state (empty string means all states).
func (s *Store) ListByTenant(ctx context.Context, tenantID string, state State) ([]*Instance, error) {
	query := selectColumns + ` WHERE tenant_id = ?`
	args := []any{tenantID}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, rebind(s.isPostgres, query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Transition moves an instance from its current state to next, rejecting
// the call outright if the edge isn't legal for the state read under the
// same query (a stale read can't silently force an illegal transition,
// because the UPDATE's WHERE clause re-checks the state at write time).
func (s *Store) Transition(ctx context.Context, id string, next State, reason string) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !inst.State.CanTransition(next) {
		return fmt.Errorf("instance %s: illegal transition %s -> %s", id, inst.State, next)
	}

	now := time.Now().UTC()
	set := `state = ?, updated_at = ?`
	args := []any{string(next), now.Format(time.RFC3339Nano)}

	switch next {
	case StateProvisioned:
		set += `, provisioned_at = ?`
		args = append(args, now.Format(time.RFC3339Nano))
	case StateRetired:
		set += `, retired_at = ?, retired_reason = ?, lease_owner = '', lease_until = NULL`
		args = append(args, now.Format(time.RFC3339Nano), reason)
	}

	args = append(args, id, string(inst.State))
	query := fmt.Sprintf(`UPDATE agent_instances SET %s WHERE id = ? AND state = ?`, set)
	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres, query), args...)
	if err != nil {
		return fmt.Errorf("transition instance: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %s: transition lost the race, state changed concurrently", id)
	}
	return nil
}

// AcquireLease attempts to take exclusive use of an active instance for
// owner (typically a worker/goal-cycle ID), valid for ttl. Succeeds only
// if the instance is active and currently unleased or its lease has
// expired — this is the row-level equivalent of a mutex that survives
// process restarts.
func (s *Store) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	now := time.Now().UTC()
	until := now.Add(ttl)

	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		UPDATE agent_instances
		SET lease_owner = ?, lease_until = ?, updated_at = ?
		WHERE id = ? AND state = ? AND (lease_owner = '' OR lease_until < ?)
	`), owner, until.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		id, string(StateActive), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %s: could not acquire lease, already held or not active", id)
	}
	return nil
}

// ReleaseLease gives up the lease early, provided owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, id, owner string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, rebind(s.isPostgres, `
		UPDATE agent_instances
		SET lease_owner = '', lease_until = NULL, updated_at = ?
		WHERE id = ? AND lease_owner = ?
	`), now.Format(time.RFC3339Nano), id, owner)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("instance %s: lease not held by %s", id, owner)
	}
	return nil
}

const selectColumns = `
	SELECT id, tenant_id, agent_type_id, agent_type_name, agent_type_version, display_name, state,
		hired_by, hired_at, provisioned_at, retired_at, retired_reason,
		config, configured, budget_daily_usd,
		lease_owner, lease_until, metadata, created_at, updated_at
	FROM agent_instances`

func scanRow(row *sql.Row) (*Instance, error) {
	return scan(row.Scan)
}

func scanRows(rows *sql.Rows) (*Instance, error) {
	return scan(rows.Scan)
}

func scan(scanFn func(dest ...any) error) (*Instance, error) {
	var inst Instance
	var hiredAt, provisionedAt, retiredAt, leaseUntil, createdAt, updatedAt sql.NullString
	var displayName, hiredBy, retiredReason, leaseOwner, metaRaw, configRaw sql.NullString
	var configured int

	err := scanFn(&inst.ID, &inst.TenantID, &inst.AgentTypeID, &inst.AgentTypeName, &inst.AgentTypeVersion, &displayName, &inst.State,
		&hiredBy, &hiredAt, &provisionedAt, &retiredAt, &retiredReason,
		&configRaw, &configured, &inst.BudgetDailyUSD,
		&leaseOwner, &leaseUntil, &metaRaw, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("instance not found")
	}
	if err != nil {
		return nil, err
	}

	inst.DisplayName = displayName.String
	inst.HiredBy = hiredBy.String
	inst.RetiredReason = retiredReason.String
	inst.LeaseOwner = leaseOwner.String
	inst.Config = configRaw.String
	inst.Configured = configured != 0
	inst.HiredAt = parseTimeOrZero(hiredAt)
	inst.ProvisionedAt = parseTimeOrZero(provisionedAt)
	inst.RetiredAt = parseTimeOrZero(retiredAt)
	inst.LeaseUntil = parseTimeOrZero(leaseUntil)
	inst.CreatedAt = parseTimeOrZero(createdAt)
	inst.UpdatedAt = parseTimeOrZero(updatedAt)

	if metaRaw.Valid && metaRaw.String != "" {
		_ = json.Unmarshal([]byte(metaRaw.String), &inst.Metadata)
	}

	return &inst, nil
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

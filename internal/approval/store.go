// Package approval implements the approval request state machine: every
// action a policy decision marks require_approval becomes an ApprovalRequest
// that transitions PENDING → APPROVED/DENIED/DEFERRED/ESCALATED/EXPIRED.
// Resolution is exactly-once: the first UPDATE that matches status='pending'
// wins a race between two approvers, and every later writer's affected-row
// count is zero.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"govcore/internal/audit"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusDeferred  Status = "deferred"
	StatusEscalated Status = "escalated"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status will never transition again.
// DEFERRED and ESCALATED are not terminal: a deferred request can be
// resubmitted back to pending, and an escalated one still resolves to
// approved/denied/expired.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Request represents a pending or resolved approval request.
type Request struct {
	ApprovalID string `json:"approval_id"`
	EventID    string `json:"event_id,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`

	Status Status `json:"status"`

	ActionClass  string `json:"action_class"`
	ToolName     string `json:"tool_name,omitempty"`
	InstanceID   string `json:"instance_id,omitempty"` // agent instance that requested this
	ResourceType string `json:"resource_type,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`

	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`

	RequestContext map[string]any `json:"request_context,omitempty"`

	ResolvedBy       string    `json:"resolved_by,omitempty"`
	ResolvedAt       time.Time `json:"resolved_at,omitempty"`
	ResolutionReason string    `json:"resolution_reason,omitempty"`

	ExpiresAt          time.Time `json:"expires_at,omitempty"`
	ApprovalValidUntil time.Time `json:"approval_valid_until,omitempty"`

	// EscalatedTo names the higher approver role/queue this request was
	// pushed to. Populated only when Status == StatusEscalated.
	EscalatedTo string `json:"escalated_to,omitempty"`

	// ResubmitAfter holds the time a deferred request becomes eligible for
	// Resubmit. Populated only when Status == StatusDeferred.
	ResubmitAfter time.Time `json:"resubmit_after,omitempty"`

	PolicyName   string `json:"policy_name,omitempty"`
	ApproverRole string `json:"approver_role,omitempty"`
	Quorum       int    `json:"quorum,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsValid reports whether the request is an approval still usable to clear
// a policy gate: approved and, if it carries a validity window, still
// within it.
func (r *Request) IsValid() bool {
	if r.Status != StatusApproved {
		return false
	}
	if !r.ApprovalValidUntil.IsZero() && time.Now().After(r.ApprovalValidUntil) {
		return false
	}
	return true
}

// Store persists approval requests. It is backed by the same *sql.DB as the
// audit Store (sqlite or postgres), following the dual-backend convention
// used throughout the governance core.
type Store struct {
	db       *sql.DB
	audit    *audit.Store
	waiters  map[string][]chan *Request
	waiterMu sync.Mutex
}

// NewStore creates a Store using an already-open database connection.
// auditStore may be nil in tests that don't care about the audit trail;
// every production call site wires the real one so every state change is
// recorded per §4.6 before the caller is acknowledged.
func NewStore(db *sql.DB, auditStore *audit.Store) (*Store, error) {
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create approval tables: %w", err)
	}
	return &Store{db: db, audit: auditStore, waiters: make(map[string][]chan *Request)}, nil
}

// recordStateChange emits an APPROVAL_STATE_CHANGED audit event. Best-effort:
// an audit write failure here does not unwind an already-committed approval
// state change (the row update already happened), it is only logged.
func (s *Store) recordStateChange(ctx context.Context, req *Request, label string) {
	if s.audit == nil {
		return
	}
	evt := &audit.Event{
		EventType: audit.EventTypeApprovalResolved,
		TraceID:   req.TraceID,
		Session:   audit.Session{ID: req.TraceID, InstanceID: req.InstanceID},
		Input:     audit.Input{UserQuery: label},
		Approval: &audit.Approval{
			ApprovalID:   req.ApprovalID,
			Status:       audit.ApprovalStatus(req.Status),
			ActionClass:  req.ActionClass,
			ResourceName: req.ResourceName,
			ResolvedBy:   req.ResolvedBy,
			Reason:       req.ResolutionReason,
		},
	}
	if err := s.audit.Record(ctx, evt); err != nil {
		_ = err // best-effort; approval state is already durable in its own table
	}
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS approval_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		approval_id TEXT UNIQUE NOT NULL,
		event_id TEXT,
		trace_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		action_class TEXT NOT NULL,
		tool_name TEXT,
		instance_id TEXT,
		resource_type TEXT,
		resource_name TEXT,
		requested_by TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		request_context TEXT,
		resolved_by TEXT,
		resolved_at TEXT,
		resolution_reason TEXT,
		expires_at TEXT,
		approval_valid_until TEXT,
		escalated_to TEXT,
		resubmit_after TEXT,
		policy_name TEXT,
		approver_role TEXT,
		quorum INTEGER DEFAULT 1,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	indexes := `
	CREATE INDEX IF NOT EXISTS idx_approvals_status ON approval_requests(status);
	CREATE INDEX IF NOT EXISTS idx_approvals_trace ON approval_requests(trace_id);
	CREATE INDEX IF NOT EXISTS idx_approvals_instance ON approval_requests(instance_id);
	CREATE INDEX IF NOT EXISTS idx_approvals_expires ON approval_requests(expires_at);
	CREATE INDEX IF NOT EXISTS idx_approvals_resubmit ON approval_requests(resubmit_after);
	`
	_, err := db.Exec(indexes)
	return err
}

// CreateRequest inserts a new pending approval request.
func (s *Store) CreateRequest(ctx context.Context, req *Request) error {
	if req.ApprovalID == "" {
		req.ApprovalID = "apr_" + uuid.New().String()[:8]
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if req.Quorum <= 0 {
		req.Quorum = 1
	}
	req.CreatedAt = time.Now().UTC()
	req.UpdatedAt = req.CreatedAt

	ctxJSON, err := json.Marshal(req.RequestContext)
	if err != nil {
		ctxJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (
			approval_id, event_id, trace_id, status,
			action_class, tool_name, instance_id, resource_type, resource_name,
			requested_by, requested_at, request_context,
			expires_at, policy_name, approver_role, quorum,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ApprovalID, req.EventID, req.TraceID, string(req.Status),
		req.ActionClass, req.ToolName, req.InstanceID, req.ResourceType, req.ResourceName,
		req.RequestedBy, req.RequestedAt.Format(time.RFC3339Nano), string(ctxJSON),
		formatTimeOrNull(req.ExpiresAt), req.PolicyName, req.ApproverRole, req.Quorum,
		req.CreatedAt.Format(time.RFC3339Nano), req.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	s.recordStateChange(ctx, req, "APPROVAL_PENDING")
	return nil
}

// CreateAutoApproved inserts an approval request already resolved as
// approved on a precedent seed's authority. The record is informational —
// it exists so the owner can see (and veto) what the seed let through, not
// so anyone can decide it. resolved_by carries "seed:<id>" so a listing
// distinguishes machine latitude from a human decision.
func (s *Store) CreateAutoApproved(ctx context.Context, req *Request, seedID string) error {
	if req.ApprovalID == "" {
		req.ApprovalID = "apr_" + uuid.New().String()[:8]
	}
	now := time.Now().UTC()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}
	req.Status = StatusApproved
	req.ResolvedBy = "seed:" + seedID
	req.ResolvedAt = now
	if req.ResolutionReason == "" {
		req.ResolutionReason = "auto-approved on precedent seed " + seedID
	}
	if req.RequestContext == nil {
		req.RequestContext = map[string]any{}
	}
	req.RequestContext["seed_id"] = seedID
	req.CreatedAt = now
	req.UpdatedAt = now

	ctxJSON, err := json.Marshal(req.RequestContext)
	if err != nil {
		ctxJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_requests (
			approval_id, event_id, trace_id, status,
			action_class, tool_name, instance_id, resource_type, resource_name,
			requested_by, requested_at, request_context,
			resolved_by, resolved_at, resolution_reason,
			expires_at, policy_name, approver_role, quorum,
			created_at, updated_at
		) VALUES (?, ?, ?, 'approved', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		req.ApprovalID, req.EventID, req.TraceID,
		req.ActionClass, req.ToolName, req.InstanceID, req.ResourceType, req.ResourceName,
		req.RequestedBy, req.RequestedAt.Format(time.RFC3339Nano), string(ctxJSON),
		req.ResolvedBy, req.ResolvedAt.Format(time.RFC3339Nano), req.ResolutionReason,
		formatTimeOrNull(req.ExpiresAt), req.PolicyName, req.ApproverRole,
		req.CreatedAt.Format(time.RFC3339Nano), req.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}
	s.recordStateChange(ctx, req, "APPROVAL_AUTO_APPROVED")
	return nil
}

// DeferPendingByTrace moves every still-pending approval on a trace to
// DEFERRED, used when a goal is cancelled: its in-flight requests should
// wait quietly rather than expire into a denial the owner never made.
func (s *Store) DeferPendingByTrace(ctx context.Context, traceID, reason string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id FROM approval_requests
		WHERE trace_id = ? AND status = 'pending'
	`, traceID)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	now := time.Now().UTC()
	count := 0
	for _, id := range ids {
		result, err := s.db.ExecContext(ctx, `
			UPDATE approval_requests
			SET status = 'deferred', resolution_reason = ?, updated_at = ?
			WHERE approval_id = ? AND status = 'pending'
		`, reason, now.Format(time.RFC3339Nano), id)
		if err != nil {
			return count, err
		}
		if n, _ := result.RowsAffected(); n > 0 {
			count++
			s.notifyAndRecord(ctx, id, "APPROVAL_STATE_CHANGED")
		}
	}
	return count, nil
}

// GetRequest retrieves an approval request by ID, lazily expiring it first
// if it is pending and past its expiry — a read should never observe a
// stale "pending" status just because the background sweep hasn't run yet.
func (s *Store) GetRequest(ctx context.Context, approvalID string) (*Request, error) {
	if err := s.expireOne(ctx, approvalID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE approval_id = ?`, approvalID)
	return scanRow(row)
}

// ListRequests returns approval requests matching the filters, most recent first.
func (s *Store) ListRequests(ctx context.Context, opts QueryOptions) ([]*Request, error) {
	if _, err := s.ExpireDue(ctx); err != nil {
		return nil, err
	}

	query := selectColumns + ` WHERE 1=1`
	var args []any
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, opts.InstanceID)
	}
	if opts.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, opts.TraceID)
	}
	if opts.RequestedBy != "" {
		query += " AND requested_by = ?"
		args = append(args, opts.RequestedBy)
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since.Format(time.RFC3339Nano))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		r, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueryOptions filters ListRequests.
type QueryOptions struct {
	Status      Status
	InstanceID  string
	TraceID     string
	RequestedBy string
	Since       time.Time
	Limit       int
}

// Approve resolves a pending or escalated request as approved. The WHERE
// clause restricting to status IN (pending, escalated) makes resolution
// exactly-once: only the first caller to win the row update notifies
// waiters with the real outcome, every later caller gets "not pending".
func (s *Store) Approve(ctx context.Context, approvalID, approvedBy, reason string, validFor time.Duration) error {
	now := time.Now().UTC()
	var validUntil any
	if validFor > 0 {
		validUntil = now.Add(validFor).Format(time.RFC3339Nano)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'approved', resolved_by = ?, resolved_at = ?, resolution_reason = ?,
			approval_valid_until = ?, updated_at = ?
		WHERE approval_id = ? AND status IN ('pending', 'escalated')
	`, approvedBy, now.Format(time.RFC3339Nano), reason, validUntil, now.Format(time.RFC3339Nano), approvalID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("approval %s not found or already resolved", approvalID)
	}
	s.notifyAndRecord(ctx, approvalID, "APPROVAL_STATE_CHANGED")
	return nil
}

// Deny resolves a pending or escalated request as denied.
func (s *Store) Deny(ctx context.Context, approvalID, deniedBy, reason string) error {
	return s.resolve(ctx, approvalID, StatusDenied, deniedBy, reason)
}

// Cancel withdraws a pending request (e.g. the goal that needed it was abandoned).
func (s *Store) Cancel(ctx context.Context, approvalID, cancelledBy, reason string) error {
	return s.resolve(ctx, approvalID, StatusCancelled, cancelledBy, reason)
}

func (s *Store) resolve(ctx context.Context, approvalID string, status Status, by, reason string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, resolved_by = ?, resolved_at = ?, resolution_reason = ?, updated_at = ?
		WHERE approval_id = ? AND status IN ('pending', 'escalated')
	`, string(status), by, now.Format(time.RFC3339Nano), reason, now.Format(time.RFC3339Nano), approvalID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("approval %s not found or already resolved", approvalID)
	}
	s.notifyAndRecord(ctx, approvalID, "APPROVAL_STATE_CHANGED")
	return nil
}

// Defer marks a pending request DEFERRED: the approver wants more
// information before deciding. It is not terminal — Resubmit moves it back
// to pending once resubmitAfter has passed.
func (s *Store) Defer(ctx context.Context, approvalID, deferredBy, reason string, resubmitAfter time.Time) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'deferred', resolved_by = ?, resolution_reason = ?, resubmit_after = ?, updated_at = ?
		WHERE approval_id = ? AND status = 'pending'
	`, deferredBy, reason, resubmitAfter.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), approvalID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("approval %s not found or not pending", approvalID)
	}
	s.notifyAndRecord(ctx, approvalID, "APPROVAL_STATE_CHANGED")
	return nil
}

// Resubmit moves a deferred request back to pending with a fresh expiry,
// provided its resubmit_after time has passed.
func (s *Store) Resubmit(ctx context.Context, approvalID string, newExpiresAt time.Time) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'pending', resolved_by = NULL, resolved_at = NULL, resolution_reason = NULL,
			resubmit_after = NULL, expires_at = ?, updated_at = ?
		WHERE approval_id = ? AND status = 'deferred' AND (resubmit_after IS NULL OR resubmit_after <= ?)
	`, formatTimeOrNull(newExpiresAt), now.Format(time.RFC3339Nano), approvalID, now.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("approval %s not deferred or not yet eligible for resubmission", approvalID)
	}
	s.notifyAndRecord(ctx, approvalID, "APPROVAL_STATE_CHANGED")
	return nil
}

// Escalate pushes a pending request to a higher approver role/queue. It
// remains resolvable by Approve/Deny afterward; escalation changes who is
// being asked, not what answers are possible.
func (s *Store) Escalate(ctx context.Context, approvalID, escalatedTo, reason string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'escalated', escalated_to = ?, resolution_reason = ?, updated_at = ?
		WHERE approval_id = ? AND status = 'pending'
	`, escalatedTo, reason, now.Format(time.RFC3339Nano), approvalID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("approval %s not found or not pending", approvalID)
	}
	s.notifyAndRecord(ctx, approvalID, "APPROVAL_STATE_CHANGED")
	return nil
}

// ExpireDue expires every pending/escalated request past its expiry and
// returns how many it touched. Intended to be run by a periodic background
// sweep; ListRequests also calls it before reading, and GetRequest calls
// the single-request version (expireOne), so a read is never stale.
func (s *Store) ExpireDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_id FROM approval_requests
		WHERE status IN ('pending', 'escalated') AND expires_at IS NOT NULL AND expires_at < ?
	`, now.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'expired', resolved_at = ?, resolution_reason = 'approval request expired', updated_at = ?
		WHERE status IN ('pending', 'escalated') AND expires_at IS NOT NULL AND expires_at < ?
	`, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()

	for _, id := range ids {
		s.notifyAndRecord(ctx, id, "APPROVAL_STATE_CHANGED")
	}
	return int(affected), nil
}

// expireOne lazily expires a single request if it's overdue, so a direct
// GetRequest never returns a falsely-pending status between sweeps. It must
// not call GetRequest/notifyAndRecord itself (both call expireOne), so it
// records the audit event directly off the row count instead.
func (s *Store) expireOne(ctx context.Context, approvalID string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'expired', resolved_at = ?, resolution_reason = 'approval request expired', updated_at = ?
		WHERE approval_id = ? AND status IN ('pending', 'escalated') AND expires_at IS NOT NULL AND expires_at < ?
	`, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), approvalID, now.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		row := s.db.QueryRowContext(ctx, selectColumns+` WHERE approval_id = ?`, approvalID)
		if req, scanErr := scanRow(row); scanErr == nil {
			s.recordStateChange(ctx, req, "APPROVAL_STATE_CHANGED")
		}
	}
	return nil
}

// WaitForResolution blocks until the approval leaves a non-terminal,
// non-waitable state or ctx is cancelled. DEFERRED requests release a
// waiter too — the caller (execution engine) decides whether to keep
// waiting across a resubmit or pause the goal.
func (s *Store) WaitForResolution(ctx context.Context, approvalID string) (*Request, error) {
	req, err := s.GetRequest(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return req, nil
	}

	ch := make(chan *Request, 1)
	s.waiterMu.Lock()
	s.waiters[approvalID] = append(s.waiters[approvalID], ch)
	s.waiterMu.Unlock()

	defer func() {
		s.waiterMu.Lock()
		chans := s.waiters[approvalID]
		for i, c := range chans {
			if c == ch {
				s.waiters[approvalID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		if len(s.waiters[approvalID]) == 0 {
			delete(s.waiters, approvalID)
		}
		s.waiterMu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case req := <-ch:
		return req, nil
	}
}

func (s *Store) notifyWaiters(approvalID string) {
	s.waiterMu.Lock()
	chans := s.waiters[approvalID]
	delete(s.waiters, approvalID)
	s.waiterMu.Unlock()
	if len(chans) == 0 {
		return
	}
	req, err := s.GetRequest(context.Background(), approvalID)
	if err != nil {
		return
	}
	for _, ch := range chans {
		select {
		case ch <- req:
		default:
		}
	}
}

// notifyAndRecord loads the just-resolved request, wakes any goroutine
// blocked in WaitForResolution, and emits the APPROVAL_STATE_CHANGED audit
// event — the single place every resolution path (approve/deny/cancel/
// defer/resubmit/escalate) converges after its row update commits.
func (s *Store) notifyAndRecord(ctx context.Context, approvalID, label string) {
	req, err := s.GetRequest(ctx, approvalID)
	if err != nil {
		return
	}
	s.recordStateChange(ctx, req, label)

	s.waiterMu.Lock()
	chans := s.waiters[approvalID]
	delete(s.waiters, approvalID)
	s.waiterMu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- req:
		default:
		}
	}
}

const selectColumns = `
	SELECT approval_id, event_id, trace_id, status,
		action_class, tool_name, instance_id, resource_type, resource_name,
		requested_by, requested_at, request_context,
		resolved_by, resolved_at, resolution_reason,
		expires_at, approval_valid_until, escalated_to, resubmit_after,
		policy_name, approver_role, quorum, created_at, updated_at
	FROM approval_requests`

func scanRow(row *sql.Row) (*Request, error) {
	return scan(row.Scan)
}

func scanRows(rows *sql.Rows) (*Request, error) {
	return scan(rows.Scan)
}

func scan(scanFn func(dest ...any) error) (*Request, error) {
	var r Request
	var eventID, traceID, toolName, instanceID, resourceType, resourceName sql.NullString
	var reqContext, resolvedBy, resolvedAt, resolutionReason sql.NullString
	var expiresAt, validUntil, escalatedTo, resubmitAfter sql.NullString
	var policyName, approverRole sql.NullString
	var requestedAt, createdAt, updatedAt string
	var status string
	var quorum sql.NullInt64

	err := scanFn(
		&r.ApprovalID, &eventID, &traceID, &status,
		&r.ActionClass, &toolName, &instanceID, &resourceType, &resourceName,
		&r.RequestedBy, &requestedAt, &reqContext,
		&resolvedBy, &resolvedAt, &resolutionReason,
		&expiresAt, &validUntil, &escalatedTo, &resubmitAfter,
		&policyName, &approverRole, &quorum, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("approval not found")
		}
		return nil, err
	}

	r.Status = Status(status)
	r.EventID = eventID.String
	r.TraceID = traceID.String
	r.ToolName = toolName.String
	r.InstanceID = instanceID.String
	r.ResourceType = resourceType.String
	r.ResourceName = resourceName.String
	r.ResolvedBy = resolvedBy.String
	r.ResolutionReason = resolutionReason.String
	r.EscalatedTo = escalatedTo.String
	r.PolicyName = policyName.String
	r.ApproverRole = approverRole.String
	r.Quorum = int(quorum.Int64)

	if reqContext.Valid {
		_ = json.Unmarshal([]byte(reqContext.String), &r.RequestContext)
	}
	r.RequestedAt, _ = time.Parse(time.RFC3339Nano, requestedAt)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if resolvedAt.Valid {
		r.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt.String)
	}
	if expiresAt.Valid {
		r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt.String)
	}
	if validUntil.Valid {
		r.ApprovalValidUntil, _ = time.Parse(time.RFC3339Nano, validUntil.String)
	}
	if resubmitAfter.Valid {
		r.ResubmitAfter, _ = time.Parse(time.RFC3339Nano, resubmitAfter.String)
	}

	return &r, nil
}

func formatTimeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

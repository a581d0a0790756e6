package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"govcore/internal/approval"
	"govcore/internal/audit"
	"govcore/internal/policy"
	"govcore/internal/problemdetail"
)

// ApprovalServer exposes the Approval Service (C6) over HTTP.
type ApprovalServer struct {
	Store *approval.Store
	// Policy authorizes decide requests by evaluating a write action by the
	// decider on resource type "approval" per §4.6 ("Decision requests
	// require the decider to be authorised by C2"); a denial is reported as
	// not authorized for approval.decide. Nil disables the check (every
	// decider is authorized) — used in
	// tests and single-operator deployments with no decision policy bundle.
	Policy *policy.Engine
}

// HandleDecide implements the single contractual decision endpoint named by
// §6: POST /v1/approvals/{approval_id}/decide body {decision, reason?}.
// decision is one of approve|deny|defer|escalate (case-insensitive).
func (s *ApprovalServer) HandleDecide(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	approvalID := r.PathValue("approvalID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		problemdetail.ValidationError(w, traceID, "failed to read request body")
		return
	}
	var req struct {
		Decision      string `json:"decision"`
		DecidedBy     string `json:"decided_by"`
		Reason        string `json:"reason"`
		ValidForMin   int    `json:"valid_for_min"`
		ResubmitAfter string `json:"resubmit_after"`
		EscalatedTo   string `json:"escalated_to"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		problemdetail.ValidationError(w, traceID, "invalid JSON: "+err.Error())
		return
	}
	if req.DecidedBy == "" {
		problemdetail.ValidationError(w, traceID, "decided_by is required")
		return
	}

	if s.Policy != nil {
		decision := s.Policy.Evaluate(policy.Request{
			Principal: policy.RequestPrincipal{UserID: req.DecidedBy},
			Resource:  policy.RequestResource{Type: "approval", Name: approvalID},
			Action:    policy.ActionWrite,
			Context:   policy.RequestContext{TraceID: traceID},
		})
		if decision.IsDenied() {
			problemdetail.Unprocessable(w, traceID, "", "decider not authorized for approval.decide", nil)
			return
		}
	}

	var apply func(approvalID string, req decisionRequest) error
	dr := decisionRequest{DecidedBy: req.DecidedBy, Reason: req.Reason, ValidForMin: req.ValidForMin, ResubmitAfter: req.ResubmitAfter, EscalatedTo: req.EscalatedTo}
	switch strings.ToLower(req.Decision) {
	case "approve":
		apply = func(id string, req decisionRequest) error {
			var validFor time.Duration
			if req.ValidForMin > 0 {
				validFor = time.Duration(req.ValidForMin) * time.Minute
			}
			return s.Store.Approve(r.Context(), id, req.DecidedBy, req.Reason, validFor)
		}
	case "deny":
		apply = func(id string, req decisionRequest) error { return s.Store.Deny(r.Context(), id, req.DecidedBy, req.Reason) }
	case "defer":
		var resubmitAfter time.Time
		if req.ResubmitAfter != "" {
			t, err := time.Parse(time.RFC3339, req.ResubmitAfter)
			if err != nil {
				problemdetail.ValidationError(w, traceID, "resubmit_after must be an RFC3339 timestamp")
				return
			}
			resubmitAfter = t
		}
		apply = func(id string, req decisionRequest) error { return s.Store.Defer(r.Context(), id, req.DecidedBy, req.Reason, resubmitAfter) }
	case "escalate":
		apply = func(id string, req decisionRequest) error { return s.Store.Escalate(r.Context(), id, req.EscalatedTo, req.Reason) }
	default:
		problemdetail.ValidationError(w, traceID, "decision must be one of approve, deny, defer, escalate")
		return
	}

	if err := apply(approvalID, dr); err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}
	ar, err := s.Store.GetRequest(r.Context(), approvalID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

type createApprovalRequest struct {
	TraceID      string            `json:"trace_id"`
	InstanceID   string            `json:"instance_id"`
	ActionClass  string            `json:"action_class"`
	ToolName     string            `json:"tool_name"`
	ResourceType string            `json:"resource_type"`
	ResourceName string            `json:"resource_name"`
	RequestedBy  string            `json:"requested_by"`
	PolicyName   string            `json:"policy_name"`
	ApproverRole string            `json:"approver_role"`
	Context      map[string]any    `json:"context"`
	ExpiresInMin int               `json:"expires_in_min"`
}

func (s *ApprovalServer) HandleCreate(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		problemdetail.ValidationError(w, traceID, "failed to read request body")
		return
	}
	var req createApprovalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		problemdetail.ValidationError(w, traceID, "invalid JSON: "+err.Error())
		return
	}
	if req.ActionClass == "" || req.RequestedBy == "" {
		problemdetail.ValidationError(w, traceID, "action_class and requested_by are required")
		return
	}

	expiresIn := 60 * time.Minute
	if req.ExpiresInMin > 0 {
		expiresIn = time.Duration(req.ExpiresInMin) * time.Minute
	}

	ar := &approval.Request{
		TraceID:        req.TraceID,
		InstanceID:     req.InstanceID,
		ActionClass:    req.ActionClass,
		ToolName:       req.ToolName,
		ResourceType:   req.ResourceType,
		ResourceName:   req.ResourceName,
		RequestedBy:    req.RequestedBy,
		PolicyName:     req.PolicyName,
		ApproverRole:   req.ApproverRole,
		RequestContext: req.Context,
		ExpiresAt:      time.Now().UTC().Add(expiresIn),
	}

	if err := s.Store.CreateRequest(r.Context(), ar); err != nil {
		slog.Error("create approval request failed", "err", err, "trace_id", traceID)
		problemdetail.Internal(w, traceID, "failed to create approval request")
		return
	}

	writeJSON(w, http.StatusCreated, ar)
}

func (s *ApprovalServer) HandleGet(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	approvalID := r.PathValue("approvalID")

	ar, err := s.Store.GetRequest(r.Context(), approvalID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *ApprovalServer) HandleList(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	opts := approval.QueryOptions{Limit: 100}
	if v := r.URL.Query().Get("status"); v != "" {
		opts.Status = approval.Status(v)
	}
	// instance_id/trace_id are this store's native field names; agent_id/
	// correlation_id are §6's literal query names for the same filters
	// (an approval's "agent" is the hired instance that raised it, and its
	// "correlation id" is the trace id the rest of the system uses).
	if v := firstNonEmpty(r.URL.Query().Get("instance_id"), r.URL.Query().Get("agent_id")); v != "" {
		opts.InstanceID = v
	}
	if v := firstNonEmpty(r.URL.Query().Get("trace_id"), r.URL.Query().Get("correlation_id")); v != "" {
		opts.TraceID = v
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}

	list, err := s.Store.ListRequests(r.Context(), opts)
	if err != nil {
		slog.Error("list approvals failed", "err", err, "trace_id", traceID)
		problemdetail.Internal(w, traceID, "failed to list approval requests")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type decisionRequest struct {
	DecidedBy     string `json:"decided_by"`
	Reason        string `json:"reason"`
	ValidForMin   int    `json:"valid_for_min"`
	ResubmitAfter string `json:"resubmit_after"` // RFC3339, defer only
	EscalatedTo   string `json:"escalated_to"`   // escalate only
}

func (s *ApprovalServer) HandleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(approvalID string, req decisionRequest) error {
		var validFor time.Duration
		if req.ValidForMin > 0 {
			validFor = time.Duration(req.ValidForMin) * time.Minute
		}
		return s.Store.Approve(r.Context(), approvalID, req.DecidedBy, req.Reason, validFor)
	})
}

func (s *ApprovalServer) HandleDeny(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(approvalID string, req decisionRequest) error {
		return s.Store.Deny(r.Context(), approvalID, req.DecidedBy, req.Reason)
	})
}

func (s *ApprovalServer) HandleCancel(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(approvalID string, req decisionRequest) error {
		return s.Store.Cancel(r.Context(), approvalID, req.DecidedBy, req.Reason)
	})
}

func (s *ApprovalServer) HandleEscalate(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, func(approvalID string, req decisionRequest) error {
		return s.Store.Escalate(r.Context(), approvalID, req.EscalatedTo, req.Reason)
	})
}

func (s *ApprovalServer) decide(w http.ResponseWriter, r *http.Request, apply func(approvalID string, req decisionRequest) error) {
	traceID := audit.TraceIDFromContext(r.Context())
	approvalID := r.PathValue("approvalID")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		problemdetail.ValidationError(w, traceID, "failed to read request body")
		return
	}
	var req decisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		problemdetail.ValidationError(w, traceID, "invalid JSON: "+err.Error())
		return
	}
	if req.DecidedBy == "" {
		problemdetail.ValidationError(w, traceID, "decided_by is required")
		return
	}

	if err := apply(approvalID, req); err != nil {
		// The exactly-once conditional UPDATE lost the race (already
		// resolved by another decision): that's a conflict, not a server error.
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}

	ar, err := s.Store.GetRequest(r.Context(), approvalID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

// HandleWait long-polls until the approval reaches a terminal state or the
// request's own deadline is reached.
func (s *ApprovalServer) HandleWait(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	approvalID := r.PathValue("approvalID")

	ar, err := s.Store.WaitForResolution(r.Context(), approvalID)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ar)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

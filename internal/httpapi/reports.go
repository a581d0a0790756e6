package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"govcore/internal/audit"
	"govcore/internal/budget"
	"govcore/internal/problemdetail"
)

// DeliverablesServer exposes the artefacts a goal execution produced —
// STEP_COMPLETED observations read back off the audit log, per
// GET /v1/deliverables?hired_instance_id=… (§6). It holds no storage of its
// own: a deliverable is always a replay of what the Execution Engine
// already recorded to C1.
type DeliverablesServer struct {
	Audit *audit.Store
}

// Deliverable is one completed step's output, surfaced as a flat record so
// a portal doesn't need to understand the audit event envelope.
type Deliverable struct {
	GoalID     string    `json:"goal_id"`
	InstanceID string    `json:"instance_id"`
	TraceID    string    `json:"trace_id"`
	Summary    string    `json:"summary"`
	Output     string    `json:"output"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (s *DeliverablesServer) HandleList(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.URL.Query().Get("hired_instance_id")
	if instanceID == "" {
		problemdetail.ValidationError(w, traceID, "hired_instance_id query parameter is required")
		return
	}

	events, err := s.Audit.Query(r.Context(), audit.QueryOptions{EventType: audit.EventTypeOutcome, Limit: 1000})
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}

	var out []Deliverable
	for _, evt := range events {
		if evt.Session.InstanceID != instanceID || evt.Output == nil || evt.Output.Response == "" {
			continue
		}
		out = append(out, Deliverable{
			GoalID:     evt.Session.ID,
			InstanceID: evt.Session.InstanceID,
			TraceID:    evt.TraceID,
			Summary:    evt.Input.UserQuery,
			Output:     evt.Output.Response,
			RecordedAt: evt.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// PolicyDenialsServer exposes every DENY decision the Policy Engine (C2)
// recorded, per GET /v1/policy-denials?... (§6). Denials are themselves
// audit events (EventTypePolicyDecision with Effect=deny); this is a
// read-shaped view over the same chain, not a second store.
type PolicyDenialsServer struct {
	Audit *audit.Store
}

// PolicyDenial mirrors the Policy Denial Record entity (§3).
type PolicyDenial struct {
	CorrelationID string    `json:"correlation_id"`
	DecisionID    string    `json:"decision_id"`
	Action        string    `json:"action"`
	Reason        string    `json:"reason"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *PolicyDenialsServer) HandleList(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	q := r.URL.Query()

	opts := audit.QueryOptions{EventType: audit.EventTypePolicyDecision, TraceID: q.Get("correlation_id"), Limit: 1000}
	events, err := s.Audit.Query(r.Context(), opts)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}

	instanceFilter := q.Get("agent_id")
	var out []PolicyDenial
	for _, evt := range events {
		if evt.PolicyDecision == nil || evt.PolicyDecision.Effect != "deny" {
			continue
		}
		if instanceFilter != "" && evt.Session.InstanceID != instanceFilter {
			continue
		}
		out = append(out, PolicyDenial{
			CorrelationID: evt.TraceID,
			DecisionID:    evt.EventID,
			Action:        evt.PolicyDecision.Action,
			Reason:        evt.PolicyDecision.Message,
			Details:       evt.PolicyDecision.Note,
			CreatedAt:     evt.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// UsageServer exposes the Budget Accountant's per-instance ledger as raw
// events and day/month aggregates, per GET /v1/usage/events and
// GET /v1/usage/aggregate (§6).
type UsageServer struct {
	Budget *budget.Accountant
}

func (s *UsageServer) HandleEvents(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	q := r.URL.Query()
	instanceID := q.Get("hired_instance_id")
	if instanceID == "" {
		problemdetail.ValidationError(w, traceID, "hired_instance_id query parameter is required")
		return
	}

	var since time.Time
	if s := q.Get("since"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			problemdetail.ValidationError(w, traceID, "since must be RFC3339")
			return
		}
		since = parsed
	}
	limit := 0
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}

	events, err := s.Budget.ListDebits(r.Context(), instanceID, since, limit)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *UsageServer) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	q := r.URL.Query()
	instanceID := q.Get("hired_instance_id")
	if instanceID == "" {
		problemdetail.ValidationError(w, traceID, "hired_instance_id query parameter is required")
		return
	}
	bucket := q.Get("bucket")
	if bucket == "" {
		bucket = "day"
	}
	if bucket != "day" && bucket != "month" {
		problemdetail.ValidationError(w, traceID, "bucket must be 'day' or 'month'")
		return
	}

	buckets, err := s.Budget.Aggregate(r.Context(), instanceID, bucket)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

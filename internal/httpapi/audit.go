package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"govcore/internal/audit"
	"govcore/internal/problemdetail"
)

// AuditServer exposes the hash-chained Audit Log (C1) for querying and
// integrity verification.
type AuditServer struct {
	Store *audit.Store
}

func (s *AuditServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	q := r.URL.Query()

	opts := audit.QueryOptions{
		TraceID:     q.Get("trace_id"),
		SessionID:   q.Get("session_id"),
		EventType:   audit.EventType(q.Get("event_type")),
		ActionClass: audit.ActionClass(q.Get("action_class")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}

	events, err := s.Store.Query(r.Context(), opts)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *AuditServer) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	events, err := s.Store.Query(r.Context(), audit.QueryOptions{EventID: r.PathValue("eventID")})
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	if len(events) == 0 {
		problemdetail.NotFound(w, traceID, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, events[0])
}

// HandleListJourneys serves GET /v1/audit/journeys: the per-trace rollup of goal
// cycles, filterable by user and started-at window.
func (s *AuditServer) HandleListJourneys(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	q := r.URL.Query()

	opts := audit.JourneyOptions{UserID: q.Get("user_id"), Limit: 50}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}
	if from := q.Get("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			problemdetail.ValidationError(w, traceID, "from must be RFC3339")
			return
		}
		opts.From = parsed
	}
	if until := q.Get("until"); until != "" {
		parsed, err := time.Parse(time.RFC3339, until)
		if err != nil {
			problemdetail.ValidationError(w, traceID, "until must be RFC3339")
			return
		}
		opts.Until = parsed
	}

	journeys, err := s.Store.QueryJourneys(r.Context(), opts)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, journeys)
}

// HandleVerify walks the hash chain and reports the first broken sequence
// number, if any. A failed verification also quarantines the chain: every
// append is refused until an operator acknowledges via HandleAcknowledge.
func (s *AuditServer) HandleVerify(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	status, err := s.Store.VerifyIntegrity(r.Context())
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleAcknowledge serves POST /v1/audit/quarantine/ack: the operator has
// reviewed the broken chain and accepts the current suffix as the new base.
func (s *AuditServer) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	if err := s.Store.AcknowledgeQuarantine(); err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quarantined": false})
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"govcore/internal/audit"
	"govcore/internal/precedent"
	"govcore/internal/problemdetail"
	"govcore/internal/subscription"
)

// Compensator reverses an external effect keyed by (correlation_id,
// step_id); the veto path invokes it to unwind what a seed let through.
// Satisfied by execution.A2AToolAdapter.
type Compensator interface {
	Compensate(ctx context.Context, skillKey, correlationID, stepID string) (string, error)
}

// PrecedentServer exposes the Precedent Learner's seed lifecycle (C8):
// listing drafted seeds, reviewing them against the five-point rubric, and
// vetoing auto-approvals made on an approved seed's authority.
type PrecedentServer struct {
	Store         *precedent.Store
	Subscriptions *subscription.Store
	Audit         *audit.Store
	// Compensator unwinds a vetoed effect. Nil means compensation is not
	// possible from this process; the veto then suspends the instance.
	Compensator Compensator
	// ApprovalSkill resolves an approval ID to its (skill_key, trace_id,
	// step_id) so the compensator knows what to reverse. Wired to the
	// approval store's GetRequest in production.
	ApprovalSkill func(ctx context.Context, approvalID string) (skillKey, traceID, stepID string, err error)
}

// seedView is the wire shape of a precedent seed.
type seedView struct {
	SeedID             string    `json:"seed_id"`
	AgentTypeID        string    `json:"agent_type_id"`
	Action             string    `json:"action"`
	RiskBucket         string    `json:"risk_bucket"`
	Principle          string    `json:"principle"`
	Rationale          string    `json:"rationale"`
	Example            string    `json:"example,omitempty"`
	SampleSize         int       `json:"sample_size"`
	MeanConfidence     float64   `json:"mean_confidence"`
	Status             string    `json:"status"`
	RejectReason       string    `json:"reject_reason,omitempty"`
	FalsePositiveCount int       `json:"false_positive_count"`
	DraftedAt          time.Time `json:"drafted_at,omitempty"`
	ReviewedAt         time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy         string    `json:"reviewed_by,omitempty"`
}

func toSeedView(s *precedent.Seed) seedView {
	return seedView{
		SeedID:             s.ID,
		AgentTypeID:        s.AgentTypeID,
		Action:             s.Action,
		RiskBucket:         s.RiskBucket,
		Principle:          s.Principle,
		Rationale:          s.Rationale,
		Example:            s.Example,
		SampleSize:         s.SampleSize,
		MeanConfidence:     s.MeanConfidence,
		Status:             string(s.Status),
		RejectReason:       s.RejectReason,
		FalsePositiveCount: s.FalsePositiveCount,
		DraftedAt:          s.DraftedAt,
		ReviewedAt:         s.ReviewedAt,
		ReviewedBy:         s.ReviewedBy,
	}
}

// HandleListSeeds serves GET /v1/precedent-seeds?status=draft|approved|...
// An empty status returns every seed.
func (s *PrecedentServer) HandleListSeeds(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	status := precedent.SeedStatus(r.URL.Query().Get("status"))

	seeds, err := s.Store.ListSeeds(r.Context(), status)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	out := make([]seedView, 0, len(seeds))
	for _, seed := range seeds {
		out = append(out, toSeedView(seed))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetSeed serves GET /v1/precedent-seeds/{seedID}.
func (s *PrecedentServer) HandleGetSeed(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	seed, err := s.Store.GetSeed(r.Context(), r.PathValue("seedID"))
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	if seed == nil {
		problemdetail.NotFound(w, traceID, "seed not found")
		return
	}
	writeJSON(w, http.StatusOK, toSeedView(seed))
}

// HandleReviewSeed serves POST /v1/precedent-seeds/{seedID}/review: the
// certification authority's verdict over the five-point rubric. Only a
// draft, revised or deferred seed is reviewable; re-reviewing a settled
// one is a conflict.
func (s *PrecedentServer) HandleReviewSeed(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	seedID := r.PathValue("seedID")

	var body struct {
		ConsistentWithL0L1 bool   `json:"consistent_with_l0_l1"`
		Specific           bool   `json:"specific"`
		Justified          bool   `json:"justified"`
		ReusableScope      bool   `json:"reusable_scope"`
		NonWeakening       bool   `json:"non_weakening"`
		ReviewedBy         string `json:"reviewed_by"`
		Note               string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problemdetail.ValidationError(w, traceID, "invalid JSON: "+err.Error())
		return
	}
	if body.ReviewedBy == "" {
		problemdetail.ValidationError(w, traceID, "reviewed_by is required")
		return
	}

	seed, err := s.Store.GetSeed(r.Context(), seedID)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	if seed == nil {
		problemdetail.NotFound(w, traceID, "seed not found")
		return
	}
	if seed.Status != precedent.SeedDraft && seed.Status != precedent.SeedRevised && seed.Status != precedent.SeedDeferred {
		problemdetail.Conflict(w, traceID, "seed "+seedID+" already reviewed with status "+string(seed.Status))
		return
	}

	precedent.Review(seed, precedent.ReviewCriteria{
		ConsistentWithL0L1: body.ConsistentWithL0L1,
		Specific:           body.Specific,
		Justified:          body.Justified,
		ReusableScope:      body.ReusableScope,
		NonWeakening:       body.NonWeakening,
	}, body.ReviewedBy, body.Note)

	if err := s.Store.SaveSeed(r.Context(), seed); err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	s.recordSeedEvent(r, "SEED_REVIEWED "+seedID+" "+string(seed.Status), seed.ID)
	writeJSON(w, http.StatusOK, toSeedView(seed))
}

// HandleVeto serves POST /v1/approvals/{approvalID}/veto: the human owner
// reverses a seed-driven auto-approval within its veto window. Compensation
// is attempted through the tool adapter; when it is unavailable or fails,
// the instance is suspended so the unreversed effect can't compound.
func (s *PrecedentServer) HandleVeto(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	approvalID := r.PathValue("approvalID")

	var body struct {
		VetoedBy string `json:"vetoed_by"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		problemdetail.ValidationError(w, traceID, "invalid JSON: "+err.Error())
		return
	}

	auto, err := s.Store.GetAutoApproval(r.Context(), approvalID)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	if auto == nil {
		problemdetail.NotFound(w, traceID, "no auto-approval recorded for "+approvalID)
		return
	}

	if err := s.Store.Veto(r.Context(), approvalID); err != nil {
		problemdetail.Write(w, traceID, problemdetail.Problem{
			Type: problemdetail.TypeConflict, Title: "veto window closed", Status: http.StatusConflict,
			Detail: err.Error(), Reason: problemdetail.ReasonSeedVetoed,
		})
		return
	}

	compensated := s.compensate(r.Context(), approvalID)
	suspended := false
	if !compensated && s.Subscriptions != nil {
		if err := s.Subscriptions.Interrupt(r.Context(), auto.InstanceID, "seed auto-approval vetoed, compensation unavailable"); err == nil {
			suspended = true
		}
	}

	falsePositives := s.bumpSeed(r.Context(), auto.SeedID)
	s.recordSeedEvent(r, "SEED_VETOED "+auto.SeedID+" approval="+approvalID, auto.SeedID)

	writeJSON(w, http.StatusOK, map[string]any{
		"approval_id":          approvalID,
		"seed_id":              auto.SeedID,
		"compensated":          compensated,
		"instance_suspended":   suspended,
		"false_positive_count": falsePositives,
	})
}

// compensate tries to reverse the vetoed effect. Needs both the resolver
// (to find what ran) and the compensator (to unwind it).
func (s *PrecedentServer) compensate(ctx context.Context, approvalID string) bool {
	if s.Compensator == nil || s.ApprovalSkill == nil {
		return false
	}
	skillKey, corrID, stepID, err := s.ApprovalSkill(ctx, approvalID)
	if err != nil || skillKey == "" || stepID == "" {
		return false
	}
	if _, err := s.Compensator.Compensate(ctx, skillKey, corrID, stepID); err != nil {
		return false
	}
	return true
}

// bumpSeed increments the seed's false-positive count, deprecating it past
// the threshold, and returns the new count.
func (s *PrecedentServer) bumpSeed(ctx context.Context, seedID string) int {
	seed, err := s.Store.GetSeed(ctx, seedID)
	if err != nil || seed == nil {
		return 0
	}
	precedent.RecordVeto(seed, precedent.DefaultFalsePositiveThreshold)
	if err := s.Store.SaveSeed(ctx, seed); err != nil {
		return seed.FalsePositiveCount
	}
	return seed.FalsePositiveCount
}

func (s *PrecedentServer) recordSeedEvent(r *http.Request, label, seedID string) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Record(r.Context(), &audit.Event{
		EventType: audit.EventTypeOutcome,
		TraceID:   audit.TraceIDFromContext(r.Context()),
		Session:   audit.Session{ID: seedID},
		Input:     audit.Input{UserQuery: label},
	})
}

// Package problemdetail writes RFC 7807 application/problem+json error
// responses for the governance gateway's HTTP surface.
package problemdetail

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem detail object.
type Problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Reason is the stable, UI-facing identifier from §4.2/§7's deny
	// taxonomy (e.g. "budget_exceeded", "approval_expired"). The UI picks
	// its messaging from this field, never by parsing Detail.
	Reason string `json:"reason,omitempty"`
	// Violations lists field-level semantic errors for a 422 response.
	Violations []string `json:"violations,omitempty"`
	// RetryAfterSeconds backs a 429 response's retry_after member.
	RetryAfterSeconds int `json:"-"`

	// Extensions carries problem-specific members per RFC 7807 §3.2, e.g.
	// {"policy_name": "...", "approval_id": "..."}.
	Extensions map[string]any `json:"-"`
}

// Stable reason identifiers, returned verbatim to callers per §4.2 and the
// §6 additions ("conflict", "not_configured", "version_upgrade_required",
// "seed_vetoed").
const (
	ReasonApprovalRequired        = "approval_required"
	ReasonBudgetExceeded          = "budget_exceeded"
	ReasonTrialRestriction        = "trial_restriction"
	ReasonScopeOutOfBounds        = "scope_out_of_bounds"
	ReasonToolNotAuthorized       = "tool_not_authorized"
	ReasonInstanceSuspended       = "instance_suspended"
	ReasonSkillDeprecated         = "skill_deprecated"
	ReasonConflict                = "conflict"
	ReasonNotConfigured           = "not_configured"
	ReasonVersionUpgradeRequired  = "version_upgrade_required"
	ReasonSeedVetoed              = "seed_vetoed"
	ReasonApprovalExpired         = "approval_expired"
	ReasonIntegrity               = "integrity"
)

// MarshalJSON flattens Extensions alongside the standard members.
func (p Problem) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
	}
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	if p.CorrelationID != "" {
		out["correlation_id"] = p.CorrelationID
	}
	if p.Reason != "" {
		out["reason"] = p.Reason
	}
	if len(p.Violations) > 0 {
		out["violations"] = p.Violations
	}
	if p.RetryAfterSeconds > 0 {
		out["retry_after"] = p.RetryAfterSeconds
	}
	for k, v := range p.Extensions {
		out[k] = v
	}
	return json.Marshal(out)
}

const typeBase = "https://govcore.dev/problems/"

// Well-known problem types used across the gateway handlers.
const (
	TypeValidation       = typeBase + "validation-error"
	TypeNotFound         = typeBase + "not-found"
	TypePolicyDenied     = typeBase + "policy-denied"
	TypeApprovalRequired = typeBase + "approval-required"
	TypeBudgetExhausted  = typeBase + "budget-exhausted"
	TypeConflict         = typeBase + "conflict"
	TypeInternal         = typeBase + "internal-error"
)

// Write serializes p as application/problem+json with the given HTTP status.
func Write(w http.ResponseWriter, correlationID string, p Problem) {
	if p.CorrelationID == "" {
		p.CorrelationID = correlationID
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// ValidationError writes a 400 validation-error problem.
func ValidationError(w http.ResponseWriter, correlationID, detail string) {
	Write(w, correlationID, Problem{Type: TypeValidation, Title: "validation error", Status: http.StatusBadRequest, Detail: detail})
}

// NotFound writes a 404 not-found problem.
func NotFound(w http.ResponseWriter, correlationID, detail string) {
	Write(w, correlationID, Problem{Type: TypeNotFound, Title: "resource not found", Status: http.StatusNotFound, Detail: detail})
}

// PolicyDenied writes a 403 policy-denied problem with the deciding policy's
// name attached as an extension member and a stable reason (one of the
// §4.2 taxonomy identifiers — defaults to scope_out_of_bounds when the
// caller has no more specific reason to report).
func PolicyDenied(w http.ResponseWriter, correlationID, policyName, reason, detail string) {
	if reason == "" {
		reason = ReasonScopeOutOfBounds
	}
	Write(w, correlationID, Problem{
		Type: TypePolicyDenied, Title: "denied by policy", Status: http.StatusForbidden, Detail: detail, Reason: reason,
		Extensions: map[string]any{"policy_name": policyName},
	})
}

// ApprovalRequired writes a 409 approval-required problem: the request
// cannot proceed as submitted, but is not a terminal failure — the caller
// should poll the approval resource named by approvalID.
func ApprovalRequired(w http.ResponseWriter, correlationID, approvalID, detail string) {
	Write(w, correlationID, Problem{
		Type: TypeApprovalRequired, Title: "approval required", Status: http.StatusConflict, Detail: detail, Reason: ReasonApprovalRequired,
		Extensions: map[string]any{"approval_id": approvalID},
	})
}

// BudgetExhausted writes a 429 budget-exhausted problem per §6's "429
// budget/rate" status code usage.
func BudgetExhausted(w http.ResponseWriter, correlationID string, remainingUSD float64, detail string) {
	Write(w, correlationID, Problem{
		Type: TypeBudgetExhausted, Title: "budget exhausted", Status: http.StatusTooManyRequests, Detail: detail, Reason: ReasonBudgetExceeded,
		Extensions: map[string]any{"remaining_usd": remainingUSD},
	})
}

// Conflict writes a 409 conflict problem.
func Conflict(w http.ResponseWriter, correlationID, detail string) {
	Write(w, correlationID, Problem{Type: TypeConflict, Title: "conflict", Status: http.StatusConflict, Detail: detail, Reason: ReasonConflict})
}

// Unprocessable writes a 422 problem with per-field violations, per §6's
// "422 semantic violation with violations[]".
func Unprocessable(w http.ResponseWriter, correlationID, reason, detail string, violations []string) {
	Write(w, correlationID, Problem{
		Type: typeBase + "unprocessable", Title: "semantic validation failed", Status: http.StatusUnprocessableEntity,
		Detail: detail, Reason: reason, Violations: violations,
	})
}

// TooManyRequests writes a 429 problem carrying a retry_after hint.
func TooManyRequests(w http.ResponseWriter, correlationID, reason, detail string, retryAfterSeconds int) {
	Write(w, correlationID, Problem{
		Type: typeBase + "rate-limited", Title: "rate limited", Status: http.StatusTooManyRequests,
		Detail: detail, Reason: reason, RetryAfterSeconds: retryAfterSeconds,
	})
}

// Internal writes a 500 internal-error problem. The underlying error is
// logged by the caller, not echoed to the client.
func Internal(w http.ResponseWriter, correlationID, detail string) {
	Write(w, correlationID, Problem{Type: TypeInternal, Title: "internal error", Status: http.StatusInternalServerError, Detail: detail})
}

package httpapi

import (
	"net/http"

	"govcore/internal/audit"
)

// Deps bundles every sub-server the gateway dispatches to.
type Deps struct {
	Audit          *audit.Store
	AuditServer    *AuditServer
	Approvals      *ApprovalServer
	Certification  *CertificationServer
	Subscriptions  *SubscriptionServer
	Goals          *GoalServer
	Deliverables   *DeliverablesServer
	PolicyDenials  *PolicyDenialsServer
	Usage          *UsageServer
	Precedents     *PrecedentServer
}

// NewMux builds the governance core's HTTP surface, wrapped in the
// trace/audit middleware chain.
func NewMux(deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/approvals", deps.Approvals.HandleCreate)
	mux.HandleFunc("GET /v1/approvals", deps.Approvals.HandleList)
	mux.HandleFunc("GET /v1/approvals/{approvalID}", deps.Approvals.HandleGet)
	mux.HandleFunc("GET /v1/approvals/{approvalID}/wait", deps.Approvals.HandleWait)
	mux.HandleFunc("POST /v1/approvals/{approvalID}/decide", deps.Approvals.HandleDecide)
	mux.HandleFunc("POST /v1/approvals/{approvalID}/approve", deps.Approvals.HandleApprove)
	mux.HandleFunc("POST /v1/approvals/{approvalID}/deny", deps.Approvals.HandleDeny)
	mux.HandleFunc("POST /v1/approvals/{approvalID}/cancel", deps.Approvals.HandleCancel)
	mux.HandleFunc("POST /v1/approvals/{approvalID}/escalate", deps.Approvals.HandleEscalate)

	mux.HandleFunc("POST /v1/skills", deps.Certification.HandleRegisterSkill)
	mux.HandleFunc("GET /v1/skills", deps.Certification.HandleListSkills)
	mux.HandleFunc("GET /v1/skills/{skillID}", deps.Certification.HandleGetSkill)
	mux.HandleFunc("POST /v1/skills/{skillID}/certify", deps.Certification.HandleCertifySkill)
	mux.HandleFunc("POST /v1/job-roles", deps.Certification.HandleRegisterJobRole)
	mux.HandleFunc("POST /v1/job-roles/{jobRoleID}/certify", deps.Certification.HandleCertifyJobRole)
	mux.HandleFunc("POST /v1/agent-types", deps.Certification.HandleRegisterAgentType)
	mux.HandleFunc("GET /v1/agent-types/{agentTypeID}", deps.Certification.HandleGetAgentType)

	// §6's literal resource name for the same Agent Type Definition
	// resource: GET reads, PUT publishes (validated against the Skill
	// registry the same way POST /v1/agent-types is).
	mux.HandleFunc("GET /v1/agent-type-definitions/{agentTypeID}", deps.Certification.HandleGetAgentType)
	mux.HandleFunc("PUT /v1/agent-type-definitions/{agentTypeID}", deps.Certification.HandleRegisterAgentType)

	mux.HandleFunc("POST /v1/instances", deps.Subscriptions.HandleHire)
	mux.HandleFunc("GET /v1/instances", deps.Subscriptions.HandleList)
	mux.HandleFunc("GET /v1/instances/{instanceID}", deps.Subscriptions.HandleGet)
	mux.HandleFunc("POST /v1/instances/{instanceID}/transition", deps.Subscriptions.HandleTransition)

	// §6's literal hired-agent contract names: subscriptions/{id}/hire and
	// hired-agents/{id}/configure|activate|interrupt|resume share the same
	// SubscriptionServer and Instance resource as /v1/instances above.
	mux.HandleFunc("POST /v1/subscriptions/{subscriptionID}/hire", deps.Subscriptions.HandleHire)
	mux.HandleFunc("GET /v1/hired-agents/{instanceID}", deps.Subscriptions.HandleGet)
	mux.HandleFunc("POST /v1/hired-agents/{instanceID}/configure", deps.Subscriptions.HandleConfigure)
	mux.HandleFunc("POST /v1/hired-agents/{instanceID}/activate", deps.Subscriptions.HandleActivate)
	mux.HandleFunc("POST /v1/hired-agents/{instanceID}/interrupt", deps.Subscriptions.HandleInterrupt)
	mux.HandleFunc("POST /v1/hired-agents/{instanceID}/resume", deps.Subscriptions.HandleResume)
	mux.HandleFunc("POST /v1/hired-agents/{instanceID}/goals", deps.Subscriptions.HandlePostGoal)
	mux.HandleFunc("GET /v1/hired-agents/{instanceID}/goals", deps.Subscriptions.HandleListGoals)

	mux.HandleFunc("GET /v1/audit/events", deps.AuditServer.HandleListEvents)
	mux.HandleFunc("GET /v1/audit/journeys", deps.AuditServer.HandleListJourneys)
	mux.HandleFunc("GET /v1/audit/events/{eventID}", deps.AuditServer.HandleGetEvent)
	mux.HandleFunc("POST /v1/audit/verify", deps.AuditServer.HandleVerify)
	mux.HandleFunc("POST /v1/audit/quarantine/ack", deps.AuditServer.HandleAcknowledge)

	if deps.Precedents != nil {
		mux.HandleFunc("GET /v1/precedent-seeds", deps.Precedents.HandleListSeeds)
		mux.HandleFunc("GET /v1/precedent-seeds/{seedID}", deps.Precedents.HandleGetSeed)
		mux.HandleFunc("POST /v1/precedent-seeds/{seedID}/review", deps.Precedents.HandleReviewSeed)
		mux.HandleFunc("POST /v1/approvals/{approvalID}/veto", deps.Precedents.HandleVeto)
	}

	if deps.Goals != nil {
		mux.HandleFunc("POST /v1/goals", deps.Goals.HandlePost)
	}
	if deps.Deliverables != nil {
		mux.HandleFunc("GET /v1/deliverables", deps.Deliverables.HandleList)
	}
	if deps.PolicyDenials != nil {
		mux.HandleFunc("GET /v1/policy-denials", deps.PolicyDenials.HandleList)
	}
	if deps.Usage != nil {
		mux.HandleFunc("GET /v1/usage/events", deps.Usage.HandleEvents)
		mux.HandleFunc("GET /v1/usage/aggregate", deps.Usage.HandleAggregate)
	}

	mux.HandleFunc("GET /health", handleHealth)

	return Chain(mux, TraceMiddleware, func(next http.Handler) http.Handler {
		return AuditMiddleware(deps.Audit, next)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

package httpapi

import (
	"encoding/json"
	"net/http"

	"govcore/internal/audit"
	"govcore/internal/certification"
	"govcore/internal/problemdetail"
	"govcore/internal/subscription"
)

// SubscriptionServer exposes the Subscription & Instance Store (C4) over
// HTTP: hire, configure, activate, interrupt, resume, and post goals
// against hired agent instances.
type SubscriptionServer struct {
	Store *subscription.Store
	// Registry backs hire-eligibility (§4.3 migration_required refusal)
	// and config-schema validation (§4.1 configure). Nil disables both
	// checks — used in tests that exercise the state machine alone.
	Registry *certification.Registry
}

type hireRequest struct {
	TenantID      string `json:"tenant_id"`
	AgentTypeID   string `json:"agent_type_id"`
	AgentTypeName string `json:"agent_type_name"`
	DisplayName   string `json:"display_name"`
	HiredBy       string `json:"hired_by"`
}

func (s *SubscriptionServer) HandleHire(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())

	var req hireRequest
	if err := readJSON(r, &req); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}
	if req.TenantID == "" || req.AgentTypeID == "" {
		problemdetail.ValidationError(w, traceID, "tenant_id and agent_type_id are required")
		return
	}

	if s.Registry != nil {
		if _, err := s.Registry.CheckHireEligible(r.Context(), req.AgentTypeID); err != nil {
			problemdetail.Unprocessable(w, traceID, problemdetail.ReasonVersionUpgradeRequired, err.Error(), nil)
			return
		}
	}

	inst, err := s.Store.Hire(r.Context(), req.TenantID, req.AgentTypeID, req.AgentTypeName, req.DisplayName, req.HiredBy)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *SubscriptionServer) HandleGet(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	inst, err := s.Store.Get(r.Context(), r.PathValue("instanceID"))
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *SubscriptionServer) HandleList(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		problemdetail.ValidationError(w, traceID, "tenant_id query parameter is required")
		return
	}
	state := subscription.State(r.URL.Query().Get("state"))

	list, err := s.Store.ListByTenant(r.Context(), tenantID, state)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type transitionRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// HandleTransition remains available for direct, unchecked state moves
// (operator tooling, tests); Configure/Activate/Interrupt/Resume below are
// the contractual, validated lifecycle endpoints named by §6.
func (s *SubscriptionServer) HandleTransition(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	var req transitionRequest
	if err := readJSON(r, &req); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}

	if err := s.Store.Transition(r.Context(), instanceID, subscription.State(req.State), req.Reason); err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}

	inst, err := s.Store.Get(r.Context(), instanceID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

type configureRequest struct {
	Config map[string]any `json:"config"`
}

// HandleConfigure implements §6's "POST /v1/hired-agents/{hired_instance_id}
// /configure — validates config against agent type schema": the config
// must validate against the Agent Type's config_schema and every one of its
// required_skill_keys must still resolve to a CERTIFIED skill (§4.1).
func (s *SubscriptionServer) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	var req configureRequest
	if err := readJSON(r, &req); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}

	inst, err := s.Store.Get(r.Context(), instanceID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}

	configBytes, err := json.Marshal(req.Config)
	if err != nil {
		problemdetail.ValidationError(w, traceID, "config must be a JSON object")
		return
	}
	configJSON := string(configBytes)

	agentTypeVersion := 0
	if s.Registry != nil {
		atd, err := s.Registry.CheckHireEligible(r.Context(), inst.AgentTypeID)
		if err != nil {
			problemdetail.Unprocessable(w, traceID, problemdetail.ReasonVersionUpgradeRequired, err.Error(), nil)
			return
		}
		agentTypeVersion = atd.Version
		if violations := certification.ValidateConfig(atd.ConfigSchema, configJSON); len(violations) > 0 {
			problemdetail.Unprocessable(w, traceID, problemdetail.ReasonNotConfigured, "config does not satisfy the agent type's config schema", violations)
			return
		}
	}

	if err := s.Store.Configure(r.Context(), instanceID, configJSON, agentTypeVersion); err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}

	inst, err = s.Store.Get(r.Context(), instanceID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// HandleActivate implements §6's "POST /v1/hired-agents/{hired_instance_id}
// /activate", requiring a non-empty goal set (§4.1).
func (s *SubscriptionServer) HandleActivate(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	if err := s.Store.Activate(r.Context(), instanceID); err != nil {
		problemdetail.Unprocessable(w, traceID, problemdetail.ReasonNotConfigured, err.Error(), nil)
		return
	}

	inst, err := s.Store.Get(r.Context(), instanceID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

type interruptRequest struct {
	Reason string `json:"reason"`
}

// HandleInterrupt moves an active instance to interrupted, reachable "via
// customer request or budget gate" per §4.1.
func (s *SubscriptionServer) HandleInterrupt(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	var req interruptRequest
	_ = readJSON(r, &req) // body is optional

	if err := s.Store.Interrupt(r.Context(), instanceID, req.Reason); err != nil {
		problemdetail.Conflict(w, traceID, err.Error())
		return
	}

	inst, err := s.Store.Get(r.Context(), instanceID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// HandleResume re-activates an interrupted instance, refusing per §4.1 if
// the agent type has published a newer version since this instance was
// last configured ("resumption requires re-validation if the Agent Type
// version has changed").
func (s *SubscriptionServer) HandleResume(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	currentVersion := 0
	if s.Registry != nil {
		inst, err := s.Store.Get(r.Context(), instanceID)
		if err != nil {
			problemdetail.NotFound(w, traceID, err.Error())
			return
		}
		atd, err := s.Registry.GetAgentType(r.Context(), inst.AgentTypeID)
		if err != nil {
			problemdetail.NotFound(w, traceID, err.Error())
			return
		}
		currentVersion = atd.Version
	}

	if err := s.Store.Resume(r.Context(), instanceID, currentVersion); err != nil {
		problemdetail.Unprocessable(w, traceID, problemdetail.ReasonVersionUpgradeRequired, err.Error(), nil)
		return
	}

	inst, err := s.Store.Get(r.Context(), instanceID)
	if err != nil {
		problemdetail.NotFound(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

type postGoalRequest struct {
	GoalTemplateID string            `json:"goal_template_id"`
	Frequency      string            `json:"frequency"`
	Settings       map[string]string `json:"settings"`
}

// HandlePostGoal implements the goal-posting half of §4.1's Goal type,
// attaching a standing directive to a hired instance.
func (s *SubscriptionServer) HandlePostGoal(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	var req postGoalRequest
	if err := readJSON(r, &req); err != nil {
		problemdetail.ValidationError(w, traceID, err.Error())
		return
	}
	if req.GoalTemplateID == "" {
		problemdetail.ValidationError(w, traceID, "goal_template_id is required")
		return
	}

	g := &subscription.Goal{HiredInstanceID: instanceID, GoalTemplateID: req.GoalTemplateID, Frequency: req.Frequency, Settings: req.Settings}
	if err := s.Store.AddGoal(r.Context(), g); err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *SubscriptionServer) HandleListGoals(w http.ResponseWriter, r *http.Request) {
	traceID := audit.TraceIDFromContext(r.Context())
	instanceID := r.PathValue("instanceID")

	goals, err := s.Store.ListGoals(r.Context(), instanceID)
	if err != nil {
		problemdetail.Internal(w, traceID, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

package policy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Engine is the policy decision point. It holds one policy Config per
// governance layer and evaluates all four layers for every request,
// letting the tightest effect across layers win ("tightest effect wins").
// A looser layer can never relax a stricter layer's verdict: if L0 denies
// and L3 would allow, the request is still denied.
type Engine struct {
	layers        map[Layer]*Config
	defaultEffect Effect
	dryRun        bool
}

// EngineConfig configures a new Engine.
type EngineConfig struct {
	// Layers maps each governance layer to its loaded policy configuration.
	// A layer absent from the map is treated as having no policies.
	Layers map[Layer]*Config

	// DefaultEffect is applied when no layer's policies match. Defaults to
	// EffectDeny.
	DefaultEffect Effect

	// DryRun logs decisions but always returns allow.
	DryRun bool
}

// NewEngine creates a new policy engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.DefaultEffect == "" {
		cfg.DefaultEffect = EffectDeny
	}
	layers := cfg.Layers
	if layers == nil {
		layers = map[Layer]*Config{}
	}
	return &Engine{layers: layers, defaultEffect: cfg.DefaultEffect, dryRun: cfg.DryRun}
}

// Layer returns the configuration loaded for a single layer, or nil.
func (e *Engine) Layer(l Layer) *Config {
	return e.layers[l]
}

// Evaluate evaluates a request against all layers and returns a decision.
// It is a thin wrapper around Explain that discards the trace.
func (e *Engine) Evaluate(req Request) Decision {
	return e.Explain(req).Decision
}

// Explain evaluates a request and returns both the decision and a full
// evaluation trace suitable for human-readable explanations and audit storage.
func (e *Engine) Explain(req Request) DecisionTrace {
	if req.Context.Timestamp.IsZero() {
		req.Context.Timestamp = time.Now().UTC()
	}

	trace := e.explainLayers(req)
	trace.Explanation = buildExplanation(req, trace)
	logDecision(req, trace.Decision, e.dryRun)

	if e.dryRun && trace.Decision.Effect != EffectAllow {
		original := trace.Decision.Effect
		trace.Decision.Message = fmt.Sprintf("[DRY RUN] would have been %s: %s", original, trace.Decision.Message)
		trace.Decision.Effect = EffectAllow
		trace.Decision.RequiresApproval = false
	}

	return trace
}

// explainLayers evaluates every governance layer and picks the tightest
// matching effect across them. Layers are evaluated in Layers order
// (platform first) purely for trace readability; ties resolve to the
// first-encountered layer, which is always the stricter one in practice
// because platform policies are written to deny or require approval, never
// to relax.
func (e *Engine) explainLayers(req Request) DecisionTrace {
	trace := DecisionTrace{Timestamp: req.Context.Timestamp, Request: req}

	var winner *Decision
	for _, layer := range Layers {
		cfg := e.layers[layer]
		lt := LayerTrace{Layer: layer}
		if cfg == nil || len(cfg.Policies) == 0 {
			lt.SkipReason = "no policies loaded for layer"
			trace.LayerTraces = append(trace.LayerTraces, lt)
			continue
		}

		dec, policyTraces, matched := e.explainOneLayer(layer, cfg, req)
		lt.PoliciesEvaluated = policyTraces
		if matched {
			lt.LayerEffect = dec.Effect
			if winner == nil || dec.Effect.tightness() > winner.Effect.tightness() {
				winner = &dec
			}
		} else {
			lt.SkipReason = "no policy matched"
		}
		trace.LayerTraces = append(trace.LayerTraces, lt)
	}

	if winner == nil {
		trace.DefaultApplied = true
		trace.Decision = Decision{Effect: e.defaultEffect, PolicyName: "default", Message: "no matching policy found in any layer"}
		return trace
	}
	trace.Decision = *winner
	return trace
}

// explainOneLayer runs first-match-wins evaluation within a single layer's
// policies, ordered by descending priority: the first matching rule of the
// first policy that has one decides the layer's effect, and the policies
// after it are not evaluated.
func (e *Engine) explainOneLayer(layer Layer, cfg *Config, req Request) (Decision, []PolicyTrace, bool) {
	policies := make([]Policy, len(cfg.Policies))
	copy(policies, cfg.Policies)
	sortByPriorityDesc(policies)

	var traces []PolicyTrace
	var winner *Decision

	for _, pol := range policies {
		pt := PolicyTrace{PolicyName: pol.Name}

		if !pol.IsEnabled() {
			pt.SkipReason = "disabled"
			traces = append(traces, pt)
			continue
		}
		if !e.matchesPrincipal(pol, req.Principal) {
			pt.SkipReason = "principal_mismatch"
			traces = append(traces, pt)
			continue
		}
		if !e.matchesResource(pol, req.Resource) {
			pt.SkipReason = "resource_mismatch"
			pt.RequiredTags = resourceTagSets(pol, req.Resource.Type)
			traces = append(traces, pt)
			continue
		}

		pt.Matched = true
		for i, rule := range pol.Rules {
			rt := RuleTrace{Index: i, Actions: actionsToStrings(rule.Action), Effect: string(rule.Effect)}

			if !rule.Action.Matches(req.Action) {
				rt.SkipReason = "action_mismatch"
				pt.Rules = append(pt.Rules, rt)
				continue
			}
			if rule.Conditions != nil && rule.Conditions.Schedule != nil && !rule.Conditions.Schedule.IsActive(req.Context.Timestamp) {
				rt.SkipReason = "schedule_inactive"
				pt.Rules = append(pt.Rules, rt)
				continue
			}

			rt.Matched = true
			decision := Decision{Effect: rule.Effect, PolicyName: pol.Name, Layer: layer, RuleIndex: i, Message: rule.Message}
			if rule.Conditions != nil {
				decision, rt.Conditions = e.applyConditionsWithTrace(decision, rule.Conditions, req)
			}
			rt.Effect = string(decision.Effect)
			pt.Rules = append(pt.Rules, rt)

			winner = &decision
			break
		}
		traces = append(traces, pt)
		if winner != nil {
			break
		}
	}

	if winner == nil {
		return Decision{}, traces, false
	}
	return *winner, traces, true
}

func sortByPriorityDesc(policies []Policy) {
	for i := 1; i < len(policies); i++ {
		for j := i; j > 0 && policies[j].Priority > policies[j-1].Priority; j-- {
			policies[j], policies[j-1] = policies[j-1], policies[j]
		}
	}
}

func actionsToStrings(am ActionMatcher) []string {
	s := make([]string, len(am))
	for i, a := range am {
		s[i] = string(a)
	}
	return s
}

// matchesPrincipal checks if a policy applies to the given principal.
func (e *Engine) matchesPrincipal(policy Policy, principal RequestPrincipal) bool {
	if len(policy.Principals) == 0 {
		return true
	}
	for _, p := range policy.Principals {
		if p.Any {
			return true
		}
		if p.User != "" && p.User == principal.UserID {
			return true
		}
		if p.Service != "" && p.Service == principal.Service {
			return true
		}
		if p.Role != "" {
			for _, role := range principal.Roles {
				if role == p.Role {
					return true
				}
			}
		}
	}
	return false
}

// matchesResource checks if a policy applies to the given resource.
func (e *Engine) matchesResource(policy Policy, resource RequestResource) bool {
	for _, r := range policy.Resources {
		if r.Type != resource.Type {
			continue
		}
		if r.Match.Name != "" && r.Match.Name != resource.Name {
			continue
		}
		if r.Match.NamePattern != "" {
			matched, _ := filepath.Match(r.Match.NamePattern, resource.Name)
			if !matched {
				continue
			}
		}
		if r.Match.Namespace != "" && r.Match.Namespace != resource.Namespace {
			continue
		}
		if len(r.Match.Tags) > 0 && !hasAllTags(resource.Tags, r.Match.Tags) {
			continue
		}
		return true
	}
	return false
}

// resourceTagSets returns the tag sets from a policy's resource specs that
// match the given resource type and have tag requirements.
func resourceTagSets(pol Policy, resourceType string) [][]string {
	var sets [][]string
	for _, r := range pol.Resources {
		if r.Type == resourceType && len(r.Match.Tags) > 0 {
			cp := make([]string, len(r.Match.Tags))
			copy(cp, r.Match.Tags)
			sets = append(sets, cp)
		}
	}
	return sets
}

func hasAllTags(resourceTags, requiredTags []string) bool {
	tagSet := make(map[string]bool)
	for _, t := range resourceTags {
		tagSet[t] = true
	}
	for _, t := range requiredTags {
		if !tagSet[t] {
			return false
		}
	}
	return true
}

// applyConditionsWithTrace applies rule conditions to a decision and returns
// a ConditionTrace for each condition checked.
func (e *Engine) applyConditionsWithTrace(decision Decision, cond *Conditions, req Request) (Decision, []ConditionTrace) {
	var traces []ConditionTrace

	if cond.RequireApproval {
		decision.RequiresApproval = true
		decision.ApprovalQuorum = cond.ApprovalQuorum
		if decision.ApprovalQuorum == 0 {
			decision.ApprovalQuorum = 1
		}
		if decision.Effect == EffectAllow {
			decision.Effect = EffectRequireApproval
		}
		traces = append(traces, ConditionTrace{Name: "require_approval", Passed: true, Detail: fmt.Sprintf("quorum: %d", decision.ApprovalQuorum)})
	}

	if cond.MaxRowsAffected > 0 {
		exceeded := req.Context.RowsAffected > cond.MaxRowsAffected
		ct := ConditionTrace{Name: "max_rows_affected", Passed: !exceeded, Detail: fmt.Sprintf("%d rows affected, limit is %d", req.Context.RowsAffected, cond.MaxRowsAffected)}
		if exceeded {
			decision.Effect = EffectDeny
			decision.Message = formatMessage("operation affects %d rows, limit is %d", req.Context.RowsAffected, cond.MaxRowsAffected)
			decision.Conditions = append(decision.Conditions, formatMessage("max %d rows", cond.MaxRowsAffected))
		}
		traces = append(traces, ct)
	}

	if cond.MaxPodsAffected > 0 {
		exceeded := req.Context.PodsAffected > cond.MaxPodsAffected
		ct := ConditionTrace{Name: "max_pods_affected", Passed: !exceeded, Detail: fmt.Sprintf("%d pods affected, limit is %d", req.Context.PodsAffected, cond.MaxPodsAffected)}
		if exceeded {
			decision.Effect = EffectDeny
			decision.Message = formatMessage("operation affects %d pods, limit is %d", req.Context.PodsAffected, cond.MaxPodsAffected)
			decision.Conditions = append(decision.Conditions, formatMessage("max %d pods", cond.MaxPodsAffected))
		}
		traces = append(traces, ct)
	}

	if cond.MaxBudgetUSD > 0 && req.Context.BudgetRemainingKnown {
		insufficient := req.Context.BudgetRemainingUSD < cond.MaxBudgetUSD
		ct := ConditionTrace{Name: "max_budget_usd", Passed: !insufficient, Detail: fmt.Sprintf("$%.2f remaining, $%.2f required", req.Context.BudgetRemainingUSD, cond.MaxBudgetUSD)}
		if insufficient {
			decision.Effect = EffectDeny
			decision.Message = formatMessage("insufficient budget headroom: $%.2f remaining, $%.2f required", req.Context.BudgetRemainingUSD, cond.MaxBudgetUSD)
		}
		traces = append(traces, ct)
	}

	if cond.Schedule != nil {
		traces = append(traces, ConditionTrace{Name: "schedule", Passed: cond.Schedule.IsActive(req.Context.Timestamp)})
	}

	return decision, traces
}

func formatMessage(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}

func logDecision(req Request, decision Decision, dryRun bool) {
	attrs := []any{
		"action", req.Action,
		"resource_type", req.Resource.Type,
		"resource_name", req.Resource.Name,
		"effect", decision.Effect,
		"policy", decision.PolicyName,
		"layer", decision.Layer,
	}
	if req.Principal.UserID != "" {
		attrs = append(attrs, "user", req.Principal.UserID)
	}
	if req.Principal.Service != "" {
		attrs = append(attrs, "service", req.Principal.Service)
	}
	if decision.Message != "" {
		attrs = append(attrs, "message", decision.Message)
	}
	if dryRun {
		attrs = append(attrs, "dry_run", true)
	}

	switch decision.Effect {
	case EffectDeny:
		slog.Warn("policy decision: DENY", attrs...)
	case EffectRequireApproval:
		slog.Info("policy decision: REQUIRE_APPROVAL", attrs...)
	default:
		slog.Debug("policy decision: ALLOW", attrs...)
	}
}

// MustAllow is a convenience method that returns an error if the decision is not allow.
func (d *Decision) MustAllow() error {
	if d.IsAllowed() {
		return nil
	}
	if d.NeedsApproval() {
		return &ApprovalRequiredError{Decision: *d}
	}
	return &DeniedError{Decision: *d}
}

// DeniedError is returned when a request is denied by policy.
type DeniedError struct {
	Decision    Decision
	Explanation string // human-readable explanation from DecisionTrace; overrides the terse default
}

func (e *DeniedError) Error() string {
	if e.Explanation != "" {
		return e.Explanation
	}
	if e.Decision.Message != "" {
		return "policy denied: " + e.Decision.Message
	}
	return "policy denied by " + e.Decision.PolicyName
}

// ApprovalRequiredError is returned when a request requires approval.
type ApprovalRequiredError struct {
	Decision Decision
}

func (e *ApprovalRequiredError) Error() string {
	if e.Decision.Message != "" {
		return "approval required: " + e.Decision.Message
	}
	return "approval required by policy " + e.Decision.PolicyName
}

// IsApprovalRequired returns true if the error indicates approval is required.
func IsApprovalRequired(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ApprovalRequiredError)
	return ok
}

// IsDenied returns true if the error indicates the request was denied.
func IsDenied(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*DeniedError)
	return ok
}

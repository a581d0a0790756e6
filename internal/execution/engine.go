package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"govcore/internal/approval"
	"govcore/internal/audit"
	"govcore/internal/budget"
	"govcore/internal/policy"
	"govcore/internal/precedent"
	"govcore/internal/subscription"
)

// Engine runs goal cycles: plan, then Think-Act-Observe each step in
// dependency order, consulting the policy engine, budget accountant, and
// approval service at each suspension point.
type Engine struct {
	policy        *policy.Engine
	budget        *budget.Accountant
	approval      *approval.Store
	audit         *audit.Store
	thinker       *Thinker
	tools         ToolAdapter
	knowledge     KnowledgeLookup
	subscriptions *subscription.Store
	precedents    *precedent.Store

	// MaxRetries bounds the exponential-backoff retry loop for a failing
	// step; DefaultApprovalSLA is used when a step declares no SLA of its own.
	MaxRetries         int
	DefaultApprovalSLA time.Duration
	// EmergencyBudgetSLA bounds how long a suspended step waits for an
	// emergency_budget decision before giving up and interrupting the instance.
	EmergencyBudgetSLA time.Duration
}

// Config wires an Engine's dependencies.
type Config struct {
	Policy             *policy.Engine
	Budget             *budget.Accountant
	Approval           *approval.Store
	Audit              *audit.Store
	Thinker            *Thinker
	Tools              ToolAdapter
	Knowledge          KnowledgeLookup
	Subscriptions      *subscription.Store
	Precedents         *precedent.Store
	MaxRetries         int
	DefaultApprovalSLA time.Duration
	EmergencyBudgetSLA time.Duration
}

// NewEngine constructs an Engine from its dependencies.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultApprovalSLA <= 0 {
		cfg.DefaultApprovalSLA = 24 * time.Hour
	}
	if cfg.EmergencyBudgetSLA <= 0 {
		cfg.EmergencyBudgetSLA = 30 * time.Minute
	}
	return &Engine{
		policy:             cfg.Policy,
		budget:             cfg.Budget,
		approval:           cfg.Approval,
		audit:              cfg.Audit,
		thinker:            cfg.Thinker,
		tools:              cfg.Tools,
		knowledge:          cfg.Knowledge,
		subscriptions:      cfg.Subscriptions,
		precedents:         cfg.Precedents,
		MaxRetries:         cfg.MaxRetries,
		DefaultApprovalSLA: cfg.DefaultApprovalSLA,
		EmergencyBudgetSLA: cfg.EmergencyBudgetSLA,
	}
}

// RunGoal executes a goal's plan to completion, suspension (awaiting
// approval), or failure. Partial progress is durable: re-running a goal
// with the same correlation id resumes from the first step whose
// (correlation_id, step_id) completion is not yet in the audit log —
// already-recorded steps are replayed into the result without re-running.
func (e *Engine) RunGoal(ctx context.Context, ec ExecContext, plan *Plan) (GoalResult, error) {
	order, err := TopoSort(plan)
	if err != nil {
		return GoalResult{GoalID: plan.GoalID}, err
	}

	byID := make(map[string]PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}

	done := e.completedSteps(ctx, ec)
	result := GoalResult{GoalID: plan.GoalID}

	for _, id := range order {
		step := byID[id]

		select {
		case <-ctx.Done():
			result.Cancelled = true
			e.cancelGoal(ec)
			return result, ctx.Err()
		default:
		}

		if prior, ok := done[step.ID]; ok {
			result.Outcomes = append(result.Outcomes, StepOutcome{
				StepID: step.ID, Succeeded: true, Output: prior, Replayed: true,
			})
			continue
		}

		outcome := e.runStep(ctx, ec, step, result.Outcomes)
		result.Outcomes = append(result.Outcomes, outcome)
		e.recordStepEvent(ctx, ec, step, outcome)

		if !outcome.Succeeded {
			result.Completed = false
			e.recordGoalFailure(ctx, ec, outcome)
			return result, fmt.Errorf("step %s failed: %s", step.ID, outcome.Err)
		}
	}

	result.Completed = true
	e.recordGoalEvent(ctx, ec, "GOAL_COMPLETED")
	return result, nil
}

// completedSteps returns the step IDs (and their recorded outputs) already
// durably completed under this correlation id, so a re-run resumes instead
// of repeating effects.
func (e *Engine) completedSteps(ctx context.Context, ec ExecContext) map[string]string {
	done := map[string]string{}
	if e.audit == nil || ec.TraceID == "" {
		return done
	}
	events, err := e.audit.Query(ctx, audit.QueryOptions{
		TraceID:   ec.TraceID,
		EventType: audit.EventTypeOutcome,
		Limit:     1000,
	})
	if err != nil {
		slog.Warn("could not read prior step completions, re-running the full plan", "trace_id", ec.TraceID, "err", err)
		return done
	}
	for _, evt := range events {
		fields := strings.Fields(evt.Input.UserQuery)
		if len(fields) < 2 || fields[0] != "STEP_COMPLETED" {
			continue
		}
		if evt.Outcome == nil || evt.Outcome.Status != "success" {
			continue
		}
		output := ""
		if evt.Output != nil {
			output = evt.Output.Response
		}
		done[fields[1]] = output
	}
	return done
}

// cancelGoal runs the deterministic cancellation sequence: in-flight
// approvals on this trace move to DEFERRED, the instance transitions to
// interrupted, and GOAL_CANCELLED is recorded. The goal's own context is
// already done, so a fresh background context carries the cleanup writes.
func (e *Engine) cancelGoal(ec ExecContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.approval != nil {
		if n, err := e.approval.DeferPendingByTrace(ctx, ec.TraceID, "goal cancelled"); err != nil {
			slog.Warn("failed to defer in-flight approvals on cancel", "trace_id", ec.TraceID, "err", err)
		} else if n > 0 {
			slog.Info("deferred in-flight approvals on cancel", "trace_id", ec.TraceID, "count", n)
		}
	}
	if e.subscriptions != nil {
		if err := e.subscriptions.Interrupt(ctx, ec.InstanceID, "goal cancelled"); err != nil {
			slog.Warn("failed to interrupt instance on cancel", "instance", ec.InstanceID, "err", err)
		}
	}
	e.recordGoalEvent(ctx, ec, "GOAL_CANCELLED")
}

func (e *Engine) runStep(ctx context.Context, ec ExecContext, step PlanStep, priorOutcomes []StepOutcome) StepOutcome {
	day := time.Now().UTC().Format("2006-01-02")

	if e.budget != nil && step.EstimatedCost > 0 {
		res, err := e.budget.Debit(ctx, ec.InstanceID, day, step.EstimatedCost, ec.TraceID, step.ID)
		if err != nil {
			return StepOutcome{StepID: step.ID, Succeeded: false, Err: fmt.Sprintf("budget debit: %v", err)}
		}
		if !res.Accepted {
			if err := e.escalateEmergencyBudget(ctx, ec, step, day); err != nil {
				return StepOutcome{StepID: step.ID, Succeeded: false, Err: err.Error()}
			}
			// Grant succeeded: retry the debit against the now-raised limit.
			res, err = e.budget.Debit(ctx, ec.InstanceID, day, step.EstimatedCost, ec.TraceID, step.ID)
			if err != nil {
				return StepOutcome{StepID: step.ID, Succeeded: false, Err: fmt.Sprintf("budget debit after emergency grant: %v", err)}
			}
			if !res.Accepted {
				return StepOutcome{StepID: step.ID, Succeeded: false, Err: "budget exhausted even after emergency grant"}
			}
		}
	}

	if e.knowledge != nil {
		if _, _, err := e.knowledge.Lookup(ctx, ec, step.SkillKey); err != nil {
			slog.Warn("knowledge lookup failed, continuing without it", "step", step.ID, "err", err)
		}
	}

	if e.thinker != nil {
		think, err := e.thinker.Think(ctx, step, priorOutcomes)
		if err != nil {
			slog.Warn("think phase failed, proceeding to act without a plan refinement", "step", step.ID, "err", err)
		} else if e.audit != nil {
			e.audit.Record(ctx, &audit.Event{
				EventType:      audit.EventTypeAgentReasoning,
				TraceID:        ec.TraceID,
				Session:        audit.Session{ID: ec.GoalID, UserID: ec.TenantID, InstanceID: ec.InstanceID},
				Input:          audit.Input{UserQuery: step.SkillKey},
				AgentReasoning: &audit.AgentReasoning{Reasoning: think.Reasoning, ToolCalls: think.ProposedActions},
			})
		}
	}

	if !step.ExternalEffect {
		return StepOutcome{StepID: step.ID, Succeeded: true, Output: "no external effect"}
	}

	return e.actWithRetry(ctx, ec, step)
}

// actWithRetry runs the Act phase, authorizing through the policy engine
// first, retrying transient tool failures with exponential backoff and
// jitter up to MaxRetries. The skill's action class (derived from its
// leading verb) decides which policy rules apply and how the approval, if
// any, is bucketed.
func (e *Engine) actWithRetry(ctx context.Context, ec ExecContext, step PlanStep) StepOutcome {
	class := audit.ClassifySkill(step.SkillKey)
	req := policy.Request{
		Principal: policy.RequestPrincipal{Service: ec.InstanceID},
		Resource:  policy.RequestResource{Type: "skill", Name: step.SkillKey},
		Action:    policyAction(class),
		Context:   policy.RequestContext{TraceID: ec.TraceID},
	}

	var decision policy.Decision
	if e.policy != nil {
		trace := e.policy.Explain(req)
		decision = trace.Decision
		e.recordPolicyDecision(ctx, ec, step, class, trace)
	} else {
		decision = policy.Decision{Effect: policy.EffectAllow}
	}

	if decision.IsDenied() {
		return StepOutcome{StepID: step.ID, Succeeded: false, Err: "policy denied: " + decision.Message}
	}

	if decision.NeedsApproval() {
		if err := e.awaitApproval(ctx, ec, step, class, decision); err != nil {
			return StepOutcome{StepID: step.ID, Succeeded: false, Err: err.Error()}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= e.MaxRetries; attempt++ {
		output, err := e.tools.Invoke(ctx, ec, step.SkillKey, ec.TraceID, step.ID, step.SkillKey)
		if err == nil {
			return StepOutcome{StepID: step.ID, Succeeded: true, Output: output, Attempts: attempt}
		}
		lastErr = err

		if attempt == e.MaxRetries {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return StepOutcome{StepID: step.ID, Succeeded: false, Err: ctx.Err().Error(), Attempts: attempt}
		case <-time.After(backoff + jitter):
		}
	}

	return StepOutcome{StepID: step.ID, Succeeded: false, Err: lastErr.Error(), Attempts: e.MaxRetries}
}

// policyAction maps an audit action class onto the PDP's action vocabulary.
// Unknown verbs are evaluated as writes, the conservative bucket under the
// default-deny posture.
func policyAction(class audit.ActionClass) policy.ActionClass {
	switch class {
	case audit.ActionRead:
		return policy.ActionRead
	case audit.ActionDestructive:
		return policy.ActionDestructive
	default:
		return policy.ActionWrite
	}
}

// recordPolicyDecision logs the PDP's verdict before the PEP acts on it,
// satisfying §4.2's "every decision is logged before the PEP returns" —
// deny and require_approval alike, not just denials.
func (e *Engine) recordPolicyDecision(ctx context.Context, ec ExecContext, step PlanStep, class audit.ActionClass, trace policy.DecisionTrace) {
	if e.audit == nil {
		return
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		slog.Warn("failed to marshal policy decision trace", "step", step.ID, "err", err)
	}
	decision := trace.Decision
	e.audit.Record(ctx, &audit.Event{
		EventType:   audit.EventTypePolicyDecision,
		TraceID:     ec.TraceID,
		ActionClass: class,
		Session:     audit.Session{ID: ec.GoalID, UserID: ec.TenantID, InstanceID: ec.InstanceID},
		PolicyDecision: &audit.PolicyDecision{
			ResourceType: "skill",
			ResourceName: step.SkillKey,
			Action:       string(policyAction(class)),
			Effect:       string(decision.Effect),
			PolicyName:   decision.PolicyName,
			Layer:        string(decision.Layer),
			RuleIndex:    decision.RuleIndex,
			Message:      decision.Message,
			Trace:        traceJSON,
			Explanation:  trace.Explanation,
		},
	})
}

func (e *Engine) awaitApproval(ctx context.Context, ec ExecContext, step PlanStep, class audit.ActionClass, decision policy.Decision) error {
	sla := step.SLA
	if sla <= 0 {
		sla = e.DefaultApprovalSLA
	}

	req := &approval.Request{
		ApprovalID:     "apr_" + ec.TraceID + "_" + step.ID,
		TraceID:        ec.TraceID,
		InstanceID:     ec.InstanceID,
		ActionClass:    string(policyAction(class)),
		ToolName:       step.SkillKey,
		RequestedBy:    ec.InstanceID,
		RequestedAt:    time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(sla),
		PolicyName:     decision.PolicyName,
		RequestContext: map[string]any{"step_id": step.ID},
	}

	if ok, err := e.tryAutoApprove(ctx, ec, req); err != nil {
		slog.Warn("precedent lookup failed, falling back to human approval", "step", step.ID, "err", err)
	} else if ok {
		return nil
	}

	if err := e.approval.CreateRequest(ctx, req); err != nil {
		return fmt.Errorf("creating approval request: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, sla)
	defer cancel()

	resolved, err := e.approval.WaitForResolution(waitCtx, req.ApprovalID)
	if err != nil {
		// The wait deadline and the approval deadline coincide: re-read so
		// the lazy-expiry path reports the terminal EXPIRED state rather
		// than a bare context error.
		if errors.Is(err, context.DeadlineExceeded) {
			if cur, gerr := e.approval.GetRequest(ctx, req.ApprovalID); gerr == nil && cur.Status != approval.StatusPending {
				return fmt.Errorf("approval %s: %s", cur.Status, cur.ResolutionReason)
			}
		}
		return fmt.Errorf("approval wait: %w", err)
	}
	if !resolved.IsValid() {
		return fmt.Errorf("approval %s: %s", resolved.Status, resolved.ResolutionReason)
	}
	return nil
}

// tryAutoApprove checks whether an approved precedent seed grants latitude
// for this {agent_type, action} and, if so, records the informational
// approval plus the auto-approval record that opens the owner's veto
// window. Returns true when the step may proceed without a human decision.
func (e *Engine) tryAutoApprove(ctx context.Context, ec ExecContext, req *approval.Request) (bool, error) {
	if e.precedents == nil || ec.AgentTypeID == "" {
		return false, nil
	}
	seed, err := e.precedents.FindApprovedSeed(ctx, ec.AgentTypeID, req.ActionClass)
	if err != nil || seed == nil {
		return false, err
	}

	if err := e.approval.CreateAutoApproved(ctx, req, seed.ID); err != nil {
		return false, fmt.Errorf("recording auto-approval: %w", err)
	}
	now := time.Now().UTC()
	if err := e.precedents.RecordAutoApproval(ctx, &precedent.AutoApproval{
		ApprovalID: req.ApprovalID,
		SeedID:     seed.ID,
		InstanceID: ec.InstanceID,
		DecidedAt:  now,
		VetoUntil:  now.Add(precedent.DefaultVetoWindow),
	}); err != nil {
		return false, fmt.Errorf("opening veto window: %w", err)
	}
	slog.Info("step auto-approved on precedent seed",
		"seed_id", seed.ID, "approval_id", req.ApprovalID, "instance", ec.InstanceID)
	return true, nil
}

// escalateEmergencyBudget implements §8 scenario 3: a debit refused at the
// 100% gate opens an emergency_budget approval and suspends the step until
// it resolves. APPROVE raises the instance-day's effective limit by the
// requested step cost via GrantEmergency; DENY or a timed-out wait
// interrupts the instance (reachable "via ... budget gate" per §4.1) so no
// further steps run until a human re-activates it.
func (e *Engine) escalateEmergencyBudget(ctx context.Context, ec ExecContext, step PlanStep, day string) error {
	if e.approval == nil {
		return fmt.Errorf("budget exhausted, no approval service configured for emergency grant")
	}

	sla := e.EmergencyBudgetSLA
	req := &approval.Request{
		ApprovalID:  "apr_emergency_" + ec.TraceID + "_" + step.ID,
		TraceID:     ec.TraceID,
		InstanceID:  ec.InstanceID,
		ActionClass: "emergency_budget",
		ToolName:    step.SkillKey,
		ResourceType: "budget",
		ResourceName: ec.InstanceID + "/" + day,
		RequestedBy:  ec.InstanceID,
		RequestedAt:  time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(sla),
		RequestContext: map[string]any{"step_id": step.ID},
	}
	if err := e.approval.CreateRequest(ctx, req); err != nil {
		return fmt.Errorf("creating emergency budget approval: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, sla)
	defer cancel()

	resolved, err := e.approval.WaitForResolution(waitCtx, req.ApprovalID)
	if err != nil || !resolved.IsValid() {
		e.interruptOnBudgetDenial(ctx, ec, "emergency budget request denied or expired")
		if err != nil {
			return fmt.Errorf("emergency budget wait: %w", err)
		}
		return fmt.Errorf("emergency budget %s: %s", resolved.Status, resolved.ResolutionReason)
	}

	if err := e.budget.GrantEmergency(ctx, ec.InstanceID, day, step.EstimatedCost, req.ApprovalID); err != nil {
		return fmt.Errorf("applying emergency grant: %w", err)
	}
	return nil
}

// interruptOnBudgetDenial moves the instance to interrupted so no further
// goal cycles run against an exhausted, unresolved budget. Best-effort: a
// failure here doesn't mask the original budget-denial error.
func (e *Engine) interruptOnBudgetDenial(ctx context.Context, ec ExecContext, reason string) {
	if e.subscriptions == nil {
		return
	}
	if err := e.subscriptions.Interrupt(ctx, ec.InstanceID, reason); err != nil {
		slog.Warn("failed to interrupt instance after emergency budget denial", "instance", ec.InstanceID, "err", err)
	}
}

func (e *Engine) recordGoalEvent(ctx context.Context, ec ExecContext, label string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, &audit.Event{
		EventType: audit.EventTypeOutcome,
		TraceID:   ec.TraceID,
		Session:   audit.Session{ID: ec.GoalID, UserID: ec.TenantID, InstanceID: ec.InstanceID},
		Input:     audit.Input{UserQuery: label},
	})
}

// recordStepEvent emits the Observe phase's STEP_COMPLETED (or STEP_FAILED)
// audit entry per §4.7, carrying the step's output as the deliverable text
// so a later GET /v1/deliverables read never needs more than the audit log.
func (e *Engine) recordStepEvent(ctx context.Context, ec ExecContext, step PlanStep, outcome StepOutcome) {
	if e.audit == nil {
		return
	}
	label := "STEP_COMPLETED"
	if !outcome.Succeeded {
		label = "STEP_FAILED"
	}
	var output *audit.Output
	if outcome.Output != "" {
		output = &audit.Output{Response: outcome.Output}
	}
	e.audit.Record(ctx, &audit.Event{
		EventType:   audit.EventTypeOutcome,
		TraceID:     ec.TraceID,
		ActionClass: audit.ClassifySkill(step.SkillKey),
		Session:     audit.Session{ID: ec.GoalID, UserID: ec.TenantID, InstanceID: ec.InstanceID},
		Input:       audit.Input{UserQuery: label + " " + step.ID + " " + step.SkillKey},
		Output:      output,
		Outcome: &audit.Outcome{
			Status:       map[bool]string{true: "success", false: "error"}[outcome.Succeeded],
			ErrorMessage: outcome.Err,
		},
	})
}

// recordGoalFailure emits GOAL_FAILED with a stable reason derived from the
// failing step's error, per the taxonomy §7 error kinds and the scenario in
// §8 ("GOAL_FAILED reason=approval_expired").
func (e *Engine) recordGoalFailure(ctx context.Context, ec ExecContext, outcome StepOutcome) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, &audit.Event{
		EventType: audit.EventTypeOutcome,
		TraceID:   ec.TraceID,
		Session:   audit.Session{ID: ec.GoalID, UserID: ec.TenantID, InstanceID: ec.InstanceID},
		Input:     audit.Input{UserQuery: "GOAL_FAILED reason=" + failureReason(outcome.Err)},
		Outcome:   &audit.Outcome{Status: "error", ErrorMessage: outcome.Err},
	})
}

// failureReason maps a step failure message to the stable reason vocabulary
// a UI selects messaging from (§7: "the UI selects messaging from reason,
// never by parsing detail").
func failureReason(errMsg string) string {
	switch {
	case strings.Contains(errMsg, "expired"):
		return "approval_expired"
	case strings.Contains(errMsg, "policy denied"):
		return "policy_deny"
	case strings.Contains(errMsg, "denied"):
		return "approval_denied"
	case strings.Contains(errMsg, "budget"):
		return "budget_exceeded"
	default:
		return "step_failed"
	}
}

// Package audit provides the hash-chained audit log for the governance
// core: every policy decision, tool execution, approval, and goal-cycle
// transition is recorded as an Event and chained by hash for tamper
// evidence.
package audit

import (
	"encoding/json"
	"time"
)

// EventType identifies the type of audit event.
type EventType string

const (
	EventTypeDelegation       EventType = "delegation_decision"
	EventTypeOutcome          EventType = "delegation_outcome"
	EventTypeGatewayRequest   EventType = "gateway_request"
	EventTypeToolExecution    EventType = "tool_execution"
	EventTypePolicyDecision   EventType = "policy_decision"
	EventTypeAgentReasoning   EventType = "agent_reasoning"
	EventTypeApprovalResolved EventType = "approval_resolved"
	EventTypeBudgetDebit      EventType = "budget_debit"
)

// RequestCategory classifies the kind of goal being pursued, used for
// dashboards and precedent clustering.
type RequestCategory string

const (
	CategorySkillExecution RequestCategory = "skill_execution"
	CategoryApproval       RequestCategory = "approval"
	CategoryBudget         RequestCategory = "budget"
	CategoryCertification  RequestCategory = "certification"
	CategoryUnknown        RequestCategory = "unknown"
)

// Alternative represents a tool adapter or plan step that was considered
// but not chosen for a given goal cycle.
type Alternative struct {
	Agent           string `json:"agent"`
	RejectedBecause string `json:"rejected_because"`
}

// Decision captures a dispatch decision: which tool adapter or skill
// executor the execution engine selected to act on a goal, among
// alternatives it considered.
type Decision struct {
	Agent                  string          `json:"agent"`
	RequestCategory        RequestCategory `json:"request_category"`
	Confidence             float64         `json:"confidence"`
	UserIntent             string          `json:"user_intent"`
	ReasoningChain         []string        `json:"reasoning_chain"`
	AlternativesConsidered []Alternative   `json:"alternatives_considered"`
}

// Session identifies the goal-cycle context an event belongs to. ID is the
// goal ID; UserID carries the tenant or requesting principal; InstanceID
// carries the hired agent instance, so a caller can ask "everything this
// instance did" without joining on goal ID.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	InstanceID      string    `json:"instance_id,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DelegationCount int       `json:"delegation_count"` // Think→Act→Observe cycle count
}

// Input captures the goal text and retrieved knowledge context.
type Input struct {
	UserQuery             string   `json:"user_query"` // goal description
	InfrastructureContext []string `json:"infrastructure_context,omitempty"`
}

// Output captures the agent's observation or final result text.
type Output struct {
	Response string `json:"response,omitempty"`
}

// ToolExecution captures details of a tool invocation during the Act phase.
type ToolExecution struct {
	Name       string         `json:"name"`
	Agent      string         `json:"agent,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	RawCommand string         `json:"raw_command,omitempty"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration_ms,omitempty"`
}

// Outcome captures the result of a goal or plan step.
type Outcome struct {
	Status       string        `json:"status"` // success, error, timeout
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
}

// PolicyDecision captures the outcome of a policy evaluation. Emitted
// before every tool execution and goal transition, regardless of outcome.
type PolicyDecision struct {
	ResourceType  string   `json:"resource_type"`
	ResourceName  string   `json:"resource_name"`
	Action        string   `json:"action"`
	Tags          []string `json:"tags,omitempty"`
	Effect        string   `json:"effect"`
	PolicyName    string   `json:"policy_name"`
	Layer         string   `json:"layer,omitempty"`
	RuleIndex     int      `json:"rule_index,omitempty"`
	Message       string   `json:"message,omitempty"`
	Note          string   `json:"note,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
	PostExecution bool     `json:"post_execution,omitempty"`

	// Trace is the JSON-serialized policy.DecisionTrace (stored as raw JSON
	// to avoid an import cycle between audit and policy).
	Trace       json.RawMessage `json:"trace,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
}

// AgentReasoning captures the LLM's text deliberation immediately before it
// issues one or more tool calls during the Think phase.
type AgentReasoning struct {
	Reasoning string   `json:"reasoning"`
	ToolCalls []string `json:"tool_calls"`
}

// ApprovalStatus mirrors the approval package's Status for events that
// record an approval state change, kept as its own string type here to
// avoid the audit package importing approval (approval already imports
// audit to emit these events).
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusDenied    ApprovalStatus = "denied"
	ApprovalStatusDeferred  ApprovalStatus = "deferred"
	ApprovalStatusEscalated ApprovalStatus = "escalated"
	ApprovalStatusExpired   ApprovalStatus = "expired"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

// Approval captures an approval request's state at the moment of an
// APPROVAL_STATE_CHANGED event: created pending, or resolved to a terminal
// or semi-terminal status.
type Approval struct {
	ApprovalID string         `json:"approval_id"`
	Status     ApprovalStatus `json:"status"`
	ActionClass string        `json:"action_class,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	SeedID     string         `json:"seed_id,omitempty"` // set when auto-approved from a precedent seed
}

// Event is a single audit entry. Events form a hash chain ordered by
// insertion (not timestamp), so PrevHash/EventHash always reflect the order
// they were recorded in, even if clocks skew between agent instances.
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`

	TraceID  string `json:"trace_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`

	ActionClass ActionClass `json:"action_class,omitempty"`

	PrevHash  string `json:"prev_hash,omitempty"`
	EventHash string `json:"event_hash,omitempty"`

	Session        Session         `json:"session"`
	Input          Input           `json:"input"`
	Output         *Output         `json:"output,omitempty"`
	Tool           *ToolExecution  `json:"tool,omitempty"`
	Approval       *Approval       `json:"approval,omitempty"`
	Decision       *Decision       `json:"decision,omitempty"`
	PolicyDecision *PolicyDecision `json:"policy_decision,omitempty"`
	AgentReasoning *AgentReasoning `json:"agent_reasoning,omitempty"`
	Outcome        *Outcome        `json:"outcome,omitempty"`
}

// MarshalJSON returns the JSON encoding of the event with an RFC3339Nano timestamp.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(e),
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
	})
}

// String returns a JSON string representation of the event.
func (e *Event) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// Package policy implements the layered policy decision point (PDP) for
// the governance core. It evaluates whether an agent action is allowed,
// denied, or requires approval based on configurable, tenant-scoped rules.
package policy

import "time"

// ActionClass represents the classification of an action by its impact.
type ActionClass string

const (
	ActionRead        ActionClass = "read"
	ActionWrite       ActionClass = "write"
	ActionDestructive ActionClass = "destructive"
)

// Effect represents the outcome of a policy rule evaluation.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectRequireApproval Effect = "require_approval"
)

// tightness orders effects from loosest to strictest so that layered
// evaluation can pick the tightest effect across all matching layers.
func (e Effect) tightness() int {
	switch e {
	case EffectDeny:
		return 2
	case EffectRequireApproval:
		return 1
	default:
		return 0
	}
}

// Layer identifies which governance layer a policy belongs to. Layers are
// evaluated independently (every layer that has a matching policy votes an
// effect) and the tightest effect across all layers wins; a looser layer
// can never override a stricter one.
type Layer string

const (
	// LayerPlatform holds non-negotiable platform safety policies. Always
	// evaluated, never skipped, never overridden by a looser layer.
	LayerPlatform Layer = "L0_platform"
	// LayerTenant holds per-tenant governance policies loaded from the
	// tenant's own policy bundle.
	LayerTenant Layer = "L1_tenant"
	// LayerRole holds policies scoped to the job role certifying the
	// requesting agent instance.
	LayerRole Layer = "L2_role"
	// LayerSession holds ad-hoc, session-scoped overrides (e.g. a supervisor
	// tightening the rules for one goal). Session overrides can only ever
	// tighten, never loosen, the effect of an inner layer.
	LayerSession Layer = "L3_session"
)

// Layers lists the evaluation order, outermost (loosest precedence) first.
// Order only matters for trace readability; the tightest-effect-wins rule
// makes the actual decision order-independent.
var Layers = []Layer{LayerPlatform, LayerTenant, LayerRole, LayerSession}

// Config is the top-level policy configuration for a single layer.
type Config struct {
	Version  string   `yaml:"version"`
	Policies []Policy `yaml:"policies"`
}

// Policy defines access rules for a set of resources.
type Policy struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Layer       Layer       `yaml:"layer,omitempty"`
	Enabled     *bool       `yaml:"enabled,omitempty"`  // Default true
	Priority    int         `yaml:"priority,omitempty"` // Higher = evaluated first within a layer
	Principals  []Principal `yaml:"principals,omitempty"`
	Resources   []Resource  `yaml:"resources"`
	Rules       []Rule      `yaml:"rules"`
}

// IsEnabled returns whether the policy is enabled.
func (p *Policy) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// Principal identifies who the policy applies to.
type Principal struct {
	User    string `yaml:"user,omitempty"`    // Specific user (e.g., alice@example.com)
	Role    string `yaml:"role,omitempty"`    // Job role name
	Service string `yaml:"service,omitempty"` // Agent instance ID or service account
	Any     bool   `yaml:"any,omitempty"`     // Match any principal
}

// Resource identifies what the policy applies to.
type Resource struct {
	Type  string        `yaml:"type"` // skill, tool, goal, etc.
	Match ResourceMatch `yaml:"match,omitempty"`
}

// ResourceMatch defines criteria for matching resources.
type ResourceMatch struct {
	Name        string   `yaml:"name,omitempty"`
	NamePattern string   `yaml:"name_pattern,omitempty"` // glob, e.g. "db.prod.*"
	Tags        []string `yaml:"tags,omitempty"`         // must have all tags
	Namespace   string   `yaml:"namespace,omitempty"`    // tenant or environment scope
}

// Rule defines an access control rule within a policy.
type Rule struct {
	Action     ActionMatcher `yaml:"action"`
	Effect     Effect        `yaml:"effect"`
	Conditions *Conditions   `yaml:"conditions,omitempty"`
	Message    string        `yaml:"message,omitempty"`
}

// ActionMatcher can be a single action or a list of actions.
type ActionMatcher []ActionClass

// UnmarshalYAML allows ActionMatcher to accept either a string or a list.
func (a *ActionMatcher) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*a = []ActionClass{ActionClass(single)}
		return nil
	}

	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*a = make([]ActionClass, len(list))
	for i, s := range list {
		(*a)[i] = ActionClass(s)
	}
	return nil
}

// Matches returns true if the action matches this matcher.
func (a ActionMatcher) Matches(action ActionClass) bool {
	for _, ac := range a {
		if ac == action {
			return true
		}
	}
	return false
}

// Conditions are additional constraints on a rule.
type Conditions struct {
	RequireApproval bool `yaml:"require_approval,omitempty"`
	ApprovalQuorum  int  `yaml:"approval_quorum,omitempty"`

	MaxRowsAffected int `yaml:"max_rows_affected,omitempty"`
	MaxPodsAffected int `yaml:"max_pods_affected,omitempty"`

	// MaxBudgetUSD caps the remaining per-instance-day budget a single
	// action may consume; evaluated against RequestContext.BudgetRemainingUSD.
	MaxBudgetUSD float64 `yaml:"max_budget_usd,omitempty"`

	Schedule *Schedule `yaml:"schedule,omitempty"`
}

// Schedule defines time-based conditions.
type Schedule struct {
	Days     []string `yaml:"days,omitempty"`
	Hours    []int    `yaml:"hours,omitempty"`
	Timezone string   `yaml:"timezone,omitempty"`
}

// IsActive returns true if the current time matches the schedule.
func (s *Schedule) IsActive(now time.Time) bool {
	if s == nil {
		return true
	}

	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err == nil {
			now = now.In(loc)
		}
	}

	if len(s.Days) > 0 {
		dayName := dayToName(now.Weekday())
		found := false
		for _, d := range s.Days {
			if d == dayName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.Hours) > 0 {
		hour := now.Hour()
		found := false
		for _, h := range s.Hours {
			if h == hour {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}

func dayToName(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	case time.Sunday:
		return "sun"
	}
	return ""
}

// Request represents a request to perform an action.
type Request struct {
	Principal RequestPrincipal
	Resource  RequestResource
	Action    ActionClass
	Context   RequestContext
}

// RequestPrincipal identifies who is making the request.
type RequestPrincipal struct {
	UserID  string
	Roles   []string
	Service string // agent instance ID
}

// RequestResource identifies the resource being accessed.
type RequestResource struct {
	Type      string
	Name      string
	Tags      []string
	Namespace string
	Extra     map[string]string
}

// RequestContext provides additional context for evaluation.
type RequestContext struct {
	Timestamp           time.Time
	TraceID             string
	RowsAffected         int
	PodsAffected         int
	BudgetRemainingUSD   float64
	BudgetRemainingKnown bool
}

// Decision is the result of policy evaluation, aggregated across layers.
type Decision struct {
	Effect     Effect
	PolicyName string // name of the policy that produced the winning (tightest) effect
	Layer      Layer
	RuleIndex  int
	Message    string
	Conditions []string

	RequiresApproval bool
	ApprovalQuorum   int
}

// IsAllowed returns true if the decision allows the action.
func (d *Decision) IsAllowed() bool {
	return d.Effect == EffectAllow
}

// IsDenied returns true if the decision denies the action.
func (d *Decision) IsDenied() bool {
	return d.Effect == EffectDeny
}

// NeedsApproval returns true if the decision requires approval.
func (d *Decision) NeedsApproval() bool {
	return d.Effect == EffectRequireApproval || d.RequiresApproval
}

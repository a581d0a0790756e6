package policy

import "time"

// DecisionTrace is the full explainability record produced by Explain. It
// captures every layer's evaluation, not just the winning one, so an
// operator can see why a looser layer's match did not change the outcome.
type DecisionTrace struct {
	Timestamp      time.Time
	Request        Request
	LayerTraces    []LayerTrace
	Decision       Decision
	DefaultApplied bool
	Explanation    string
}

// LayerTrace records the evaluation of a single governance layer.
type LayerTrace struct {
	Layer             Layer
	PoliciesEvaluated []PolicyTrace
	LayerEffect       Effect // effect this layer voted (its first matching rule), "" if the layer had no match
	SkipReason        string // e.g. "no policies loaded for layer"
}

// PolicyTrace records the evaluation of a single policy within a layer.
type PolicyTrace struct {
	PolicyName   string
	SkipReason   string
	Matched      bool
	RequiredTags [][]string
	Rules        []RuleTrace
}

// RuleTrace records the evaluation of a single rule within a policy.
type RuleTrace struct {
	Index      int
	Actions    []string
	Effect     string
	SkipReason string
	Matched    bool
	Conditions []ConditionTrace
}

// ConditionTrace records the evaluation of a single condition within a rule.
type ConditionTrace struct {
	Name   string
	Passed bool
	Detail string
}

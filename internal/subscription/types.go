// Package subscription manages agent instance lifecycle: hiring an
// instance of a certified agent type, tracking it through
// draft/provisioned/active/interrupted states, and retiring it. Each
// instance carries a row-level lease (AcquireLease/ReleaseLease) that
// survives process restarts — not an in-process mutex. The execution
// engine does not take the lease, and the other mutations do not check it.
package subscription

import "time"

// State is a point in an instance's lifecycle.
type State string

const (
	StateDraft        State = "draft"
	StateProvisioned  State = "provisioned"
	StateActive       State = "active"
	StateInterrupted  State = "interrupted"
	StateRetired      State = "retired"
)

// validTransitions enumerates the allowed State -> State edges.
var validTransitions = map[State][]State{
	StateDraft:       {StateProvisioned, StateRetired},
	StateProvisioned: {StateActive, StateRetired},
	StateActive:      {StateInterrupted, StateRetired},
	StateInterrupted: {StateActive, StateRetired},
	StateRetired:     {},
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s State) CanTransition(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateRetired
}

// Instance is a hired, running (or once-running) agent instance.
type Instance struct {
	ID             string
	TenantID       string
	AgentTypeID    string
	AgentTypeName  string
	// AgentTypeVersion pins the version of the agent type this instance was
	// last configured/activated against. Resume re-checks it: if the agent
	// type has since published a new version, resumption is refused until
	// the instance is reconfigured.
	AgentTypeVersion int
	DisplayName      string
	State            State
	HiredBy          string
	HiredAt          time.Time
	ProvisionedAt    time.Time
	RetiredAt        time.Time
	RetiredReason    string

	// Config is the instance's raw JSON configuration document, validated
	// against the agent type's config_schema by the HTTP configure handler
	// before Configure records it. Configured is true once Configure has
	// recorded a config.
	Config     string
	Configured bool
	// BudgetDailyUSD is read from the instance row; the budget accountant
	// does not consult it (each ledger carries its own limit).
	BudgetDailyUSD float64

	// LeaseOwner/LeaseUntil implement exclusive-use leasing: the holder
	// named in AcquireLease keeps the lease until ReleaseLease or until it
	// expires, whichever comes first. A crashed holder's lease simply
	// expires rather than wedging the instance forever.
	LeaseOwner string
	LeaseUntil time.Time

	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLeased reports whether the instance is currently held by some worker,
// as of now.
func (i *Instance) IsLeased(now time.Time) bool {
	return i.LeaseOwner != "" && now.Before(i.LeaseUntil)
}

// Goal is a standing directive a hired instance executes on some cadence —
// the unit postGoal creates and the execution engine's Think-Act-Observe
// cycle runs against.
type Goal struct {
	GoalInstanceID  string
	HiredInstanceID string
	GoalTemplateID  string
	Frequency       string
	Settings        map[string]string
	CreatedAt       time.Time
}

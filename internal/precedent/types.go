// Package precedent mines approved policy decisions into reusable "seed"
// precedents: a recurring, consistently approved pattern gets drafted as a
// seed, reviewed against a fixed rubric, and — once approved — looked up
// in the seed store by the execution engine so routine cases can be granted
// latitude without a fresh human approval every time. Approved seeds are
// not copied into any per-instance cache.
package precedent

import "time"

// Named thresholds a group of approved decisions must clear before a seed
// is drafted. Exposed as constants (rather than config) per this system's
// recorded decision to keep the safety thresholds out of operator reach.
const (
	MinApprovals  = 3
	MinConfidence = 0.9
)

// DefaultVetoWindow is how long a human owner can veto an auto-approval
// made on a seed's authority before it's considered final.
const DefaultVetoWindow = 24 * time.Hour

// DefaultFalsePositiveThreshold is the veto count at which a seed is
// automatically deprecated.
const DefaultFalsePositiveThreshold = 3

// ApprovedDecision is one historical approval event, as mined from the
// audit log, grouped for seed candidacy.
type ApprovedDecision struct {
	AgentTypeID string
	Action      string
	RiskBucket  string
	Confidence  float64
	DecidedAt   time.Time
}

// SeedStatus is a precedent seed's place in its review lifecycle.
type SeedStatus string

const (
	SeedDraft      SeedStatus = "draft"
	SeedApproved   SeedStatus = "approved"
	SeedRejected   SeedStatus = "rejected"
	SeedRevised    SeedStatus = "revised"
	SeedDeferred   SeedStatus = "deferred"
	SeedDeprecated SeedStatus = "deprecated"
)

// Seed is a candidate or confirmed precedent.
type Seed struct {
	ID          string
	AgentTypeID string
	Action      string
	RiskBucket  string
	Principle   string
	Rationale   string
	Example     string
	SampleSize  int
	MeanConfidence float64
	Status      SeedStatus
	RejectReason string

	FalsePositiveCount int

	DraftedAt  time.Time
	ReviewedAt time.Time
	ReviewedBy string
}

// ReviewCriteria is the five-point rubric the certification authority
// applies to a drafted seed. All five must pass for APPROVED.
type ReviewCriteria struct {
	ConsistentWithL0L1 bool
	Specific           bool
	Justified          bool
	ReusableScope      bool
	NonWeakening       bool
}

// AllPass reports whether every criterion was satisfied.
func (c ReviewCriteria) AllPass() bool {
	return c.ConsistentWithL0L1 && c.Specific && c.Justified && c.ReusableScope && c.NonWeakening
}

// AutoApproval is the informational record created whenever an instance
// acts on a seed's latitude instead of waiting for a fresh human decision.
// It is never a bypass: the human owner retains the veto window below.
type AutoApproval struct {
	ApprovalID string
	SeedID     string
	InstanceID string
	DecidedAt  time.Time
	VetoUntil  time.Time
	Vetoed     bool
	VetoedAt   time.Time
}

// IsVetoable reports whether the veto window is still open.
func (a *AutoApproval) IsVetoable(now time.Time) bool {
	return !a.Vetoed && now.Before(a.VetoUntil)
}

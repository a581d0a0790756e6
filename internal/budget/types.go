// Package budget implements the per-instance-day budget ledger: monotonic,
// idempotent cost debits gated at 80/95/100% utilisation, with a one-time
// emergency grant mechanism tied to an approved emergency_budget request.
package budget

import "time"

// Notifier is satisfied by anything that can alert an instance's
// owner/manager when utilisation crosses the 95% gate. The repository
// supplies a webhook notifier (package notify); there is no email or SMS
// transport. The Accountant records the 95% gate as an audit event
// whether or not a Notifier is set.
type Notifier interface {
	NotifyBudgetWarning(instanceID, day string, utilisation float64) error
}

// Gate identifies which utilisation threshold a debit crossed.
type Gate string

const (
	GateNone     Gate = ""
	GateWarn     Gate = "warn_80"
	GateNotify   Gate = "notify_95"
	GateExhausted Gate = "exhausted_100"
)

const (
	WarnThreshold     = 0.80
	NotifyThreshold   = 0.95
	ExhaustedThreshold = 1.00
)

// Ledger is the running total for one instance on one calendar day.
type Ledger struct {
	InstanceID      string
	Day             string // YYYY-MM-DD, UTC
	LimitUSD        float64
	SpentUSD        float64
	EmergencyGrantUSD float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectiveLimit is the configured limit plus any emergency grant applied.
func (l *Ledger) EffectiveLimit() float64 {
	return l.LimitUSD + l.EmergencyGrantUSD
}

// Utilisation returns spent/limit, or 0 if the limit is non-positive.
func (l *Ledger) Utilisation() float64 {
	limit := l.EffectiveLimit()
	if limit <= 0 {
		return 0
	}
	return l.SpentUSD / limit
}

// DebitResult reports the outcome of a Debit call.
type DebitResult struct {
	Accepted    bool
	Duplicate   bool // true if this (correlation_id, step_id) was already recorded
	Utilisation float64
	GateCrossed Gate
	Ledger      Ledger
}

// UsageEvent is one recorded debit, as surfaced by GET /v1/usage/events.
type UsageEvent struct {
	InstanceID    string    `json:"instance_id"`
	Day           string    `json:"day"`
	CorrelationID string    `json:"correlation_id"`
	StepID        string    `json:"step_id"`
	CostUSD       float64   `json:"cost_usd"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// UsageBucket is one aggregated bucket, as surfaced by
// GET /v1/usage/aggregate?bucket=day|month.
type UsageBucket struct {
	Bucket  string  `json:"bucket"` // e.g. "2026-07-29" or "2026-07"
	CostUSD float64 `json:"cost_usd"`
	Events  int     `json:"events"`
}

package execution

import (
	"context"
	"fmt"

	"govcore/internal/certification"
)

// CertificationPlanner resolves an Agent Type Definition's certified job
// roles into a goal Plan: one PlanStep per certified skill, chained in
// registration order so a role's skills execute front-to-back. It has no
// opinion on cost/SLA/external-effect beyond what the certification registry
// records for each skill; callers needing per-goal customization should wrap
// or replace it.
type CertificationPlanner struct {
	Registry *certification.Registry

	// DefaultEstimatedCost is the estimated cost given to every step; a
	// skill's metadata does not override it.
	DefaultEstimatedCost float64
	// ExternalEffectTags marks a skill's step as having an external effect
	// (and therefore subject to policy/approval) when any of the skill's
	// tags match one of these. Skills with no matching tag are treated as
	// read-only and bypass the Act phase's policy gate.
	ExternalEffectTags map[string]bool
}

// Plan resolves agentTypeID's certified job roles into an ordered Plan.
func (p *CertificationPlanner) Plan(ctx context.Context, ec ExecContext, agentTypeID string) (*Plan, error) {
	atd, err := p.Registry.GetAgentType(ctx, agentTypeID)
	if err != nil {
		return nil, fmt.Errorf("resolving agent type %s: %w", agentTypeID, err)
	}

	var steps []PlanStep
	var prevStepID string

	for _, roleID := range atd.JobRoleIDs {
		role, err := p.Registry.GetJobRole(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("resolving job role %s: %w", roleID, err)
		}

		for _, skillID := range role.SkillIDs {
			skill, err := p.Registry.GetSkill(ctx, skillID)
			if err != nil {
				return nil, fmt.Errorf("resolving skill %s: %w", skillID, err)
			}

			step := PlanStep{
				ID:              fmt.Sprintf("%s/%s", role.Name, skill.Name),
				SkillKey:        skill.Name,
				ExternalEffect:  p.hasExternalEffectTag(skill.Tags),
				EstimatedCost:   p.DefaultEstimatedCost,
				OutputExample:   skill.Description,
			}
			if prevStepID != "" {
				step.DependsOn = []string{prevStepID}
			}
			steps = append(steps, step)
			prevStepID = step.ID
		}
	}

	return &Plan{GoalID: ec.GoalID, Steps: steps}, nil
}

func (p *CertificationPlanner) hasExternalEffectTag(tags []string) bool {
	if len(p.ExternalEffectTags) == 0 {
		return true // default to treating every skill as effectful absent an explicit allowlist
	}
	for _, t := range tags {
		if p.ExternalEffectTags[t] {
			return true
		}
	}
	return false
}

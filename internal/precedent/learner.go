package precedent

import (
	"fmt"
	"time"
)

// groupKey identifies a {agent_type, action, risk_bucket} bucket.
type groupKey struct {
	AgentTypeID string
	Action      string
	RiskBucket  string
}

// DraftSeeds groups a window of approved decisions and drafts a DRAFT seed
// for every group meeting MinApprovals and MinConfidence. Decisions outside
// [since, now) are ignored by the caller before this is invoked (the
// learner itself is window-agnostic — it classifies whatever it's given).
func DraftSeeds(decisions []ApprovedDecision, idFn func() string) []Seed {
	groups := map[groupKey][]ApprovedDecision{}
	for _, d := range decisions {
		k := groupKey{d.AgentTypeID, d.Action, d.RiskBucket}
		groups[k] = append(groups[k], d)
	}

	var seeds []Seed
	for k, ds := range groups {
		if len(ds) < MinApprovals {
			continue
		}
		mean := meanConfidence(ds)
		if mean < MinConfidence {
			continue
		}
		seeds = append(seeds, Seed{
			ID:             idFn(),
			AgentTypeID:    k.AgentTypeID,
			Action:         k.Action,
			RiskBucket:     k.RiskBucket,
			Principle:      fmt.Sprintf("%s on %s (risk %s) is routinely approved", k.Action, k.AgentTypeID, k.RiskBucket),
			Rationale:      fmt.Sprintf("%d approvals with mean confidence %.2f over the scan window", len(ds), mean),
			SampleSize:     len(ds),
			MeanConfidence: mean,
			Status:         SeedDraft,
			DraftedAt:      time.Now().UTC(),
		})
	}
	return seeds
}

func meanConfidence(ds []ApprovedDecision) float64 {
	var sum float64
	for _, d := range ds {
		sum += d.Confidence
	}
	return sum / float64(len(ds))
}

// Review applies the five-point rubric to a drafted seed and records the
// resulting status in s.Status. REVISED/DEFERRED keep the seed alive for another pass;
// REJECTED is terminal for this draft.
func Review(s *Seed, criteria ReviewCriteria, reviewedBy, note string) {
	s.ReviewedAt = time.Now().UTC()
	s.ReviewedBy = reviewedBy

	switch {
	case criteria.AllPass():
		s.Status = SeedApproved
	case !criteria.ConsistentWithL0L1:
		s.Status = SeedRejected
		s.RejectReason = "violates L0/L1: " + note
	case !criteria.Justified:
		s.Status = SeedDeferred
		s.RejectReason = note
	default:
		s.Status = SeedRevised
		s.RejectReason = note
	}
}

// RecordVeto increments a seed's false-positive count and deprecates it
// once it crosses the threshold.
func RecordVeto(s *Seed, threshold int) {
	s.FalsePositiveCount++
	if s.FalsePositiveCount >= threshold {
		s.Status = SeedDeprecated
	}
}

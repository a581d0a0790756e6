package precedent

import (
	"context"
	"time"

	"govcore/internal/audit"
	"govcore/internal/subscription"
)

// AuditScanSource implements ScanSource over the audit log: it mines
// approval_resolved events (the APPROVAL_STATE_CHANGED record) whose status
// is approved and resolves each one's hired instance back to its agent type, since the
// audit trail itself only carries instance IDs.
type AuditScanSource struct {
	Audit         *audit.Store
	Subscriptions *subscription.Store
}

// ApprovedDecisionsSince returns one ApprovedDecision per approval request
// that resolved to approved within the window, grouped downstream by
// DraftSeeds on {agent_type, action, risk_bucket}.
func (s *AuditScanSource) ApprovedDecisionsSince(ctx context.Context, since time.Time) ([]ApprovedDecision, error) {
	events, err := s.Audit.Query(ctx, audit.QueryOptions{
		EventType:      audit.EventTypeApprovalResolved,
		ApprovalStatus: audit.ApprovalStatusApproved,
		Since:          since,
		Limit:          10000,
	})
	if err != nil {
		return nil, err
	}

	agentTypeCache := map[string]string{}
	var decisions []ApprovedDecision
	for _, evt := range events {
		if evt.Approval == nil {
			continue
		}
		instanceID := evt.Session.InstanceID
		agentTypeID, ok := agentTypeCache[instanceID]
		if !ok {
			agentTypeID = s.resolveAgentType(ctx, instanceID)
			agentTypeCache[instanceID] = agentTypeID
		}
		if agentTypeID == "" {
			continue
		}

		decisions = append(decisions, ApprovedDecision{
			AgentTypeID: agentTypeID,
			Action:      evt.Approval.ActionClass,
			RiskBucket:  evt.Approval.ActionClass,
			Confidence:  1.0,
			DecidedAt:   evt.Timestamp,
		})
	}
	return decisions, nil
}

func (s *AuditScanSource) resolveAgentType(ctx context.Context, instanceID string) string {
	if instanceID == "" || s.Subscriptions == nil {
		return ""
	}
	inst, err := s.Subscriptions.Get(ctx, instanceID)
	if err != nil || inst == nil {
		return ""
	}
	return inst.AgentTypeID
}

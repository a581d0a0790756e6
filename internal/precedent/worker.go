package precedent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ScanSource supplies the window of approved decisions the daily learner
// job mines. In production this is backed by the audit log; tests can
// supply a fixed slice.
type ScanSource interface {
	ApprovedDecisionsSince(ctx context.Context, since time.Time) ([]ApprovedDecision, error)
}

// RunDailyLearner starts the background batch job that drafts seeds from
// the last N days of approved decisions, on the same ticker-loop shape the
// governance core uses for its other periodic sweeps (approval expiry).
func RunDailyLearner(ctx context.Context, store *Store, source ScanSource, window time.Duration, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Now().UTC().Add(-window)
			decisions, err := source.ApprovedDecisionsSince(ctx, since)
			if err != nil {
				slog.Error("precedent learner: failed to scan approved decisions", "err", err)
				continue
			}

			seeds := DraftSeeds(decisions, func() string { return "seed_" + uuid.New().String()[:8] })
			for _, seed := range seeds {
				if err := store.SaveSeed(ctx, &seed); err != nil {
					slog.Error("precedent learner: failed to save drafted seed", "err", err, "agent_type", seed.AgentTypeID)
					continue
				}
				slog.Info("precedent learner: drafted seed", "seed_id", seed.ID, "agent_type", seed.AgentTypeID, "action", seed.Action)
			}
		}
	}
}

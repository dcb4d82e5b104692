package scheduler

import (
	"context"
	"log/slog"

	"github.com/talgya/arena/internal/replica"
)

const reconcileBatch = 50

// reconcile drains the repair queue left behind by failed replica
// projections: the ledger write landed, the local write did not. Each
// flagged agent gets its projection rebuilt from the ledger account.
// Flagged battles are only logged; their final state already lives on
// the ledger and the row stays in its last recorded status.
func (s *Scheduler) reconcile(ctx context.Context) {
	pending, err := s.store.PendingReconciliations(ctx, reconcileBatch)
	if err != nil {
		slog.Error("reconciliation scan failed", "error", err)
		return
	}

	for _, r := range pending {
		switch r.EntityKind {
		case "agent":
			if err := s.reconcileAgent(ctx, r); err != nil {
				slog.Error("agent reconciliation failed",
					"agent", r.EntityID, "reason", r.Reason, "error", err)
				continue
			}
		case "battle":
			slog.Warn("battle flagged for manual reconciliation",
				"battle", r.EntityID, "reason", r.Reason)
		default:
			slog.Warn("unknown reconciliation kind", "kind", r.EntityKind)
		}

		if err := s.store.ResolveReconciliation(ctx, r.ID); err != nil {
			slog.Error("failed to close reconciliation", "id", r.ID, "error", err)
		}
	}
}

// reconcileAgent re-reads the agent's ledger account and overwrites
// the replica's authoritative fields (alive, tokens). Position and
// alliance linkage stay local; the ledger does not carry them in a
// replica-compatible form.
func (s *Scheduler) reconcileAgent(ctx context.Context, r replica.Reconciliation) error {
	agent, err := s.store.GetAgent(ctx, r.EntityID)
	if err != nil {
		return err
	}

	account, err := s.gateway.FetchAgentAccount(ctx, agent.OnchainRef)
	if err != nil {
		return err
	}

	agent.Alive = account.Alive
	agent.Tokens = account.Tokens
	agent.UpdatedAt = s.now()

	if err := s.store.UpsertAgent(ctx, agent); err != nil {
		return err
	}

	slog.Info("agent projection reconciled",
		"agent", agent.ID, "alive", agent.Alive, "tokens", agent.Tokens)
	return nil
}

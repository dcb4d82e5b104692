package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/arena/internal/game"
	"github.com/talgya/arena/internal/replica"
)

// handleIgnore records a deliberate non-engagement. Ignore lives only
// in the replica — the ledger does not track it — so there is no
// ledger write; the cooldown row and event land atomically.
func (o *Orchestrator) handleIgnore(ctx context.Context, req Request) (map[string]any, error) {
	if req.TargetAgentID == "" || req.TargetAgentID == req.AgentID {
		return nil, game.NewError(game.ErrSelfTarget, "cannot ignore self", "agent", req.AgentID)
	}

	account, err := o.fetchLiveAccount(ctx, req.AgentRef, req.AgentID)
	if err != nil {
		return nil, err
	}

	if _, err := o.store.GetAgent(ctx, req.TargetAgentID); err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			return nil, game.NewError(game.ErrAgentNotFound, "target agent not found", "agent", req.TargetAgentID)
		}
		return nil, err
	}

	if err := o.cooldownClear(ctx, req.AgentID, game.CooldownIgnore, account); err != nil {
		return nil, err
	}

	now := o.now()
	endsAt := now.Add(o.cfg.IgnoreCooldown)

	err = o.store.Atomic(ctx, func(tx *replica.Tx) error {
		if err := tx.CreateCooldown(&game.Cooldown{
			ID:       uuid.NewString(),
			AgentID:  req.AgentID,
			GameID:   req.GameID,
			Type:     game.CooldownIgnore,
			EndsAt:   endsAt,
			TargetID: &req.TargetAgentID,
		}); err != nil {
			return err
		}
		return tx.AppendEvent(&game.Event{
			ID:          uuid.NewString(),
			Type:        game.EventIgnore,
			InitiatorID: req.AgentID,
			TargetID:    &req.TargetAgentID,
			Message:     fmt.Sprintf("Agent %s turned away from %s without a word", req.AgentID, req.TargetAgentID),
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"target":           req.TargetAgentID,
		"cooldown_ends_at": endsAt.UTC().Format(time.RFC3339),
	}, nil
}

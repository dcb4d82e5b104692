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

// handleFormAlliance validates and executes alliance formation. Both
// agents must be alive, unallied on both sources of truth, and clear
// of Alliance cooldowns. The alliance row, both cooldowns, and the
// event land as one atomic replica write.
func (o *Orchestrator) handleFormAlliance(ctx context.Context, req Request) (map[string]any, error) {
	if req.TargetAgentID == "" || req.TargetAgentID == req.AgentID {
		return nil, game.NewError(game.ErrSelfTarget, "cannot form alliance with self", "agent", req.AgentID)
	}

	target, err := o.store.GetAgent(ctx, req.TargetAgentID)
	if err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			return nil, game.NewError(game.ErrAgentNotFound, "target agent not found", "agent", req.TargetAgentID)
		}
		return nil, err
	}

	account, err := o.fetchLiveAccount(ctx, req.AgentRef, req.AgentID)
	if err != nil {
		return nil, err
	}
	targetAccount, err := o.gateway.FetchAgentAccount(ctx, target.OnchainRef)
	if err != nil {
		return nil, err
	}
	if !targetAccount.Alive {
		return nil, game.NewError(game.ErrTargetDead, "target agent is dead", "agent", req.TargetAgentID)
	}

	// Exclusivity: the ledger linkage is authoritative, the replica is
	// double-checked in case the ledger has not yet propagated.
	if account.Allied() {
		return nil, game.NewError(game.ErrAlreadyAllied, "agent already holds an active alliance", "agent", req.AgentID)
	}
	if targetAccount.Allied() {
		return nil, game.NewError(game.ErrAlreadyAllied, "target already holds an active alliance", "agent", req.TargetAgentID)
	}
	for _, id := range []string{req.AgentID, req.TargetAgentID} {
		if _, err := o.store.ActiveAllianceForAgent(ctx, id); err == nil {
			return nil, game.NewError(game.ErrAlreadyAllied, "agent already holds an active alliance", "agent", id)
		} else if !errors.Is(err, replica.ErrNotFound) {
			return nil, err
		}
	}

	if err := o.cooldownClear(ctx, req.AgentID, game.CooldownAlliance, account); err != nil {
		return nil, err
	}
	if err := o.cooldownClear(ctx, req.TargetAgentID, game.CooldownAlliance, targetAccount); err != nil {
		return nil, err
	}

	combined := account.Tokens + targetAccount.Tokens

	if _, err := o.gateway.FormAlliance(ctx, req.AgentRef, target.OnchainRef); err != nil {
		return nil, err
	}

	now := o.now()
	allianceID := uuid.NewString()
	endsAt := now.Add(o.cfg.AllianceCooldown)

	projected := o.projectOrFlag(ctx, req.AgentID, "alliance formation projection", func(tx *replica.Tx) error {
		if err := tx.CreateAlliance(&game.Alliance{
			ID:             allianceID,
			InitiatorID:    req.AgentID,
			JoinerID:       req.TargetAgentID,
			Status:         game.AllianceActive,
			CombinedTokens: combined,
			FormedAt:       now,
		}); err != nil {
			return err
		}
		for _, id := range []string{req.AgentID, req.TargetAgentID} {
			if err := tx.SetAgentAlliance(id, &allianceID, now); err != nil {
				return err
			}
			if err := tx.CreateCooldown(&game.Cooldown{
				ID:      uuid.NewString(),
				AgentID: id,
				GameID:  req.GameID,
				Type:    game.CooldownAlliance,
				EndsAt:  endsAt,
			}); err != nil {
				return err
			}
		}
		return tx.AppendEvent(&game.Event{
			ID:          uuid.NewString(),
			Type:        game.EventAllianceFormed,
			InitiatorID: req.AgentID,
			TargetID:    &req.TargetAgentID,
			Message:     fmt.Sprintf("Agents %s and %s swore an alliance, pooling %d tokens", req.AgentID, req.TargetAgentID, combined),
			CreatedAt:   now,
		})
	})

	data := map[string]any{
		"alliance_id":     allianceID,
		"combined_tokens": combined,
	}
	if !projected {
		data["reconciliation_pending"] = true
	}
	return data, nil
}

// handleBreakAlliance dissolves the Active alliance between the two
// named agents. Both members leave with fresh Alliance cooldowns.
func (o *Orchestrator) handleBreakAlliance(ctx context.Context, req Request) (map[string]any, error) {
	if req.TargetAgentID == "" || req.TargetAgentID == req.AgentID {
		return nil, game.NewError(game.ErrSelfTarget, "cannot break alliance with self", "agent", req.AgentID)
	}

	alliance, err := o.store.ActiveAllianceForAgent(ctx, req.TargetAgentID)
	if err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			return nil, game.NewError(game.ErrNoActiveAlliance, "no active alliance exists between these agents",
				"agent", req.AgentID, "target", req.TargetAgentID)
		}
		return nil, err
	}
	if !alliance.Includes(req.AgentID) {
		return nil, game.NewError(game.ErrNotAMember, "calling agent is not a member of this alliance",
			"agent", req.AgentID, "alliance", alliance.ID)
	}

	if _, err := o.fetchLiveAccount(ctx, req.AgentRef, req.AgentID); err != nil {
		return nil, err
	}

	target, err := o.store.GetAgent(ctx, req.TargetAgentID)
	if err != nil {
		return nil, err
	}

	if _, err := o.gateway.BreakAlliance(ctx, req.AgentRef, target.OnchainRef); err != nil {
		return nil, err
	}

	now := o.now()
	endsAt := now.Add(o.cfg.AllianceCooldown)

	projected := o.projectOrFlag(ctx, req.AgentID, "alliance dissolution projection", func(tx *replica.Tx) error {
		if err := tx.MarkAllianceBroken(alliance.ID, now); err != nil {
			return err
		}
		for _, id := range []string{alliance.InitiatorID, alliance.JoinerID} {
			if err := tx.SetAgentAlliance(id, nil, now); err != nil {
				return err
			}
			if err := tx.CreateCooldown(&game.Cooldown{
				ID:      uuid.NewString(),
				AgentID: id,
				GameID:  req.GameID,
				Type:    game.CooldownAlliance,
				EndsAt:  endsAt,
			}); err != nil {
				return err
			}
		}
		return tx.AppendEvent(&game.Event{
			ID:          uuid.NewString(),
			Type:        game.EventAllianceBroken,
			InitiatorID: req.AgentID,
			TargetID:    &req.TargetAgentID,
			Message:     fmt.Sprintf("Agent %s walked away from the alliance with %s", req.AgentID, req.TargetAgentID),
			CreatedAt:   now,
		})
	})

	data := map[string]any{
		"alliance_id": alliance.ID,
		"ended_at":    now.UTC().Format(time.RFC3339),
	}
	if !projected {
		data["reconciliation_pending"] = true
	}
	return data, nil
}

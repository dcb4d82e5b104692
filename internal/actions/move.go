package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/arena/internal/game"
	"github.com/talgya/arena/internal/ledger"
	"github.com/talgya/arena/internal/replica"
	"github.com/talgya/arena/internal/world"
)

// handleMove validates and executes a move to (x, y). The terrain the
// cell actually has governs the cooldown multiplier; a caller-asserted
// terrain that disagrees with the map is rejected outright.
func (o *Orchestrator) handleMove(ctx context.Context, grid *world.Grid, req Request) (map[string]any, error) {
	account, err := o.fetchLiveAccount(ctx, req.AgentRef, req.AgentID)
	if err != nil {
		return nil, err
	}

	if err := o.cooldownClear(ctx, req.AgentID, game.CooldownMove, account); err != nil {
		return nil, err
	}

	if !grid.InBounds(req.X, req.Y) {
		return nil, game.NewError(game.ErrOutOfBounds, "target cell is outside the map",
			"x", req.X, "y", req.Y, "diameter", grid.Diameter)
	}

	terrain := grid.TerrainAt(req.X, req.Y)
	if req.Terrain != "" && req.Terrain != terrain {
		return nil, game.NewError(game.ErrOutOfBounds, "asserted terrain does not match the map",
			"asserted", string(req.Terrain), "actual", string(terrain))
	}

	occupant, err := o.store.LiveAgentAt(ctx, req.GameID, req.X, req.Y)
	if err != nil && !errors.Is(err, replica.ErrNotFound) {
		return nil, err
	}
	if occupant != nil && occupant.ID != req.AgentID {
		return nil, game.NewError(game.ErrTileOccupied, "target cell is occupied by a live agent",
			"x", req.X, "y", req.Y)
	}

	if _, err := o.gateway.MoveAgent(ctx, req.AgentRef, req.X, req.Y, terrain); err != nil {
		return nil, err
	}

	// Ledger committed; project into the replica.
	now := o.now()
	endsAt := now.Add(time.Duration(float64(o.cfg.MoveBaseCooldown) * world.MoveMultiplier(terrain)))

	projected := o.projectOrFlag(ctx, req.AgentID, "move projection", func(tx *replica.Tx) error {
		if err := tx.UpdateAgentPosition(req.AgentID, req.X, req.Y, now); err != nil {
			return err
		}
		if err := tx.CreateCooldown(&game.Cooldown{
			ID:      uuid.NewString(),
			AgentID: req.AgentID,
			GameID:  req.GameID,
			Type:    game.CooldownMove,
			EndsAt:  endsAt,
		}); err != nil {
			return err
		}
		return tx.AppendEvent(&game.Event{
			ID:          uuid.NewString(),
			Type:        game.EventMove,
			InitiatorID: req.AgentID,
			Message:     fmt.Sprintf("Agent %s crossed %s ground to (%d, %d)", req.AgentID, terrain, req.X, req.Y),
			CreatedAt:   now,
		})
	})

	data := map[string]any{
		"x":                req.X,
		"y":                req.Y,
		"terrain":          string(terrain),
		"cooldown_ends_at": endsAt.UTC().Format(time.RFC3339),
	}
	if !projected {
		data["reconciliation_pending"] = true
	}
	return data, nil
}

// fetchLiveAccount reads the agent's authoritative account and rejects
// dead or unknown agents.
func (o *Orchestrator) fetchLiveAccount(ctx context.Context, agentRef, agentID string) (ledger.AgentAccount, error) {
	account, err := o.gateway.FetchAgentAccount(ctx, agentRef)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.AgentAccount{}, game.NewError(game.ErrAgentNotFound, "agent account not found on the ledger", "agent", agentID)
		}
		return ledger.AgentAccount{}, err
	}
	if !account.Alive {
		return ledger.AgentAccount{}, game.NewError(game.ErrAgentDead, "agent is dead", "agent", agentID)
	}
	return account, nil
}

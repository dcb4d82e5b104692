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

// battleSide bundles one combatant with their ally, if allied.
type battleSide struct {
	agent   *game.Agent
	account ledger.AgentAccount
	ally    *game.Agent
	allyAcc ledger.AgentAccount
}

func (s *battleSide) allied() bool { return s.ally != nil }

func (s *battleSide) stake() uint64 {
	total := s.account.Tokens
	if s.allied() {
		total += s.allyAcc.Tokens
	}
	return total
}

// handleBattle validates preconditions, determines the battle type from
// alliance membership, invokes the matching ledger start operation, and
// records the Active battle. Resolution is deferred to the scheduler.
func (o *Orchestrator) handleBattle(ctx context.Context, req Request) (map[string]any, error) {
	if req.TargetAgentID == "" || req.TargetAgentID == req.AgentID {
		return nil, game.NewError(game.ErrSelfTarget, "cannot battle self", "agent", req.AgentID)
	}

	attacker, err := o.loadSide(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !attacker.account.Alive {
		return nil, game.NewError(game.ErrAgentDead, "agent is dead", "agent", req.AgentID)
	}
	defender, err := o.loadSide(ctx, req.TargetAgentID)
	if err != nil {
		return nil, err
	}
	if !defender.account.Alive {
		return nil, game.NewError(game.ErrTargetDead, "target agent is dead", "agent", req.TargetAgentID)
	}

	if err := o.cooldownClear(ctx, req.AgentID, game.CooldownBattle, attacker.account); err != nil {
		return nil, err
	}
	if err := o.cooldownClear(ctx, req.TargetAgentID, game.CooldownBattle, defender.account); err != nil {
		return nil, err
	}

	dist := world.Distance(attacker.agent.X, attacker.agent.Y, defender.agent.X, defender.agent.Y)
	if dist > o.cfg.InteractionRange {
		return nil, game.NewError(game.ErrOutOfRange, "target is out of interaction range",
			"distance", dist, "max_range", o.cfg.InteractionRange)
	}

	battleType := game.DetermineBattleType(attacker.allied(), defender.allied())
	stake := attacker.stake() + defender.stake()

	if err := o.startOnLedger(ctx, battleType, attacker, defender); err != nil {
		return nil, err
	}

	now := o.now()
	battleID := uuid.NewString()
	resolutionTime := now.Add(o.cfg.BattleDuration)

	battle := &game.Battle{
		ID:             battleID,
		GameID:         req.GameID,
		Type:           battleType,
		Status:         game.BattleActive,
		AttackerID:     req.AgentID,
		DefenderID:     req.TargetAgentID,
		TokensStaked:   stake,
		StartTime:      now,
		ResolutionTime: resolutionTime,
	}
	if attacker.allied() {
		battle.AttackerAllyID = &attacker.ally.ID
	}
	if defender.allied() {
		battle.DefenderAllyID = &defender.ally.ID
	}

	projected := o.projectOrFlag(ctx, req.AgentID, "battle initiation projection", func(tx *replica.Tx) error {
		if err := tx.CreateBattle(battle); err != nil {
			return err
		}
		return tx.AppendEvent(&game.Event{
			ID:          uuid.NewString(),
			Type:        game.EventBattleStarted,
			InitiatorID: req.AgentID,
			TargetID:    &req.TargetAgentID,
			Message:     battleCry(battleType, attacker, defender, stake),
			CreatedAt:   now,
		})
	})

	data := map[string]any{
		"battle_id":       battleID,
		"battle_type":     string(battleType),
		"tokens_staked":   stake,
		"resolution_time": resolutionTime.UTC().Format(time.RFC3339),
	}
	if !projected {
		data["reconciliation_pending"] = true
	}
	return data, nil
}

// loadSide gathers one combatant's replica row, ledger account, and
// ally (replica alliance linkage plus the ally's ledger balance).
func (o *Orchestrator) loadSide(ctx context.Context, agentID string) (*battleSide, error) {
	agent, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			return nil, game.NewError(game.ErrAgentNotFound, "agent not found", "agent", agentID)
		}
		return nil, err
	}

	account, err := o.gateway.FetchAgentAccount(ctx, agent.OnchainRef)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, game.NewError(game.ErrAgentNotFound, "agent account not found on the ledger", "agent", agentID)
		}
		return nil, err
	}
	side := &battleSide{agent: agent, account: account}

	alliance, err := o.store.ActiveAllianceForAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, replica.ErrNotFound) {
			return side, nil
		}
		return nil, err
	}

	allyID := alliance.PartnerOf(agentID)
	ally, err := o.store.GetAgent(ctx, allyID)
	if err != nil {
		return nil, err
	}
	allyAcc, err := o.gateway.FetchAgentAccount(ctx, ally.OnchainRef)
	if err != nil {
		return nil, err
	}

	side.ally = ally
	side.allyAcc = allyAcc
	return side, nil
}

// startOnLedger dispatches to the ledger start operation matching the
// battle type. The allied side always takes the alliance role, so
// leader/partner refs are assigned from whichever side is allied.
func (o *Orchestrator) startOnLedger(ctx context.Context, battleType game.BattleType, attacker, defender *battleSide) error {
	switch battleType {
	case game.BattleSimple:
		_, err := o.gateway.StartBattleSimple(ctx, attacker.agent.OnchainRef, defender.agent.OnchainRef)
		return err
	case game.BattleAgentVsAlliance:
		single, allied := attacker, defender
		if attacker.allied() {
			single, allied = defender, attacker
		}
		_, err := o.gateway.StartBattleAgentVsAlliance(ctx,
			single.agent.OnchainRef, allied.agent.OnchainRef, allied.ally.OnchainRef)
		return err
	default:
		_, err := o.gateway.StartBattleAlliances(ctx,
			attacker.agent.OnchainRef, attacker.ally.OnchainRef,
			defender.agent.OnchainRef, defender.ally.OnchainRef)
		return err
	}
}

// battleCry composes the announcement event, framed by battle type.
func battleCry(battleType game.BattleType, attacker, defender *battleSide, stake uint64) string {
	switch battleType {
	case game.BattleAllianceVsAlliance:
		return fmt.Sprintf("War! The alliance of %s and %s marches on the alliance of %s and %s with %d tokens at stake",
			attacker.agent.ID, attacker.ally.ID, defender.agent.ID, defender.ally.ID, stake)
	case game.BattleAgentVsAlliance:
		if attacker.allied() {
			return fmt.Sprintf("The alliance of %s and %s descends on lone agent %s; %d tokens hang in the balance",
				attacker.agent.ID, attacker.ally.ID, defender.agent.ID, stake)
		}
		return fmt.Sprintf("Lone agent %s challenges the alliance of %s and %s; %d tokens hang in the balance",
			attacker.agent.ID, defender.agent.ID, defender.ally.ID, stake)
	default:
		return fmt.Sprintf("Agent %s strikes at agent %s with %d tokens at stake",
			attacker.agent.ID, defender.agent.ID, stake)
	}
}

package actions

import (
	"context"
	"time"

	"github.com/talgya/arena/internal/game"
	"github.com/talgya/arena/internal/ledger"
)

// cooldownClear checks eligibility against both sources of truth: the
// replica's latest cooldown row and the ledger-reported next-eligible
// timestamp. Either source still cooling down blocks the action. The
// ledger is authoritative but may lag propagation to the replica, and
// the replica holds cooldowns the ledger never tracks (Ignore), so
// both reads are required.
func (o *Orchestrator) cooldownClear(ctx context.Context, agentID string, kind game.CooldownType, account ledger.AgentAccount) error {
	now := o.now()

	endsAt, err := o.store.LatestCooldownEnd(ctx, agentID, kind)
	if err != nil {
		return err
	}
	if endsAt.After(now) {
		return cooldownError(kind, endsAt, now)
	}

	var ledgerNext time.Time
	switch kind {
	case game.CooldownMove:
		ledgerNext = account.NextMoveAt
	case game.CooldownBattle:
		ledgerNext = account.NextBattleAt
	}
	if ledgerNext.After(now) {
		return cooldownError(kind, ledgerNext, now)
	}
	return nil
}

func cooldownError(kind game.CooldownType, until, now time.Time) error {
	var msg string
	switch kind {
	case game.CooldownMove:
		msg = "agent is on movement cooldown"
	case game.CooldownBattle:
		msg = "agent is on battle cooldown"
	case game.CooldownAlliance:
		msg = "agent is on alliance cooldown"
	case game.CooldownIgnore:
		msg = "agent is on ignore cooldown"
	}
	return game.NewError(game.ErrOnCooldown, msg,
		"cooldown_type", string(kind),
		"ends_at", until.UTC().Format(time.RFC3339),
		"remaining_seconds", int(until.Sub(now).Seconds()),
	)
}

// Package scheduler runs the recurring battle resolution job and the
// replica reconciler. Resolution is claim-then-compute: a battle is
// conditionally advanced from Active to Resolving before any outcome
// work happens, so an overlapping or restarted tick can never process
// the same battle twice.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/arena/internal/entropy"
	"github.com/talgya/arena/internal/game"
	"github.com/talgya/arena/internal/ledger"
	"github.com/talgya/arena/internal/replica"
)

// Side strength bonus for allied combatants.
const allianceBonus = 1.5

// Scheduler scans for due battles on a fixed interval and commits
// their outcomes. It exposes only operational controls.
type Scheduler struct {
	store   *replica.Store
	gateway ledger.Gateway
	rand    *entropy.Client

	interval  time.Duration
	opTimeout time.Duration
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a Scheduler. rand may be nil (crypto/rand fallback).
func New(store *replica.Store, gateway ledger.Gateway, rand *entropy.Client, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:     store,
		gateway:   gateway,
		rand:      rand,
		interval:  interval,
		opTimeout: 30 * time.Second,
		now:       time.Now,
	}
}

// Start launches the resolution loop. No-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)
	slog.Info("battle resolution scheduler started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
	slog.Info("battle resolution scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run executes ticks serially; a slow tick delays the next rather than
// overlapping it.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick resolves all due battles and drains the reconciliation queue.
// Exported so operators and tests can force a pass.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	battles, err := s.store.DueBattles(ctx, now)
	if err != nil {
		slog.Error("due battle scan failed", "error", err)
	} else {
		for _, b := range battles {
			s.resolveBattle(ctx, b)
		}
	}

	s.reconcile(ctx)
}

// resolveBattle claims one battle and commits its outcome. Any failure
// after the claim marks the battle Failed; Failed is terminal and is
// never retried.
func (s *Scheduler) resolveBattle(ctx context.Context, b game.Battle) {
	claimed, err := s.store.ClaimBattle(ctx, b.ID)
	if err != nil {
		slog.Error("battle claim failed", "battle", b.ID, "error", err)
		return
	}
	if !claimed {
		// Another tick got here first.
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	outcome, pct, err := s.computeAndCommit(ctx, b)
	if err != nil {
		slog.Error("battle resolution failed", "battle", b.ID, "type", b.Type, "error", err)
		s.failBattle(b)
		return
	}

	slog.Info("battle resolved",
		"battle", b.ID, "type", b.Type,
		"outcome", outcome, "percent_loss", pct)
}

// computeAndCommit fetches ledger balances, rolls the outcome, invokes
// the matching resolution operation, and records the final state.
func (s *Scheduler) computeAndCommit(ctx context.Context, b game.Battle) (string, int, error) {
	attacker, err := s.loadParticipant(ctx, b.AttackerID)
	if err != nil {
		return "", 0, err
	}
	defender, err := s.loadParticipant(ctx, b.DefenderID)
	if err != nil {
		return "", 0, err
	}

	var attackerAlly, defenderAlly *participant
	if b.AttackerAllyID != nil {
		if attackerAlly, err = s.loadParticipant(ctx, *b.AttackerAllyID); err != nil {
			return "", 0, err
		}
	}
	if b.DefenderAllyID != nil {
		if defenderAlly, err = s.loadParticipant(ctx, *b.DefenderAllyID); err != nil {
			return "", 0, err
		}
	}

	// Allied sides pool their balance and fight at a bonus; the
	// attacker's strength alone takes the random jitter.
	attackerStrength := sideStrength(attacker, attackerAlly) * s.rand.AttackerJitter()
	defenderStrength := sideStrength(defender, defenderAlly)

	attackerWins := attackerStrength > defenderStrength
	pct := s.rand.PercentLoss()

	if err := s.resolveOnLedger(ctx, b, attacker, defender, attackerAlly, defenderAlly, attackerWins, pct); err != nil {
		return "", 0, err
	}

	outcome := game.OutcomeDefeat
	if attackerWins {
		outcome = game.OutcomeVictory
	}

	now := s.now()
	err = s.store.Atomic(ctx, func(tx *replica.Tx) error {
		if err := tx.FinishBattle(b.ID, game.BattleResolved, outcome, pct, now); err != nil {
			return err
		}
		return tx.AppendEvent(&game.Event{
			ID:          uuid.NewString(),
			Type:        game.EventBattleResolved,
			InitiatorID: b.AttackerID,
			TargetID:    &b.DefenderID,
			Message:     resolutionTale(b, attackerWins, pct),
			Metadata:    b.ID,
			CreatedAt:   now,
		})
	})
	if err != nil {
		// Ledger resolution landed but the replica write did not.
		slog.Error("replica write failed after ledger resolution",
			"battle", b.ID, "error", err)
		if flagErr := s.store.FlagReconciliation(ctx, "battle", b.ID, "resolution projection failed"); flagErr != nil {
			slog.Error("failed to queue reconciliation", "battle", b.ID, "error", flagErr)
		}
		return "", 0, err
	}

	return outcome, pct, nil
}

// failBattle moves a claimed battle to its terminal Failed state. It
// runs on its own context: the resolution context may already be dead
// (timeout, shutdown), and a battle left in Resolving is never scanned
// again.
func (s *Scheduler) failBattle(b game.Battle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.store.Atomic(ctx, func(tx *replica.Tx) error {
		return tx.FinishBattle(b.ID, game.BattleFailed, "", 0, s.now())
	})
	if err != nil {
		slog.Error("failed to mark battle failed", "battle", b.ID, "error", err)
	}
}

type participant struct {
	agent   *game.Agent
	account ledger.AgentAccount
}

func (s *Scheduler) loadParticipant(ctx context.Context, agentID string) (*participant, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	account, err := s.gateway.FetchAgentAccount(ctx, agent.OnchainRef)
	if err != nil {
		return nil, err
	}
	return &participant{agent: agent, account: account}, nil
}

func sideStrength(p, ally *participant) float64 {
	balance := float64(p.account.Tokens)
	if ally != nil {
		return (balance + float64(ally.account.Tokens)) * allianceBonus
	}
	return balance
}

// resolveOnLedger dispatches the resolution operation matching the
// battle type, with leader/partner roles taken from the allied side.
func (s *Scheduler) resolveOnLedger(ctx context.Context, b game.Battle, attacker, defender, attackerAlly, defenderAlly *participant, attackerWins bool, pct int) error {
	switch b.Type {
	case game.BattleSimple:
		winner, loser := attacker, defender
		if !attackerWins {
			winner, loser = defender, attacker
		}
		_, err := s.gateway.ResolveBattleSimple(ctx, winner.agent.OnchainRef, loser.agent.OnchainRef, pct)
		return err

	case game.BattleAgentVsAlliance:
		// The allied side always holds the alliance role.
		single, leader, partner := attacker, defender, defenderAlly
		singleWins := attackerWins
		if attackerAlly != nil {
			single, leader, partner = defender, attacker, attackerAlly
			singleWins = !attackerWins
		}
		if partner == nil {
			return fmt.Errorf("battle %s: %s with no ally recorded", b.ID, b.Type)
		}
		_, err := s.gateway.ResolveBattleAgentVsAlliance(ctx,
			single.agent.OnchainRef, leader.agent.OnchainRef, partner.agent.OnchainRef,
			singleWins, pct)
		return err

	default:
		if attackerAlly == nil || defenderAlly == nil {
			return fmt.Errorf("battle %s: %s with missing ally rows", b.ID, b.Type)
		}
		_, err := s.gateway.ResolveBattleAlliances(ctx,
			attacker.agent.OnchainRef, attackerAlly.agent.OnchainRef,
			defender.agent.OnchainRef, defenderAlly.agent.OnchainRef,
			attackerWins, pct)
		return err
	}
}

func resolutionTale(b game.Battle, attackerWins bool, pct int) string {
	if attackerWins {
		return fmt.Sprintf("Agent %s emerged victorious over %s; the defeated forfeit %d%% of their stake",
			b.AttackerID, b.DefenderID, pct)
	}
	return fmt.Sprintf("Agent %s repelled the attack from %s; the attackers forfeit %d%% of their stake",
		b.DefenderID, b.AttackerID, pct)
}

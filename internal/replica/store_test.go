package replica

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/arena/internal/game"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedAgent(t *testing.T, store *Store, id string, x, y int) *game.Agent {
	t.Helper()
	a := &game.Agent{
		ID:         id,
		OnchainRef: "ref-" + id,
		GameID:     "game-1",
		Alive:      true,
		Tokens:     1000,
		X:          x,
		Y:          y,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := store.UpsertAgent(context.Background(), a); err != nil {
		t.Fatalf("seed agent %s: %v", id, err)
	}
	return a
}

func TestLatestCooldownGoverns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	earlier := now.Add(10 * time.Minute)
	later := now.Add(1 * time.Hour)

	for i, endsAt := range []time.Time{later, earlier} {
		err := store.Atomic(ctx, func(tx *Tx) error {
			return tx.CreateCooldown(&game.Cooldown{
				ID:      string(rune('a' + i)),
				AgentID: "agent-1",
				GameID:  "game-1",
				Type:    game.CooldownMove,
				EndsAt:  endsAt,
			})
		})
		if err != nil {
			t.Fatalf("create cooldown: %v", err)
		}
	}

	got, err := store.LatestCooldownEnd(ctx, "agent-1", game.CooldownMove)
	if err != nil {
		t.Fatalf("latest cooldown: %v", err)
	}
	if !got.Equal(later) {
		t.Fatalf("expected latest ends_at %v, got %v", later, got)
	}

	// Different type is independent.
	got, err = store.LatestCooldownEnd(ctx, "agent-1", game.CooldownBattle)
	if err != nil {
		t.Fatalf("latest cooldown: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero time for untouched type, got %v", got)
	}
}

func TestClaimBattleExactlyOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.Atomic(ctx, func(tx *Tx) error {
		return tx.CreateBattle(&game.Battle{
			ID:             "battle-1",
			GameID:         "game-1",
			Type:           game.BattleSimple,
			Status:         game.BattleActive,
			AttackerID:     "a",
			DefenderID:     "b",
			TokensStaked:   500,
			StartTime:      now.Add(-2 * time.Hour),
			ResolutionTime: now.Add(-1 * time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}

	claimed, err := store.ClaimBattle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claimed {
		t.Fatal("expected first claim to succeed")
	}

	claimed, err = store.ClaimBattle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("expected second claim to fail")
	}

	// A claimed battle is no longer due.
	due, err := store.DueBattles(ctx, now)
	if err != nil {
		t.Fatalf("due battles: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due battles after claim, got %d", len(due))
	}
}

func TestFinishBattleRequiresClaim(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.Atomic(ctx, func(tx *Tx) error {
		return tx.CreateBattle(&game.Battle{
			ID:             "battle-1",
			GameID:         "game-1",
			Type:           game.BattleSimple,
			Status:         game.BattleActive,
			AttackerID:     "a",
			DefenderID:     "b",
			StartTime:      now,
			ResolutionTime: now.Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("create battle: %v", err)
	}

	// Finishing an unclaimed battle must not succeed.
	err = store.Atomic(ctx, func(tx *Tx) error {
		return tx.FinishBattle("battle-1", game.BattleResolved, game.OutcomeVictory, 15, now)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unclaimed battle, got %v", err)
	}

	if _, err := store.ClaimBattle(ctx, "battle-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err = store.Atomic(ctx, func(tx *Tx) error {
		return tx.FinishBattle("battle-1", game.BattleResolved, game.OutcomeVictory, 15, now)
	})
	if err != nil {
		t.Fatalf("finish claimed battle: %v", err)
	}

	b, err := store.GetBattle(ctx, "battle-1")
	if err != nil {
		t.Fatalf("get battle: %v", err)
	}
	if b.Status != game.BattleResolved || b.Outcome != game.OutcomeVictory || b.TokensLostPct != 15 {
		t.Fatalf("unexpected final battle state: %+v", b)
	}
	if b.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}
}

func TestAtomicRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := store.Atomic(ctx, func(tx *Tx) error {
		if err := tx.CreateCooldown(&game.Cooldown{
			ID: "cd-1", AgentID: "a", GameID: "game-1",
			Type: game.CooldownAlliance, EndsAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	endsAt, err := store.LatestCooldownEnd(ctx, "a", game.CooldownAlliance)
	if err != nil {
		t.Fatalf("latest cooldown: %v", err)
	}
	if !endsAt.IsZero() {
		t.Fatal("expected rollback to discard the cooldown row")
	}
}

func TestMarkAllianceBrokenOnlyOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.Atomic(ctx, func(tx *Tx) error {
		return tx.CreateAlliance(&game.Alliance{
			ID: "al-1", InitiatorID: "a", JoinerID: "b",
			Status: game.AllianceActive, CombinedTokens: 2000, FormedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("create alliance: %v", err)
	}

	if err := store.Atomic(ctx, func(tx *Tx) error {
		return tx.MarkAllianceBroken("al-1", now)
	}); err != nil {
		t.Fatalf("break alliance: %v", err)
	}

	err = store.Atomic(ctx, func(tx *Tx) error {
		return tx.MarkAllianceBroken("al-1", now)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound breaking a broken alliance, got %v", err)
	}
}

func TestActiveAllianceLookups(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.Atomic(ctx, func(tx *Tx) error {
		return tx.CreateAlliance(&game.Alliance{
			ID: "al-1", InitiatorID: "a", JoinerID: "b",
			Status: game.AllianceActive, FormedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("create alliance: %v", err)
	}

	for _, member := range []string{"a", "b"} {
		al, err := store.ActiveAllianceForAgent(ctx, member)
		if err != nil {
			t.Fatalf("lookup for %s: %v", member, err)
		}
		if al.ID != "al-1" {
			t.Fatalf("expected al-1 for %s, got %s", member, al.ID)
		}
	}

	// Either member order matches.
	if _, err := store.ActiveAllianceBetween(ctx, "b", "a"); err != nil {
		t.Fatalf("reversed lookup: %v", err)
	}

	if _, err := store.ActiveAllianceForAgent(ctx, "c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unallied agent, got %v", err)
	}
}

func TestLiveAgentAt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seedAgent(t, store, "a", 10, 10)
	dead := seedAgent(t, store, "b", 5, 5)
	dead.Alive = false
	if err := store.UpsertAgent(ctx, dead); err != nil {
		t.Fatalf("kill agent: %v", err)
	}

	occ, err := store.LiveAgentAt(ctx, "game-1", 10, 10)
	if err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	if occ.ID != "a" {
		t.Fatalf("expected agent a, got %s", occ.ID)
	}

	// Dead agents do not occupy cells.
	if _, err := store.LiveAgentAt(ctx, "game-1", 5, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound at dead agent's cell, got %v", err)
	}
}

func TestReconciliationQueue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.FlagReconciliation(ctx, "agent", "a", "move projection"); err != nil {
		t.Fatalf("flag: %v", err)
	}

	pending, err := store.PendingReconciliations(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].EntityID != "a" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}

	if err := store.ResolveReconciliation(ctx, pending[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending, err = store.PendingReconciliations(ctx, 10)
	if err != nil {
		t.Fatalf("pending after resolve: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty queue, got %d", len(pending))
	}
}

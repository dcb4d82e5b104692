package replica

import (
	"context"
	"time"

	"github.com/talgya/arena/internal/game"
)

// GetAgent returns the agent projection by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*game.Agent, error) {
	var a game.Agent
	err := s.db.GetContext(ctx, &a, "SELECT * FROM agents WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// UpsertAgent writes an agent projection outside a handler transaction
// (registration, reconciliation).
func (s *Store) UpsertAgent(ctx context.Context, a *game.Agent) error {
	return s.Atomic(ctx, func(tx *Tx) error { return tx.UpsertAgent(a) })
}

// LiveAgentAt returns the live agent occupying (x, y), or ErrNotFound.
func (s *Store) LiveAgentAt(ctx context.Context, gameID string, x, y int) (*game.Agent, error) {
	var a game.Agent
	err := s.db.GetContext(ctx, &a,
		"SELECT * FROM agents WHERE game_id = ? AND x = ? AND y = ? AND alive = 1 LIMIT 1",
		gameID, x, y,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ListAgents returns all agents in a game.
func (s *Store) ListAgents(ctx context.Context, gameID string) ([]game.Agent, error) {
	var out []game.Agent
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM agents WHERE game_id = ? ORDER BY id", gameID)
	return out, err
}

// ActiveAllianceForAgent returns the agent's Active alliance, or
// ErrNotFound. At most one can exist per agent.
func (s *Store) ActiveAllianceForAgent(ctx context.Context, agentID string) (*game.Alliance, error) {
	var a game.Alliance
	err := s.db.GetContext(ctx, &a, `SELECT * FROM alliances
		WHERE status = ? AND (initiator_id = ? OR joiner_id = ?)
		ORDER BY formed_at DESC LIMIT 1`,
		game.AllianceActive, agentID, agentID,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ActiveAllianceBetween returns the Active alliance linking the two
// agents in either member order, or ErrNotFound.
func (s *Store) ActiveAllianceBetween(ctx context.Context, a, b string) (*game.Alliance, error) {
	var al game.Alliance
	err := s.db.GetContext(ctx, &al, `SELECT * FROM alliances
		WHERE status = ?
		  AND ((initiator_id = ? AND joiner_id = ?) OR (initiator_id = ? AND joiner_id = ?))
		LIMIT 1`,
		game.AllianceActive, a, b, b, a,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &al, nil
}

// GetAlliance returns an alliance by id.
func (s *Store) GetAlliance(ctx context.Context, id string) (*game.Alliance, error) {
	var a game.Alliance
	err := s.db.GetContext(ctx, &a, "SELECT * FROM alliances WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// LatestCooldownEnd returns the governing ends_at for (agent, type).
// The zero time means no cooldown row exists.
func (s *Store) LatestCooldownEnd(ctx context.Context, agentID string, kind game.CooldownType) (time.Time, error) {
	var c game.Cooldown
	err := s.db.GetContext(ctx, &c, `SELECT * FROM cooldowns
		WHERE agent_id = ? AND type = ?
		ORDER BY ends_at DESC LIMIT 1`,
		agentID, kind,
	)
	if err != nil {
		if notFound(err) == ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return c.EndsAt, nil
}

// GetBattle returns a battle by id.
func (s *Store) GetBattle(ctx context.Context, id string) (*game.Battle, error) {
	var b game.Battle
	err := s.db.GetContext(ctx, &b, "SELECT * FROM battles WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// DueBattles returns Active battles whose resolution deadline passed.
func (s *Store) DueBattles(ctx context.Context, now time.Time) ([]game.Battle, error) {
	var out []game.Battle
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM battles
		WHERE status = ? AND resolution_time <= ?
		ORDER BY resolution_time`,
		game.BattleActive, now.UTC(),
	)
	return out, err
}

// ClaimBattle conditionally advances a battle from Active to Resolving.
// Returns true only if this caller won the claim; a second overlapping
// tick observes zero affected rows and skips the battle.
func (s *Store) ClaimBattle(ctx context.Context, battleID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE battles SET status = ? WHERE id = ? AND status = ?",
		game.BattleResolving, battleID, game.BattleActive,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListBattles returns battles filtered by status; empty status means all.
func (s *Store) ListBattles(ctx context.Context, gameID string, status game.BattleStatus) ([]game.Battle, error) {
	var out []game.Battle
	if status == "" {
		err := s.db.SelectContext(ctx, &out,
			"SELECT * FROM battles WHERE game_id = ? ORDER BY start_time DESC", gameID)
		return out, err
	}
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM battles WHERE game_id = ? AND status = ? ORDER BY start_time DESC",
		gameID, status)
	return out, err
}

// RecentEvents returns the most recent N events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]game.Event, error) {
	var out []game.Event
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM events ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	return out, err
}

// EventCountFor returns how many events an initiator has produced of a
// given type. Used by exactly-once resolution checks.
func (s *Store) EventCountFor(ctx context.Context, eventType, initiatorID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM events WHERE type = ? AND initiator_id = ?",
		eventType, initiatorID)
	return n, err
}

// Reconciliation is a queued repair task for an entity whose replica
// projection may disagree with the ledger.
type Reconciliation struct {
	ID         int64      `db:"id"`
	EntityKind string     `db:"entity_kind"`
	EntityID   string     `db:"entity_id"`
	Reason     string     `db:"reason"`
	FlaggedAt  time.Time  `db:"flagged_at"`
	ResolvedAt *time.Time `db:"resolved_at"`
}

// FlagReconciliation queues an entity for ledger re-read. Called on
// the ReplicaError path: ledger write landed, projection write failed.
func (s *Store) FlagReconciliation(ctx context.Context, entityKind, entityID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO reconciliations (entity_kind, entity_id, reason, flagged_at) VALUES (?, ?, ?, ?)",
		entityKind, entityID, reason, time.Now().UTC(),
	)
	return err
}

// PendingReconciliations returns unresolved repair tasks, oldest first.
func (s *Store) PendingReconciliations(ctx context.Context, limit int) ([]Reconciliation, error) {
	var out []Reconciliation
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM reconciliations WHERE resolved_at IS NULL ORDER BY flagged_at LIMIT ?",
		limit)
	return out, err
}

// ResolveReconciliation marks a repair task done.
func (s *Store) ResolveReconciliation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reconciliations SET resolved_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	return err
}

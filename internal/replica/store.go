// Package replica provides the SQLite projection of ledger state plus
// purely local bookkeeping (events, replica-only cooldowns). The
// ledger stays authoritative; this store exists for fast reads and
// must be kept converged with it via the reconciliation queue.
package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/arena/internal/game"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("replica: not found")

// Store wraps a SQLite connection for replica state.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		onchain_ref TEXT NOT NULL UNIQUE,
		game_id TEXT NOT NULL,
		alive INTEGER NOT NULL,
		tokens INTEGER NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		alliance_id TEXT,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alliances (
		id TEXT PRIMARY KEY,
		initiator_id TEXT NOT NULL,
		joiner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		combined_tokens INTEGER NOT NULL,
		formed_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS battles (
		id TEXT PRIMARY KEY,
		game_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		attacker_id TEXT NOT NULL,
		defender_id TEXT NOT NULL,
		attacker_ally_id TEXT,
		defender_ally_id TEXT,
		tokens_staked INTEGER NOT NULL,
		start_time TIMESTAMP NOT NULL,
		resolution_time TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		outcome TEXT NOT NULL DEFAULT '',
		tokens_lost_pct INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		game_id TEXT NOT NULL,
		type TEXT NOT NULL,
		ends_at TIMESTAMP NOT NULL,
		target_id TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		initiator_id TEXT NOT NULL,
		target_id TEXT,
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconciliations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		flagged_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_agents_pos ON agents(x, y, alive);
	CREATE INDEX IF NOT EXISTS idx_alliances_members ON alliances(initiator_id, joiner_id, status);
	CREATE INDEX IF NOT EXISTS idx_battles_due ON battles(status, resolution_time);
	CREATE INDEX IF NOT EXISTS idx_cooldowns_agent ON cooldowns(agent_id, type, ends_at);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	CREATE INDEX IF NOT EXISTS idx_reconciliations_open ON reconciliations(resolved_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Atomic runs fn inside one transaction. Handlers use this wherever
// more than one row must land as a unit (alliance + cooldowns + event,
// battle + event).
func (s *Store) Atomic(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Tx exposes the write operations available inside Atomic.
type Tx struct {
	tx *sqlx.Tx
}

// UpsertAgent writes the full agent projection.
func (t *Tx) UpsertAgent(a *game.Agent) error {
	_, err := t.tx.Exec(`INSERT INTO agents
		(id, onchain_ref, game_id, alive, tokens, x, y, alliance_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			alive=excluded.alive, tokens=excluded.tokens,
			x=excluded.x, y=excluded.y,
			alliance_id=excluded.alliance_id, updated_at=excluded.updated_at`,
		a.ID, a.OnchainRef, a.GameID, a.Alive, a.Tokens, a.X, a.Y, a.AllianceID, a.UpdatedAt.UTC(),
	)
	return err
}

// UpdateAgentPosition moves the agent's projected position.
func (t *Tx) UpdateAgentPosition(agentID string, x, y int, now time.Time) error {
	_, err := t.tx.Exec(
		"UPDATE agents SET x = ?, y = ?, updated_at = ? WHERE id = ?",
		x, y, now.UTC(), agentID,
	)
	return err
}

// SetAgentAlliance links or clears the agent's alliance reference.
func (t *Tx) SetAgentAlliance(agentID string, allianceID *string, now time.Time) error {
	_, err := t.tx.Exec(
		"UPDATE agents SET alliance_id = ?, updated_at = ? WHERE id = ?",
		allianceID, now.UTC(), agentID,
	)
	return err
}

// CreateAlliance inserts a new alliance row.
func (t *Tx) CreateAlliance(a *game.Alliance) error {
	_, err := t.tx.Exec(`INSERT INTO alliances
		(id, initiator_id, joiner_id, status, combined_tokens, formed_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.InitiatorID, a.JoinerID, a.Status, a.CombinedTokens, a.FormedAt.UTC(), a.EndedAt,
	)
	return err
}

// MarkAllianceBroken ends an alliance. Returns ErrNotFound if the
// alliance was not Active.
func (t *Tx) MarkAllianceBroken(allianceID string, now time.Time) error {
	res, err := t.tx.Exec(
		"UPDATE alliances SET status = ?, ended_at = ? WHERE id = ? AND status = ?",
		game.AllianceBroken, now.UTC(), allianceID, game.AllianceActive,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateBattle inserts a new battle row.
func (t *Tx) CreateBattle(b *game.Battle) error {
	_, err := t.tx.Exec(`INSERT INTO battles
		(id, game_id, type, status, attacker_id, defender_id,
		 attacker_ally_id, defender_ally_id, tokens_staked,
		 start_time, resolution_time, resolved_at, outcome, tokens_lost_pct)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.GameID, b.Type, b.Status, b.AttackerID, b.DefenderID,
		b.AttackerAllyID, b.DefenderAllyID, b.TokensStaked,
		b.StartTime.UTC(), b.ResolutionTime.UTC(), b.ResolvedAt, b.Outcome, b.TokensLostPct,
	)
	return err
}

// CreateCooldown appends a cooldown row. Rows are never deleted; the
// latest ends_at per (agent, type) governs eligibility.
func (t *Tx) CreateCooldown(c *game.Cooldown) error {
	_, err := t.tx.Exec(`INSERT INTO cooldowns
		(id, agent_id, game_id, type, ends_at, target_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.AgentID, c.GameID, c.Type, c.EndsAt.UTC(), c.TargetID,
	)
	return err
}

// AppendEvent records a narrative event. Events are append-only.
func (t *Tx) AppendEvent(e *game.Event) error {
	_, err := t.tx.Exec(`INSERT INTO events
		(id, type, initiator_id, target_id, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.InitiatorID, e.TargetID, e.Message, e.Metadata, e.CreatedAt.UTC(),
	)
	return err
}

// FinishBattle records the terminal state of a claimed battle.
func (t *Tx) FinishBattle(battleID string, status game.BattleStatus, outcome string, tokensLostPct int, resolvedAt time.Time) error {
	res, err := t.tx.Exec(`UPDATE battles
		SET status = ?, outcome = ?, tokens_lost_pct = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		status, outcome, tokensLostPct, resolvedAt.UTC(), battleID, game.BattleResolving,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// notFound converts sql.ErrNoRows into the package sentinel.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

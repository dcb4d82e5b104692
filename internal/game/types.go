// Package game defines the arena's core entities and the action
// vocabulary shared by the orchestrator, replica, and scheduler.
package game

import "time"

// ActionType enumerates the actions an agent may propose.
type ActionType string

const (
	ActionMove          ActionType = "move"
	ActionBattle        ActionType = "battle"
	ActionFormAlliance  ActionType = "form_alliance"
	ActionBreakAlliance ActionType = "break_alliance"
	ActionIgnore        ActionType = "ignore"
)

// CooldownType partitions cooldowns by the action family they gate.
type CooldownType string

const (
	CooldownMove     CooldownType = "move"
	CooldownBattle   CooldownType = "battle"
	CooldownAlliance CooldownType = "alliance"
	CooldownIgnore   CooldownType = "ignore"
)

// Terrain is the ground kind of a map cell. It scales move cooldowns;
// river cells additionally carry a drowning chance applied by the
// ledger program, not by this service.
type Terrain string

const (
	TerrainPlain    Terrain = "plain"
	TerrainMountain Terrain = "mountain"
	TerrainRiver    Terrain = "river"
)

// BattleType is determined by alliance membership at battle start.
type BattleType string

const (
	BattleSimple             BattleType = "simple"
	BattleAgentVsAlliance    BattleType = "agent_vs_alliance"
	BattleAllianceVsAlliance BattleType = "alliance_vs_alliance"
)

// BattleStatus is the battle lifecycle state. Resolving is a transient
// claim marker owned by the scheduler; a battle never re-enters Active
// once claimed.
type BattleStatus string

const (
	BattleActive    BattleStatus = "active"
	BattleResolving BattleStatus = "resolving"
	BattleResolved  BattleStatus = "resolved"
	BattleFailed    BattleStatus = "failed"
)

// Battle outcomes, relative to the original attacker.
const (
	OutcomeVictory = "victory"
	OutcomeDefeat  = "defeat"
)

// AllianceStatus is the alliance lifecycle state.
type AllianceStatus string

const (
	AlliancePending AllianceStatus = "pending"
	AllianceActive  AllianceStatus = "active"
	AllianceBroken  AllianceStatus = "broken"
)

// Agent is the replica projection of a ledger agent account plus the
// local position used for occupancy and range checks. Agents are never
// hard-deleted; death flips Alive.
type Agent struct {
	ID         string    `db:"id" json:"id"`
	OnchainRef string    `db:"onchain_ref" json:"onchain_ref"`
	GameID     string    `db:"game_id" json:"game_id"`
	Alive      bool      `db:"alive" json:"alive"`
	Tokens     uint64    `db:"tokens" json:"tokens"`
	X          int       `db:"x" json:"x"`
	Y          int       `db:"y" json:"y"`
	AllianceID *string   `db:"alliance_id" json:"alliance_id,omitempty"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Alliance is a mutual, exclusive pairing of two agents. CombinedTokens
// snapshots both ledger balances at formation time.
type Alliance struct {
	ID             string         `db:"id" json:"id"`
	InitiatorID    string         `db:"initiator_id" json:"initiator_id"`
	JoinerID       string         `db:"joiner_id" json:"joiner_id"`
	Status         AllianceStatus `db:"status" json:"status"`
	CombinedTokens uint64         `db:"combined_tokens" json:"combined_tokens"`
	FormedAt       time.Time      `db:"formed_at" json:"formed_at"`
	EndedAt        *time.Time     `db:"ended_at" json:"ended_at,omitempty"`
}

// Includes reports whether the given agent is one of the two members.
func (a *Alliance) Includes(agentID string) bool {
	return a.InitiatorID == agentID || a.JoinerID == agentID
}

// PartnerOf returns the other member's id, or "" if agentID is not a member.
func (a *Alliance) PartnerOf(agentID string) string {
	switch agentID {
	case a.InitiatorID:
		return a.JoinerID
	case a.JoinerID:
		return a.InitiatorID
	}
	return ""
}

// Battle records an initiated fight awaiting resolution. Ally ids are
// set when the corresponding side held an Active alliance at start.
type Battle struct {
	ID             string       `db:"id" json:"id"`
	GameID         string       `db:"game_id" json:"game_id"`
	Type           BattleType   `db:"type" json:"type"`
	Status         BattleStatus `db:"status" json:"status"`
	AttackerID     string       `db:"attacker_id" json:"attacker_id"`
	DefenderID     string       `db:"defender_id" json:"defender_id"`
	AttackerAllyID *string      `db:"attacker_ally_id" json:"attacker_ally_id,omitempty"`
	DefenderAllyID *string      `db:"defender_ally_id" json:"defender_ally_id,omitempty"`
	TokensStaked   uint64       `db:"tokens_staked" json:"tokens_staked"`
	StartTime      time.Time    `db:"start_time" json:"start_time"`
	ResolutionTime time.Time    `db:"resolution_time" json:"resolution_time"`
	ResolvedAt     *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
	Outcome        string       `db:"outcome" json:"outcome,omitempty"`
	TokensLostPct  int          `db:"tokens_lost_pct" json:"tokens_lost_pct,omitempty"`
}

// Cooldown blocks an agent from repeating an action family until
// EndsAt. Rows are append-only; the latest EndsAt per (agent, type)
// governs eligibility.
type Cooldown struct {
	ID       string       `db:"id" json:"id"`
	AgentID  string       `db:"agent_id" json:"agent_id"`
	GameID   string       `db:"game_id" json:"game_id"`
	Type     CooldownType `db:"type" json:"type"`
	EndsAt   time.Time    `db:"ends_at" json:"ends_at"`
	TargetID *string      `db:"target_id" json:"target_id,omitempty"`
}

// Event is an append-only narrative record of something that happened.
type Event struct {
	ID          string    `db:"id" json:"id"`
	Type        string    `db:"type" json:"type"`
	InitiatorID string    `db:"initiator_id" json:"initiator_id"`
	TargetID    *string   `db:"target_id" json:"target_id,omitempty"`
	Message     string    `db:"message" json:"message"`
	Metadata    string    `db:"metadata" json:"metadata,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Event types recorded by handlers and the scheduler.
const (
	EventMove           = "move"
	EventBattleStarted  = "battle_started"
	EventBattleResolved = "battle_resolved"
	EventAllianceFormed = "alliance_formed"
	EventAllianceBroken = "alliance_broken"
	EventIgnore         = "ignore"
)

// DetermineBattleType maps alliance membership of the two combatants to
// the battle type. Pure; evaluated after all preconditions pass.
func DetermineBattleType(attackerAllied, defenderAllied bool) BattleType {
	switch {
	case attackerAllied && defenderAllied:
		return BattleAllianceVsAlliance
	case attackerAllied || defenderAllied:
		return BattleAgentVsAlliance
	default:
		return BattleSimple
	}
}

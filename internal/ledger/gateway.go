// Package ledger wraps the external authoritative ledger behind a
// small operation-invocation interface. The ledger approves or rejects
// every mutating game operation; nothing here contains business logic.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/talgya/arena/internal/game"
)

// AgentAccount is the ledger's view of one agent at fetch time.
type AgentAccount struct {
	Ref          string    `json:"ref"`
	Alive        bool      `json:"alive"`
	Tokens       uint64    `json:"tokens"`
	AllianceRef  string    `json:"alliance_ref,omitempty"`
	NextMoveAt   time.Time `json:"next_move_at"`
	NextBattleAt time.Time `json:"next_battle_at"`
}

// Allied reports whether the ledger links this agent to an alliance.
func (a AgentAccount) Allied() bool { return a.AllianceRef != "" }

// GameAccount is the ledger's view of the game session.
type GameAccount struct {
	Ref         string `json:"ref"`
	Active      bool   `json:"active"`
	MapDiameter int    `json:"map_diameter"`
}

// Receipt acknowledges an accepted ledger operation. Opaque beyond the
// signature; callers persist it only for audit trails.
type Receipt struct {
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	Timestamp time.Time `json:"timestamp"`
}

// Gateway is the full set of ledger operations the orchestrator and
// scheduler invoke. Every call is context-bounded; a timeout means the
// operation did not happen as far as this system is concerned.
type Gateway interface {
	MoveAgent(ctx context.Context, agentRef string, x, y int, terrain game.Terrain) (Receipt, error)

	FormAlliance(ctx context.Context, initiatorRef, targetRef string) (Receipt, error)
	BreakAlliance(ctx context.Context, initiatorRef, targetRef string) (Receipt, error)

	StartBattleSimple(ctx context.Context, attackerRef, defenderRef string) (Receipt, error)
	StartBattleAgentVsAlliance(ctx context.Context, singleRef, allianceLeaderRef, alliancePartnerRef string) (Receipt, error)
	StartBattleAlliances(ctx context.Context, leaderARef, partnerARef, leaderBRef, partnerBRef string) (Receipt, error)

	ResolveBattleSimple(ctx context.Context, winnerRef, loserRef string, percentLoss int) (Receipt, error)
	ResolveBattleAgentVsAlliance(ctx context.Context, singleRef, allianceLeaderRef, alliancePartnerRef string, singleWins bool, percentLoss int) (Receipt, error)
	ResolveBattleAlliances(ctx context.Context, leaderARef, partnerARef, leaderBRef, partnerBRef string, sideAWins bool, percentLoss int) (Receipt, error)

	FetchAgentAccount(ctx context.Context, ref string) (AgentAccount, error)
	FetchGameAccount(ctx context.Context, ref string) (GameAccount, error)
}

// ErrNotFound is returned when the ledger has no account at the ref.
var ErrNotFound = errors.New("ledger: account not found")

// RejectionError means the ledger evaluated the operation and said no.
type RejectionError struct {
	Op     string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("ledger rejected %s: %s", e.Op, e.Reason)
}

// UnavailableError means the operation outcome is unknown (transport
// failure or timeout). Treated fail-closed: the action did not happen.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("ledger unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsRejection reports whether err is a definitive ledger rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

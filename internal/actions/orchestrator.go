// Package actions validates and executes proposed agent actions. The
// flow for every action is the same: global game check, cooldown
// guard, handler preconditions, ledger write (the commit point), then
// replica projection and a narrative event. The ledger is
// authoritative; the replica write is best-effort and any divergence
// is flagged for reconciliation rather than rolled back.
package actions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/arena/internal/game"
	"github.com/talgya/arena/internal/ledger"
	"github.com/talgya/arena/internal/replica"
	"github.com/talgya/arena/internal/world"
)

// Config holds the tunable action parameters.
type Config struct {
	MoveBaseCooldown time.Duration // scaled by terrain multiplier
	BattleCooldown   time.Duration
	AllianceCooldown time.Duration
	IgnoreCooldown   time.Duration
	BattleDuration   time.Duration // start → resolution deadline
	InteractionRange float64       // max Euclidean distance for battle
	MapSeed          int64         // deterministic terrain seed
	GameCacheTTL     time.Duration // game-active read-through cache
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MoveBaseCooldown: 1 * time.Hour,
		BattleCooldown:   4 * time.Hour,
		AllianceCooldown: 24 * time.Hour,
		IgnoreCooldown:   30 * time.Minute,
		BattleDuration:   1 * time.Hour,
		InteractionRange: 20.0,
		MapSeed:          42,
		GameCacheTTL:     30 * time.Second,
	}
}

// Request is a proposed action for one agent.
type Request struct {
	ActionType    game.ActionType `json:"action_type"`
	AgentID       string          `json:"agent_id"`
	GameID        string          `json:"game_id"`
	GameRef       string          `json:"game_onchain_ref"`
	AgentRef      string          `json:"agent_onchain_ref"`
	TargetAgentID string          `json:"target_agent_id,omitempty"`
	X             int             `json:"x,omitempty"`
	Y             int             `json:"y,omitempty"`
	Terrain       game.Terrain    `json:"terrain,omitempty"`
}

// FeedbackError names the violated rule in a machine-usable shape.
type FeedbackError struct {
	Type    game.ErrorCode `json:"type"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Feedback is the normalized validation result returned to callers.
type Feedback struct {
	IsValid bool           `json:"isValid"`
	Error   *FeedbackError `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Response is the outcome of one action submission.
type Response struct {
	Success  bool     `json:"success"`
	Feedback Feedback `json:"feedback"`
}

// Orchestrator routes proposed actions to handlers and normalizes all
// failures into the single feedback shape.
type Orchestrator struct {
	store   *replica.Store
	gateway ledger.Gateway
	cfg     Config

	now func() time.Time

	// Per-agent locks serialize the cooldown read-then-write window so
	// two concurrent same-type actions for one agent cannot both pass
	// the guard.
	locks agentLocks

	// Read-through cache of the game account; bounds latency on the
	// per-action "is the game active" check.
	gameMu    sync.Mutex
	gameCache map[string]cachedGame
}

type cachedGame struct {
	account   ledger.GameAccount
	grid      *world.Grid
	fetchedAt time.Time
}

// New creates an Orchestrator.
func New(store *replica.Store, gateway ledger.Gateway, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     store,
		gateway:   gateway,
		cfg:       cfg,
		now:       time.Now,
		gameCache: make(map[string]cachedGame),
	}
}

// Execute validates and runs one proposed action, returning normalized
// feedback. Raw lower-layer errors never escape.
func (o *Orchestrator) Execute(ctx context.Context, req Request) Response {
	grid, err := o.activeGame(ctx, req.GameRef)
	if err != nil {
		return rejected(err)
	}

	// One agent's same-type submissions race on the cooldown table;
	// hold the agent lock across guard read and cooldown write.
	unlock := o.locks.lock(req.AgentID)
	defer unlock()

	var data map[string]any
	switch req.ActionType {
	case game.ActionMove:
		data, err = o.handleMove(ctx, grid, req)
	case game.ActionBattle:
		data, err = o.handleBattle(ctx, req)
	case game.ActionFormAlliance:
		data, err = o.handleFormAlliance(ctx, req)
	case game.ActionBreakAlliance:
		data, err = o.handleBreakAlliance(ctx, req)
	case game.ActionIgnore:
		data, err = o.handleIgnore(ctx, req)
	default:
		err = game.NewError(game.ErrUnknownAction, "unknown action type", "action", string(req.ActionType))
	}
	if err != nil {
		return rejected(err)
	}

	return Response{
		Success:  true,
		Feedback: Feedback{IsValid: true, Data: data},
	}
}

// activeGame returns the terrain grid for an active game, refreshing
// the cached ledger game account when the TTL lapses. Staleness is a
// deliberate, bounded trade-off.
func (o *Orchestrator) activeGame(ctx context.Context, gameRef string) (*world.Grid, error) {
	o.gameMu.Lock()
	cached, ok := o.gameCache[gameRef]
	o.gameMu.Unlock()

	if !ok || o.now().Sub(cached.fetchedAt) > o.cfg.GameCacheTTL {
		account, err := o.gateway.FetchGameAccount(ctx, gameRef)
		if err != nil {
			return nil, err
		}
		cached = cachedGame{
			account:   account,
			grid:      world.NewGrid(account.MapDiameter, o.cfg.MapSeed),
			fetchedAt: o.now(),
		}
		o.gameMu.Lock()
		o.gameCache[gameRef] = cached
		o.gameMu.Unlock()
	}

	if !cached.account.Active {
		return nil, game.NewError(game.ErrGameInactive, "game is not active", "game", gameRef)
	}
	return cached.grid, nil
}

// rejected maps any lower-layer error into the feedback shape.
func rejected(err error) Response {
	if ge := game.AsError(err); ge != nil {
		return Response{
			Success: false,
			Feedback: Feedback{
				IsValid: false,
				Error: &FeedbackError{
					Type:    ge.Code,
					Message: ge.Message,
					Context: ge.Context,
				},
			},
		}
	}

	var rej *ledger.RejectionError
	if errors.As(err, &rej) {
		return Response{
			Success: false,
			Feedback: Feedback{
				IsValid: false,
				Error: &FeedbackError{
					Type:    game.ErrLedgerRejected,
					Message: "the ledger rejected the operation",
					Context: map[string]any{"op": rej.Op, "reason": rej.Reason},
				},
			},
		}
	}

	var unavail *ledger.UnavailableError
	if errors.As(err, &unavail) {
		// Outcome unknown: fail closed, the action did not happen.
		return Response{
			Success: false,
			Feedback: Feedback{
				IsValid: false,
				Error: &FeedbackError{
					Type:    game.ErrLedgerRejected,
					Message: "ledger operation timed out; the action was not applied",
					Context: map[string]any{"op": unavail.Op},
				},
			},
		}
	}

	slog.Error("action failed with internal error", "error", err)
	return Response{
		Success: false,
		Feedback: Feedback{
			IsValid: false,
			Error: &FeedbackError{
				Type:    game.ErrInternal,
				Message: "internal error",
			},
		},
	}
}

// projectOrFlag runs a replica projection after a successful ledger
// write. If the projection fails the ledger and replica now disagree:
// log loudly, queue a reconciliation, and report divergence upward.
// The ledger result stands regardless.
func (o *Orchestrator) projectOrFlag(ctx context.Context, agentID, reason string, fn func(tx *replica.Tx) error) bool {
	if err := o.store.Atomic(ctx, fn); err != nil {
		slog.Error("replica projection failed after ledger commit",
			"agent", agentID, "reason", reason, "error", err)
		if flagErr := o.store.FlagReconciliation(ctx, "agent", agentID, reason); flagErr != nil {
			slog.Error("failed to queue reconciliation", "agent", agentID, "error", flagErr)
		}
		return false
	}
	return true
}

// agentLocks is a keyed mutex over agent ids.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *agentLocks) lock(agentID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[agentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

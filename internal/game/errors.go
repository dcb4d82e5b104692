package game

import (
	"errors"
	"fmt"
)

// ErrorCode classifies why an action was rejected. Codes are part of
// the API surface: callers branch on them to adjust and resubmit.
type ErrorCode string

const (
	ErrGameInactive     ErrorCode = "GAME_INACTIVE"
	ErrUnknownAction    ErrorCode = "UNKNOWN_ACTION"
	ErrAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	ErrAgentDead        ErrorCode = "AGENT_DEAD"
	ErrTargetDead       ErrorCode = "TARGET_DEAD"
	ErrSelfTarget       ErrorCode = "SELF_TARGET"
	ErrOnCooldown       ErrorCode = "ON_COOLDOWN"
	ErrOutOfBounds      ErrorCode = "OUT_OF_BOUNDS"
	ErrTileOccupied     ErrorCode = "TILE_OCCUPIED"
	ErrOutOfRange       ErrorCode = "OUT_OF_RANGE"
	ErrAlreadyAllied    ErrorCode = "ALREADY_ALLIED"
	ErrNoActiveAlliance ErrorCode = "NO_ACTIVE_ALLIANCE"
	ErrNotAMember       ErrorCode = "NOT_A_MEMBER"
	ErrLedgerRejected   ErrorCode = "LEDGER_REJECTED"
	ErrReplicaDiverged  ErrorCode = "REPLICA_DIVERGED"
	ErrInternal         ErrorCode = "INTERNAL"
)

// Error is a business-rule rejection carrying an actionable reason.
// None of these are retryable as-is; the caller must change the action.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a rejection with optional context pairs (key, value, ...).
func NewError(code ErrorCode, message string, kv ...any) *Error {
	e := &Error{Code: code, Message: message}
	if len(kv) > 0 {
		e.Context = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			e.Context[key] = kv[i+1]
		}
	}
	return e
}

// AsError extracts a *Error from an error chain, or nil.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return nil
}

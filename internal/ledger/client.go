package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"

	"github.com/talgya/arena/internal/game"
)

// Client talks JSON-RPC to the ledger node. Submissions carry a
// client-derived idempotency key that is reused across transport
// retries, so a resend the node already applied deduplicates instead
// of applying twice.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration

	// nonce overrides the per-submission random nonce in tests.
	nonce func() string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each RPC call. Default 10s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit paces submissions to at most rps per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// NewClient creates a ledger client for the given RPC endpoint.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		timeout: 10 * time.Second,
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		nonce:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &http.Client{Timeout: c.timeout}
	return c
}

// IdempotencyKey derives a deterministic key for one logical submission
// from the operation name, its participant refs, and a caller nonce.
func IdempotencyKey(op, nonce string, refs ...string) string {
	h := blake3.New(16, nil)
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(nonce))
	for _, r := range refs {
		h.Write([]byte{0})
		h.Write([]byte(r))
	}
	return hex.EncodeToString(h.Sum(nil))
}

type rpcRequest struct {
	JSONRPC        string `json:"jsonrpc"`
	Method         string `json:"method"`
	Params         any    `json:"params"`
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Ledger error codes that mean "evaluated and rejected" rather than
// "outcome unknown". Everything else fails closed as unavailable.
const (
	codeRejected = -32000
	codeNotFound = -32001
)

func (c *Client) call(ctx context.Context, op string, params any, out any, idemKey string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return &UnavailableError{Op: op, Err: err}
	}

	req := rpcRequest{
		JSONRPC:        "2.0",
		Method:         op,
		Params:         params,
		ID:             uuid.NewString(),
		IdempotencyKey: idemKey,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Warn("ledger call failed", "op", op, "error", err)
		return &UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &UnavailableError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return &UnavailableError{Op: op, Err: err}
	}
	if rpcResp.Error != nil {
		switch rpcResp.Error.Code {
		case codeNotFound:
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		case codeRejected:
			return &RejectionError{Op: op, Reason: rpcResp.Error.Message}
		default:
			return &UnavailableError{Op: op, Err: fmt.Errorf("rpc %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)}
		}
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &UnavailableError{Op: op, Err: err}
		}
	}
	return nil
}

// submitAttempts bounds transport-level retries of one submission.
const submitAttempts = 3

// submit sends a mutating operation. The idempotency key is derived
// once per logical submission and reused across transient retries, so
// a resend the node already applied deduplicates instead of applying
// twice. Rejections and not-found are definitive and never retried.
func (c *Client) submit(ctx context.Context, op string, params any, refs ...string) (Receipt, error) {
	key := IdempotencyKey(op, c.nonce(), refs...)

	var err error
	for attempt := 0; attempt < submitAttempts; attempt++ {
		var r Receipt
		if err = c.call(ctx, op, params, &r, key); err == nil {
			return r, nil
		}
		var unavail *UnavailableError
		if !errors.As(err, &unavail) || ctx.Err() != nil {
			break
		}
	}
	return Receipt{}, err
}

// MoveAgent submits a move operation for the agent.
func (c *Client) MoveAgent(ctx context.Context, agentRef string, x, y int, terrain game.Terrain) (Receipt, error) {
	return c.submit(ctx, "moveAgent", map[string]any{
		"agent": agentRef, "x": x, "y": y, "terrain": terrain,
	}, agentRef)
}

// FormAlliance submits an alliance formation between two agents.
func (c *Client) FormAlliance(ctx context.Context, initiatorRef, targetRef string) (Receipt, error) {
	return c.submit(ctx, "formAlliance", map[string]any{
		"initiator": initiatorRef, "target": targetRef,
	}, initiatorRef, targetRef)
}

// BreakAlliance submits an alliance dissolution.
func (c *Client) BreakAlliance(ctx context.Context, initiatorRef, targetRef string) (Receipt, error) {
	return c.submit(ctx, "breakAlliance", map[string]any{
		"initiator": initiatorRef, "target": targetRef,
	}, initiatorRef, targetRef)
}

// StartBattleSimple opens a one-on-one battle.
func (c *Client) StartBattleSimple(ctx context.Context, attackerRef, defenderRef string) (Receipt, error) {
	return c.submit(ctx, "startBattleSimple", map[string]any{
		"attacker": attackerRef, "defender": defenderRef,
	}, attackerRef, defenderRef)
}

// StartBattleAgentVsAlliance opens a battle between a lone agent and an
// allied pair. The allied side always takes the alliance role.
func (c *Client) StartBattleAgentVsAlliance(ctx context.Context, singleRef, allianceLeaderRef, alliancePartnerRef string) (Receipt, error) {
	return c.submit(ctx, "startBattleAgentVsAlliance", map[string]any{
		"single": singleRef, "leader": allianceLeaderRef, "partner": alliancePartnerRef,
	}, singleRef, allianceLeaderRef, alliancePartnerRef)
}

// StartBattleAlliances opens a battle between two allied pairs.
func (c *Client) StartBattleAlliances(ctx context.Context, leaderARef, partnerARef, leaderBRef, partnerBRef string) (Receipt, error) {
	return c.submit(ctx, "startBattleAlliances", map[string]any{
		"leader_a": leaderARef, "partner_a": partnerARef,
		"leader_b": leaderBRef, "partner_b": partnerBRef,
	}, leaderARef, partnerARef, leaderBRef, partnerBRef)
}

// ResolveBattleSimple commits a one-on-one outcome.
func (c *Client) ResolveBattleSimple(ctx context.Context, winnerRef, loserRef string, percentLoss int) (Receipt, error) {
	return c.submit(ctx, "resolveBattleSimple", map[string]any{
		"winner": winnerRef, "loser": loserRef, "percent_loss": percentLoss,
	}, winnerRef, loserRef)
}

// ResolveBattleAgentVsAlliance commits an agent-vs-alliance outcome.
func (c *Client) ResolveBattleAgentVsAlliance(ctx context.Context, singleRef, allianceLeaderRef, alliancePartnerRef string, singleWins bool, percentLoss int) (Receipt, error) {
	return c.submit(ctx, "resolveBattleAgentVsAlliance", map[string]any{
		"single": singleRef, "leader": allianceLeaderRef, "partner": alliancePartnerRef,
		"single_wins": singleWins, "percent_loss": percentLoss,
	}, singleRef, allianceLeaderRef, alliancePartnerRef)
}

// ResolveBattleAlliances commits an alliance-vs-alliance outcome.
func (c *Client) ResolveBattleAlliances(ctx context.Context, leaderARef, partnerARef, leaderBRef, partnerBRef string, sideAWins bool, percentLoss int) (Receipt, error) {
	return c.submit(ctx, "resolveBattleAlliances", map[string]any{
		"leader_a": leaderARef, "partner_a": partnerARef,
		"leader_b": leaderBRef, "partner_b": partnerBRef,
		"side_a_wins": sideAWins, "percent_loss": percentLoss,
	}, leaderARef, partnerARef, leaderBRef, partnerBRef)
}

// FetchAgentAccount reads the authoritative state of one agent.
func (c *Client) FetchAgentAccount(ctx context.Context, ref string) (AgentAccount, error) {
	var acct AgentAccount
	if err := c.call(ctx, "fetchAgentAccount", map[string]any{"ref": ref}, &acct, ""); err != nil {
		return AgentAccount{}, err
	}
	acct.Ref = ref
	return acct, nil
}

// FetchGameAccount reads the authoritative state of the game session.
func (c *Client) FetchGameAccount(ctx context.Context, ref string) (GameAccount, error) {
	var acct GameAccount
	if err := c.call(ctx, "fetchGameAccount", map[string]any{"ref": ref}, &acct, ""); err != nil {
		return GameAccount{}, err
	}
	acct.Ref = ref
	return acct, nil
}

var _ Gateway = (*Client)(nil)

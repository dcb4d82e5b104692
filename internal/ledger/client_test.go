package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// rpcServer fakes the ledger node: one canned response per method, plus
// a log of everything received.
type rpcServer struct {
	t  *testing.T
	mu sync.Mutex

	responses map[string]rpcResponse
	requests  []rpcRequest
}

func newRPCServer(t *testing.T) (*rpcServer, *Client) {
	t.Helper()
	s := &rpcServer{t: t, responses: make(map[string]rpcResponse)}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	client := NewClient(ts.URL, WithTimeout(2*time.Second))
	client.nonce = func() string { return "fixed-nonce" }
	return s, client
}

func (s *rpcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.t.Errorf("bad request body: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	resp, ok := s.responses[req.Method]
	s.mu.Unlock()

	if !ok {
		resp = rpcResponse{Result: json.RawMessage(`{"signature":"ok","slot":1}`)}
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *rpcServer) respond(method string, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[method] = rpcResponse{Result: json.RawMessage(result)}
}

func (s *rpcServer) fail(method string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[method] = rpcResponse{Error: &rpcError{Code: code, Message: message}}
}

func (s *rpcServer) lastRequest() rpcRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		s.t.Fatal("no requests received")
	}
	return s.requests[len(s.requests)-1]
}

func TestSubmitCarriesIdempotencyKey(t *testing.T) {
	server, client := newRPCServer(t)

	receipt, err := client.MoveAgent(context.Background(), "ref-a", 5, 7, "plain")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if receipt.Signature != "ok" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	req := server.lastRequest()
	if req.Method != "moveAgent" {
		t.Fatalf("expected moveAgent, got %s", req.Method)
	}
	want := IdempotencyKey("moveAgent", "fixed-nonce", "ref-a")
	if req.IdempotencyKey != want {
		t.Fatalf("idempotency key %q, want %q", req.IdempotencyKey, want)
	}
}

func TestFetchOmitsIdempotencyKey(t *testing.T) {
	server, client := newRPCServer(t)
	server.respond("fetchAgentAccount", `{"alive":true,"tokens":500}`)

	acct, err := client.FetchAgentAccount(context.Background(), "ref-a")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !acct.Alive || acct.Tokens != 500 || acct.Ref != "ref-a" {
		t.Fatalf("unexpected account: %+v", acct)
	}

	if key := server.lastRequest().IdempotencyKey; key != "" {
		t.Fatalf("reads must not carry idempotency keys, got %q", key)
	}
}

func TestIdempotencyKeyDerivation(t *testing.T) {
	a := IdempotencyKey("moveAgent", "n1", "ref-a")
	if a != IdempotencyKey("moveAgent", "n1", "ref-a") {
		t.Fatal("expected stable key for identical inputs")
	}
	if a == IdempotencyKey("moveAgent", "n2", "ref-a") {
		t.Fatal("expected nonce to change the key")
	}
	if a == IdempotencyKey("formAlliance", "n1", "ref-a") {
		t.Fatal("expected op to change the key")
	}
	if a == IdempotencyKey("moveAgent", "n1", "ref-b") {
		t.Fatal("expected refs to change the key")
	}
	// Field boundaries must not be ambiguous under concatenation.
	if IdempotencyKey("op", "n", "ab", "c") == IdempotencyKey("op", "n", "a", "bc") {
		t.Fatal("expected distinct keys for shifted ref boundaries")
	}
}

func TestRetryReusesIdempotencyKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		keys = append(keys, req.IdempotencyKey)
		first := len(keys) == 1
		mu.Unlock()

		// First attempt dies in transit; the retry must present the
		// same key so the node can deduplicate.
		if first {
			http.Error(w, "gateway error", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(rpcResponse{Result: json.RawMessage(`{"signature":"ok"}`)})
	}))
	t.Cleanup(ts.Close)

	client := NewClient(ts.URL, WithTimeout(2*time.Second))
	receipt, err := client.MoveAgent(context.Background(), "ref-a", 1, 2, "plain")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if receipt.Signature != "ok" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 {
		t.Fatalf("expected two attempts, got %d", len(keys))
	}
	if keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("retry must reuse the idempotency key, got %q then %q", keys[0], keys[1])
	}
}

func TestRejectionIsNotRetried(t *testing.T) {
	server, client := newRPCServer(t)
	server.fail("moveAgent", codeRejected, "insufficient fee")

	if _, err := client.MoveAgent(context.Background(), "ref-a", 1, 2, "plain"); !IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if len(server.requests) != 1 {
		t.Fatalf("a definitive rejection must not be retried, got %d attempts", len(server.requests))
	}
}

func TestRejectionMapsToRejectionError(t *testing.T) {
	server, client := newRPCServer(t)
	server.fail("formAlliance", codeRejected, "already allied on chain")

	_, err := client.FormAlliance(context.Background(), "ref-a", "ref-b")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if rej.Op != "formAlliance" || rej.Reason != "already allied on chain" {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if !IsRejection(err) {
		t.Fatal("IsRejection should report true")
	}
}

func TestNotFoundMapsToErrNotFound(t *testing.T) {
	server, client := newRPCServer(t)
	server.fail("fetchAgentAccount", codeNotFound, "no such account")

	_, err := client.FetchAgentAccount(context.Background(), "ref-x")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnknownRPCErrorIsUnavailable(t *testing.T) {
	server, client := newRPCServer(t)
	server.fail("moveAgent", -32603, "internal error")

	_, err := client.MoveAgent(context.Background(), "ref-a", 1, 1, "plain")
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if IsRejection(err) {
		t.Fatal("an unknown error code is not a definitive rejection")
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(ts.Close)

	client := NewClient(ts.URL, WithTimeout(2*time.Second))
	_, err := client.BreakAlliance(context.Background(), "ref-a", "ref-b")
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestFetchGameAccount(t *testing.T) {
	server, client := newRPCServer(t)
	server.respond("fetchGameAccount", `{"active":true,"map_diameter":100}`)

	acct, err := client.FetchGameAccount(context.Background(), "ref-game")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !acct.Active || acct.MapDiameter != 100 || acct.Ref != "ref-game" {
		t.Fatalf("unexpected game account: %+v", acct)
	}
}

// Package client talks to the match engine over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/handler"
	"github.com/staked-tictactoe/internal/service"
)

const apiPrefix = "/api/v1"

// Client is an HTTP client for the match engine. Failed calls return the
// engine's domain error; anything that never got an answer from the engine
// returns domain.ErrEngineUnreachable.
type Client struct {
	baseURL    string
	chainID    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithChainID sends the chain id header on every request
func WithChainID(id string) Option {
	return func(c *Client) { c.chainID = id }
}

// New creates a client for the engine at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// do sends body as JSON and decodes the envelope's data into out
func (c *Client) do(ctx context.Context, method, path, caller string, body, out interface{}) error {
	if body == nil {
		return c.send(ctx, method, path, caller, nil, "", out)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.send(ctx, method, path, caller, bytes.NewReader(raw), "application/json", out)
}

func (c *Client) send(ctx context.Context, method, path, caller string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if caller != "" {
		req.Header.Set(handler.HeaderWallet, caller)
	}
	if c.chainID != "" {
		req.Header.Set(handler.HeaderChainID, c.chainID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", domain.ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: %s %s: status %d", domain.ErrEngineUnreachable, method, path, resp.StatusCode)
	}

	if !env.Success {
		return remoteError(resp.StatusCode, env)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

// remoteError restores the engine's domain error from the response code
func remoteError(status int, env envelope) error {
	if sentinel, ok := domain.FromKind(env.Code); ok {
		if env.Error == "" || env.Error == sentinel.Error() {
			return sentinel
		}
		return &RemoteError{Status: status, Message: env.Error, err: sentinel}
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", domain.ErrEngineUnreachable, status)
	}
	return &RemoteError{Status: status, Message: env.Error, err: domain.ErrInternalError}
}

// RemoteError carries the engine's message alongside the domain error it
// wraps, so errors.Is works against the domain sentinels.
type RemoteError struct {
	Status  int
	Message string
	err     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.err
}

func matchPath(id uint64, suffix string) string {
	return "/matches/" + strconv.FormatUint(id, 10) + suffix
}

// CreateMatch opens a match staking stake on behalf of caller
func (c *Client) CreateMatch(ctx context.Context, caller string, stake domain.Amount) (domain.Match, error) {
	var m domain.Match
	err := c.do(ctx, http.MethodPost, "/matches", caller, handler.StakeRequest{Stake: stake.String()}, &m)
	return m, err
}

// JoinMatch joins an open match with a matching stake
func (c *Client) JoinMatch(ctx context.Context, caller string, id uint64, stake domain.Amount) (domain.Match, error) {
	var m domain.Match
	err := c.do(ctx, http.MethodPost, matchPath(id, "/join"), caller, handler.StakeRequest{Stake: stake.String()}, &m)
	return m, err
}

// Move submits a move and returns the engine's result
func (c *Client) Move(ctx context.Context, caller string, id uint64, position int) (service.MoveResult, error) {
	var res service.MoveResult
	err := c.do(ctx, http.MethodPost, matchPath(id, "/moves"), caller, handler.MoveRequest{Position: &position}, &res)
	return res, err
}

// SubmitMove submits a move and returns the resulting winner
func (c *Client) SubmitMove(ctx context.Context, caller string, id uint64, position int) (domain.Winner, error) {
	res, err := c.Move(ctx, caller, id, position)
	if err != nil {
		return domain.WinnerNone, err
	}
	return res.Winner, nil
}

// ClaimWinnings pays a settled match out to caller
func (c *Client) ClaimWinnings(ctx context.Context, caller string, id uint64) (domain.Amount, error) {
	var res handler.ClaimResponse
	if err := c.do(ctx, http.MethodPost, matchPath(id, "/claim"), caller, nil, &res); err != nil {
		return 0, err
	}
	return res.Amount, nil
}

// GetMatch returns the authoritative match
func (c *Client) GetMatch(ctx context.Context, id uint64) (domain.Match, error) {
	var m domain.Match
	err := c.do(ctx, http.MethodGet, matchPath(id, ""), "", nil, &m)
	return m, err
}

// Moves returns the move log of a match
func (c *Client) Moves(ctx context.Context, id uint64) ([]domain.Move, error) {
	var moves []domain.Move
	err := c.do(ctx, http.MethodGet, matchPath(id, "/moves"), "", nil, &moves)
	return moves, err
}

// ListOpenMatches returns joinable matches, oldest first. limit <= 0 uses
// the engine default.
func (c *Client) ListOpenMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	path := "/matches/open"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var matches []domain.Match
	err := c.do(ctx, http.MethodGet, path, "", nil, &matches)
	return matches, err
}

// PlayerStats returns settled results for addr
func (c *Client) PlayerStats(ctx context.Context, addr string) (domain.PlayerStats, error) {
	var stats domain.PlayerStats
	err := c.do(ctx, http.MethodGet, "/players/"+url.PathEscape(addr)+"/stats", "", nil, &stats)
	return stats, err
}

// Balance returns the token balance of addr
func (c *Client) Balance(ctx context.Context, addr string) (domain.Amount, error) {
	var res handler.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(addr), "", nil, &res); err != nil {
		return 0, err
	}
	return res.Amount, nil
}

// Allowance returns how much spender may move out of owner's balance
func (c *Client) Allowance(ctx context.Context, owner, spender string) (domain.Amount, error) {
	var res handler.BalanceResponse
	path := "/accounts/" + url.PathEscape(owner) + "/allowances/" + url.PathEscape(spender)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &res); err != nil {
		return 0, err
	}
	return res.Amount, nil
}

// Faucet sends test tokens from caller's faucet to to
func (c *Client) Faucet(ctx context.Context, caller, to string, amount domain.Amount) error {
	return c.do(ctx, http.MethodPost, "/token/faucet", caller, handler.TokenRequest{To: to, Amount: amount.String()}, nil)
}

// Approve sets caller's allowance for spender
func (c *Client) Approve(ctx context.Context, caller, spender string, amount domain.Amount) error {
	return c.do(ctx, http.MethodPost, "/token/approve", caller, handler.TokenRequest{Spender: spender, Amount: amount.String()}, nil)
}

// Put stores snapshot in the session's shared slot
func (c *Client) Put(ctx context.Context, session string, snapshot []byte) error {
	return c.send(ctx, http.MethodPut, "/sessions/"+url.PathEscape(session)+"/snapshot", "",
		bytes.NewReader(snapshot), "application/json", nil)
}

// Get returns the session's shared slot, or domain.ErrNotFound when empty
func (c *Client) Get(ctx context.Context, session string) ([]byte, error) {
	var state service.SessionState
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(session), "", nil, &state); err != nil {
		return nil, err
	}
	if len(state.Snapshot) == 0 {
		return nil, fmt.Errorf("session %q: %w", session, domain.ErrNotFound)
	}
	return state.Snapshot, nil
}

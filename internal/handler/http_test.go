package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/engine"
	"github.com/staked-tictactoe/internal/ledger"
	"github.com/staked-tictactoe/internal/service"
	"github.com/staked-tictactoe/internal/websocket"
)

const (
	owner = "0xowner"
	alice = "0xalice"
	bob   = "0xbob"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := testLogger()

	l, err := ledger.New(ledger.Config{
		Owner:         owner,
		MaxSupply:     domain.Tokens(1_000_000),
		InitialSupply: domain.Tokens(10_000),
	}, logger)
	require.NoError(t, err)
	for _, addr := range []string{alice, bob} {
		require.NoError(t, l.Faucet(owner, addr, domain.Tokens(1_000)))
	}

	eng, err := engine.New(engine.Config{
		EscrowAddress:   "0xescrow",
		TreasuryAddress: "0xtreasury",
		FeeBps:          250,
		AutoApprove:     true,
	}, l, logger)
	require.NoError(t, err)

	cfg := config.DefaultConfig().Registry
	svc := service.NewMatchService(eng, nil, nil, &cfg, logger)
	hub := websocket.NewHub(logger, nil)

	srv := httptest.NewServer(NewHandler(svc, hub, Options{ChainID: "10143"}, logger).Router())
	t.Cleanup(srv.Close)
	return srv
}

type result struct {
	status int
	body   APIResponse
	data   json.RawMessage
}

func call(t *testing.T, srv *httptest.Server, method, path, wallet string, body interface{}) result {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set(HeaderWallet, wallet)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope struct {
		APIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return result{status: resp.StatusCode, body: envelope.APIResponse, data: envelope.Data}
}

func (r result) match(t *testing.T) domain.Match {
	t.Helper()
	var m domain.Match
	require.NoError(t, json.Unmarshal(r.data, &m))
	return m
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	res := call(t, srv, http.MethodPost, "/api/v1/matches", alice, StakeRequest{Stake: "100"})
	require.Equal(t, http.StatusCreated, res.status)
	m := res.match(t)
	assert.Equal(t, domain.StatusOpen, m.Status)
	assert.Equal(t, domain.Tokens(100), m.StakeX)

	matchPath := fmt.Sprintf("/api/v1/matches/%d", m.ID)

	res = call(t, srv, http.MethodPost, matchPath+"/join", bob, StakeRequest{Stake: "99.5"})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "StakeMismatch", res.body.Code)

	res = call(t, srv, http.MethodPost, matchPath+"/join", bob, StakeRequest{Stake: "100"})
	require.Equal(t, http.StatusOK, res.status)

	res = call(t, srv, http.MethodPost, matchPath+"/moves", bob, map[string]int{"position": 0})
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "NotYourTurn", res.body.Code)

	res = call(t, srv, http.MethodPost, matchPath+"/moves", alice, map[string]int{"position": 9})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "InvalidMove", res.body.Code)

	for i, pos := range []int{0, 3, 1, 4, 2} {
		player := alice
		if i%2 == 1 {
			player = bob
		}
		res = call(t, srv, http.MethodPost, matchPath+"/moves", player, map[string]int{"position": pos})
		require.Equal(t, http.StatusOK, res.status, res.body.Error)
	}
	var moved service.MoveResult
	require.NoError(t, json.Unmarshal(res.data, &moved))
	assert.Equal(t, domain.WinnerX, moved.Winner)

	res = call(t, srv, http.MethodPost, matchPath+"/claim", bob, nil)
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "NotWinner", res.body.Code)

	res = call(t, srv, http.MethodPost, matchPath+"/claim", alice, nil)
	require.Equal(t, http.StatusOK, res.status)
	var claim ClaimResponse
	require.NoError(t, json.Unmarshal(res.data, &claim))
	assert.Equal(t, "195", claim.Formatted)

	res = call(t, srv, http.MethodPost, matchPath+"/claim", alice, nil)
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "AlreadyClaimed", res.body.Code)

	res = call(t, srv, http.MethodGet, matchPath+"/moves", "", nil)
	require.Equal(t, http.StatusOK, res.status)
	var moves []domain.Move
	require.NoError(t, json.Unmarshal(res.data, &moves))
	assert.Len(t, moves, 5)

	res = call(t, srv, http.MethodGet, "/api/v1/accounts/0xALICE", "", nil)
	var bal BalanceResponse
	require.NoError(t, json.Unmarshal(res.data, &bal))
	assert.Equal(t, "1095", bal.Formatted)

	res = call(t, srv, http.MethodGet, "/api/v1/players/"+alice+"/stats", "", nil)
	var stats domain.PlayerStats
	require.NoError(t, json.Unmarshal(res.data, &stats))
	assert.Equal(t, 1, stats.Wins)
}

func TestEscrowAddressCannotSpendStakes(t *testing.T) {
	srv := newTestServer(t)
	const escrow = "0xescrow"

	res := call(t, srv, http.MethodPost, "/api/v1/matches", alice, StakeRequest{Stake: "100"})
	require.Equal(t, http.StatusCreated, res.status)
	matchPath := fmt.Sprintf("/api/v1/matches/%d", res.match(t).ID)
	res = call(t, srv, http.MethodPost, matchPath+"/join", bob, StakeRequest{Stake: "100"})
	require.Equal(t, http.StatusOK, res.status)

	res = call(t, srv, http.MethodPost, "/api/v1/token/transfer", escrow, TokenRequest{To: "0xmallory", Amount: "200"})
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "Unauthorized", res.body.Code)

	res = call(t, srv, http.MethodPost, "/api/v1/token/approve", escrow, TokenRequest{Spender: "0xmallory", Amount: "200"})
	assert.Equal(t, http.StatusForbidden, res.status)

	res = call(t, srv, http.MethodPost, "/api/v1/matches", escrow, StakeRequest{Stake: "100"})
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "Unauthorized", res.body.Code)

	res = call(t, srv, http.MethodGet, "/api/v1/accounts/0xmallory", "", nil)
	var bal BalanceResponse
	require.NoError(t, json.Unmarshal(res.data, &bal))
	assert.Equal(t, domain.Amount(0), bal.Amount)

	for i, pos := range []int{0, 3, 1, 4, 2} {
		player := alice
		if i%2 == 1 {
			player = bob
		}
		res = call(t, srv, http.MethodPost, matchPath+"/moves", player, map[string]int{"position": pos})
		require.Equal(t, http.StatusOK, res.status, res.body.Error)
	}
	res = call(t, srv, http.MethodPost, matchPath+"/claim", alice, nil)
	require.Equal(t, http.StatusOK, res.status)
}

func TestRequestValidation(t *testing.T) {
	srv := newTestServer(t)

	res := call(t, srv, http.MethodPost, "/api/v1/matches", "", StakeRequest{Stake: "1"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "InvalidRequest", res.body.Code)

	res = call(t, srv, http.MethodPost, "/api/v1/matches", alice, StakeRequest{Stake: "1.0000001"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "InvalidAmount", res.body.Code)

	res = call(t, srv, http.MethodPost, "/api/v1/matches", alice, StakeRequest{Stake: "0"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "InvalidStake", res.body.Code)

	res = call(t, srv, http.MethodPost, "/api/v1/matches", alice, StakeRequest{Stake: "5000"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Equal(t, "InsufficientFunds", res.body.Code)

	res = call(t, srv, http.MethodGet, "/api/v1/matches/42", "", nil)
	assert.Equal(t, http.StatusNotFound, res.status)
	assert.Equal(t, "NotFound", res.body.Code)

	res = call(t, srv, http.MethodGet, "/api/v1/matches/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = call(t, srv, http.MethodGet, "/api/v1/matches?status=weird", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = call(t, srv, http.MethodGet, "/api/v1/matches", "", nil)
	assert.Equal(t, http.StatusInternalServerError, res.status)
	assert.Equal(t, "InternalError", res.body.Code)
}

func TestChainGuard(t *testing.T) {
	srv := newTestServer(t)

	for chain, want := range map[string]int{"": http.StatusOK, "10143": http.StatusOK, "1": http.StatusBadRequest} {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/token", nil)
		require.NoError(t, err)
		if chain != "" {
			req.Header.Set(HeaderChainID, chain)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, "chain %q", chain)
	}
}

func TestTokenEndpoints(t *testing.T) {
	srv := newTestServer(t)

	res := call(t, srv, http.MethodPost, "/api/v1/token/faucet", alice, TokenRequest{To: alice, Amount: "5"})
	assert.Equal(t, http.StatusForbidden, res.status)
	assert.Equal(t, "Unauthorized", res.body.Code)

	res = call(t, srv, http.MethodPost, "/api/v1/token/faucet", owner, TokenRequest{To: "0xdave", Amount: "5"})
	require.Equal(t, http.StatusOK, res.status)

	res = call(t, srv, http.MethodPost, "/api/v1/token/transfer", "0xdave", TokenRequest{To: alice, Amount: "6"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Equal(t, "InsufficientBalance", res.body.Code)

	res = call(t, srv, http.MethodPost, "/api/v1/token/approve", alice, TokenRequest{Spender: bob, Amount: "2"})
	require.Equal(t, http.StatusOK, res.status)

	res = call(t, srv, http.MethodPost, "/api/v1/token/transfer-from", bob, TokenRequest{From: alice, To: bob, Amount: "3"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Equal(t, "InsufficientAllowance", res.body.Code)

	res = call(t, srv, http.MethodGet, "/api/v1/accounts/"+alice+"/allowances/"+bob, "", nil)
	var allowance BalanceResponse
	require.NoError(t, json.Unmarshal(res.data, &allowance))
	assert.Equal(t, domain.Tokens(2), allowance.Amount)

	res = call(t, srv, http.MethodPost, "/api/v1/token/minters", owner, TokenRequest{Address: bob})
	require.Equal(t, http.StatusOK, res.status)
	res = call(t, srv, http.MethodPost, "/api/v1/token/mint", bob, TokenRequest{To: bob, Amount: "1"})
	require.Equal(t, http.StatusOK, res.status)
	res = call(t, srv, http.MethodDelete, "/api/v1/token/minters/"+bob, owner, nil)
	require.Equal(t, http.StatusOK, res.status)

	res = call(t, srv, http.MethodPost, "/api/v1/token/mint", owner, TokenRequest{To: bob, Amount: "2000000"})
	assert.Equal(t, http.StatusUnprocessableEntity, res.status)
	assert.Equal(t, "SupplyExceeded", res.body.Code)

	res = call(t, srv, http.MethodGet, "/api/v1/token", "", nil)
	var info domain.TokenInfo
	require.NoError(t, json.Unmarshal(res.data, &info))
	assert.Equal(t, domain.TokenSymbol, info.Symbol)
	assert.Equal(t, domain.Tokens(12_006), info.TotalSupply)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrNotFound:              http.StatusNotFound,
		domain.ErrUnauthorized:          http.StatusForbidden,
		domain.ErrNotWinner:             http.StatusForbidden,
		domain.ErrSelfJoinForbidden:     http.StatusConflict,
		domain.ErrCellOccupied:          http.StatusConflict,
		domain.ErrInsufficientAllowance: http.StatusUnprocessableEntity,
		domain.ErrInvalidRequest:        http.StatusBadRequest,
		domain.ErrEngineUnreachable:     http.StatusInternalServerError,
		io.EOF:                          http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}

package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/postgres"
)

// StakeRequest creates or joins a match
type StakeRequest struct {
	Caller string `json:"caller,omitempty"`
	Stake  string `json:"stake"`
}

// MoveRequest submits a move
type MoveRequest struct {
	Caller   string `json:"caller,omitempty"`
	Position *int   `json:"position"`
}

// ClaimResponse reports paid out winnings
type ClaimResponse struct {
	MatchID   uint64        `json:"match_id"`
	Amount    domain.Amount `json:"amount"`
	Formatted string        `json:"formatted"`
}

func (h *Handler) decodeStake(r *http.Request) (string, domain.Amount, error) {
	var req StakeRequest
	if err := decode(r, &req); err != nil {
		return "", 0, err
	}
	addr, err := caller(r, req.Caller)
	if err != nil {
		return "", 0, err
	}
	stake, err := domain.ParseAmount(req.Stake)
	if err != nil {
		return "", 0, err
	}
	return addr, stake, nil
}

// CreateMatch opens a new staked match
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	addr, stake, err := h.decodeStake(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.service.CreateMatch(r.Context(), addr, stake)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    m,
	})
}

// JoinMatch stakes the caller into an open match
func (h *Handler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	addr, stake, err := h.decodeStake(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.service.JoinMatch(r.Context(), addr, id, stake)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, m)
}

// SubmitMove plays the caller's mark
func (h *Handler) SubmitMove(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req MoveRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Position == nil {
		h.writeError(w, fmt.Errorf("%w: position is required", domain.ErrInvalidRequest))
		return
	}
	addr, err := caller(r, req.Caller)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.service.SubmitMove(r.Context(), addr, id, *req.Position)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, res)
}

// ClaimWinnings pays a settled match out to its winner
func (h *Handler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	addr, err := caller(r, "")
	if err != nil {
		h.writeError(w, err)
		return
	}

	amount, err := h.service.ClaimWinnings(r.Context(), addr, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, ClaimResponse{MatchID: id, Amount: amount, Formatted: amount.String()})
}

// GetMatch returns a match by ID
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.service.GetMatch(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, m)
}

// GetMoves returns the move log of a match
func (h *Handler) GetMoves(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	moves, err := h.service.Moves(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, moves)
}

// GetMatchEvents returns the persisted change log of a match
func (h *Handler) GetMatchEvents(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	events, err := h.service.MatchEvents(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, events)
}

// ListOpenMatches returns joinable matches, oldest first
func (h *Handler) ListOpenMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.service.CachedOpenMatches(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, matches)
}

// MatchHistory queries persisted matches by status, player and cursor
func (h *Handler) MatchHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := postgres.MatchFilter{
		Player: q.Get("player"),
		Limit:  uint64(queryInt(r, "limit")),
	}
	if s := q.Get("status"); s != "" {
		status, err := domain.ParseStatus(s)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
			return
		}
		f.Status = &status
	}
	if s := q.Get("before"); s != "" {
		before, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.writeError(w, fmt.Errorf("%w: bad cursor %q", domain.ErrInvalidRequest, s))
			return
		}
		f.BeforeID = before
	}

	matches, err := h.service.MatchHistory(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, matches)
}

// PlayerMatches returns the ids of every match an address played in
func (h *Handler) PlayerMatches(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.PlayerMatches(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, ids)
}

// PlayerStats returns win/loss/draw counts of an address
func (h *Handler) PlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.PlayerStats(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, stats)
}

// TopWinners returns the wins leaderboard
func (h *Handler) TopWinners(w http.ResponseWriter, r *http.Request) {
	players, err := h.service.TopWinners(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSuccess(w, players)
}

// Platform returns the fee configuration and platform totals
func (h *Handler) Platform(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.service.Platform())
}

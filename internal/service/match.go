package service

import (
	"context"
	"fmt"

	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/engine"
	"github.com/staked-tictactoe/internal/postgres"
)

// MoveResult is the outcome of an accepted move
type MoveResult struct {
	Winner domain.Winner `json:"winner"`
	Match  domain.Match  `json:"match"`
}

// CreateMatch opens a match staked by the caller
func (s *MatchService) CreateMatch(ctx context.Context, caller string, stake domain.Amount) (domain.Match, error) {
	id, err := s.engine.CreateMatch(ctx, caller, stake)
	if err != nil {
		return domain.Match{}, err
	}

	m, err := s.engine.GetMatch(ctx, id)
	if err != nil {
		return domain.Match{}, err
	}
	s.persist(ctx, s.matchChangeset(m, nil, domain.ChangeCreated, m.PlayerX))
	return m, nil
}

// JoinMatch stakes the caller into an open match
func (s *MatchService) JoinMatch(ctx context.Context, caller string, id uint64, stake domain.Amount) (domain.Match, error) {
	if err := s.engine.JoinMatch(ctx, caller, id, stake); err != nil {
		return domain.Match{}, err
	}

	m, err := s.engine.GetMatch(ctx, id)
	if err != nil {
		return domain.Match{}, err
	}
	s.persist(ctx, s.matchChangeset(m, nil, domain.ChangeJoined, m.PlayerO))
	return m, nil
}

// SubmitMove plays the caller's mark at position
func (s *MatchService) SubmitMove(ctx context.Context, caller string, id uint64, position int) (MoveResult, error) {
	winner, err := s.engine.SubmitMove(ctx, caller, id, position)
	if err != nil {
		return MoveResult{}, err
	}

	m, err := s.engine.GetMatch(ctx, id)
	if err != nil {
		return MoveResult{}, err
	}
	moves, err := s.engine.Moves(ctx, id)
	if err != nil {
		return MoveResult{}, err
	}

	var last *domain.Move
	if m.MoveCount > 0 && len(moves) >= m.MoveCount {
		mv := moves[m.MoveCount-1]
		last = &mv
	}

	kind := domain.ChangeMoved
	if m.Status == domain.StatusSettled {
		kind = domain.ChangeSettled
	}
	s.persist(ctx, s.matchChangeset(m, last, kind, domain.NormalizeAddress(caller)))

	return MoveResult{Winner: winner, Match: m}, nil
}

// ClaimWinnings pays out a settled match to its winner
func (s *MatchService) ClaimWinnings(ctx context.Context, caller string, id uint64) (domain.Amount, error) {
	amount, err := s.engine.ClaimWinnings(ctx, id, caller)
	if err != nil {
		return 0, err
	}

	m, err := s.engine.GetMatch(ctx, id)
	if err != nil {
		return 0, err
	}
	s.persist(ctx, s.matchChangeset(m, nil, domain.ChangeClaimed, m.WinnerAddress()))
	return amount, nil
}

// matchChangeset collects the rows a match operation touched: the match
// itself plus every balance that can move with it.
func (s *MatchService) matchChangeset(m domain.Match, mv *domain.Move, kind domain.ChangeKind, actor string) domain.Changeset {
	cfg := s.engine.Config()
	ev := domain.MatchChanged{
		MatchID: m.ID,
		Kind:    kind,
		Status:  m.Status,
		Winner:  m.Winner,
		Actor:   actor,
		Version: m.Version,
		At:      m.UpdatedAt,
	}

	cs := domain.Changeset{
		Match:    &m,
		Move:     mv,
		Event:    &ev,
		Accounts: s.ledger.Accounts(m.PlayerX, m.PlayerO, cfg.EscrowAddress, cfg.TreasuryAddress),
	}
	if !cfg.AutoApprove && (kind == domain.ChangeCreated || kind == domain.ChangeJoined) {
		cs.Allowances = append(cs.Allowances, s.ledger.AllowanceRow(actor, cfg.EscrowAddress))
	}
	return cs
}

// GetMatch returns the authoritative match projection
func (s *MatchService) GetMatch(ctx context.Context, id uint64) (domain.Match, error) {
	return s.engine.GetMatch(ctx, id)
}

// Moves returns the move log of a match
func (s *MatchService) Moves(ctx context.Context, id uint64) ([]domain.Move, error) {
	return s.engine.Moves(ctx, id)
}

// ListOpenMatches lists joinable matches, oldest first
func (s *MatchService) ListOpenMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	return s.engine.ListOpenMatches(ctx, limit)
}

// CachedOpenMatches serves the open-match listing from the cache index,
// falling back to the engine when the cache is unavailable.
func (s *MatchService) CachedOpenMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	if s.cache == nil {
		return s.engine.ListOpenMatches(ctx, limit)
	}

	ids, err := s.cache.OpenMatchIDs(ctx, s.limit(limit))
	if err != nil {
		s.logger.Warn("open match index unavailable, reading engine", "error", err)
		return s.engine.ListOpenMatches(ctx, limit)
	}

	matches := make([]domain.Match, 0, len(ids))
	for _, id := range ids {
		m, err := s.engine.GetMatch(ctx, id)
		if err != nil {
			if domain.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		// The index trails the engine; skip matches joined since.
		if m.Status != domain.StatusOpen {
			continue
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// PlayerMatches returns the ids of every match the address played in
func (s *MatchService) PlayerMatches(ctx context.Context, addr string) ([]uint64, error) {
	return s.engine.PlayerMatches(ctx, addr)
}

// PlayerStats returns win/loss/draw counts for an address
func (s *MatchService) PlayerStats(ctx context.Context, addr string) (domain.PlayerStats, error) {
	return s.engine.PlayerStats(ctx, addr)
}

// Platform returns the platform fee configuration and totals
func (s *MatchService) Platform() engine.PlatformInfo {
	return s.engine.Platform()
}

// TopWinners returns the players with the most wins
func (s *MatchService) TopWinners(ctx context.Context, n int) ([]domain.RankedPlayer, error) {
	if s.cache == nil {
		return []domain.RankedPlayer{}, nil
	}
	return s.cache.TopWinners(ctx, s.limit(n))
}

// MatchHistory queries persisted matches
func (s *MatchService) MatchHistory(ctx context.Context, f postgres.MatchFilter) ([]domain.Match, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: match history requires a database", domain.ErrInternalError)
	}
	f.Limit = uint64(s.limit(int(f.Limit)))
	return s.store.ListMatches(ctx, f)
}

// MatchEvents returns the persisted notifications of a match, newest first
func (s *MatchService) MatchEvents(ctx context.Context, id uint64, limit int) ([]domain.MatchChanged, error) {
	if _, err := s.engine.GetMatch(ctx, id); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("%w: match events require a database", domain.ErrInternalError)
	}
	return s.store.MatchEvents(ctx, id, uint64(s.limit(limit)))
}

package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/staked-tictactoe/internal/domain"
)

// ListOpenMatches returns up to limit open matches in ascending id order.
// A non-positive limit uses the configured default; limits are capped at the configured max.
func (e *Engine) ListOpenMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = e.clampLimit(limit)

	e.mu.RLock()
	ids := make([]uint64, 0, len(e.open))
	for id := range e.open {
		ids = append(ids, id)
	}
	entries := make(map[uint64]*matchEntry, len(ids))
	for _, id := range ids {
		entries[id] = e.matches[id]
	}
	e.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Match, 0, min(limit, len(ids)))
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		entry := entries[id]
		entry.mu.Lock()
		m := entry.match
		entry.mu.Unlock()

		// joined since the index was read
		if m.Status != domain.StatusOpen {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.cfg.DefaultListLimit
	}
	if limit > e.cfg.MaxListLimit {
		return e.cfg.MaxListLimit
	}
	return limit
}

// PlayerMatches returns the ids of every match addr created or joined, ascending.
func (e *Engine) PlayerMatches(ctx context.Context, addr string) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr = domain.NormalizeAddress(addr)

	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := append([]uint64(nil), e.playerGames[addr]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// PlayerStats returns the settled results of addr.
func (e *Engine) PlayerStats(ctx context.Context, addr string) (domain.PlayerStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.PlayerStats{}, err
	}
	addr = domain.NormalizeAddress(addr)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if s, ok := e.stats[addr]; ok {
		return *s, nil
	}
	return domain.PlayerStats{Address: addr}, nil
}

// PlatformInfo summarizes the engine's fee configuration and totals.
type PlatformInfo struct {
	FeeBps        uint64        `json:"fee_bps"`
	FeesCollected domain.Amount `json:"fees_collected"`
	MatchCount    uint64        `json:"match_count"`
	OpenMatches   int           `json:"open_matches"`
	PayoutMode    PayoutMode    `json:"payout_mode"`
	Escrow        string        `json:"escrow"`
	Treasury      string        `json:"treasury"`
}

// PlatformFee returns the fee rate in basis points.
func (e *Engine) PlatformFee() uint64 {
	return e.cfg.FeeBps
}

// MatchCount returns the number of matches ever created.
func (e *Engine) MatchCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextID - 1
}

// Platform returns the fee configuration and running totals.
func (e *Engine) Platform() PlatformInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return PlatformInfo{
		FeeBps:        e.cfg.FeeBps,
		FeesCollected: e.platformFee,
		MatchCount:    e.nextID - 1,
		OpenMatches:   len(e.open),
		PayoutMode:    e.cfg.PayoutMode,
		Escrow:        e.cfg.EscrowAddress,
		Treasury:      e.cfg.TreasuryAddress,
	}
}

// DirtyMatches removes and returns the ids changed since the last call.
func (e *Engine) DirtyMatches() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]uint64, 0, len(e.dirty))
	for id := range e.dirty {
		ids = append(ids, id)
	}
	e.dirty = make(map[uint64]struct{})

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MarkDirty queues ids for the next flush, typically after a failed write.
func (e *Engine) MarkDirty(ids ...uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		e.dirty[id] = struct{}{}
	}
}

// NextMatchID returns the id the next created match will get.
func (e *Engine) NextMatchID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextID
}

// Restore rebuilds the engine from persisted matches and move logs.
// It must run before the engine serves requests.
func (e *Engine) Restore(matches []domain.Match, moves map[uint64][]domain.Move, nextID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.matches) > 0 {
		return fmt.Errorf("%w: engine already holds matches", domain.ErrInternalError)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	for _, m := range matches {
		entry := &matchEntry{match: m, moves: moves[m.ID]}
		e.matches[m.ID] = entry
		if m.Status == domain.StatusOpen {
			e.open[m.ID] = struct{}{}
		}
		e.playerGames[m.PlayerX] = append(e.playerGames[m.PlayerX], m.ID)
		if m.PlayerO != "" {
			e.playerGames[m.PlayerO] = append(e.playerGames[m.PlayerO], m.ID)
		}
		if m.Status == domain.StatusSettled {
			e.recordResult(&m)
		}
		if m.ID >= nextID {
			nextID = m.ID + 1
		}
	}
	if nextID == 0 {
		nextID = 1
	}
	e.nextID = nextID

	e.logger.Info("engine restored", "matches", len(matches), "next_match_id", nextID)
	return nil
}

// Export copies the given matches and their move logs. Unknown ids are skipped.
func (e *Engine) Export(ids []uint64) ([]domain.Match, map[uint64][]domain.Move) {
	matches := make([]domain.Match, 0, len(ids))
	moves := make(map[uint64][]domain.Move, len(ids))

	for _, id := range ids {
		entry, err := e.entry(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		matches = append(matches, entry.match)
		moves[id] = append([]domain.Move(nil), entry.moves...)
		entry.mu.Unlock()
	}
	return matches, moves
}

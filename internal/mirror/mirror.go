// Package mirror keeps an optimistic local copy of one match for a player.
//
// A tap is applied locally at once and marked pending; the authoritative
// engine then confirms or rejects it. While a move is pending further taps
// are refused. The shared session slot only caches the view for other
// peers and is never read back as authority.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/staked-tictactoe/internal/domain"
)

// ErrMovePending is returned by Tap while an earlier move awaits the engine.
var ErrMovePending = errors.New("a move is already pending")

// Engine is the authoritative side the mirror reconciles against
type Engine interface {
	GetMatch(ctx context.Context, id uint64) (domain.Match, error)
	SubmitMove(ctx context.Context, caller string, id uint64, position int) (domain.Winner, error)
}

// Slot is a last-write-wins shared value keyed by session name
type Slot interface {
	Put(ctx context.Context, session string, snapshot []byte) error
	Get(ctx context.Context, session string) ([]byte, error)
}

// State is the mirror's view as shown to the player and shared with peers
type State struct {
	Match   domain.Match `json:"match"`
	Player  string       `json:"player"`
	Pending bool         `json:"pending"`
	// Stale is set when an accepted move could not be read back; the view
	// holds the prediction until the engine is read again.
	Stale   bool         `json:"stale,omitempty"`
}

// Mirror is one player's optimistic copy of a match
type Mirror struct {
	engine  Engine
	slot    Slot
	session string
	player  string
	matchID uint64
	logger  *slog.Logger

	mu        sync.Mutex
	confirmed domain.Match
	view      domain.Match
	pending   bool
	stale     bool
}

// New creates a mirror for player and loads the authoritative match.
// slot may be nil.
func New(ctx context.Context, eng Engine, slot Slot, session, player string, matchID uint64, logger *slog.Logger) (*Mirror, error) {
	m, err := eng.GetMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("loading match %d: %w", matchID, err)
	}
	return &Mirror{
		engine:    eng,
		slot:      slot,
		session:   session,
		player:    domain.NormalizeAddress(player),
		matchID:   matchID,
		logger:    logger,
		confirmed: m,
		view:      m,
	}, nil
}

// State returns the current view
func (m *Mirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Mirror) stateLocked() State {
	return State{Match: m.view, Player: m.player, Pending: m.pending, Stale: m.stale}
}

// Tap plays the local player's mark at position. The mark shows immediately
// and is rolled back if the engine rejects it or cannot be reached.
func (m *Mirror) Tap(ctx context.Context, position int) (State, error) {
	if m.State().Stale {
		if err := m.Refresh(ctx); err != nil {
			m.logger.Debug("stale mirror refresh failed", "match_id", m.matchID, "error", err)
		}
	}

	m.mu.Lock()
	if err := m.checkLocked(position); err != nil {
		m.mu.Unlock()
		return m.State(), err
	}
	m.view = predict(m.view, position)
	m.pending = true
	snapshot := m.stateLocked()
	m.mu.Unlock()

	m.publish(ctx, snapshot)

	_, err := m.engine.SubmitMove(ctx, m.player, m.matchID, position)

	switch {
	case err == nil:
		if authoritative, ferr := m.engine.GetMatch(ctx, m.matchID); ferr == nil {
			m.adopt(authoritative)
		} else {
			m.logger.Warn("move accepted but match refetch failed", "match_id", m.matchID, "error", ferr)
			m.mu.Lock()
			m.pending = false
			m.stale = true
			m.mu.Unlock()
		}
	case domain.IsRejection(err):
		m.rollback()
		if authoritative, ferr := m.engine.GetMatch(ctx, m.matchID); ferr == nil {
			m.adopt(authoritative)
		}
		m.logger.Info("move rejected", "match_id", m.matchID, "position", position, "kind", domain.Kind(err))
	default:
		m.rollback()
		m.logger.Warn("engine unreachable, move rolled back", "match_id", m.matchID, "error", err)
	}

	state := m.State()
	m.publish(ctx, state)
	return state, err
}

// checkLocked applies the engine's rules to the local view
func (m *Mirror) checkLocked(position int) error {
	v := &m.view
	switch {
	case m.pending:
		return ErrMovePending
	case v.Status == domain.StatusSettled:
		return domain.ErrMatchClosed
	case v.Status == domain.StatusOpen:
		return domain.ErrInvalidMove
	case !domain.ValidPosition(position):
		return domain.ErrInvalidMove
	case v.PlayerFor(v.CurrentMover) != m.player:
		return domain.ErrNotYourTurn
	case v.Board[position] != domain.CellEmpty:
		return domain.ErrCellOccupied
	}
	return nil
}

// predict applies a move without settlement; the engine fills in payouts.
func predict(m domain.Match, position int) domain.Match {
	mark := m.CurrentMover
	m.Board[position] = mark
	m.MoveCount++
	m.Winner = domain.Evaluate(m.Board)
	if m.Winner == domain.WinnerNone {
		m.CurrentMover = mark.Opponent()
	} else {
		m.Status = domain.StatusSettled
	}
	return m
}

func (m *Mirror) rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view = m.confirmed
	m.pending = false
	m.stale = false
}

func (m *Mirror) adopt(authoritative domain.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if authoritative.Version >= m.confirmed.Version {
		m.confirmed = authoritative
	}
	m.view = m.confirmed
	m.pending = false
	m.stale = false
}

// Reconcile adopts a newer authoritative projection. While a move is pending
// the view keeps the prediction and only the rollback point moves.
// It reports whether the projection was newer.
func (m *Mirror) Reconcile(authoritative domain.Match) bool {
	if authoritative.ID != m.matchID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if authoritative.Version <= m.confirmed.Version {
		return false
	}
	m.confirmed = authoritative
	if !m.pending {
		m.view = authoritative
		m.stale = false
	}
	return true
}

// Refresh re-reads the match from the engine
func (m *Mirror) Refresh(ctx context.Context) error {
	authoritative, err := m.engine.GetMatch(ctx, m.matchID)
	if err != nil {
		return err
	}
	if m.Reconcile(authoritative) {
		m.publish(ctx, m.State())
	}
	return nil
}

// Watch refreshes on every notification for the mirrored match until ctx
// is done or events is closed.
func (m *Mirror) Watch(ctx context.Context, events <-chan domain.MatchChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.MatchID != m.matchID {
				continue
			}
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn("failed to refresh mirror", "match_id", m.matchID, "error", err)
			}
		}
	}
}

// Shared returns the last view any peer published to the session slot.
func (m *Mirror) Shared(ctx context.Context) (State, error) {
	if m.slot == nil {
		return State{}, fmt.Errorf("session %q: %w", m.session, domain.ErrNotFound)
	}
	data, err := m.slot.Get(ctx, m.session)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decoding session snapshot: %w", err)
	}
	return s, nil
}

func (m *Mirror) publish(ctx context.Context, s State) {
	if m.slot == nil || m.session == "" {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		m.logger.Error("failed to encode mirror snapshot", "error", err)
		return
	}
	if err := m.slot.Put(ctx, m.session, data); err != nil {
		m.logger.Warn("failed to publish mirror snapshot", "session", m.session, "error", err)
	}
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/ledger"
)

// PayoutMode decides when a winner's payout reaches their balance
type PayoutMode string

const (
	// PayoutCredit credits the winner at settlement.
	PayoutCredit PayoutMode = "credit"
	// PayoutClaim holds the payout in escrow until ClaimWinnings.
	PayoutClaim PayoutMode = "claim"
)

const maxFeeBps = 10_000

// Config holds the engine parameters
type Config struct {
	EscrowAddress    string
	TreasuryAddress  string
	FeeBps           uint64
	PayoutMode       PayoutMode
	AutoApprove      bool
	DefaultListLimit int
	MaxListLimit     int
	NotifyBuffer     int
}

type matchEntry struct {
	mu    sync.Mutex
	match domain.Match
	moves []domain.Move
}

// Engine is the authoritative match state machine. It owns stake escrow and
// settlement on top of the token ledger.
type Engine struct {
	cfg    Config
	ledger *ledger.Ledger
	logger *slog.Logger
	notify *notifier
	now    func() time.Time

	// mu guards the registry maps, never a match's contents.
	// Lock order: matchEntry.mu before mu.
	mu          sync.RWMutex
	matches     map[uint64]*matchEntry
	open        map[uint64]struct{}
	nextID      uint64
	playerGames map[string][]uint64
	stats       map[string]*domain.PlayerStats
	platformFee domain.Amount
	dirty       map[uint64]struct{}
}

// New creates an engine on top of the ledger.
func New(cfg Config, l *ledger.Ledger, logger *slog.Logger) (*Engine, error) {
	cfg.EscrowAddress = domain.NormalizeAddress(cfg.EscrowAddress)
	cfg.TreasuryAddress = domain.NormalizeAddress(cfg.TreasuryAddress)

	if cfg.EscrowAddress == "" || cfg.TreasuryAddress == "" {
		return nil, fmt.Errorf("%w: escrow and treasury addresses are required", domain.ErrInvalidRequest)
	}
	if cfg.EscrowAddress == cfg.TreasuryAddress || cfg.EscrowAddress == l.Owner() {
		return nil, fmt.Errorf("%w: escrow %s must be a dedicated account", domain.ErrInvalidRequest, cfg.EscrowAddress)
	}
	if cfg.FeeBps > maxFeeBps {
		return nil, fmt.Errorf("%w: fee of %d bps exceeds 100%%", domain.ErrInvalidRequest, cfg.FeeBps)
	}
	switch cfg.PayoutMode {
	case "":
		cfg.PayoutMode = PayoutClaim
	case PayoutCredit, PayoutClaim:
	default:
		return nil, fmt.Errorf("%w: unknown payout mode %q", domain.ErrInvalidRequest, cfg.PayoutMode)
	}
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 20
	}
	if cfg.MaxListLimit < cfg.DefaultListLimit {
		cfg.MaxListLimit = cfg.DefaultListLimit
	}
	if err := l.Reserve(cfg.EscrowAddress); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:         cfg,
		ledger:      l,
		logger:      logger,
		notify:      newNotifier(cfg.NotifyBuffer, logger),
		now:         time.Now,
		matches:     make(map[uint64]*matchEntry),
		open:        make(map[uint64]struct{}),
		nextID:      1,
		playerGames: make(map[string][]uint64),
		stats:       make(map[string]*domain.PlayerStats),
		dirty:       make(map[uint64]struct{}),
	}, nil
}

// Ledger returns the token ledger the engine settles against.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Config returns the normalized engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Subscribe returns a subscription to changes of one match.
func (e *Engine) Subscribe(matchID uint64) *Subscription {
	return e.notify.add(matchID)
}

// SubscribeAll returns a subscription to changes of every match.
func (e *Engine) SubscribeAll() *Subscription {
	return e.notify.add(allMatches)
}

// CreateMatch escrows the creator's stake and opens a new match.
func (e *Engine) CreateMatch(ctx context.Context, creator string, stake domain.Amount) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	creator = domain.NormalizeAddress(creator)
	if creator == "" {
		return 0, fmt.Errorf("%w: creator address is required", domain.ErrInvalidRequest)
	}
	if creator == e.cfg.EscrowAddress {
		return 0, domain.ErrUnauthorized
	}
	if stake == 0 {
		return 0, domain.ErrInvalidStake
	}

	if err := e.ledger.DrawStake(creator, e.cfg.EscrowAddress, stake, !e.cfg.AutoApprove); err != nil {
		return 0, fmt.Errorf("escrowing creator stake: %w", err)
	}

	now := e.now()
	entry := &matchEntry{}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	entry.match = domain.Match{
		ID:           id,
		PlayerX:      creator,
		StakeX:       stake,
		CurrentMover: domain.CellX,
		Status:       domain.StatusOpen,
		Winner:       domain.WinnerNone,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.matches[id] = entry
	e.open[id] = struct{}{}
	e.playerGames[creator] = append(e.playerGames[creator], id)
	e.dirty[id] = struct{}{}
	e.mu.Unlock()

	e.publish(&entry.match, domain.ChangeCreated, creator)
	e.logger.Info("match created", "match_id", id, "player", creator, "stake", stake.String())
	return id, nil
}

// JoinMatch escrows the opponent's stake and activates an open match.
func (e *Engine) JoinMatch(ctx context.Context, opponent string, id uint64, stake domain.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opponent = domain.NormalizeAddress(opponent)
	if opponent == "" {
		return fmt.Errorf("%w: opponent address is required", domain.ErrInvalidRequest)
	}
	if opponent == e.cfg.EscrowAddress {
		return domain.ErrUnauthorized
	}

	entry, err := e.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	m := &entry.match
	if m.Status != domain.StatusOpen {
		return domain.ErrMatchClosed
	}
	if stake != m.StakeX {
		return domain.ErrStakeMismatch
	}
	if opponent == m.PlayerX {
		return domain.ErrSelfJoinForbidden
	}

	if err := e.ledger.DrawStake(opponent, e.cfg.EscrowAddress, stake, !e.cfg.AutoApprove); err != nil {
		return fmt.Errorf("escrowing opponent stake: %w", err)
	}

	m.PlayerO = opponent
	m.StakeO = stake
	m.Status = domain.StatusActive
	e.touch(m)

	e.mu.Lock()
	delete(e.open, id)
	e.playerGames[opponent] = append(e.playerGames[opponent], id)
	e.dirty[id] = struct{}{}
	e.mu.Unlock()

	e.publish(m, domain.ChangeJoined, opponent)
	e.logger.Info("match joined", "match_id", id, "player", opponent)
	return nil
}

// SubmitMove writes the current mover's mark and settles the match when the
// board reaches a terminal state. It returns the winner after the move.
func (e *Engine) SubmitMove(ctx context.Context, caller string, id uint64, position int) (domain.Winner, error) {
	if err := ctx.Err(); err != nil {
		return domain.WinnerNone, err
	}
	caller = domain.NormalizeAddress(caller)

	entry, err := e.entry(id)
	if err != nil {
		return domain.WinnerNone, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cur := &entry.match
	switch cur.Status {
	case domain.StatusSettled:
		return domain.WinnerNone, domain.ErrMatchClosed
	case domain.StatusOpen:
		return domain.WinnerNone, fmt.Errorf("%w: match %d has no opponent yet", domain.ErrInvalidMove, id)
	}
	if !domain.ValidPosition(position) {
		return domain.WinnerNone, fmt.Errorf("%w: position %d out of range", domain.ErrInvalidMove, position)
	}
	if caller == "" || caller != cur.PlayerFor(cur.CurrentMover) {
		return domain.WinnerNone, domain.ErrNotYourTurn
	}
	if cur.Board[position] != domain.CellEmpty {
		return domain.WinnerNone, domain.ErrCellOccupied
	}

	next := *cur
	mark := next.CurrentMover
	next.Board[position] = mark
	next.MoveCount++
	next.Winner = domain.Evaluate(next.Board)

	kind := domain.ChangeMoved
	if next.Winner == domain.WinnerNone {
		next.CurrentMover = mark.Opponent()
	} else {
		next.Status = domain.StatusSettled
		if err := e.settle(&next); err != nil {
			return domain.WinnerNone, err
		}
		kind = domain.ChangeSettled
	}
	e.touch(&next)

	entry.match = next
	entry.moves = append(entry.moves, domain.Move{
		MatchID:  id,
		Seq:      next.MoveCount,
		Player:   caller,
		Position: position,
		Mark:     mark,
		At:       next.UpdatedAt,
	})

	e.mu.Lock()
	e.dirty[id] = struct{}{}
	if kind == domain.ChangeSettled {
		e.recordResult(&next)
	}
	e.mu.Unlock()

	e.publish(&entry.match, kind, caller)
	if kind == domain.ChangeSettled {
		e.logger.Info("match settled",
			"match_id", id,
			"winner", next.Winner.String(),
			"fee", next.Fee.String(),
			"payout", next.Payout.String(),
		)
	}
	return next.Winner, nil
}

// ClaimWinnings pays a settled match's payout to its winner, once.
func (e *Engine) ClaimWinnings(ctx context.Context, id uint64, caller string) (domain.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	caller = domain.NormalizeAddress(caller)

	entry, err := e.entry(id)
	if err != nil {
		return 0, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	m := &entry.match
	if m.Status != domain.StatusSettled || !m.Winner.Decisive() {
		return 0, domain.ErrNotWinner
	}
	if caller == "" || caller != m.WinnerAddress() {
		return 0, domain.ErrNotWinner
	}
	if m.Claimed {
		return 0, domain.ErrAlreadyClaimed
	}

	if err := e.ledger.Release(e.cfg.EscrowAddress, ledger.Credit{To: caller, Amount: m.Payout}); err != nil {
		return 0, fmt.Errorf("paying winnings of match %d: %w", id, err)
	}
	m.Claimed = true
	e.touch(m)

	e.mu.Lock()
	e.dirty[id] = struct{}{}
	e.mu.Unlock()

	e.publish(m, domain.ChangeClaimed, caller)
	e.logger.Info("winnings claimed", "match_id", id, "player", caller, "amount", m.Payout.String())
	return m.Payout, nil
}

// GetMatch returns a copy of the match projection.
func (e *Engine) GetMatch(ctx context.Context, id uint64) (domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return domain.Match{}, err
	}
	entry, err := e.entry(id)
	if err != nil {
		return domain.Match{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.match, nil
}

// Moves returns the move log of a match in play order.
func (e *Engine) Moves(ctx context.Context, id uint64) ([]domain.Move, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, err := e.entry(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	out := make([]domain.Move, len(entry.moves))
	copy(out, entry.moves)
	return out, nil
}

func (e *Engine) entry(id uint64) (*matchEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %d: %w", id, domain.ErrNotFound)
	}
	return entry, nil
}

func (e *Engine) touch(m *domain.Match) {
	m.Version++
	m.UpdatedAt = e.now()
}

func (e *Engine) publish(m *domain.Match, kind domain.ChangeKind, actor string) {
	e.notify.publish(domain.MatchChanged{
		MatchID: m.ID,
		Kind:    kind,
		Status:  m.Status,
		Winner:  m.Winner,
		Actor:   actor,
		Version: m.Version,
		At:      m.UpdatedAt,
	})
}

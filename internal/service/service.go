package service

import (
	"context"
	"log/slog"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/engine"
	"github.com/staked-tictactoe/internal/ledger"
	"github.com/staked-tictactoe/internal/postgres"
)

// Store persists engine changes and serves match history
type Store interface {
	SaveChangeset(ctx context.Context, cs domain.Changeset, nextMatchID uint64) error
	ListMatches(ctx context.Context, f postgres.MatchFilter) ([]domain.Match, error)
	MatchEvents(ctx context.Context, matchID uint64, limit uint64) ([]domain.MatchChanged, error)
}

// Cache holds match projections, the open-match index and the wins leaderboard
type Cache interface {
	CacheMatch(ctx context.Context, m domain.Match) error
	OpenMatchIDs(ctx context.Context, limit int) ([]uint64, error)
	RecordWin(ctx context.Context, addr string) error
	TopWinners(ctx context.Context, n int) ([]domain.RankedPlayer, error)
}

// Sessions hosts presence and the shared session slot
type Sessions interface {
	Heartbeat(ctx context.Context, session, peer string) (string, error)
	Roster(ctx context.Context, session string) ([]string, error)
	Leave(ctx context.Context, session, peer string) error
	Put(ctx context.Context, session string, snapshot []byte) error
	Get(ctx context.Context, session string) ([]byte, error)
}

// EventPublisher forwards match notifications to other services
type EventPublisher interface {
	PublishMatchChanged(ctx context.Context, ev domain.MatchChanged) error
}

// Broadcaster pushes match notifications to connected clients
type Broadcaster interface {
	BroadcastMatchChanged(ev domain.MatchChanged, m domain.Match)
}

// MatchService wires the engine to persistence, caching and notification fan-out.
// The engine is authoritative: a failed write after a successful operation is
// logged and left for the sync worker.
type MatchService struct {
	engine    *engine.Engine
	ledger    *ledger.Ledger
	store     Store
	cache     Cache
	sessions  Sessions
	publisher EventPublisher
	hub       Broadcaster
	config    *config.RegistryConfig
	logger    *slog.Logger
}

// NewMatchService creates a new match service. store and cache may be nil.
func NewMatchService(
	eng *engine.Engine,
	store Store,
	cache Cache,
	cfg *config.RegistryConfig,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		engine: eng,
		ledger: eng.Ledger(),
		store:  store,
		cache:  cache,
		config: cfg,
		logger: logger,
	}
}

// SetHub sets the WebSocket hub for broadcasting
func (s *MatchService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// SetPublisher sets the event publisher
func (s *MatchService) SetPublisher(p EventPublisher) {
	s.publisher = p
}

// SetSessions sets the presence and session store
func (s *MatchService) SetSessions(sessions Sessions) {
	s.sessions = sessions
}

// Engine returns the underlying match engine
func (s *MatchService) Engine() *engine.Engine {
	return s.engine
}

// persist writes a changeset, stamping it with the current ledger totals.
func (s *MatchService) persist(ctx context.Context, cs domain.Changeset) {
	if s.store == nil {
		return
	}
	cs.Owner = s.ledger.Owner()
	cs.TotalSupply = s.ledger.TotalSupply()
	cs.LedgerSeq = s.ledger.Seq()

	if err := s.store.SaveChangeset(ctx, cs, s.engine.NextMatchID()); err != nil {
		s.logger.Warn("failed to persist changeset, leaving it to the sync worker", "error", err)
		if cs.Match != nil {
			s.engine.MarkDirty(cs.Match.ID)
		}
	}
}

func (s *MatchService) limit(n int) int {
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}
	return n
}

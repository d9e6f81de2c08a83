package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/staked-tictactoe/internal/domain"
)

const allMatches uint64 = 0

// Subscription delivers MatchChanged notifications until closed.
type Subscription struct {
	C <-chan domain.MatchChanged

	id       uint64
	matchID  uint64
	notifier *notifier
}

// Close stops delivery and closes C. Closing twice is safe.
func (s *Subscription) Close() {
	s.notifier.remove(s.matchID, s.id)
}

// notifier fans match changes out to subscribers without blocking the engine.
type notifier struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]map[uint64]chan domain.MatchChanged
	buffer  int
	dropped atomic.Uint64
	logger  *slog.Logger
}

func newNotifier(buffer int, logger *slog.Logger) *notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &notifier{
		subs:   make(map[uint64]map[uint64]chan domain.MatchChanged),
		buffer: buffer,
		logger: logger,
	}
}

func (n *notifier) add(matchID uint64) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	ch := make(chan domain.MatchChanged, n.buffer)
	if n.subs[matchID] == nil {
		n.subs[matchID] = make(map[uint64]chan domain.MatchChanged)
	}
	n.subs[matchID][n.nextID] = ch

	return &Subscription{C: ch, id: n.nextID, matchID: matchID, notifier: n}
}

func (n *notifier) remove(matchID, id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	chans, ok := n.subs[matchID]
	if !ok {
		return
	}
	if ch, ok := chans[id]; ok {
		delete(chans, id)
		close(ch)
	}
	if len(chans) == 0 {
		delete(n.subs, matchID)
	}
}

func (n *notifier) publish(ev domain.MatchChanged) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	n.deliver(n.subs[ev.MatchID], ev)
	n.deliver(n.subs[allMatches], ev)
}

func (n *notifier) deliver(chans map[uint64]chan domain.MatchChanged, ev domain.MatchChanged) {
	for id, ch := range chans {
		select {
		case ch <- ev:
		default:
			n.dropped.Add(1)
			n.logger.Warn("subscriber buffer full, dropping notification",
				"subscription", id,
				"match_id", ev.MatchID,
				"kind", ev.Kind,
			)
		}
	}
}

package service

import (
	"context"

	"github.com/staked-tictactoe/internal/domain"
)

// Run forwards engine notifications to the cache, the hub and the event
// publisher until ctx is done.
func (s *MatchService) Run(ctx context.Context) {
	sub := s.engine.SubscribeAll()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			s.dispatch(ctx, ev)
		}
	}
}

func (s *MatchService) dispatch(ctx context.Context, ev domain.MatchChanged) {
	m, err := s.engine.GetMatch(ctx, ev.MatchID)
	if err != nil {
		s.logger.Error("failed to read changed match", "match_id", ev.MatchID, "error", err)
		return
	}

	if s.cache != nil {
		if err := s.cache.CacheMatch(ctx, m); err != nil {
			s.logger.Warn("failed to cache match", "match_id", m.ID, "error", err)
		}
		if ev.Kind == domain.ChangeSettled && ev.Winner.Decisive() {
			if err := s.cache.RecordWin(ctx, m.WinnerAddress()); err != nil {
				s.logger.Warn("failed to record win", "match_id", m.ID, "error", err)
			}
		}
	}

	if s.hub != nil {
		s.hub.BroadcastMatchChanged(ev, m)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishMatchChanged(ctx, ev); err != nil {
			s.logger.Warn("failed to publish match event", "match_id", m.ID, "error", err)
		}
	}
}

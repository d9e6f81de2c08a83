package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
)

// SessionStore hosts the presence roster and the shared snapshot slot of a
// named session. The slot is last-write-wins and only ever a UI cache.
type SessionStore struct {
	client      *redis.Client
	presenceTTL time.Duration
	snapshotTTL time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewSessionStore creates a session store on an open client
func NewSessionStore(client *redis.Client, cfg *config.SessionConfig, logger *slog.Logger) *SessionStore {
	return &SessionStore{
		client:      client,
		presenceTTL: cfg.PresenceTTL,
		snapshotTTL: cfg.SnapshotTTL,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *SessionStore) peersKey(session string) string {
	return fmt.Sprintf("session:%s:peers", session)
}

func (s *SessionStore) snapshotKey(session string) string {
	return fmt.Sprintf("session:%s:snapshot", session)
}

// Heartbeat marks peer as present in the session. An empty peer id gets a new one.
func (s *SessionStore) Heartbeat(ctx context.Context, session, peer string) (string, error) {
	if peer == "" {
		peer = uuid.NewString()
	}
	key := s.peersKey(session)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(s.now().UnixMilli()), Member: peer})
	pipe.Expire(ctx, key, 2*s.presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("recording presence: %w", err)
	}
	return peer, nil
}

// Leave removes peer from the roster.
func (s *SessionStore) Leave(ctx context.Context, session, peer string) error {
	if err := s.client.ZRem(ctx, s.peersKey(session), peer).Err(); err != nil {
		return fmt.Errorf("removing presence: %w", err)
	}
	return nil
}

// Roster returns the peers seen within the presence TTL, oldest first.
func (s *SessionStore) Roster(ctx context.Context, session string) ([]string, error) {
	key := s.peersKey(session)
	cutoff := s.now().Add(-s.presenceTTL).UnixMilli()

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	rangeCmd := pipe.ZRange(ctx, key, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("getting roster: %w", err)
	}
	return rangeCmd.Val(), nil
}

// Put overwrites the session snapshot.
func (s *SessionStore) Put(ctx context.Context, session string, snapshot []byte) error {
	if err := s.client.Set(ctx, s.snapshotKey(session), snapshot, s.snapshotTTL).Err(); err != nil {
		return fmt.Errorf("writing session snapshot: %w", err)
	}
	s.logger.Debug("session snapshot written", "session", session, "bytes", len(snapshot))
	return nil
}

// Get returns the last written snapshot.
func (s *SessionStore) Get(ctx context.Context, session string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(session)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %q: %w", session, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading session snapshot: %w", err)
	}
	return data, nil
}

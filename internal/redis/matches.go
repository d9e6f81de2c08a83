package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
)

const (
	openMatchesKey = "matches:open"
	playerWinsKey  = "players:wins"
)

// MatchCache keeps match projections, the open-match index and the wins
// leaderboard in Redis. The engine stays authoritative; this is a read cache.
type MatchCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewClient opens and pings a Redis connection
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewMatchCache creates a match cache on an open client
func NewMatchCache(client *redis.Client, logger *slog.Logger) *MatchCache {
	return &MatchCache{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *MatchCache) Close() error {
	return c.client.Close()
}

// matchKey returns the Redis key for a cached match projection
func (c *MatchCache) matchKey(id uint64) string {
	return fmt.Sprintf("match:%d", id)
}

// CacheMatch stores the projection and keeps the open index in step with its status.
func (c *MatchCache) CacheMatch(ctx context.Context, m domain.Match) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding match: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.matchKey(m.ID), data, 0)
	member := strconv.FormatUint(m.ID, 10)
	if m.Status == domain.StatusOpen {
		pipe.ZAdd(ctx, openMatchesKey, redis.Z{Score: float64(m.ID), Member: member})
	} else {
		pipe.ZRem(ctx, openMatchesKey, member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching match %d: %w", m.ID, err)
	}
	return nil
}

// GetMatch returns the cached projection
func (c *MatchCache) GetMatch(ctx context.Context, id uint64) (domain.Match, error) {
	data, err := c.client.Get(ctx, c.matchKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Match{}, fmt.Errorf("match %d: %w", id, domain.ErrNotFound)
		}
		return domain.Match{}, fmt.Errorf("getting match: %w", err)
	}

	var m domain.Match
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Match{}, fmt.Errorf("decoding match %d: %w", id, err)
	}
	return m, nil
}

// OpenMatchIDs returns up to limit open match ids in ascending order
func (c *MatchCache) OpenMatchIDs(ctx context.Context, limit int) ([]uint64, error) {
	members, err := c.client.ZRange(ctx, openMatchesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting open matches: %w", err)
	}

	ids := make([]uint64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			c.logger.Warn("skipping malformed open match entry", "member", member)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountOpen returns the size of the open-match index
func (c *MatchCache) CountOpen(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, openMatchesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("getting open count: %w", err)
	}
	return count, nil
}

// Rebuild replaces the open index and wins leaderboard from the given matches
// and caches every projection, using pipelining.
func (c *MatchCache) Rebuild(ctx context.Context, matches []domain.Match) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, openMatchesKey, playerWinsKey)

	for _, m := range matches {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding match %d: %w", m.ID, err)
		}
		pipe.Set(ctx, c.matchKey(m.ID), data, 0)
		if m.Status == domain.StatusOpen {
			pipe.ZAdd(ctx, openMatchesKey, redis.Z{Score: float64(m.ID), Member: strconv.FormatUint(m.ID, 10)})
		}
		if m.Status == domain.StatusSettled && m.Winner.Decisive() {
			pipe.ZIncrBy(ctx, playerWinsKey, 1, m.WinnerAddress())
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding match cache: %w", err)
	}
	c.logger.Info("match cache rebuilt", "matches", len(matches))
	return nil
}

// RecordWin increments a player's win count on the leaderboard
func (c *MatchCache) RecordWin(ctx context.Context, addr string) error {
	if err := c.client.ZIncrBy(ctx, playerWinsKey, 1, addr).Err(); err != nil {
		return fmt.Errorf("recording win: %w", err)
	}
	return nil
}

// TopWinners returns the n players with the most wins (descending order)
func (c *MatchCache) TopWinners(ctx context.Context, n int) ([]domain.RankedPlayer, error) {
	results, err := c.client.ZRevRangeWithScores(ctx, playerWinsKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top winners: %w", err)
	}

	entries := make([]domain.RankedPlayer, len(results))
	for i, result := range results {
		entries[i] = domain.RankedPlayer{
			Rank:    int64(i + 1),
			Address: result.Member.(string),
			Wins:    int64(result.Score),
		}
	}
	return entries, nil
}

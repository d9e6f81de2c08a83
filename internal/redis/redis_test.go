package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
)

func newTestClient(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *MatchCache {
	t.Helper()
	mr := newTestClient(t)

	cfg := config.DefaultConfig().Redis
	cfg.Addr = mr.Addr()
	client, err := NewClient(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewMatchCache(client, testLogger())
}

func TestCacheMatchTracksOpenIndex(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, cache.CacheMatch(ctx, domain.Match{ID: id, PlayerX: "0xa", Status: domain.StatusOpen}))
	}

	ids, err := cache.OpenMatchIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	require.NoError(t, cache.CacheMatch(ctx, domain.Match{ID: 2, PlayerX: "0xa", PlayerO: "0xb", Status: domain.StatusActive}))

	ids, err = cache.OpenMatchIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids)

	count, err := cache.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	m, err := cache.GetMatch(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, m.Status)
	assert.Equal(t, "0xb", m.PlayerO)

	_, err = cache.GetMatch(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRebuildAndTopWinners(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.CacheMatch(ctx, domain.Match{ID: 50, Status: domain.StatusOpen}))

	matches := []domain.Match{
		{ID: 1, PlayerX: "0xa", PlayerO: "0xb", Status: domain.StatusSettled, Winner: domain.WinnerX},
		{ID: 2, PlayerX: "0xa", PlayerO: "0xb", Status: domain.StatusSettled, Winner: domain.WinnerO},
		{ID: 3, PlayerX: "0xb", PlayerO: "0xa", Status: domain.StatusSettled, Winner: domain.WinnerX},
		{ID: 4, PlayerX: "0xc", PlayerO: "0xa", Status: domain.StatusSettled, Winner: domain.WinnerDraw},
		{ID: 5, PlayerX: "0xc", Status: domain.StatusOpen},
	}
	require.NoError(t, cache.Rebuild(ctx, matches))

	ids, err := cache.OpenMatchIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, ids)

	require.NoError(t, cache.RecordWin(ctx, "0xc"))

	top, err := cache.TopWinners(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, domain.RankedPlayer{Rank: 1, Address: "0xb", Wins: 2}, top[0])
	assert.Equal(t, int64(1), top[1].Wins)
	assert.Equal(t, int64(3), top[2].Rank)
}

func TestSessionStore(t *testing.T) {
	mr := newTestClient(t)
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = mr.Addr()
	client, err := NewClient(&cfg.Redis)
	require.NoError(t, err)
	defer client.Close()

	store := NewSessionStore(client, &cfg.Session, testLogger())
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err = store.Get(ctx, "lobby")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	peer, err := store.Heartbeat(ctx, "lobby", "")
	require.NoError(t, err)
	assert.NotEmpty(t, peer)
	_, err = store.Heartbeat(ctx, "lobby", "peer-2")
	require.NoError(t, err)

	roster, err := store.Roster(ctx, "lobby")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{peer, "peer-2"}, roster)

	now = now.Add(cfg.Session.PresenceTTL / 2)
	_, err = store.Heartbeat(ctx, "lobby", "peer-2")
	require.NoError(t, err)

	now = now.Add(cfg.Session.PresenceTTL/2 + time.Second)
	roster, err = store.Roster(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-2"}, roster)

	require.NoError(t, store.Leave(ctx, "lobby", "peer-2"))
	roster, err = store.Roster(ctx, "lobby")
	require.NoError(t, err)
	assert.Empty(t, roster)

	require.NoError(t, store.Put(ctx, "lobby", []byte(`{"v":1}`)))
	require.NoError(t, store.Put(ctx, "lobby", []byte(`{"v":2}`)))
	data, err := store.Get(ctx, "lobby")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))
}

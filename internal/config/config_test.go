package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staked-tictactoe/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "match-commands", cfg.Kafka.CommandTopic)
	assert.Equal(t, "match-events", cfg.Kafka.EventTopic)
	assert.Equal(t, uint64(250), cfg.Engine.FeeBps)
	assert.Equal(t, "claim", cfg.Engine.PayoutMode)
	assert.True(t, cfg.Engine.AutoApproveEnabled())
	assert.Equal(t, cfg.Engine.Owner, cfg.Engine.Treasury)
	assert.Equal(t, 20, cfg.Registry.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.Session.PresenceTTL)
	assert.True(t, cfg.Sync.Enabled)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_ENGINE_OWNER", "0xABC")
	path := writeFile(t, "config.yaml", `
server:
  port: 9090
engine:
  owner: ${TEST_ENGINE_OWNER}
  fee_bps: 100
  payout_mode: CREDIT
  auto_approve: false
  max_supply: "500"
  initial_supply: "10.5"
registry:
  max_limit: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0xABC", cfg.Engine.Owner)
	assert.Equal(t, uint64(100), cfg.Engine.FeeBps)
	assert.Equal(t, "credit", cfg.Engine.PayoutMode)
	assert.False(t, cfg.Engine.AutoApproveEnabled())
	assert.Equal(t, 7, cfg.Registry.MaxLimit)
	assert.Equal(t, 20, cfg.Registry.DefaultLimit)

	max, initial, err := cfg.Engine.Supply()
	require.NoError(t, err)
	assert.Equal(t, domain.Tokens(500), max)
	assert.Equal(t, domain.Amount(10_500_000), initial)
}

func TestSupplyRejectsBadAmounts(t *testing.T) {
	cfg := EngineConfig{MaxSupply: "lots"}
	_, _, err := cfg.Supply()
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), ".env")))

	os.Unsetenv("TEST_DOTENV_VALUE")
	path := writeFile(t, ".env", "TEST_DOTENV_VALUE=loaded\n")
	require.NoError(t, LoadEnv(path))
	t.Cleanup(func() { os.Unsetenv("TEST_DOTENV_VALUE") })
	assert.Equal(t, "loaded", os.Getenv("TEST_DOTENV_VALUE"))
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/staked-tictactoe/internal/domain"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sync     SyncConfig     `yaml:"sync"`
	Engine   EngineConfig   `yaml:"engine"`
	Registry RegistryConfig `yaml:"registry"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	CommandTopic  string        `yaml:"command_topic"`
	EventTopic    string        `yaml:"event_topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds synchronization worker configuration
type SyncConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// EngineConfig holds the ledger and match engine parameters.
// Supply values are decimal token amounts, e.g. "1000000000".
type EngineConfig struct {
	Owner         string `yaml:"owner"`
	Escrow        string `yaml:"escrow"`
	Treasury      string `yaml:"treasury"`
	FeeBps        uint64 `yaml:"fee_bps"`
	MaxSupply     string `yaml:"max_supply"`
	InitialSupply string `yaml:"initial_supply"`
	PayoutMode    string `yaml:"payout_mode"`
	AutoApprove   *bool  `yaml:"auto_approve"`
	ChainID       string `yaml:"chain_id"`
	NotifyBuffer  int    `yaml:"notify_buffer"`
}

// Supply parses the configured supply limits.
func (c *EngineConfig) Supply() (max, initial domain.Amount, err error) {
	max, err = domain.ParseAmount(c.MaxSupply)
	if err != nil {
		return 0, 0, fmt.Errorf("engine.max_supply: %w", err)
	}
	if c.InitialSupply == "" {
		return max, 0, nil
	}
	initial, err = domain.ParseAmount(c.InitialSupply)
	if err != nil {
		return 0, 0, fmt.Errorf("engine.initial_supply: %w", err)
	}
	return max, initial, nil
}

// AutoApproveEnabled reports whether stakes skip the escrow allowance check.
func (c *EngineConfig) AutoApproveEnabled() bool {
	return c.AutoApprove == nil || *c.AutoApprove
}

// RegistryConfig holds match listing configuration
type RegistryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// SessionConfig holds presence and shared session slot configuration
type SessionConfig struct {
	PresenceTTL time.Duration `yaml:"presence_ttl"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
}

// LoadEnv loads variables from a .env file if one exists.
// Variables already set in the environment win.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.CommandTopic == "" {
		c.Kafka.CommandTopic = "match-commands"
	}
	if c.Kafka.EventTopic == "" {
		c.Kafka.EventTopic = "match-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "match-engine"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Second
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}

	// Engine defaults
	if c.Engine.Owner == "" {
		c.Engine.Owner = "0x0000000000000000000000000000000000000001"
	}
	if c.Engine.Escrow == "" {
		c.Engine.Escrow = "0x000000000000000000000000000000000000e5c0"
	}
	if c.Engine.Treasury == "" {
		c.Engine.Treasury = c.Engine.Owner
	}
	if c.Engine.FeeBps == 0 {
		c.Engine.FeeBps = 250
	}
	if c.Engine.MaxSupply == "" {
		c.Engine.MaxSupply = "1000000000"
	}
	if c.Engine.InitialSupply == "" {
		c.Engine.InitialSupply = "1000000"
	}
	if c.Engine.PayoutMode == "" {
		c.Engine.PayoutMode = "claim"
	}
	c.Engine.PayoutMode = strings.ToLower(c.Engine.PayoutMode)
	if c.Engine.NotifyBuffer == 0 {
		c.Engine.NotifyBuffer = 256
	}

	// Registry defaults
	if c.Registry.DefaultLimit == 0 {
		c.Registry.DefaultLimit = 20
	}
	if c.Registry.MaxLimit == 0 {
		c.Registry.MaxLimit = 100
	}

	// Session defaults
	if c.Session.PresenceTTL == 0 {
		c.Session.PresenceTTL = 30 * time.Second
	}
	if c.Session.SnapshotTTL == 0 {
		c.Session.SnapshotTTL = 24 * time.Hour
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}


package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/engine"
	"github.com/staked-tictactoe/internal/handler"
	"github.com/staked-tictactoe/internal/kafka"
	"github.com/staked-tictactoe/internal/ledger"
	"github.com/staked-tictactoe/internal/postgres"
	"github.com/staked-tictactoe/internal/redis"
	"github.com/staked-tictactoe/internal/service"
	"github.com/staked-tictactoe/internal/websocket"
	"github.com/staked-tictactoe/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to an optional .env file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := config.LoadEnv(*envPath); err != nil {
		logger.Warn("failed to load env file", "error", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the ledger and the match engine
	maxSupply, initialSupply, err := cfg.Engine.Supply()
	if err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}
	tokenLedger, err := ledger.New(ledger.Config{
		Owner:         cfg.Engine.Owner,
		MaxSupply:     maxSupply,
		InitialSupply: initialSupply,
	}, logger)
	if err != nil {
		logger.Error("failed to create ledger", "error", err)
		os.Exit(1)
	}

	matchEngine, err := engine.New(engine.Config{
		EscrowAddress:    cfg.Engine.Escrow,
		TreasuryAddress:  cfg.Engine.Treasury,
		FeeBps:           cfg.Engine.FeeBps,
		PayoutMode:       engine.PayoutMode(cfg.Engine.PayoutMode),
		AutoApprove:      cfg.Engine.AutoApproveEnabled(),
		DefaultListLimit: cfg.Registry.DefaultLimit,
		MaxListLimit:     cfg.Registry.MaxLimit,
		NotifyBuffer:     cfg.Engine.NotifyBuffer,
	}, tokenLedger, logger)
	if err != nil {
		logger.Error("failed to create match engine", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	matchCache := redis.NewMatchCache(redisClient, logger)
	defer matchCache.Close()
	sessions := redis.NewSessionStore(redisClient, &cfg.Session, logger)
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Restore the engine before it serves anything
	syncWorker := worker.NewSyncWorker(
		matchEngine,
		postgresRepo,
		matchCache,
		&cfg.Sync,
		logger,
	)
	if err := syncWorker.SyncAllFromDatabase(ctx); err != nil {
		logger.Error("failed to restore state from database", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger, cfg.Server.AllowedOrigins)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	matchService := service.NewMatchService(
		matchEngine,
		postgresRepo,
		matchCache,
		&cfg.Registry,
		logger,
	)
	matchService.SetHub(wsHub)
	matchService.SetSessions(sessions)

	// Kafka carries match events out and batched commands in
	var (
		kafkaConsumer  *kafka.Consumer
		kafkaPublisher *kafka.Publisher
	)
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka",
			"brokers", cfg.Kafka.Brokers,
			"command_topic", cfg.Kafka.CommandTopic,
			"event_topic", cfg.Kafka.EventTopic,
		)

		kafkaPublisher, err = kafka.NewPublisher(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka publisher, continuing without event stream", "error", err)
			kafkaPublisher = nil
		} else {
			matchService.SetPublisher(kafkaPublisher)
		}

		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, matchService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Fan engine notifications out to the cache, hub and event stream
	fanoutDone := make(chan struct{})
	go func() {
		defer close(fanoutDone)
		matchService.Run(ctx)
	}()

	// Start sync worker
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(matchService, wsHub, handler.Options{
		ChainID:        cfg.Engine.ChainID,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"payout_mode", cfg.Engine.PayoutMode,
			"fee_bps", cfg.Engine.FeeBps,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop taking requests before the final flush
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop sync worker, flushing once more
	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	cancel()
	<-fanoutDone

	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}

	// Stop WebSocket hub
	wsHub.Stop()

	logger.Info("server stopped")
}

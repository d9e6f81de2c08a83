package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/staked-tictactoe/internal/client"
	"github.com/staked-tictactoe/internal/domain"
	"github.com/staked-tictactoe/internal/kafka"
	"github.com/staked-tictactoe/internal/mirror"
)

const maxMoveFailures = 3

// stats counts what the bots did
type stats struct {
	games  atomic.Int64
	wins   atomic.Int64
	draws  atomic.Int64
	moves  atomic.Int64
	errors atomic.Int64
}

// commandEngine submits moves on the command topic and waits for the engine
// to apply them, reading state over HTTP.
type commandEngine struct {
	*client.Client

	producer sarama.AsyncProducer
	topic    string
	timeout  time.Duration
}

func (e *commandEngine) SubmitMove(ctx context.Context, caller string, id uint64, position int) (domain.Winner, error) {
	before, err := e.GetMatch(ctx, id)
	if err != nil {
		return domain.WinnerNone, err
	}

	msg, err := kafka.EncodeCommand(e.topic, domain.Command{
		ID:        uuid.NewString(),
		Type:      domain.CommandMove,
		Caller:    caller,
		MatchID:   id,
		Position:  position,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return domain.WinnerNone, err
	}
	select {
	case e.producer.Input() <- msg:
	case <-ctx.Done():
		return domain.WinnerNone, ctx.Err()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(e.timeout)
	for {
		select {
		case <-ctx.Done():
			return domain.WinnerNone, ctx.Err()
		case <-deadline:
			// Rejected commands are dropped by the consumer and look the same.
			return domain.WinnerNone, fmt.Errorf("%w: move on match %d not applied within %s", domain.ErrEngineUnreachable, id, e.timeout)
		case <-ticker.C:
			m, err := e.GetMatch(ctx, id)
			if err != nil {
				return domain.WinnerNone, err
			}
			if m.Version > before.Version {
				return m.Winner, nil
			}
		}
	}
}

type bot struct {
	api    *client.Client
	engine mirror.Engine
	slot   mirror.Slot
	stake  domain.Amount
	games  int
	think  time.Duration
	stats  *stats
	logger *slog.Logger
}

// playPair runs games between two bot addresses, alternating who opens
func (b *bot) playPair(ctx context.Context, pair int) error {
	players := [2]string{
		fmt.Sprintf("0xbot%04da", pair),
		fmt.Sprintf("0xbot%04db", pair),
	}

	for game := 0; game < b.games; game++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		x, o := players[game%2], players[(game+1)%2]
		if err := b.playGame(ctx, x, o); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			b.stats.errors.Add(1)
			b.logger.Warn("game failed", "pair", pair, "game", game, "error", err)
		}
	}
	return nil
}

func (b *bot) playGame(ctx context.Context, x, o string) error {
	m, err := b.api.CreateMatch(ctx, x, b.stake)
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	if _, err := b.api.JoinMatch(ctx, o, m.ID, b.stake); err != nil {
		return fmt.Errorf("joining match %d: %w", m.ID, err)
	}

	session := fmt.Sprintf("match-%d", m.ID)
	mirrors := make(map[domain.Cell]*mirror.Mirror, 2)
	for mark, player := range map[domain.Cell]string{domain.CellX: x, domain.CellO: o} {
		mx, err := mirror.New(ctx, b.engine, b.slot, session, player, m.ID, b.logger)
		if err != nil {
			return err
		}
		mirrors[mark] = mx
	}

	var final domain.Match
	for failures := 0; ; {
		watcher := mirrors[domain.CellX]
		if err := watcher.Refresh(ctx); err != nil {
			return err
		}
		state := watcher.State()
		if state.Match.Status == domain.StatusSettled {
			final = state.Match
			break
		}

		mover := mirrors[state.Match.CurrentMover]
		if err := mover.Refresh(ctx); err != nil {
			return err
		}
		pos := pickCell(mover.State().Match.Board)

		if b.think > 0 {
			select {
			case <-time.After(time.Duration(rand.Int63n(int64(b.think)))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if _, err := mover.Tap(ctx, pos); err != nil {
			if !domain.IsRejection(err) && !errors.Is(err, domain.ErrEngineUnreachable) {
				return err
			}
			if failures++; failures >= maxMoveFailures {
				return fmt.Errorf("match %d: giving up after %d failed moves: %w", m.ID, failures, err)
			}
			b.logger.Debug("move not applied", "match_id", m.ID, "position", pos, "error", err)
			continue
		}
		failures = 0
		b.stats.moves.Add(1)
	}

	b.stats.games.Add(1)
	if !final.Winner.Decisive() {
		b.stats.draws.Add(1)
		return nil
	}
	b.stats.wins.Add(1)

	if final.Claimed {
		return nil
	}
	if _, err := b.api.ClaimWinnings(ctx, final.WinnerAddress(), final.ID); err != nil && !errors.Is(err, domain.ErrAlreadyClaimed) {
		return fmt.Errorf("claiming match %d: %w", final.ID, err)
	}
	return nil
}

func pickCell(board domain.Board) int {
	var empty []int
	for i, c := range board {
		if c == domain.CellEmpty {
			empty = append(empty, i)
		}
	}
	if len(empty) == 0 {
		return 0
	}
	return empty[rand.Intn(len(empty))]
}

func main() {
	// Command line flags
	apiURL := flag.String("api", "http://localhost:8080", "Match engine base URL")
	chainID := flag.String("chain", "", "Chain id header sent with every request")
	owner := flag.String("owner", "0x0000000000000000000000000000000000000001", "Token owner used to fund the bots")
	transport := flag.String("transport", "http", "How moves are submitted: http or kafka")
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-commands", "Kafka command topic")
	pairs := flag.Int("pairs", 10, "Number of concurrent bot pairs")
	games := flag.Int("games", 5, "Games played by each pair")
	stakeFlag := flag.String("stake", "1", "Stake per player, in tokens")
	fundFlag := flag.String("fund", "1000", "Tokens sent to every bot before playing")
	escrow := flag.String("escrow", "", "Escrow address to approve when the engine checks allowances")
	share := flag.Bool("share", false, "Publish mirror snapshots to the match session slot")
	think := flag.Duration("think", 0, "Maximum random delay before each move")
	moveTimeout := flag.Duration("move-timeout", 5*time.Second, "How long to wait for a kafka move to apply")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	stake, err := domain.ParseAmount(*stakeFlag)
	if err != nil {
		logger.Error("invalid stake", "error", err)
		os.Exit(1)
	}
	fund, err := domain.ParseAmount(*fundFlag)
	if err != nil {
		logger.Error("invalid fund amount", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*apiURL, client.WithChainID(*chainID))

	b := &bot{
		api:    api,
		engine: api,
		stake:  stake,
		games:  *games,
		think:  *think,
		stats:  &stats{},
		logger: logger,
	}
	if *share {
		b.slot = api
	}

	var producerWG sync.WaitGroup
	var producer sarama.AsyncProducer
	if *transport == "kafka" {
		config := sarama.NewConfig()
		config.Producer.RequiredAcks = sarama.WaitForLocal
		config.Producer.Compression = sarama.CompressionSnappy
		config.Producer.Flush.Frequency = 10 * time.Millisecond
		config.Producer.Return.Errors = true

		producer, err = sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
		if err != nil {
			logger.Error("failed to create producer", "error", err)
			os.Exit(1)
		}

		producerWG.Add(1)
		go func() {
			defer producerWG.Done()
			for err := range producer.Errors() {
				b.stats.errors.Add(1)
				logger.Warn("producer error", "error", err)
			}
		}()

		b.engine = &commandEngine{Client: api, producer: producer, topic: *topic, timeout: *moveTimeout}
	}

	logger.Info("starting match bots",
		"api", *apiURL,
		"transport", *transport,
		"pairs", *pairs,
		"games", *games,
		"stake", stake.String(),
	)

	// Fund every bot up front
	for pair := 0; pair < *pairs; pair++ {
		for _, suffix := range []string{"a", "b"} {
			addr := fmt.Sprintf("0xbot%04d%s", pair, suffix)
			if err := api.Faucet(ctx, *owner, addr, fund); err != nil {
				logger.Error("failed to fund bot", "address", addr, "error", err)
				os.Exit(1)
			}
			if *escrow == "" {
				continue
			}
			if err := api.Approve(ctx, addr, *escrow, fund); err != nil {
				logger.Error("failed to approve escrow", "address", addr, "error", err)
				os.Exit(1)
			}
		}
	}

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for pair := 0; pair < *pairs; pair++ {
		g.Go(func() error {
			return b.playPair(gctx, pair)
		})
	}

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	for waiting := true; waiting; {
		select {
		case err := <-done:
			if err != nil {
				logger.Error("bots stopped", "error", err)
			}
			waiting = false
		case <-statsTicker.C:
			logger.Info("progress",
				"games", b.stats.games.Load(),
				"moves", b.stats.moves.Load(),
				"errors", b.stats.errors.Load(),
			)
		}
	}

	if producer != nil {
		producer.AsyncClose()
		producerWG.Wait()
	}

	logger.Info("completed",
		"duration", time.Since(started).Round(time.Millisecond),
		"games", b.stats.games.Load(),
		"wins", b.stats.wins.Load(),
		"draws", b.stats.draws.Load(),
		"moves", b.stats.moves.Load(),
		"errors", b.stats.errors.Load(),
	)
}

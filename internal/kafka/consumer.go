package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
)

// CommandHandler executes engine commands
type CommandHandler interface {
	ExecuteBatch(ctx context.Context, cmds []domain.Command) error
}

// Consumer consumes match commands from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       CommandHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler CommandHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.CommandTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.CommandTopic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim executes commands in batches. Offsets are marked only after
// the batch that contains them ran. A batch that times out ends the claim
// unmarked so the group redelivers it. A rejected command is logged by the
// handler and never redelivered.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger.With("partition", claim.Partition())

	batch := make([]domain.Command, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage

	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() error {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := h.consumer.handler.ExecuteBatch(ctx, batch)
			cancel()
			if err != nil {
				logger.Error("failed to execute command batch", "error", err, "batch_size", len(batch))
				return fmt.Errorf("executing batch ending at offset %d: %w", last.Offset, err)
			}
			logger.Debug("executed command batch", "batch_size", len(batch))
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
		return nil
	}

	for {
		select {
		case <-session.Context().Done():
			return flush()

		case <-batchTimer.C:
			if err := flush(); err != nil {
				return err
			}
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			last = message

			cmd, err := DecodeCommand(message.Value)
			if err != nil {
				logger.Warn("dropping command", "error", err, "offset", message.Offset)
				continue
			}
			if cmd.Timestamp.IsZero() {
				cmd.Timestamp = message.Timestamp
			}

			batch = append(batch, cmd)
			if len(batch) >= cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// DecodeCommand parses and validates a command message
func DecodeCommand(data []byte) (domain.Command, error) {
	var cmd domain.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	cmd.Normalize()
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// EncodeCommand builds the producer message for a command, keyed by match
// so commands for one match stay ordered on a partition.
func EncodeCommand(topic string, cmd domain.Command) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	key := cmd.Caller
	if cmd.MatchID != 0 {
		key = strconv.FormatUint(cmd.MatchID, 10)
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}, nil
}

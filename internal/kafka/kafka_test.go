package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staked-tictactoe/internal/config"
	"github.com/staked-tictactoe/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingHandler struct {
	mu      sync.Mutex
	batches [][]domain.Command
	err     error
}

func (r *recordingHandler) ExecuteBatch(_ context.Context, cmds []domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, append([]domain.Command(nil), cmds...))
	return r.err
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32                        { return nil }
func (s *fakeSession) MemberID() string                                  { return "member" }
func (s *fakeSession) GenerationID() int32                               { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)           {}
func (s *fakeSession) Commit()                                           {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)          {}
func (s *fakeSession) Context() context.Context                          { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) { s.marked = append(s.marked, msg.Offset) }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "match-commands" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestDecodeCommand(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"id":"c1","type":"move","caller":"0xALICE","match_id":3,"position":4}`))
	require.NoError(t, err)
	assert.Equal(t, "0xalice", cmd.Caller)
	assert.Equal(t, uint64(3), cmd.MatchID)
	assert.Equal(t, 4, cmd.Position)

	_, err = DecodeCommand([]byte(`{not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = DecodeCommand([]byte(`{"type":"join","caller":"0xbob"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = DecodeCommand([]byte(`{"type":"resign","caller":"0xbob"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestEncodeCommandKeysByMatch(t *testing.T) {
	msg, err := EncodeCommand("match-commands", domain.Command{Type: domain.CommandMove, Caller: "0xalice", MatchID: 12})
	require.NoError(t, err)
	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "12", string(key))

	msg, err = EncodeCommand("match-commands", domain.Command{Type: domain.CommandCreate, Caller: "0xalice"})
	require.NoError(t, err)
	key, err = msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "0xalice", string(key))
}

func TestConsumeClaimBatchesValidCommands(t *testing.T) {
	handler := &recordingHandler{}
	cfg := config.DefaultConfig().Kafka
	cfg.BatchSize = 10
	cfg.BatchTimeout = time.Hour

	c := &Consumer{config: &cfg, handler: handler, logger: testLogger()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	session := &fakeSession{ctx: context.Background()}

	values := []string{
		`{"id":"1","type":"create","caller":"0xalice","stake":1000000}`,
		`garbage`,
		`{"id":"2","type":"faucet","caller":"0xowner","to":"0xbob","amount":5}`,
	}
	for i, v := range values {
		claim.messages <- &sarama.ConsumerMessage{Offset: int64(i), Value: []byte(v), Timestamp: time.Unix(100, 0)}
	}
	close(claim.messages)

	h := &consumerGroupHandler{consumer: c}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{2}, session.marked, "offsets are marked once the batch ran")
	require.Len(t, handler.batches, 1)
	batch := handler.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, domain.CommandCreate, batch[0].Type)
	assert.Equal(t, domain.Amount(1_000_000), batch[0].Stake)
	assert.Equal(t, time.Unix(100, 0), batch[0].Timestamp)
	assert.Equal(t, "0xbob", batch[1].To)
}

func TestConsumeClaimMarksAfterEachBatch(t *testing.T) {
	handler := &recordingHandler{}
	cfg := config.DefaultConfig().Kafka
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Hour

	c := &Consumer{config: &cfg, handler: handler, logger: testLogger()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 5)}
	session := &fakeSession{ctx: context.Background()}

	for i := 0; i < 5; i++ {
		claim.messages <- &sarama.ConsumerMessage{
			Offset: int64(i),
			Value:  []byte(`{"type":"move","caller":"0xalice","match_id":1,"position":` + strconv.Itoa(i) + `}`),
		}
	}
	close(claim.messages)

	h := &consumerGroupHandler{consumer: c}
	require.NoError(t, h.ConsumeClaim(session, claim))

	assert.Equal(t, []int64{1, 3, 4}, session.marked)
	require.Len(t, handler.batches, 3)
	assert.Len(t, handler.batches[2], 1)
	assert.Equal(t, 4, handler.batches[2][0].Position)
}

func TestConsumeClaimLeavesFailedBatchUnmarked(t *testing.T) {
	handler := &recordingHandler{err: context.DeadlineExceeded}
	cfg := config.DefaultConfig().Kafka
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Hour

	c := &Consumer{config: &cfg, handler: handler, logger: testLogger()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	session := &fakeSession{ctx: context.Background()}

	for i := 0; i < 3; i++ {
		claim.messages <- &sarama.ConsumerMessage{
			Offset: int64(i),
			Value:  []byte(`{"type":"move","caller":"0xalice","match_id":1,"position":` + strconv.Itoa(i) + `}`),
		}
	}
	close(claim.messages)

	h := &consumerGroupHandler{consumer: c}
	err := h.ConsumeClaim(session, claim)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, session.marked)
	assert.Len(t, handler.batches, 1, "the claim stops at the failed batch")
}

func TestPublisherSendsKeyedEvents(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev domain.MatchChanged
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.MatchID != 7 || ev.Kind != domain.ChangeSettled || ev.Winner != domain.WinnerO {
			return errors.New("unexpected event payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewPublisherWithProducer(producer, "match-events", testLogger())
	ctx := context.Background()

	ev := domain.MatchChanged{MatchID: 7, Kind: domain.ChangeSettled, Status: domain.StatusSettled, Winner: domain.WinnerO}
	require.NoError(t, p.PublishMatchChanged(ctx, ev))
	assert.ErrorIs(t, p.PublishMatchChanged(ctx, ev), sarama.ErrOutOfBrokers)

	require.NoError(t, p.Close())
}

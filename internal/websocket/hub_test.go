package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/staked-tictactoe/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startHub(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	logger := testLogger()
	hub := NewHub(logger, origins)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestSubscribeReceivesMatchChanges(t *testing.T) {
	hub, url := startHub(t)

	watcher := dial(t, url)
	require.NoError(t, watcher.WriteJSON(map[string]any{"type": MessageTypeSubscribe, "match_id": 7}))
	ack := readMessage(t, watcher)
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, uint64(7), ack.MatchID)

	lobbyConn := dial(t, url)
	require.NoError(t, lobbyConn.WriteJSON(map[string]any{"type": MessageTypeSubscribe, "match_id": 0}))
	assert.Equal(t, "subscribed", readMessage(t, lobbyConn).Type)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(7) == 1 && hub.GetSubscriberCount(lobby) == 1
	}, time.Second, 10*time.Millisecond)

	m := domain.Match{ID: 7, PlayerX: "0xalice", Status: domain.StatusActive, Version: 3}
	hub.BroadcastMatchChanged(domain.MatchChanged{MatchID: 7, Kind: domain.ChangeMoved, Version: 3}, m)

	for _, conn := range []*websocket.Conn{watcher, lobbyConn} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeMatchChanged, msg.Type)
		assert.Equal(t, uint64(7), msg.MatchID)

		raw, err := json.Marshal(msg.Data)
		require.NoError(t, err)
		var update MatchUpdate
		require.NoError(t, json.Unmarshal(raw, &update))
		assert.Equal(t, domain.ChangeMoved, update.Event.Kind)
		assert.Equal(t, domain.StatusActive, update.Match.Status)
	}
}

func TestSubscribeRequiresMatchID(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypeSubscribe}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestOriginCheck(t *testing.T) {
	_, url := startHub(t, "https://play.example")

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://play.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestUnregisterCleansSubscriptions(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypeSubscribe, "match_id": 3}))
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.GetSubscriberCount(3) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(3) == 0 && hub.GetTotalConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBulkSubscribeAndLimit(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	ids := make([]uint64, maxSubscriptions)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypeSubscribe, "match_ids": ids}))
	for _, id := range ids {
		ack := readMessage(t, conn)
		assert.Equal(t, "subscribed", ack.Type)
		assert.Equal(t, id, ack.MatchID)
	}
	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(ids[len(ids)-1]) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypeSubscribe, "match_id": 999}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypeUnsubscribe, "match_id": 1}))
	assert.Equal(t, "unsubscribed", readMessage(t, conn).Type)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": MessageTypeSubscribe, "match_id": 999}))
	assert.Equal(t, "subscribed", readMessage(t, conn).Type)

	require.Eventually(t, func() bool {
		return hub.GetSubscriberCount(1) == 0 && hub.GetSubscriberCount(999) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "shout"}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

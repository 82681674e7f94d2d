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
	"github.com/tournament-engine/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func newTestClient(hub *Hub, id string) *Client {
	return &Client{
		id:     id,
		hub:    hub,
		send:   make(chan []byte, 8),
		logger: hub.logger,
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()

	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHubRoutesEventsToTournamentRoom(t *testing.T) {
	hub := setupHub(t)

	watcher := newTestClient(hub, "watcher")
	other := newTestClient(hub, "other")
	hub.Register(watcher)
	hub.Register(other)
	hub.Subscribe(watcher, "t-1")
	hub.Subscribe(other, "t-2")

	require.Eventually(t, func() bool {
		return hub.SubscriberCount("t-1") == 1 && hub.SubscriberCount("t-2") == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Send(notify.Event{Name: "match:updated", TournamentID: "t-1", Data: "payload"}))

	msg := receive(t, watcher)
	assert.Equal(t, "match:updated", msg.Type)
	assert.Equal(t, "t-1", msg.TournamentID)
	assert.Equal(t, "payload", msg.Data)

	select {
	case <-other.send:
		t.Fatal("client in another room received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcastsGlobalEventsToEveryone(t *testing.T) {
	hub := setupHub(t)

	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")
	hub.Register(a)
	hub.Register(b)
	require.Eventually(t, func() bool { return hub.TotalConnections() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Send(notify.Event{Name: "leaderboard:updated"}))

	assert.Equal(t, "leaderboard:updated", receive(t, a).Type)
	assert.Equal(t, "leaderboard:updated", receive(t, b).Type)
}

func TestHubUnregisterLeavesRooms(t *testing.T) {
	hub := setupHub(t)

	c := newTestClient(hub, "c")
	hub.Register(c)
	hub.Subscribe(c, "t-1")
	require.Eventually(t, func() bool { return hub.SubscriberCount("t-1") == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.TotalConnections() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.SubscriberCount("t-1"))

	_, open := <-c.send
	assert.False(t, open)
}

func TestHubSendFailsWhenQueueFull(t *testing.T) {
	hub := NewHub(testLogger())

	for i := 0; i < cap(hub.broadcast); i++ {
		require.NoError(t, hub.Send(notify.Event{Name: "match:updated"}))
	}
	assert.ErrorIs(t, hub.Send(notify.Event{Name: "match:updated"}), ErrHubBusy)
}

func TestServeWsSubscribeAndReceive(t *testing.T) {
	hub := setupHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, TournamentID: "t-9"}))

	var ack Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack.Type)
	assert.Equal(t, "t-9", ack.TournamentID)

	require.Eventually(t, func() bool { return hub.SubscriberCount("t-9") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, hub.Send(notify.Event{Name: "tournament:started", TournamentID: "t-9"}))

	var event Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "tournament:started", event.Type)
}

func TestServeWsRejectsSubscribeWithoutTournament(t *testing.T) {
	hub := setupHub(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe}))

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeError, msg.Type)
}

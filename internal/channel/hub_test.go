package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/internal/auth"
)

func startTestHub(t *testing.T) (*Hub, *auth.TokenSigner, *httptest.Server) {
	t.Helper()
	signer := auth.NewTokenSigner("hub-test-secret")
	hub := NewHub(signer, 100, 0)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		clientCtx, clientCancel := context.WithCancel(context.Background())
		client := NewClient(hub, conn, uuid.New().String())
		client.Start(clientCtx, clientCancel)
		hub.Register(client)
	}))
	t.Cleanup(srv.Close)
	return hub, signer, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) OutgoingFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame OutgoingFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame
}

func connect(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	conn := dial(t, srv)
	frame := readFrame(t, conn)
	require.Equal(t, FrameConnectionEstablished, frame.Type)
	payload, ok := frame.Payload.(map[string]any)
	require.True(t, ok)
	socketID, _ := payload["socket_id"].(string)
	require.NotEmpty(t, socketID)
	return conn, socketID
}

func subscribe(t *testing.T, conn *websocket.Conn, channelName, token string) OutgoingFrame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(IncomingFrame{Type: FrameSubscribe, Channel: channelName, Auth: token}))
	return readFrame(t, conn)
}

func waitSubscribers(t *testing.T, hub *Hub, channelName string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Subscribers(channelName) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, hub.Subscribers(channelName))
}

func TestSendBufferSizeIsConfigurable(t *testing.T) {
	hub := NewHub(nil, 10, 8)
	c := NewClient(hub, nil, "sock")
	assert.Equal(t, 8, cap(c.send))

	hub = NewHub(nil, 10, 0)
	c = NewClient(hub, nil, "sock")
	assert.Equal(t, defaultSendBufSize, cap(c.send))
}

func TestPrivateSubscribeAndFanout(t *testing.T) {
	hub, signer, srv := startTestHub(t)
	ch := ForProject("42")

	conn, socketID := connect(t, srv)
	token, err := signer.SignSubscribeToken("user-1", socketID, ch)
	require.NoError(t, err)

	ack := subscribe(t, conn, ch, token)
	assert.Equal(t, FrameSubscriptionSucceeded, ack.Type)
	assert.Equal(t, ch, ack.Channel)

	// A second connected but unsubscribed client must not receive the event.
	other, _ := connect(t, srv)
	_ = other

	n := hub.Publish(ch, EventProgressUpdate, ProgressUpdatePayload{Value: 55, AuthorID: "user-1", At: time.Now()})
	assert.Equal(t, 1, n)

	frame := readFrame(t, conn)
	assert.Equal(t, FrameEvent, frame.Type)
	assert.Equal(t, ch, frame.Channel)
	assert.Equal(t, EventProgressUpdate, frame.Event)
}

func TestSubscribeRejectedBadToken(t *testing.T) {
	hub, _, srv := startTestHub(t)
	ch := ForProject("42")

	conn, _ := connect(t, srv)
	resp := subscribe(t, conn, ch, "garbage")
	assert.Equal(t, FrameError, resp.Type)
	assert.Equal(t, 0, hub.Subscribers(ch))
	assert.Equal(t, 0, hub.Publish(ch, EventMessageCreated, nil))
}

func TestSubscribeTokenBoundToSocket(t *testing.T) {
	hub, signer, srv := startTestHub(t)
	ch := ForProject("42")

	conn, _ := connect(t, srv)
	// Token signed for a different socket must be rejected.
	token, err := signer.SignSubscribeToken("user-1", "some-other-socket", ch)
	require.NoError(t, err)

	resp := subscribe(t, conn, ch, token)
	assert.Equal(t, FrameError, resp.Type)
	assert.Equal(t, 0, hub.Subscribers(ch))
}

func TestResubscribeIsNoOp(t *testing.T) {
	hub, signer, srv := startTestHub(t)
	ch := ForProject("7")

	conn, socketID := connect(t, srv)
	token, err := signer.SignSubscribeToken("user-1", socketID, ch)
	require.NoError(t, err)

	ack := subscribe(t, conn, ch, token)
	require.Equal(t, FrameSubscriptionSucceeded, ack.Type)
	ack = subscribe(t, conn, ch, token)
	require.Equal(t, FrameSubscriptionSucceeded, ack.Type)

	assert.Equal(t, 1, hub.Subscribers(ch))
	assert.Equal(t, 1, hub.Publish(ch, EventMessageCreated, nil))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, signer, srv := startTestHub(t)
	ch := ForProject("7")

	conn, socketID := connect(t, srv)
	token, err := signer.SignSubscribeToken("user-1", socketID, ch)
	require.NoError(t, err)
	ack := subscribe(t, conn, ch, token)
	require.Equal(t, FrameSubscriptionSucceeded, ack.Type)

	require.NoError(t, conn.WriteJSON(IncomingFrame{Type: FrameUnsubscribe, Channel: ch}))
	waitSubscribers(t, hub, ch, 0)
	assert.Equal(t, 0, hub.Publish(ch, EventMessageCreated, nil))
}

func TestPublicChannelNeedsNoToken(t *testing.T) {
	hub, _, srv := startTestHub(t)

	conn, _ := connect(t, srv)
	ack := subscribe(t, conn, "announcements", "")
	assert.Equal(t, FrameSubscriptionSucceeded, ack.Type)
	assert.Equal(t, 1, hub.Subscribers("announcements"))
}

func TestDisconnectRemovesSubscriptions(t *testing.T) {
	hub, signer, srv := startTestHub(t)
	ch := ForProject("9")

	conn, socketID := connect(t, srv)
	token, err := signer.SignSubscribeToken("user-1", socketID, ch)
	require.NoError(t, err)
	ack := subscribe(t, conn, ch, token)
	require.Equal(t, FrameSubscriptionSucceeded, ack.Type)

	conn.Close()
	waitSubscribers(t, hub, ch, 0)
}

package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/chatrelay/internal/chat"
	"github.com/cory-johannsen/chatrelay/internal/config"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *Hub, *chat.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := chat.NewStore()
	hub := NewHub(logger)
	coord := chat.NewCoordinator(store, hub, []string{"lobby", "general", "random"}, logger)
	return NewServer(cfg, hub, coord, logger), hub, store
}

func TestDispatch_JoinHappyPath(t *testing.T) {
	s, hub, store := newTestServer(t, testServerConfig())
	c := addTestClient(t, hub, "c1")

	s.dispatch("c1", []byte(`{"event":"join","data":{"room":"lobby","name":"Alice"}}`))

	// Join notice is broadcast to the room first, then the private move ack.
	env := recvFrame(t, c)
	assert.Equal(t, chat.EventMessage, env.Event)
	var msg chat.MessageEvent
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, chat.SystemAuthor, msg.Author)
	assert.Equal(t, "Alice joined the room", msg.Text)

	env = recvFrame(t, c)
	assert.Equal(t, chat.EventMove, env.Event)
	var move chat.MoveEvent
	require.NoError(t, json.Unmarshal(env.Data, &move))
	assert.Equal(t, "lobby", move.Room)

	user, ok := store.GetUser("c1")
	require.True(t, ok)
	assert.Equal(t, "lobby", user.CurrentRoom())
}

func TestDispatch_ValidationFailureIsPrivate(t *testing.T) {
	s, hub, store := newTestServer(t, testServerConfig())
	c := addTestClient(t, hub, "c1")

	s.dispatch("c1", []byte(`{"event":"join","data":{"room":"lobby","name":""}}`))

	env := recvFrame(t, c)
	assert.Equal(t, chat.EventError, env.Event)
	var errEvt chat.ErrorEvent
	require.NoError(t, json.Unmarshal(env.Data, &errEvt))
	assert.Equal(t, "name is not specified", errEvt.Message)

	assert.Equal(t, 0, store.UserCount())
}

func TestDispatch_UnknownEvent(t *testing.T) {
	s, hub, _ := newTestServer(t, testServerConfig())
	c := addTestClient(t, hub, "c1")

	s.dispatch("c1", []byte(`{"event":"teleport"}`))

	env := recvFrame(t, c)
	assert.Equal(t, chat.EventError, env.Event)
	var errEvt chat.ErrorEvent
	require.NoError(t, json.Unmarshal(env.Data, &errEvt))
	assert.Contains(t, errEvt.Message, "teleport")
}

func TestDispatch_MalformedFrame(t *testing.T) {
	s, hub, _ := newTestServer(t, testServerConfig())
	c := addTestClient(t, hub, "c1")

	s.dispatch("c1", []byte(`{broken`))

	env := recvFrame(t, c)
	assert.Equal(t, chat.EventError, env.Event)
}

func TestDispatch_MissingPayload(t *testing.T) {
	s, hub, _ := newTestServer(t, testServerConfig())
	c := addTestClient(t, hub, "c1")

	s.dispatch("c1", []byte(`{"event":"send_message"}`))

	env := recvFrame(t, c)
	assert.Equal(t, chat.EventError, env.Event)
}

// wsSession wraps a dialed client connection for the end-to-end test.
type wsSession struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSession(t *testing.T, url string) *wsSession {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsSession{t: t, conn: conn}
}

func (s *wsSession) emit(event string, data any) {
	s.t.Helper()
	payload := map[string]any{"event": event}
	if data != nil {
		payload["data"] = data
	}
	require.NoError(s.t, s.conn.WriteJSON(payload))
}

func (s *wsSession) expect(event string) json.RawMessage {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := s.conn.ReadMessage()
	require.NoError(s.t, err)
	env, err := DecodeEnvelope(frame)
	require.NoError(s.t, err)
	require.Equal(s.t, event, env.Event, "frame: %s", frame)
	return env.Data
}

func TestServer_EndToEnd(t *testing.T) {
	cfg := testServerConfig()
	cfg.PingInterval = time.Second
	cfg.PongTimeout = 5 * time.Second
	s, _, store := newTestServer(t, cfg)

	httpSrv := httptest.NewServer(s.routes())
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"

	alice := dialSession(t, wsURL)
	alice.expect(chat.EventConnect)

	alice.emit(chat.EventGetRooms, nil)
	var rooms []string
	require.NoError(t, json.Unmarshal(alice.expect(chat.EventRooms), &rooms))
	assert.Equal(t, []string{"lobby", "general", "random"}, rooms)

	alice.emit(chat.EventJoin, chat.JoinRequest{Room: "lobby", Name: "Alice"})
	var joined chat.MessageEvent
	require.NoError(t, json.Unmarshal(alice.expect(chat.EventMessage), &joined))
	assert.Equal(t, "Alice joined the room", joined.Text)
	alice.expect(chat.EventMove)

	bob := dialSession(t, wsURL)
	bob.expect(chat.EventConnect)
	bob.emit(chat.EventJoin, chat.JoinRequest{Room: "lobby", Name: "Bob"})
	bob.expect(chat.EventMessage) // Bob joined the room
	bob.expect(chat.EventMove)
	var bobJoined chat.MessageEvent
	require.NoError(t, json.Unmarshal(alice.expect(chat.EventMessage), &bobJoined))
	assert.Equal(t, "Bob joined the room", bobJoined.Text)

	alice.emit(chat.EventSendMessage, chat.SendMessageRequest{Text: "hi"})
	var got chat.MessageEvent
	require.NoError(t, json.Unmarshal(alice.expect(chat.EventMessage), &got))
	assert.Equal(t, chat.MessageEvent{Author: "Alice", Text: "hi"}, got)
	require.NoError(t, json.Unmarshal(bob.expect(chat.EventMessage), &got))
	assert.Equal(t, chat.MessageEvent{Author: "Alice", Text: "hi"}, got)

	// Bob leaves: both see the departure, Bob included (still subscribed at
	// broadcast time).
	bob.emit(chat.EventLeave, nil)
	var left chat.MessageEvent
	require.NoError(t, json.Unmarshal(bob.expect(chat.EventMessage), &left))
	assert.Equal(t, "Bob left the room", left.Text)
	require.NoError(t, json.Unmarshal(alice.expect(chat.EventMessage), &left))
	assert.Equal(t, "Bob left the room", left.Text)

	// Bob drops the connection entirely; Alice sees the disconnect notice and
	// the user record goes away.
	require.NoError(t, bob.conn.Close())
	require.Eventually(t, func() bool {
		return store.UserCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

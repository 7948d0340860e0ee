package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/chatrelay/internal/chat"
	"github.com/cory-johannsen/chatrelay/internal/config"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
		WriteTimeout:    time.Second,
		PingInterval:    50 * time.Millisecond,
		PongTimeout:     200 * time.Millisecond,
		MaxMessageBytes: 1024,
		SendBuffer:      8,
	}
}

// addTestClient registers a connection-less client so delivery can be observed
// on its send channel.
func addTestClient(t *testing.T, h *Hub, id string) *client {
	t.Helper()
	c := newClient(id, nil, testServerConfig(), zaptest.NewLogger(t))
	h.register(c)
	return c
}

func recvFrame(t *testing.T, c *client) Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatalf("client %s received no frame", c.id)
		return Envelope{}
	}
}

func assertNoFrame(t *testing.T, c *client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("client %s unexpectedly received %s", c.id, frame)
	default:
	}
}

func TestHub_SendToConnection(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a := addTestClient(t, h, "a")
	b := addTestClient(t, h, "b")

	h.SendToConnection("a", chat.EventConnect, nil)

	env := recvFrame(t, a)
	assert.Equal(t, chat.EventConnect, env.Event)
	assertNoFrame(t, b)
}

func TestHub_SendToUnknownConnection(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	h.SendToConnection("ghost", chat.EventConnect, nil) // no-op
	assert.Equal(t, 0, h.ConnectionCount())
}

func TestHub_BroadcastTargetsRoomOnly(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a := addTestClient(t, h, "a")
	b := addTestClient(t, h, "b")
	c := addTestClient(t, h, "c")

	h.Subscribe("a", "lobby")
	h.Subscribe("b", "lobby")
	h.Subscribe("c", "general")

	h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{Author: "Alice", Text: "hi"})

	assert.Equal(t, chat.EventMessage, recvFrame(t, a).Event)
	assert.Equal(t, chat.EventMessage, recvFrame(t, b).Event)
	assertNoFrame(t, c)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a := addTestClient(t, h, "a")
	b := addTestClient(t, h, "b")
	h.Subscribe("a", "lobby")
	h.Subscribe("b", "lobby")

	h.Unsubscribe("b", "lobby")
	h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{Author: "Alice", Text: "hi"})

	assert.Equal(t, chat.EventMessage, recvFrame(t, a).Event)
	assertNoFrame(t, b)
}

func TestHub_BroadcastToEmptyRoom(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	h.BroadcastToRoom("nowhere", chat.EventMessage, chat.MessageEvent{}) // no-op
}

func TestHub_SubscribeUnknownConnection(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	h.Subscribe("ghost", "lobby")
	h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{}) // nothing to deliver
}

func TestHub_UnregisterRemovesAllSubscriptions(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	a := addTestClient(t, h, "a")
	h.Subscribe("a", "lobby")

	h.unregister("a")
	assert.Equal(t, 0, h.ConnectionCount())

	select {
	case <-a.done:
	default:
		t.Fatal("unregister must close the client so the write pump exits")
	}

	h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{}) // must not panic
	h.unregister("a")                                                  // idempotent

	// Delivery to a closed client is a silent no-op.
	h.deliver(a, chat.EventMessage, []byte(`{"event":"message"}`))
	assertNoFrame(t, a)
}

func TestHub_ConcurrentBroadcastAndUnregister(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))
	const n = 200

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		h.register(newClient(id, nil, testServerConfig(), zaptest.NewLogger(t)))
		h.Subscribe(id, "lobby")
	}

	// Broadcasters snapshot the member list before delivering, so they race
	// the unregister wave below. Neither side may panic.
	stop := make(chan struct{})
	var broadcasters sync.WaitGroup
	for i := 0; i < 4; i++ {
		broadcasters.Add(1)
		go func() {
			defer broadcasters.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{Author: "Alice", Text: "hi"})
				}
			}
		}()
	}

	var unregisters sync.WaitGroup
	for i := 0; i < n; i++ {
		unregisters.Add(1)
		go func(i int) {
			defer unregisters.Done()
			h.unregister(fmt.Sprintf("c%d", i))
		}(i)
	}
	unregisters.Wait()
	close(stop)
	broadcasters.Wait()

	assert.Equal(t, 0, h.ConnectionCount())
}

func TestHub_FullBufferDropsConnection(t *testing.T) {
	h := NewHub(zaptest.NewLogger(t))

	cfg := testServerConfig()
	cfg.SendBuffer = 1
	slow := newClient("slow", nil, cfg, zaptest.NewLogger(t))
	h.register(slow)
	h.Subscribe("slow", "lobby")

	h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{Text: "one"})
	// Buffer is now full; the next delivery drops the connection instead of
	// blocking the room.
	h.BroadcastToRoom("lobby", chat.EventMessage, chat.MessageEvent{Text: "two"})

	env := recvFrame(t, slow)
	assert.Equal(t, chat.EventMessage, env.Event)
	assertNoFrame(t, slow)
}

package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/config"
)

// client is one WebSocket connection with its outbound queue. The read pump
// dispatches inbound frames one at a time, preserving the per-connection FIFO
// ordering the coordinator relies on; the write pump drains the queue and
// keeps the connection alive with pings.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	cfg    config.ServerConfig
	logger *zap.Logger

	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, cfg config.ServerConfig, logger *zap.Logger) *client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageBytes)
	}
	return &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger.With(zap.String("connection_id", id)),
	}
}

// enqueue queues a frame for the write pump without blocking. The send channel
// is never closed; teardown is signalled through done, so a broadcast racing a
// disconnect degrades to a silent no-op instead of a send on a closed channel.
//
// Postcondition: Returns false when the send buffer is full; the caller is
// expected to drop the connection.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// close tears the connection down once. Safe to call from any goroutine; the
// done channel stops the write pump and the read pump unblocks with an error
// and runs the disconnect path.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				c.logger.Debug("closing connection", zap.Error(err))
			}
		}
	})
}

// readPump reads frames and hands each to dispatch until the connection drops.
//
// Precondition: must run on its own goroutine, one per connection.
func (c *client) readPump(dispatch func(connID string, raw []byte)) {
	defer c.close()

	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout)); err != nil {
		c.logger.Warn("setting read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Warn("read failed", zap.Error(err))
			} else {
				c.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		dispatch(c.id, raw)
	}
}

// writePump drains the send queue and emits keepalive pings. It exits when the
// client is closed or a write fails.
//
// Precondition: must run on its own goroutine, one per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Warn("setting write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Warn("setting write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

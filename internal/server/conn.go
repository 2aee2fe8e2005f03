package server

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardsync/internal/wire"
)

// Outbound buffer per connection. A member that cannot drain this many
// pending messages is dropped; reconnecting with a fresh snapshot is cheaper
// than letting one slow consumer stall a room.
const sendBuffer = 256

// Base64 image payloads dominate frame size; anything bigger than this is
// hostile.
const maxFrameBytes = 8 << 20

// wsClient pumps frames between one websocket and the session registry. It
// implements session.Sender; Send never blocks the room that is
// broadcasting.
type wsClient struct {
	conn   *websocket.Conn
	logger *zap.Logger

	send      chan []byte
	closeOnce sync.Once
	dropped   atomic.Bool
}

func newWSClient(conn *websocket.Conn, logger *zap.Logger) *wsClient {
	return &wsClient{
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, sendBuffer),
	}
}

// Send queues a message for delivery. When the buffer is full the underlying
// socket is closed and the client marked dropped; broadcasts racing with the
// drop are discarded here. The read pump stays the sole owner of
// close(c.send), so a drop can never panic a later broadcast.
func (c *wsClient) Send(m wire.Message) {
	if c.dropped.Load() {
		return
	}
	data, err := wire.Encode(m)
	if err != nil {
		c.logger.Error("encode failed", zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	default:
		if c.dropped.CompareAndSwap(false, true) {
			c.logger.Warn("send buffer full, dropping connection",
				zap.String("remote", c.conn.RemoteAddr().String()))
			c.conn.Close()
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// writePump drains the send queue onto the socket. It owns all writes.
func (c *wsClient) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Debug("write failed", zap.Error(err))
			break
		}
	}
	c.conn.Close()
}

// readPump feeds inbound frames to handle until the connection dies, then
// runs cleanup. cleanup unregisters the client from its room first, so by the
// time the queue is closed no broadcast can still target this client.
func (c *wsClient) readPump(handle func(raw []byte), cleanup func()) {
	defer func() {
		cleanup()
		c.close()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameBytes)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection closed abnormally", zap.Error(err))
			}
			return
		}
		handle(data)
	}
}

package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Compile-time interface check.
var _ Channel = (*WebSocketChannel)(nil)

const wsWriteTimeout = 10 * time.Second

// WebSocketChannel adapts a WebSocket connection into a Channel, for
// widgets that run out-of-frame and talk to their host over a socket
// instead of a browser messaging pipe. The origin label should be the
// Origin header observed during the handshake; peers without one report
// an empty origin.
type WebSocketChannel struct {
	conn   *websocket.Conn
	origin string

	writeMu sync.Mutex
	readOne sync.Once
	closeMu sync.Mutex
	closed  bool
	done    chan struct{}
	fn      func(Message)
}

// NewWebSocketChannel wraps an established connection.
func NewWebSocketChannel(conn *websocket.Conn, origin string) *WebSocketChannel {
	return &WebSocketChannel{conn: conn, origin: origin, done: make(chan struct{})}
}

// Wait blocks until the channel is closed, by either side.
func (c *WebSocketChannel) Wait() {
	<-c.done
}

func (c *WebSocketChannel) Post(payload []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return ErrChannelClosed
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Subscribe starts the read loop. The single reader goroutine preserves
// frame order.
func (c *WebSocketChannel) Subscribe(fn func(Message)) {
	c.fn = fn
	c.readOne.Do(func() {
		go c.readLoop()
	})
}

func (c *WebSocketChannel) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return
		}
		if fn := c.fn; fn != nil {
			fn(Message{Payload: data, Origin: c.origin})
		}
	}
}

func (c *WebSocketChannel) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.closeMu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

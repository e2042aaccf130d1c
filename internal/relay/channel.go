package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrChannelClosed = errors.New("relay: channel closed")

// wsChannel is the registry.Channel backed by one agent WebSocket.
// gorilla connections allow one concurrent writer, so writes are serialized.
type wsChannel struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closed  atomic.Bool
	once    sync.Once
}

func newWSChannel(id string, conn *websocket.Conn, writeTimeout time.Duration) *wsChannel {
	return &wsChannel{id: id, conn: conn, writeTimeout: writeTimeout}
}

func (c *wsChannel) Send(v any) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := c.conn.WriteJSON(v)
	c.writeMu.Unlock()
	if err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) Open() bool {
	return !c.closed.Load()
}

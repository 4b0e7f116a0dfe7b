package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bt-bridge/realtime-interpreter/protocol"
	"github.com/bt-bridge/realtime-interpreter/session"
)

const writeTimeout = 10 * time.Second

// wsChannel adapts a websocket connection to the orchestrator's client
// channel. Writes are serialized; the orchestrator is the only sender.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ session.ClientChannel = (*wsChannel)(nil)

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

func (c *wsChannel) SendJSON(msg protocol.ServerMessage) error {
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("on marshaling %s: %w", msg.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("on writing %s: %w", msg.Type, err)
	}
	return nil
}

func (c *wsChannel) SendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}
